package main

import (
	"os"

	"github.com/solatis/aem/cmd/aem/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
