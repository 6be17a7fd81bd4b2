package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/solatis/aem/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect advertiser rules",
}

var rulesEvalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate a rule against event parameters",
	Long: `Evaluate a JSON rule against a JSON parameter object and print whether
it matches. Either value may be given inline or as @path to read a file.

  aem rules eval --rule '{"fb_currency":{"eq":"USD"}}' --params '{"fb_currency":"USD"}'`,
	RunE: runRulesEval,
}

func init() {
	rulesEvalCmd.Flags().String("rule", "", "rule JSON or @file")
	rulesEvalCmd.Flags().String("params", "{}", "parameter JSON object or @file")
	_ = rulesEvalCmd.MarkFlagRequired("rule")
	rulesCmd.AddCommand(rulesEvalCmd)
	rootCmd.AddCommand(rulesCmd)
}

// readArg returns the flag value, or the contents of the named file for "@path".
func readArg(value string) ([]byte, error) {
	if path, ok := strings.CutPrefix(value, "@"); ok {
		return os.ReadFile(path)
	}
	return []byte(value), nil
}

func runRulesEval(cmd *cobra.Command, args []string) error {
	ruleArg, _ := cmd.Flags().GetString("rule")
	paramsArg, _ := cmd.Flags().GetString("params")

	ruleJSON, err := readArg(ruleArg)
	if err != nil {
		return fmt.Errorf("failed to read rule: %w", err)
	}
	expr, err := rules.Parse(ruleJSON)
	if err != nil {
		return err
	}

	paramsJSON, err := readArg(paramsArg)
	if err != nil {
		return fmt.Errorf("failed to read params: %w", err)
	}
	var params map[string]any
	if err := json.Unmarshal(paramsJSON, &params); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}

	normalized, err := rules.Marshal(expr)
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]any{
		"rule":    json.RawMessage(normalized),
		"matched": rules.Evaluate(expr, params),
	})
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
