package migrations

import "embed"

// Embedded schema for the durable reporter state, one directory per driver.
//
//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

//go:embed postgres/*.sql
var PostgresMigrations embed.FS
