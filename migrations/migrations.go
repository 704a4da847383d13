// Package migrations embeds the SQL applied by migrate.ApplyPostgres.
package migrations

import "embed"

//go:embed postgres/*.up.sql
var Postgres embed.FS
