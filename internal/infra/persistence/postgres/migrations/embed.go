// Package migrations embeds the Postgres schema for the stage store.
package migrations

import "embed"

// FS contains embedded Postgres migrations.
//
//go:embed *.sql
var FS embed.FS
