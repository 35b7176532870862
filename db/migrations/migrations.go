// Package migrations embeds the SQL schema migrations for the order store.
package migrations

import "embed"

// FS holds the up and down migrations.
//
//go:embed *.sql
var FS embed.FS
