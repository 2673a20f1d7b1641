package migrations

import "embed"

// FS contains the embedded PostgreSQL schema migrations.
//
//go:embed *.sql
var FS embed.FS
