// Package migrations embeds the goose SQL migration files for the
// progression consumer's durable tables.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
