// Package migrations carries the embedded goose SQL migrations for the
// ration distribution schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
