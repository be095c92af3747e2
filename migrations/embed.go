// Package migrations holds the numbered SQL files for the local database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
