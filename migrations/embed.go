// Package migrations embeds the goose SQL migrations so the migrator and
// integration tests need no files on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
