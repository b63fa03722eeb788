// Package migrations embeds the application schema applied at API startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
