// Package migrations embeds SQL migration files.
package migrations

import "embed"

// DirectoryFS contains the migrations for the Postgres user directory.
//
//go:embed directory/*.sql
var DirectoryFS embed.FS

// DirectoryDir is the directory within DirectoryFS where migrations live.
const DirectoryDir = "directory"
