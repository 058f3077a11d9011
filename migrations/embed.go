// Package migrations embeds the SQL migration files for both supported
// dialects, so journalctl and the integration tests work regardless of
// working directory.
package migrations

import "embed"

// Postgres holds the postgres/*.sql migrations (journal_row/journal_tag_row/
// journal_metadata plus the tag-table index set).
//
//go:embed postgres/*.sql
var Postgres embed.FS

// SQLite holds the sqlite/*.sql migrations for the secondary dialect.
//
//go:embed sqlite/*.sql
var SQLite embed.FS
