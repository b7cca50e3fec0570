// Package migrations embeds the golang-migrate SQL migration files used by
// the Postgres control plane backend. The SQLite backend instead relies on
// GORM AutoMigrate (see pkg/controlplane/store/gorm.go) — the single-node
// default doesn't need a versioned migration history.
package migrations

import "embed"

// FS holds the embedded *.up.sql/*.down.sql migration files.
//
//go:embed *.sql
var FS embed.FS
