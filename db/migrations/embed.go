// Package dbmigrations exposes embedded SQL migrations for cntrade binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into cntrade binaries.
//
//go:embed *.sql
var Files embed.FS
