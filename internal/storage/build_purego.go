//go:build !sqlite_cgo

package storage

// Default build. The pure Go modernc.org/sqlite driver needs no C toolchain
// and cross-compiles cleanly.

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
