//go:build tools
// +build tools

// Package tools imports dependencies that are used by this project but not
// directly imported in the main codebase. This ensures they are tracked in
// go.mod.
package tools

import (
	// Migration driver (used by golang-migrate's postgres backend)
	_ "github.com/lib/pq"

	// Testing
	_ "github.com/pashagolub/pgxmock/v4"
	_ "github.com/testcontainers/testcontainers-go"
	_ "github.com/testcontainers/testcontainers-go/modules/postgres"
)
