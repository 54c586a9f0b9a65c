//go:build cgo

package cli

import _ "github.com/mattn/go-sqlite3"
