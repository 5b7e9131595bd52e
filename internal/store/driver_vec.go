//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// CGo driver with the sqlite-vec extension compiled in. Build with
// -tags sqlite_vec to enable vec0 virtual tables.
const driverName = "sqlite3"

func init() {
	vec.Auto()
}
