//go:build !(sqlite_vec && cgo)

package store

import _ "modernc.org/sqlite"

// Pure-Go driver. The vec0 probe fails here and semantic search runs
// in-process over stored embeddings.
const driverName = "sqlite"
