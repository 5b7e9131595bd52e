// Package store implements the shared SQLite knowledge store: archived
// web pages, cached answers, uploaded documents with their chunks, and
// the embedding vectors used for semantic recall.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"quarry/internal/logging"
)

// Store wraps the process-wide SQLite handle. WAL journaling lets
// readers run during writes; writers serialize via transactions.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string

	vecAvailable bool
}

// Open initializes the SQLite database at the given path and creates
// the schema. Pass ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite handles one writer at a time; a single pooled connection
	// keeps the in-memory database coherent as well.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			logging.StoreDebug("pragma failed (continuing): %s: %v", pragma, err)
		}
	}

	if err := s.runMigrations(); err != nil {
		return err
	}

	s.vecAvailable = s.probeVec()
	if s.vecAvailable {
		logging.Store("sqlite-vec extension available")
	} else {
		logging.StoreDebug("sqlite-vec unavailable, semantic search runs in-process")
	}
	return nil
}

// probeVec checks whether the vec0 virtual table module is loaded.
func (s *Store) probeVec() bool {
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE vec_probe USING vec0(embedding float[4])"); err != nil {
		return false
	}
	_, _ = s.db.Exec("DROP TABLE vec_probe")
	return true
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pages (
		url_hash TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS search_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		url_hash TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS answers (
		query TEXT PRIMARY KEY,
		answer TEXT NOT NULL,
		citation_url TEXT,
		evidence_quote TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		document_id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		doc_type TEXT NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		uploaded_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		error_message TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS document_chunks (
		chunk_id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(document_id),
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		meta_json TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(document_id, chunk_index)
	)`,
	`CREATE TABLE IF NOT EXISTS vectors (
		id TEXT PRIMARY KEY,
		document_id TEXT,
		content TEXT NOT NULL,
		metadata TEXT,
		embedding BLOB,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_search_history_hash ON search_history(url_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_search_history_query ON search_history(query)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_document ON document_chunks(document_id)`,
	`CREATE INDEX IF NOT EXISTS idx_vectors_document ON vectors(document_id)`,
}

func (s *Store) runMigrations() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	for _, stmt := range indexes {
		// Index creation is non-fatal; queries just run unindexed.
		if _, err := s.db.Exec(stmt); err != nil {
			logging.StoreDebug("index creation failed: %v", err)
		}
	}
	return nil
}

// DB exposes the shared handle for the analytics subsystem, which owns
// its own catalog tables on the same database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// VecAvailable reports whether the vec0 extension loaded.
func (s *Store) VecAvailable() bool {
	return s.vecAvailable
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Stats summarizes store contents, mainly for the health endpoint.
type Stats struct {
	Pages     int `json:"pages"`
	Answers   int `json:"answers"`
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
	Vectors   int `json:"vectors"`
}

// GetStats counts the main tables.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}
	counts := []struct {
		table string
		dst   *int
	}{
		{"pages", &stats.Pages},
		{"answers", &stats.Answers},
		{"documents", &stats.Documents},
		{"document_chunks", &stats.Chunks},
		{"vectors", &stats.Vectors},
	}
	for _, c := range counts {
		if err := s.db.QueryRow("SELECT COUNT(1) FROM " + c.table).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}
	return stats, nil
}
