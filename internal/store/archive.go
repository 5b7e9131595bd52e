package store

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"quarry/internal/logging"
	"quarry/internal/types"
)

// HashURL returns the MD5 hex digest used as the archive page key.
func HashURL(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

// SavePage archives a scraped page and records the query that found it.
// Both writes happen in one transaction: the page insert is idempotent
// (first content wins), the history row is append-only.
func (s *Store) SavePage(ctx context.Context, query, url, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	hash := HashURL(url)
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO pages (url_hash, url, content) VALUES (?, ?, ?)`,
		hash, url, content); err != nil {
		return fmt.Errorf("failed to insert page: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO search_history (query, url_hash) VALUES (?, ?)`,
		strings.ToLower(query), hash); err != nil {
		return fmt.Errorf("failed to insert search history: %w", err)
	}
	return tx.Commit()
}

// SearchOffline recalls archived pages by keyword: the query matches
// either a prior search or the page content, most recent first.
func (s *Store) SearchOffline(ctx context.Context, query string, limit int) ([]types.ArchivedPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	like := "%" + strings.ToLower(query) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.url_hash, p.url, p.content, p.timestamp
		FROM pages p
		JOIN search_history s ON s.url_hash = p.url_hash
		WHERE s.query LIKE ? OR p.content LIKE ?
		GROUP BY p.url_hash
		ORDER BY MAX(s.timestamp) DESC
		LIMIT ?`, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("offline search failed: %w", err)
	}
	defer rows.Close()

	var pages []types.ArchivedPage
	for rows.Next() {
		var p types.ArchivedPage
		if err := rows.Scan(&p.URLHash, &p.URL, &p.Content, &p.Timestamp); err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// normalizeAnswerKey lower-cases and trims a query for answer caching.
func normalizeAnswerKey(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// CacheAnswer stores an answer keyed by the normalized query; last
// write wins.
func (s *Store) CacheAnswer(ctx context.Context, query, answer, citationURL, evidenceQuote string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO answers (query, answer, citation_url, evidence_quote, timestamp)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		normalizeAnswerKey(query), answer, citationURL, evidenceQuote)
	if err != nil {
		return fmt.Errorf("failed to cache answer: %w", err)
	}
	logging.StoreDebug("cached answer for %q", normalizeAnswerKey(query))
	return nil
}

// GetCachedAnswer looks up a cached answer by normalized query; nil when
// absent.
func (s *Store) GetCachedAnswer(ctx context.Context, query string) (*types.CachedAnswer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var a types.CachedAnswer
	var citation, evidence sql.NullString
	var ts time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT query, answer, citation_url, evidence_quote, timestamp
		FROM answers WHERE query = ?`, normalizeAnswerKey(query)).
		Scan(&a.Query, &a.Answer, &citation, &evidence, &ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cached answer: %w", err)
	}
	a.CitationURL = citation.String
	a.EvidenceQuote = evidence.String
	a.Timestamp = ts
	return &a, nil
}
