package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"quarry/internal/logging"
	"quarry/internal/types"
)

// stopWords are dropped by the keyword tokenizer.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"if": true, "then": true, "else": true, "when": true, "at": true,
	"by": true, "for": true, "with": true, "about": true, "against": true,
	"between": true, "into": true, "through": true, "during": true,
	"before": true, "after": true, "above": true, "below": true, "to": true,
	"from": true, "up": true, "down": true, "in": true, "out": true,
	"on": true, "off": true, "over": true, "under": true, "again": true,
	"further": true, "once": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "being": true, "have": true,
	"has": true, "had": true, "do": true, "does": true, "did": true,
	"what": true, "which": true, "who": true, "whom": true, "this": true,
	"that": true, "these": true, "those": true, "of": true, "it": true,
	"its": true, "me": true, "my": true, "show": true, "tell": true,
}

// TokenizeQuery keeps at most ten informative tokens: longer than two
// characters and not a stopword. An empty result falls back to the raw
// query.
func TokenizeQuery(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	var tokens []string
	for _, f := range fields {
		if len(f) <= 2 || stopWords[f] {
			continue
		}
		tokens = append(tokens, f)
		if len(tokens) == 10 {
			break
		}
	}
	if len(tokens) == 0 {
		return []string{query}
	}
	return tokens
}

// CreateDocument inserts a new document record in status pending.
func (s *Store) CreateDocument(ctx context.Context, doc *types.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (document_id, filename, doc_type, size_bytes, status)
		VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.DocType, doc.SizeBytes, types.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// UpdateDocumentStatus transitions a document's lifecycle status.
func (s *Store) UpdateDocumentStatus(ctx context.Context, documentID, status, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error_message = ? WHERE document_id = ?`,
		status, nullIfEmpty(errorMessage), documentID)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	logging.StoreDebug("document %s -> %s", documentID, status)
	return nil
}

// GetDocument loads one document; nil when absent.
func (s *Store) GetDocument(ctx context.Context, documentID string) (*types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT document_id, filename, doc_type, size_bytes, status, uploaded_at, error_message
		FROM documents WHERE document_id = ?`, documentID)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return doc, err
}

// ListDocuments returns all documents, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, filename, doc_type, size_bytes, status, uploaded_at, error_message
		FROM documents ORDER BY uploaded_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []types.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes the document and its chunks in one transaction.
// Vector and analytics cleanup are the caller's responsibility.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM document_chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return tx.Commit()
}

// SaveChunks persists a document's chunk set in one transaction.
func (s *Store) SaveChunks(ctx context.Context, chunks []types.DocumentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO document_chunks (chunk_id, document_id, chunk_index, content, meta_json)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		meta, err := json.Marshal(chunk.Meta)
		if err != nil {
			return fmt.Errorf("failed to marshal chunk meta: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			chunk.ID, chunk.DocumentID, chunk.ChunkIndex, chunk.Content, string(meta)); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", chunk.ID, err)
		}
	}
	return tx.Commit()
}

// SearchChunks performs keyword retrieval over ready documents: any
// token matching the content includes the chunk (OR semantics).
func (s *Store) SearchChunks(ctx context.Context, query string, documentIDs []string, limit int) ([]types.DocumentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := TokenizeQuery(query)
	conds := make([]string, len(tokens))
	args := []any{}
	for i, tok := range tokens {
		conds[i] = "LOWER(dc.content) LIKE ?"
		args = append(args, "%"+strings.ToLower(tok)+"%")
	}

	sqlText := `
		SELECT dc.chunk_id, dc.document_id, dc.chunk_index, dc.content, dc.meta_json, dc.timestamp, d.filename
		FROM document_chunks dc
		JOIN documents d ON d.document_id = dc.document_id
		WHERE (` + strings.Join(conds, " OR ") + `)`
	if len(documentIDs) > 0 {
		sqlText += ` AND dc.document_id IN (` + placeholders(len(documentIDs)) + `)`
		for _, id := range documentIDs {
			args = append(args, id)
		}
	} else {
		sqlText += ` AND d.status = 'ready'`
	}
	sqlText += ` ORDER BY dc.document_id, dc.chunk_index ASC LIMIT ?`
	args = append(args, limit)

	return s.queryChunks(ctx, sqlText, args...)
}

// SearchChunksByTerms finds chunks containing any literal term
// (case-sensitive), used for targeted Column=Value and row lookups.
func (s *Store) SearchChunksByTerms(ctx context.Context, terms []string, documentIDs []string, limit int) ([]types.DocumentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(terms) == 0 {
		return nil, nil
	}
	conds := make([]string, len(terms))
	args := []any{}
	for i, term := range terms {
		conds[i] = "dc.content LIKE ?"
		args = append(args, "%"+term+"%")
	}

	sqlText := `
		SELECT dc.chunk_id, dc.document_id, dc.chunk_index, dc.content, dc.meta_json, dc.timestamp, d.filename
		FROM document_chunks dc
		JOIN documents d ON d.document_id = dc.document_id
		WHERE (` + strings.Join(conds, " OR ") + `)`
	if len(documentIDs) > 0 {
		sqlText += ` AND dc.document_id IN (` + placeholders(len(documentIDs)) + `)`
		for _, id := range documentIDs {
			args = append(args, id)
		}
	} else {
		sqlText += ` AND d.status = 'ready'`
	}
	sqlText += ` ORDER BY dc.document_id, dc.chunk_index ASC LIMIT ?`
	args = append(args, limit)

	return s.queryChunks(ctx, sqlText, args...)
}

// SearchChunksByFilename matches documents whose filename contains the
// pattern. With lastChunks, chunks come back in descending index order
// so the tail of the document is first.
func (s *Store) SearchChunksByFilename(ctx context.Context, pattern string, lastChunks bool, limit int) ([]types.DocumentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order := "ASC"
	if lastChunks {
		order = "DESC"
	}
	sqlText := `
		SELECT dc.chunk_id, dc.document_id, dc.chunk_index, dc.content, dc.meta_json, dc.timestamp, d.filename
		FROM document_chunks dc
		JOIN documents d ON d.document_id = dc.document_id
		WHERE LOWER(d.filename) LIKE ? AND d.status = 'ready'
		ORDER BY dc.chunk_index ` + order + ` LIMIT ?`
	return s.queryChunks(ctx, sqlText, "%"+strings.ToLower(pattern)+"%", limit)
}

func (s *Store) queryChunks(ctx context.Context, sqlText string, args ...any) ([]types.DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("chunk query failed: %w", err)
	}
	defer rows.Close()

	var chunks []types.DocumentChunk
	for rows.Next() {
		var c types.DocumentChunk
		var meta sql.NullString
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &meta, &c.Timestamp, &c.Filename); err != nil {
			return nil, err
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &c.Meta); err != nil {
				logging.StoreDebug("bad chunk meta for %s: %v", c.ID, err)
			}
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func scanDocument(row interface{ Scan(...any) error }) (*types.Document, error) {
	var doc types.Document
	var errMsg sql.NullString
	if err := row.Scan(&doc.ID, &doc.Filename, &doc.DocType, &doc.SizeBytes,
		&doc.Status, &doc.UploadedAt, &errMsg); err != nil {
		return nil, err
	}
	doc.ErrorMessage = errMsg.String
	return &doc, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
