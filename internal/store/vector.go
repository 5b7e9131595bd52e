package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"quarry/internal/logging"
)

// VectorEntry is one embedded unit of content (a document chunk or an
// archived page) keyed by a stable identifier so upserts are idempotent.
type VectorEntry struct {
	ID         string
	DocumentID string
	Content    string
	Metadata   string
	Embedding  []float32
}

// VectorHit is a recall result with its similarity score.
type VectorHit struct {
	VectorEntry
	Score float64
}

// UpsertVector stores or replaces an embedded entry.
func (s *Store) UpsertVector(ctx context.Context, entry VectorEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO vectors (id, document_id, content, metadata, embedding)
		VALUES (?, ?, ?, ?, ?)`,
		entry.ID, nullIfEmpty(entry.DocumentID), entry.Content, nullIfEmpty(entry.Metadata),
		encodeEmbedding(entry.Embedding))
	if err != nil {
		return fmt.Errorf("failed to upsert vector %s: %w", entry.ID, err)
	}
	return nil
}

// DeleteVectorsByDocument removes every entry of one document.
func (s *Store) DeleteVectorsByDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM vectors WHERE document_id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	return nil
}

// SearchVectors ranks stored entries by cosine similarity to the query
// embedding, optionally restricted to a document id set.
func (s *Store) SearchVectors(ctx context.Context, queryEmbedding []float32, documentIDs []string, topK int) ([]VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sqlText := `SELECT id, document_id, content, metadata, embedding FROM vectors`
	var args []any
	if len(documentIDs) > 0 {
		sqlText += ` WHERE document_id IN (` + placeholders(len(documentIDs)) + `)`
		for _, id := range documentIDs {
			args = append(args, id)
		}
	}

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("vector scan failed: %w", err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var entry VectorEntry
		var docID, metadata sql.NullString
		var blob []byte
		if err := rows.Scan(&entry.ID, &docID, &entry.Content, &metadata, &blob); err != nil {
			return nil, err
		}
		entry.DocumentID = docID.String
		entry.Metadata = metadata.String
		entry.Embedding = decodeEmbedding(blob)
		if len(entry.Embedding) == 0 {
			continue
		}
		score := CosineSimilarity(queryEmbedding, entry.Embedding)
		hits = append(hits, VectorHit{VectorEntry: entry, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	logging.StoreDebug("vector recall returned %d hit(s)", len(hits))
	return hits, nil
}

// SearchVectorsKeyword is the degraded recall path when no embedding
// engine is configured: LIKE matching over the stored content.
func (s *Store) SearchVectorsKeyword(ctx context.Context, query string, documentIDs []string, topK int) ([]VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := TokenizeQuery(query)
	conds := make([]string, len(tokens))
	var args []any
	for i, tok := range tokens {
		conds[i] = "LOWER(content) LIKE ?"
		args = append(args, "%"+strings.ToLower(tok)+"%")
	}
	sqlText := `SELECT id, document_id, content, metadata, embedding FROM vectors
		WHERE (` + strings.Join(conds, " OR ") + `)`
	if len(documentIDs) > 0 {
		sqlText += ` AND document_id IN (` + placeholders(len(documentIDs)) + `)`
		for _, id := range documentIDs {
			args = append(args, id)
		}
	}
	sqlText += ` LIMIT ?`
	args = append(args, topK)

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword vector recall failed: %w", err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var entry VectorEntry
		var docID, metadata sql.NullString
		var blob []byte
		if err := rows.Scan(&entry.ID, &docID, &entry.Content, &metadata, &blob); err != nil {
			return nil, err
		}
		entry.DocumentID = docID.String
		entry.Metadata = metadata.String
		hits = append(hits, VectorHit{VectorEntry: entry})
	}
	return hits, rows.Err()
}

// CosineSimilarity computes the cosine of the angle between two vectors;
// 0 when either is zero-length or the dimensions differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// encodeEmbedding serializes a vector as little-endian float32, the
// layout sqlite-vec expects.
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}

func decodeEmbedding(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	out := make([]float32, len(blob)/4)
	_ = binary.Read(bytes.NewReader(blob), binary.LittleEndian, &out)
	return out
}
