package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"quarry/internal/config"
	"quarry/internal/embedding"
	"quarry/internal/logging"
	"quarry/internal/store"
	"quarry/internal/types"
)

// DocumentRetriever runs hybrid retrieval over uploaded documents:
// targeted column-value, filename and row lookups first, then semantic
// or keyword fallbacks, deduplicated by chunk id.
type DocumentRetriever struct {
	store    *store.Store
	embedder embedding.Engine
	manager  *config.Manager
}

// NewDocumentRetriever creates a retriever. embedder may be nil; the
// semantic path is then skipped.
func NewDocumentRetriever(st *store.Store, embedder embedding.Engine, manager *config.Manager) *DocumentRetriever {
	return &DocumentRetriever{store: st, embedder: embedder, manager: manager}
}

// collected tracks one deduplicated chunk with its retrieval class.
type collected struct {
	chunk    types.DocumentChunk
	targeted bool
}

// GetDocumentContext retrieves document contexts for the query,
// optionally restricted to a document id set.
func (r *DocumentRetriever) GetDocumentContext(ctx context.Context, query string, docIDs []string, intent QueryIntent) []types.SourceContext {
	timer := logging.StartTimer(logging.CategoryRetrieval, "GetDocumentContext")
	defer timer.Stop()

	cfg := r.manager.Current()
	seen := make(map[string]bool)
	var all []collected

	collect := func(chunks []types.DocumentChunk, targeted bool) int {
		added := 0
		for _, c := range chunks {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			all = append(all, collected{chunk: c, targeted: targeted})
			added++
		}
		return added
	}

	exactHits := 0

	if intent.ColumnValue != nil {
		term := intent.ColumnValue.ColumnName + "=" + intent.ColumnValue.Value
		chunks, err := r.store.SearchChunksByTerms(ctx, []string{term}, docIDs, 5)
		if err != nil {
			logging.RetrievalDebug("column-value search failed: %v", err)
		} else {
			exactHits += collect(chunks, true)
		}
	}

	if intent.FilenamePattern != "" {
		limit := cfg.DocKeywordTopK
		if intent.WantsLast {
			limit = 1
		}
		chunks, err := r.store.SearchChunksByFilename(ctx, intent.FilenamePattern, intent.WantsLast, limit)
		if err != nil {
			logging.RetrievalDebug("filename search failed: %v", err)
		} else {
			collect(chunks, true)
		}
	}

	if intent.Row != nil {
		terms := []string{
			fmt.Sprintf("Row %d:", intent.Row.RowNumber),
			fmt.Sprintf("Row %d", intent.Row.RowNumber),
		}
		chunks, err := r.store.SearchChunksByTerms(ctx, terms, docIDs, 5)
		if err != nil {
			logging.RetrievalDebug("row search failed: %v", err)
		} else {
			exactHits += collect(chunks, true)
		}
	}

	// Precision intents that landed should not be diluted by broad
	// semantic or keyword retrieval.
	useFallbacks := true
	if (intent.ColumnValue != nil && exactHits > 0) ||
		(intent.Row != nil && exactHits > 0) ||
		(intent.WantsLast && intent.FilenamePattern != "") {
		useFallbacks = false
	}

	if useFallbacks && cfg.OfflineRetrievalMode == "semantic" && r.embedder != nil {
		if hits := r.semanticChunks(ctx, query, docIDs, cfg.DocSemanticTopK); len(hits) > 0 {
			collect(hits, false)
		}
	}

	if useFallbacks {
		chunks, err := r.store.SearchChunks(ctx, query, docIDs, cfg.DocKeywordTopK)
		if err != nil {
			logging.RetrievalDebug("keyword search failed: %v", err)
		} else {
			collect(chunks, false)
		}
	}

	all = r.rankAndFilter(all, intent, exactHits)

	contexts := make([]types.SourceContext, 0, len(all))
	for _, item := range all {
		c := item.chunk
		content := filterContent(c.Content, intent, exactHits)
		meta := c.Meta
		loc := BuildLocationString(&meta)

		ts := c.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		contexts = append(contexts, types.SourceContext{
			URL:       DocURLPrefix + c.DocumentID,
			Text:      fmt.Sprintf("[%s] %s\n%s", c.Filename, loc, content),
			Timestamp: ts.Format(time.RFC3339),
			Filename:  c.Filename,
			Location:  loc,
			Meta:      &meta,
		})
	}
	logging.Retrieval("document retrieval: %d context(s), exact_hits=%d", len(contexts), exactHits)
	return contexts
}

// rankAndFilter orders targeted chunks first, marker-containing chunks
// next, and drops non-matching chunks entirely when an exact hit exists.
func (r *DocumentRetriever) rankAndFilter(all []collected, intent QueryIntent, exactHits int) []collected {
	switch {
	case intent.ColumnValue != nil:
		marker := strings.ToLower(intent.ColumnValue.ColumnName + "=" + intent.ColumnValue.Value)
		sort.SliceStable(all, func(i, j int) bool {
			return rankKey(all[i], func(c collected) bool {
				return strings.Contains(strings.ToLower(c.chunk.Content), marker)
			}) < rankKey(all[j], func(c collected) bool {
				return strings.Contains(strings.ToLower(c.chunk.Content), marker)
			})
		})
		if exactHits > 0 {
			all = keep(all, func(c collected) bool {
				return strings.Contains(strings.ToLower(c.chunk.Content), marker)
			})
		}
	case intent.Row != nil:
		marker := fmt.Sprintf("Row %d", intent.Row.RowNumber)
		sort.SliceStable(all, func(i, j int) bool {
			return rankKey(all[i], func(c collected) bool {
				return strings.Contains(c.chunk.Content, marker)
			}) < rankKey(all[j], func(c collected) bool {
				return strings.Contains(c.chunk.Content, marker)
			})
		})
		if exactHits > 0 {
			all = keep(all, func(c collected) bool {
				return strings.Contains(c.chunk.Content, marker+":")
			})
		}
	}
	return all
}

// rankKey orders targeted before untargeted, marker-containing before
// not: 0 best, 3 worst.
func rankKey(c collected, hasMarker func(collected) bool) int {
	key := 0
	if !c.targeted {
		key += 2
	}
	if !hasMarker(c) {
		key++
	}
	return key
}

func keep(all []collected, pred func(collected) bool) []collected {
	out := all[:0]
	for _, c := range all {
		if pred(c) {
			out = append(out, c)
		}
	}
	return out
}

// filterContent narrows chunk content to the lines the intent asked
// for: matching Header=Value lines, the addressed row, or the last row.
func filterContent(content string, intent QueryIntent, exactHits int) string {
	switch {
	case intent.ColumnValue != nil && exactHits > 0:
		marker := strings.ToLower(intent.ColumnValue.ColumnName + "=" + intent.ColumnValue.Value)
		var matching []string
		for _, line := range strings.Split(content, "\n") {
			if strings.Contains(strings.ToLower(line), marker) {
				matching = append(matching, line)
			}
		}
		if len(matching) > 0 {
			return strings.Join(matching, "\n")
		}
	case intent.Row != nil && exactHits > 0:
		prefix := fmt.Sprintf("Row %d:", intent.Row.RowNumber)
		var matching []string
		for _, line := range strings.Split(content, "\n") {
			if strings.HasPrefix(line, prefix) {
				matching = append(matching, line)
			}
		}
		if len(matching) > 0 {
			return strings.Join(matching, "\n")
		}
	case intent.WantsLast && intent.FilenamePattern != "":
		var last string
		for _, line := range strings.Split(content, "\n") {
			if strings.HasPrefix(line, "Row ") {
				last = line
			}
		}
		if last != "" {
			return last
		}
	}
	return content
}

// Vector ids are namespaced so chunk and page entries share one table.
const (
	ChunkVectorPrefix = "chunk:"
	PageVectorPrefix  = "page:"
)

// chunkVectorMeta is the metadata JSON stored alongside chunk vectors.
type chunkVectorMeta struct {
	Filename string          `json:"filename"`
	Meta     types.ChunkMeta `json:"meta"`
}

// EncodeChunkVectorMeta serializes chunk location info for vector
// storage. Used by ingestion; decoded on recall.
func EncodeChunkVectorMeta(filename string, meta types.ChunkMeta) string {
	raw, err := json.Marshal(chunkVectorMeta{Filename: filename, Meta: meta})
	if err != nil {
		return ""
	}
	return string(raw)
}

func decodeChunkMetadata(raw string, c *types.DocumentChunk) {
	if raw == "" {
		return
	}
	var m chunkVectorMeta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		logging.RetrievalDebug("bad chunk vector metadata: %v", err)
		return
	}
	c.Filename = m.Filename
	c.Meta = m.Meta
}

// semanticChunks embeds the query and recalls nearest document chunks
// from the vector store. Failures degrade to keyword retrieval.
func (r *DocumentRetriever) semanticChunks(ctx context.Context, query string, docIDs []string, topK int) []types.DocumentChunk {
	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		logging.RetrievalDebug("query embedding failed: %v", err)
		return nil
	}
	hits, err := r.store.SearchVectors(ctx, queryVec, docIDs, topK)
	if err != nil {
		logging.RetrievalDebug("semantic recall failed: %v", err)
		return nil
	}

	chunks := make([]types.DocumentChunk, 0, len(hits))
	for _, h := range hits {
		if !strings.HasPrefix(h.ID, ChunkVectorPrefix) {
			continue
		}
		c := types.DocumentChunk{
			ID:         strings.TrimPrefix(h.ID, ChunkVectorPrefix),
			DocumentID: h.DocumentID,
			Content:    h.Content,
			Timestamp:  time.Now().UTC(),
		}
		decodeChunkMetadata(h.Metadata, &c)
		chunks = append(chunks, c)
	}
	return chunks
}
