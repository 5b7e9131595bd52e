package retrieval

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"quarry/internal/config"
	"quarry/internal/embedding"
	"quarry/internal/logging"
	"quarry/internal/scrape"
	"quarry/internal/search"
	"quarry/internal/store"
	"quarry/internal/types"
)

// WebRetriever gathers context from the live web and archives every
// fetched page for later offline recall.
type WebRetriever struct {
	brave    *search.BraveClient
	scraper  *scrape.Scraper
	store    *store.Store
	embedder embedding.Engine
	manager  *config.Manager
}

// NewWebRetriever creates a retriever. embedder may be nil.
func NewWebRetriever(brave *search.BraveClient, scraper *scrape.Scraper, st *store.Store, embedder embedding.Engine, manager *config.Manager) *WebRetriever {
	return &WebRetriever{brave: brave, scraper: scraper, store: st, embedder: embedder, manager: manager}
}

// GetOnlineContext searches the web and scrapes the results in
// parallel. Search failure or a missing credential yields no contexts,
// never an error; the caller falls back to the archive.
func (r *WebRetriever) GetOnlineContext(ctx context.Context, query string) []types.SourceContext {
	if !r.brave.IsConfigured() {
		return nil
	}

	results, err := r.brave.Search(ctx, query, 0)
	if err != nil {
		logging.WebWarn("web search failed: %v", err)
		return nil
	}
	if len(results) == 0 {
		return nil
	}

	contexts := make([]*types.SourceContext, len(results))
	g, gctx := errgroup.WithContext(ctx)
	for i, res := range results {
		g.Go(func() error {
			contexts[i] = r.fetchSource(gctx, query, res)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]types.SourceContext, 0, len(contexts))
	for _, c := range contexts {
		if c != nil {
			out = append(out, *c)
		}
	}
	logging.Web("online retrieval: %d of %d source(s) usable", len(out), len(results))
	return out
}

// fetchSource scrapes one result with the per-request timeout, falling
// back to the search snippet. The full text is archived; the returned
// context is truncated to max_chars_per_source.
func (r *WebRetriever) fetchSource(ctx context.Context, query string, res types.SearchResult) *types.SourceContext {
	cfg := r.manager.Current()

	fetchCtx, cancel := context.WithTimeout(ctx, cfg.GetRequestTimeout())
	defer cancel()

	start := time.Now()
	text, err := r.scraper.GetCleanText(fetchCtx, res.URL)
	latency := time.Since(start)
	if err != nil {
		logging.WebWarn("scrape of %s failed: %v", res.URL, err)
	}
	if text == "" {
		snippet := search.Snippet(res)
		if snippet == "" {
			return nil
		}
		text = "SEARCH_SNIPPET:\n" + snippet
	}

	if err := r.store.SavePage(ctx, query, res.URL, text); err != nil {
		logging.WebWarn("failed to archive %s: %v", res.URL, err)
	}
	if cfg.OfflineRetrievalMode == "semantic" && r.embedder != nil {
		// Vector upsert is best-effort; archive recall still works by keyword.
		if vec, err := r.embedder.Embed(ctx, text); err == nil {
			_ = r.store.UpsertVector(ctx, store.VectorEntry{
				ID:        PageVectorPrefix + store.HashURL(res.URL),
				Content:   text,
				Metadata:  res.URL,
				Embedding: vec,
			})
		}
	}

	return &types.SourceContext{
		URL:       res.URL,
		Text:      scrape.Truncate(text, cfg.MaxCharsPerSrc),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Fresh:     true,
		LatencyMS: latency.Milliseconds(),
	}
}

// GetOfflineContext recalls archived pages, semantically when an
// embedder is configured and the mode asks for it, by keyword otherwise.
func (r *WebRetriever) GetOfflineContext(ctx context.Context, query string) []types.SourceContext {
	cfg := r.manager.Current()
	topK := cfg.WebTopK

	if cfg.OfflineRetrievalMode == "semantic" && r.embedder != nil {
		if contexts := r.semanticArchive(ctx, query, topK, cfg.MaxCharsPerSrc); contexts != nil {
			return contexts
		}
	}

	pages, err := r.store.SearchOffline(ctx, query, topK)
	if err != nil {
		logging.WebWarn("offline search failed: %v", err)
		return nil
	}
	contexts := make([]types.SourceContext, 0, len(pages))
	for _, p := range pages {
		contexts = append(contexts, types.SourceContext{
			URL:       p.URL,
			Text:      scrape.Truncate(p.Content, cfg.MaxCharsPerSrc),
			Timestamp: p.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	return contexts
}

func (r *WebRetriever) semanticArchive(ctx context.Context, query string, topK, maxChars int) []types.SourceContext {
	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		logging.WebWarn("query embedding failed, keyword recall instead: %v", err)
		return nil
	}
	hits, err := r.store.SearchVectors(ctx, queryVec, nil, topK)
	if err != nil {
		logging.WebWarn("semantic archive recall failed: %v", err)
		return nil
	}

	var contexts []types.SourceContext
	for _, h := range hits {
		if !strings.HasPrefix(h.ID, PageVectorPrefix) || h.Metadata == "" {
			continue
		}
		contexts = append(contexts, types.SourceContext{
			URL:       h.Metadata,
			Text:      scrape.Truncate(h.Content, maxChars),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
	if len(contexts) == 0 {
		return nil
	}
	return contexts
}
