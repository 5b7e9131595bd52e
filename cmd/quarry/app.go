package main

import (
	"fmt"
	"os"

	"quarry/internal/analytics"
	"quarry/internal/answer"
	"quarry/internal/config"
	"quarry/internal/embedding"
	"quarry/internal/ingest"
	"quarry/internal/llm"
	"quarry/internal/logging"
	"quarry/internal/retrieval"
	"quarry/internal/scrape"
	"quarry/internal/search"
	"quarry/internal/store"
)

// app bundles the wired services behind the CLI commands.
type app struct {
	manager  *config.Manager
	st       *store.Store
	llm      llm.Client
	embedder embedding.Engine
	brave    *search.BraveClient
	orch     *answer.Orchestrator
	docs     *ingest.Service
}

// buildApp wires the full service stack from settings. Optional pieces
// (embeddings, analytics) degrade to nil rather than failing startup.
func buildApp(cfg *config.Settings) (*app, error) {
	if wd, err := os.Getwd(); err == nil {
		if err := logging.Initialize(wd); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: logging unavailable: %v\n", err)
		}
	}

	manager := config.NewManager(cfg, configPath)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	client, err := llm.New(cfg.LLM)
	if err != nil {
		st.Close()
		return nil, err
	}

	embedder, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		logging.Boot("embedding unavailable, keyword retrieval only: %v", err)
		embedder = nil
	}

	brave := search.NewBraveClient(cfg.BraveAPIKey, cfg.MaxSearchResults, cfg.GetRequestTimeout())
	scraper := scrape.NewScraper(cfg.GetRequestTimeout())

	docsRet := retrieval.NewDocumentRetriever(st, embedder, manager)
	webRet := retrieval.NewWebRetriever(brave, scraper, st, embedder, manager)

	var catalog *analytics.Catalog
	var executor *analytics.Executor
	var ingestor *analytics.Ingestor
	if cfg.EnableTabularAnalytics {
		catalog, err = analytics.NewCatalog(st.DB())
		if err != nil {
			logging.AnalyticsWarn("tabular analytics unavailable: %v", err)
			catalog = nil
		} else {
			executor = analytics.NewExecutor(st.DB(), catalog)
			ingestor = analytics.NewIngestor(st.DB(), catalog)
		}
	}

	return &app{
		manager:  manager,
		st:       st,
		llm:      client,
		embedder: embedder,
		brave:    brave,
		orch:     answer.NewOrchestrator(manager, client, st, docsRet, webRet, catalog, executor),
		docs:     ingest.NewService(st, embedder, manager, ingestor, catalog),
	}, nil
}

func (a *app) Close() {
	a.st.Close()
	logging.CloseAll()
}
