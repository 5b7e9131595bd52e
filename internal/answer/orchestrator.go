// Package answer turns a user query into a grounded answer: it routes
// aggregation queries to the deterministic analytics engine, gathers
// web, archive and document context for everything else, and drives the
// LLM extraction and synthesis steps.
package answer

import (
	"context"
	"encoding/json"
	"fmt"

	"quarry/internal/analytics"
	"quarry/internal/config"
	"quarry/internal/llm"
	"quarry/internal/logging"
	"quarry/internal/retrieval"
	"quarry/internal/store"
	"quarry/internal/types"
)

// Options scope one question.
type Options struct {
	// PreferMode forces ONLINE or OFFLINE web retrieval; empty tries
	// online first with offline fallback.
	PreferMode string

	IncludeWeb       bool
	IncludeDocuments bool

	// DocumentIDs restricts document retrieval and analytics; nil means
	// all ready documents.
	DocumentIDs []string
}

// Result is a complete answer with the contexts that grounded it.
type Result struct {
	Answer   string                `json:"answer"`
	Mode     string                `json:"mode"`
	Contexts []types.SourceContext `json:"-"`
	Sources  []retrieval.Source    `json:"sources"`
}

// Orchestrator wires retrieval, analytics and the LLM together.
type Orchestrator struct {
	manager  *config.Manager
	llm      llm.Client
	store    *store.Store
	docs     *retrieval.DocumentRetriever
	web      *retrieval.WebRetriever
	catalog  *analytics.Catalog
	executor *analytics.Executor
}

// NewOrchestrator creates an orchestrator. catalog and executor may be
// nil when tabular analytics is unavailable.
func NewOrchestrator(manager *config.Manager, client llm.Client, st *store.Store,
	docs *retrieval.DocumentRetriever, web *retrieval.WebRetriever,
	catalog *analytics.Catalog, executor *analytics.Executor) *Orchestrator {
	return &Orchestrator{
		manager:  manager,
		llm:      client,
		store:    st,
		docs:     docs,
		web:      web,
		catalog:  catalog,
		executor: executor,
	}
}

// GetAnswer produces a complete answer for the query.
func (o *Orchestrator) GetAnswer(ctx context.Context, query string, opts Options) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryAnswer, "GetAnswer")
	defer timer.Stop()

	cfg := o.manager.Current()

	if opts.IncludeDocuments {
		if result := o.tryAnalytics(ctx, query, opts.DocumentIDs); result != nil {
			return o.finish(&Result{
				Answer: formatAnalyticsAnswer(result),
				Mode:   retrieval.ModeOfflineArchive,
			}, cfg), nil
		}
	}

	mode, contexts := o.gatherContexts(ctx, query, opts)

	if mode == retrieval.ModeOfflineArchive {
		if cached, err := o.store.GetCachedAnswer(ctx, query); err == nil && cached != nil {
			resp := cached.Answer + "\n\nSource: " + orDefault(cached.CitationURL, "cached answer")
			if cached.EvidenceQuote != "" {
				resp += "\nEvidence: " + cached.EvidenceQuote
			}
			resp += fmt.Sprintf("\n(Cached from: %s)", cached.Timestamp.UTC().Format("2006-01-02T15:04:05"))
			return o.finish(&Result{Answer: resp, Mode: mode, Contexts: contexts}, cfg), nil
		}
	}

	if extraction := o.tryExtraction(ctx, query, contexts); extraction != nil && extraction.Answer != "" {
		cite := extraction.CitationURL
		if cite == "" && len(contexts) > 0 {
			cite = contexts[0].URL
		}
		resp := extraction.Answer + "\n\nSource: " + orDefault(cite, "extracted from context")
		if extraction.EvidenceQuote != "" {
			resp += "\nEvidence: " + extraction.EvidenceQuote
		}
		if mode == retrieval.ModeOnline {
			o.cacheAnswer(ctx, query, extraction.Answer, cite, extraction.EvidenceQuote)
		}
		return o.finish(&Result{Answer: resp, Mode: mode, Contexts: contexts}, cfg), nil
	}

	// Without a verified extraction, offline modes refuse rather than
	// synthesize from thin context.
	switch mode {
	case retrieval.ModeOfflineArchive:
		return o.finish(&Result{
			Answer: "I could not verify the answer from the offline archive. Please try online mode or add a relevant source.",
			Mode:   mode, Contexts: contexts,
		}, cfg), nil
	case retrieval.ModeLocalWeights:
		return o.finish(&Result{
			Answer: "I do not have any sources to answer this question. Please try online mode or add sources to the archive.",
			Mode:   mode, Contexts: contexts,
		}, cfg), nil
	}

	response, err := o.llm.Complete(ctx, answerPrompt(mode, contexts, opts.IncludeDocuments), query, 0.2)
	if err != nil {
		return nil, fmt.Errorf("answer synthesis failed: %w", err)
	}
	if response != "" && mode == retrieval.ModeOnline {
		cite := ""
		if len(contexts) > 0 {
			cite = contexts[0].URL
		}
		o.cacheAnswer(ctx, query, response, cite, "")
	}
	return o.finish(&Result{Answer: response, Mode: mode, Contexts: contexts}, cfg), nil
}

func (o *Orchestrator) finish(r *Result, cfg config.Settings) *Result {
	r.Sources = retrieval.ContextsToSources(r.Contexts, r.Mode, cfg.OfflineRetrievalMode)
	return r
}

// gatherContexts collects web and document context per the options and
// allocates the context budget. An empty harvest collapses to
// LOCAL_WEIGHTS with a single fallback context.
func (o *Orchestrator) gatherContexts(ctx context.Context, query string, opts Options) (string, []types.SourceContext) {
	cfg := o.manager.Current()
	mode := retrieval.ModeLocalWeights
	var webCtx, docCtx []types.SourceContext

	if opts.IncludeWeb {
		switch opts.PreferMode {
		case "OFFLINE":
			if c := o.web.GetOfflineContext(ctx, query); len(c) > 0 {
				mode, webCtx = retrieval.ModeOfflineArchive, c
			}
		case "ONLINE":
			if c := o.web.GetOnlineContext(ctx, query); len(c) > 0 {
				mode, webCtx = retrieval.ModeOnline, c
			}
		default:
			if c := o.web.GetOnlineContext(ctx, query); len(c) > 0 {
				mode, webCtx = retrieval.ModeOnline, c
			} else if c := o.web.GetOfflineContext(ctx, query); len(c) > 0 {
				mode, webCtx = retrieval.ModeOfflineArchive, c
			}
		}
	}

	if opts.IncludeDocuments {
		intent := retrieval.DetectQueryIntent(query)
		docCtx = o.docs.GetDocumentContext(ctx, query, opts.DocumentIDs, intent)
		if len(docCtx) > 0 && (!opts.IncludeWeb || mode == retrieval.ModeLocalWeights) {
			mode = retrieval.ModeOfflineArchive
		}
	}

	all := retrieval.AllocateBudget(webCtx, docCtx, cfg)
	if len(all) == 0 {
		return retrieval.ModeLocalWeights, []types.SourceContext{retrieval.FallbackContext()}
	}
	return mode, all
}

// extraction is the strict JSON extraction payload.
type extraction struct {
	Answer        string `json:"answer"`
	CitationURL   string `json:"citation_url"`
	EvidenceQuote string `json:"evidence_quote"`
}

func (o *Orchestrator) tryExtraction(ctx context.Context, query string, contexts []types.SourceContext) *extraction {
	payload, err := llm.CompleteJSON(ctx, o.llm, extractionPrompt(contexts), query)
	if err != nil {
		logging.AnswerDebug("extraction failed: %v", err)
		return nil
	}
	var e extraction
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		logging.AnswerDebug("bad extraction payload: %v", err)
		return nil
	}
	return &e
}

func (o *Orchestrator) cacheAnswer(ctx context.Context, query, answer, cite, evidence string) {
	if err := o.store.CacheAnswer(ctx, query, answer, cite, evidence); err != nil {
		logging.AnswerWarn("failed to cache answer: %v", err)
	}
}

// tryAnalytics runs the deterministic path: route, plan per candidate
// document, validate, execute. The first document whose plan executes
// wins; any failure falls back to RAG retrieval.
func (o *Orchestrator) tryAnalytics(ctx context.Context, query string, docIDs []string) *analytics.Result {
	cfg := o.manager.Current()
	if !cfg.EnableTabularAnalytics || o.executor == nil || o.catalog == nil {
		return nil
	}

	decision := analytics.Route(query)
	if !decision.UseAnalytics {
		return nil
	}
	logging.Analytics("analytics routed: %s", decision.Reason)

	effective := docIDs
	if len(effective) == 0 {
		ids, err := o.catalog.ListAllDocumentIDs(ctx)
		if err != nil {
			logging.AnalyticsWarn("failed to list analytics documents: %v", err)
			return nil
		}
		effective = ids
	}

	for _, docID := range effective {
		plan, err := o.generatePlan(ctx, query, docID)
		if err != nil {
			logging.AnalyticsWarn("plan generation failed for %s: %v", docID, err)
			continue
		}
		if plan == nil {
			continue
		}
		result, err := o.executor.Execute(ctx, plan)
		if err != nil {
			logging.AnalyticsWarn("analytics execution failed for %s: %v", docID, err)
			continue
		}
		return result
	}
	return nil
}

// generatePlan asks the LLM for a JSON plan against one document's
// registered columns. nil plan (no error) means the document has no
// analytics metadata.
func (o *Orchestrator) generatePlan(ctx context.Context, query, documentID string) (*analytics.Plan, error) {
	sheet, err := o.catalog.ResolveSheetName(ctx, documentID, "")
	if err != nil {
		return nil, nil
	}
	cols, err := o.catalog.GetColumns(ctx, documentID, sheet)
	if err != nil {
		return nil, nil
	}

	visible := analytics.VisibleColumns(cols)
	names := make([]string, len(visible))
	colTypes := make(map[string]string, len(visible))
	for i, c := range visible {
		names[i] = c.Original
		colTypes[c.Original] = string(c.LogicalType)
	}

	payload, err := llm.CompleteJSON(ctx, o.llm, plannerSystemPrompt(documentID, names, colTypes), query)
	if err != nil {
		return nil, err
	}
	var plan analytics.Plan
	if err := json.Unmarshal([]byte(payload), &plan); err != nil {
		return nil, fmt.Errorf("invalid plan JSON: %w", err)
	}
	if plan.DocumentID == "" {
		plan.DocumentID = documentID
	}
	return &plan, nil
}

func formatAnalyticsAnswer(r *analytics.Result) string {
	data, _ := json.Marshal(r.Data)
	return fmt.Sprintf("%s\n\n**Data:** %s\n\nSource: deterministic analytics", r.Summary, string(data))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
