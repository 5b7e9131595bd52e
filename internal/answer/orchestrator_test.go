package answer

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quarry/internal/analytics"
	"quarry/internal/config"
	"quarry/internal/retrieval"
	"quarry/internal/scrape"
	"quarry/internal/search"
	"quarry/internal/store"
	"quarry/internal/types"
)

// fakeLLM scripts completions and streams for orchestrator tests.
type fakeLLM struct {
	completeFn    func(system, user string, temp float64) (string, error)
	completeCalls atomic.Int32
	streamDeltas  []string
	streamErr     error
}

func (f *fakeLLM) Complete(_ context.Context, system, user string, temp float64) (string, error) {
	f.completeCalls.Add(1)
	if f.completeFn == nil {
		return "", nil
	}
	return f.completeFn(system, user, temp)
}

func (f *fakeLLM) Stream(_ context.Context, _, _ string, _ float64) (<-chan string, <-chan error) {
	contentChan := make(chan string, len(f.streamDeltas))
	errorChan := make(chan error, 1)
	for _, d := range f.streamDeltas {
		contentChan <- d
	}
	close(contentChan)
	if f.streamErr != nil {
		errorChan <- f.streamErr
	}
	close(errorChan)
	return contentChan, errorChan
}

func (f *fakeLLM) Model() string { return "fake" }

type fixture struct {
	st   *store.Store
	orch *Orchestrator
	llm  *fakeLLM
}

func newFixture(t *testing.T, withAnalytics bool) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	manager := config.NewManager(config.DefaultSettings(), "")
	client := &fakeLLM{}

	docs := retrieval.NewDocumentRetriever(st, nil, manager)
	web := retrieval.NewWebRetriever(
		search.NewBraveClient("", 3, time.Second), scrape.NewScraper(time.Second), st, nil, manager)

	var catalog *analytics.Catalog
	var executor *analytics.Executor
	if withAnalytics {
		catalog, err = analytics.NewCatalog(st.DB())
		require.NoError(t, err)
		executor = analytics.NewExecutor(st.DB(), catalog)
	}

	return &fixture{
		st:   st,
		orch: NewOrchestrator(manager, client, st, docs, web, catalog, executor),
		llm:  client,
	}
}

func (f *fixture) seedDocument(t *testing.T, id, filename string, chunks []string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.st.CreateDocument(ctx, &types.Document{
		ID: id, Filename: filename, DocType: types.DocTypeXLSX, SizeBytes: 1,
	}))
	set := make([]types.DocumentChunk, len(chunks))
	for i, content := range chunks {
		set[i] = types.DocumentChunk{
			ID: id + "-" + string(rune('a'+i)), DocumentID: id, ChunkIndex: i, Content: content,
		}
	}
	require.NoError(t, f.st.SaveChunks(ctx, set))
	require.NoError(t, f.st.UpdateDocumentStatus(ctx, id, types.StatusReady, ""))
}

func TestAnalyticsPathWins(t *testing.T) {
	f := newFixture(t, true)
	f.seedDocument(t, "doc-1", "customers.xlsx", []string{"Row 1: Name=Ada\nRow 2: Name=Ben"})

	ing := analytics.NewIngestor(f.st.DB(), f.orch.catalog)
	require.NoError(t, ing.IngestWorkbook(context.Background(), "doc-1", &types.Workbook{
		Sheets: []types.Sheet{{
			Name:    "Customers",
			Headers: []string{"Name"},
			Rows:    [][]string{{"Ada"}, {"Ben"}},
		}},
	}))

	f.llm.completeFn = func(system, user string, temp float64) (string, error) {
		assert.Contains(t, system, "deterministic analytics planner")
		assert.Contains(t, system, "- Name (type: string)")
		assert.Equal(t, 0.0, temp)
		return `{"document_id":"doc-1","operation":"count_rows"}`, nil
	}

	result, err := f.orch.GetAnswer(context.Background(), "how many customers are there",
		Options{IncludeDocuments: true})
	require.NoError(t, err)
	assert.Equal(t, retrieval.ModeOfflineArchive, result.Mode)
	assert.Contains(t, result.Answer, "Counted 2 rows.")
	assert.Contains(t, result.Answer, "Source: deterministic analytics")
	assert.Empty(t, result.Contexts)
}

func TestDocumentExtractionPath(t *testing.T) {
	f := newFixture(t, false)
	f.seedDocument(t, "doc-1", "customers.xlsx", []string{"Row 1: Name=Ada\nRow 2: Name=Ben"})

	f.llm.completeFn = func(system, user string, temp float64) (string, error) {
		assert.Contains(t, system, "strict information extraction engine")
		assert.Contains(t, system, "SOURCE: doc://doc-1")
		return `{"answer":"Ada","citation_url":null,"evidence_quote":"Row 1: Name=Ada"}`, nil
	}

	result, err := f.orch.GetAnswer(context.Background(), "who is in row 1",
		Options{IncludeDocuments: true})
	require.NoError(t, err)
	assert.Equal(t, retrieval.ModeOfflineArchive, result.Mode)
	assert.True(t, strings.HasPrefix(result.Answer, "Ada\n\nSource: doc://doc-1"), result.Answer)
	assert.Contains(t, result.Answer, "Evidence: Row 1: Name=Ada")
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "document", result.Sources[0].SourceType)
}

func TestCachedAnswerShortCircuitsLLM(t *testing.T) {
	f := newFixture(t, false)
	f.seedDocument(t, "doc-1", "notes.xlsx", []string{"Row 1: Country=France"})
	require.NoError(t, f.st.CacheAnswer(context.Background(),
		"customers located in France", "Ada lives in France.", "doc://doc-1", ""))

	result, err := f.orch.GetAnswer(context.Background(), "customers located in France",
		Options{IncludeDocuments: true})
	require.NoError(t, err)
	assert.Contains(t, result.Answer, "Ada lives in France.")
	assert.Contains(t, result.Answer, "Source: doc://doc-1")
	assert.Contains(t, result.Answer, "(Cached from:")
	assert.Equal(t, int32(0), f.llm.completeCalls.Load())
}

func TestOfflineCouldNotVerify(t *testing.T) {
	f := newFixture(t, false)
	f.seedDocument(t, "doc-1", "notes.xlsx", []string{"Row 1: Country=France"})

	f.llm.completeFn = func(system, user string, temp float64) (string, error) {
		return `{"answer":null,"citation_url":null,"evidence_quote":null}`, nil
	}

	result, err := f.orch.GetAnswer(context.Background(), "customers located in France",
		Options{IncludeDocuments: true})
	require.NoError(t, err)
	assert.Contains(t, result.Answer, "could not verify the answer from the offline archive")
}

func TestNoSourcesAtAll(t *testing.T) {
	f := newFixture(t, false)
	f.llm.completeFn = func(system, user string, temp float64) (string, error) {
		return `{"answer":null,"citation_url":null,"evidence_quote":null}`, nil
	}

	result, err := f.orch.GetAnswer(context.Background(), "anything", Options{})
	require.NoError(t, err)
	assert.Equal(t, retrieval.ModeLocalWeights, result.Mode)
	assert.Contains(t, result.Answer, "I do not have any sources")
	assert.Empty(t, result.Sources)
}

func collectEvents(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for e := range events {
		out = append(out, e)
	}
	return out
}

func TestStreamAnswerOrdering(t *testing.T) {
	f := newFixture(t, false)
	f.seedDocument(t, "doc-1", "notes.xlsx", []string{"Row 1: Country=France"})
	f.llm.streamDeltas = []string{"Ada ", "lives ", "in France."}

	events := collectEvents(t, f.orch.StreamAnswer(context.Background(),
		"customers located in France", "conv-1", Options{IncludeDocuments: true}))
	require.Len(t, events, 5)

	assert.Equal(t, EventMeta, events[0].Type)
	meta := events[0].Data.(MetaData)
	assert.Equal(t, retrieval.ModeOfflineArchive, meta.Mode)
	assert.Equal(t, "conv-1", meta.ConversationID)
	require.NotEmpty(t, meta.Sources)

	assert.Equal(t, EventToken, events[1].Type)
	assert.Equal(t, EventDone, events[4].Type)
	assert.Equal(t, "Ada lives in France.", events[4].Data.(DoneData).FinalText)
}

func TestStreamAnswerUnaryFallback(t *testing.T) {
	f := newFixture(t, false)
	f.seedDocument(t, "doc-1", "notes.xlsx", []string{"Row 1: Country=France"})
	f.llm.streamErr = assert.AnError
	f.llm.completeFn = func(system, user string, temp float64) (string, error) {
		return "Fallback answer.", nil
	}

	events := collectEvents(t, f.orch.StreamAnswer(context.Background(),
		"customers located in France", "conv-2", Options{IncludeDocuments: true}))
	require.Len(t, events, 3)
	assert.Equal(t, EventMeta, events[0].Type)
	assert.Equal(t, EventToken, events[1].Type)
	assert.Equal(t, "Fallback answer.", events[1].Data.(TokenData).Text)
	assert.Equal(t, "Fallback answer.", events[2].Data.(DoneData).FinalText)
}

func TestStreamAnalyticsEvents(t *testing.T) {
	f := newFixture(t, true)
	f.seedDocument(t, "doc-1", "customers.xlsx", []string{"Row 1: Name=Ada"})

	ing := analytics.NewIngestor(f.st.DB(), f.orch.catalog)
	require.NoError(t, ing.IngestWorkbook(context.Background(), "doc-1", &types.Workbook{
		Sheets: []types.Sheet{{Name: "S", Headers: []string{"Name"}, Rows: [][]string{{"Ada"}}}},
	}))
	f.llm.completeFn = func(system, user string, temp float64) (string, error) {
		return `{"document_id":"doc-1","operation":"count_rows"}`, nil
	}

	events := collectEvents(t, f.orch.StreamAnswer(context.Background(),
		"how many rows are there", "conv-3", Options{IncludeDocuments: true}))
	require.Len(t, events, 3)
	meta := events[0].Data.(MetaData)
	require.Len(t, meta.Sources, 1)
	assert.Equal(t, "analytics://tabular", meta.Sources[0].URL)
	assert.Contains(t, events[2].Data.(DoneData).FinalText, "Counted 1 rows.")
}
