package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"quarry/internal/analytics"
	"quarry/internal/answer"
	"quarry/internal/config"
	"quarry/internal/ingest"
	"quarry/internal/retrieval"
	"quarry/internal/scrape"
	"quarry/internal/search"
	"quarry/internal/store"
	"quarry/internal/types"
)

// fakeLLM scripts completions and streams for handler tests.
type fakeLLM struct {
	completeFn   func(system, user string, temp float64) (string, error)
	streamDeltas []string
	healthErr    error
}

func (f *fakeLLM) Complete(_ context.Context, system, user string, temp float64) (string, error) {
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
	close(errorChan)
	return contentChan, errorChan
}

func (f *fakeLLM) Model() string { return "fake" }

func (f *fakeLLM) CheckHealth(_ context.Context) error { return f.healthErr }

type serverFixture struct {
	router  http.Handler
	st      *store.Store
	llm     *fakeLLM
	manager *config.Manager
}

func newTestServer(t *testing.T) *serverFixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultSettings()
	cfg.UploadDir = t.TempDir()
	cfg.MaxUploadMB = 1
	manager := config.NewManager(cfg, "")
	client := &fakeLLM{}

	docs := retrieval.NewDocumentRetriever(st, nil, manager)
	brave := search.NewBraveClient("", 3, time.Second)
	web := retrieval.NewWebRetriever(brave, scrape.NewScraper(time.Second), st, nil, manager)

	catalog, err := analytics.NewCatalog(st.DB())
	require.NoError(t, err)
	executor := analytics.NewExecutor(st.DB(), catalog)
	ingestor := analytics.NewIngestor(st.DB(), catalog)
	svc := ingest.NewService(st, nil, manager, ingestor, catalog)

	orch := answer.NewOrchestrator(manager, client, st, docs, web, catalog, executor)
	srv := New(manager, orch, svc, st, brave, client)

	return &serverFixture{router: srv.Router(), st: st, llm: client, manager: manager}
}

func (f *serverFixture) seedDocument(t *testing.T, id, filename string, chunks []string) {
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

func (f *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func xlsxBytes(t *testing.T, headers []string, rows [][]string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &headers))
	for i, row := range rows {
		require.NoError(t, f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+2), &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func multipartFile(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestAskValidation(t *testing.T) {
	f := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/ask", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "POST", "/api/ask", map[string]any{"query": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeBody(t, rec)["code"])
}

func TestAskUnary(t *testing.T) {
	f := newTestServer(t)
	f.seedDocument(t, "doc-1", "customers.xlsx", []string{"Row 1: Name=Ada\nRow 2: Name=Ben"})
	f.llm.completeFn = func(system, user string, temp float64) (string, error) {
		return `{"answer":"Ada","citation_url":null,"evidence_quote":"Row 1: Name=Ada"}`, nil
	}

	rec := f.do(t, "POST", "/api/ask", map[string]any{
		"query":       "who is in row 1",
		"include_web": false,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["conversation_id"])
	assert.Equal(t, retrieval.ModeOfflineArchive, body["mode"])
	assert.True(t, strings.HasPrefix(body["answer"].(string), "Ada"), body["answer"])
	assert.NotEmpty(t, body["sources"])
	assert.Contains(t, body["timing"], "total_ms")
}

func TestAskStreamRequiresQuery(t *testing.T) {
	f := newTestServer(t)
	rec := f.do(t, "GET", "/api/ask/stream", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskStreamFraming(t *testing.T) {
	f := newTestServer(t)
	f.seedDocument(t, "doc-1", "notes.xlsx", []string{"Row 1: Country=France"})
	f.llm.streamDeltas = []string{"Ada ", "lives ", "in France."}

	rec := f.do(t, "GET",
		"/api/ask/stream?q=customers+located+in+France&conversation_id=conv-1&include_web=false", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: meta\ndata: ")
	assert.Contains(t, body, `"conversation_id":"conv-1"`)
	assert.Contains(t, body, "event: token\ndata: ")
	assert.Contains(t, body, "event: done\ndata: ")
	assert.Contains(t, body, "Ada lives in France.")

	// Every frame is terminated by a blank line.
	for _, frame := range strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n") {
		assert.True(t, strings.HasPrefix(frame, "event: "), frame)
	}
}

func TestUploadDocumentLifecycle(t *testing.T) {
	f := newTestServer(t)

	content := xlsxBytes(t, []string{"Name", "Country"}, [][]string{{"Ada", "France"}})
	buf, contentType := multipartFile(t, "customers.xlsx", content)

	req := httptest.NewRequest("POST", "/api/documents/", buf)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	docID := body["document_id"].(string)
	require.NotEmpty(t, docID)
	assert.Equal(t, "customers.xlsx", body["filename"])
	assert.Equal(t, types.StatusPending, body["status"])
	assert.Equal(t, "Document uploaded. Processing started.", body["message"])

	// Processing runs in the background.
	require.Eventually(t, func() bool {
		rec := f.do(t, "GET", "/api/documents/"+docID, nil)
		return rec.Code == http.StatusOK &&
			decodeBody(t, rec)["status"] == types.StatusReady
	}, 5*time.Second, 20*time.Millisecond)

	rec = f.do(t, "GET", "/api/documents/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["total"])

	rec = f.do(t, "DELETE", "/api/documents/"+docID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Document "+docID+" deleted", decodeBody(t, rec)["message"])

	rec = f.do(t, "GET", "/api/documents/"+docID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody(t, rec)["code"])
}

func TestUploadRejections(t *testing.T) {
	f := newTestServer(t)

	buf, contentType := multipartFile(t, "notes.txt", []byte("plain text"))
	req := httptest.NewRequest("POST", "/api/documents/", buf)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UNSUPPORTED_TYPE", decodeBody(t, rec)["code"])

	// Fixture caps uploads at 1MB.
	big := make([]byte, 1024*1024+10)
	buf, contentType = multipartFile(t, "big.xlsx", big)
	req = httptest.NewRequest("POST", "/api/documents/", buf)
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "FILE_TOO_LARGE", decodeBody(t, rec)["code"])
}

func TestDeleteUnknownDocument(t *testing.T) {
	f := newTestServer(t)
	rec := f.do(t, "DELETE", "/api/documents/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "NOT_FOUND", body["code"])
	assert.Equal(t, "Document not found: nope", body["message"])
}

func TestSettingsRoundTrip(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, "GET", "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(3), body["web_top_k"])
	assert.Equal(t, "keyword", body["offline_retrieval_mode"])

	rec = f.do(t, "POST", "/api/settings", map[string]any{
		"web_top_k":              7,
		"offline_retrieval_mode": "semantic",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decodeBody(t, rec)
	assert.Equal(t, float64(7), body["web_top_k"])
	assert.Equal(t, "semantic", body["offline_retrieval_mode"])

	cfg := f.manager.Current()
	assert.Equal(t, 7, cfg.WebTopK)

	rec = f.do(t, "POST", "/api/settings", map[string]any{"bogus": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeBody(t, rec)["code"])
}

func TestHealth(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, "GET", "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])

	llmHealth := body["llm"].(map[string]any)
	assert.Equal(t, true, llmHealth["ok"])

	searchHealth := body["search"].(map[string]any)
	assert.Equal(t, false, searchHealth["ok"])
	assert.Equal(t, "Brave API key not configured", searchHealth["message"])

	storeHealth := body["store"].(map[string]any)
	assert.Contains(t, storeHealth, "documents")
}

func TestHealthDegradedLLM(t *testing.T) {
	f := newTestServer(t)
	f.llm.healthErr = assert.AnError

	rec := f.do(t, "GET", "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])
	llmHealth := body["llm"].(map[string]any)
	assert.Equal(t, false, llmHealth["ok"])
	assert.NotEmpty(t, llmHealth["message"])
}
