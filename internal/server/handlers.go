package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"quarry/internal/answer"
	"quarry/internal/ingest"
	"quarry/internal/llm"
	"quarry/internal/logging"
	"quarry/internal/types"
)

// API error codes.
const (
	codeValidation      = "VALIDATION_ERROR"
	codeNotFound        = "NOT_FOUND"
	codeInvalidFilename = "INVALID_FILENAME"
	codeUnsupportedType = "UNSUPPORTED_TYPE"
	codeFileTooLarge    = "FILE_TOO_LARGE"
	codeLLMError        = "LLM_ERROR"
	codeInternal        = "INTERNAL_ERROR"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.ServerWarn("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Code: code, Message: message})
}

type askRequest struct {
	Query            string   `json:"query"`
	ConversationID   string   `json:"conversation_id"`
	PreferMode       string   `json:"prefer_mode"`
	IncludeWeb       *bool    `json:"include_web"`
	IncludeDocuments *bool    `json:"include_documents"`
	DocumentIDs      []string `json:"document_ids"`
}

func (req *askRequest) options() answer.Options {
	includeWeb, includeDocs := true, true
	if req.IncludeWeb != nil {
		includeWeb = *req.IncludeWeb
	}
	if req.IncludeDocuments != nil {
		includeDocs = *req.IncludeDocuments
	}
	return answer.Options{
		PreferMode:       req.PreferMode,
		IncludeWeb:       includeWeb,
		IncludeDocuments: includeDocs,
		DocumentIDs:      req.DocumentIDs,
	}
}

type timingInfo struct {
	TotalMS int64 `json:"total_ms"`
}

type askResponse struct {
	ConversationID string     `json:"conversation_id"`
	Answer         string     `json:"answer"`
	Mode           string     `json:"mode"`
	Sources        any        `json:"sources"`
	Timing         timingInfo `json:"timing"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "query is required")
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	result, err := s.orch.GetAnswer(r.Context(), req.Query, req.options())
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeLLMError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, askResponse{
		ConversationID: req.ConversationID,
		Answer:         result.Answer,
		Mode:           result.Mode,
		Sources:        result.Sources,
		Timing:         timingInfo{TotalMS: time.Since(start).Milliseconds()},
	})
}

// handleAskStream serves the answer as server-sent events:
// "event: <type>\ndata: <json>\n\n" per answer event.
func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "q is required")
		return
	}

	req := askRequest{
		Query:          query,
		ConversationID: q.Get("conversation_id"),
		PreferMode:     q.Get("prefer_mode"),
	}
	if v := q.Get("include_web"); v != "" {
		b := v != "false" && v != "0"
		req.IncludeWeb = &b
	}
	if v := q.Get("include_documents"); v != "" {
		b := v != "false" && v != "0"
		req.IncludeDocuments = &b
	}
	if v := q.Get("document_ids"); v != "" {
		req.DocumentIDs = strings.Split(v, ",")
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, codeInternal, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	for ev := range s.orch.StreamAnswer(r.Context(), req.Query, req.ConversationID, req.options()) {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			logging.ServerWarn("failed to marshal %s event: %v", ev.Type, err)
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		flusher.Flush()
	}
}

type uploadResponse struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	cfg := s.manager.Current()
	limit := int64(cfg.MaxUploadMB) * 1024 * 1024

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "file field is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to read upload")
		return
	}

	doc, err := s.docs.Upload(r.Context(), header.Filename, content)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrInvalidFilename):
			writeError(w, http.StatusBadRequest, codeInvalidFilename, err.Error())
		case errors.Is(err, ingest.ErrUnsupportedType):
			writeError(w, http.StatusBadRequest, codeUnsupportedType, err.Error())
		case errors.Is(err, ingest.ErrFileTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, codeFileTooLarge, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		}
		return
	}

	// Processing continues after the response; the document status
	// endpoint reports progress.
	go func() {
		if err := s.docs.Process(context.Background(), doc); err != nil {
			logging.ServerWarn("background processing failed for %s: %v", doc.ID, err)
		}
	}()

	writeJSON(w, http.StatusOK, uploadResponse{
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		Status:     types.StatusPending,
		Message:    "Document uploaded. Processing started.",
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.st.ListDocuments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"total":     len(docs),
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentID")
	doc, err := s.st.GetDocument(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "Document not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentID")
	doc, err := s.st.GetDocument(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "Document not found: "+id)
		return
	}
	if err := s.docs.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Document " + id + " deleted",
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	cfg := s.manager.Current()
	writeJSON(w, http.StatusOK, cfg.View())
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var overrides map[string]any
	if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	if err := s.manager.Apply(overrides); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	cfg := s.manager.Current()
	writeJSON(w, http.StatusOK, cfg.View())
}

type healthResponse struct {
	Status string          `json:"status"`
	LLM    componentHealth `json:"llm"`
	Search componentHealth `json:"search"`
	Store  any             `json:"store"`
}

type componentHealth struct {
	OK        bool   `json:"ok"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}

	if stats, err := s.st.GetStats(); err != nil {
		resp.Status = "degraded"
		resp.Store = map[string]string{"error": err.Error()}
	} else {
		resp.Store = stats
	}

	braveStatus := s.brave.CheckHealth(r.Context())
	resp.Search = componentHealth{
		OK:        braveStatus.OK,
		Message:   braveStatus.Message,
		LatencyMS: braveStatus.LatencyMS,
	}

	resp.LLM = componentHealth{OK: true}
	if checker, ok := s.llm.(llm.HealthChecker); ok {
		start := time.Now()
		if err := checker.CheckHealth(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.LLM = componentHealth{OK: false, Message: err.Error()}
		} else {
			resp.LLM.LatencyMS = time.Since(start).Milliseconds()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
