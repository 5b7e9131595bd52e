// Package types holds the shared data model: documents, chunks, archive
// records, retrieval outputs, and the workbook shape handed to ingestion.
package types

import "time"

// Document statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusError      = "error"
)

// Document types.
const (
	DocTypePDF  = "pdf"
	DocTypeXLSX = "xlsx"
	DocTypeXLS  = "xls"
)

// Document is an uploaded file's external-facing record.
type Document struct {
	ID           string    `json:"document_id"`
	Filename     string    `json:"filename"`
	DocType      string    `json:"doc_type"`
	SizeBytes    int64     `json:"size_bytes"`
	Status       string    `json:"status"`
	UploadedAt   time.Time `json:"uploaded_at"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// ChunkMeta is the structured location of a chunk: page for PDFs,
// sheet + row range for spreadsheets.
type ChunkMeta struct {
	Page     int    `json:"page,omitempty"`
	Sheet    string `json:"sheet,omitempty"`
	RowStart int    `json:"row_start,omitempty"`
	RowEnd   int    `json:"row_end,omitempty"`
}

// DocumentChunk is one retrievable unit of a document's content.
// (document_id, chunk_index) is unique; the id is deterministic.
type DocumentChunk struct {
	ID         string    `json:"chunk_id"`
	DocumentID string    `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Meta       ChunkMeta `json:"meta"`
	Filename   string    `json:"filename,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ArchivedPage is a scraped web page keyed by a hash of its URL.
type ArchivedPage struct {
	URLHash   string    `json:"url_hash"`
	URL       string    `json:"url"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// CachedAnswer is a previously generated answer keyed by the normalized
// (lower-cased, trimmed) query.
type CachedAnswer struct {
	Query         string    `json:"query"`
	Answer        string    `json:"answer"`
	CitationURL   string    `json:"citation_url,omitempty"`
	EvidenceQuote string    `json:"evidence_quote,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// SourceContext is a unified retrieval output. Document sources use a
// doc://<document_id> URL.
type SourceContext struct {
	URL       string     `json:"url"`
	Text      string     `json:"text"`
	Timestamp string     `json:"timestamp"`
	Fresh     bool       `json:"fresh"`
	LatencyMS int64      `json:"latency_ms"`
	Filename  string     `json:"filename,omitempty"`
	Location  string     `json:"location,omitempty"`
	Meta      *ChunkMeta `json:"meta,omitempty"`
}

// SearchResult is one hit from the web search API.
type SearchResult struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Sheet is one parsed worksheet: a header row plus raw string cells.
type Sheet struct {
	Name    string
	Headers []string
	Rows    [][]string
}

// Empty reports whether the sheet has no data rows.
func (s Sheet) Empty() bool {
	return len(s.Headers) == 0 || len(s.Rows) == 0
}

// Workbook is a parsed spreadsheet in workbook order.
type Workbook struct {
	Sheets []Sheet
}
