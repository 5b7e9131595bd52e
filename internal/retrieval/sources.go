package retrieval

import (
	"fmt"
	"strings"
	"time"

	"quarry/internal/store"
	"quarry/internal/types"
)

// Answer modes.
const (
	ModeOnline         = "ONLINE"
	ModeOfflineArchive = "OFFLINE_ARCHIVE"
	ModeLocalWeights   = "LOCAL_WEIGHTS"
)

// DocURLPrefix marks contexts sourced from uploaded documents.
const DocURLPrefix = "doc://"

// Fallback context used when no retrieval path produced anything.
const (
	FallbackSourceURL  = "N/A"
	FallbackSourceText = "No information found."
)

// IsDocumentSource reports whether a context came from an uploaded
// document.
func IsDocumentSource(c types.SourceContext) bool {
	return strings.HasPrefix(c.URL, DocURLPrefix)
}

// FallbackContext is the single context handed to the answer stage when
// retrieval came up empty.
func FallbackContext() types.SourceContext {
	return types.SourceContext{
		URL:       FallbackSourceURL,
		Text:      FallbackSourceText,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// BuildContextString formats contexts for LLM prompts.
func BuildContextString(contexts []types.SourceContext) string {
	if len(contexts) == 0 {
		return "No sources available."
	}
	parts := make([]string, len(contexts))
	for i, c := range contexts {
		parts[i] = fmt.Sprintf("SOURCE: %s\nCONTENT: %s", c.URL, c.Text)
	}
	return strings.Join(parts, "\n---\n")
}

// BuildLocationString renders chunk metadata for humans: "Page 3" or
// "Sheet: Customers, Rows 2-51".
func BuildLocationString(meta *types.ChunkMeta) string {
	if meta == nil {
		return ""
	}
	var parts []string
	if meta.Page > 0 {
		parts = append(parts, fmt.Sprintf("Page %d", meta.Page))
	}
	if meta.Sheet != "" {
		parts = append(parts, "Sheet: "+meta.Sheet)
	}
	if meta.RowStart > 0 && meta.RowEnd > 0 {
		parts = append(parts, fmt.Sprintf("Rows %d-%d", meta.RowStart, meta.RowEnd))
	}
	return strings.Join(parts, ", ")
}

// DetermineRetrievalType labels how a context was found, for the API
// source list.
func DetermineRetrievalType(mode, offlineMode string, isDocument bool) string {
	if isDocument {
		if offlineMode == "semantic" {
			return "document_semantic"
		}
		return "document_keyword"
	}
	switch mode {
	case ModeOnline:
		return "online"
	case ModeOfflineArchive:
		if offlineMode == "semantic" {
			return "offline_semantic"
		}
		return "offline_keyword"
	}
	return "offline_keyword"
}

// Source is the API-facing description of one context.
type Source struct {
	URL           string           `json:"url"`
	Snippet       string           `json:"snippet"`
	RetrievalType string           `json:"retrieval_type"`
	Timestamp     string           `json:"timestamp"`
	SourceType    string           `json:"source_type"`
	URLHash       string           `json:"url_hash,omitempty"`
	Filename      string           `json:"filename,omitempty"`
	Location      *types.ChunkMeta `json:"location,omitempty"`
}

// ContextsToSources converts contexts to their API form, dropping the
// fallback placeholder.
func ContextsToSources(contexts []types.SourceContext, mode, offlineMode string) []Source {
	sources := make([]Source, 0, len(contexts))
	for _, c := range contexts {
		if c.URL == FallbackSourceURL {
			continue
		}
		isDoc := IsDocumentSource(c)
		src := Source{
			URL:           c.URL,
			Snippet:       snippetOf(c.Text),
			RetrievalType: DetermineRetrievalType(mode, offlineMode, isDoc),
			Timestamp:     c.Timestamp,
		}
		if isDoc {
			src.SourceType = "document"
			src.Filename = c.Filename
			src.Location = c.Meta
		} else {
			src.SourceType = "web"
			src.URLHash = store.HashURL(c.URL)
		}
		sources = append(sources, src)
	}
	return sources
}

func snippetOf(text string) string {
	if len(text) > 500 {
		return text[:500]
	}
	return text
}
