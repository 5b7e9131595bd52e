package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quarry/internal/config"
	"quarry/internal/store"
	"quarry/internal/types"
)

func newTestRetriever(t *testing.T) (*DocumentRetriever, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	manager := config.NewManager(config.DefaultSettings(), "")
	return NewDocumentRetriever(st, nil, manager), st
}

func seedSpreadsheet(t *testing.T, st *store.Store, id, filename string, chunks []string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateDocument(ctx, &types.Document{
		ID: id, Filename: filename, DocType: types.DocTypeXLSX, SizeBytes: 1,
	}))
	set := make([]types.DocumentChunk, len(chunks))
	for i, content := range chunks {
		set[i] = types.DocumentChunk{
			ID:         id + "-" + string(rune('a'+i)),
			DocumentID: id,
			ChunkIndex: i,
			Content:    content,
			Meta:       types.ChunkMeta{Sheet: "Customers", RowStart: i*50 + 2, RowEnd: i*50 + 51},
		}
	}
	require.NoError(t, st.SaveChunks(ctx, set))
	require.NoError(t, st.UpdateDocumentStatus(ctx, id, types.StatusReady, ""))
}

func TestColumnValueLookupKeepsOnlyMarkerLines(t *testing.T) {
	r, st := newTestRetriever(t)
	seedSpreadsheet(t, st, "doc-1", "sales-2024.xlsx", []string{
		"Row 1: Index=1000, Customer Id=C1, First Name=Ada\nRow 2: Index=1001, Customer Id=C2, First Name=Ben",
		"Row 51: Index=1050, Customer Id=C51, First Name=Zoe",
	})

	query := "which customer has index 1000 in sales-2024 file"
	intent := DetectQueryIntent(query)
	require.NotNil(t, intent.ColumnValue)

	contexts := r.GetDocumentContext(context.Background(), query, nil, intent)
	require.NotEmpty(t, contexts)

	// The matching chunk is reduced to the Index=1000 line; the chunk
	// holding Index=1050 is dropped entirely.
	assert.Contains(t, contexts[0].Text, "Index=1000")
	assert.NotContains(t, contexts[0].Text, "Index=1001")
	for _, c := range contexts {
		assert.Contains(t, strings.ToLower(c.Text), "index=1000")
	}
	assert.True(t, strings.HasPrefix(contexts[0].URL, DocURLPrefix))
	assert.Contains(t, contexts[0].Text, "[sales-2024.xlsx]")
	assert.Contains(t, contexts[0].Text, "Sheet: Customers")
}

func TestRowLookup(t *testing.T) {
	r, st := newTestRetriever(t)
	seedSpreadsheet(t, st, "doc-1", "sales.xlsx", []string{
		"Row 1: Name=Ada\nRow 2: Name=Ben\nRow 3: Name=Cleo",
	})

	query := "what is in row 2"
	contexts := r.GetDocumentContext(context.Background(), query, nil, DetectQueryIntent(query))
	require.Len(t, contexts, 1)

	_, body, found := strings.Cut(contexts[0].Text, "\n")
	require.True(t, found)
	assert.Equal(t, "Row 2: Name=Ben", body)
}

func TestWantsLastReturnsDocumentTail(t *testing.T) {
	r, st := newTestRetriever(t)
	seedSpreadsheet(t, st, "doc-1", "sales-2024.xlsx", []string{
		"Row 1: Name=Ada\nRow 2: Name=Ben",
		"Row 51: Name=Yan\nRow 52: Name=Zoe",
	})

	query := "show the last row from sales-2024"
	intent := DetectQueryIntent(query)
	require.True(t, intent.WantsLast)
	require.Equal(t, "sales-2024", intent.FilenamePattern)

	contexts := r.GetDocumentContext(context.Background(), query, nil, intent)
	require.Len(t, contexts, 1)

	_, body, _ := strings.Cut(contexts[0].Text, "\n")
	assert.Equal(t, "Row 52: Name=Zoe", body)
}

func TestKeywordFallbackWithoutIntent(t *testing.T) {
	r, st := newTestRetriever(t)
	seedSpreadsheet(t, st, "doc-1", "notes.xlsx", []string{
		"Row 1: Country=France, City=Paris",
		"Row 2: Country=Spain, City=Madrid",
	})

	query := "customers located in France"
	contexts := r.GetDocumentContext(context.Background(), query, nil, DetectQueryIntent(query))
	require.NotEmpty(t, contexts)
	assert.Contains(t, contexts[0].Text, "France")
}

func TestDocumentScopeRestriction(t *testing.T) {
	r, st := newTestRetriever(t)
	seedSpreadsheet(t, st, "doc-1", "a.xlsx", []string{"Row 1: Country=France"})
	seedSpreadsheet(t, st, "doc-2", "b.xlsx", []string{"Row 1: Country=France"})

	query := "customers located in France"
	contexts := r.GetDocumentContext(context.Background(), query, []string{"doc-2"}, DetectQueryIntent(query))
	require.NotEmpty(t, contexts)
	for _, c := range contexts {
		assert.Equal(t, DocURLPrefix+"doc-2", c.URL)
	}
}

func TestEmptyRetrievalYieldsNoContexts(t *testing.T) {
	r, _ := newTestRetriever(t)
	query := "anything at all"
	contexts := r.GetDocumentContext(context.Background(), query, nil, DetectQueryIntent(query))
	assert.Empty(t, contexts)
}
