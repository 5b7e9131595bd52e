package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quarry/internal/types"
)

func TestBuildContextString(t *testing.T) {
	assert.Equal(t, "No sources available.", BuildContextString(nil))

	got := BuildContextString([]types.SourceContext{
		{URL: "https://a", Text: "alpha"},
		{URL: "doc://d1", Text: "beta"},
	})
	assert.Equal(t, "SOURCE: https://a\nCONTENT: alpha\n---\nSOURCE: doc://d1\nCONTENT: beta", got)
}

func TestBuildLocationString(t *testing.T) {
	assert.Equal(t, "", BuildLocationString(nil))
	assert.Equal(t, "Page 3", BuildLocationString(&types.ChunkMeta{Page: 3}))
	assert.Equal(t, "Sheet: Customers, Rows 2-51",
		BuildLocationString(&types.ChunkMeta{Sheet: "Customers", RowStart: 2, RowEnd: 51}))
}

func TestDetermineRetrievalType(t *testing.T) {
	assert.Equal(t, "document_semantic", DetermineRetrievalType(ModeOfflineArchive, "semantic", true))
	assert.Equal(t, "document_keyword", DetermineRetrievalType(ModeOnline, "keyword", true))
	assert.Equal(t, "online", DetermineRetrievalType(ModeOnline, "keyword", false))
	assert.Equal(t, "offline_semantic", DetermineRetrievalType(ModeOfflineArchive, "semantic", false))
	assert.Equal(t, "offline_keyword", DetermineRetrievalType(ModeOfflineArchive, "keyword", false))
	assert.Equal(t, "offline_keyword", DetermineRetrievalType(ModeLocalWeights, "semantic", false))
}

func TestContextsToSources(t *testing.T) {
	meta := &types.ChunkMeta{Sheet: "S", RowStart: 2, RowEnd: 51}
	contexts := []types.SourceContext{
		{URL: "https://a", Text: "web text", Timestamp: "t1"},
		{URL: DocURLPrefix + "d1", Text: "doc text", Timestamp: "t2", Filename: "f.xlsx", Meta: meta},
		FallbackContext(),
	}

	sources := ContextsToSources(contexts, ModeOnline, "keyword")
	require.Len(t, sources, 2)

	assert.Equal(t, "web", sources[0].SourceType)
	assert.Equal(t, "online", sources[0].RetrievalType)
	assert.NotEmpty(t, sources[0].URLHash)
	assert.Empty(t, sources[0].Filename)

	assert.Equal(t, "document", sources[1].SourceType)
	assert.Equal(t, "document_keyword", sources[1].RetrievalType)
	assert.Equal(t, "f.xlsx", sources[1].Filename)
	assert.Equal(t, meta, sources[1].Location)
	assert.Empty(t, sources[1].URLHash)
}
