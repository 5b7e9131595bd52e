package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectRowIntent(t *testing.T) {
	cases := []struct {
		query      string
		wantRow    int
		confidence float64
	}{
		{"what is in row 3", 3, 1.0},
		{"show me #42", 42, 0.9},
		{"the 2nd customer", 2, 0.95},
		{"customer #7 details", 7, 0.9},
		{"entry 15", 15, 0.85},
	}
	for _, c := range cases {
		got := DetectRowIntent(c.query)
		require.NotNil(t, got, "query %q", c.query)
		assert.Equal(t, c.wantRow, got.RowNumber, "query %q", c.query)
		assert.Equal(t, c.confidence, got.Confidence, "query %q", c.query)
	}

	assert.Nil(t, DetectRowIntent("what is the total revenue"))
	assert.Nil(t, DetectRowIntent("row 0 does not exist"))
}

func TestDetectColumnValueIntent(t *testing.T) {
	got := DetectColumnValueIntent("which customer has 1000 in the Index column")
	require.NotNil(t, got)
	assert.Equal(t, "Index", got.ColumnName)
	assert.Equal(t, "1000", got.Value)
	assert.Equal(t, 0.9, got.Confidence)

	got = DetectColumnValueIntent("where the Country is France")
	require.NotNil(t, got)
	assert.Equal(t, "Country", got.ColumnName)
	assert.Equal(t, "France", got.Value)

	got = DetectColumnValueIntent("the customer with index 1000")
	require.NotNil(t, got)
	assert.Equal(t, "index", got.ColumnName)
	assert.Equal(t, "1000", got.Value)

	got = DetectColumnValueIntent("Amount column equals 250")
	require.NotNil(t, got)
	assert.Equal(t, "Amount", got.ColumnName)
	assert.Equal(t, "250", got.Value)

	assert.Nil(t, DetectColumnValueIntent("tell me about France"))
}

func TestDetectFilename(t *testing.T) {
	assert.Equal(t, "sales-2024", detectFilename("last row from sales-2024"))
	assert.Equal(t, "sales-2024.xlsx", detectFilename(`data from "sales-2024.xlsx" file`))
	assert.Equal(t, "report", detectFilename("the numbers in the report file"))
	assert.Equal(t, "", detectFilename("no file mentioned here"))

	// "from FILE" wins over "in FILE file".
	assert.Equal(t, "alpha", detectFilename("from alpha but also in beta file"))
}

func TestDetectQueryIntent(t *testing.T) {
	intent := DetectQueryIntent("show the last row from sales-2024")
	assert.True(t, intent.WantsLast)
	assert.Equal(t, "sales-2024", intent.FilenamePattern)
	assert.Nil(t, intent.ColumnValue)

	intent = DetectQueryIntent("who has index 1000 in sales-2024 file")
	require.NotNil(t, intent.ColumnValue)
	assert.Equal(t, "sales-2024", intent.FilenamePattern)
	assert.False(t, intent.WantsLast)

	intent = DetectQueryIntent("what is the capital of France")
	assert.Nil(t, intent.Row)
	assert.Nil(t, intent.ColumnValue)
	assert.Empty(t, intent.FilenamePattern)
	assert.False(t, intent.WantsLast)
}
