// Package retrieval gathers answer context from three places: uploaded
// documents, the live web, and the offline page archive.
package retrieval

import (
	"regexp"
	"strconv"
)

// RowIntent is a detected row-specific lookup ("row 3", "#7").
type RowIntent struct {
	RowNumber  int
	Confidence float64
}

// ColumnValueIntent is a detected column-value lookup ("Index 1000",
// "where the Country column is France"). It maps onto the Header=Value
// format chunked spreadsheet rows use.
type ColumnValueIntent struct {
	ColumnName string
	Value      string
	Confidence float64
}

// QueryIntent holds the document retrieval hints parsed from a query.
type QueryIntent struct {
	Row             *RowIntent
	ColumnValue     *ColumnValueIntent
	FilenamePattern string
	WantsLast       bool
}

var rowPatterns = []struct {
	re         *regexp.Regexp
	confidence float64
}{
	{regexp.MustCompile(`(?i)\brow\s+(\d+)\b`), 1.0},
	{regexp.MustCompile(`#(\d+)\b`), 0.9},
	{regexp.MustCompile(`(?i)\b(\d+)(?:st|nd|rd|th)\s+(?:row|customer|entry|record|item)\b`), 0.95},
	{regexp.MustCompile(`(?i)\b(?:customer|entry|record|item)\s+#?(\d+)\b`), 0.85},
}

// Column-value patterns come in two orders: value-first captures
// (value, column), column-first captures (column, value).
var columnValuePatterns = []struct {
	re         *regexp.Regexp
	valueFirst bool
}{
	{regexp.MustCompile(`(?i)(?:has|with|where)\s+(?:value\s+)?(\S+)\s+in\s+(?:the\s+)?(\w+)\s+(?:column|field)`), true},
	{regexp.MustCompile(`(?i)\b(\d[\d.]*)\s+in\s+(?:the\s+)?(\w+)\s+(?:column|field)`), true},
	{regexp.MustCompile(`(?i)\b(\w+)\s+(?:column|field)\s+(?:is|=|equals)\s+(\S+)`), false},
	{regexp.MustCompile(`(?i)where\s+(?:the\s+)?(\w+)\s+(?:is|=|equals)\s+(\S+)`), false},
	{regexp.MustCompile(`(?i)\b(index|id|code|number|num|no)\s+(\d+)\b`), false},
}

var (
	filenameFromPattern = regexp.MustCompile(`(?i)from\s+(?:the\s+)?['"]?([a-zA-Z0-9_\-]+(?:-\d+)?(?:\.[a-zA-Z0-9]+)?)['"]?\s*(?:file|document)?`)
	filenameInPattern   = regexp.MustCompile(`(?i)in\s+(?:the\s+)?['"]?([a-zA-Z0-9_\-]+(?:-\d+)?(?:\.[a-zA-Z0-9]+)?)['"]?\s+(?:file|document)`)
	lastPattern         = regexp.MustCompile(`(?i)\b(?:last|final|latest|most recent|bottom)\b`)
)

// DetectRowIntent parses a query for row-specific addressing.
func DetectRowIntent(query string) *RowIntent {
	for _, p := range rowPatterns {
		if m := p.re.FindStringSubmatch(query); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil || n <= 0 {
				continue
			}
			return &RowIntent{RowNumber: n, Confidence: p.confidence}
		}
	}
	return nil
}

// DetectColumnValueIntent parses a query for a column-value lookup.
func DetectColumnValueIntent(query string) *ColumnValueIntent {
	for _, p := range columnValuePatterns {
		if m := p.re.FindStringSubmatch(query); m != nil {
			column, value := m[1], m[2]
			if p.valueFirst {
				value, column = m[1], m[2]
			}
			return &ColumnValueIntent{ColumnName: column, Value: value, Confidence: 0.9}
		}
	}
	return nil
}

// detectFilename prefers "from FILE" over "in FILE file".
func detectFilename(query string) string {
	if m := filenameFromPattern.FindStringSubmatch(query); m != nil {
		return m[1]
	}
	if m := filenameInPattern.FindStringSubmatch(query); m != nil {
		return m[1]
	}
	return ""
}

// DetectQueryIntent parses all document retrieval hints from a query.
func DetectQueryIntent(query string) QueryIntent {
	return QueryIntent{
		Row:             DetectRowIntent(query),
		ColumnValue:     DetectColumnValueIntent(query),
		FilenamePattern: detectFilename(query),
		WantsLast:       lastPattern.MatchString(query),
	}
}
