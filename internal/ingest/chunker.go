package ingest

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"quarry/internal/types"
)

const (
	// rowsPerChunk caps spreadsheet chunks; a chunk's row range stays
	// addressable by "Row N" queries.
	rowsPerChunk = 50

	// pdfChunkChars caps PDF chunks; long pages split on word
	// boundaries, never across pages.
	pdfChunkChars = 2000
)

// ChunkID is the deterministic chunk key, stable across re-ingestion.
func ChunkID(documentID string, chunkIndex int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d", documentID, chunkIndex)))
	return hex.EncodeToString(sum[:])
}

// ChunkWorkbook renders sheet rows as "Row N: Header=Value, ..." lines
// in 50-row chunks. Row numbers are 1-indexed spreadsheet rows, so the
// first data row is Row 2.
func ChunkWorkbook(documentID string, wb *types.Workbook) []types.DocumentChunk {
	var chunks []types.DocumentChunk
	for _, sheet := range wb.Sheets {
		if sheet.Empty() {
			continue
		}
		for i := 0; i < len(sheet.Rows); i += rowsPerChunk {
			end := min(i+rowsPerChunk, len(sheet.Rows))
			rowStart := i + 2
			rowEnd := rowStart + (end - i) - 1

			var lines []string
			for j, row := range sheet.Rows[i:end] {
				if text := rowToText(row, sheet.Headers); text != "" {
					lines = append(lines, fmt.Sprintf("Row %d: %s", rowStart+j, text))
				}
			}
			if len(lines) == 0 {
				continue
			}
			chunks = append(chunks, types.DocumentChunk{
				ID:         ChunkID(documentID, len(chunks)),
				DocumentID: documentID,
				ChunkIndex: len(chunks),
				Content:    strings.Join(lines, "\n"),
				Meta: types.ChunkMeta{
					Sheet:    sheet.Name,
					RowStart: rowStart,
					RowEnd:   rowEnd,
				},
			})
		}
	}
	return chunks
}

func rowToText(row, headers []string) string {
	var parts []string
	for i, value := range row {
		if i >= len(headers) || strings.TrimSpace(value) == "" {
			continue
		}
		header := headers[i]
		if header == "" {
			header = fmt.Sprintf("Col%d", len(parts)+1)
		}
		parts = append(parts, header+"="+value)
	}
	return strings.Join(parts, ", ")
}

// ChunkPages packs page text into chunks of at most pdfChunkChars,
// splitting on word boundaries. Every chunk carries its page number.
func ChunkPages(documentID string, pages []PageText) []types.DocumentChunk {
	var chunks []types.DocumentChunk
	add := func(content string, page int) {
		chunks = append(chunks, types.DocumentChunk{
			ID:         ChunkID(documentID, len(chunks)),
			DocumentID: documentID,
			ChunkIndex: len(chunks),
			Content:    content,
			Meta:       types.ChunkMeta{Page: page},
		})
	}

	for _, p := range pages {
		if len(p.Text) <= pdfChunkChars {
			add(p.Text, p.Page)
			continue
		}
		var current []string
		length := 0
		for _, word := range strings.Fields(p.Text) {
			if length+len(word)+1 > pdfChunkChars && len(current) > 0 {
				add(strings.Join(current, " "), p.Page)
				current, length = nil, 0
			}
			current = append(current, word)
			length += len(word) + 1
		}
		if len(current) > 0 {
			add(strings.Join(current, " "), p.Page)
		}
	}
	return chunks
}

var unsafeFilenameChars = regexp.MustCompile(`[^\w\-. ]`)

// SanitizeFilename strips path components and unsafe characters from an
// uploaded filename.
func SanitizeFilename(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	if name == "" || name == "." || name == ".." {
		return "unnamed"
	}
	return name
}

// DocTypeFromFilename maps a file extension to a document type; ok is
// false for unsupported extensions.
func DocTypeFromFilename(filename string) (string, bool) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return types.DocTypePDF, true
	case ".xlsx":
		return types.DocTypeXLSX, true
	case ".xls":
		return types.DocTypeXLS, true
	}
	return "", false
}
