// Package ingest turns uploaded files into retrievable chunks: parsing,
// chunking, vector upserts and analytics registration.
package ingest

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"quarry/internal/types"
)

// PageText is one PDF page's extracted text, 1-indexed.
type PageText struct {
	Page int
	Text string
}

// ParseWorkbook reads every sheet of an xlsx file. The first row of a
// sheet is its header row; fully empty rows are dropped.
func ParseWorkbook(path string) (*types.Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	wb := &types.Workbook{}
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", name, err)
		}

		kept := rows[:0]
		for _, row := range rows {
			if !rowEmpty(row) {
				kept = append(kept, row)
			}
		}
		if len(kept) == 0 {
			continue
		}
		wb.Sheets = append(wb.Sheets, types.Sheet{
			Name:    name,
			Headers: kept[0],
			Rows:    kept[1:],
		})
	}
	return wb, nil
}

func rowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// ParsePDF extracts text page by page; pages without text are skipped.
func ParsePDF(path string) ([]PageText, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	var pages []PageText
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to extract page %d: %w", i, err)
		}
		text = strings.Join(strings.Fields(text), " ")
		if text != "" {
			pages = append(pages, PageText{Page: i, Text: text})
		}
	}
	return pages, nil
}
