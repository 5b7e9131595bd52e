package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"quarry/internal/logging"
	"quarry/internal/types"
)

// sourceRowColumn is the internal 1-based workbook row number prepended
// to every ingested sheet. Invisible to the planner, preserved on read.
const sourceRowColumn = "_source_row_number"

// indexNameHints mark original headers that get a single-column index.
var indexNameHints = []string{"_id", "id", "code", "index"}

// Ingestor drives sheet ingestion: typing, normalization, typed-table
// creation, bulk insert, catalog registration, and profiling.
type Ingestor struct {
	db      *sql.DB
	catalog *Catalog
}

// NewIngestor wires an ingestor to the store and catalog.
func NewIngestor(db *sql.DB, catalog *Catalog) *Ingestor {
	return &Ingestor{db: db, catalog: catalog}
}

// IngestWorkbook ingests every non-empty sheet of a workbook. The first
// sheet in workbook order becomes the document's default sheet. A failed
// sheet aborts ingestion; a failed profile only warns.
func (ing *Ingestor) IngestWorkbook(ctx context.Context, documentID string, wb *types.Workbook) error {
	timer := logging.StartTimer(logging.CategoryAnalytics, "ingest_workbook")
	defer timer.Stop()

	defaultSet := false
	for _, sheet := range wb.Sheets {
		if sheet.Empty() {
			logging.Ingest("skipping empty sheet %q of document %s", sheet.Name, documentID)
			continue
		}
		if err := ing.ingestSheet(ctx, documentID, sheet); err != nil {
			return fmt.Errorf("sheet %q: %w", sheet.Name, err)
		}
		if !defaultSet {
			if err := ing.catalog.RegisterDefaultSheet(ctx, documentID, sheet.Name); err != nil {
				return err
			}
			defaultSet = true
		}
	}
	return nil
}

func (ing *Ingestor) ingestSheet(ctx context.Context, documentID string, sheet types.Sheet) error {
	cols := buildColumns(sheet)
	rows := normalizeRows(ctx, cols, sheet)
	tableName := TableName(documentID, sheet.Name)

	if err := ing.createAndFill(ctx, tableName, cols, rows); err != nil {
		return err
	}

	if err := ing.catalog.RegisterTable(ctx, documentID, sheet.Name, tableName, len(rows)); err != nil {
		return err
	}
	if err := ing.catalog.RegisterColumns(ctx, documentID, sheet.Name, cols); err != nil {
		return err
	}

	// Profiling is best-effort; a bad profile must not fail the sheet.
	profile := BuildProfile(cols, rows)
	if err := ing.catalog.UpsertProfile(ctx, documentID, sheet.Name, profile); err != nil {
		logging.IngestWarn("failed to persist profile for %s/%s: %v", documentID, sheet.Name, err)
	}

	logging.Ingest("ingested sheet %q of document %s: %d rows, %d columns",
		sheet.Name, documentID, len(rows), len(cols))
	return nil
}

// buildColumns derives the typed column set: the internal source-row
// column first, then the sheet's headers in order with inferred types.
func buildColumns(sheet types.Sheet) []Column {
	safeNames := SafeNameMap(sheet.Headers)
	cols := make([]Column, len(sheet.Headers)+1)
	cols[0] = Column{
		Ordinal:     0,
		Original:    sourceRowColumn,
		SafeName:    SafeName(sourceRowColumn),
		LogicalType: TypeInteger,
		StorageType: SQLiteType(TypeInteger),
		Nullable:    false,
	}

	// Type inference per column; CPU-bound, so fan out over a bounded
	// worker group for wide sheets.
	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(runtime.NumCPU())
	for i, header := range sheet.Headers {
		i, header := i, header
		g.Go(func() error {
			values := make([]string, 0, len(sheet.Rows))
			for _, row := range sheet.Rows {
				if i < len(row) {
					values = append(values, row[i])
				}
			}
			lt := InferLogicalType(values)
			cols[i+1] = Column{
				Ordinal:     i + 1,
				Original:    header,
				SafeName:    safeNames[header],
				LogicalType: lt,
				StorageType: SQLiteType(lt),
				Nullable:    true,
			}
			return nil
		})
	}
	_ = g.Wait()
	return cols
}

// normalizeRows converts raw cells to their canonical stored values and
// prepends the 1-based source row number.
func normalizeRows(_ context.Context, cols []Column, sheet types.Sheet) [][]any {
	rows := make([][]any, len(sheet.Rows))
	for r, raw := range sheet.Rows {
		row := make([]any, len(cols))
		row[0] = int64(r + 1)
		for c := 1; c < len(cols); c++ {
			var cell string
			if c-1 < len(raw) {
				cell = raw[c-1]
			}
			row[c] = NormalizeCell(cell, cols[c].LogicalType)
		}
		rows[r] = row
	}
	return rows
}

// createAndFill drops and recreates the physical table, bulk-inserts the
// rows, and creates the lookup indices, all in one transaction. Partial
// ingests never surface as queryable metadata because catalog rows are
// written only after this commits.
func (ing *Ingestor) createAndFill(ctx context.Context, tableName string, cols []Column, rows [][]any) error {
	tx, err := ing.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS [%s]", tableName)); err != nil {
		return fmt.Errorf("failed to drop table: %w", err)
	}

	defs := make([]string, len(cols))
	for i, col := range cols {
		defs[i] = fmt.Sprintf("[%s] %s", col.SafeName, col.StorageType)
	}
	createSQL := fmt.Sprintf("CREATE TABLE [%s] (%s)", tableName, strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	insertSQL := fmt.Sprintf("INSERT INTO [%s] VALUES (%s)", tableName, placeholders)
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("failed to insert row: %w", err)
		}
	}

	for _, col := range cols {
		if !shouldIndex(col) {
			continue
		}
		indexSQL := fmt.Sprintf("CREATE INDEX IF NOT EXISTS [idx_%s_%s] ON [%s] ([%s])",
			tableName, col.SafeName, tableName, col.SafeName)
		if _, err := tx.ExecContext(ctx, indexSQL); err != nil {
			// Index creation is non-fatal; lookups just run unindexed.
			logging.IngestWarn("failed to create index on %s.%s: %v", tableName, col.SafeName, err)
		}
	}

	return tx.Commit()
}

// shouldIndex marks the source-row column, date columns, and columns
// whose original name suggests an identifier.
func shouldIndex(col Column) bool {
	if col.Original == sourceRowColumn {
		return true
	}
	if col.LogicalType == TypeDate {
		return true
	}
	lower := strings.ToLower(col.Original)
	for _, hint := range indexNameHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}
