package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"quarry/internal/logging"
)

// Catalog persists analytics metadata for ingested sheets: the physical
// table registry, ordered column sets, default sheets, and profiles. It
// shares the process-wide SQLite handle.
type Catalog struct {
	db *sql.DB
}

var catalogSchema = []string{
	`CREATE TABLE IF NOT EXISTS document_tables (
		document_id TEXT NOT NULL,
		sheet_name TEXT NOT NULL,
		table_name TEXT NOT NULL,
		row_count INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (document_id, sheet_name)
	)`,
	`CREATE TABLE IF NOT EXISTS document_table_columns (
		document_id TEXT NOT NULL,
		sheet_name TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		original_name TEXT NOT NULL,
		safe_name TEXT NOT NULL,
		logical_type TEXT NOT NULL,
		storage_type TEXT NOT NULL,
		nullable INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (document_id, sheet_name, ordinal)
	)`,
	`CREATE TABLE IF NOT EXISTS document_default_sheet (
		document_id TEXT PRIMARY KEY,
		sheet_name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS document_table_profiles (
		document_id TEXT NOT NULL,
		sheet_name TEXT NOT NULL,
		profile_json TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (document_id, sheet_name)
	)`,
}

// NewCatalog creates the catalog tables if missing.
func NewCatalog(db *sql.DB) (*Catalog, error) {
	for _, stmt := range catalogSchema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create catalog table: %w", err)
		}
	}
	return &Catalog{db: db}, nil
}

// RegisterTable upserts the physical table record for a sheet.
func (c *Catalog) RegisterTable(ctx context.Context, documentID, sheetName, tableName string, rowCount int) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO document_tables (document_id, sheet_name, table_name, row_count, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(document_id, sheet_name) DO UPDATE SET
			table_name = excluded.table_name,
			row_count = excluded.row_count,
			updated_at = CURRENT_TIMESTAMP`,
		documentID, sheetName, tableName, rowCount)
	if err != nil {
		return fmt.Errorf("failed to register table: %w", err)
	}
	return nil
}

// RegisterDefaultSheet records the sheet used when a query names none.
func (c *Catalog) RegisterDefaultSheet(ctx context.Context, documentID, sheetName string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO document_default_sheet (document_id, sheet_name) VALUES (?, ?)
		ON CONFLICT(document_id) DO UPDATE SET sheet_name = excluded.sheet_name`,
		documentID, sheetName)
	if err != nil {
		return fmt.Errorf("failed to register default sheet: %w", err)
	}
	return nil
}

// RegisterColumns atomically replaces the sheet's column rows with the
// given ordinal-ordered set.
func (c *Catalog) RegisterColumns(ctx context.Context, documentID, sheetName string, cols []Column) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM document_table_columns WHERE document_id = ? AND sheet_name = ?`,
		documentID, sheetName); err != nil {
		return fmt.Errorf("failed to clear columns: %w", err)
	}
	for _, col := range cols {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_table_columns
				(document_id, sheet_name, ordinal, original_name, safe_name, logical_type, storage_type, nullable)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			documentID, sheetName, col.Ordinal, col.Original, col.SafeName,
			string(col.LogicalType), col.StorageType, boolToInt(col.Nullable)); err != nil {
			return fmt.Errorf("failed to insert column %q: %w", col.Original, err)
		}
	}
	return tx.Commit()
}

// GetTableName resolves the physical table of a (document, sheet).
func (c *Catalog) GetTableName(ctx context.Context, documentID, sheetName string) (string, error) {
	var name string
	err := c.db.QueryRowContext(ctx,
		`SELECT table_name FROM document_tables WHERE document_id = ? AND sheet_name = ?`,
		documentID, sheetName).Scan(&name)
	if err == sql.ErrNoRows {
		return "", routingErrorf("No ingested table registered for document %s sheet %q", documentID, sheetName)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve table name: %w", err)
	}
	return name, nil
}

// GetColumns returns the sheet's columns ordered by ordinal.
func (c *Catalog) GetColumns(ctx context.Context, documentID, sheetName string) ([]Column, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT ordinal, original_name, safe_name, logical_type, storage_type, nullable
		FROM document_table_columns
		WHERE document_id = ? AND sheet_name = ?
		ORDER BY ordinal ASC`, documentID, sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to load columns: %w", err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var col Column
		var lt string
		var nullable int
		if err := rows.Scan(&col.Ordinal, &col.Original, &col.SafeName, &lt, &col.StorageType, &nullable); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		col.LogicalType = LogicalType(lt)
		col.Nullable = nullable != 0
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, routingErrorf("No column metadata registered for document %s sheet %q", documentID, sheetName)
	}
	return cols, nil
}

// ResolveSheetName returns the requested sheet, or the document's default
// sheet when the request names none.
func (c *Catalog) ResolveSheetName(ctx context.Context, documentID, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	var sheet string
	err := c.db.QueryRowContext(ctx,
		`SELECT sheet_name FROM document_default_sheet WHERE document_id = ?`,
		documentID).Scan(&sheet)
	if err == sql.ErrNoRows {
		return "", routingErrorf("No sheet specified and no default sheet registered for document %s", documentID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve default sheet: %w", err)
	}
	return sheet, nil
}

// UpsertProfile stores the serialized profile for a sheet.
func (c *Catalog) UpsertProfile(ctx context.Context, documentID, sheetName string, profile *TableProfile) error {
	blob, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO document_table_profiles (document_id, sheet_name, profile_json, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(document_id, sheet_name) DO UPDATE SET
			profile_json = excluded.profile_json,
			updated_at = CURRENT_TIMESTAMP`,
		documentID, sheetName, string(blob))
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// GetProfile loads a sheet's profile; nil when none is stored.
func (c *Catalog) GetProfile(ctx context.Context, documentID, sheetName string) (*TableProfile, error) {
	var blob string
	err := c.db.QueryRowContext(ctx,
		`SELECT profile_json FROM document_table_profiles WHERE document_id = ? AND sheet_name = ?`,
		documentID, sheetName).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	var profile TableProfile
	if err := json.Unmarshal([]byte(blob), &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &profile, nil
}

// ListAllDocumentIDs returns the ids of ready documents that have at
// least one ingested sheet.
func (c *Catalog) ListAllDocumentIDs(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT DISTINCT t.document_id
		FROM document_tables t
		JOIN documents d ON d.document_id = t.document_id
		WHERE d.status = 'ready'
		ORDER BY t.document_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteDocument drops the document's physical tables and removes all of
// its catalog rows in one transaction.
func (c *Catalog) DeleteDocument(ctx context.Context, documentID string) error {
	rows, err := c.db.QueryContext(ctx,
		`SELECT table_name FROM document_tables WHERE document_id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		tables = append(tables, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range tables {
		// Table names come from the catalog, never from user input.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS [%s]", table)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}
	for _, stmt := range []string{
		`DELETE FROM document_table_columns WHERE document_id = ?`,
		`DELETE FROM document_table_profiles WHERE document_id = ?`,
		`DELETE FROM document_default_sheet WHERE document_id = ?`,
		`DELETE FROM document_tables WHERE document_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, documentID); err != nil {
			return fmt.Errorf("failed to delete catalog rows: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Analytics("deleted analytics data for document %s (%d table(s))", documentID, len(tables))
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
