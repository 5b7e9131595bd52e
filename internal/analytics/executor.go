package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"quarry/internal/logging"
)

// Result is the formatted output of an executed plan.
type Result struct {
	Operation Operation      `json:"operation"`
	Summary   string         `json:"summary"`
	Data      map[string]any `json:"data"`
	SQL       string         `json:"sql"`
	Params    []any          `json:"params"`
}

// GroupRow is one bucket of a groupby_count.
type GroupRow struct {
	Key   any   `json:"key"`
	Count int64 `json:"count"`
}

// Executor resolves, validates, compiles, and runs analytics plans
// against the shared relational store.
type Executor struct {
	db      *sql.DB
	catalog *Catalog
}

// NewExecutor wires the executor to the store and catalog.
func NewExecutor(db *sql.DB, catalog *Catalog) *Executor {
	return &Executor{db: db, catalog: catalog}
}

// Execute runs one plan end to end: resolve sheet → table → columns,
// validate, compile, execute, format.
func (e *Executor) Execute(ctx context.Context, p *Plan) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryAnalytics, "execute_plan")
	defer timer.Stop()

	NormalizePlan(p)

	sheet, err := e.catalog.ResolveSheetName(ctx, p.DocumentID, p.SheetName)
	if err != nil {
		return nil, err
	}
	table, err := e.catalog.GetTableName(ctx, p.DocumentID, sheet)
	if err != nil {
		return nil, err
	}
	cols, err := e.catalog.GetColumns(ctx, p.DocumentID, sheet)
	if err != nil {
		return nil, err
	}

	if err := ValidatePlan(p, cols); err != nil {
		return nil, err
	}

	sqlText, params, err := Compile(p, table, cols)
	if err != nil {
		return nil, err
	}
	logging.AnalyticsDebug("compiled %s: %s params=%v", p.Operation, sqlText, params)

	data, summary, err := e.run(ctx, p, sqlText, params)
	if err != nil {
		return nil, &ExecutionError{Err: err}
	}

	if profile, perr := e.catalog.GetProfile(ctx, p.DocumentID, sheet); perr == nil {
		ValidateResult(p, data, profile)
	}

	return &Result{
		Operation: p.Operation,
		Summary:   summary,
		Data:      data,
		SQL:       sqlText,
		Params:    params,
	}, nil
}

func (e *Executor) run(ctx context.Context, p *Plan, sqlText string, params []any) (map[string]any, string, error) {
	switch p.Operation {
	case OpCountRows:
		n, err := e.scanCount(ctx, sqlText, params)
		if err != nil {
			return nil, "", err
		}
		return map[string]any{"count": n}, fmt.Sprintf("Counted %d rows.", n), nil

	case OpCountDistinct:
		n, err := e.scanCount(ctx, sqlText, params)
		if err != nil {
			return nil, "", err
		}
		return map[string]any{"count_distinct": n},
			fmt.Sprintf("Counted %d distinct values of '%s'.", n, p.TargetColumn), nil

	case OpSum:
		v, err := e.scanScalar(ctx, sqlText, params)
		if err != nil {
			return nil, "", err
		}
		if v == nil {
			v = int64(0)
		}
		return map[string]any{"sum": v},
			fmt.Sprintf("Sum of '%s' is %v.", p.TargetColumn, v), nil

	case OpAvg:
		v, err := e.scanScalar(ctx, sqlText, params)
		if err != nil {
			return nil, "", err
		}
		if f, ok := toFloat(v); ok {
			v = math.Round(f*10000) / 10000
		}
		return map[string]any{"avg": v},
			fmt.Sprintf("Average of '%s' is %v.", p.TargetColumn, v), nil

	case OpMin, OpMax:
		v, err := e.scanScalar(ctx, sqlText, params)
		if err != nil {
			return nil, "", err
		}
		key := "min"
		word := "Minimum"
		if p.Operation == OpMax {
			key = "max"
			word = "Maximum"
		}
		return map[string]any{key: v},
			fmt.Sprintf("%s of '%s' is %v.", word, p.TargetColumn, v), nil

	case OpGroupByCount:
		rows, err := e.db.QueryContext(ctx, sqlText, params...)
		if err != nil {
			return nil, "", err
		}
		defer rows.Close()
		groups := []GroupRow{}
		for rows.Next() {
			var g GroupRow
			var key any
			if err := rows.Scan(&key, &g.Count); err != nil {
				return nil, "", err
			}
			g.Key = normalizeScanned(key)
			groups = append(groups, g)
		}
		if err := rows.Err(); err != nil {
			return nil, "", err
		}
		groupCol := p.GroupBy
		if groupCol == "" {
			groupCol = p.TargetColumn
		}
		return map[string]any{"rows": groups},
			fmt.Sprintf("Grouped by '%s' into %d bucket(s).", groupCol, len(groups)), nil

	case OpSelectRows:
		rows, err := e.db.QueryContext(ctx, sqlText, params...)
		if err != nil {
			return nil, "", err
		}
		defer rows.Close()
		names, err := rows.Columns()
		if err != nil {
			return nil, "", err
		}
		out := []map[string]any{}
		for rows.Next() {
			vals := make([]any, len(names))
			ptrs := make([]any, len(names))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return nil, "", err
			}
			row := make(map[string]any, len(names))
			for i, name := range names {
				row[name] = normalizeScanned(vals[i])
			}
			out = append(out, row)
		}
		if err := rows.Err(); err != nil {
			return nil, "", err
		}
		return map[string]any{"rows": out, "row_count": len(out), "columns": names},
			fmt.Sprintf("Retrieved %d matching row(s).", len(out)), nil

	default:
		return nil, "", fmt.Errorf("unknown operation %q", p.Operation)
	}
}

// scanCount reads a single integer aggregate; a missing row coerces to 0.
func (e *Executor) scanCount(ctx context.Context, sqlText string, params []any) (int64, error) {
	var n sql.NullInt64
	err := e.db.QueryRowContext(ctx, sqlText, params...).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !n.Valid {
		return 0, nil
	}
	return n.Int64, nil
}

// scanScalar reads a single aggregate value, preserving NULL as nil.
func (e *Executor) scanScalar(ctx context.Context, sqlText string, params []any) (any, error) {
	var v any
	err := e.db.QueryRowContext(ctx, sqlText, params...).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return normalizeScanned(v), nil
}

func normalizeScanned(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
