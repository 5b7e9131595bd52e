package analytics

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Compiler output: parameterized SQL plus its parameter list. All user
// values travel as parameters; identifiers come only from the catalog's
// safe-name map, never from the plan text.

func epochUTC(year int, month time.Month, day int) int64 {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Unix()
}

// yearRange returns the half-open [start, end) epoch interval of a year.
func yearRange(year int) (int64, int64) {
	return epochUTC(year, time.January, 1), epochUTC(year+1, time.January, 1)
}

// monthRange returns the half-open [start, end) epoch interval of a
// month; December wraps to January of the next year.
func monthRange(year int, month time.Month) (int64, int64) {
	start := epochUTC(year, month, 1)
	var end int64
	if month == time.December {
		end = epochUTC(year+1, time.January, 1)
	} else {
		end = epochUTC(year, month+1, 1)
	}
	return start, end
}

func filterYear(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, compileErrorf("year_equals wants an integer year, got %q", v)
		}
		return n, nil
	default:
		return 0, compileErrorf("year_equals wants an integer year, got %T", value)
	}
}

func filterMonth(value any) (int, time.Month, error) {
	s, ok := value.(string)
	if !ok {
		return 0, 0, compileErrorf("month_equals wants a \"YYYY-MM\" string, got %T", value)
	}
	t, err := time.ParseInLocation("2006-01", strings.TrimSpace(s), time.UTC)
	if err != nil {
		return 0, 0, compileErrorf("month_equals wants a \"YYYY-MM\" string, got %q", s)
	}
	return t.Year(), t.Month(), nil
}

func filterDateBounds(value any) (int64, int64, error) {
	pair, ok := value.([]any)
	if !ok || len(pair) != 2 {
		if sp, ok2 := value.([]string); ok2 && len(sp) == 2 {
			pair = []any{sp[0], sp[1]}
		} else {
			return 0, 0, compileErrorf("between_dates wants [start, end], got %v", value)
		}
	}
	bounds := make([]int64, 2)
	for i, raw := range pair {
		s, ok := raw.(string)
		if !ok {
			return 0, 0, compileErrorf("between_dates bound must be an ISO date, got %T", raw)
		}
		t, parsed := parseDate(s)
		if !parsed {
			return 0, 0, compileErrorf("between_dates bound must be an ISO date, got %q", s)
		}
		bounds[i] = t.UTC().Unix()
	}
	// Half-open end: +86400 makes both day boundaries inclusive.
	return bounds[0], bounds[1] + 86400, nil
}

// compileFilter renders one predicate against a safe column name.
func compileFilter(f Filter, safe string) (string, []any, error) {
	switch f.Operator {
	case FilterEq:
		return fmt.Sprintf("%s = ?", safe), []any{f.Value}, nil
	case FilterNeq:
		return fmt.Sprintf("%s != ?", safe), []any{f.Value}, nil
	case FilterGt:
		return fmt.Sprintf("%s > ?", safe), []any{f.Value}, nil
	case FilterGte:
		return fmt.Sprintf("%s >= ?", safe), []any{f.Value}, nil
	case FilterLt:
		return fmt.Sprintf("%s < ?", safe), []any{f.Value}, nil
	case FilterLte:
		return fmt.Sprintf("%s <= ?", safe), []any{f.Value}, nil
	case FilterContains:
		return fmt.Sprintf("%s LIKE ?", safe), []any{fmt.Sprintf("%%%v%%", f.Value)}, nil
	case FilterStartswith:
		return fmt.Sprintf("%s LIKE ?", safe), []any{fmt.Sprintf("%v%%", f.Value)}, nil
	case FilterIsNull:
		return fmt.Sprintf("%s IS NULL", safe), nil, nil
	case FilterIsNotNull:
		return fmt.Sprintf("%s IS NOT NULL", safe), nil, nil
	case FilterYearEquals:
		year, err := filterYear(f.Value)
		if err != nil {
			return "", nil, err
		}
		start, end := yearRange(year)
		return fmt.Sprintf("(%s >= ? AND %s < ?)", safe, safe), []any{start, end}, nil
	case FilterMonthEquals:
		year, month, err := filterMonth(f.Value)
		if err != nil {
			return "", nil, err
		}
		start, end := monthRange(year, month)
		return fmt.Sprintf("(%s >= ? AND %s < ?)", safe, safe), []any{start, end}, nil
	case FilterBetweenDates:
		start, end, err := filterDateBounds(f.Value)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("(%s >= ? AND %s < ?)", safe, safe), []any{start, end}, nil
	default:
		return "", nil, compileErrorf("unknown filter operator %q", f.Operator)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func quoteAlias(original string) string {
	return "'" + strings.ReplaceAll(original, "'", "''") + "'"
}

// Compile turns a normalized plan into parameterized SQL against the
// resolved physical table. cols is the full catalog column set for the
// sheet; filters and projections resolve through it by original header.
func Compile(p *Plan, table string, cols []Column) (string, []any, error) {
	byOriginal := make(map[string]Column, len(cols))
	for _, c := range cols {
		byOriginal[c.Original] = c
	}
	resolve := func(original string) (Column, error) {
		c, ok := byOriginal[original]
		if !ok {
			return Column{}, compileErrorf("unknown column %q", original)
		}
		return c, nil
	}

	var exprs []string
	var params []any
	for _, f := range p.Filters {
		col, err := resolve(f.Column)
		if err != nil {
			return "", nil, err
		}
		expr, fp, err := compileFilter(f, col.SafeName)
		if err != nil {
			return "", nil, err
		}
		exprs = append(exprs, expr)
		params = append(params, fp...)
	}
	where := ""
	if len(exprs) > 0 {
		where = " WHERE " + strings.Join(exprs, " AND ")
	}

	switch p.Operation {
	case OpCountRows:
		return fmt.Sprintf("SELECT COUNT(1) AS count FROM %s%s;", table, where), params, nil

	case OpCountDistinct, OpSum, OpAvg, OpMin, OpMax:
		if p.TargetColumn == "" {
			return "", nil, compileErrorf("operation %s requires target_column", p.Operation)
		}
		col, err := resolve(p.TargetColumn)
		if err != nil {
			return "", nil, err
		}
		var agg, alias string
		switch p.Operation {
		case OpCountDistinct:
			agg, alias = fmt.Sprintf("COUNT(DISTINCT %s)", col.SafeName), "count_distinct"
		case OpSum:
			agg, alias = fmt.Sprintf("SUM(%s)", col.SafeName), "sum_value"
		case OpAvg:
			agg, alias = fmt.Sprintf("AVG(%s)", col.SafeName), "avg_value"
		case OpMin:
			agg, alias = fmt.Sprintf("MIN(%s)", col.SafeName), "min_value"
		case OpMax:
			agg, alias = fmt.Sprintf("MAX(%s)", col.SafeName), "max_value"
		}
		return fmt.Sprintf("SELECT %s AS %s FROM %s%s;", agg, alias, table, where), params, nil

	case OpGroupByCount:
		groupCol := p.GroupBy
		if groupCol == "" {
			groupCol = p.TargetColumn
		}
		if groupCol == "" {
			return "", nil, compileErrorf("groupby_count requires group_by or target_column")
		}
		col, err := resolve(groupCol)
		if err != nil {
			return "", nil, err
		}
		var orderSQL string
		switch p.Order {
		case OrderCountAsc:
			orderSQL = "cnt ASC"
		case OrderKeyAsc:
			orderSQL = col.SafeName + " ASC"
		case OrderKeyDesc:
			orderSQL = col.SafeName + " DESC"
		default:
			orderSQL = "cnt DESC"
		}
		topN := clamp(p.TopN, 1, 1000)
		return fmt.Sprintf(
			"SELECT %s AS key, COUNT(1) AS cnt FROM %s%s GROUP BY %s ORDER BY %s LIMIT %d;",
			col.SafeName, table, where, col.SafeName, orderSQL, topN,
		), params, nil

	case OpSelectRows:
		selected := p.SelectColumns
		if selected == nil {
			for _, c := range VisibleColumns(cols) {
				selected = append(selected, c.Original)
			}
		}
		if len(selected) == 0 {
			return "", nil, compileErrorf("select_rows has no columns to select")
		}
		parts := make([]string, 0, len(selected))
		for _, original := range selected {
			col, err := resolve(original)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, fmt.Sprintf("%s AS %s", col.SafeName, quoteAlias(col.Original)))
		}
		limit := clamp(p.Limit, 1, 500)
		return fmt.Sprintf("SELECT %s FROM %s%s LIMIT %d;",
			strings.Join(parts, ", "), table, where, limit), params, nil

	default:
		return "", nil, compileErrorf("unknown operation %q", p.Operation)
	}
}
