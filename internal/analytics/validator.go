package analytics

import "quarry/internal/logging"

// ValidatePlan checks a normalized plan against the sheet's column
// catalog. Columns whose original header starts with an underscore are
// internal and invisible to the planner.
func ValidatePlan(p *Plan, cols []Column) error {
	visible := make(map[string]Column)
	for _, c := range VisibleColumns(cols) {
		visible[c.Original] = c
	}

	if operationsRequiringTarget[p.Operation] {
		if p.TargetColumn == "" {
			return validationErrorf("operation %s requires target_column", p.Operation)
		}
		col, ok := visible[p.TargetColumn]
		if !ok {
			return validationErrorf("unknown target_column %q", p.TargetColumn)
		}
		if p.Operation == OpSum || p.Operation == OpAvg {
			if col.LogicalType != TypeInteger && col.LogicalType != TypeFloat {
				return validationErrorf("operation %s requires a numeric column, %q is %s",
					p.Operation, p.TargetColumn, col.LogicalType)
			}
		}
	}

	if p.Operation == OpGroupByCount {
		groupCol := p.GroupBy
		if groupCol == "" {
			groupCol = p.TargetColumn
		}
		if groupCol == "" {
			return validationErrorf("groupby_count requires group_by or target_column")
		}
		if _, ok := visible[groupCol]; !ok {
			return validationErrorf("unknown group column %q", groupCol)
		}
	}

	if p.Operation == OpSelectRows && p.SelectColumns != nil {
		for _, name := range p.SelectColumns {
			if _, ok := visible[name]; !ok {
				return validationErrorf("unknown select column %q", name)
			}
		}
	}

	for _, f := range p.Filters {
		col, ok := visible[f.Column]
		if !ok {
			return validationErrorf("unknown filter column %q", f.Column)
		}
		if err := checkOperatorCompat(f, col); err != nil {
			return err
		}
	}
	return nil
}

// checkOperatorCompat enforces operator–type policy. Universal operators
// skip the compatibility check; numeric operators are also valid on date
// columns (epoch storage).
func checkOperatorCompat(f Filter, col Column) error {
	if universalOps[f.Operator] {
		if (f.Operator == FilterEq || f.Operator == FilterNeq) && f.Value == nil {
			return validationErrorf("filter %s on %q requires a value", f.Operator, f.Column)
		}
		return nil
	}
	if f.Value == nil {
		return validationErrorf("filter %s on %q requires a value", f.Operator, f.Column)
	}

	switch {
	case numericOnlyOps[f.Operator]:
		if col.LogicalType != TypeInteger && col.LogicalType != TypeFloat && col.LogicalType != TypeDate {
			return validationErrorf("operator %s is not valid on %s column %q",
				f.Operator, col.LogicalType, f.Column)
		}
	case stringOnlyOps[f.Operator]:
		if col.LogicalType != TypeString {
			return validationErrorf("operator %s is not valid on %s column %q",
				f.Operator, col.LogicalType, f.Column)
		}
	case dateOnlyOps[f.Operator]:
		if col.LogicalType != TypeDate {
			return validationErrorf("operator %s is not valid on %s column %q",
				f.Operator, col.LogicalType, f.Column)
		}
	default:
		return validationErrorf("unknown filter operator %q", f.Operator)
	}
	return nil
}

// ValidateResult sanity-checks a formatted result against the stored
// profile. Violations are logged, never raised.
func ValidateResult(p *Plan, data map[string]any, profile *TableProfile) {
	if profile == nil {
		return
	}
	check := func(key string) {
		v, ok := data[key]
		if !ok {
			return
		}
		n, ok := toInt(v)
		if ok && n > int64(profile.RowCount) {
			logging.AnalyticsWarn("%s result %d exceeds profiled row count %d for document %s",
				p.Operation, n, profile.RowCount, p.DocumentID)
		}
	}
	switch p.Operation {
	case OpCountRows:
		check("count")
	case OpCountDistinct:
		check("count_distinct")
	}
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
