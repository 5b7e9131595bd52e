package analytics

// LogicalType is the semantic type inferred for a spreadsheet column,
// independent of its physical storage.
type LogicalType string

const (
	TypeString  LogicalType = "string"
	TypeInteger LogicalType = "integer"
	TypeFloat   LogicalType = "float"
	TypeDate    LogicalType = "date"
	TypeBoolean LogicalType = "boolean"
)

// SQLiteType maps a logical type to its physical storage type. Dates are
// stored as UTC epoch seconds, booleans as 0/1.
func SQLiteType(lt LogicalType) string {
	switch lt {
	case TypeInteger, TypeDate, TypeBoolean:
		return "INTEGER"
	case TypeFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

// Operation is a supported tabular operation.
type Operation string

const (
	OpCountRows     Operation = "count_rows"
	OpCountDistinct Operation = "count_distinct"
	OpSum           Operation = "sum"
	OpAvg           Operation = "avg"
	OpMin           Operation = "min"
	OpMax           Operation = "max"
	OpGroupByCount  Operation = "groupby_count"
	OpSelectRows    Operation = "select_rows"
)

// Operator is a filter operator.
type Operator string

const (
	FilterEq         Operator = "eq"
	FilterNeq        Operator = "neq"
	FilterGt         Operator = "gt"
	FilterGte        Operator = "gte"
	FilterLt         Operator = "lt"
	FilterLte        Operator = "lte"
	FilterContains   Operator = "contains"
	FilterStartswith Operator = "startswith"
	FilterIsNull     Operator = "is_null"
	FilterIsNotNull  Operator = "is_not_null"
	FilterYearEquals Operator = "year_equals"
	FilterMonthEquals Operator = "month_equals"
	FilterBetweenDates Operator = "between_dates"
)

// Operator compatibility classes. Numeric operators are also valid on
// date columns (stored as epoch seconds).
var (
	numericOnlyOps = map[Operator]bool{
		FilterGt: true, FilterGte: true, FilterLt: true, FilterLte: true,
	}
	stringOnlyOps = map[Operator]bool{
		FilterContains: true, FilterStartswith: true,
	}
	dateOnlyOps = map[Operator]bool{
		FilterYearEquals: true, FilterMonthEquals: true, FilterBetweenDates: true,
	}
	universalOps = map[Operator]bool{
		FilterEq: true, FilterNeq: true, FilterIsNull: true, FilterIsNotNull: true,
	}
)

// operationsRequiringTarget lists operations that need target_column.
var operationsRequiringTarget = map[Operation]bool{
	OpCountDistinct: true, OpSum: true, OpAvg: true, OpMin: true, OpMax: true,
}

// GroupOrder selects the ORDER BY of a groupby_count.
type GroupOrder string

const (
	OrderCountDesc GroupOrder = "count_desc"
	OrderCountAsc  GroupOrder = "count_asc"
	OrderKeyAsc    GroupOrder = "key_asc"
	OrderKeyDesc   GroupOrder = "key_desc"
)

// Filter is a single predicate in a plan.
type Filter struct {
	Column   string   `json:"column"`
	Operator Operator `json:"operator"`
	// Value is absent for is_null / is_not_null; an integer year for
	// year_equals; "YYYY-MM" for month_equals; [start, end] ISO dates
	// for between_dates.
	Value any `json:"value,omitempty"`
}

// Plan is the declarative tabular query produced by the external planner.
// It is not SQL.
type Plan struct {
	DocumentID    string     `json:"document_id"`
	SheetName     string     `json:"sheet_name,omitempty"`
	Operation     Operation  `json:"operation"`
	TargetColumn  string     `json:"target_column,omitempty"`
	GroupBy       string     `json:"group_by,omitempty"`
	SelectColumns []string   `json:"select_columns,omitempty"`
	Filters       []Filter   `json:"filters,omitempty"`
	Order         GroupOrder `json:"order,omitempty"`
	TopN          int        `json:"top_n,omitempty"`
	Limit         int        `json:"limit,omitempty"`
}

// NormalizePlan coerces absent fields to their defaults: order count_desc,
// top_n 50, limit 100, filters empty.
func NormalizePlan(p *Plan) {
	if p.Order == "" {
		p.Order = OrderCountDesc
	}
	if p.TopN == 0 {
		p.TopN = 50
	}
	if p.Limit == 0 {
		p.Limit = 100
	}
	if p.Filters == nil {
		p.Filters = []Filter{}
	}
}

// Column describes one catalog column of an ingested sheet.
type Column struct {
	Ordinal     int         `json:"ordinal"`
	Original    string      `json:"original"`
	SafeName    string      `json:"safe_name"`
	LogicalType LogicalType `json:"logical_type"`
	StorageType string      `json:"storage_type"`
	Nullable    bool        `json:"nullable"`
}

// Internal reports whether the column is hidden from the planner.
// Internal columns (leading underscore, e.g. _source_row_number) are
// preserved on read but never planner-addressable.
func (c Column) Internal() bool {
	return len(c.Original) > 0 && c.Original[0] == '_'
}

// VisibleColumns filters out internal columns.
func VisibleColumns(cols []Column) []Column {
	out := make([]Column, 0, len(cols))
	for _, c := range cols {
		if !c.Internal() {
			out = append(out, c)
		}
	}
	return out
}

// ColumnProfile summarizes one stored column.
type ColumnProfile struct {
	LogicalType   LogicalType `json:"logical_type"`
	NullRatio     float64     `json:"null_ratio"`
	DistinctCount int         `json:"distinct_count"`
	MinValue      any         `json:"min_value,omitempty"`
	MaxValue      any         `json:"max_value,omitempty"`
}

// TableProfile summarizes an ingested sheet.
type TableProfile struct {
	RowCount int                      `json:"row_count"`
	Columns  map[string]ColumnProfile `json:"columns"`
}
