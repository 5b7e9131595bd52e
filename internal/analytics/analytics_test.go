package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"quarry/internal/types"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	// Minimal documents table so catalog joins resolve.
	_, err = db.Exec(`CREATE TABLE documents (
		document_id TEXT PRIMARY KEY,
		filename TEXT, doc_type TEXT, size_bytes INTEGER,
		status TEXT, uploaded_at DATETIME, error_message TEXT)`)
	require.NoError(t, err)
	return db
}

// fixtureSheet is a 10-row customers sheet: four 2020 subscriptions,
// three in 2021, three in 2022; amounts 101..110; Active alternating.
func fixtureSheet() types.Sheet {
	dates := []string{
		"2020-03-15", "2020-07-01", "2020-11-30", "2020-12-31",
		"2021-01-01", "2021-06-15", "2021-12-31",
		"2022-02-28", "2022-06-01", "2022-12-15",
	}
	names := []string{"Ada", "Ben", "Cleo", "Dan", "Eve", "Finn", "Gia", "Hal", "Ines", "Jo"}
	rows := make([][]string, 10)
	for i := 0; i < 10; i++ {
		active := "no"
		if (i+1)%2 == 0 {
			active = "yes"
		}
		rows[i] = []string{
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("C%04d", i+1),
			names[i],
			dates[i],
			fmt.Sprintf("%d", 101+i),
			active,
		}
	}
	return types.Sheet{
		Name:    "Customers",
		Headers: []string{"Index", "Customer Id", "First Name", "Subscription Date", "Amount", "Active"},
		Rows:    rows,
	}
}

func ingestFixture(t *testing.T, db *sql.DB) (*Catalog, *Executor) {
	t.Helper()
	catalog, err := NewCatalog(db)
	require.NoError(t, err)

	wb := &types.Workbook{Sheets: []types.Sheet{fixtureSheet()}}
	require.NoError(t, NewIngestor(db, catalog).IngestWorkbook(context.Background(), "doc-1", wb))
	return catalog, NewExecutor(db, catalog)
}

func exec(t *testing.T, e *Executor, p *Plan) *Result {
	t.Helper()
	res, err := e.Execute(context.Background(), p)
	require.NoError(t, err)
	return res
}

// --- naming ---

func TestSafeNameShape(t *testing.T) {
	re := regexp.MustCompile(`^col_[a-z0-9_]+$`)
	for _, h := range []string{"Customer Id", "  Amount ($)", "Índex!!", "a--b__c"} {
		assert.Regexp(t, re, SafeName(h), "header %q", h)
	}
	assert.Equal(t, "col_customer_id", SafeName("Customer Id"))
	assert.Equal(t, "col_source_row_number", SafeName("_source_row_number"))
}

func TestSafeNameMapCollisions(t *testing.T) {
	m := SafeNameMap([]string{"Amount", "amount", "AMOUNT!"})
	seen := map[string]bool{}
	for _, v := range m {
		assert.False(t, seen[v], "duplicate safe name %q", v)
		seen[v] = true
	}
	assert.Equal(t, "col_amount", m["Amount"])
}

func TestTableNameDeterministic(t *testing.T) {
	a := TableName("doc-1", "Sheet1")
	b := TableName("doc-1", "Sheet1")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, TableName("doc-1", "Sheet2"))
	assert.Regexp(t, `^doc_[a-z0-9_]{1,24}__[0-9a-f]{10}$`, a)
}

// --- inference & normalization ---

func TestInferLogicalType(t *testing.T) {
	cases := []struct {
		values []string
		want   LogicalType
	}{
		{[]string{"2020-03-15", "2021-01-01", "2022-12-15"}, TypeDate},
		{[]string{"yes", "no", "yes"}, TypeBoolean},
		{[]string{"true", "false"}, TypeBoolean},
		{[]string{"1", "0", "1"}, TypeBoolean},
		{[]string{"1", "2", "30"}, TypeInteger},
		{[]string{"1.5", "2.25", "3.75"}, TypeFloat},
		{[]string{"alice", "bob"}, TypeString},
		{[]string{}, TypeString},
		{[]string{"", "  ", ""}, TypeString},
		// Integral floats are integers.
		{[]string{"1.0", "2.0", "3.0"}, TypeInteger},
		// One stray value out of ten still infers date (>= 80%).
		{[]string{"2020-01-01", "2020-01-02", "2020-01-03", "2020-01-04", "n/a"}, TypeDate},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, InferLogicalType(tc.values), "values %v", tc.values)
	}
}

func TestNormalizeCell(t *testing.T) {
	assert.Equal(t, int64(1584230400), NormalizeCell("2020-03-15", TypeDate))
	assert.Nil(t, NormalizeCell("not a date", TypeDate))

	assert.Equal(t, int64(1), NormalizeCell("yes", TypeBoolean))
	assert.Equal(t, int64(1), NormalizeCell("1.0", TypeBoolean))
	assert.Equal(t, int64(0), NormalizeCell("no", TypeBoolean))

	assert.Equal(t, int64(42), NormalizeCell("42", TypeInteger))
	assert.Equal(t, int64(42), NormalizeCell("42.0", TypeInteger))
	assert.Nil(t, NormalizeCell("forty-two", TypeInteger))

	assert.Equal(t, 3.5, NormalizeCell("3.5", TypeFloat))
	assert.Equal(t, "hello", NormalizeCell("  hello ", TypeString))
	assert.Nil(t, NormalizeCell("   ", TypeString))
}

func TestEpochRanges(t *testing.T) {
	start, end := yearRange(2020)
	assert.Equal(t, int64(1577836800), start) // 2020-01-01T00:00:00Z
	assert.Equal(t, int64(1609459200), end)   // 2021-01-01T00:00:00Z

	// December wraps to January of the next year.
	start, end = monthRange(2020, 12)
	assert.Equal(t, int64(1606780800), start)
	assert.Equal(t, int64(1609459200), end)
}

// --- compiler ---

func TestCompilerPurity(t *testing.T) {
	cols := []Column{
		{Ordinal: 1, Original: "Subscription Date", SafeName: "col_subscription_date", LogicalType: TypeDate, StorageType: "INTEGER"},
	}
	p := &Plan{
		DocumentID: "doc-1",
		Operation:  OpCountRows,
		Filters:    []Filter{{Column: "Subscription Date", Operator: FilterYearEquals, Value: 2020}},
	}
	NormalizePlan(p)
	sql1, params1, err := Compile(p, "t", cols)
	require.NoError(t, err)
	sql2, params2, err := Compile(p, "t", cols)
	require.NoError(t, err)
	assert.Equal(t, sql1, sql2)
	assert.Equal(t, params1, params2)
	assert.Equal(t, "SELECT COUNT(1) AS count FROM t WHERE (col_subscription_date >= ? AND col_subscription_date < ?);", sql1)
	assert.Equal(t, []any{int64(1577836800), int64(1609459200)}, params1)
}

func TestCompileUnknownColumn(t *testing.T) {
	p := &Plan{Operation: OpCountRows, Filters: []Filter{{Column: "Nope", Operator: FilterEq, Value: 1}}}
	NormalizePlan(p)
	_, _, err := Compile(p, "t", nil)
	var ce *CompilationError
	require.ErrorAs(t, err, &ce)
}

// --- validator ---

func TestValidatorRejections(t *testing.T) {
	cols := []Column{
		{Ordinal: 0, Original: "_source_row_number", SafeName: "col_source_row_number", LogicalType: TypeInteger},
		{Ordinal: 1, Original: "Name", SafeName: "col_name", LogicalType: TypeString},
		{Ordinal: 2, Original: "Subscription Date", SafeName: "col_subscription_date", LogicalType: TypeDate},
		{Ordinal: 3, Original: "Score", SafeName: "col_score", LogicalType: TypeFloat},
	}

	cases := []struct {
		name string
		plan Plan
	}{
		{"sum without target", Plan{Operation: OpSum}},
		{"sum on string column", Plan{Operation: OpSum, TargetColumn: "Name"}},
		{"contains on date column", Plan{Operation: OpCountRows,
			Filters: []Filter{{Column: "Subscription Date", Operator: FilterContains, Value: "2020"}}}},
		{"year_equals on float column", Plan{Operation: OpCountRows,
			Filters: []Filter{{Column: "Score", Operator: FilterYearEquals, Value: 2020}}}},
		{"unknown filter column", Plan{Operation: OpCountRows,
			Filters: []Filter{{Column: "Ghost", Operator: FilterEq, Value: 1}}}},
		{"internal column is invisible", Plan{Operation: OpCountRows,
			Filters: []Filter{{Column: "_source_row_number", Operator: FilterEq, Value: 1}}}},
		{"groupby without columns", Plan{Operation: OpGroupByCount}},
		{"unknown select column", Plan{Operation: OpSelectRows, SelectColumns: []string{"Ghost"}}},
		{"missing filter value", Plan{Operation: OpCountRows,
			Filters: []Filter{{Column: "Score", Operator: FilterGt}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := tc.plan
			NormalizePlan(&p)
			err := ValidatePlan(&p, cols)
			var ve *PlanValidationError
			require.ErrorAs(t, err, &ve)
		})
	}
}

func TestValidatorAllowsNumericOpsOnDates(t *testing.T) {
	cols := []Column{
		{Ordinal: 1, Original: "Subscription Date", SafeName: "col_subscription_date", LogicalType: TypeDate},
	}
	p := &Plan{Operation: OpCountRows,
		Filters: []Filter{{Column: "Subscription Date", Operator: FilterGte, Value: 1577836800}}}
	NormalizePlan(p)
	assert.NoError(t, ValidatePlan(p, cols))
}

// --- end-to-end over the fixture ---

func TestCountRowsAndYearPartition(t *testing.T) {
	db := openTestDB(t)
	_, e := ingestFixture(t, db)

	total := exec(t, e, &Plan{DocumentID: "doc-1", Operation: OpCountRows})
	assert.Equal(t, int64(10), total.Data["count"])
	assert.Equal(t, "Counted 10 rows.", total.Summary)

	wantByYear := map[int]int64{2020: 4, 2021: 3, 2022: 3}
	var sum int64
	for year, want := range wantByYear {
		res := exec(t, e, &Plan{
			DocumentID: "doc-1",
			Operation:  OpCountRows,
			Filters:    []Filter{{Column: "Subscription Date", Operator: FilterYearEquals, Value: year}},
		})
		assert.Equal(t, want, res.Data["count"], "year %d", year)
		sum += res.Data["count"].(int64)
	}
	assert.Equal(t, int64(10), sum, "year partition must cover every row")
}

func TestMonthEquals(t *testing.T) {
	db := openTestDB(t)
	_, e := ingestFixture(t, db)

	res := exec(t, e, &Plan{
		DocumentID: "doc-1",
		Operation:  OpCountRows,
		Filters:    []Filter{{Column: "Subscription Date", Operator: FilterMonthEquals, Value: "2020-03"}},
	})
	assert.Equal(t, int64(1), res.Data["count"])

	// Twelve months of 2021 partition the year.
	var monthSum int64
	for m := 1; m <= 12; m++ {
		res := exec(t, e, &Plan{
			DocumentID: "doc-1",
			Operation:  OpCountRows,
			Filters:    []Filter{{Column: "Subscription Date", Operator: FilterMonthEquals, Value: fmt.Sprintf("2021-%02d", m)}},
		})
		monthSum += res.Data["count"].(int64)
	}
	assert.Equal(t, int64(3), monthSum)
}

func TestBetweenDatesInclusive(t *testing.T) {
	db := openTestDB(t)
	_, e := ingestFixture(t, db)

	res := exec(t, e, &Plan{
		DocumentID: "doc-1",
		Operation:  OpCountRows,
		Filters: []Filter{{
			Column:   "Subscription Date",
			Operator: FilterBetweenDates,
			Value:    []any{"2020-01-01", "2020-12-31"},
		}},
	})
	// End bound is inclusive: the 2020-12-31 row is counted.
	assert.Equal(t, int64(4), res.Data["count"])

	// A single-day interval counts exactly that day's rows.
	day := exec(t, e, &Plan{
		DocumentID: "doc-1",
		Operation:  OpCountRows,
		Filters: []Filter{{
			Column:   "Subscription Date",
			Operator: FilterBetweenDates,
			Value:    []any{"2020-03-15", "2020-03-15"},
		}},
	})
	assert.Equal(t, int64(1), day.Data["count"])
}

func TestSumAvgMinMax(t *testing.T) {
	db := openTestDB(t)
	_, e := ingestFixture(t, db)

	sum := exec(t, e, &Plan{DocumentID: "doc-1", Operation: OpSum, TargetColumn: "Amount"})
	assert.Equal(t, int64(1055), sum.Data["sum"])
	assert.Equal(t, "Sum of 'Amount' is 1055.", sum.Summary)

	avg := exec(t, e, &Plan{DocumentID: "doc-1", Operation: OpAvg, TargetColumn: "Amount"})
	assert.Equal(t, 105.5, avg.Data["avg"])

	min := exec(t, e, &Plan{DocumentID: "doc-1", Operation: OpMin, TargetColumn: "Amount"})
	assert.Equal(t, int64(101), min.Data["min"])

	max := exec(t, e, &Plan{DocumentID: "doc-1", Operation: OpMax, TargetColumn: "Amount"})
	assert.Equal(t, int64(110), max.Data["max"])
}

func TestCountDistinct(t *testing.T) {
	db := openTestDB(t)
	_, e := ingestFixture(t, db)

	res := exec(t, e, &Plan{DocumentID: "doc-1", Operation: OpCountDistinct, TargetColumn: "Customer Id"})
	assert.Equal(t, int64(10), res.Data["count_distinct"])
}

func TestGroupByCount(t *testing.T) {
	db := openTestDB(t)
	_, e := ingestFixture(t, db)

	res := exec(t, e, &Plan{
		DocumentID: "doc-1",
		Operation:  OpGroupByCount,
		GroupBy:    "Active",
		Order:      OrderCountDesc,
		TopN:       10,
	})
	groups := res.Data["rows"].([]GroupRow)
	require.Len(t, groups, 2)
	var total int64
	for _, g := range groups {
		assert.Equal(t, int64(5), g.Count)
		total += g.Count
	}
	assert.Equal(t, int64(10), total)
}

func TestBooleanEqFilter(t *testing.T) {
	db := openTestDB(t)
	_, e := ingestFixture(t, db)

	res := exec(t, e, &Plan{
		DocumentID: "doc-1",
		Operation:  OpCountRows,
		Filters:    []Filter{{Column: "Active", Operator: FilterEq, Value: 1}},
	})
	assert.Equal(t, int64(5), res.Data["count"])
}

func TestSelectRows(t *testing.T) {
	db := openTestDB(t)
	_, e := ingestFixture(t, db)

	res := exec(t, e, &Plan{
		DocumentID:    "doc-1",
		Operation:     OpSelectRows,
		SelectColumns: []string{"First Name", "Amount"},
		Filters:       []Filter{{Column: "Index", Operator: FilterEq, Value: 3}},
	})
	assert.Equal(t, 1, res.Data["row_count"])
	rows := res.Data["rows"].([]map[string]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "Cleo", rows[0]["First Name"])
	assert.Equal(t, int64(103), rows[0]["Amount"])
	assert.Equal(t, "Retrieved 1 matching row(s).", res.Summary)
}

func TestSelectRowsAllVisibleColumns(t *testing.T) {
	db := openTestDB(t)
	_, e := ingestFixture(t, db)

	res := exec(t, e, &Plan{
		DocumentID: "doc-1",
		Operation:  OpSelectRows,
		Filters:    []Filter{{Column: "Index", Operator: FilterLte, Value: 2}},
	})
	assert.Equal(t, 2, res.Data["row_count"])
	cols := res.Data["columns"].([]string)
	assert.NotContains(t, cols, "_source_row_number")
	assert.Contains(t, cols, "Customer Id")
}

func TestDefaultSheetResolution(t *testing.T) {
	db := openTestDB(t)
	catalog, e := ingestFixture(t, db)

	// No sheet named: the first ingested sheet resolves as default.
	sheet, err := catalog.ResolveSheetName(context.Background(), "doc-1", "")
	require.NoError(t, err)
	assert.Equal(t, "Customers", sheet)

	_, err = e.Execute(context.Background(), &Plan{DocumentID: "doc-9", Operation: OpCountRows})
	var re *RoutingError
	require.ErrorAs(t, err, &re)
}

func TestDeleteDocumentDropsTables(t *testing.T) {
	db := openTestDB(t)
	catalog, _ := ingestFixture(t, db)

	table := TableName("doc-1", "Customers")
	var n int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n))
	require.Equal(t, 1, n)

	require.NoError(t, catalog.DeleteDocument(context.Background(), "doc-1"))

	require.NoError(t, db.QueryRow(
		`SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n))
	assert.Equal(t, 0, n)

	_, err := catalog.GetTableName(context.Background(), "doc-1", "Customers")
	var re *RoutingError
	assert.ErrorAs(t, err, &re)
}

func TestProfile(t *testing.T) {
	db := openTestDB(t)
	catalog, _ := ingestFixture(t, db)

	profile, err := catalog.GetProfile(context.Background(), "doc-1", "Customers")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, 10, profile.RowCount)

	amount := profile.Columns["Amount"]
	assert.Equal(t, TypeInteger, amount.LogicalType)
	assert.Equal(t, 0.0, amount.NullRatio)
	assert.Equal(t, 10, amount.DistinctCount)
	assert.EqualValues(t, 101, amount.MinValue)
	assert.EqualValues(t, 110, amount.MaxValue)

	_, hasInternal := profile.Columns["_source_row_number"]
	assert.False(t, hasInternal)
}

func TestListAllDocumentIDs(t *testing.T) {
	db := openTestDB(t)
	catalog, _ := ingestFixture(t, db)

	// Not ready yet: excluded.
	ids, err := catalog.ListAllDocumentIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = db.Exec(`INSERT INTO documents (document_id, status) VALUES ('doc-1', 'ready')`)
	require.NoError(t, err)

	ids, err = catalog.ListAllDocumentIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1"}, ids)
}

// --- router ---

func TestRoute(t *testing.T) {
	cases := []struct {
		query  string
		want   bool
		reason string
	}{
		{"how many customers subscribed in 2020?", true, "aggregation_intent"},
		{"average amount per customer", true, "aggregation_intent"},
		{"list customers from France", true, "list_filter_intent"},
		{"what are the emails of inactive users", true, "list_filter_intent"},
		{"tell me about the refund policy", false, "default_rag"},
		{"", false, "empty_query"},
		{"   ", false, "empty_query"},
	}
	for _, tc := range cases {
		got := Route(tc.query)
		assert.Equal(t, tc.want, got.UseAnalytics, "query %q", tc.query)
		assert.Equal(t, tc.reason, got.Reason, "query %q", tc.query)
	}
}
