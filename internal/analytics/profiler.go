package analytics

import "math"

// BuildProfile summarizes normalized rows for a sheet. Internal columns
// (leading underscore) are skipped. Min/max are computed only for
// numeric storage (integer, float, date-as-epoch).
func BuildProfile(cols []Column, rows [][]any) *TableProfile {
	profile := &TableProfile{
		RowCount: len(rows),
		Columns:  make(map[string]ColumnProfile),
	}

	for idx, col := range cols {
		if col.Internal() {
			continue
		}

		nulls := 0
		distinct := make(map[any]struct{})
		var minV, maxV float64
		hasNumeric := false

		for _, row := range rows {
			if idx >= len(row) {
				nulls++
				continue
			}
			v := row[idx]
			if v == nil {
				nulls++
				continue
			}
			distinct[v] = struct{}{}

			if col.LogicalType == TypeInteger || col.LogicalType == TypeFloat || col.LogicalType == TypeDate {
				if f, ok := toFloat(v); ok {
					if !hasNumeric || f < minV {
						minV = f
					}
					if !hasNumeric || f > maxV {
						maxV = f
					}
					hasNumeric = true
				}
			}
		}

		cp := ColumnProfile{
			LogicalType:   col.LogicalType,
			NullRatio:     roundRatio(nulls, len(rows)),
			DistinctCount: len(distinct),
		}
		if hasNumeric {
			cp.MinValue = numericValue(minV)
			cp.MaxValue = numericValue(maxV)
		}
		profile.Columns[col.Original] = cp
	}
	return profile
}

func roundRatio(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*1e6) / 1e6
}

// numericValue renders integral floats as integers.
func numericValue(f float64) any {
	if f == math.Trunc(f) {
		return int64(f)
	}
	return f
}
