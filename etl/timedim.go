package etl

import (
	"fmt"
	"time"

	"github.com/alwedo/jobmart/table"

	"github.com/google/uuid"
)

// TimeDimensionColumns is the fixed layout of dim_date.
var TimeDimensionColumns = []string{
	"date_extracted_id", "date_uuid", "year", "month", "day",
	"date", "timestamp", "date_extracted", "quarter", "day_of_week",
	"month_name", "is_month_start", "is_month_end", "is_leap_year",
	"is_quarter_start", "is_quarter_end",
}

// BuildTimeDimension derives calendar attributes from dtCol for every input
// row and attaches a fresh random date_uuid per row. It does not deduplicate:
// the output keeps the input row count. Callers wanting one row per distinct
// timestamp must pass a table already deduplicated by BuildDimension.
func BuildTimeDimension(t *table.Table, dtCol string, colOrder []string) (*table.Table, error) {
	n, err := CoerceTime(t, dtCol)
	if err != nil {
		return nil, fmt.Errorf("etl: failed to coerce %q in BuildTimeDimension: %w", dtCol, err)
	}

	i := n.ColIndex(dtCol)
	derived := map[string][]any{}
	names := []string{
		"year", "month", "day", "timestamp", "date", "quarter",
		"day_of_week", "month_name", "is_month_start", "is_month_end",
		"is_leap_year", "is_quarter_start", "is_quarter_end", "date_uuid",
	}
	for _, r := range n.Rows {
		ts := r[i].(time.Time)
		y, m, d := ts.Date()
		derived["year"] = append(derived["year"], int64(y))
		derived["month"] = append(derived["month"], int64(m))
		derived["day"] = append(derived["day"], int64(d))
		derived["timestamp"] = append(derived["timestamp"], ts.Format("15:04:05"))
		derived["date"] = append(derived["date"], time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
		derived["quarter"] = append(derived["quarter"], int64((int(m)-1)/3+1))
		derived["day_of_week"] = append(derived["day_of_week"], ts.Weekday().String())
		derived["month_name"] = append(derived["month_name"], m.String())
		derived["is_month_start"] = append(derived["is_month_start"], d == 1)
		derived["is_month_end"] = append(derived["is_month_end"], d == daysInMonth(y, m))
		derived["is_leap_year"] = append(derived["is_leap_year"], isLeapYear(y))
		derived["is_quarter_start"] = append(derived["is_quarter_start"], d == 1 && (m == time.January || m == time.April || m == time.July || m == time.October))
		derived["is_quarter_end"] = append(derived["is_quarter_end"], d == daysInMonth(y, m) && (m == time.March || m == time.June || m == time.September || m == time.December))
		derived["date_uuid"] = append(derived["date_uuid"], uuid.NewString())
	}
	for _, name := range names {
		n = n.AddCol(name, derived[name])
	}
	return n.Reorder(colOrder), nil
}

func isLeapYear(y int) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

func daysInMonth(y int, m time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
