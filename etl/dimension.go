package etl

import (
	"github.com/alwedo/jobmart/table"
)

// BuildDimension extracts the distinct values of naturalKey from the land
// table in order of first appearance and assigns a dense 1-based surrogate id
// named {naturalKey}_id. The output is reordered to colOrder.
//
// A missing-value marker (empty string) counts as one distinct value like any
// other; it is not filtered out.
func BuildDimension(land *table.Table, naturalKey string, colOrder []string) *table.Table {
	vals := land.DistinctValues(naturalKey)

	dim := table.New(naturalKey)
	ids := make([]any, 0, len(vals))
	for i, v := range vals {
		dim.Rows = append(dim.Rows, []any{v})
		ids = append(ids, int64(i+1))
	}
	return dim.AddCol(naturalKey+"_id", ids).Reorder(colOrder)
}
