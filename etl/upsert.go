package etl

import (
	"fmt"

	"github.com/alwedo/jobmart/table"
)

// Upsert reconciles a freshly built dimension against the persisted one and
// returns only the rows to append. Rows whose natural key already exists in
// persisted are dropped first (persisted rows win), then the survivors take
// dense ids starting above the highest persisted id, in incoming order.
//
// Precondition: incoming must already be deduplicated by keyCol.
// BuildDimension guarantees this; id assignment is order-dependent otherwise.
func Upsert(persisted, incoming *table.Table, idCol, keyCol string) (*table.Table, error) {
	if persisted.ColIndex(idCol) < 0 || incoming.ColIndex(idCol) < 0 {
		return nil, fmt.Errorf("etl: missing id column %q in Upsert", idCol)
	}
	if persisted.ColIndex(keyCol) < 0 || incoming.ColIndex(keyCol) < 0 {
		return nil, fmt.Errorf("etl: missing natural key column %q in Upsert", keyCol)
	}

	var maxID int64
	for _, v := range persisted.Col(idCol) {
		id, ok := table.AsInt64(v)
		if !ok {
			return nil, fmt.Errorf("etl: non-integer id %v in persisted dimension in Upsert", v)
		}
		if id > maxID {
			maxID = id
		}
	}

	persistedKeys := make(map[any]bool, persisted.Len())
	for _, v := range persisted.Col(keyCol) {
		persistedKeys[table.CellKey(v)] = true
	}

	out := &table.Table{Cols: append([]string(nil), incoming.Cols...)}
	keyIdx := incoming.ColIndex(keyCol)
	for _, r := range incoming.Rows {
		if persistedKeys[table.CellKey(r[keyIdx])] {
			continue
		}
		out.Rows = append(out.Rows, append([]any(nil), r...))
	}

	idIdx := out.ColIndex(idCol)
	for i, r := range out.Rows {
		r[idIdx] = maxID + 1 + int64(i)
	}
	return out, nil
}
