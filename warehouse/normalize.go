package warehouse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

// Deduplicate deletes rows sharing a natural key, keeping the row with the
// lowest surrogate id. Returns the number of rows deleted.
func (s *Store) Deduplicate(ctx context.Context, name, idCol, keyCol string) (int64, error) {
	tbl := pgx.Identifier{name}.Sanitize()
	id := pgx.Identifier{idCol}.Sanitize()
	key := pgx.Identifier{keyCol}.Sanitize()

	q := fmt.Sprintf("DELETE FROM %s a USING %s b WHERE a.%s = b.%s AND a.%s > b.%s",
		tbl, tbl, key, key, id, id)
	ct, err := s.pool.Exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("warehouse: failed to deduplicate %s in Deduplicate: %w", name, err)
	}
	if n := ct.RowsAffected(); n > 0 {
		s.logger.Info("removed duplicate dimension rows",
			slog.String("table", name), slog.Int64("rows", n))
		return n, nil
	}
	return 0, nil
}

// Renumber reassigns the surrogate id column to a dense 1..N sequence ordered
// by the current id, preserving relative order. Runs in two passes through
// negative ids so the update never collides with a not-yet-renumbered row,
// even under a primary key constraint.
//
// Renumbering changes what persisted fact foreign keys mean; callers must
// rebuild the fact table from the renumbered dimensions afterwards.
func (s *Store) Renumber(ctx context.Context, name, idCol string) error {
	tbl := pgx.Identifier{name}.Sanitize()
	id := pgx.Identifier{idCol}.Sanitize()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("warehouse: failed to begin renumber of %s in Renumber: %w", name, err)
	}
	defer tx.Rollback(ctx)

	q := fmt.Sprintf(
		"UPDATE %s SET %s = -r.rn FROM (SELECT %s AS old_id, ROW_NUMBER() OVER (ORDER BY %s) AS rn FROM %s) r WHERE %s.%s = r.old_id",
		tbl, id, id, id, tbl, tbl, id)
	if _, err := tx.Exec(ctx, q); err != nil {
		return fmt.Errorf("warehouse: failed to stage renumber of %s in Renumber: %w", name, err)
	}
	q = fmt.Sprintf("UPDATE %s SET %s = -%s WHERE %s < 0", tbl, id, id, id)
	if _, err := tx.Exec(ctx, q); err != nil {
		return fmt.Errorf("warehouse: failed to finish renumber of %s in Renumber: %w", name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("warehouse: failed to commit renumber of %s in Renumber: %w", name, err)
	}
	return nil
}
