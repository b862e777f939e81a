// Package warehouse persists ETL tables into postgres. It owns the bulk
// load primitives (replace, append, fail), the post-merge normalizer and the
// one-off key/view scripts applied on a first load.
//
// At most one load process may run against a given warehouse at a time; no
// locking is modeled.
package warehouse

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/alwedo/jobmart/config"
	"github.com/alwedo/jobmart/table"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Mode selects how WriteTable treats an existing table.
type Mode string

const (
	ModeReplace Mode = "replace"
	ModeAppend  Mode = "append"
	ModeFail    Mode = "fail"
)

//go:embed sql/apply_keys.sql
var applyKeysSQL string

//go:embed sql/create_views.sql
var createViewsSQL string

type Store struct {
	pool   *pgxpool.Pool
	schema config.Schema
	logger *slog.Logger
}

func New(pool *pgxpool.Pool, schema config.Schema, logger *slog.Logger) *Store {
	return &Store{pool: pool, schema: schema, logger: logger}
}

// TableNames lists the tables currently present in the public schema.
func (s *Store) TableNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT tablename FROM pg_tables WHERE schemaname = 'public'`)
	if err != nil {
		return nil, fmt.Errorf("warehouse: failed to list tables in TableNames: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("warehouse: failed to scan table name in TableNames: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("warehouse: failed to iterate tables in TableNames: %w", err)
	}
	return names, nil
}

// ReadTable fetches a whole table into memory.
func (s *Store) ReadTable(ctx context.Context, name string) (*table.Table, error) {
	rows, err := s.pool.Query(ctx, "SELECT * FROM "+pgx.Identifier{name}.Sanitize())
	if err != nil {
		return nil, fmt.Errorf("warehouse: failed to read %s in ReadTable: %w", name, err)
	}
	defer rows.Close()

	t := &table.Table{}
	for _, fd := range rows.FieldDescriptions() {
		t.Cols = append(t.Cols, fd.Name)
	}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("warehouse: failed to scan row of %s in ReadTable: %w", name, err)
		}
		row := make([]any, len(vals))
		for i, v := range vals {
			row[i] = normalizeValue(v)
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("warehouse: failed to iterate %s in ReadTable: %w", name, err)
	}
	return t, nil
}

// WriteTable bulk-loads a table. Replace drops and recreates from the schema
// config, append assumes compatible columns, fail errors when the table
// already exists. Each call is one atomic load; there is no partial retry.
func (s *Store) WriteTable(ctx context.Context, t *table.Table, name string, mode Mode) error {
	start := time.Now()
	switch mode {
	case ModeReplace:
		if _, err := s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+pgx.Identifier{name}.Sanitize()); err != nil {
			return fmt.Errorf("warehouse: failed to drop %s in WriteTable: %w", name, err)
		}
		if err := s.createTable(ctx, t, name); err != nil {
			return err
		}
	case ModeAppend:
		// Appending into a missing table is a first write in disguise.
		if err := s.createTable(ctx, t, name); err != nil {
			var pgErr *pgconn.PgError
			if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.DuplicateTable {
				return err
			}
		}
	case ModeFail:
		if err := s.createTable(ctx, t, name); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.DuplicateTable {
				return fmt.Errorf("warehouse: table %s already exists in WriteTable: %w", name, err)
			}
			return err
		}
	default:
		return fmt.Errorf("warehouse: unknown write mode %q in WriteTable", mode)
	}

	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{name}, t.Cols, pgx.CopyFromRows(t.Rows))
	if err != nil {
		s.logger.Error("table write failed", slog.String("table", name), slog.String("error", err.Error()))
		return fmt.Errorf("warehouse: failed to copy into %s in WriteTable: %w", name, err)
	}
	s.logger.Info("table written",
		slog.String("table", name),
		slog.String("mode", string(mode)),
		slog.Int64("rows", n),
		slog.Duration("took", time.Since(start)))
	return nil
}

// columnTypePattern is the allowlist for schema-config type strings; anything
// else is rejected before it can reach the DDL.
var columnTypePattern = regexp.MustCompile(`^[A-Z ]+(\([0-9]+(,[0-9]+)?\))?$`)

func (s *Store) createTable(ctx context.Context, t *table.Table, name string) error {
	types, ok := s.schema[name]
	if !ok {
		return fmt.Errorf("warehouse: no schema declared for table %s in createTable", name)
	}
	ddl := "CREATE TABLE " + pgx.Identifier{name}.Sanitize() + " ("
	for i, col := range t.Cols {
		colType, ok := types[col]
		if !ok {
			return fmt.Errorf("warehouse: no type declared for %s.%s in createTable", name, col)
		}
		if !columnTypePattern.MatchString(colType) {
			return fmt.Errorf("warehouse: invalid type %q for %s.%s in createTable", colType, name, col)
		}
		if i > 0 {
			ddl += ", "
		}
		ddl += pgx.Identifier{col}.Sanitize() + " " + colType
	}
	ddl += ")"
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("warehouse: failed to create %s in createTable: %w", name, err)
	}
	return nil
}

// ExecScript runs a multi-statement SQL script as-is.
func (s *Store) ExecScript(ctx context.Context, sqlText string) error {
	if _, err := s.pool.Exec(ctx, sqlText, pgx.QueryExecModeSimpleProtocol); err != nil {
		return fmt.Errorf("warehouse: failed to execute script in ExecScript: %w", err)
	}
	return nil
}

// ApplyConstraints runs the embedded primary-key script, once, on first load.
func (s *Store) ApplyConstraints(ctx context.Context) error {
	return s.ExecScript(ctx, applyKeysSQL)
}

// CreateViews runs the embedded reporting-view script, once, on first load.
func (s *Store) CreateViews(ctx context.Context) error {
	return s.ExecScript(ctx, createViewsSQL)
}

// EnsureDatabase creates the warehouse database when it doesn't exist yet,
// via the maintenance connection.
func EnsureDatabase(ctx context.Context, adminConnString, dbName string) error {
	conn, err := pgx.Connect(ctx, adminConnString)
	if err != nil {
		return fmt.Errorf("warehouse: failed to connect to maintenance db in EnsureDatabase: %w", err)
	}
	defer conn.Close(ctx)

	var exists bool
	err = conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, dbName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("warehouse: failed to check for database %s in EnsureDatabase: %w", dbName, err)
	}
	if exists {
		return nil
	}
	if _, err := conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{dbName}.Sanitize()); err != nil {
		return fmt.Errorf("warehouse: failed to create database %s in EnsureDatabase: %w", dbName, err)
	}
	return nil
}

// normalizeValue collapses driver-specific scan types into the table cell
// types the ETL operates on.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.UTC()
	default:
		return v
	}
}
