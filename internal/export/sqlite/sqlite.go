// Package sqlite implements the SQLite export backend.
//
// SQLite has no dedicated timestamp type; date values are stored as
// RFC3339 strings for reliable round-trip behavior and easy debugging.
package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"filequery/internal/exec"
	"filequery/internal/export"
	"filequery/internal/schema"
)

var dialect = export.Dialect{
	QuoteOpen:  `"`,
	QuoteClose: `"`,
	Types: map[schema.Type]string{
		schema.Integer: "INTEGER",
		schema.Float:   "REAL",
		schema.Text:    "TEXT",
		schema.Boolean: "INTEGER",
		schema.Date:    "TEXT",
	},
	Fallback: "TEXT",
}

type Exporter struct {
	db *sql.DB
}

func init() {
	export.Register("sqlite", New)
}

func New(ctx context.Context, cfg export.Config) (export.Exporter, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Exporter{db: db}, nil
}

func (e *Exporter) Close() { _ = e.db.Close() }

func (e *Exporter) EnsureTable(ctx context.Context, table string, cols []exec.Column) error {
	_, err := e.db.ExecContext(ctx, dialect.CreateTableSQL(table, cols))
	return err
}

// InsertRows writes rows in one transaction so a failed export never
// leaves a partial table behind.
func (e *Exporter) InsertRows(ctx context.Context, table string, cols []exec.Column, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	names := export.ColumnNames(cols)
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(dialect.QuoteIdent(table))
	b.WriteString(" (")
	for i, n := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(dialect.QuoteIdent(n))
	}
	b.WriteString(") VALUES (")
	for i := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("?")
	}
	b.WriteString(")")

	stmt, err := tx.PrepareContext(ctx, b.String())
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var written int64
	for _, row := range rows {
		args := make([]any, len(cols))
		for i := range cols {
			var v any
			if i < len(row) {
				v = row[i]
			}
			args[i] = bindValue(v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return written, err
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}

func bindValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case bool:
		if t {
			return int64(1)
		}
		return int64(0)
	default:
		return v
	}
}
