// Package postgres implements the PostgreSQL export backend on pgx.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"filequery/internal/exec"
	"filequery/internal/export"
	"filequery/internal/schema"
)

var dialect = export.Dialect{
	QuoteOpen:  `"`,
	QuoteClose: `"`,
	Types: map[schema.Type]string{
		schema.Integer: "BIGINT",
		schema.Float:   "DOUBLE PRECISION",
		schema.Text:    "TEXT",
		schema.Boolean: "BOOLEAN",
		schema.Date:    "TIMESTAMPTZ",
	},
	Fallback: "TEXT",
}

type Exporter struct {
	pool *pgxpool.Pool
}

func init() {
	export.Register("postgres", New)
}

func New(ctx context.Context, cfg export.Config) (export.Exporter, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Exporter{pool: pool}, nil
}

func (e *Exporter) Close() { e.pool.Close() }

func (e *Exporter) EnsureTable(ctx context.Context, table string, cols []exec.Column) error {
	_, err := e.pool.Exec(ctx, dialect.CreateTableSQL(table, cols))
	return err
}

// InsertRows uses COPY, the fast path for bulk loads in Postgres.
func (e *Exporter) InsertRows(ctx context.Context, table string, cols []exec.Column, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	names := export.ColumnNames(cols)
	src := make([][]any, len(rows))
	for i, row := range rows {
		r := make([]any, len(cols))
		copy(r, row)
		src[i] = r
	}

	return e.pool.CopyFrom(ctx,
		pgx.Identifier{table},
		names,
		pgx.CopyFromRows(src),
	)
}
