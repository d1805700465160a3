// Package mssql implements the SQL Server export backend.
//
// SQL Server has no CREATE TABLE IF NOT EXISTS; table creation is
// guarded with an object_id check instead.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"filequery/internal/exec"
	"filequery/internal/export"
	"filequery/internal/schema"
)

var dialect = export.Dialect{
	QuoteOpen:  "[",
	QuoteClose: "]",
	Types: map[schema.Type]string{
		schema.Integer: "BIGINT",
		schema.Float:   "FLOAT",
		schema.Text:    "NVARCHAR(MAX)",
		schema.Boolean: "BIT",
		schema.Date:    "DATETIME2",
	},
	Fallback: "NVARCHAR(MAX)",
}

type Exporter struct {
	db *sql.DB
}

func init() {
	export.Register("mssql", New)
}

func New(ctx context.Context, cfg export.Config) (export.Exporter, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
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
	var b strings.Builder
	fmt.Fprintf(&b, "IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (",
		strings.ReplaceAll(table, "'", "''"), dialect.QuoteIdent(table))
	names := export.ColumnNames(cols)
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(dialect.QuoteIdent(names[i]))
		b.WriteByte(' ')
		b.WriteString(dialect.ColumnType(c.Type))
	}
	b.WriteString(")")

	_, err := e.db.ExecContext(ctx, b.String())
	return err
}

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
		fmt.Fprintf(&b, "@p%d", i+1)
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
			if i < len(row) {
				args[i] = row[i]
			}
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
