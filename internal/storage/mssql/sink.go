package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"nl2sql/internal/storage"
)

// Sink implements storage.Sink for Microsoft SQL Server.
//
// Schema inserts use a set-based INSERT ... SELECT ... WHERE NOT EXISTS over a
// VALUES source. SQL Server does not collapse duplicate keys inside that
// source, so each batch is deduplicated by db_id first (first occurrence
// wins, matching Postgres ON CONFLICT DO NOTHING).
type Sink struct {
	db *sql.DB
}

// SQL Server accepts at most 2100 parameters per statement.
const maxParams = 2000

func init() {
	storage.Register("mssql", New)
}

// New opens the "sqlserver" driver and validates connectivity via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Sink{db: db}, nil
}

// Close releases database resources held by this sink.
func (s *Sink) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// EnsureTables creates the export tables behind an OBJECT_ID guard.
func (s *Sink) EnsureTables(ctx context.Context) error {
	for _, t := range storage.Tables() {
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// InsertSchemas inserts schema rows whose db_id is not stored yet.
func (s *Sink) InsertSchemas(ctx context.Context, rows []storage.SchemaRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	t := storage.SchemasTable
	columns := t.ColumnNames()
	values, err := dedupeRowsByColumns(storage.SchemaValues(rows), columns, []string{"db_id"})
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, c := range storage.Chunks(len(values), maxRowsPerStatement(len(columns))) {
		q, args := buildInsertNotExistsSQL(t.Name, columns, values[c[0]:c[1]], []string{"db_id"})
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("mssql: insert into %s: %w", t.Name, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, tx.Commit()
}

// ReplaceRecords deletes the split and reinserts it in one transaction.
func (s *Sink) ReplaceRecords(ctx context.Context, split string, rows []storage.RecordRow) (int64, error) {
	t := storage.RecordsTable
	columns := t.ColumnNames()
	values := storage.RecordValues(rows)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	del := fmt.Sprintf("DELETE FROM %s WHERE %s = @p1;", mssqlIdent(t.Name), mssqlIdent("split"))
	if _, err := tx.ExecContext(ctx, del, split); err != nil {
		return 0, fmt.Errorf("mssql: delete split %s: %w", split, err)
	}

	var total int64
	for _, c := range storage.Chunks(len(values), maxRowsPerStatement(len(columns))) {
		q, args := buildBulkInsertSQL(t.Name, columns, values[c[0]:c[1]])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("mssql: insert into %s: %w", t.Name, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, tx.Commit()
}

func maxRowsPerStatement(columns int) int {
	if columns <= 0 {
		return 1
	}
	if n := maxParams / columns; n > 0 {
		return n
	}
	return 1
}

func columnType(portable string) (string, error) {
	switch portable {
	case storage.TypeKey:
		return "NVARCHAR(128)", nil
	case storage.TypeText, storage.TypeJSON:
		return "NVARCHAR(MAX)", nil
	case storage.TypeInt:
		return "INT", nil
	case storage.TypeTime:
		return "DATETIME2", nil
	default:
		return "", fmt.Errorf("mssql: unsupported column type %q", portable)
	}
}

// mssqlColumnDef builds a SQL Server column definition from storage.ColumnSpec.
func mssqlColumnDef(c storage.ColumnSpec) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", fmt.Errorf("mssql: column name is empty")
	}
	typ, err := columnType(c.Type)
	if err != nil {
		return "", err
	}
	def := mssqlIdent(c.Name) + " " + typ
	if c.Nullable {
		def += " NULL"
	} else {
		def += " NOT NULL"
	}
	return def, nil
}

func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}
	var parts []string
	for _, c := range t.Columns {
		def, err := mssqlColumnDef(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, def)
	}
	for _, con := range t.Constraints {
		if con.Kind != "unique" {
			return "", fmt.Errorf("mssql: %s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		cols := make([]string, len(con.Columns))
		for i, c := range con.Columns {
			cols[i] = mssqlIdent(c)
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", strings.Join(cols, ", ")))
	}
	return wrapCreateIfMissing(t.Name, strings.Join(parts, ", ")), nil
}

// wrapCreateIfMissing keeps EnsureTables idempotent without IF NOT EXISTS syntax.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(tableName, "'", "''"),
		mssqlIdent(tableName),
		innerDefs,
	)
}

// writeValues appends "(@pN, ...), (...)" for rows and returns the args.
func writeValues(b *strings.Builder, columns int, rows [][]any) []any {
	args := make([]any, 0, len(rows)*columns)
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := 0; j < columns; j++ {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return args
}

func writeColumnList(b *strings.Builder, prefix string, columns []string) {
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(prefix)
		b.WriteString(mssqlIdent(c))
	}
}

func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlIdent(table))
	b.WriteString(" (")
	writeColumnList(&b, "", columns)
	b.WriteString(") VALUES ")
	args := writeValues(&b, len(columns), rows)
	b.WriteString(";")
	return b.String(), args
}

// buildInsertNotExistsSQL inserts only the rows whose dedupe key is absent
// from table.
func buildInsertNotExistsSQL(table string, columns []string, rows [][]any, dedupeColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlIdent(table))
	b.WriteString(" (")
	writeColumnList(&b, "", columns)
	b.WriteString(") SELECT ")
	writeColumnList(&b, "v.", columns)
	b.WriteString(" FROM (VALUES ")
	args := writeValues(&b, len(columns), rows)
	b.WriteString(") AS v(")
	writeColumnList(&b, "", columns)
	b.WriteString(") WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(mssqlIdent(table))
	b.WriteString(" t WHERE ")
	for i, dc := range dedupeColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("t.")
		b.WriteString(mssqlIdent(dc))
		b.WriteString(" = v.")
		b.WriteString(mssqlIdent(dc))
	}
	b.WriteString(");")
	return b.String(), args
}

// dedupeRowsByColumns keeps the first row of every dedupe key, in order.
func dedupeRowsByColumns(rows [][]any, columns []string, dedupeColumns []string) ([][]any, error) {
	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		pos[c] = i
	}
	idx := make([]int, len(dedupeColumns))
	for i, dc := range dedupeColumns {
		p, ok := pos[dc]
		if !ok {
			return nil, fmt.Errorf("mssql: dedupe column %q not present in columns", dc)
		}
		idx[i] = p
	}

	seen := make(map[string]bool, len(rows))
	out := make([][]any, 0, len(rows))
	for _, row := range rows {
		var key strings.Builder
		for _, p := range idx {
			fmt.Fprintf(&key, "%T:%v\x1f", row[p], row[p])
		}
		if seen[key.String()] {
			continue
		}
		seen[key.String()] = true
		out = append(out, row)
	}
	return out, nil
}

func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}
