package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nl2sql/internal/storage"
)

/*
Sink implements storage.Sink for Postgres.

It provides:
  - Schema inserts with ON CONFLICT (db_id) DO NOTHING
  - Per-split record replacement using DELETE + COPY in one transaction
*/
type Sink struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New creates a new Postgres-backed Sink.
func New(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Sink{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Sink) Close() {
	s.pool.Close()
}

// EnsureTables creates the export tables if they do not exist.
func (s *Sink) EnsureTables(ctx context.Context) error {
	for _, t := range storage.Tables() {
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// InsertSchemas inserts schema rows, skipping db_ids already stored.
func (s *Sink) InsertSchemas(ctx context.Context, rows []storage.SchemaRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	t := storage.SchemasTable
	values := storage.SchemaValues(rows)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var total int64
	for _, c := range storage.Chunks(len(values), maxRowsPerStatement(len(t.Columns))) {
		sql, args := buildInsertSQL(t.Name, t.ColumnNames(), values[c[0]:c[1]], []string{"db_id"})
		cmd, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return total, fmt.Errorf("postgres: insert into %s: %w", t.Name, err)
		}
		total += cmd.RowsAffected()
	}
	return total, tx.Commit(ctx)
}

// ReplaceRecords deletes the split and copies rows back in one transaction.
func (s *Sink) ReplaceRecords(ctx context.Context, split string, rows []storage.RecordRow) (int64, error) {
	t := storage.RecordsTable

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, buildDeleteSplitSQL(t.Name), split); err != nil {
		return 0, fmt.Errorf("postgres: delete split %s: %w", split, err)
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{t.Name}, t.ColumnNames(), pgx.CopyFromRows(storage.RecordValues(rows)))
	if err != nil {
		return 0, fmt.Errorf("postgres: copy into %s: %w", t.Name, err)
	}
	return n, tx.Commit(ctx)
}

// Postgres allows at most 65535 bind parameters per statement.
func maxRowsPerStatement(columns int) int {
	if columns <= 0 {
		return 1
	}
	return 65000 / columns
}

func pgIdent(id string) string {
	return pgx.Identifier{id}.Sanitize()
}

func columnType(portable string) (string, error) {
	switch portable {
	case storage.TypeKey, storage.TypeText:
		return "text", nil
	case storage.TypeJSON:
		return "jsonb", nil
	case storage.TypeInt:
		return "integer", nil
	case storage.TypeTime:
		return "timestamptz", nil
	default:
		return "", fmt.Errorf("postgres: unsupported column type %q", portable)
	}
}

// buildColumnDef renders one column definition of the CREATE TABLE statement.
func buildColumnDef(c storage.ColumnSpec) (string, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return "", fmt.Errorf("column name must be set")
	}
	typ, err := columnType(c.Type)
	if err != nil {
		return "", err
	}
	def := pgIdent(name) + " " + typ
	if !c.Nullable {
		def += " NOT NULL"
	}
	return def, nil
}

// buildCreateSQL returns CREATE TABLE IF NOT EXISTS for t.
//
// Only UNIQUE constraints are supported; they back the ON CONFLICT targets.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}
	var defs []string
	for _, c := range t.Columns {
		def, err := buildColumnDef(c)
		if err != nil {
			return "", fmt.Errorf("%s: %w", t.Name, err)
		}
		defs = append(defs, def)
	}
	for _, con := range t.Constraints {
		if con.Kind != "unique" {
			return "", fmt.Errorf("%s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		cols := make([]string, len(con.Columns))
		for i, c := range con.Columns {
			cols[i] = pgIdent(c)
		}
		defs = append(defs, fmt.Sprintf("UNIQUE (%s)", strings.Join(cols, ", ")))
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, pgIdent(t.Name), strings.Join(defs, ", ")), nil
}

func buildDeleteSplitSQL(table string) string {
	return fmt.Sprintf(`DELETE FROM %s WHERE %s = $1;`, pgIdent(table), pgIdent("split"))
}

// buildInsertSQL constructs a single INSERT statement and its args for Postgres.
//
// It is pure and deterministic, so placeholder numbering and the ON CONFLICT
// clause are unit tested without a database.
//
// Constraints:
//   - rows must have the same length as columns for every row.
//   - columns must be non-empty.
func buildInsertSQL(table string, columns []string, rows [][]any, conflictColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(fmt.Sprintf("$%d", p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	if len(conflictColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		for i, c := range conflictColumns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(pgIdent(c))
		}
		b.WriteString(") DO NOTHING")
	}

	b.WriteString(";")
	return b.String(), args
}
