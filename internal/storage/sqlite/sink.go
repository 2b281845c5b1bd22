package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"nl2sql/internal/storage"
)

// Sink implements storage.Sink for SQLite.
//
// Differences from Postgres:
//   - SQLite has no timestamp type; loaded_at is an RFC3339Nano UTC string.
//   - JSON columns are TEXT.
type Sink struct {
	db *sql.DB
}

// maxRowsPerStatement keeps multi-row inserts under SQLite's bound
// parameter limit for the widest export table.
const maxRowsPerStatement = 500

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Sink{db: db}, nil
}

func (s *Sink) Close() { _ = s.db.Close() }

// EnsureTables creates the export tables when missing. It is idempotent.
func (s *Sink) EnsureTables(ctx context.Context) error {
	for _, t := range storage.Tables() {
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// InsertSchemas uses INSERT OR IGNORE, which relies on the UNIQUE (db_id)
// constraint of the schemas table.
func (s *Sink) InsertSchemas(ctx context.Context, rows []storage.SchemaRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	values := storage.SchemaValues(rows)
	for _, v := range values {
		v[len(v)-1] = formatSQLiteTime(v[len(v)-1].(time.Time))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	n, err := insertBatches(ctx, tx, "INSERT OR IGNORE INTO ", storage.SchemasTable, values)
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// ReplaceRecords deletes the split and reinserts it in one transaction.
func (s *Sink) ReplaceRecords(ctx context.Context, split string, rows []storage.RecordRow) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	del := fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, storage.RecordsTable.Name, sqlIdent("split"))
	if _, err := tx.ExecContext(ctx, del, split); err != nil {
		return 0, fmt.Errorf("delete split %s: %w", split, err)
	}

	n, err := insertBatches(ctx, tx, "INSERT INTO ", storage.RecordsTable, storage.RecordValues(rows))
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func insertBatches(ctx context.Context, tx *sql.Tx, prefix string, t storage.TableSpec, values [][]any) (int64, error) {
	var total int64
	for _, c := range storage.Chunks(len(values), maxRowsPerStatement) {
		q, args := buildInsertSQL(prefix, t.Name, t.ColumnNames(), values[c[0]:c[1]])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("insert into %s: %w", t.Name, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func columnType(portable string) (string, error) {
	switch portable {
	case storage.TypeKey, storage.TypeText, storage.TypeJSON, storage.TypeTime:
		return "TEXT", nil
	case storage.TypeInt:
		return "INTEGER", nil
	default:
		return "", fmt.Errorf("sqlite: unsupported column type %q", portable)
	}
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}
	var parts []string
	for _, c := range t.Columns {
		typ, err := columnType(c.Type)
		if err != nil {
			return "", err
		}
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), typ)
		if !c.Nullable {
			col += " NOT NULL"
		}
		parts = append(parts, col)
	}
	for _, con := range t.Constraints {
		if con.Kind != "unique" {
			return "", fmt.Errorf("%s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		var cols []string
		for _, c := range con.Columns {
			cols = append(cols, sqlIdent(c))
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", strings.Join(cols, ", ")))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", t.Name, strings.Join(parts, ",\n  ")), nil
}

func buildInsertSQL(prefix, table string, columns []string, rows [][]any) (string, []any) {
	colList := make([]string, 0, len(columns))
	for _, c := range columns {
		colList = append(colList, sqlIdent(c))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}
	return b.String(), args
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
