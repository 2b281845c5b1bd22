package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nl2sql/internal/storage"
)

func TestParseSQLiteTime_TableDriven(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		wantUTC string
		wantErr bool
	}{
		{name: "rfc3339nano", in: "2026-01-27T12:17:08.123456789Z", wantUTC: "2026-01-27T12:17:08.123456789Z"},
		{name: "rfc3339", in: "2026-01-27T12:17:08Z", wantUTC: "2026-01-27T12:17:08Z"},
		{name: "sqlite_space_tz", in: "2026-01-27 12:17:08+00:00", wantUTC: "2026-01-27T12:17:08Z"},
		{name: "sqlite_no_tz_assume_utc", in: "2026-01-27 12:17:08", wantUTC: "2026-01-27T12:17:08Z"},
		{name: "invalid", in: "not-a-time", wantErr: true},
		{name: "empty", in: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSQLiteTime(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSQLiteTime(%q) err=%v wantErr=%v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			want, _ := time.Parse(time.RFC3339Nano, tt.wantUTC)
			if !got.Equal(want) {
				t.Fatalf("got=%s want=%s", got.Format(time.RFC3339Nano), want.Format(time.RFC3339Nano))
			}
		})
	}
}

func TestBuildCreateTableSQL(t *testing.T) {
	t.Parallel()

	ddl, err := buildCreateTableSQL(storage.RecordsTable)
	if err != nil {
		t.Fatalf("buildCreateTableSQL: %v", err)
	}
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS corpus_records",
		`"seq" INTEGER NOT NULL`,
		`"utterance_id" TEXT,`,
		`UNIQUE ("split", "seq")`,
	} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("ddl missing %q:\n%s", want, ddl)
		}
	}

	if _, err := buildCreateTableSQL(storage.TableSpec{Name: " "}); err == nil {
		t.Fatalf("expected error for empty table name")
	}
	bad := storage.TableSpec{Name: "x", Columns: []storage.ColumnSpec{{Name: "a", Type: "blob"}}}
	if _, err := buildCreateTableSQL(bad); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}

func openSink(t *testing.T) *Sink {
	t.Helper()
	ctx := context.Background()
	sink, err := storage.New(ctx, storage.Config{Kind: "sqlite", DSN: filepath.Join(t.TempDir(), "export.db")})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(sink.Close)
	if err := sink.EnsureTables(ctx); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}
	// Idempotent.
	if err := sink.EnsureTables(ctx); err != nil {
		t.Fatalf("EnsureTables (second): %v", err)
	}
	return sink.(*Sink)
}

func TestSink_InsertSchemasFirstWriterWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openSink(t)

	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.FixedZone("KST", 9*3600))
	first := []storage.SchemaRow{
		{DBID: "shop", Tables: 3, Columns: 5, Definition: `{"db_id":"shop"}`, RunID: "run-1", LoadedAt: at},
		{DBID: "bank", Tables: 1, Columns: 2, Definition: `{"db_id":"bank"}`, RunID: "run-1", LoadedAt: at},
	}
	n, err := s.InsertSchemas(ctx, first)
	if err != nil || n != 2 {
		t.Fatalf("InsertSchemas: n=%d err=%v", n, err)
	}

	second := []storage.SchemaRow{
		{DBID: "shop", Tables: 9, Columns: 9, Definition: `{"db_id":"shop","v":2}`, RunID: "run-2", LoadedAt: at},
		{DBID: "zoo", Tables: 1, Columns: 1, Definition: `{"db_id":"zoo"}`, RunID: "run-2", LoadedAt: at},
	}
	n, err = s.InsertSchemas(ctx, second)
	if err != nil || n != 1 {
		t.Fatalf("InsertSchemas (second): n=%d err=%v", n, err)
	}

	var tables int
	var runID, loaded string
	err = s.db.QueryRowContext(ctx, `SELECT "tables", "run_id", "loaded_at" FROM corpus_schemas WHERE "db_id" = ?`, "shop").
		Scan(&tables, &runID, &loaded)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if tables != 3 || runID != "run-1" {
		t.Fatalf("shop row overwritten: tables=%d run_id=%s", tables, runID)
	}
	got, err := parseSQLiteTime(loaded)
	if err != nil || !got.Equal(at) {
		t.Fatalf("loaded_at=%q parsed=%v err=%v", loaded, got, err)
	}
}

func TestSink_ReplaceRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openSink(t)

	rows := func(split string, n int, run string) []storage.RecordRow {
		out := make([]storage.RecordRow, n)
		for i := range out {
			out[i] = storage.RecordRow{Split: split, Seq: i, DBID: "shop", Query: "SELECT * FROM t", Question: "질문", SQLTree: "{}", RunID: run}
		}
		return out
	}

	if _, err := s.ReplaceRecords(ctx, "train", rows("train", 1200, "a")); err != nil {
		t.Fatalf("ReplaceRecords train: %v", err)
	}
	dev := rows("dev", 3, "a")
	hard := "hard"
	dev[2].Hardness = &hard
	if _, err := s.ReplaceRecords(ctx, "dev", dev); err != nil {
		t.Fatalf("ReplaceRecords dev: %v", err)
	}
	n, err := s.ReplaceRecords(ctx, "train", rows("train", 2, "b"))
	if err != nil || n != 2 {
		t.Fatalf("ReplaceRecords train again: n=%d err=%v", n, err)
	}

	count := func(split string) int {
		var c int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM corpus_records WHERE "split" = ?`, split).Scan(&c); err != nil {
			t.Fatalf("count: %v", err)
		}
		return c
	}
	if got := count("train"); got != 2 {
		t.Fatalf("train rows=%d, want 2", got)
	}
	if got := count("dev"); got != 3 {
		t.Fatalf("dev rows=%d, want 3", got)
	}

	var q string
	if err := s.db.QueryRowContext(ctx, `SELECT "question" FROM corpus_records WHERE "split" = 'dev' AND "seq" = 2`).Scan(&q); err != nil || q != "질문" {
		t.Fatalf("question=%q err=%v", q, err)
	}

	var utteranceID, hardness sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT "utterance_id", "hardness" FROM corpus_records WHERE "split" = 'dev' AND "seq" = 2`).
		Scan(&utteranceID, &hardness)
	if err != nil {
		t.Fatalf("select meta: %v", err)
	}
	if utteranceID.Valid || hardness.String != "hard" {
		t.Fatalf("utterance_id=%v hardness=%v, want NULL and hard", utteranceID, hardness)
	}
}

// parseSQLiteTime parses timestamps returned by SQLite into time.Time.
//
// Supported formats:
//   - RFC3339Nano (what we write)
//   - RFC3339
//   - Common "SQLite-like" formats used by other tools/libs:
//     "2006-01-02 15:04:05Z07:00"
//     "2006-01-02 15:04:05.999999999Z07:00"
//     "2006-01-02 15:04:05" (interpreted as UTC)
func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}
