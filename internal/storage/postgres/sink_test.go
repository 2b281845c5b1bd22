package postgres

import (
	"strings"
	"testing"

	"nl2sql/internal/storage"
)

func TestBuildCreateSQL_RecordsTable(t *testing.T) {
	ddl, err := buildCreateSQL(storage.RecordsTable)
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "corpus_records" (`,
		`"split" text NOT NULL`,
		`"seq" integer NOT NULL`,
		`"hardness" text,`,
		`"sql_tree" jsonb NOT NULL`,
		`UNIQUE ("split", "seq")`,
	} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("ddl missing %q:\n%s", want, ddl)
		}
	}
}

func TestBuildCreateSQL_SchemasTable(t *testing.T) {
	ddl, err := buildCreateSQL(storage.SchemasTable)
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	if !strings.Contains(ddl, `"loaded_at" timestamptz NOT NULL`) {
		t.Fatalf("loaded_at should be timestamptz:\n%s", ddl)
	}
	if !strings.HasSuffix(ddl, `UNIQUE ("db_id"));`) {
		t.Fatalf("unexpected tail:\n%s", ddl)
	}
}

func TestBuildCreateSQL_Rejects(t *testing.T) {
	cases := []storage.TableSpec{
		{Name: ""},
		{Name: "x", Columns: []storage.ColumnSpec{{Name: "a", Type: "blob"}}},
		{Name: "x", Columns: []storage.ColumnSpec{{Name: " ", Type: storage.TypeText}}},
		{Name: "x", Columns: []storage.ColumnSpec{{Name: "a", Type: storage.TypeText}}, Constraints: []storage.ConstraintSpec{{Kind: "check"}}},
	}
	for i, tc := range cases {
		if _, err := buildCreateSQL(tc); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestBuildInsertSQL_OnConflictAndPlaceholders(t *testing.T) {
	sql, args := buildInsertSQL(
		"corpus_schemas",
		[]string{"db_id", "tables"},
		[][]any{{"shop", 2}, {"bank", 1}},
		[]string{"db_id"},
	)

	want := `INSERT INTO "corpus_schemas" ("db_id", "tables") VALUES ($1, $2), ($3, $4) ON CONFLICT ("db_id") DO NOTHING;`
	if sql != want {
		t.Fatalf("sql mismatch\n got: %s\nwant: %s", sql, want)
	}
	if len(args) != 4 || args[0] != "shop" || args[3] != 1 {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestBuildInsertSQL_NoConflictClause(t *testing.T) {
	sql, _ := buildInsertSQL("t", []string{"a"}, [][]any{{1}}, nil)
	if strings.Contains(sql, "ON CONFLICT") {
		t.Fatalf("unexpected ON CONFLICT: %s", sql)
	}
}

func TestBuildDeleteSplitSQL(t *testing.T) {
	got := buildDeleteSplitSQL("corpus_records")
	if got != `DELETE FROM "corpus_records" WHERE "split" = $1;` {
		t.Fatalf("got %s", got)
	}
}

func TestMaxRowsPerStatement(t *testing.T) {
	n := maxRowsPerStatement(len(storage.SchemasTable.Columns))
	if n*len(storage.SchemasTable.Columns) > 65535 {
		t.Fatalf("batch of %d rows exceeds the parameter limit", n)
	}
	if maxRowsPerStatement(0) != 1 {
		t.Fatalf("zero columns should yield 1")
	}
}
