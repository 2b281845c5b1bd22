// The table specs live here so every backend builds its DDL and inserts from
// one description of the export tables.
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"nl2sql/internal/corpus"
)

// Portable column types. Each backend maps them to a native type.
const (
	TypeKey  = "key"  // short identifier, indexable (db_id, split, run id)
	TypeText = "text" // unbounded text
	TypeJSON = "json" // JSON document
	TypeInt  = "int"
	TypeTime = "time" // UTC timestamp
)

type TableSpec struct {
	Name        string
	Columns     []ColumnSpec
	Constraints []ConstraintSpec
}

type ColumnSpec struct {
	Name     string
	Type     string
	Nullable bool
}

type ConstraintSpec struct {
	Kind    string // "unique"
	Columns []string
}

// ColumnNames returns the column names of t, in order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// SchemasTable holds one row per admitted schema.
var SchemasTable = TableSpec{
	Name: "corpus_schemas",
	Columns: []ColumnSpec{
		{Name: "db_id", Type: TypeKey},
		{Name: "tables", Type: TypeInt},
		{Name: "columns", Type: TypeInt},
		{Name: "definition", Type: TypeJSON},
		{Name: "run_id", Type: TypeKey},
		{Name: "loaded_at", Type: TypeTime},
	},
	Constraints: []ConstraintSpec{{Kind: "unique", Columns: []string{"db_id"}}},
}

// RecordsTable holds the canonical records of every split.
var RecordsTable = TableSpec{
	Name: "corpus_records",
	Columns: []ColumnSpec{
		{Name: "split", Type: TypeKey},
		{Name: "seq", Type: TypeInt},
		{Name: "db_id", Type: TypeKey},
		{Name: "utterance_id", Type: TypeText, Nullable: true},
		{Name: "hardness", Type: TypeText, Nullable: true},
		{Name: "utterance_type", Type: TypeText, Nullable: true},
		{Name: "query", Type: TypeText},
		{Name: "question", Type: TypeText},
		{Name: "sql_tree", Type: TypeJSON},
		{Name: "run_id", Type: TypeKey},
	},
	Constraints: []ConstraintSpec{{Kind: "unique", Columns: []string{"split", "seq"}}},
}

// Tables lists the export tables in creation order.
func Tables() []TableSpec { return []TableSpec{SchemasTable, RecordsTable} }

// SchemaRow is one row of SchemasTable.
type SchemaRow struct {
	DBID       string
	Tables     int
	Columns    int
	Definition string
	RunID      string
	LoadedAt   time.Time
}

// Values returns the row aligned with SchemasTable.Columns.
func (r SchemaRow) Values() []any {
	return []any{r.DBID, r.Tables, r.Columns, r.Definition, r.RunID, r.LoadedAt.UTC()}
}

// RecordRow is one row of RecordsTable.
type RecordRow struct {
	Split         string
	Seq           int
	DBID          string
	UtteranceID   *string // nil stores NULL
	Hardness      *string
	UtteranceType *string
	Query         string
	Question      string
	SQLTree       string
	RunID         string
}

// Values returns the row aligned with RecordsTable.Columns.
func (r RecordRow) Values() []any {
	return []any{r.Split, r.Seq, r.DBID, r.UtteranceID, r.Hardness, r.UtteranceType, r.Query, r.Question, r.SQLTree, r.RunID}
}

// SchemaRows converts schemas, keeping their order.
func SchemaRows(schemas []corpus.Schema, runID string, at time.Time) ([]SchemaRow, error) {
	out := make([]SchemaRow, 0, len(schemas))
	for _, s := range schemas {
		b, err := corpus.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("storage: encode schema %s: %w", s.DBID, err)
		}
		out = append(out, SchemaRow{
			DBID:       s.DBID,
			Tables:     len(s.TableNamesOriginal),
			Columns:    len(s.ColumnNamesOriginal),
			Definition: string(b),
			RunID:      runID,
			LoadedAt:   at,
		})
	}
	return out, nil
}

// RecordRows converts records of split; Seq is the position in the output
// file, starting at 0.
func RecordRows(records []corpus.Record, split, runID string) ([]RecordRow, error) {
	out := make([]RecordRow, 0, len(records))
	for i, r := range records {
		b, err := corpus.Marshal(r.SQL)
		if err != nil {
			return nil, fmt.Errorf("storage: encode record %d sql: %w", i, err)
		}
		out = append(out, RecordRow{
			Split:         split,
			Seq:           i,
			DBID:          r.DBID,
			UtteranceID:   metaText(r.UtteranceID),
			Hardness:      metaText(r.Hardness),
			UtteranceType: metaText(r.UtteranceType),
			Query:         r.Query,
			Question:      r.Question,
			SQLTree:       string(b),
			RunID:         runID,
		})
	}
	return out, nil
}

func metaText(raw json.RawMessage) *string {
	s, ok := corpus.MetaText(raw)
	if !ok {
		return nil
	}
	return &s
}

// SchemaValues and RecordValues flatten rows for bulk statements.
func SchemaValues(rows []SchemaRow) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = r.Values()
	}
	return out
}

func RecordValues(rows []RecordRow) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = r.Values()
	}
	return out
}

// Chunks splits n rows into [start, end) batches of at most size rows.
func Chunks(n, size int) [][2]int {
	if size <= 0 {
		size = n
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}
