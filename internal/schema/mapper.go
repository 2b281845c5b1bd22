package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"nl2sql/internal/corpus"
)

// WildcardKey is the idMap key of the "all columns" pseudo-column.
const WildcardKey = "*"

var (
	// ErrWildcardMissing: column_names_original[0] is not the (-1, "*") entry.
	ErrWildcardMissing = errors.New("schema: first column is not the wildcard")

	// ErrKeyCollision: two entries produce the same idMap key.
	ErrKeyCollision = errors.New("schema: idMap key collision")

	// ErrTableRef: a column points at a table id that does not exist.
	ErrTableRef = errors.New("schema: column references unknown table")
)

// Mapper is the idMap of one schema: lower-cased "table.column" keys and the
// wildcard map to column ids, lower-cased bare table names map to table ids.
//
// A Mapper is immutable after construction and safe for concurrent reads.
type Mapper struct {
	ids        map[string]int
	columnKeys []string
	columns    int
	tables     int
}

// NewMapper builds the idMap for s.
//
// Columns are inserted first (wildcard, then "table.column" keys in column
// order), tables last. The wildcard must be column 0.
//
// Errors:
//   - ErrWildcardMissing when column 0 is absent or not the wildcard.
//   - ErrTableRef when a column's table id is out of range.
//   - ErrKeyCollision when two columns, or a table and an earlier key, fold
//     to the same key; the map would otherwise silently lose an id.
func NewMapper(s *corpus.Schema) (*Mapper, error) {
	cols := s.ColumnNamesOriginal
	if len(cols) == 0 || !cols[0].IsWildcard() {
		return nil, fmt.Errorf("%w (db_id=%s)", ErrWildcardMissing, s.DBID)
	}

	tables := s.TableNamesOriginal
	m := &Mapper{
		ids:     make(map[string]int, len(cols)+len(tables)),
		columns: len(cols),
		tables:  len(tables),
	}

	put := func(key string, id int) error {
		if prev, ok := m.ids[key]; ok {
			return fmt.Errorf("%w: %q -> %d and %d (db_id=%s)", ErrKeyCollision, key, prev, id, s.DBID)
		}
		m.ids[key] = id
		return nil
	}

	for i, c := range cols {
		key := WildcardKey
		if !c.IsWildcard() {
			if c.TableID < 0 || c.TableID >= len(tables) {
				return nil, fmt.Errorf("%w: column %d (%s) table_id=%d (db_id=%s)", ErrTableRef, i, c.Name, c.TableID, s.DBID)
			}
			key = ColumnKey(tables[c.TableID], c.Name)
		}
		if err := put(key, i); err != nil {
			return nil, err
		}
		m.columnKeys = append(m.columnKeys, key)
	}
	for i, t := range tables {
		if err := put(strings.ToLower(t), i); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ColumnKey returns the idMap key for a table-qualified column.
func ColumnKey(table, column string) string {
	return strings.ToLower(table) + "." + strings.ToLower(column)
}

// ID returns the id stored under key (already lower-cased).
func (m *Mapper) ID(key string) (int, bool) {
	id, ok := m.ids[key]
	return id, ok
}

// Column returns the column id of table.column.
func (m *Mapper) Column(table, column string) (int, bool) {
	return m.ID(ColumnKey(table, column))
}

// Table returns the table id of name.
func (m *Mapper) Table(name string) (int, bool) {
	return m.ID(strings.ToLower(name))
}

// Wildcard returns the id of the "*" column (always 0).
func (m *Mapper) Wildcard() int { return m.ids[WildcardKey] }

// NumColumns returns the number of column ids, wildcard included.
func (m *Mapper) NumColumns() int { return m.columns }

// NumTables returns the number of table ids.
func (m *Mapper) NumTables() int { return m.tables }

// ColumnIDs returns the ids held by the wildcard and "table.column" keys,
// sorted. For a valid mapper it is exactly 0..NumColumns()-1.
func (m *Mapper) ColumnIDs() []int {
	out := make([]int, 0, len(m.columnKeys))
	for _, k := range m.columnKeys {
		out = append(out, m.ids[k])
	}
	sort.Ints(out)
	return out
}

// Map returns a copy of the full idMap.
func (m *Mapper) Map() map[string]int {
	out := make(map[string]int, len(m.ids))
	for k, v := range m.ids {
		out[k] = v
	}
	return out
}
