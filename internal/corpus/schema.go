// Package corpus defines the on-disk shapes of the text-to-SQL corpus:
// database schema definitions (tables.json entries), raw vendor annotation
// records, canonical records and gold lines.
//
// Vendor files are inconsistent, so the JSON decoders here are tolerant:
//   - string lists accept a bare string in place of a one-element list
//   - column lists accept a bare (table_id, name) pair in place of a list of pairs
//   - unknown schema fields are kept verbatim and written back unchanged
package corpus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// WildcardTable is the table id of the "*" pseudo-column.
const WildcardTable = -1

// Column is one (table_id, column_name) pair of column_names(_original).
// It is encoded as a two-element JSON array.
type Column struct {
	TableID int
	Name    string
}

// IsWildcard reports whether c is the "all columns" pseudo-column.
func (c Column) IsWildcard() bool { return c.TableID == WildcardTable }

func (c Column) MarshalJSON() ([]byte, error) {
	return Marshal([]any{c.TableID, c.Name})
}

func (c *Column) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("column: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("column: want [table_id, name], got %d elements", len(pair))
	}
	id, err := decodeTableID(pair[0])
	if err != nil {
		return err
	}
	name, _, err := decodeText(pair[1])
	if err != nil {
		return fmt.Errorf("column name: %w", err)
	}
	c.TableID = id
	c.Name = name
	return nil
}

// decodeTableID accepts 3, 3.0 and "3".
func decodeTableID(raw json.RawMessage) (int, error) {
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, fmt.Errorf("column table id: %w", err)
	}
	switch t := v.(type) {
	case json.Number:
		n = t
	case string:
		n = json.Number(strings.TrimSpace(t))
	default:
		return 0, fmt.Errorf("column table id: unsupported type %T", v)
	}
	if i, err := n.Int64(); err == nil {
		return int(i), nil
	}
	f, err := n.Float64()
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("column table id: not an integer: %q", n)
	}
	return int(f), nil
}

// Columns is an ordered column list; index = column id.
type Columns []Column

func (cs *Columns) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if bytes.Equal(trimmed, []byte("null")) {
		*cs = nil
		return nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return fmt.Errorf("columns: %w", err)
	}
	// A bare pair such as [-1, "*"] starts with a scalar, not with an array.
	if len(elems) > 0 {
		first := bytes.TrimSpace(elems[0])
		if len(first) > 0 && first[0] != '[' {
			var c Column
			if err := c.UnmarshalJSON(trimmed); err != nil {
				return err
			}
			*cs = Columns{c}
			return nil
		}
	}
	out := make(Columns, len(elems))
	for i, e := range elems {
		if err := out[i].UnmarshalJSON(e); err != nil {
			return fmt.Errorf("columns[%d]: %w", i, err)
		}
	}
	*cs = out
	return nil
}

// Strings is a string list that also accepts a bare JSON string.
type Strings []string

func (s *Strings) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*s = nil
		return nil
	case len(trimmed) > 0 && trimmed[0] == '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return err
		}
		out := make(Strings, len(elems))
		for i, e := range elems {
			v, _, err := decodeText(e)
			if err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = v
		}
		*s = out
		return nil
	default:
		v, _, err := decodeText(trimmed)
		if err != nil {
			return err
		}
		*s = Strings{v}
		return nil
	}
}

// Schema is one database schema definition as stored in tables.json.
//
// Only the fields the pipeline reasons about are typed. Every other key
// (foreign_keys, primary_keys, vendor extras) is kept in Extra and written
// back verbatim by MarshalJSON.
type Schema struct {
	DBID                string
	TableNamesOriginal  Strings
	TableNames          Strings
	ColumnNamesOriginal Columns
	ColumnNames         Columns
	ColumnTypes         Strings

	// Extra holds the remaining keys, raw.
	Extra map[string]json.RawMessage

	hasTableNames  bool
	hasColumnNames bool
}

const (
	keyDBID                = "db_id"
	keyTableNamesOriginal  = "table_names_original"
	keyTableNames          = "table_names"
	keyColumnNamesOriginal = "column_names_original"
	keyColumnNames         = "column_names"
	keyColumnTypes         = "column_types"
)

// ErrNotSchema is returned when an element of a source file has no db_id.
var ErrNotSchema = errors.New("corpus: element is not a schema definition")

func (s *Schema) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	rawID, ok := fields[keyDBID]
	if !ok {
		return ErrNotSchema
	}
	id, _, err := decodeText(rawID)
	if err != nil {
		return fmt.Errorf("schema db_id: %w", err)
	}
	*s = Schema{DBID: id}

	decode := func(key string, dst json.Unmarshaler) (bool, error) {
		raw, ok := fields[key]
		if !ok {
			return false, nil
		}
		delete(fields, key)
		if err := dst.UnmarshalJSON(raw); err != nil {
			return true, fmt.Errorf("schema %s %s: %w", id, key, err)
		}
		return true, nil
	}
	delete(fields, keyDBID)

	if _, err := decode(keyTableNamesOriginal, &s.TableNamesOriginal); err != nil {
		return err
	}
	if s.hasTableNames, err = decode(keyTableNames, &s.TableNames); err != nil {
		return err
	}
	if _, err := decode(keyColumnNamesOriginal, &s.ColumnNamesOriginal); err != nil {
		return err
	}
	if s.hasColumnNames, err = decode(keyColumnNames, &s.ColumnNames); err != nil {
		return err
	}
	if _, err := decode(keyColumnTypes, &s.ColumnTypes); err != nil {
		return err
	}
	if len(fields) > 0 {
		s.Extra = fields
	}
	return nil
}

// MarshalJSON writes the schema with keys in lexical order, which is the
// layout of the reference tables.json files.
func (s Schema) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 6+len(s.Extra))
	for k, v := range s.Extra {
		out[k] = v
	}
	out[keyDBID] = s.DBID
	out[keyTableNamesOriginal] = nonNilStrings(s.TableNamesOriginal)
	out[keyColumnNamesOriginal] = nonNilColumns(s.ColumnNamesOriginal)
	out[keyColumnTypes] = nonNilStrings(s.ColumnTypes)
	if s.hasTableNames || s.TableNames != nil {
		out[keyTableNames] = nonNilStrings(s.TableNames)
	}
	if s.hasColumnNames || s.ColumnNames != nil {
		out[keyColumnNames] = nonNilColumns(s.ColumnNames)
	}
	return Marshal(out)
}

// NaturalColumns returns column_names when the source provided it, else
// column_names_original.
func (s Schema) NaturalColumns() Columns {
	if s.hasColumnNames || s.ColumnNames != nil {
		return s.ColumnNames
	}
	return s.ColumnNamesOriginal
}

// ExtraKeys returns the preserved extra keys, sorted.
func (s Schema) ExtraKeys() []string {
	keys := make([]string, 0, len(s.Extra))
	for k := range s.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func nonNilStrings(s Strings) Strings {
	if s == nil {
		return Strings{}
	}
	return s
}

func nonNilColumns(c Columns) Columns {
	if c == nil {
		return Columns{}
	}
	return c
}

// decodeText decodes a JSON scalar into its string form. Numbers keep their
// literal spelling; null decodes to "" with present=false.
func decodeText(raw json.RawMessage) (v string, present bool, err error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return "", false, err
	}
	switch t := x.(type) {
	case nil:
		return "", false, nil
	case string:
		return t, true, nil
	case json.Number:
		return t.String(), true, nil
	case bool:
		return strconv.FormatBool(t), true, nil
	default:
		return "", false, fmt.Errorf("want scalar, got %T", x)
	}
}
