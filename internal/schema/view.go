package schema

import (
	"strings"

	"nl2sql/internal/corpus"
)

// View is the simplified schema consumed by the decomposer: lower-cased
// table names mapped to their lower-cased column names, in column order.
type View struct {
	// Tables lists lower-cased table names in table id order.
	Tables []string
	// Columns maps a lower-cased table name to its lower-cased column names.
	Columns map[string][]string
}

// NewView derives the View of s. The wildcard column belongs to no table.
func NewView(s *corpus.Schema) View {
	v := View{
		Tables:  make([]string, len(s.TableNamesOriginal)),
		Columns: make(map[string][]string, len(s.TableNamesOriginal)),
	}
	for i, t := range s.TableNamesOriginal {
		name := strings.ToLower(t)
		v.Tables[i] = name
		cols := []string{}
		for _, c := range s.ColumnNamesOriginal {
			if c.TableID == i {
				cols = append(cols, strings.ToLower(c.Name))
			}
		}
		v.Columns[name] = cols
	}
	return v
}

// HasTable reports whether table (lower-cased) exists.
func (v View) HasTable(table string) bool {
	_, ok := v.Columns[table]
	return ok
}

// HasColumn reports whether column belongs to table (both lower-cased).
func (v View) HasColumn(table, column string) bool {
	for _, c := range v.Columns[table] {
		if c == column {
			return true
		}
	}
	return false
}
