// Package schema validates database schema definitions and derives the two
// structures SQL decomposition needs: a simplified table→columns View and an
// identifier Mapper (the idMap).
package schema

import (
	"errors"
	"fmt"
	"strings"

	"nl2sql/internal/corpus"
)

// DefaultMaxColumns is the corpus validity threshold on distinct column names.
const DefaultMaxColumns = 50

var (
	// ErrColumnTypesMismatch: column_types and column_names_original differ in length.
	ErrColumnTypesMismatch = errors.New("schema: column_types length differs from column_names_original")

	// ErrTooManyColumns: more distinct (case-folded) column names than allowed.
	ErrTooManyColumns = errors.New("schema: too many distinct column names")

	// ErrAmbiguousTable: two table names are equal after case folding.
	ErrAmbiguousTable = errors.New("schema: table names collide after case folding")
)

// Check reports whether s may be admitted to the registry.
//
// Rules:
//   - len(column_types) == len(column_names_original)
//   - distinct case-folded column names (column_names, falling back to
//     column_names_original) <= maxColumns; maxColumns <= 0 means DefaultMaxColumns
//   - no two table_names_original equal after case folding
//
// Bare-string table lists are already coerced to one-element lists by the
// corpus decoder, so Check never sees scalars.
//
// Errors wrap one of the sentinel errors above.
func Check(s *corpus.Schema, maxColumns int) error {
	if maxColumns <= 0 {
		maxColumns = DefaultMaxColumns
	}

	if len(s.ColumnTypes) != len(s.ColumnNamesOriginal) {
		return fmt.Errorf("%w: %d types, %d columns", ErrColumnTypesMismatch, len(s.ColumnTypes), len(s.ColumnNamesOriginal))
	}

	distinct := make(map[string]struct{})
	for _, c := range s.NaturalColumns() {
		distinct[strings.ToLower(c.Name)] = struct{}{}
	}
	if len(distinct) > maxColumns {
		return fmt.Errorf("%w: %d > %d", ErrTooManyColumns, len(distinct), maxColumns)
	}

	seen := make(map[string]string, len(s.TableNamesOriginal))
	for _, t := range s.TableNamesOriginal {
		k := strings.ToLower(t)
		if prev, ok := seen[k]; ok {
			return fmt.Errorf("%w: %q and %q", ErrAmbiguousTable, prev, t)
		}
		seen[k] = t
	}
	return nil
}
