// Package decompose turns raw SQL text into the structured query tree of
// the corpus: select/from/where/groupBy/having/orderBy/limit plus
// intersect/union/except, with every table and column reference resolved to
// its integer id through the schema's idMap.
//
// Decomposer is the contract the record converter depends on. Spider is the
// bundled implementation; it follows the reference grammar of the corpus
// evaluation tooling and fails with *ParseError on anything outside it.
package decompose

import (
	"fmt"

	"nl2sql/internal/schema"
)

// Decomposer decomposes one SQL string against one schema.
//
// Implementations must be safe for concurrent use; the converter may call
// Decompose from several goroutines with different inputs.
type Decomposer interface {
	Decompose(view schema.View, ids *schema.Mapper, sql string) (*Query, error)
}

// ParseError reports SQL the decomposer cannot handle.
type ParseError struct {
	Message string
	// Position is the byte offset in the SQL text, or -1 at end of input.
	Position int
	Token    string
}

func (e *ParseError) Error() string {
	if e.Position < 0 {
		return fmt.Sprintf("decompose: %s at end of input", e.Message)
	}
	return fmt.Sprintf("decompose: %s at position %d (got %q)", e.Message, e.Position, e.Token)
}

// Spider is the bundled Decomposer. The zero value is ready to use.
type Spider struct{}

// Decompose implements Decomposer.
//
// Edge cases:
//   - Tokens after a complete top-level query are ignored.
//   - A trailing ';' is allowed.
//   - Table aliases may be explicit (AS) or implicit ("FROM t x").
//   - LEFT/RIGHT/INNER/OUTER/CROSS/FULL/NATURAL join modifiers and comma
//     joins are accepted; all joins are recorded as plain table units.
//
// Errors:
//   - *ParseError for lexical errors, unknown tables/columns/aliases and
//     unsupported syntax.
func (Spider) Decompose(view schema.View, ids *schema.Mapper, sql string) (*Query, error) {
	if ids == nil {
		return nil, &ParseError{Message: "no idMap", Position: -1}
	}
	toks, err := tokenize(sql)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, &ParseError{Message: "empty query", Position: -1}
	}

	aliases, err := tablesWithAlias(view, toks)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, aliases: aliases, view: view, ids: ids}
	_, q, err := p.parseSQL(0)
	if err != nil {
		return nil, err
	}
	return q, nil
}

var _ Decomposer = Spider{}
