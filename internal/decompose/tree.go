package decompose

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"nl2sql/internal/corpus"
)

// Operator tables. A tree stores indexes into these tables, the same
// encoding the evaluation tooling of the corpus expects.
var (
	WhereOps = []string{"not", "between", "=", ">", "<", ">=", "<=", "!=", "in", "like", "is", "exists"}
	UnitOps  = []string{"none", "-", "+", "*", "/"}
	AggOps   = []string{"none", "max", "min", "count", "sum", "avg"}
	CondOps  = []string{"and", "or"}
	SQLOps   = []string{"intersect", "union", "except"}
	OrderOps = []string{"desc", "asc"}
)

// Indexes into the operator tables used by the parser.
const (
	AggNone  = 0
	UnitNone = 0

	OpNot     = 0
	OpBetween = 1
	OpIs      = 10
)

func indexOf(table []string, tok string) int {
	for i, v := range table {
		if v == tok {
			return i
		}
	}
	return -1
}

// Query is one decomposed SELECT. Field order matches the key order of the
// reference encoding.
type Query struct {
	From      From      `json:"from"`
	Select    Select    `json:"select"`
	Where     Conds     `json:"where"`
	GroupBy   []ColUnit `json:"groupBy"`
	Having    Conds     `json:"having"`
	OrderBy   OrderBy   `json:"orderBy"`
	Limit     *int      `json:"limit"`
	Intersect *Query    `json:"intersect"`
	Union     *Query    `json:"union"`
	Except    *Query    `json:"except"`
}

// MarshalJSON encodes the tree without HTML escaping so SQL operators and
// quoted values stay readable.
func (q Query) MarshalJSON() ([]byte, error) {
	type plain Query
	p := plain(q)
	if p.GroupBy == nil {
		p.GroupBy = []ColUnit{}
	}
	return corpus.Marshal(p)
}

// ColUnit is (agg_id, col_id, isDistinct).
type ColUnit struct {
	Agg      int
	Col      int
	Distinct bool
}

func (c ColUnit) MarshalJSON() ([]byte, error) {
	return corpus.Marshal([]any{c.Agg, c.Col, c.Distinct})
}

// ValUnit is (unit_op, col_unit1, col_unit2). Right is nil unless Op is an
// arithmetic operator.
type ValUnit struct {
	Op    int
	Left  ColUnit
	Right *ColUnit
}

func (v ValUnit) MarshalJSON() ([]byte, error) {
	var right any
	if v.Right != nil {
		right = *v.Right
	}
	return corpus.Marshal([]any{v.Op, v.Left, right})
}

// ValueKind selects the populated field of a Value.
type ValueKind int

const (
	ValueNone ValueKind = iota
	ValueString
	ValueNumber
	ValueColumn
	ValueQuery
	// ValueNull is the NULL keyword after IS / IS NOT.
	ValueNull
)

// Value is the right-hand side of a condition.
type Value struct {
	Kind ValueKind
	// Str keeps the literal with its surrounding double quotes.
	Str string
	Num float64
	Col ColUnit
	Sub *Query
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueString:
		return corpus.Marshal(v.Str)
	case ValueNumber:
		return []byte(formatFloat(v.Num)), nil
	case ValueColumn:
		return v.Col.MarshalJSON()
	case ValueQuery:
		if v.Sub == nil {
			return []byte("null"), nil
		}
		return v.Sub.MarshalJSON()
	case ValueNull:
		return []byte(`"null"`), nil
	default:
		return []byte("null"), nil
	}
}

// formatFloat writes f the way the reference trees spell numbers: integral
// values keep a trailing ".0" and exponents are used outside [1e-4, 1e16).
func formatFloat(f float64) string {
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Cond is (not_op, op_id, val_unit, val1, val2).
type Cond struct {
	Not  bool
	Op   int
	Val  ValUnit
	Val1 Value
	Val2 Value
}

func (c Cond) MarshalJSON() ([]byte, error) {
	return corpus.Marshal([]any{c.Not, c.Op, c.Val, c.Val1, c.Val2})
}

// Conds is a condition list; Conj[i] ("and"/"or") joins Units[i] and
// Units[i+1]. It encodes as the interleaved list [cond, "and", cond, ...].
type Conds struct {
	Units []Cond
	Conj  []string
}

// Len returns the number of conditions.
func (c Conds) Len() int { return len(c.Units) }

func (c Conds) MarshalJSON() ([]byte, error) {
	out := make([]any, 0, 2*len(c.Units))
	for i, u := range c.Units {
		if i > 0 && i-1 < len(c.Conj) {
			out = append(out, c.Conj[i-1])
		}
		out = append(out, u)
	}
	return corpus.Marshal(out)
}

// append adds units joined by conj ("" when c is empty).
func (c *Conds) append(conj string, other Conds) {
	if len(other.Units) == 0 {
		return
	}
	if len(c.Units) > 0 {
		c.Conj = append(c.Conj, conj)
	}
	c.Units = append(c.Units, other.Units...)
	c.Conj = append(c.Conj, other.Conj...)
}

// SelectItem is (agg_id, val_unit).
type SelectItem struct {
	Agg int
	Val ValUnit
}

func (s SelectItem) MarshalJSON() ([]byte, error) {
	return corpus.Marshal([]any{s.Agg, s.Val})
}

// Select is (isDistinct, [select_item, ...]).
type Select struct {
	Distinct bool
	Items    []SelectItem
}

func (s Select) MarshalJSON() ([]byte, error) {
	items := s.Items
	if items == nil {
		items = []SelectItem{}
	}
	return corpus.Marshal([]any{s.Distinct, items})
}

// TableUnit is ("table_unit", table_id) or ("sql", query).
type TableUnit struct {
	Table int
	Sub   *Query
}

func (t TableUnit) MarshalJSON() ([]byte, error) {
	if t.Sub != nil {
		return corpus.Marshal([]any{"sql", t.Sub})
	}
	return corpus.Marshal([]any{"table_unit", t.Table})
}

// From is {"table_units": [...], "conds": [...]}.
type From struct {
	TableUnits []TableUnit `json:"table_units"`
	Conds      Conds       `json:"conds"`
}

func (f From) MarshalJSON() ([]byte, error) {
	type plain From
	p := plain(f)
	if p.TableUnits == nil {
		p.TableUnits = []TableUnit{}
	}
	return corpus.Marshal(p)
}

// OrderBy is (order_type, [val_unit, ...]), or [] when absent.
type OrderBy struct {
	Dir   string
	Items []ValUnit
}

func (o OrderBy) MarshalJSON() ([]byte, error) {
	if len(o.Items) == 0 {
		return []byte("[]"), nil
	}
	return corpus.Marshal([]any{o.Dir, o.Items})
}

var _ json.Marshaler = Query{}
