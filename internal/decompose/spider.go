package decompose

import (
	"strconv"
	"strings"

	"nl2sql/internal/schema"
)

var (
	clauseKeywords = set("select", "from", "where", "group", "order", "limit", "intersect", "union", "except")
	joinKeywords   = set("join", "on", "as")
	joinModifiers  = set("left", "right", "inner", "outer", "cross", "full", "natural")

	// otherKeywords can never be an implicit alias or start an operand.
	otherKeywords = set("by", "having", "distinct", "and", "or", "not", "between", "in", "like", "is",
		"exists", "null", "asc", "desc", "case", "when", "then", "else", "end")
)

func set(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

func has(m map[string]struct{}, w string) bool {
	_, ok := m[w]
	return ok
}

func isKeyword(w string) bool {
	return has(clauseKeywords, w) || has(joinKeywords, w) || has(joinModifiers, w) || has(otherKeywords, w)
}

// isName reports whether t can be a table or alias name.
func isName(t token) bool {
	if t.Quoted || t.Text == "" || isKeyword(t.Text) {
		return false
	}
	r := []rune(t.Text)[0]
	return isIdentStart(r)
}

// tablesWithAlias maps every alias, and every table name, to its table.
//
// Aliases are taken from "<table> AS <alias>" anywhere in the query and from
// "<table> <alias>" after FROM, JOIN or a comma inside a FROM clause. An alias
// spelled like a different table of the schema is an error. A name reused as
// alias by several subqueries keeps its last binding.
func tablesWithAlias(view schema.View, toks []token) (map[string]string, error) {
	out := make(map[string]string, len(view.Tables))
	bind := func(alias token, table string) error {
		if view.HasTable(alias.Text) && alias.Text != table {
			return &ParseError{Message: "alias shadows table " + alias.Text, Position: alias.Pos, Token: alias.Text}
		}
		out[alias.Text] = table
		return nil
	}

	inFrom := false
	for i, t := range toks {
		if t.Quoted {
			continue
		}
		switch {
		case t.Text == "from":
			inFrom = true
		case has(clauseKeywords, t.Text):
			inFrom = false
		}
		if t.Text == "as" && i > 0 && i+1 < len(toks) {
			prev, next := toks[i-1], toks[i+1]
			if !prev.Quoted && view.HasTable(prev.Text) && isName(next) {
				if err := bind(next, prev.Text); err != nil {
					return nil, err
				}
			}
			continue
		}
		if !view.HasTable(t.Text) || i == 0 || i+1 >= len(toks) {
			continue
		}
		prev, next := toks[i-1].Text, toks[i+1]
		implicit := prev == "from" || prev == "join" || (prev == "," && inFrom)
		if implicit && isName(next) && !view.HasTable(next.Text) {
			if err := bind(next, t.Text); err != nil {
				return nil, err
			}
		}
	}

	for _, table := range view.Tables {
		if prev, ok := out[table]; ok && prev != table {
			return nil, &ParseError{Message: "alias shadows table " + table, Position: -1}
		}
		out[table] = table
	}
	return out, nil
}

// parser walks a token slice. All reads are bounds-checked; past the end
// word returns "".
type parser struct {
	toks    []token
	aliases map[string]string
	view    schema.View
	ids     *schema.Mapper
}

// word is text for keyword comparison; quoted literals never match.
func (p *parser) word(i int) string {
	if i < 0 || i >= len(p.toks) || p.toks[i].Quoted {
		return ""
	}
	return p.toks[i].Text
}

func (p *parser) errAt(i int, msg string) error {
	if i >= len(p.toks) {
		return &ParseError{Message: msg, Position: -1}
	}
	return &ParseError{Message: msg, Position: p.toks[i].Pos, Token: p.toks[i].Text}
}

func (p *parser) expect(i int, w string) (int, error) {
	if p.word(i) != w {
		return i, p.errAt(i, "expected '"+w+"'")
	}
	return i + 1, nil
}

func (p *parser) skipSemicolons(i int) int {
	for p.word(i) == ";" {
		i++
	}
	return i
}

// endsConditions reports whether w terminates a condition list.
func endsConditions(w string) bool {
	return has(clauseKeywords, w) || has(joinKeywords, w) || has(joinModifiers, w) ||
		w == ")" || w == ";" || w == ","
}

// parseSQL parses one (possibly parenthesised) SELECT and any trailing
// INTERSECT/UNION/EXCEPT. FROM is parsed first so unqualified columns can be
// resolved against its tables.
func (p *parser) parseSQL(start int) (int, *Query, error) {
	idx := start
	block := p.word(idx) == "("
	if block {
		idx++
	}

	fromEnd, from, defaults, err := p.parseFrom(idx)
	if err != nil {
		return idx, nil, err
	}
	q := &Query{From: from}

	if _, q.Select, err = p.parseSelect(idx, defaults); err != nil {
		return idx, nil, err
	}
	idx = fromEnd

	if idx, q.Where, err = p.parseWhere(idx, defaults); err != nil {
		return idx, nil, err
	}
	if idx, q.GroupBy, err = p.parseGroupBy(idx, defaults); err != nil {
		return idx, nil, err
	}
	if idx, q.Having, err = p.parseHaving(idx, defaults); err != nil {
		return idx, nil, err
	}
	if idx, q.OrderBy, err = p.parseOrderBy(idx, defaults); err != nil {
		return idx, nil, err
	}
	if idx, q.Limit, err = p.parseLimit(idx); err != nil {
		return idx, nil, err
	}

	idx = p.skipSemicolons(idx)
	if block {
		if idx, err = p.expect(idx, ")"); err != nil {
			return idx, nil, err
		}
	}
	idx = p.skipSemicolons(idx)

	switch op := p.word(idx); op {
	case "intersect", "union", "except":
		next, sub, err := p.parseSQL(idx + 1)
		if err != nil {
			return next, nil, err
		}
		idx = next
		switch op {
		case "intersect":
			q.Intersect = sub
		case "union":
			q.Union = sub
		default:
			q.Except = sub
		}
	}
	return idx, q, nil
}

// parseFrom parses the first FROM clause at or after start. It returns the
// index after the clause and the names of the tables it lists.
func (p *parser) parseFrom(start int) (int, From, []string, error) {
	var from From
	idx := -1
	for i := start; i < len(p.toks); i++ {
		if p.word(i) == "from" {
			idx = i + 1
			break
		}
	}
	if idx < 0 {
		return start, from, nil, p.errAt(len(p.toks), "missing FROM")
	}

	var defaults []string
	for idx < len(p.toks) {
		block := p.word(idx) == "("
		if block {
			idx++
		}

		if p.word(idx) == "select" {
			next, sub, err := p.parseSQL(idx)
			if err != nil {
				return next, from, nil, err
			}
			idx = next
			from.TableUnits = append(from.TableUnits, TableUnit{Sub: sub})
		} else {
			for has(joinModifiers, p.word(idx)) {
				idx++
			}
			if p.word(idx) == "join" {
				idx++
			}
			next, id, table, err := p.parseTableUnit(idx)
			if err != nil {
				return next, from, nil, err
			}
			idx = next
			from.TableUnits = append(from.TableUnits, TableUnit{Table: id})
			defaults = append(defaults, table)
		}

		if p.word(idx) == "on" {
			next, conds, err := p.parseCondition(idx+1, defaults)
			if err != nil {
				return next, from, nil, err
			}
			idx = next
			from.Conds.append("and", conds)
		}

		if block {
			var err error
			if idx, err = p.expect(idx, ")"); err != nil {
				return idx, from, nil, err
			}
			// Derived-table alias: (SELECT ...) AS t or (SELECT ...) t.
			if p.word(idx) == "as" {
				idx += 2
			} else if idx < len(p.toks) && isName(p.toks[idx]) {
				idx++
			}
		}

		w := p.word(idx)
		if w == "," {
			idx++
			continue
		}
		if has(clauseKeywords, w) || w == ")" || w == ";" {
			break
		}
	}
	return idx, from, defaults, nil
}

func (p *parser) parseTableUnit(idx int) (int, int, string, error) {
	name := p.word(idx)
	table, ok := p.aliases[name]
	if !ok {
		return idx, 0, "", p.errAt(idx, "unknown table")
	}
	id, ok := p.ids.Table(table)
	if !ok {
		return idx, 0, "", p.errAt(idx, "table missing from idMap")
	}
	idx++
	switch {
	case p.word(idx) == "as":
		idx += 2
	case idx < len(p.toks) && isName(p.toks[idx]) && !p.view.HasTable(p.toks[idx].Text):
		idx++
	}
	return idx, id, table, nil
}

func (p *parser) parseSelect(idx int, defaults []string) (int, Select, error) {
	var sel Select
	idx, err := p.expect(idx, "select")
	if err != nil {
		return idx, sel, err
	}
	if p.word(idx) == "distinct" {
		sel.Distinct = true
		idx++
	}

	for idx < len(p.toks) && !has(clauseKeywords, p.word(idx)) {
		agg := AggNone
		if a := indexOf(AggOps, p.word(idx)); a > AggNone && p.word(idx+1) == "(" {
			agg = a
			idx++
		}
		next, vu, err := p.parseValUnit(idx, defaults)
		if err != nil {
			return next, sel, err
		}
		idx = next
		sel.Items = append(sel.Items, SelectItem{Agg: agg, Val: vu})

		// Column aliases are not resolvable later; skip them.
		if p.word(idx) == "as" {
			idx += 2
		}
		switch w := p.word(idx); {
		case w == ",":
			idx++
		case has(clauseKeywords, w) || idx >= len(p.toks):
		default:
			return idx, sel, p.errAt(idx, "expected ',' or FROM in select list")
		}
	}
	if len(sel.Items) == 0 {
		return idx, sel, p.errAt(idx, "empty select list")
	}
	return idx, sel, nil
}

func (p *parser) parseValUnit(idx int, defaults []string) (int, ValUnit, error) {
	var vu ValUnit
	block := p.word(idx) == "("
	if block {
		idx++
	}

	idx, left, err := p.parseColUnit(idx, defaults)
	if err != nil {
		return idx, vu, err
	}
	vu.Left = left

	if op := indexOf(UnitOps, p.word(idx)); op > UnitNone {
		next, right, err := p.parseColUnit(idx+1, defaults)
		if err != nil {
			return next, vu, err
		}
		idx = next
		vu.Op = op
		vu.Right = &right
	}

	if block {
		if idx, err = p.expect(idx, ")"); err != nil {
			return idx, vu, err
		}
	}
	return idx, vu, nil
}

func (p *parser) parseColUnit(idx int, defaults []string) (int, ColUnit, error) {
	var cu ColUnit
	block := p.word(idx) == "("
	if block {
		idx++
	}

	var err error
	if a := indexOf(AggOps, p.word(idx)); a > AggNone && p.word(idx+1) == "(" {
		cu.Agg = a
		idx += 2
		if p.word(idx) == "distinct" {
			cu.Distinct = true
			idx++
		}
		if idx, cu.Col, err = p.parseCol(idx, defaults); err != nil {
			return idx, cu, err
		}
		if idx, err = p.expect(idx, ")"); err != nil {
			return idx, cu, err
		}
	} else {
		if p.word(idx) == "distinct" {
			cu.Distinct = true
			idx++
		}
		if idx, cu.Col, err = p.parseCol(idx, defaults); err != nil {
			return idx, cu, err
		}
	}

	if block {
		if idx, err = p.expect(idx, ")"); err != nil {
			return idx, cu, err
		}
	}
	return idx, cu, nil
}

// parseCol resolves one column reference: "*", "alias.column" (or
// "alias.*"), or a bare column looked up in the FROM tables in order.
func (p *parser) parseCol(idx int, defaults []string) (int, int, error) {
	tok := p.word(idx)
	if tok == "" {
		return idx, 0, p.errAt(idx, "expected column")
	}
	if tok == schema.WildcardKey {
		return idx + 1, p.ids.Wildcard(), nil
	}

	if alias, col, ok := strings.Cut(tok, "."); ok {
		table, known := p.aliases[alias]
		if !known {
			return idx, 0, p.errAt(idx, "unknown table or alias")
		}
		if col == schema.WildcardKey {
			return idx + 1, p.ids.Wildcard(), nil
		}
		id, found := p.ids.Column(table, col)
		if !found {
			return idx, 0, p.errAt(idx, "unknown column")
		}
		return idx + 1, id, nil
	}

	for _, table := range defaults {
		if p.view.HasColumn(table, tok) {
			if id, found := p.ids.Column(table, tok); found {
				return idx + 1, id, nil
			}
		}
	}
	return idx, 0, p.errAt(idx, "unknown column")
}

// parseValue parses the right-hand side of a condition: a subquery, a quoted
// literal, a number, or a column unit.
func (p *parser) parseValue(idx int, defaults []string) (int, Value, error) {
	var v Value
	block := p.word(idx) == "("
	if block {
		idx++
	}

	switch {
	case idx >= len(p.toks):
		return idx, v, p.errAt(idx, "expected value")
	case p.word(idx) == "select":
		next, sub, err := p.parseSQL(idx)
		if err != nil {
			return next, v, err
		}
		idx = next
		v = Value{Kind: ValueQuery, Sub: sub}
	case p.toks[idx].Quoted:
		v = Value{Kind: ValueString, Str: p.toks[idx].Text}
		idx++
	default:
		if f, ok := parseNumber(p.toks[idx].Text); ok {
			v = Value{Kind: ValueNumber, Num: f}
			idx++
			break
		}
		// A column operand extends up to the next delimiter; extra tokens
		// before it are ignored.
		end := idx
		for end < len(p.toks) && !endsValue(p.word(end)) {
			end++
		}
		sub := *p
		sub.toks = p.toks[:end]
		_, cu, err := sub.parseColUnit(idx, defaults)
		if err != nil {
			return idx, v, err
		}
		v = Value{Kind: ValueColumn, Col: cu}
		idx = end
	}

	if block {
		var err error
		if idx, err = p.expect(idx, ")"); err != nil {
			return idx, v, err
		}
	}
	return idx, v, nil
}

func endsValue(w string) bool {
	return w == "," || w == ")" || w == ";" || w == "and" || w == "or" || w == "having" ||
		has(clauseKeywords, w) || has(joinKeywords, w) || has(joinModifiers, w)
}

// parseNumber accepts decimal and exponent literals only; words such as
// "nan" or "inf" stay column names.
func parseNumber(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	c := s[0]
	if !(c >= '0' && c <= '9') && c != '-' && c != '.' {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (p *parser) parseCondition(idx int, defaults []string) (int, Conds, error) {
	var conds Conds
	for idx < len(p.toks) {
		next, vu, err := p.parseValUnit(idx, defaults)
		if err != nil {
			return next, conds, err
		}
		idx = next

		c := Cond{Val: vu}
		if p.word(idx) == "not" {
			c.Not = true
			idx++
		}
		op := indexOf(WhereOps, p.word(idx))
		if op < 0 || op == OpNot {
			return idx, conds, p.errAt(idx, "expected comparison operator")
		}
		c.Op = op
		idx++

		switch op {
		case OpBetween:
			if idx, c.Val1, err = p.parseValue(idx, defaults); err != nil {
				return idx, conds, err
			}
			if idx, err = p.expect(idx, "and"); err != nil {
				return idx, conds, err
			}
			if idx, c.Val2, err = p.parseValue(idx, defaults); err != nil {
				return idx, conds, err
			}
		case OpIs:
			if p.word(idx) == "not" {
				c.Not = true
				idx++
			}
			if p.word(idx) == "null" {
				c.Val1 = Value{Kind: ValueNull}
				idx++
			} else if idx, c.Val1, err = p.parseValue(idx, defaults); err != nil {
				return idx, conds, err
			}
		default:
			if idx, c.Val1, err = p.parseValue(idx, defaults); err != nil {
				return idx, conds, err
			}
		}
		conds.Units = append(conds.Units, c)

		w := p.word(idx)
		if idx >= len(p.toks) || endsConditions(w) {
			break
		}
		if indexOf(CondOps, w) < 0 {
			return idx, conds, p.errAt(idx, "expected AND or OR")
		}
		conds.Conj = append(conds.Conj, w)
		idx++
		if idx >= len(p.toks) {
			return idx, conds, p.errAt(idx, "condition expected after "+w)
		}
	}
	return idx, conds, nil
}

func (p *parser) parseWhere(idx int, defaults []string) (int, Conds, error) {
	if p.word(idx) != "where" {
		return idx, Conds{}, nil
	}
	return p.parseCondition(idx+1, defaults)
}

func (p *parser) parseHaving(idx int, defaults []string) (int, Conds, error) {
	if p.word(idx) != "having" {
		return idx, Conds{}, nil
	}
	return p.parseCondition(idx+1, defaults)
}

func (p *parser) parseGroupBy(idx int, defaults []string) (int, []ColUnit, error) {
	if p.word(idx) != "group" {
		return idx, nil, nil
	}
	idx, err := p.expect(idx+1, "by")
	if err != nil {
		return idx, nil, err
	}

	var units []ColUnit
	for idx < len(p.toks) {
		if w := p.word(idx); has(clauseKeywords, w) || w == ")" || w == ";" {
			break
		}
		next, cu, err := p.parseColUnit(idx, defaults)
		if err != nil {
			return next, nil, err
		}
		idx = next
		units = append(units, cu)
		if p.word(idx) != "," {
			break
		}
		idx++
	}
	if len(units) == 0 {
		return idx, nil, p.errAt(idx, "empty GROUP BY")
	}
	return idx, units, nil
}

func (p *parser) parseOrderBy(idx int, defaults []string) (int, OrderBy, error) {
	ob := OrderBy{Dir: "asc"}
	if p.word(idx) != "order" {
		return idx, ob, nil
	}
	idx, err := p.expect(idx+1, "by")
	if err != nil {
		return idx, ob, err
	}

	for idx < len(p.toks) {
		if w := p.word(idx); has(clauseKeywords, w) || w == ")" || w == ";" {
			break
		}
		next, vu, err := p.parseValUnit(idx, defaults)
		if err != nil {
			return next, ob, err
		}
		idx = next
		ob.Items = append(ob.Items, vu)
		if w := p.word(idx); indexOf(OrderOps, w) >= 0 {
			ob.Dir = w
			idx++
		}
		if p.word(idx) != "," {
			break
		}
		idx++
	}
	if len(ob.Items) == 0 {
		return idx, ob, p.errAt(idx, "empty ORDER BY")
	}
	return idx, ob, nil
}

func (p *parser) parseLimit(idx int) (int, *int, error) {
	if p.word(idx) != "limit" {
		return idx, nil, nil
	}
	n, err := strconv.Atoi(p.word(idx + 1))
	if err != nil || n < 0 {
		return idx + 1, nil, p.errAt(idx+1, "LIMIT needs a non-negative integer")
	}
	return idx + 2, &n, nil
}
