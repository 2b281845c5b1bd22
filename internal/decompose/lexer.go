package decompose

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// token is one lexical unit. Text is lower-cased except for quoted values,
// which keep their content and are re-wrapped in double quotes.
type token struct {
	Text   string
	Pos    int
	Quoted bool
}

// lexer turns raw SQL text into tokens.
type lexer struct {
	input string
	pos   int
	toks  []token
}

// tokenize splits sql into tokens.
//
// Normalization:
//   - identifiers and keywords are lower-cased
//   - 'x' and "x" literals become the single token "x" (content unchanged)
//   - `x` quoted identifiers become the plain identifier x
//   - "<>" becomes "!=", and ">=", "<=", "!=" are single tokens
//   - a '-' directly followed by a digit, where a value is expected, starts a
//     negative number
func tokenize(sql string) ([]token, error) {
	l := &lexer{input: sql}
	for {
		l.skipSpace()
		if l.pos >= len(l.input) {
			return l.toks, nil
		}
		if err := l.next(); err != nil {
			return nil, err
		}
	}
}

func (l *lexer) peekRune(off int) rune {
	if l.pos+off >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.pos+off:])
	return r
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		l.pos += size
	}
}

func (l *lexer) emit(text string, start int, quoted bool) {
	l.toks = append(l.toks, token{Text: text, Pos: start, Quoted: quoted})
}

func (l *lexer) next() error {
	start := l.pos
	r, size := utf8.DecodeRuneInString(l.input[l.pos:])

	switch {
	case r == '\'' || r == '"':
		return l.readString(r)
	case r == '`':
		return l.readQuotedIdent()
	case r == '<' || r == '>' || r == '!':
		next := l.peekRune(1)
		switch {
		case r == '<' && next == '>':
			l.pos += 2
			l.emit("!=", start, false)
		case next == '=':
			l.pos += 2
			l.emit(string(r)+"=", start, false)
		case r == '!':
			return &ParseError{Message: "unexpected '!'", Position: start, Token: "!"}
		default:
			l.pos += size
			l.emit(string(r), start, false)
		}
		return nil
	case r == '-' && isDigit(l.peekRune(1)) && l.valueExpected():
		l.pos += size
		l.readNumber(start)
		return nil
	case strings.ContainsRune("(),;*+-/=", r):
		l.pos += size
		l.emit(string(r), start, false)
		return nil
	case isDigit(r):
		l.readNumber(start)
		return nil
	case r == '.' && isDigit(l.peekRune(1)):
		l.readNumber(start)
		return nil
	case isIdentStart(r):
		l.readIdent()
		return nil
	default:
		return &ParseError{Message: "unexpected character", Position: start, Token: string(r)}
	}
}

// valueExpected reports whether the previous token cannot end an operand,
// so a following '-' is a sign rather than a subtraction.
func (l *lexer) valueExpected() bool {
	if len(l.toks) == 0 {
		return true
	}
	prev := l.toks[len(l.toks)-1]
	if prev.Quoted {
		return false
	}
	switch prev.Text {
	case ")", "*":
		return false
	case "(", ",", "=", "!=", "<", ">", "<=", ">=", "+", "-", "/":
		return true
	}
	return isKeyword(prev.Text)
}

func (l *lexer) readString(quote rune) error {
	start := l.pos
	l.pos++ // opening quote
	var b strings.Builder
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if r == quote {
			if l.peekRune(size) == quote {
				b.WriteRune(r)
				l.pos += 2 * size
				continue
			}
			l.pos += size
			l.emit(`"`+b.String()+`"`, start, true)
			return nil
		}
		b.WriteRune(r)
		l.pos += size
	}
	return &ParseError{Message: "unterminated string", Position: start, Token: l.input[start:]}
}

func (l *lexer) readQuotedIdent() error {
	start := l.pos
	end := strings.IndexByte(l.input[l.pos+1:], '`')
	if end < 0 {
		return &ParseError{Message: "unterminated quoted identifier", Position: start, Token: l.input[start:]}
	}
	name := l.input[l.pos+1 : l.pos+1+end]
	l.pos += end + 2
	// `t`.`c` and `t`.c join into one dotted identifier.
	if l.pos < len(l.input) && l.input[l.pos] == '.' {
		rest := l.pos + 1
		if rest < len(l.input) && l.input[rest] == '`' {
			closeIdx := strings.IndexByte(l.input[rest+1:], '`')
			if closeIdx < 0 {
				return &ParseError{Message: "unterminated quoted identifier", Position: rest, Token: l.input[rest:]}
			}
			name += "." + l.input[rest+1:rest+1+closeIdx]
			l.pos = rest + closeIdx + 2
		} else {
			l.pos = rest
			name += "." + l.scanIdentRunes()
		}
	}
	l.emit(strings.ToLower(name), start, false)
	return nil
}

func (l *lexer) readNumber(start int) {
	seenDot, seenExp := false, false
	for l.pos < len(l.input) {
		r := rune(l.input[l.pos])
		switch {
		case isDigit(r):
		case r == '.' && !seenDot && !seenExp:
			seenDot = true
		case (r == 'e' || r == 'E') && !seenExp && (isDigit(l.peekRune(1)) || ((l.peekRune(1) == '+' || l.peekRune(1) == '-') && isDigit(l.peekRune(2)))):
			seenExp = true
			l.pos++
			if c := l.input[l.pos]; c == '+' || c == '-' {
				l.pos++
			}
			continue
		default:
			l.emit(strings.ToLower(l.input[start:l.pos]), start, false)
			return
		}
		l.pos++
	}
	l.emit(strings.ToLower(l.input[start:l.pos]), start, false)
}

// readIdent reads a possibly dotted identifier such as t1.name or t1.`x`.
func (l *lexer) readIdent() {
	start := l.pos
	name := l.scanIdentRunes()
	for l.pos < len(l.input) && l.input[l.pos] == '.' {
		next := l.peekRune(1)
		switch {
		case next == '`':
			closeIdx := strings.IndexByte(l.input[l.pos+2:], '`')
			if closeIdx < 0 {
				l.emit(strings.ToLower(name), start, false)
				return
			}
			name += "." + l.input[l.pos+2:l.pos+2+closeIdx]
			l.pos += closeIdx + 3
		case next == '*' || isIdentStart(next) || isDigit(next):
			l.pos++
			if next == '*' {
				l.pos++
				name += ".*"
			} else {
				name += "." + l.scanIdentRunes()
			}
		default:
			l.emit(strings.ToLower(name), start, false)
			return
		}
	}
	l.emit(strings.ToLower(name), start, false)
}

func (l *lexer) scanIdentRunes() string {
	start := l.pos
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if !isIdentStart(r) && !isDigit(r) {
			break
		}
		l.pos += size
	}
	return l.input[start:l.pos]
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || r == '#' || r == '@' || unicode.IsLetter(r)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
