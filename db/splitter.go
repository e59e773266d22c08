package db

import (
	"strconv"
	"strings"
)

// Piece is one statement cut out of a multi-statement SQL text.
type Piece struct {
	SQL string
	// Params is the number of parameters SQLite will allocate for the
	// statement: the highest placeholder index, with ?NNN setting the index
	// explicitly and repeated names sharing one slot.
	Params int
	// Keyword is the first keyword, upper-cased.
	Keyword string
}

// SplitStatements cuts text at top-level semicolons. The split is lexical: it
// understands string literals, quoted identifiers, comments and trigger
// bodies, where a semicolon only ends the statement right after END. Fragments
// holding only whitespace or comments are dropped.
func SplitStatements(text string) []Piece {
	var pieces []Piece
	var s splitState
	s.reset()
	start := 0

	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(text, i, c)
			s.punct()

		case c == '[':
			i = skipBracket(text, i)
			s.punct()

		case c == '-' && i+1 < len(text) && text[i+1] == '-':
			if nl := strings.IndexByte(text[i:], '\n'); nl >= 0 {
				i += nl + 1
			} else {
				i = len(text)
			}

		case c == '/' && i+1 < len(text) && text[i+1] == '*':
			if end := strings.Index(text[i+2:], "*/"); end >= 0 {
				i += 2 + end + 2
			} else {
				i = len(text)
			}

		case c == ';':
			if s.inTrigger() && s.lastWord != "END" {
				s.punct()
				i++
				continue
			}
			if p, ok := s.piece(text[start:i]); ok {
				pieces = append(pieces, p)
			}
			s.reset()
			i++
			start = i

		case isIdentStart(c):
			j := i + 1
			for j < len(text) && isIdentChar(text[j]) {
				j++
			}
			s.word(strings.ToUpper(text[i:j]))
			i = j

		case c == '?':
			j := i + 1
			for j < len(text) && text[j] >= '0' && text[j] <= '9' {
				j++
			}
			if j > i+1 {
				n, _ := strconv.Atoi(text[i+1 : j])
				s.params.numbered(n)
			} else {
				s.params.next()
			}
			s.punct()
			i = j

		case (c == ':' || c == '@' || c == '$') && i+1 < len(text) && isIdentChar(text[i+1]):
			j := i + 1
			for j < len(text) && isIdentChar(text[j]) {
				j++
			}
			s.params.named(text[i:j])
			s.punct()
			i = j

		case isSpace(c):
			i++

		default:
			s.punct()
			i++
		}
	}

	if p, ok := s.piece(text[start:]); ok {
		pieces = append(pieces, p)
	}
	return pieces
}

type splitState struct {
	words       []string // first three words
	lastWord    string
	significant bool
	params      paramCounter
}

func (s *splitState) reset() {
	s.words = s.words[:0]
	s.lastWord = ""
	s.significant = false
	s.params = paramCounter{}
}

func (s *splitState) word(w string) {
	s.significant = true
	s.lastWord = w
	if len(s.words) < 3 {
		s.words = append(s.words, w)
	}
}

func (s *splitState) punct() {
	s.significant = true
	s.lastWord = ""
}

// inTrigger reports whether the statement is CREATE [TEMP] TRIGGER.
func (s *splitState) inTrigger() bool {
	if len(s.words) < 2 || s.words[0] != "CREATE" {
		return false
	}
	if s.words[1] == "TRIGGER" {
		return true
	}
	return len(s.words) == 3 && (s.words[1] == "TEMP" || s.words[1] == "TEMPORARY") && s.words[2] == "TRIGGER"
}

func (s *splitState) piece(sql string) (Piece, bool) {
	if !s.significant {
		return Piece{}, false
	}
	p := Piece{
		SQL:    strings.TrimSpace(sql),
		Params: s.params.max,
	}
	if len(s.words) > 0 {
		p.Keyword = s.words[0]
	}
	return p, true
}

type paramCounter struct {
	max   int
	names map[string]int
}

func (p *paramCounter) next() {
	p.max++
}

func (p *paramCounter) numbered(n int) {
	if n > p.max {
		p.max = n
	}
}

func (p *paramCounter) named(name string) {
	if p.names == nil {
		p.names = make(map[string]int)
	}
	if _, ok := p.names[name]; ok {
		return
	}
	p.max++
	p.names[name] = p.max
}

// skipQuoted returns the index just past the literal opened at i. A doubled
// quote character is an escaped quote.
func skipQuoted(text string, i int, q byte) int {
	for j := i + 1; j < len(text); j++ {
		if text[j] != q {
			continue
		}
		if j+1 < len(text) && text[j+1] == q {
			j++
			continue
		}
		return j + 1
	}
	return len(text)
}

func skipBracket(text string, i int) int {
	if end := strings.IndexByte(text[i+1:], ']'); end >= 0 {
		return i + 1 + end + 1
	}
	return len(text)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '$'
}
