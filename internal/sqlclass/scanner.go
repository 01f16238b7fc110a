package sqlclass

import "strings"

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenWord
	tokenOpenParen
	tokenCloseParen
	tokenOther
)

// scanner is a minimal quote- and comment-aware tokenizer. It exists only to
// support keyword dispatch and parenthesis-depth tracking; it does not
// attempt to understand SQL structure beyond that.
type scanner struct {
	src string
	pos int
}

func newScanner(src string) *scanner {
	return &scanner{src: src}
}

func isWordStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

func isWordChar(c byte) bool {
	return isWordStart(c) || (c >= '0' && c <= '9')
}

// skipInsignificant advances past whitespace and comments.
func (s *scanner) skipInsignificant() {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			s.pos++
		case c == '-' && s.pos+1 < len(s.src) && s.src[s.pos+1] == '-':
			idx := strings.IndexByte(s.src[s.pos:], '\n')
			if idx < 0 {
				s.pos = len(s.src)
				return
			}
			s.pos += idx + 1
		case c == '/' && s.pos+1 < len(s.src) && s.src[s.pos+1] == '*':
			rest, ok := skipBlockComment(s.src[s.pos:])
			if !ok {
				s.pos = len(s.src)
				return
			}
			s.pos = len(s.src) - len(rest)
		default:
			return
		}
	}
}

// nextToken consumes and returns the next significant token. String literals
// and quoted identifiers are consumed whole as tokenOther so that quoted
// parentheses never affect depth tracking.
func (s *scanner) nextToken() (string, tokenKind) {
	s.skipInsignificant()
	if s.pos >= len(s.src) {
		return "", tokenEOF
	}

	c := s.src[s.pos]
	switch {
	case c == '(':
		s.pos++
		return "(", tokenOpenParen
	case c == ')':
		s.pos++
		return ")", tokenCloseParen
	case c == '\'':
		start := s.pos
		s.pos++
		for s.pos < len(s.src) {
			if s.src[s.pos] == '\'' {
				if s.pos+1 < len(s.src) && s.src[s.pos+1] == '\'' {
					s.pos += 2
					continue
				}
				s.pos++
				break
			}
			s.pos++
		}
		return s.src[start:s.pos], tokenOther
	case c == '"':
		start := s.pos
		s.pos++
		for s.pos < len(s.src) && s.src[s.pos] != '"' {
			s.pos++
		}
		if s.pos < len(s.src) {
			s.pos++
		}
		return s.src[start:s.pos], tokenOther
	case isWordStart(c):
		start := s.pos
		for s.pos < len(s.src) && isWordChar(s.src[s.pos]) {
			s.pos++
		}
		return s.src[start:s.pos], tokenWord
	default:
		s.pos++
		return string(c), tokenOther
	}
}

// nextKeyword consumes the next token if it is a word and returns it upper
// cased. Any other token is left in place and "" is returned.
func (s *scanner) nextKeyword() string {
	save := s.pos
	tok, kind := s.nextToken()
	if kind != tokenWord {
		s.pos = save
		return ""
	}
	return strings.ToUpper(tok)
}

// peekKeyword returns the next keyword without consuming it.
func (s *scanner) peekKeyword() string {
	save := s.pos
	kw := s.nextKeyword()
	s.pos = save
	return kw
}

// peekComma reports whether the next significant token is a comma.
func (s *scanner) peekComma() bool {
	save := s.pos
	s.skipInsignificant()
	ok := s.pos < len(s.src) && s.src[s.pos] == ','
	s.pos = save
	return ok
}

// peekOpenParen reports whether the next significant token opens a
// parenthesized group.
func (s *scanner) peekOpenParen() bool {
	save := s.pos
	s.skipInsignificant()
	ok := s.pos < len(s.src) && s.src[s.pos] == '('
	s.pos = save
	return ok
}

// eof reports whether only insignificant input remains.
func (s *scanner) eof() bool {
	save := s.pos
	s.skipInsignificant()
	ok := s.pos >= len(s.src)
	s.pos = save
	return ok
}
