// Package sqlclass assigns a required permission level to raw SQL text.
//
// Classification is purely lexical: the input is never parsed into an AST,
// evaluated, or executed. The classifier strips leading comments, rejects
// multi-statement batches (quote-aware, so a ';' smuggled inside a string
// literal or comment cannot split the statement), and dispatches on the
// first significant keyword, with special handling for WITH (CTE chains)
// and EXPLAIN wrappers.
package sqlclass

import (
	"errors"
	"fmt"
	"strings"

	"vibegate/internal/auth"
)

// MaxStatementBytes bounds the input the classifier will look at. Larger
// inputs are rejected before any scanning.
const MaxStatementBytes = 1 << 20 // 1 MiB

var (
	// ErrEmptyStatement is returned for empty input or input that is
	// entirely comments.
	ErrEmptyStatement = errors.New("empty SQL statement")

	// ErrMultiStatement is returned when an unquoted ';' is followed by
	// further non-whitespace content.
	ErrMultiStatement = errors.New("multi-statement batches are not allowed")

	// ErrUnterminatedComment is returned for a block comment with no
	// closing '*/'.
	ErrUnterminatedComment = errors.New("unterminated block comment")

	// ErrStatementTooLarge is returned when the input exceeds MaxStatementBytes.
	ErrStatementTooLarge = errors.New("SQL statement exceeds size limit")

	// ErrNoTerminalStatement is returned when a WITH chain never reaches a
	// classifiable terminal statement.
	ErrNoTerminalStatement = errors.New("no terminal statement found after WITH clause")

	// ErrNoLeadingKeyword is returned when the statement does not begin
	// with a keyword token.
	ErrNoLeadingKeyword = errors.New("statement does not begin with a keyword")
)

// Result is the outcome of classifying one SQL statement.
type Result struct {
	// Level is the permission level required to execute the statement.
	Level auth.Level

	// StatementType is a short tag describing the operation, e.g. "SELECT",
	// "DROP SCHEMA", "WITH...INSERT", "EXPLAIN SELECT".
	StatementType string
}

// keyword sets for first-token dispatch. Keys are upper case.
var (
	readKeywords = map[string]bool{
		"SELECT": true,
		"SHOW":   true,
	}
	writeKeywords = map[string]bool{
		"INSERT": true,
		"UPDATE": true,
		"DELETE": true,
		"UPSERT": true,
		"MERGE":  true,
		"COPY":   true,
	}
	schemaKeywords = map[string]bool{
		"CREATE": true,
		"ALTER":  true,
		"DROP":   true,
	}
	adminKeywords = map[string]bool{
		"TRUNCATE": true,
		"GRANT":    true,
		"REVOKE":   true,
		"VACUUM":   true,
		"REINDEX":  true,
		"CLUSTER":  true,
	}
)

// Classify determines the permission level required by a single SQL
// statement. It returns an error for empty input, comment-only input,
// multi-statement batches, and unrecognized leading keywords. Errors must be
// treated as deny by callers.
func Classify(sql string) (Result, error) {
	if len(sql) > MaxStatementBytes {
		return Result{}, ErrStatementTooLarge
	}

	body, err := stripLeadingComments(sql)
	if err != nil {
		return Result{}, err
	}
	if body == "" {
		return Result{}, ErrEmptyStatement
	}

	if err := rejectMultiStatement(body); err != nil {
		return Result{}, err
	}

	return classifyStatement(newScanner(body))
}

// classifyStatement dispatches on the first keyword of an already
// comment-stripped, single-statement body.
func classifyStatement(s *scanner) (Result, error) {
	kw := s.nextKeyword()
	if kw == "" {
		if s.eof() {
			return Result{}, ErrEmptyStatement
		}
		return Result{}, ErrNoLeadingKeyword
	}

	switch {
	case kw == "WITH":
		return classifyWith(s)
	case kw == "EXPLAIN":
		return classifyExplain(s)
	case readKeywords[kw]:
		return Result{Level: auth.LevelRead, StatementType: kw}, nil
	case writeKeywords[kw]:
		return Result{Level: auth.LevelWrite, StatementType: kw}, nil
	case schemaKeywords[kw]:
		// CREATE/ALTER/DROP SCHEMA affects every object in the schema and
		// escalates to admin.
		if next := s.peekKeyword(); next == "SCHEMA" {
			return Result{Level: auth.LevelAdmin, StatementType: kw + " SCHEMA"}, nil
		}
		return Result{Level: auth.LevelSchema, StatementType: kw}, nil
	case adminKeywords[kw]:
		return Result{Level: auth.LevelAdmin, StatementType: kw}, nil
	default:
		return Result{}, fmt.Errorf("unrecognized SQL keyword %q", kw)
	}
}

// classifyWith scans a CTE chain. Parenthesis depth is tracked across the
// statement; each time depth returns to zero a CTE definition has closed and
// the following token decides whether the chain continues (AS, WITH, or a
// comma introducing the next CTE) or the terminal statement begins.
func classifyWith(s *scanner) (Result, error) {
	depth := 0
	sawParen := false

	for {
		_, kind := s.nextToken()
		switch kind {
		case tokenEOF:
			return Result{}, ErrNoTerminalStatement
		case tokenOpenParen:
			depth++
			sawParen = true
			continue
		case tokenCloseParen:
			if depth > 0 {
				depth--
			}
			if depth != 0 || !sawParen {
				continue
			}
			// A CTE definition just closed. Decide chain vs terminal.
			if s.peekComma() {
				continue // next CTE in the chain
			}
			next := s.nextKeyword()
			switch {
			case next == "":
				if s.eof() {
					return Result{}, ErrNoTerminalStatement
				}
				continue
			case next == "AS", next == "WITH":
				continue
			default:
				res, err := classifyKeywordTerminal(next, s)
				if err != nil {
					return Result{}, err
				}
				res.StatementType = "WITH..." + res.StatementType
				return res, nil
			}
		default:
			continue
		}
	}
}

// classifyKeywordTerminal classifies the terminal statement of a WITH chain
// given its leading keyword.
func classifyKeywordTerminal(kw string, s *scanner) (Result, error) {
	switch {
	case readKeywords[kw]:
		return Result{Level: auth.LevelRead, StatementType: kw}, nil
	case writeKeywords[kw]:
		return Result{Level: auth.LevelWrite, StatementType: kw}, nil
	case schemaKeywords[kw]:
		if next := s.peekKeyword(); next == "SCHEMA" {
			return Result{Level: auth.LevelAdmin, StatementType: kw + " SCHEMA"}, nil
		}
		return Result{Level: auth.LevelSchema, StatementType: kw}, nil
	case adminKeywords[kw]:
		return Result{Level: auth.LevelAdmin, StatementType: kw}, nil
	default:
		return Result{}, ErrNoTerminalStatement
	}
}

// classifyExplain unwraps EXPLAIN [ANALYZE] [VERBOSE] [(options...)] and
// classifies the inner statement. Bare EXPLAIN defaults to read.
func classifyExplain(s *scanner) (Result, error) {
	// Skip option keywords.
	for {
		kw := s.peekKeyword()
		if kw == "ANALYZE" || kw == "ANALYSE" || kw == "VERBOSE" {
			s.nextKeyword()
			continue
		}
		break
	}

	// Skip a parenthesized option list, e.g. EXPLAIN (FORMAT JSON, COSTS OFF).
	if s.peekOpenParen() {
		depth := 0
		for {
			_, kind := s.nextToken()
			if kind == tokenEOF {
				return Result{Level: auth.LevelRead, StatementType: "EXPLAIN"}, nil
			}
			if kind == tokenOpenParen {
				depth++
			}
			if kind == tokenCloseParen {
				depth--
				if depth == 0 {
					break
				}
			}
		}
	}

	if s.peekKeyword() == "" {
		return Result{Level: auth.LevelRead, StatementType: "EXPLAIN"}, nil
	}

	inner, err := classifyStatement(s)
	if err != nil {
		return Result{}, err
	}
	inner.StatementType = "EXPLAIN " + inner.StatementType
	return inner, nil
}

// stripLeadingComments removes leading whitespace, line comments, and block
// comments (which may nest) until real content or end of input.
func stripLeadingComments(sql string) (string, error) {
	s := sql
	for {
		s = strings.TrimLeft(s, " \t\r\n")
		switch {
		case strings.HasPrefix(s, "--"):
			idx := strings.IndexByte(s, '\n')
			if idx < 0 {
				return "", nil
			}
			s = s[idx+1:]
		case strings.HasPrefix(s, "/*"):
			rest, ok := skipBlockComment(s)
			if !ok {
				return "", ErrUnterminatedComment
			}
			s = rest
		default:
			return s, nil
		}
	}
}

// skipBlockComment consumes a block comment starting at s[0:2] == "/*",
// honoring nesting. Returns the remainder and whether the comment was closed.
func skipBlockComment(s string) (string, bool) {
	depth := 0
	i := 0
	for i < len(s) {
		if strings.HasPrefix(s[i:], "/*") {
			depth++
			i += 2
			continue
		}
		if strings.HasPrefix(s[i:], "*/") {
			depth--
			i += 2
			if depth == 0 {
				return s[i:], true
			}
			continue
		}
		i++
	}
	return "", false
}

// rejectMultiStatement scans the statement outside quoted regions and
// comments for a ';' followed by non-whitespace content. A single trailing
// ';' is tolerated.
func rejectMultiStatement(body string) error {
	i := 0
	n := len(body)
	for i < n {
		c := body[i]
		switch c {
		case '\'':
			i++
			for i < n {
				if body[i] == '\'' {
					// Doubled single quote is an escaped quote, not a
					// terminator.
					if i+1 < n && body[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
		case '"':
			i++
			for i < n && body[i] != '"' {
				i++
			}
			if i < n {
				i++
			}
		case '-':
			if i+1 < n && body[i+1] == '-' {
				idx := strings.IndexByte(body[i:], '\n')
				if idx < 0 {
					return nil
				}
				i += idx + 1
			} else {
				i++
			}
		case '/':
			if i+1 < n && body[i+1] == '*' {
				rest, ok := skipBlockComment(body[i:])
				if !ok {
					return ErrUnterminatedComment
				}
				i = n - len(rest)
			} else {
				i++
			}
		case ';':
			if strings.TrimSpace(body[i+1:]) != "" {
				return ErrMultiStatement
			}
			return nil
		default:
			i++
		}
	}
	return nil
}
