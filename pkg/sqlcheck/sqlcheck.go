// Package sqlcheck provides cheap, local checks over candidate SQL
// text. The checks are dialect-agnostic and deliberately permissive:
// they catch structural mistakes and write attempts before a query
// ever reaches the database, which remains the authority on whether a
// query actually runs.
package sqlcheck

import (
	"fmt"
	"regexp"
	"strings"
)

// Reason categorizes why a check rejected a statement.
type Reason string

const (
	ReasonSyntax      Reason = "syntax"
	ReasonDestructive Reason = "destructive"
)

// Error is a structured check failure. Detail is written for an LLM
// repair prompt, so it names the offending fragment.
type Error struct {
	Reason Reason
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

var writeKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "TRUNCATE", "CREATE", "REPLACE", "GRANT", "REVOKE",
}

var tablePattern = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([A-Za-z_][A-Za-z0-9_.]*|"[^"]+"|` + "`[^`]+`" + `)`)

// CheckSyntax verifies the statement is structurally sound: non-empty,
// a single statement, balanced quotes and parentheses. It does not
// judge what kind of statement it is; CheckReadOnly and
// CheckSelectPrefix do, so that a bare write statement is reported as
// destructive rather than malformed.
func CheckSyntax(sqlText string) *Error {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return &Error{Reason: ReasonSyntax, Detail: "empty statement"}
	}

	stripped, err := stripLiterals(trimmed)
	if err != nil {
		return err
	}

	// Only a single statement; a trailing semicolon is tolerated.
	body := strings.TrimRight(stripped, "; \t\n")
	if strings.Contains(body, ";") {
		return &Error{Reason: ReasonSyntax, Detail: "multiple statements are not allowed"}
	}

	depth := 0
	for _, r := range stripped {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return &Error{Reason: ReasonSyntax, Detail: "unbalanced parentheses"}
			}
		}
	}
	if depth != 0 {
		return &Error{Reason: ReasonSyntax, Detail: "unbalanced parentheses"}
	}

	return nil
}

// CheckSelectPrefix verifies the statement begins with SELECT or WITH.
// Run after CheckReadOnly: a bare DELETE fails both, and the
// destructive reason is the one the caller should see.
func CheckSelectPrefix(sqlText string) *Error {
	upper := strings.ToUpper(strings.TrimSpace(sqlText))
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return &Error{Reason: ReasonSyntax, Detail: "statement must start with SELECT or WITH"}
	}
	return nil
}

// CheckReadOnly rejects statements containing write keywords. String
// literals are stripped first so that data values mentioning a keyword
// do not trigger a false rejection.
func CheckReadOnly(sqlText string) *Error {
	stripped, err := stripLiterals(sqlText)
	if err != nil {
		return err
	}

	upper := strings.ToUpper(stripped)
	for _, keyword := range writeKeywords {
		if containsWord(upper, keyword) {
			return &Error{
				Reason: ReasonDestructive,
				Detail: fmt.Sprintf("statement contains forbidden keyword %s; only read queries are allowed", keyword),
			}
		}
	}
	return nil
}

// Tables extracts the table names referenced in FROM and JOIN clauses.
// Quoted identifiers are unquoted; schema-qualified names keep their
// final component. Subquery aliases are not resolved.
func Tables(sqlText string) []string {
	stripped := stripStringsKeepIdents(sqlText)

	seen := make(map[string]struct{})
	var names []string
	for _, match := range tablePattern.FindAllStringSubmatch(stripped, -1) {
		name := strings.TrimSpace(unquoteIdent(match[1]))
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			name = name[idx+1:]
		}
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// stripLiterals replaces quoted string contents with spaces, keeping
// offsets stable. Unterminated quotes are a syntax error.
func stripLiterals(sqlText string) (string, *Error) {
	var b strings.Builder
	b.Grow(len(sqlText))

	var quote rune
	for _, r := range sqlText {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				b.WriteRune(r)
			} else {
				b.WriteRune(' ')
			}
		case r == '\'' || r == '"':
			quote = r
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	if quote != 0 {
		return "", &Error{Reason: ReasonSyntax, Detail: "unterminated string literal"}
	}
	return b.String(), nil
}

// stripStringsKeepIdents blanks single-quoted string contents but
// leaves double-quoted and backtick-quoted spans intact, so quoted
// table names stay visible to identifier extraction.
func stripStringsKeepIdents(sqlText string) string {
	var b strings.Builder
	b.Grow(len(sqlText))

	var quote rune
	for _, r := range sqlText {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				b.WriteRune(r)
			} else if quote == '\'' {
				b.WriteRune(' ')
			} else {
				b.WriteRune(r)
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		pos := strings.Index(haystack[idx:], word)
		if pos < 0 {
			return false
		}
		pos += idx
		before := pos == 0 || !isIdentRune(rune(haystack[pos-1]))
		afterIdx := pos + len(word)
		after := afterIdx >= len(haystack) || !isIdentRune(rune(haystack[afterIdx]))
		if before && after {
			return true
		}
		idx = pos + len(word)
	}
}

func isIdentRune(r rune) bool {
	return r == '_' || (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
}

func unquoteIdent(name string) string {
	if len(name) >= 2 {
		if (name[0] == '"' && name[len(name)-1] == '"') || (name[0] == '`' && name[len(name)-1] == '`') {
			return name[1 : len(name)-1]
		}
	}
	return name
}
