// Package safety screens raw SQL text for destructive statements.
//
// The check is lexical only. It does not parse SQL, so it can block harmless
// text (a comment mentioning truncate) and miss obfuscated statements. Callers
// that need grammar-aware screening must do it elsewhere.
package safety

import (
	"regexp"
	"strings"
)

// identifierClass matches one character of an unquoted identifier. RE2's \w
// is ASCII only, while PostgreSQL accepts any letter.
const identifierClass = `[\p{L}\p{N}_]`

// Rule is a named lexical pattern. A match marks the query as dangerous.
type Rule struct {
	Name    string
	Pattern string
}

// DefaultRules are evaluated in order against the lower-cased, trimmed query.
//
// The UPDATE and DELETE rules only look at the statement tail: they fire when
// the text ends right after the table name (DELETE) or anywhere after SET on
// the same line (UPDATE). Schema-qualified or multi-line statements slip past
// both, and a single-line UPDATE with a WHERE clause is still flagged.
// Table names are matched with identifierClass so unquoted non-ASCII names
// are covered the same way as ASCII ones.
var DefaultRules = []Rule{
	{Name: "drop_table", Pattern: `\bdrop\s+table\b`},
	{Name: "drop_database", Pattern: `\bdrop\s+database\b`},
	{Name: "truncate", Pattern: `\btruncate\b`},
	{Name: "delete_without_where", Pattern: `\bdelete\s+from\s+` + identifierClass + `+\s*;?\s*$`},
	{Name: "update_without_where", Pattern: `\bupdate\s+` + identifierClass + `+\s+set\s+.*\s*;?\s*$`},
}

// Verdict is the outcome of screening one query.
type Verdict struct {
	Blocked bool
	// Rule is the name of the first matching rule. Empty when allowed.
	Rule string
}

type compiledRule struct {
	name    string
	pattern *regexp.Regexp
}

// Classifier evaluates queries against an ordered rule set.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	rules []compiledRule
}

// NewClassifier compiles rules case-insensitively. Panics on an invalid pattern.
func NewClassifier(rules []Rule) *Classifier {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		compiled[i] = compiledRule{
			name:    r.Name,
			pattern: regexp.MustCompile(`(?i)` + r.Pattern),
		}
	}
	return &Classifier{rules: compiled}
}

// NewDefaultClassifier returns a Classifier built from DefaultRules.
func NewDefaultClassifier() *Classifier {
	return NewClassifier(DefaultRules)
}

// Inspect returns the verdict for query. First matching rule wins.
func (c *Classifier) Inspect(query string) Verdict {
	normalized := strings.ToLower(strings.TrimSpace(query))
	for _, rule := range c.rules {
		if rule.pattern.MatchString(normalized) {
			return Verdict{Blocked: true, Rule: rule.name}
		}
	}
	return Verdict{}
}

// IsDangerous reports whether any rule matches query.
func (c *Classifier) IsDangerous(query string) bool {
	return c.Inspect(query).Blocked
}
