// Package builder assembles parameterized SQL for the structured operations:
// select, insert, update and delete.
//
// Only insert and update values are bound as parameters. Table, schema and
// column names and the filter fragment are written into the SQL text as
// given, so whoever supplies them controls the statement structure.
package builder

import (
	"errors"
	"strings"

	sq "github.com/Masterminds/squirrel"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultSchema is used when a request leaves the schema empty.
const DefaultSchema = "public"

// DefaultLimit is used when a select request leaves the limit unset.
const DefaultLimit = 100

// Validation errors. Their messages are returned to callers verbatim.
var (
	ErrNoInsertData     = errors.New("Error: No data provided for insertion")
	ErrNoUpdateData     = errors.New("Error: No data provided for update")
	ErrUpdateNeedsWhere = errors.New("Error: WHERE clause is required for UPDATE operation")
	ErrDeleteNeedsWhere = errors.New("Error: WHERE clause is required for DELETE operation")
	ErrNegativeLimit    = errors.New("Error: limit must be >= 0")
	ErrMissingTable     = errors.New("Error: table_name is required")
)

var (
	statementBuilder   = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	placeholderEscaper = strings.NewReplacer("?", "??")
)

// Values maps column name to value in insertion order.
type Values = *orderedmap.OrderedMap[string, any]

// Statement is the SQL text and its positional parameters.
type Statement struct {
	SQL  string
	Args []any
}

// Select describes SELECT <columns> FROM <schema>.<table> [WHERE <where>] LIMIT <limit>.
type Select struct {
	Table   string
	Schema  string
	Columns string
	Where   string
	Limit   *int // nil means DefaultLimit; 0 is sent as LIMIT 0
}

// Insert describes INSERT INTO <schema>.<table> (<cols>) VALUES ($1..$n).
type Insert struct {
	Table  string
	Schema string
	Data   Values
}

// Update describes UPDATE <schema>.<table> SET col = $i, ... WHERE <where>.
type Update struct {
	Table  string
	Schema string
	Data   Values
	Where  string
}

// Delete describes DELETE FROM <schema>.<table> WHERE <where>.
type Delete struct {
	Table  string
	Schema string
	Where  string
}

// raw escapes caller text so squirrel does not read '?' as a placeholder.
func raw(s string) string {
	return placeholderEscaper.Replace(s)
}

func qualified(schema, table string) string {
	if schema == "" {
		schema = DefaultSchema
	}
	return raw(schema) + "." + raw(table)
}

// BuildSelect validates s and renders it.
func BuildSelect(s Select) (Statement, error) {
	if s.Table == "" {
		return Statement{}, ErrMissingTable
	}
	limit := DefaultLimit
	if s.Limit != nil {
		limit = *s.Limit
	}
	if limit < 0 {
		return Statement{}, ErrNegativeLimit
	}
	columns := s.Columns
	if strings.TrimSpace(columns) == "" {
		columns = "*"
	}

	q := statementBuilder.Select(raw(columns)).From(qualified(s.Schema, s.Table))
	if s.Where != "" {
		q = q.Where(raw(s.Where))
	}
	q = q.Limit(uint64(limit))

	return toStatement(q)
}

// BuildInsert validates i and renders it. Placeholders follow the order of i.Data.
func BuildInsert(i Insert) (Statement, error) {
	if i.Table == "" {
		return Statement{}, ErrMissingTable
	}
	if i.Data == nil || i.Data.Len() == 0 {
		return Statement{}, ErrNoInsertData
	}

	cols := make([]string, 0, i.Data.Len())
	marks := make([]string, 0, i.Data.Len())
	args := make([]any, 0, i.Data.Len())
	for pair := i.Data.Oldest(); pair != nil; pair = pair.Next() {
		cols = append(cols, raw(pair.Key))
		marks = append(marks, "?")
		args = append(args, pair.Value)
	}

	q := statementBuilder.Insert(qualified(i.Schema, i.Table)).
		Columns(strings.Join(cols, ", ")).
		Values(sq.Expr(strings.Join(marks, ", "), args...))

	return toStatement(q)
}

// BuildUpdate validates u and renders it. Missing data is reported before a
// missing filter.
func BuildUpdate(u Update) (Statement, error) {
	if u.Table == "" {
		return Statement{}, ErrMissingTable
	}
	if u.Data == nil || u.Data.Len() == 0 {
		return Statement{}, ErrNoUpdateData
	}
	if u.Where == "" {
		return Statement{}, ErrUpdateNeedsWhere
	}

	q := statementBuilder.Update(qualified(u.Schema, u.Table))
	for pair := u.Data.Oldest(); pair != nil; pair = pair.Next() {
		q = q.Set(raw(pair.Key), pair.Value)
	}
	q = q.Where(raw(u.Where))

	return toStatement(q)
}

// BuildDelete validates d and renders it.
func BuildDelete(d Delete) (Statement, error) {
	if d.Table == "" {
		return Statement{}, ErrMissingTable
	}
	if d.Where == "" {
		return Statement{}, ErrDeleteNeedsWhere
	}

	q := statementBuilder.Delete(qualified(d.Schema, d.Table)).Where(raw(d.Where))
	return toStatement(q)
}

func toStatement(q sq.Sqlizer) (Statement, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return Statement{}, err
	}
	if args == nil {
		args = []any{}
	}
	return Statement{SQL: sql, Args: args}, nil
}
