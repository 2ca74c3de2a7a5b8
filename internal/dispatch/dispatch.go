// Package dispatch sends one raw statement through a pooled connection and
// renders the outcome.
//
// Every failure is folded into the Result, so callers never see a Go error:
// a safety block, a driver fault, and a cancellation all come back as text.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/rs/zerolog"

	"github.com/ShunsukeTamura06/fastmcp-postgres-server/internal/normalize"
	"github.com/ShunsukeTamura06/fastmcp-postgres-server/internal/pool"
	"github.com/ShunsukeTamura06/fastmcp-postgres-server/internal/safety"
	"github.com/ShunsukeTamura06/fastmcp-postgres-server/internal/timeout"
)

// Category is the statement kind, taken from the leading keyword.
type Category int

const (
	// Other covers DDL, administrative statements and anything unrecognized.
	Other Category = iota
	// Read covers SELECT and WITH.
	Read
	// Mutating covers INSERT, UPDATE and DELETE.
	Mutating
)

func (c Category) String() string {
	switch c {
	case Read:
		return "read"
	case Mutating:
		return "mutating"
	default:
		return "other"
	}
}

// Classify returns the category of query. Case and surrounding whitespace are
// ignored. Only the prefix is inspected, so "selector" counts as a read.
func Classify(query string) Category {
	q := strings.ToLower(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(q, "select"), strings.HasPrefix(q, "with"):
		return Read
	case strings.HasPrefix(q, "insert"), strings.HasPrefix(q, "update"), strings.HasPrefix(q, "delete"):
		return Mutating
	default:
		return Other
	}
}

// Result is the outcome of one dispatch. Exactly one of Rows, Status,
// BlockedRule or Err is meaningful, as reported by the predicates.
type Result struct {
	Category    Category
	Rows        []normalize.Row
	Status      string
	BlockedRule string
	Err         error
}

// IsRows reports whether the result carries a row set.
func (r *Result) IsRows() bool {
	return r.Rows != nil
}

// Blocked reports whether the safety gate stopped the query.
func (r *Result) Blocked() bool {
	return r.BlockedRule != ""
}

// Text renders the result for the caller: pretty JSON for rows, the status
// line for other statements, or the blocked or database error text.
func (r *Result) Text() string {
	switch {
	case r.Blocked():
		return BlockedText(r.BlockedRule)
	case r.Err != nil:
		return "Database error: " + r.Err.Error()
	case r.IsRows():
		out, err := normalize.Marshal(r.Rows)
		if err != nil {
			return "Database error: " + err.Error()
		}
		return out
	default:
		return r.Status
	}
}

// BlockedText is the caller-facing message for a query stopped by rule.
func BlockedText(rule string) string {
	return fmt.Sprintf("Error: Dangerous query detected (%s). Use safe_mode=false to execute if you're sure.", rule)
}

// Dispatcher screens, routes and executes raw statements.
type Dispatcher struct {
	classifier *safety.Classifier
	conns      pool.Acquirer
	timeouts   *timeout.Manager
	logger     zerolog.Logger
}

// New returns a Dispatcher. A nil timeouts manager means no per-statement
// deadline beyond the caller's context.
func New(classifier *safety.Classifier, conns pool.Acquirer, timeouts *timeout.Manager, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		classifier: classifier,
		conns:      conns,
		timeouts:   timeouts,
		logger:     logger,
	}
}

// Dispatch runs query with params. With safeMode on, a query flagged by the
// classifier is returned as blocked and never reaches the pool. Exactly one
// statement is sent otherwise, with no transaction around it.
func (d *Dispatcher) Dispatch(ctx context.Context, query string, params []any, safeMode bool) *Result {
	startTime := time.Now()
	category := Classify(query)

	if safeMode {
		if v := d.classifier.Inspect(query); v.Blocked {
			d.logger.Warn().
				Str("rule", v.Rule).
				Str("sql", truncateForLog(query, 200)).
				Msg("dangerous query blocked")
			return &Result{Category: category, BlockedRule: v.Rule}
		}
	}

	queryCtx := ctx
	timeoutRule := ""
	if d.timeouts != nil {
		var limit time.Duration
		limit, timeoutRule = d.timeouts.GetTimeoutWithPattern(query)
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	result := &Result{Category: category}
	err := d.conns.WithConn(queryCtx, func(ctx context.Context, conn pool.Conn) error {
		if category == Read {
			rows, err := conn.Query(ctx, query, params...)
			if err != nil {
				return err
			}
			result.Rows, err = collectRows(rows)
			return err
		}
		tag, err := conn.Exec(ctx, query, params...)
		if err != nil {
			return err
		}
		result.Status = "Query executed successfully. " + tag.String()
		return nil
	})
	if err != nil {
		d.logger.Error().
			Err(err).
			Str("category", category.String()).
			Str("sql", truncateForLog(query, 200)).
			Msg("query error")
		return &Result{Category: category, Err: err}
	}

	logEvent := d.logger.Info().
		Str("category", category.String()).
		Str("sql", truncateForLog(query, 200)).
		Dur("duration", time.Since(startTime))
	if fp := fingerprint(query); fp != "" {
		logEvent = logEvent.Str("fingerprint", fp)
	}
	if result.IsRows() {
		logEvent = logEvent.Int("row_count", len(result.Rows))
	} else {
		logEvent = logEvent.Str("status", result.Status)
	}
	if timeoutRule != "" {
		logEvent = logEvent.Str("timeout_rule", timeoutRule)
	}
	logEvent.Msg("query executed")

	return result
}

// collectRows drains rows into normalized rows. The returned slice is never
// nil, so an empty result still serializes as [].
func collectRows(rows pgx.Rows) ([]normalize.Row, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := make([]normalize.Row, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		out = append(out, normalize.NewRow(fields, values))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// fingerprint groups statements that differ only in constants. Empty when
// the text does not parse.
func fingerprint(query string) string {
	fp, err := pg_query.Fingerprint(query)
	if err != nil {
		return ""
	}
	return fp
}

// truncateForLog truncates a string for log output to avoid oversized log entries.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + "...[truncated]"
}
