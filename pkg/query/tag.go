package query

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/docbrain-ai/docbrain/pkg/model"
	"github.com/docbrain-ai/docbrain/pkg/prompts"
)

// ============================================================================
// TABLE-AUGMENTED GENERATION
// ============================================================================

// Tag answers a query against structured data instead of document
// chunks. The router dispatches here when classification picks the tag
// service with enough confidence.
type Tag interface {
	Answer(ctx context.Context, query, knowledgeBaseID string) (*TagResult, error)
}

// TagResult is a structured-data answer: the formatted text, the SQL
// that produced it, and the raw rows.
type TagResult struct {
	Answer  string
	SQL     string
	Results []map[string]string
	Sources []model.Source
}

// RowQuerier executes one read-only SQL statement against the
// structured source. Implementations should hold a read-only
// connection; ValidateReadOnlyQuery runs before every call but is a
// guard, not a privilege boundary.
type RowQuerier interface {
	QueryRows(ctx context.Context, query string) ([]map[string]string, error)
}

var forbiddenSQLKeyword = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|truncate|grant|revoke|attach|pragma|merge|replace|exec|execute|call)\b`)

// ValidateReadOnlyQuery rejects anything but a single SELECT or WITH
// statement.
func ValidateReadOnlyQuery(sqlText string) error {
	trimmed := strings.TrimSpace(sqlText)
	trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	if trimmed == "" {
		return fmt.Errorf("empty SQL statement")
	}
	if strings.Contains(trimmed, ";") {
		return fmt.Errorf("multiple SQL statements are not allowed")
	}
	first := strings.ToLower(strings.Fields(trimmed)[0])
	if first != "select" && first != "with" {
		return fmt.Errorf("only SELECT statements are allowed, got %q", first)
	}
	if m := forbiddenSQLKeyword.FindString(trimmed); m != "" {
		return fmt.Errorf("forbidden SQL keyword %q", strings.ToUpper(m))
	}
	return nil
}

// ============================================================================
// LLM TEXT-TO-SQL
// ============================================================================

// LLMTag translates a natural-language question into one read-only SQL
// statement, executes it, and formats the rows deterministically. Only
// the SQL is generated; the answer text never passes through a model.
type LLMTag struct {
	completer Completer
	registry  *prompts.Registry
	querier   RowQuerier
	schema    string
}

// NewLLMTag builds the translator. The schema description is pasted
// into the generation prompt verbatim, so keep it to the tables the
// querier can actually see.
func NewLLMTag(completer Completer, registry *prompts.Registry, querier RowQuerier, schema string) (*LLMTag, error) {
	if completer == nil || querier == nil {
		return nil, fmt.Errorf("tag requires a completer and a row querier")
	}
	if strings.TrimSpace(schema) == "" {
		return nil, fmt.Errorf("tag requires a schema description")
	}
	if registry == nil {
		registry = prompts.New()
	}
	return &LLMTag{
		completer: completer,
		registry:  registry,
		querier:   querier,
		schema:    schema,
	}, nil
}

func (t *LLMTag) Answer(ctx context.Context, query, _ string) (*TagResult, error) {
	prompt := t.registry.Render(prompts.DomainTag, prompts.TagSQL, map[string]string{
		"schema": t.schema,
		"query":  query,
	})
	raw, err := t.completer.CompleteText(ctx, "", prompt)
	if err != nil {
		return nil, fmt.Errorf("SQL generation failed: %w", err)
	}

	sqlText := extractSQL(raw)
	if err := ValidateReadOnlyQuery(sqlText); err != nil {
		return nil, fmt.Errorf("generated SQL rejected: %w", err)
	}

	rows, err := t.querier.QueryRows(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("SQL execution failed: %w", err)
	}

	return &TagResult{
		Answer:  formatRows(rows),
		SQL:     sqlText,
		Results: rows,
		Sources: []model.Source{{Service: model.ServiceTAG, Score: 1, Content: sqlText}},
	}, nil
}

// extractSQL strips the markdown fences models wrap SQL in.
func extractSQL(raw string) string {
	s := strings.TrimSpace(raw)
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		if strings.HasPrefix(strings.ToLower(s), "sql") {
			s = s[3:]
		}
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	return strings.TrimSpace(s)
}

const maxAnswerRows = 20

// formatRows renders the rows as a plain-text table with sorted
// columns.
func formatRows(rows []map[string]string) string {
	if len(rows) == 0 {
		return "The query returned no rows."
	}

	columns := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	noun := "rows"
	if len(rows) == 1 {
		noun = "row"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The query returned %d %s.\n\n", len(rows), noun)
	b.WriteString(strings.Join(columns, " | "))
	b.WriteString("\n")

	shown := rows
	if len(shown) > maxAnswerRows {
		shown = shown[:maxAnswerRows]
	}
	for _, row := range shown {
		values := make([]string, len(columns))
		for i, col := range columns {
			values[i] = row[col]
		}
		b.WriteString(strings.Join(values, " | "))
		b.WriteString("\n")
	}
	if len(rows) > maxAnswerRows {
		fmt.Fprintf(&b, "... and %d more rows", len(rows)-maxAnswerRows)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ============================================================================
// SQL ADAPTER
// ============================================================================

// DBQuerier adapts a database/sql handle to RowQuerier, stringifying
// every column. Point it at a connection with read-only credentials.
type DBQuerier struct {
	db *sql.DB
}

func NewDBQuerier(db *sql.DB) *DBQuerier { return &DBQuerier{db: db} }

func (q *DBQuerier) QueryRows(ctx context.Context, query string) ([]map[string]string, error) {
	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]string
	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		scan := make([]any, len(columns))
		for i := range values {
			scan[i] = &values[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}
		row := make(map[string]string, len(columns))
		for i, col := range columns {
			row[col] = values[i].String
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
