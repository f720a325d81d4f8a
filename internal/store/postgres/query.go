package postgres

import (
	"fmt"
	"strings"
)

// query accumulates WHERE clauses and positional arguments.
type query struct {
	base  string
	where []string
	args  []any
}

func newQuery(base string, args ...any) *query {
	return &query{base: base, args: args}
}

// arg appends v and returns its placeholder.
func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *query) and(clause string, v any) {
	q.where = append(q.where, fmt.Sprintf(clause, q.arg(v)))
}

// build renders the statement with the given ORDER BY and page.
func (q *query) build(orderBy string, limit, offset int) string {
	var b strings.Builder
	b.WriteString(q.base)
	if len(q.where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(q.where, " AND "))
	}
	if orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(orderBy)
	}
	if limit > 0 {
		b.WriteString(" LIMIT " + q.arg(limit))
	}
	if offset > 0 {
		b.WriteString(" OFFSET " + q.arg(offset))
	}
	return b.String()
}
