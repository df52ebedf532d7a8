// Package querysql compiles queryir trees to parameterized SQL.
//
// Values are never interpolated: every literal becomes a placeholder and is
// returned in the params slice. Identifiers are interpolated only after
// queryir.Validate has accepted them.
package querysql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/truenicoco/slidge-sub000/internal/queryir"
)

// Dialect selects placeholder syntax.
type Dialect int

const (
	// SQLite uses "?" placeholders.
	SQLite Dialect = iota
	// Postgres uses "$1", "$2", ... placeholders.
	Postgres
)

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case Postgres:
		return "postgres"
	default:
		return "unknown"
	}
}

// Compiler turns queryir queries into SQL for one dialect.
type Compiler struct {
	Dialect Dialect
}

// NewCompiler creates a compiler for d.
func NewCompiler(d Dialect) *Compiler {
	return &Compiler{Dialect: d}
}

// Compile validates q and converts it to SQL.
// Returns (sql, params, error).
func (c *Compiler) Compile(q queryir.Query) (string, []any, error) {
	if err := queryir.Validate(q); err != nil {
		return "", nil, fmt.Errorf("invalid query: %w", err)
	}

	var sel queryir.Select
	switch query := q.(type) {
	case queryir.Select:
		sel = query
	case *queryir.Select:
		sel = *query
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}

	sql, params, err := c.compileSelect(sel, 0)
	if err != nil {
		return "", nil, err
	}
	return Rebind(c.Dialect, sql), params, nil
}

func (c *Compiler) compileSelect(s queryir.Select, depth int) (string, []any, error) {
	var (
		b      strings.Builder
		params []any
	)

	b.WriteString("SELECT ")
	b.WriteString(strings.Join(s.Columns, ", "))
	b.WriteString(" FROM ")
	if s.Inner != nil {
		inner, innerParams, err := c.compileSelect(*s.Inner, depth+1)
		if err != nil {
			return "", nil, fmt.Errorf("compile inner select: %w", err)
		}
		fmt.Fprintf(&b, "(%s) AS w%d", inner, depth)
		params = append(params, innerParams...)
	} else {
		b.WriteString(s.From)
	}

	if s.Filter != nil {
		where, whereParams, err := c.compilePredicate(s.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		b.WriteString(" WHERE ")
		b.WriteString(where)
		params = append(params, whereParams...)
	}

	b.WriteString(" ORDER BY ")
	for i, o := range s.OrderBy {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(o.Field)
		if o.Desc {
			b.WriteString(" DESC")
		} else {
			b.WriteString(" ASC")
		}
	}

	if s.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(s.Limit))
	}

	return b.String(), params, nil
}

func (c *Compiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		return pred.Field + " = ?", []any{pred.Value}, nil
	case queryir.In:
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(pred.Values)), ", ")
		return fmt.Sprintf("%s IN (%s)", pred.Field, marks), append([]any(nil), pred.Values...), nil
	case queryir.Compare:
		if len(pred.Fields) == 1 {
			return fmt.Sprintf("%s %s ?", pred.Fields[0], pred.Op), []any{pred.Values[0]}, nil
		}
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(pred.Values)), ", ")
		sql := fmt.Sprintf("(%s) %s (%s)", strings.Join(pred.Fields, ", "), pred.Op, marks)
		return sql, append([]any(nil), pred.Values...), nil
	case queryir.And:
		if len(pred.Predicates) == 0 {
			return "1 = 1", nil, nil
		}
		var (
			parts  []string
			params []any
		)
		for _, sub := range pred.Predicates {
			sql, subParams, err := c.compilePredicate(sub)
			if err != nil {
				return "", nil, err
			}
			if _, nested := sub.(queryir.And); nested {
				sql = "(" + sql + ")"
			}
			parts = append(parts, sql)
			params = append(params, subParams...)
		}
		return strings.Join(parts, " AND "), params, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// Rebind rewrites "?" placeholders for d. Question marks inside single
// quoted literals are left alone.
func Rebind(d Dialect, query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}

	var (
		b       strings.Builder
		n       int
		inQuote bool
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			inQuote = !inQuote
			b.WriteByte(ch)
		case ch == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}
