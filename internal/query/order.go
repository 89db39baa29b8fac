package query

import (
	"fmt"
	"strings"
)

// OrderClause represents a single column ordering directive.
type OrderClause struct {
	Column    string // Validated column name.
	Direction string // "ASC" or "DESC".
}

// String returns the SQL fragment for this order clause, e.g. "created_at DESC".
func (o OrderClause) String() string {
	return o.Column + " " + o.Direction
}

// Columns maps the names a list endpoint allows ordering by to the SQL
// expression each one sorts on.
type Columns map[string]string

// NewColumns builds a Columns set where every name sorts on itself.
func NewColumns(names ...string) Columns {
	c := make(Columns, len(names))
	for _, n := range names {
		c[n] = n
	}
	return c
}

// With returns a copy of c where name sorts on expr.
func (c Columns) With(name, expr string) Columns {
	out := make(Columns, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	out[name] = expr
	return out
}

// ParseOrder parses an order string like "created_at DESC, name" or the
// shorthand "-created_at,name". Direction defaults to ASC. Every column must
// be in allowed.
func ParseOrder(order string, allowed Columns) ([]OrderClause, error) {
	order = strings.TrimSpace(order)
	if order == "" {
		return nil, nil
	}

	parts := strings.Split(order, ",")
	clauses := make([]OrderClause, 0, len(parts))

	for _, part := range parts {
		tokens := strings.Fields(part)
		if len(tokens) == 0 {
			continue
		}
		if len(tokens) > 2 {
			return nil, fmt.Errorf("invalid order clause %q: expected 'column [ASC|DESC]'", strings.TrimSpace(part))
		}

		col := tokens[0]
		dir := "ASC"
		if strings.HasPrefix(col, "-") {
			if len(tokens) == 2 {
				return nil, fmt.Errorf("invalid order clause %q: use either -column or a direction", strings.TrimSpace(part))
			}
			col = col[1:]
			dir = "DESC"
		}
		if err := ValidateIdentifier(col); err != nil {
			return nil, fmt.Errorf("invalid order column: %w", err)
		}
		if _, ok := allowed[col]; !ok {
			return nil, fmt.Errorf("cannot order by %q", col)
		}

		if len(tokens) == 2 {
			switch d := strings.ToUpper(tokens[1]); d {
			case "ASC", "DESC":
				dir = d
			default:
				return nil, fmt.Errorf("invalid order direction %q: must be ASC or DESC", tokens[1])
			}
		}

		clauses = append(clauses, OrderClause{Column: col, Direction: dir})
	}

	if len(clauses) == 0 {
		return nil, nil
	}
	return clauses, nil
}

// OrderBy returns an " ORDER BY ..." fragment for order, or for fallback when
// order is empty. Only expressions from the allow-list reach the SQL.
func OrderBy(order string, allowed Columns, fallback string) (string, error) {
	clauses, err := ParseOrder(order, allowed)
	if err != nil {
		return "", err
	}
	if len(clauses) == 0 {
		if fallback == "" {
			return "", nil
		}
		return " ORDER BY " + fallback, nil
	}
	parts := make([]string, len(clauses))
	for i, c := range clauses {
		parts[i] = allowed[c.Column] + " " + c.Direction
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

// LimitOffset returns a " LIMIT n OFFSET m" fragment understood by SQLite,
// PostgreSQL and MySQL. Returns an empty string if limit is 0.
func LimitOffset(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	s := fmt.Sprintf(" LIMIT %d", limit)
	if offset > 0 {
		s += fmt.Sprintf(" OFFSET %d", offset)
	}
	return s
}

// ClampLimit applies a default when limit is unset and caps it at max.
func ClampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
