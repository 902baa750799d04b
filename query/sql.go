package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// SQL renders p as a parameterised WHERE fragment. Placeholders start at
// $argStart and the matching arguments are returned in order.
func SQL(p Predicate, argStart int) (string, []any, error) {
	if argStart < 1 {
		argStart = 1
	}
	r := &sqlRenderer{next: argStart}
	if p == nil {
		return "TRUE", nil, nil
	}
	s, err := r.render(p)
	if err != nil {
		return "", nil, err
	}
	return s, r.args, nil
}

type sqlRenderer struct {
	next int
	args []any
}

func (r *sqlRenderer) arg(v any) string {
	r.args = append(r.args, v)
	s := "$" + strconv.Itoa(r.next)
	r.next++
	return s
}

func ident(field string) string {
	return pgx.Identifier{field}.Sanitize()
}

func (r *sqlRenderer) render(p Predicate) (string, error) {
	switch p := p.(type) {
	case Range:
		return fmt.Sprintf("%s BETWEEN %s AND %s", ident(p.Field), r.arg(p.Min), r.arg(p.Max)), nil
	case Comparison:
		op := string(p.Op)
		if p.Op == OpNe {
			op = "<>"
		}
		switch p.Op {
		case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
		default:
			return "", fmt.Errorf("unsupported operator %q", p.Op)
		}
		return fmt.Sprintf("%s %s %s", ident(p.Field), op, r.arg(p.Value)), nil
	case Compound:
		if len(p.Operands) == 0 {
			if p.Logic == LogicOr {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		parts := make([]string, len(p.Operands))
		for i, op := range p.Operands {
			s, err := r.render(op)
			if err != nil {
				return "", err
			}
			parts[i] = "(" + s + ")"
		}
		return strings.Join(parts, " "+string(p.Logic)+" "), nil
	case Negation:
		s, err := r.render(p.Operand)
		if err != nil {
			return "", err
		}
		return "NOT (" + s + ")", nil
	}
	return "", fmt.Errorf("unsupported predicate %T", p)
}
