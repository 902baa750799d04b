// Package query builds bounding-box predicates over geotagged records.
package query

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldSource is implemented by anything a predicate can be evaluated
// against: a field is read by name and reports whether it was present.
type FieldSource interface {
	Field(name string) (any, bool)
}

type Predicate interface {
	Match(src FieldSource) bool
	String() string
}

type Op string

const (
	OpEq  Op = "="
	OpNe  Op = "!="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
)

// Range matches Min <= Field <= Max for numeric fields.
type Range struct {
	Field    string
	Min, Max float64
}

func Between(field string, min, max float64) Range {
	return Range{Field: field, Min: min, Max: max}
}

func (r Range) Match(src FieldSource) bool {
	v, ok := src.Field(r.Field)
	if !ok {
		return false
	}
	f, ok := Float(v)
	return ok && f >= r.Min && f <= r.Max
}

func (r Range) String() string {
	return fmt.Sprintf("%s BETWEEN {%g, %g}", r.Field, r.Min, r.Max)
}

type Comparison struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, value any) Comparison {
	return Comparison{Field: field, Op: OpEq, Value: value}
}

func Compare(field string, op Op, value any) Comparison {
	return Comparison{Field: field, Op: op, Value: value}
}

func (c Comparison) Match(src FieldSource) bool {
	v, ok := src.Field(c.Field)
	if !ok {
		return false
	}
	cmp, ok := compareValues(v, c.Value)
	if !ok {
		return c.Op == OpNe
	}
	switch c.Op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	}
	return false
}

func (c Comparison) String() string {
	return fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value)
}

type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Compound joins its operands with AND or OR. An empty AND matches
// everything, an empty OR matches nothing.
type Compound struct {
	Logic    Logic
	Operands []Predicate
}

func And(preds ...Predicate) Predicate {
	return compound(LogicAnd, preds)
}

func Or(preds ...Predicate) Predicate {
	return compound(LogicOr, preds)
}

func compound(logic Logic, preds []Predicate) Predicate {
	ops := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			ops = append(ops, p)
		}
	}
	if len(ops) == 1 {
		return ops[0]
	}
	return Compound{Logic: logic, Operands: ops}
}

func (c Compound) Match(src FieldSource) bool {
	for _, p := range c.Operands {
		m := p.Match(src)
		if c.Logic == LogicOr && m {
			return true
		}
		if c.Logic == LogicAnd && !m {
			return false
		}
	}
	return c.Logic == LogicAnd
}

func (c Compound) String() string {
	parts := make([]string, len(c.Operands))
	for i, p := range c.Operands {
		parts[i] = "(" + p.String() + ")"
	}
	return strings.Join(parts, " "+string(c.Logic)+" ")
}

type Negation struct {
	Operand Predicate
}

func Not(p Predicate) Negation {
	return Negation{Operand: p}
}

func (n Negation) Match(src FieldSource) bool { return !n.Operand.Match(src) }
func (n Negation) String() string             { return "NOT (" + n.Operand.String() + ")" }

// Float coerces numeric values, and strings holding a decimal number, to
// float64.
func Float(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(n)), 64)
		return f, err == nil
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func compareValues(a, b any) (int, bool) {
	if af, ok := Float(a); ok {
		if bf, ok := Float(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			}
			return 0, true
		}
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), true
		}
	case bool:
		if bv, ok := b.(bool); ok {
			if av == bv {
				return 0, true
			}
			if !av {
				return -1, true
			}
			return 1, true
		}
	}
	return 0, false
}
