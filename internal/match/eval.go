package match

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Operator is a comparison operator.
type Operator string

const (
	OpEq       Operator = "=="
	OpNeq      Operator = "!="
	OpGt       Operator = ">"
	OpGte      Operator = ">="
	OpLt       Operator = "<"
	OpLte      Operator = "<="
	OpContains Operator = "contains"
	OpMatches  Operator = "matches"
)

// Resolver looks up dotted field paths. A missing field reports ok=false and
// evaluates as null.
type Resolver interface {
	Resolve(path []string) (any, bool)
}

// Eval walks the expression against r.
func Eval(expr Expr, r Resolver) (bool, error) {
	switch e := expr.(type) {
	case *Logical:
		left, err := Eval(e.Left, r)
		if err != nil {
			return false, err
		}
		switch e.Op {
		case "AND":
			if !left {
				return false, nil
			}
		case "OR":
			if left {
				return true, nil
			}
		default:
			return false, fmt.Errorf("unknown logical op %q", e.Op)
		}
		return Eval(e.Right, r)
	case *Not:
		v, err := Eval(e.Expr, r)
		return !v, err
	case *Compare:
		return compare(e.Op, operandValue(e.Left, r), operandValue(e.Right, r))
	default:
		return false, fmt.Errorf("unknown expression %T", expr)
	}
}

func operandValue(op Operand, r Resolver) any {
	switch o := op.(type) {
	case *Literal:
		return o.Value
	case *Field:
		v, _ := r.Resolve(o.Path)
		return v
	}
	return nil
}

// precompile swaps a regex literal for its compiled form at parse time.
func precompile(op Operand) error {
	lit, ok := op.(*Literal)
	if !ok {
		return nil
	}
	pattern, ok := lit.Value.(string)
	if !ok {
		return fmt.Errorf("matches: pattern must be a string, got %T", lit.Value)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("matches: invalid regex %q: %w", pattern, err)
	}
	lit.Value = re
	return nil
}

func compare(op Operator, left, right any) (bool, error) {
	switch op {
	case OpEq:
		return equal(left, right), nil
	case OpNeq:
		return !equal(left, right), nil
	case OpGt, OpGte, OpLt, OpLte:
		if left == nil || right == nil {
			return false, nil
		}
		return ordered(op, left, right)
	case OpContains:
		ls, ok := left.(string)
		if !ok {
			return false, nil
		}
		return strings.Contains(ls, fmt.Sprint(right)), nil
	case OpMatches:
		ls, ok := left.(string)
		if !ok {
			return false, nil
		}
		switch p := right.(type) {
		case *regexp.Regexp:
			return p.MatchString(ls), nil
		case string:
			re, err := regexp.Compile(p)
			if err != nil {
				return false, fmt.Errorf("matches: invalid regex %q: %w", p, err)
			}
			return re.MatchString(ls), nil
		}
		return false, fmt.Errorf("matches: pattern must be a string, got %T", right)
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func equal(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if lok && rok {
		return math.Abs(lf-rf) < 1e-9
	}
	if lb, ok := left.(bool); ok {
		rb, ok := right.(bool)
		return ok && lb == rb
	}
	if _, ok := right.(bool); ok {
		return false
	}
	return fmt.Sprint(left) == fmt.Sprint(right)
}

func ordered(op Operator, left, right any) (bool, error) {
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if !lok || !rok {
		ls, lsok := left.(string)
		rs, rsok := right.(string)
		if !lsok || !rsok {
			return false, fmt.Errorf("operator %s needs two numbers or two strings, got %T and %T", op, left, right)
		}
		c := strings.Compare(ls, rs)
		lf, rf = float64(c), 0
	}
	switch op {
	case OpGt:
		return lf > rf, nil
	case OpGte:
		return lf >= rf, nil
	case OpLt:
		return lf < rf, nil
	default:
		return lf <= rf, nil
	}
}
