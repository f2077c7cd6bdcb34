// Evaluator walks an Expr tree against one Row. Grounded on
// sqldriver/evaluator.go's switch-on-AST-node-type Eval method, its
// short-circuiting AndExpr/OrExpr, and its ColName table-qualified
// lookup-with-fallback — rewritten against this package's own sealed Expr
// types and typed Value instead of sqlparser.Expr/interface{}.
package query

import (
	"strings"

	"github.com/oarkflow/emberdb/errs"
)

// Evaluator carries no state; it is a plain namespace for the evaluation
// methods (the teacher's Evaluator similarly holds no row-specific state
// between calls, only bound query arguments it doesn't need here).
type Evaluator struct{}

// EvalBool evaluates expr as a predicate (spec §4.4 "Filter": "evaluate
// cond per row; keep where result is true").
func (ev *Evaluator) EvalBool(expr Expr, row Row) (bool, error) {
	switch e := expr.(type) {
	case LogicalOp:
		left, err := ev.EvalBool(e.Left, row)
		if err != nil {
			return false, err
		}
		if e.Op == AND {
			if !left {
				return false, nil
			}
			return ev.EvalBool(e.Right, row)
		}
		if left {
			return true, nil
		}
		return ev.EvalBool(e.Right, row)

	case NotExpr:
		b, err := ev.EvalBool(e.Inner, row)
		return !b, err

	case BinaryOp:
		return ev.evalComparison(e, row)

	case LikeExpr:
		v, err := ev.EvalValue(e.Inner, row)
		if err != nil {
			return false, err
		}
		if v.Kind != KindString {
			return false, nil
		}
		stripped := strings.ReplaceAll(e.Pattern, "%", "")
		return strings.Contains(v.S, stripped), nil

	case InExpr:
		v, err := ev.EvalValue(e.Inner, row)
		if err != nil {
			return false, err
		}
		for _, candidate := range e.Values {
			cv, err := ev.EvalValue(candidate, row)
			if err != nil {
				return false, err
			}
			if v.Equal(cv) {
				return true, nil
			}
		}
		return false, nil

	case BetweenExpr:
		v, err := ev.EvalValue(e.Inner, row)
		if err != nil {
			return false, err
		}
		minV, err := ev.EvalValue(e.Min, row)
		if err != nil {
			return false, err
		}
		maxV, err := ev.EvalValue(e.Max, row)
		if err != nil {
			return false, err
		}
		cmpMin, okMin := v.Compare(minV)
		cmpMax, okMax := v.Compare(maxV)
		if !okMin || !okMax {
			return false, nil
		}
		return cmpMin >= 0 && cmpMax <= 0, nil

	default:
		v, err := ev.EvalValue(expr, row)
		if err != nil {
			return false, err
		}
		return v.Kind == KindBoolean && v.B, nil
	}
}

// EvalValue evaluates expr to a Value, for use inside comparisons.
func (ev *Evaluator) EvalValue(expr Expr, row Row) (Value, error) {
	switch e := expr.(type) {
	case ColumnExpr:
		return resolveColumn(row, e.Name), nil
	case LiteralExpr:
		return e.Value, nil
	default:
		b, err := ev.EvalBool(expr, row)
		if err != nil {
			return Null, err
		}
		return BoolValue(b), nil
	}
}

func (ev *Evaluator) evalComparison(e BinaryOp, row Row) (bool, error) {
	l, err := ev.EvalValue(e.Left, row)
	if err != nil {
		return false, err
	}
	r, err := ev.EvalValue(e.Right, row)
	if err != nil {
		return false, err
	}
	switch e.Op {
	case EQ:
		return l.Equal(r), nil
	case NEQ:
		return !l.Equal(r), nil
	case LT, LTE, GT, GTE:
		cmp, ok := l.Compare(r)
		if !ok {
			// incompatible types degrade silently to false, per spec §4.4
			// "Failure semantics".
			return false, nil
		}
		switch e.Op {
		case LT:
			return cmp < 0, nil
		case LTE:
			return cmp <= 0, nil
		case GT:
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}
	default:
		return false, errs.Newf(errs.Storage, "query: unsupported comparison operator")
	}
}

// resolveColumn implements spec §4.4's "Column resolves by column name
// (table-qualified names strip up to the last '.')" — falling back to the
// fully-qualified key too, since merged join rows may carry both forms
// (mirrors sqldriver's TableScanIterator, which stores both
// "prefix.col" and "col" per row).
func resolveColumn(row Row, name string) Value {
	lookup := name
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		lookup = name[idx+1:]
	}
	if v, ok := row[lookup]; ok {
		return FromAny(v)
	}
	if v, ok := row[name]; ok {
		return FromAny(v)
	}
	return Null
}
