// Planner turns a parsed Query into the closed set of ten physical
// operators named in spec §4.4 (TableScan/IndexScan/IndexRangeScan/Filter/
// HashJoin/GroupBy/Aggregate/Sort/Limit/Project, implemented here as a
// tagged sum per §9 "Operators form a closed
// set... implement as a tagged sum"). No teacher planner exists to ground
// on (sqldriver has no cost-free operator tree, it pushes straight to
// iterators); grounded directly on spec §4.4's "Planning rules" list.
package query

// Operator is the sealed physical-plan node interface.
type Operator interface{ operator() }

type TableScanOp struct{ Table string }

type IndexScanOp struct {
	Table string
	Index string
	Key   Value
}

type IndexRangeScanOp struct {
	Table string
	Index string
	Start *Value
	End   *Value
}

type FilterOp struct {
	Child Operator
	Cond  Expr
}

type HashJoinOp struct {
	Left  Operator
	Right Operator
	Type  JoinType
	Cond  Expr
}

type GroupByOp struct {
	Child     Operator
	GroupCols []string
	Aggs      []AggregateSel
	Having    Expr
}

type AggregateOp struct {
	Child Operator
	Aggs  []AggregateSel
}

type SortOp struct {
	Child  Operator
	Orders []OrderTerm
}

type LimitOp struct {
	Child  Operator
	Count  int
	Offset int
}

type ProjectOp struct {
	Child  Operator
	Select []SelectColumn
}

func (TableScanOp) operator()      {}
func (IndexScanOp) operator()      {}
func (IndexRangeScanOp) operator() {}
func (FilterOp) operator()         {}
func (HashJoinOp) operator()       {}
func (GroupByOp) operator()        {}
func (AggregateOp) operator()      {}
func (SortOp) operator()           {}
func (LimitOp) operator()          {}
func (ProjectOp) operator()        {}

// Plan converts q into a physical operator tree against catalog (spec
// §4.4 "Planner").
func Plan(q *Query, catalog *Catalog) (Operator, error) {
	var op Operator = TableScanOp{Table: q.From.Table}
	for _, j := range q.From.Joins {
		right := Operator(TableScanOp{Table: j.Table})
		op = HashJoinOp{Left: op, Right: right, Type: j.Type, Cond: j.Cond}
	}

	if q.Where != nil {
		if len(q.From.Joins) == 0 {
			if substituted := trySubstituteIndex(q.From.Table, q.Where, catalog); substituted != nil {
				op = substituted
			} else {
				op = FilterOp{Child: op, Cond: q.Where}
			}
		} else {
			op = FilterOp{Child: op, Cond: q.Where}
		}
	}

	hasAgg := false
	for _, c := range q.Select {
		if _, ok := c.(AggregateSel); ok {
			hasAgg = true
		}
	}

	switch {
	case hasAgg && len(q.GroupBy) > 0:
		op = GroupByOp{Child: op, GroupCols: q.GroupBy, Aggs: extractAggs(q.Select), Having: q.Having}
		if len(q.OrderBy) > 0 {
			op = SortOp{Child: op, Orders: q.OrderBy}
		}
	case hasAgg:
		op = AggregateOp{Child: op, Aggs: extractAggs(q.Select)}
		if len(q.OrderBy) > 0 {
			op = SortOp{Child: op, Orders: q.OrderBy}
		}
	default:
		// Sort runs on the pre-projection rows so ORDER BY can reference a
		// column outside the SELECT list (e.g. spec scenario S6 orders by
		// `age` while selecting only `name`); Project then narrows columns
		// without disturbing the order Sort established.
		if len(q.OrderBy) > 0 {
			op = SortOp{Child: op, Orders: q.OrderBy}
		}
		op = ProjectOp{Child: op, Select: q.Select}
	}

	if q.Limit != nil {
		op = LimitOp{Child: op, Count: q.Limit.Count, Offset: q.Limit.Offset}
	}

	return op, nil
}

func extractAggs(cols []SelectColumn) []AggregateSel {
	var aggs []AggregateSel
	for _, c := range cols {
		if a, ok := c.(AggregateSel); ok {
			aggs = append(aggs, a)
		}
	}
	return aggs
}

// trySubstituteIndex implements spec §4.4's planning rule: "If WHERE exists,
// wrap in Filter UNLESS the top-level predicate is col = literal (or
// BETWEEN/range comparison on a col) and a matching index exists, in which
// case replace the base scan with an IndexScan... or IndexRangeScan...".
// Returns nil when no substitution applies, leaving the caller to fall back
// to Filter.
func trySubstituteIndex(table string, where Expr, catalog *Catalog) Operator {
	switch w := where.(type) {
	case BinaryOp:
		col, lit, colOnLeft, ok := colAndLiteral(w.Left, w.Right)
		if !ok {
			return nil
		}
		if w.Op == EQ {
			if idx := catalog.FindIndexForColumn(table, col, false); idx != nil {
				return IndexScanOp{Table: table, Index: idx.Name, Key: lit}
			}
			return nil
		}
		if idx := catalog.FindIndexForColumn(table, col, true); idx != nil {
			return rangeScanForOp(table, idx, w.Op, lit, colOnLeft)
		}
		return nil
	case BetweenExpr:
		col, ok := w.Inner.(ColumnExpr)
		if !ok {
			return nil
		}
		minLit, minOK := literalValue(w.Min)
		maxLit, maxOK := literalValue(w.Max)
		if !minOK || !maxOK {
			return nil
		}
		idx := catalog.FindIndexForColumn(table, col.Name, true)
		if idx == nil {
			return nil
		}
		return IndexRangeScanOp{Table: table, Index: idx.Name, Start: &minLit, End: &maxLit}
	default:
		return nil
	}
}

// rangeScanForOp turns a single comparison (col <op> literal, or literal
// <op> col) into the half-open range IndexRangeScan expects.
func rangeScanForOp(table string, idx *Index, op TokenKind, lit Value, colOnLeft bool) Operator {
	// normalise to "col <op> lit" by flipping the operator when the literal
	// was on the left.
	if !colOnLeft {
		switch op {
		case LT:
			op = GT
		case LTE:
			op = GTE
		case GT:
			op = LT
		case GTE:
			op = LTE
		}
	}
	switch op {
	case LT, LTE:
		return IndexRangeScanOp{Table: table, Index: idx.Name, End: &lit}
	case GT, GTE:
		return IndexRangeScanOp{Table: table, Index: idx.Name, Start: &lit}
	default:
		return nil
	}
}

func colAndLiteral(left, right Expr) (col string, lit Value, colOnLeft bool, ok bool) {
	if c, isCol := left.(ColumnExpr); isCol {
		if l, isLit := right.(LiteralExpr); isLit {
			return c.Name, l.Value, true, true
		}
	}
	if c, isCol := right.(ColumnExpr); isCol {
		if l, isLit := left.(LiteralExpr); isLit {
			return c.Name, l.Value, false, true
		}
	}
	return "", Value{}, false, false
}

func literalValue(e Expr) (Value, bool) {
	if l, ok := e.(LiteralExpr); ok {
		return l.Value, true
	}
	return Value{}, false
}
