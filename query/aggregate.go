// GroupBy/Aggregate operator execution and the five aggregate functions
// named in spec §4.4 ("Aggregate semantics"). No teacher grouping/
// aggregation exists to ground on (sqldriver has no GROUP BY support at
// all); built directly from the spec's per-function rules.
package query

import "strings"

func executeGroupBy(op GroupByOp, catalog *Catalog) ([]Row, error) {
	rows, err := Execute(op.Child, catalog)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]Row)
	var order []string
	for _, r := range rows {
		key := groupKey(r, op.GroupCols)
		if _, exists := groups[key]; !exists {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	ev := &Evaluator{}
	var out []Row
	for _, key := range order {
		grp := groups[key]
		result := make(Row, len(op.GroupCols)+len(op.Aggs))
		for _, col := range op.GroupCols {
			result[col] = resolveColumn(grp[0], col).ToAny()
		}
		for _, agg := range op.Aggs {
			result[aggOutputName(agg)] = computeAggregate(agg, grp).ToAny()
		}

		if op.Having != nil {
			ok, err := ev.EvalBool(op.Having, result)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, result)
	}
	return out, nil
}

func executeAggregate(op AggregateOp, catalog *Catalog) ([]Row, error) {
	rows, err := Execute(op.Child, catalog)
	if err != nil {
		return nil, err
	}
	result := make(Row, len(op.Aggs))
	for _, agg := range op.Aggs {
		result[aggOutputName(agg)] = computeAggregate(agg, rows).ToAny()
	}
	return []Row{result}, nil
}

func groupKey(r Row, cols []string) string {
	var sb strings.Builder
	for _, col := range cols {
		sb.WriteString(valueSortKey(resolveColumn(r, col)))
		sb.WriteByte(0x1f)
	}
	return sb.String()
}

func aggOutputName(agg AggregateSel) string {
	if agg.Alias != "" {
		return agg.Alias
	}
	if agg.Star {
		return agg.Fn + "(*)"
	}
	return agg.Fn + "(" + agg.Inner + ")"
}

// computeAggregate implements spec §4.4's "Aggregate semantics" table.
func computeAggregate(agg AggregateSel, rows []Row) Value {
	switch agg.Fn {
	case "COUNT":
		if agg.Star {
			return IntValue(int64(len(rows)))
		}
		var n int64
		for _, r := range rows {
			if resolveColumn(r, agg.Inner).Kind != KindNull {
				n++
			}
		}
		return IntValue(n)

	case "SUM":
		var sum int64
		for _, r := range rows {
			if v := resolveColumn(r, agg.Inner); v.Kind == KindInteger {
				sum += v.I
			}
		}
		return IntValue(sum)

	case "AVG":
		var sum int64
		var count int64
		for _, r := range rows {
			if v := resolveColumn(r, agg.Inner); v.Kind == KindInteger {
				sum += v.I
				count++
			}
		}
		if count == 0 {
			return Null
		}
		return FloatValue(float64(sum) / float64(count))

	case "MIN", "MAX":
		var best Value
		found := false
		for _, r := range rows {
			v := resolveColumn(r, agg.Inner)
			if v.Kind == KindNull {
				continue
			}
			if !found {
				best, found = v, true
				continue
			}
			cmp, ok := best.Compare(v)
			if !ok {
				continue
			}
			if (agg.Fn == "MIN" && cmp > 0) || (agg.Fn == "MAX" && cmp < 0) {
				best = v
			}
		}
		if !found {
			return Null
		}
		return best

	default:
		return Null
	}
}
