// Catalog is the in-memory table/index set the caller supplies to the
// query engine (spec §2 "a pipeline producing row sets from an in-memory
// table catalogue supplied by the caller"). No teacher equivalent exists —
// the teacher's sqldriver queries a live *velocity.DB directly rather than
// an injected catalogue — so this is grounded on the planner/executor
// description in spec §4.4 itself.
package query

import (
	"sort"
	"strings"
)

// Row is one input row as supplied by the caller: arbitrary Go values,
// converted to Value lazily by the executor (mirrors sqldriver.Row's
// map[string]interface{} shape).
type Row map[string]any

// Table is one named collection of rows in the catalogue.
type Table struct {
	Name string
	Rows []Row
}

// IndexKind distinguishes equality-only hash indexes from range-capable
// btree indexes (spec §4.4 planner rule: "IndexRangeScan (BTree only...
// Hash rejects ranges)").
type IndexKind int

const (
	HashIndex IndexKind = iota
	BTreeIndex
)

type indexEntry struct {
	key    Value
	rowIDs []int
}

// Index maps a column's values to the row ids carrying them, within one
// table.
type Index struct {
	Name    string
	Table   string
	Column  string
	Kind    IndexKind
	entries []indexEntry
}

// NewIndex builds an index over table's Column values. Rows lacking the
// column are omitted from the index; every other row is indexed under
// FromAny of its cell, so cells that FromAny maps to Null share the Null
// key.
func NewIndex(name, table, column string, kind IndexKind, rows []Row) *Index {
	byKey := make(map[string]*indexEntry)
	var order []string
	for rowID, row := range rows {
		cell, ok := row[column]
		if !ok {
			continue
		}
		v := FromAny(cell)
		k := valueSortKey(v)
		e, exists := byKey[k]
		if !exists {
			e = &indexEntry{key: v}
			byKey[k] = e
			order = append(order, k)
		}
		e.rowIDs = append(e.rowIDs, rowID)
	}

	idx := &Index{Name: name, Table: table, Column: column, Kind: kind}
	for _, k := range order {
		idx.entries = append(idx.entries, *byKey[k])
	}
	sort.Slice(idx.entries, func(i, j int) bool {
		return valueSortKey(idx.entries[i].key) < valueSortKey(idx.entries[j].key)
	})
	return idx
}

// valueSortKey gives every Value kind a total order for index bucketing
// (distinct from Value.Compare, which is deliberately undefined across
// kinds per spec).
func valueSortKey(v Value) string {
	switch v.Kind {
	case KindInteger:
		return "0:" + sortableInt(v.I)
	case KindFloat:
		return "1:" + sortableFloat(v.F)
	case KindString:
		return "2:" + v.S
	case KindBoolean:
		if v.B {
			return "3:1"
		}
		return "3:0"
	default:
		return "4:"
	}
}

func sortableInt(i int64) string {
	// fixed-width so lexicographic string order matches numeric order.
	return padInt(i)
}

func sortableFloat(f float64) string {
	return padInt(int64(f * 1e6))
}

func padInt(i int64) string {
	const bias = int64(1) << 62
	u := uint64(i + bias)
	buf := make([]byte, 20)
	for p := len(buf) - 1; p >= 0; p-- {
		buf[p] = byte('0' + u%10)
		u /= 10
	}
	return string(buf)
}

// Lookup returns row ids whose column value equals key (spec §4.4
// "IndexScan{t,idx,key}").
func (idx *Index) Lookup(key Value) []int {
	want := valueSortKey(key)
	for _, e := range idx.entries {
		if valueSortKey(e.key) == want {
			return e.rowIDs
		}
	}
	return nil
}

// RangeLookup returns row ids whose column value lies in [start, end]
// (either bound may be nil to leave it open), for BTree indexes only
// (spec §4.4 "IndexRangeScan").
func (idx *Index) RangeLookup(start, end *Value) []int {
	var ids []int
	for _, e := range idx.entries {
		if start != nil {
			if cmp, ok := e.key.Compare(*start); !ok || cmp < 0 {
				continue
			}
		}
		if end != nil {
			if cmp, ok := e.key.Compare(*end); !ok || cmp > 0 {
				continue
			}
		}
		ids = append(ids, e.rowIDs...)
	}
	return ids
}

// Catalog is the full set of tables and indexes visible to one query.
type Catalog struct {
	Tables  map[string]*Table
	Indexes map[string][]*Index // keyed by table name
}

func NewCatalog() *Catalog {
	return &Catalog{Tables: make(map[string]*Table), Indexes: make(map[string][]*Index)}
}

func (c *Catalog) AddTable(t *Table) { c.Tables[t.Name] = t }

func (c *Catalog) AddIndex(idx *Index) {
	c.Indexes[idx.Table] = append(c.Indexes[idx.Table], idx)
}

// FindIndexForColumn implements spec §4.4's coarse, intentionally
// unelaborated matching policy: "the index whose declared name contains the
// column name"; the first eligible match wins, no cost model (§9
// "Index-name-based matching... is intentionally coarse; do not elaborate
// it without a requirement"). requireRange restricts the search to BTree
// indexes, for IndexRangeScan eligibility.
func (c *Catalog) FindIndexForColumn(table, column string, requireRange bool) *Index {
	for _, idx := range c.Indexes[table] {
		if requireRange && idx.Kind != BTreeIndex {
			continue
		}
		if strings.Contains(idx.Name, column) {
			return idx
		}
	}
	return nil
}
