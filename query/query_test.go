package query

import "testing"

func usersCatalog() *Catalog {
	cat := NewCatalog()
	cat.AddTable(&Table{
		Name: "users",
		Rows: []Row{
			{"id": int64(1), "name": "Alice", "age": int64(30)},
			{"id": int64(2), "name": "Bob", "age": int64(25)},
			{"id": int64(3), "name": "Carol", "age": int64(45)},
		},
	})
	return cat
}

// TestEndToEndQuery covers spec scenario S6.
func TestEndToEndQuery(t *testing.T) {
	cat := usersCatalog()
	rows, err := Run("SELECT name FROM users WHERE age > 20 AND age < 40 ORDER BY age LIMIT 5", cat)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %v", len(rows), rows)
	}
	if rows[0]["name"] != "Bob" || rows[1]["name"] != "Alice" {
		t.Fatalf("expected [Bob, Alice] ordered by age, got %v", rows)
	}
}

// TestGroupByHaving covers spec scenario S7.
func TestGroupByHaving(t *testing.T) {
	cat := NewCatalog()
	cat.AddTable(&Table{
		Name: "employees",
		Rows: []Row{
			{"department": "Eng", "name": "A"},
			{"department": "Eng", "name": "B"},
			{"department": "Sales", "name": "C"},
		},
	})

	rows, err := Run("SELECT department, COUNT(*) AS c FROM employees GROUP BY department HAVING department = 'Eng'", cat)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly one row, got %d: %v", len(rows), rows)
	}
	if rows[0]["department"] != "Eng" {
		t.Fatalf("expected department Eng, got %v", rows[0]["department"])
	}
	if rows[0]["c"] != int64(2) {
		t.Fatalf("expected c=2, got %v", rows[0]["c"])
	}
}

func TestAggregateWithoutGroupBy(t *testing.T) {
	cat := usersCatalog()
	rows, err := Run("SELECT COUNT(*) AS n, AVG(age) AS avg_age FROM users", cat)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one aggregate row, got %d", len(rows))
	}
	if rows[0]["n"] != int64(3) {
		t.Fatalf("expected n=3, got %v", rows[0]["n"])
	}
	avg, ok := rows[0]["avg_age"].(float64)
	if !ok || avg < 33.0 || avg > 33.4 {
		t.Fatalf("expected avg_age ~33.33, got %v", rows[0]["avg_age"])
	}
}

func TestLikeInBetween(t *testing.T) {
	cat := usersCatalog()

	rows, err := Run("SELECT name FROM users WHERE name LIKE '%li%'", cat)
	if err != nil {
		t.Fatalf("like: %v", err)
	}
	if len(rows) != 1 || rows[0]["name"] != "Alice" {
		t.Fatalf("expected [Alice], got %v", rows)
	}

	rows, err = Run("SELECT name FROM users WHERE age IN (25, 45)", cat)
	if err != nil {
		t.Fatalf("in: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %v", len(rows), rows)
	}

	rows, err = Run("SELECT name FROM users WHERE age BETWEEN 25 AND 30", cat)
	if err != nil {
		t.Fatalf("between: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows in [25,30], got %d: %v", len(rows), rows)
	}
}

// TestJoinLaws covers spec §8 invariant 10: INNER JOIN rows are a subset of
// LEFT JOIN rows with non-null right columns, and LEFT JOIN preserves left
// cardinality for unmatched left rows (exactly one padded row each).
func TestJoinLaws(t *testing.T) {
	cat := NewCatalog()
	cat.AddTable(&Table{
		Name: "users",
		Rows: []Row{
			{"id": int64(1), "name": "Alice"},
			{"id": int64(2), "name": "Bob"},
		},
	})
	cat.AddTable(&Table{
		Name: "orders",
		Rows: []Row{
			{"user_id": int64(1), "item": "Widget"},
		},
	})

	inner, err := Run("SELECT * FROM users INNER JOIN orders ON users.id = orders.user_id", cat)
	if err != nil {
		t.Fatalf("inner join: %v", err)
	}
	left, err := Run("SELECT * FROM users LEFT JOIN orders ON users.id = orders.user_id", cat)
	if err != nil {
		t.Fatalf("left join: %v", err)
	}

	if len(left) != 2 {
		t.Fatalf("expected left join to preserve both left rows, got %d: %v", len(left), left)
	}
	if len(inner) != 1 {
		t.Fatalf("expected inner join to produce exactly one matched row, got %d: %v", len(inner), inner)
	}

	var nonNullRightInLeft int
	for _, r := range left {
		if item, ok := r["item"]; ok && item != nil {
			nonNullRightInLeft++
		}
	}
	if nonNullRightInLeft != len(inner) {
		t.Fatalf("expected inner join rows to equal left join rows with non-null right columns: inner=%d left-non-null=%d", len(inner), nonNullRightInLeft)
	}

	var unmatchedPadded int
	for _, r := range left {
		if item, ok := r["item"]; !ok || item == nil {
			unmatchedPadded++
		}
	}
	if unmatchedPadded != 1 {
		t.Fatalf("expected exactly one padded row for Bob (no orders), got %d", unmatchedPadded)
	}
}

func TestIndexEqualityScan(t *testing.T) {
	cat := usersCatalog()
	cat.AddIndex(NewIndex("idx_age", "users", "age", HashIndex, cat.Tables["users"].Rows))

	q, err := Parse("SELECT name FROM users WHERE age = 30")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	op, err := Plan(q, cat)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if _, ok := op.(LimitOp); ok {
		t.Fatal("did not expect a limit operator")
	}
	proj, ok := op.(ProjectOp)
	if !ok {
		t.Fatalf("expected top-level Project, got %T", op)
	}
	if _, ok := proj.Child.(IndexScanOp); !ok {
		t.Fatalf("expected the equality predicate to plan as IndexScan, got %T", proj.Child)
	}

	rows, err := Execute(op, cat)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(rows) != 1 || rows[0]["name"] != "Alice" {
		t.Fatalf("expected [Alice], got %v", rows)
	}
}

func TestIndexRangeScan(t *testing.T) {
	cat := usersCatalog()
	cat.AddIndex(NewIndex("idx_age_range", "users", "age", BTreeIndex, cat.Tables["users"].Rows))

	rows, err := Run("SELECT name FROM users WHERE age BETWEEN 25 AND 30", cat)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %v", len(rows), rows)
	}
}

func TestOrderByTwoWordLookahead(t *testing.T) {
	tokens, err := Lex("SELECT name FROM users ORDER BY age DESC")
	if err != nil {
		t.Fatalf("lex: %v", err)
	}
	var sawOrderBy bool
	for _, tok := range tokens {
		if tok.Kind == ORDERBY {
			sawOrderBy = true
		}
	}
	if !sawOrderBy {
		t.Fatal("expected ORDER BY to lex as a single two-word token")
	}
}
