package memtable

import (
	"bytes"
	"fmt"
	"testing"
)

func TestPutGet(t *testing.T) {
	m := New()
	m.Put([]byte("a"), []byte("1"), 1)
	m.Put([]byte("b"), []byte("2"), 2)

	v, tomb, found := m.Get([]byte("a"))
	if !found || tomb || !bytes.Equal(v, []byte("1")) {
		t.Fatalf("unexpected get result: %v %v %v", v, tomb, found)
	}

	if _, _, found := m.Get([]byte("missing")); found {
		t.Fatal("expected not found")
	}
}

func TestOverwrite(t *testing.T) {
	m := New()
	m.Put([]byte("a"), []byte("1"), 1)
	m.Put([]byte("a"), []byte("2"), 2)

	v, _, found := m.Get([]byte("a"))
	if !found || !bytes.Equal(v, []byte("2")) {
		t.Fatalf("expected overwritten value, got %v found=%v", v, found)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 distinct key, got %d", m.Len())
	}
}

func TestDeleteTombstone(t *testing.T) {
	m := New()
	m.Put([]byte("a"), []byte("1"), 1)
	m.Delete([]byte("a"), 2)

	v, tomb, found := m.Get([]byte("a"))
	if !found || !tomb || v != nil {
		t.Fatalf("expected tombstone, got v=%v tomb=%v found=%v", v, tomb, found)
	}
}

func TestScanAscending(t *testing.T) {
	m := New()
	keys := []string{"delta", "alpha", "charlie", "bravo"}
	for i, k := range keys {
		m.Put([]byte(k), []byte(fmt.Sprintf("v%d", i)), uint64(i))
	}

	rows := m.Scan()
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if bytes.Compare(rows[i-1].Key, rows[i].Key) >= 0 {
			t.Fatalf("scan not ascending at %d: %s >= %s", i, rows[i-1].Key, rows[i].Key)
		}
	}
}

func TestSizeAccounting(t *testing.T) {
	m := New()
	if m.Size() != 0 {
		t.Fatalf("expected 0 initial size, got %d", m.Size())
	}
	m.Put([]byte("ab"), []byte("cd"), 1)
	if got := m.Size(); got != 4 {
		t.Fatalf("expected size 4, got %d", got)
	}
	m.Put([]byte("ab"), []byte("xyz"), 2)
	if got := m.Size(); got != 5 {
		t.Fatalf("expected size 5 after overwrite, got %d", got)
	}
}

func TestFastMemCmpLexicographic(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"a", "b", -1},
		{"b", "aa", 1}, // differing lengths must still compare lexicographically
		{"aa", "b", -1},
		{"abc", "abc", 0},
		{"", "a", -1},
		{"longerkeylongerkey1", "longerkeylongerkey2", -1},
	}
	for _, c := range cases {
		got := fastMemCmp([]byte(c.a), []byte(c.b))
		sign := func(n int) int {
			switch {
			case n < 0:
				return -1
			case n > 0:
				return 1
			default:
				return 0
			}
		}
		if sign(got) != c.want {
			t.Fatalf("fastMemCmp(%q,%q) = %d, want sign %d", c.a, c.b, got, c.want)
		}
	}
}
