package lsm

import (
	"fmt"
	"testing"
)

// TestBlockCacheEvictsOverBudget is grounded on the teacher's
// TestLRUCacheBasic in cache_test.go, adapted to blockCache's byte budget
// (each value here is 10 bytes, so a 40-byte budget holds roughly 4 of them).
func TestBlockCacheEvictsOverBudget(t *testing.T) {
	c := newBlockCache(40)

	c.put("a", []byte("0123456789"))
	if v, ok := c.get("a"); !ok || string(v) != "0123456789" {
		t.Fatalf("expected 0123456789, got %v", v)
	}

	for i := 0; i < 20; i++ {
		c.put(fmt.Sprintf("k%d", i), []byte("0123456789"))
	}
	if c.usedBytes > c.capacityBytes {
		t.Fatalf("cache exceeded its byte budget: %d > %d", c.usedBytes, c.capacityBytes)
	}

	if _, ok := c.get("a"); ok {
		t.Fatal("expected the original key to have been evicted by now")
	}
}

func TestBlockCacheKeepsOneOversizedEntry(t *testing.T) {
	c := newBlockCache(4)
	c.put("big", make([]byte, 64))

	if c.usedBytes <= c.capacityBytes {
		t.Fatalf("expected the single entry to exceed the tiny budget, used=%d cap=%d", c.usedBytes, c.capacityBytes)
	}
	if _, ok := c.get("big"); !ok {
		t.Fatal("expected the lone oversized entry to stay cached rather than be evicted")
	}
}

func TestBlockCacheMoveToFrontOnGet(t *testing.T) {
	c := newBlockCache(20)
	c.put("a", []byte("0123456789"))
	c.put("b", []byte("0123456789"))

	c.get("a") // touch a so it's no longer the least-recently-used entry
	c.put("c", []byte("0123456789"))

	if _, ok := c.get("b"); ok {
		t.Fatal("expected b to be evicted as the least-recently-used entry")
	}
	if _, ok := c.get("a"); !ok {
		t.Fatal("expected a to survive eviction after being touched")
	}
}

func TestBlockCacheRemoveByPrefix(t *testing.T) {
	c := newBlockCache(1024)
	c.put("sst-1|k1", []byte("v1"))
	c.put("sst-1|k2", []byte("v2"))
	c.put("sst-2|k1", []byte("v3"))

	c.remove("sst-1|")

	if _, ok := c.get("sst-1|k1"); ok {
		t.Fatal("expected sst-1 entries to be removed")
	}
	if _, ok := c.get("sst-2|k1"); !ok {
		t.Fatal("expected sst-2 entries to survive the prefix removal")
	}
	if c.usedBytes != int64(len("v3")) {
		t.Fatalf("expected usedBytes to account for the prefix removal, got %d", c.usedBytes)
	}
}
