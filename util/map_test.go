// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package util

import "testing"

func TestMapPutGetDelete(t *testing.T) {
	m := NewMap[string, int]()
	m.Put("a", 1, 0)
	m.Put("b", 2, 0)

	if got, ok := m.Get("a", 0); !ok || got != 1 {
		t.Fatalf("expected a=1, got %d ok=%v", got, ok)
	}
	if m.Size() != 2 {
		t.Fatalf("expected size 2, got %d", m.Size())
	}

	m.Delete("a", 0)
	if _, ok := m.Get("a", 0); ok {
		t.Fatal("expected a to be gone after Delete")
	}
	if m.Size() != 1 {
		t.Fatalf("expected size 1 after delete, got %d", m.Size())
	}
}

func TestMapGetRandomEmpty(t *testing.T) {
	m := NewMap[string, int]()
	if _, _, ok := m.GetRandom(0); ok {
		t.Fatal("expected GetRandom to report not-ok on an empty map")
	}
}

func TestMapGetRandomReturnsAnEntry(t *testing.T) {
	m := NewMap[string, int]()
	m.Put("only", 42, 0)
	key, value, ok := m.GetRandom(0)
	if !ok || key != "only" || value != 42 {
		t.Fatalf("expected the sole entry, got key=%q value=%d ok=%v", key, value, ok)
	}
}

func TestMapProcessRangeVisitsEveryEntry(t *testing.T) {
	m := NewMap[string, int]()
	m.Put("a", 1, 0)
	m.Put("b", 2, 0)

	seen := map[string]int{}
	err := m.ProcessRange(func(key string, value int, pid int) error {
		seen[key] = value
		// Calling another map method from inside Process must not
		// deadlock: the pid is already registered as in-process.
		_, _ = m.Get(key, pid)
		return nil
	}, true)
	if err != nil {
		t.Fatalf("ProcessRange: %v", err)
	}
	if len(seen) != 2 || seen["a"] != 1 || seen["b"] != 2 {
		t.Fatalf("expected both entries visited, got %v", seen)
	}
}

func TestPIDListAddContainsRemove(t *testing.T) {
	pl := NewPIDList()
	if pl.Contains(7) {
		t.Fatal("expected empty list to not contain 7")
	}
	pl.Add(7)
	if !pl.Contains(7) {
		t.Fatal("expected list to contain 7 after Add")
	}
	pl.Remove(7)
	if pl.Contains(7) {
		t.Fatal("expected list to not contain 7 after Remove")
	}
}

func TestCounterAddAndNum(t *testing.T) {
	c := make(Counter[string])
	if c.Num("x") != 0 {
		t.Fatalf("expected 0 for an unseen key, got %d", c.Num("x"))
	}
	if got := c.Add("x"); got != 1 {
		t.Fatalf("expected first Add to return 1, got %d", got)
	}
	if got := c.Add("x"); got != 2 {
		t.Fatalf("expected second Add to return 2, got %d", got)
	}
	if c.Num("x") != 2 {
		t.Fatalf("expected Num to report 2, got %d", c.Num("x"))
	}
}
