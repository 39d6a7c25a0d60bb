package list

import "testing"

func TestInsertGet(t *testing.T) {
	l := New[string, int]()
	l.Insert("a", 1)
	l.Insert("b", 2)

	if v, ok := l.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	if v, ok := l.Get("b"); !ok || v != 2 {
		t.Fatalf("Get(b) = %d, %v; want 2, true", v, ok)
	}
	if _, ok := l.Get("c"); ok {
		t.Fatalf("Get(c) found, want not found")
	}
}

func TestInsertDuplicateKeyReturnsMostRecent(t *testing.T) {
	l := New[string, int]()
	l.Insert("a", 1)
	l.Insert("a", 2)

	if v, ok := l.Get("a"); !ok || v != 2 {
		t.Fatalf("Get(a) = %d, %v; want 2, true (head wins)", v, ok)
	}
	if l.Len() != 2 {
		t.Fatalf("Len() = %d; want 2 (no dedup, matches list_insert)", l.Len())
	}
}

func TestRemove(t *testing.T) {
	l := New[string, int]()
	l.Insert("a", 1)
	l.Insert("b", 2)
	l.Insert("c", 3)

	v, ok := l.Remove("b")
	if !ok || v != 2 {
		t.Fatalf("Remove(b) = %d, %v; want 2, true", v, ok)
	}
	if _, ok := l.Get("b"); ok {
		t.Fatalf("Get(b) found after Remove")
	}
	if l.Len() != 2 {
		t.Fatalf("Len() = %d; want 2", l.Len())
	}

	if _, ok := l.Remove("z"); ok {
		t.Fatalf("Remove(z) found, want not found")
	}
}

func TestEachVisitsAll(t *testing.T) {
	l := New[int, int]()
	for i := 0; i < 5; i++ {
		l.Insert(i, i*i)
	}
	seen := map[int]int{}
	l.Each(func(k, v int) { seen[k] = v })
	if len(seen) != 5 {
		t.Fatalf("Each visited %d items; want 5", len(seen))
	}
	for i := 0; i < 5; i++ {
		if seen[i] != i*i {
			t.Fatalf("seen[%d] = %d; want %d", i, seen[i], i*i)
		}
	}
}
