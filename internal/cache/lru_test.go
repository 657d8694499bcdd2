package cache

import "testing"

func TestLRU_PutGet(t *testing.T) {
	c := NewLRU[string, int](4)

	c.Put("a", 1)
	c.Put("b", 2)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v, want 1, true", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) = true, want false")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestLRU_UpdateExisting(t *testing.T) {
	c := NewLRU[string, int](2)

	c.Put("a", 1)
	c.Put("a", 10)

	if v, _ := c.Get("a"); v != 10 {
		t.Errorf("Get(a) = %d, want 10", v)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestLRU_Eviction(t *testing.T) {
	c := NewLRU[string, int](2)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3) // evicts a

	if _, ok := c.Get("a"); ok {
		t.Error("a should have been evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("b should still be present")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c should still be present")
	}
}

func TestLRU_GetPromotes(t *testing.T) {
	c := NewLRU[string, int](2)

	c.Put("a", 1)
	c.Put("b", 2)

	// Touch a so b becomes the eviction candidate.
	c.Get("a")
	c.Put("c", 3)

	if _, ok := c.Get("a"); !ok {
		t.Error("a was promoted and should not be evicted")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
}

func TestLRU_Remove(t *testing.T) {
	c := NewLRU[string, int](4)

	c.Put("a", 1)
	c.Remove("a")
	c.Remove("a") // removing twice is fine

	if _, ok := c.Get("a"); ok {
		t.Error("a should have been removed")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestLRU_RemoveFunc(t *testing.T) {
	type key struct {
		Book string
		Unit int
	}
	c := NewLRU[key, float64](8)

	c.Put(key{"x", 0}, 1.0)
	c.Put(key{"x", 1}, 2.0)
	c.Put(key{"y", 0}, 3.0)

	c.RemoveFunc(func(k key) bool { return k.Book == "x" })

	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	if _, ok := c.Get(key{"y", 0}); !ok {
		t.Error("entries for other books should survive")
	}
}

func TestLRU_DefaultCapacity(t *testing.T) {
	c := NewLRU[int, int](0)

	for i := 0; i < 200; i++ {
		c.Put(i, i)
	}
	if c.Len() == 0 || c.Len() > 128 {
		t.Errorf("Len() = %d, want bounded by default capacity", c.Len())
	}
}
