package cache

import (
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	ttl := time.Hour
	c := New[string](ttl)
	defer c.Close()

	if c == nil {
		t.Fatal("New returned nil")
	}
	if c.ttl != ttl {
		t.Errorf("expected TTL %v, got %v", ttl, c.ttl)
	}
	if c.entries == nil {
		t.Error("entries map not initialized")
	}
}

func TestCache_SetAndGet(t *testing.T) {
	c := New[string](time.Hour)
	defer c.Close()

	c.Set("key1", "value1")
	val, found := c.Get("key1")
	if !found {
		t.Fatal("expected to find key1")
	}
	if val != "value1" {
		t.Errorf("expected value1, got %v", val)
	}

	val, found = c.Get("nonexistent")
	if found {
		t.Error("expected key not to be found")
	}
	if val != "" {
		t.Errorf("expected zero value, got %q", val)
	}
}

func TestCache_SetWithTTL(t *testing.T) {
	c := New[int](time.Hour)
	defer c.Close()

	c.SetWithTTL("key1", 7, 50*time.Millisecond)

	if val, found := c.Get("key1"); !found || val != 7 {
		t.Fatalf("expected 7, got %v (found=%v)", val, found)
	}

	time.Sleep(100 * time.Millisecond)

	if _, found := c.Get("key1"); found {
		t.Error("expected key1 to be expired")
	}
	if c.Len() != 0 {
		t.Errorf("expected expired entry to be removed on read, got %d entries", c.Len())
	}
}

func TestCache_SetOverwrite(t *testing.T) {
	c := New[string](time.Hour)
	defer c.Close()

	c.Set("key1", "value1")
	c.Set("key1", "value2")

	val, found := c.Get("key1")
	if !found {
		t.Fatal("expected to find key1")
	}
	if val != "value2" {
		t.Errorf("expected value2, got %v", val)
	}
}

func TestCache_Delete(t *testing.T) {
	c := New[string](time.Hour)
	defer c.Close()

	c.Set("key1", "value1")
	c.Delete("key1")
	c.Delete("never-set")

	if _, found := c.Get("key1"); found {
		t.Error("expected key1 to be deleted")
	}
}

func TestCache_Sweep(t *testing.T) {
	c := New[string](time.Hour)
	defer c.Close()

	c.SetWithTTL("old", "a", time.Millisecond)
	c.Set("fresh", "b")

	removed := c.sweep(time.Now().Add(time.Second))
	if removed != 1 {
		t.Errorf("expected 1 removed entry, got %d", removed)
	}
	if _, found := c.Get("fresh"); !found {
		t.Error("expected fresh entry to survive the sweep")
	}
}

func TestCache_JanitorRuns(t *testing.T) {
	c := newWithInterval[string](time.Millisecond, 10*time.Millisecond)
	defer c.Close()

	c.Set("key1", "value1")

	deadline := time.Now().Add(2 * time.Second)
	for c.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected janitor to remove the expired entry")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCache_CloseTwice(t *testing.T) {
	c := New[string](time.Hour)
	c.Close()
	c.Close()
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New[int](time.Hour)
	defer c.Close()

	const goroutines = 50
	const operations = 100

	var wg sync.WaitGroup
	wg.Add(goroutines * 3)

	for i := range goroutines {
		go func(id int) {
			defer wg.Done()
			for j := range operations {
				c.Set("key"+strconv.Itoa(id%10), id*operations+j)
			}
		}(i)
	}

	for i := range goroutines {
		go func(id int) {
			defer wg.Done()
			for range operations {
				c.Get("key" + strconv.Itoa(id%10))
			}
		}(i)
	}

	for i := range goroutines {
		go func(id int) {
			defer wg.Done()
			for j := range operations {
				c.SetWithTTL("key"+strconv.Itoa(id%10), j, time.Hour)
			}
		}(i)
	}

	wg.Wait()

	if c.Len() != 10 {
		t.Errorf("expected 10 keys, got %d", c.Len())
	}
}
