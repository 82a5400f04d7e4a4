package store

import (
	"sync"
	"testing"
)

func TestStoreBasicOperations(t *testing.T) {
	s := New()

	if _, ok := s.Get("x"); ok {
		t.Fatalf("expected absent key to report not-found")
	}

	s.Put("x", "1")
	v, ok := s.Get("x")
	if !ok || v != "1" {
		t.Fatalf("expected x=1, got %q ok=%v", v, ok)
	}

	s.Put("x", "2")
	v, ok = s.Get("x")
	if !ok || v != "2" {
		t.Fatalf("expected overwrite to x=2, got %q ok=%v", v, ok)
	}

	if existed := s.Delete("x"); !existed {
		t.Fatalf("expected Delete to report existed=true")
	}
	if existed := s.Delete("x"); existed {
		t.Fatalf("expected second Delete to report existed=false")
	}
	if _, ok := s.Get("x"); ok {
		t.Fatalf("expected key gone after delete")
	}
}

func TestStoreSizeAndKeys(t *testing.T) {
	s := New()
	if s.Size() != 0 {
		t.Fatalf("expected empty store size 0, got %d", s.Size())
	}

	s.Put("a", "1")
	s.Put("b", "2")
	s.Put("c", "3")

	if s.Size() != 3 {
		t.Fatalf("expected size 3, got %d", s.Size())
	}

	keys := s.Keys()
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(keys))
	}
	seen := map[string]bool{}
	for _, k := range keys {
		seen[k] = true
	}
	for _, want := range []string{"a", "b", "c"} {
		if !seen[want] {
			t.Errorf("expected key %q in Keys()", want)
		}
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := New()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Put("shared", "v")
			s.Get("shared")
			s.Size()
			s.Keys()
		}(i)
	}
	wg.Wait()

	if _, ok := s.Get("shared"); !ok {
		t.Fatalf("expected shared key to be present after concurrent writes")
	}
}
