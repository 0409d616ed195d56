package keylock

import (
	"sync"
	"testing"
)

func TestStriped_SameKeySameStripe(t *testing.T) {
	s := New(8)
	if s.index("user:1") != s.index("user:1") {
		t.Fatal("index is not stable for the same key")
	}
}

func TestStriped_SerializesKey(t *testing.T) {
	s := New(4)
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Do("k", func() { counter++ })
		}()
	}
	wg.Wait()
	if counter != 100 {
		t.Errorf("counter = %d, want 100", counter)
	}
}

func TestStriped_DefaultSize(t *testing.T) {
	s := New(0)
	if len(s.stripes) != defaultStripes {
		t.Errorf("stripes = %d, want %d", len(s.stripes), defaultStripes)
	}
}
