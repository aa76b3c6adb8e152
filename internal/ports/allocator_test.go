package ports

import (
	"errors"
	"sync"
	"testing"

	"github.com/DagiiM/webops-sub005/internal/entity"
)

func TestAllocator(t *testing.T) {
	t.Run("allocates lowest free and skips seeded", func(t *testing.T) {
		a := NewAllocator(8100, 8103)
		a.Seed([]int{8100, 8102, 0})

		p, err := a.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if p != 8101 {
			t.Errorf("got %d, want 8101", p)
		}
	})

	t.Run("exhaustion", func(t *testing.T) {
		a := NewAllocator(9000, 9001)
		for range 2 {
			if _, err := a.Allocate(); err != nil {
				t.Fatalf("Allocate: %v", err)
			}
		}
		if _, err := a.Allocate(); !errors.Is(err, entity.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("release makes port reusable", func(t *testing.T) {
		a := NewAllocator(9000, 9000)
		p, _ := a.Allocate()
		a.Release(p)
		again, err := a.Allocate()
		if err != nil || again != p {
			t.Fatalf("got %d, %v", again, err)
		}
	})

	t.Run("reserve rejects duplicates and out of range", func(t *testing.T) {
		a := NewAllocator(9000, 9010)
		if err := a.Reserve(9005); err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if err := a.Reserve(9005); !errors.Is(err, entity.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
		if err := a.Reserve(80); !errors.Is(err, entity.ErrInvalid) {
			t.Errorf("expected ErrInvalid, got %v", err)
		}
	})

	t.Run("concurrent allocations are unique", func(t *testing.T) {
		a := NewAllocator(9000, 9099)
		var mu sync.Mutex
		seen := make(map[int]bool)
		var wg sync.WaitGroup
		for range 100 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p, err := a.Allocate()
				if err != nil {
					t.Errorf("Allocate: %v", err)
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if seen[p] {
					t.Errorf("port %d handed out twice", p)
				}
				seen[p] = true
			}()
		}
		wg.Wait()
	})
}
