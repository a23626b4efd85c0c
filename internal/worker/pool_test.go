package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPoolDefaultConcurrency(t *testing.T) {
	p := NewPool[string](0)
	if p.concurrency != runtime.NumCPU() {
		t.Errorf("expected concurrency %d, got %d", runtime.NumCPU(), p.concurrency)
	}

	p2 := NewPool[string](-1)
	if p2.concurrency != runtime.NumCPU() {
		t.Errorf("expected concurrency %d for -1, got %d", runtime.NumCPU(), p2.concurrency)
	}
}

func TestProcessEmpty(t *testing.T) {
	p := NewPool[string](2)
	results := p.Process(context.Background(), nil, func(_ context.Context, s string) (string, error) {
		return s, nil
	})
	if results != nil {
		t.Errorf("expected nil results for empty input, got %v", results)
	}
}

func TestProcessPreservesOrder(t *testing.T) {
	p := NewPool[string](4)
	items := []string{"a.txt", "b.txt", "dir/c.txt", "d.txt", "e.txt", "f.txt"}

	results := p.Process(context.Background(), items, func(_ context.Context, s string) (string, error) {
		return "read-" + s, nil
	})

	if len(results) != len(items) {
		t.Fatalf("expected %d results, got %d", len(items), len(results))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Errorf("result[%d] unexpected error: %v", i, r.Err)
		}
		if r.Index != i || r.Item != items[i] {
			t.Errorf("result[%d] = (%d, %q), want (%d, %q)", i, r.Index, r.Item, i, items[i])
		}
		if r.Value != "read-"+items[i] {
			t.Errorf("result[%d] = %q, want %q", i, r.Value, "read-"+items[i])
		}
	}
}

func TestProcessCapturesErrors(t *testing.T) {
	p := NewPool[int](3)
	items := []string{"ok", "bad", "ok", "bad"}

	results := p.Process(context.Background(), items, func(_ context.Context, s string) (int, error) {
		if s == "bad" {
			return 0, fmt.Errorf("cannot read %s", s)
		}
		return len(s), nil
	})

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed != 2 {
		t.Errorf("expected 2 failures, got %d", failed)
	}
	if err := FirstError(results); err == nil || err.Error() != "cannot read bad" {
		t.Errorf("FirstError = %v, want first failure", err)
	}
}

func TestProcessBoundsConcurrency(t *testing.T) {
	p := NewPool[struct{}](2)
	items := make([]string, 12)
	for i := range items {
		items[i] = fmt.Sprintf("f%d", i)
	}

	var active, peak int32
	p.Process(context.Background(), items, func(_ context.Context, _ string) (struct{}, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return struct{}{}, nil
	})

	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

// TestProcessStopsAfterCancel verifies that items queued after cancellation
// are reported with the context error rather than executed.
func TestProcessStopsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	p := NewPool[int](2)
	results := p.Process(ctx, []string{"a", "b", "c"}, func(_ context.Context, _ string) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 1, nil
	})

	if calls != 0 {
		t.Errorf("fn called %d times after cancel, want 0", calls)
	}
	for i, r := range results {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("result[%d].Err = %v, want context.Canceled", i, r.Err)
		}
	}
}

func TestFirstErrorNone(t *testing.T) {
	if err := FirstError([]Result[int]{{Value: 1}, {Value: 2}}); err != nil {
		t.Errorf("FirstError = %v, want nil", err)
	}
}
