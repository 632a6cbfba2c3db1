package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/docsage/docsage/internal/log"
)

// failingStore always returns an error, simulating an unreachable
// counter backend.
type failingStore struct{}

func (failingStore) Incr(context.Context, string, Operation, time.Time, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func newTestGate(t *testing.T, store CounterStore, limits map[Operation]Limit) *Gate {
	t.Helper()
	g, err := NewGate(store, limits, log.NewNop())
	if err != nil {
		t.Fatalf("NewGate() unexpected error: %v", err)
	}
	return g
}

func TestGate_AdmitWithinBudget(t *testing.T) {
	t.Parallel()

	limits := map[Operation]Limit{OpChat: {Count: 3, Window: time.Minute}}
	g := newTestGate(t, NewMemoryCounters(), limits)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		d, err := g.Admit(ctx, "user-1", OpChat)
		if err != nil {
			t.Fatalf("Admit() #%d unexpected error: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("Admit() #%d Allowed = false, want true", i)
		}
		if want := int64(3 - i); d.Remaining != want {
			t.Errorf("Admit() #%d Remaining = %d, want %d", i, d.Remaining, want)
		}
	}
}

func TestGate_RejectsOverBudget(t *testing.T) {
	t.Parallel()

	limits := map[Operation]Limit{OpChat: {Count: 2, Window: time.Minute}}
	g := newTestGate(t, NewMemoryCounters(), limits)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if d, _ := g.Admit(ctx, "user-1", OpChat); !d.Allowed {
			t.Fatalf("warmup request %d rejected", i)
		}
	}

	d, err := g.Admit(ctx, "user-1", OpChat)
	if err != nil {
		t.Fatalf("Admit() unexpected error: %v", err)
	}
	if d.Allowed {
		t.Error("request beyond budget Allowed = true, want false")
	}
	if d.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", d.Remaining)
	}
	if !d.ResetAt.After(time.Now().Add(-time.Second)) {
		t.Errorf("ResetAt = %v, want a future reset", d.ResetAt)
	}
	if secs := d.RetrySeconds(time.Now()); secs < 1 {
		t.Errorf("RetrySeconds = %d, want >= 1", secs)
	}
}

// A rejected attempt still consumes budget: hammering a full window
// must not let requests through early.
func TestGate_RejectedAttemptsStillCount(t *testing.T) {
	t.Parallel()

	limits := map[Operation]Limit{OpChat: {Count: 1, Window: time.Hour}}
	store := NewMemoryCounters()
	g := newTestGate(t, store, limits)

	ctx := context.Background()
	if d, _ := g.Admit(ctx, "user-1", OpChat); !d.Allowed {
		t.Fatal("first request rejected")
	}
	for i := 0; i < 5; i++ {
		if d, _ := g.Admit(ctx, "user-1", OpChat); d.Allowed {
			t.Fatalf("request %d admitted after budget exhausted", i)
		}
	}

	now := time.Now()
	count, err := store.Incr(ctx, "user-1", OpChat, now.Truncate(time.Hour), time.Hour)
	if err != nil {
		t.Fatalf("Incr() unexpected error: %v", err)
	}
	if count != 7 {
		t.Errorf("counter = %d, want 7 (1 admitted + 5 rejected + this probe)", count)
	}
}

func TestGate_WindowResets(t *testing.T) {
	t.Parallel()

	limits := map[Operation]Limit{OpChat: {Count: 1, Window: time.Minute}}
	g := newTestGate(t, NewMemoryCounters(), limits)

	// Pin the clock to a window boundary, exhaust the budget, then
	// step into the next window.
	base := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	current := base
	g.now = func() time.Time { return current }

	ctx := context.Background()
	if d, _ := g.Admit(ctx, "user-1", OpChat); !d.Allowed {
		t.Fatal("first request rejected")
	}
	if d, _ := g.Admit(ctx, "user-1", OpChat); d.Allowed {
		t.Fatal("second request in same window admitted")
	}

	current = base.Add(time.Minute)
	d, err := g.Admit(ctx, "user-1", OpChat)
	if err != nil {
		t.Fatalf("Admit() unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Error("request in fresh window Allowed = false, want true")
	}
}

func TestGate_UsersAndOperationsIsolated(t *testing.T) {
	t.Parallel()

	limits := map[Operation]Limit{
		OpChat:      {Count: 1, Window: time.Hour},
		OpGraphRead: {Count: 1, Window: time.Hour},
	}
	g := newTestGate(t, NewMemoryCounters(), limits)

	ctx := context.Background()
	if d, _ := g.Admit(ctx, "alice", OpChat); !d.Allowed {
		t.Fatal("alice's first chat rejected")
	}
	if d, _ := g.Admit(ctx, "alice", OpChat); d.Allowed {
		t.Fatal("alice's second chat admitted")
	}

	// Exhausting chat must not touch graph reads, nor other users.
	if d, _ := g.Admit(ctx, "alice", OpGraphRead); !d.Allowed {
		t.Error("alice's graph read rejected after chat budget exhausted")
	}
	if d, _ := g.Admit(ctx, "bob", OpChat); !d.Allowed {
		t.Error("bob's chat rejected after alice exhausted hers")
	}
}

func TestGate_FailsClosed(t *testing.T) {
	t.Parallel()

	g := newTestGate(t, failingStore{}, nil)

	d, err := g.Admit(context.Background(), "user-1", OpChat)
	if err == nil {
		t.Fatal("Admit() with dead store error = nil, want failure")
	}
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("error = %v, want ErrStoreUnavailable", err)
	}
	if d.Allowed {
		t.Error("Allowed = true with dead store, want fail-closed rejection")
	}
}

func TestGate_UnbudgetedOperationDenied(t *testing.T) {
	t.Parallel()

	limits := map[Operation]Limit{OpChat: {Count: 1, Window: time.Minute}}
	g := newTestGate(t, NewMemoryCounters(), limits)

	d, err := g.Admit(context.Background(), "user-1", Operation("export"))
	if err == nil {
		t.Fatal("Admit() for unbudgeted operation error = nil, want failure")
	}
	if d.Allowed {
		t.Error("Allowed = true for unbudgeted operation")
	}
}

func TestMemoryCounters_ConcurrentIncrements(t *testing.T) {
	t.Parallel()

	store := NewMemoryCounters()
	ctx := context.Background()
	windowStart := time.Now().Truncate(time.Minute)

	const goroutines = 50
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			_, _ = store.Incr(ctx, "user-1", OpChat, windowStart, time.Minute)
		}()
	}
	wg.Wait()

	count, err := store.Incr(ctx, "user-1", OpChat, windowStart, time.Minute)
	if err != nil {
		t.Fatalf("Incr() unexpected error: %v", err)
	}
	if count != goroutines+1 {
		t.Errorf("counter = %d, want %d (no lost increments)", count, goroutines+1)
	}
}

func TestDecision_RetrySecondsFloor(t *testing.T) {
	t.Parallel()

	d := Decision{ResetAt: time.Now().Add(-time.Minute)}
	if secs := d.RetrySeconds(time.Now()); secs != 1 {
		t.Errorf("RetrySeconds for past reset = %d, want 1", secs)
	}
}
