package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errBoom = errors.New("boom")

func fail(context.Context) (int, error) { return 0, errBoom }
func ok(context.Context) (int, error)   { return 42, nil }

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("historical", CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Cooldown:         30 * time.Second,
		Now:              clock.Now,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := Execute(ctx, cb, fail); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d error = %v, want errBoom", i, err)
		}
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("State() = %s, want OPEN", cb.State())
	}

	if _, err := Execute(ctx, cb, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("open circuit error = %v, want ErrCircuitOpen", err)
	}

	clock.Advance(31 * time.Second)
	v, err := Execute(ctx, cb, ok)
	if err != nil || v != 42 {
		t.Fatalf("half-open probe = %d, %v; want 42, nil", v, err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("State() = %s, want CLOSED", cb.State())
	}

	stats := cb.Stats()
	if stats.TotalRejected != 1 || stats.TotalFailures != 3 || stats.TotalSuccesses != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("quote", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Cooldown:         time.Minute,
		Now:              clock.Now,
	})
	ctx := context.Background()

	Execute(ctx, cb, fail)
	clock.Advance(time.Minute)
	Execute(ctx, cb, fail)

	if cb.State() != CircuitOpen {
		t.Errorf("State() = %s, want OPEN after half-open failure", cb.State())
	}
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker("snapshot", CircuitBreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})
	ctx := context.Background()

	Execute(ctx, cb, fail)
	Execute(ctx, cb, ok)
	Execute(ctx, cb, fail)

	if cb.State() != CircuitClosed {
		t.Errorf("State() = %s, want CLOSED since failures were not consecutive", cb.State())
	}
}

func TestCircuitBreakerContextTimeout(t *testing.T) {
	cb := NewCircuitBreaker("slow", CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	defer close(release)

	_, err := Execute(ctx, cb, func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want DeadlineExceeded", err)
	}
	if cb.State() != CircuitOpen {
		t.Errorf("State() = %s, want OPEN since a hung call counts as failure", cb.State())
	}
	if cb.Stats().TotalTimeouts != 1 {
		t.Errorf("TotalTimeouts = %d, want 1", cb.Stats().TotalTimeouts)
	}
}

func TestRegistryReturnsSameBreaker(t *testing.T) {
	r := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig())

	a := r.Get("historical")
	b := r.Get("historical")
	if a != b {
		t.Error("Get() returned different breakers for the same name")
	}
	r.Get("quote")

	stats := r.AllStats()
	if len(stats) != 2 || stats[0].Name != "historical" || stats[1].Name != "quote" {
		t.Errorf("AllStats() = %+v", stats)
	}
}

var errUnknownSymbol = errors.New("unknown symbol")

func TestCircuitBreakerIgnoresClassifiedErrors(t *testing.T) {
	cb := NewCircuitBreaker("historical", CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
		IsFailure:        func(err error) bool { return !errors.Is(err, errUnknownSymbol) },
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := Execute(ctx, cb, func(context.Context) (int, error) { return 0, errUnknownSymbol })
		if !errors.Is(err, errUnknownSymbol) {
			t.Fatalf("error = %v, want errUnknownSymbol passed through", err)
		}
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("State() = %s, want CLOSED", cb.State())
	}
	if s := cb.Stats(); s.TotalIgnored != 5 || s.TotalFailures != 0 {
		t.Errorf("Stats() = %+v", s)
	}

	Execute(ctx, cb, fail)
	if cb.State() != CircuitOpen {
		t.Errorf("State() = %s, want OPEN after a counted failure", cb.State())
	}
}

func TestCircuitBreakerReportsTransitions(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)}
	var got []string
	cb := NewCircuitBreaker("quote", CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
		Now:              clock.Now,
		OnStateChange: func(name string, from, to CircuitState) {
			got = append(got, name+":"+string(from)+">"+string(to))
		},
	})
	ctx := context.Background()

	Execute(ctx, cb, fail)
	clock.Advance(time.Minute)
	Execute(ctx, cb, ok)

	want := []string{"quote:CLOSED>OPEN", "quote:OPEN>HALF_OPEN", "quote:HALF_OPEN>CLOSED"}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRegistryResetAll(t *testing.T) {
	r := NewCircuitBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})
	ctx := context.Background()

	Execute(ctx, r.Get("historical"), fail)
	Execute(ctx, r.Get("quote"), fail)
	r.ResetAll()

	for _, s := range r.AllStats() {
		if s.State != CircuitClosed {
			t.Errorf("%s state = %s after ResetAll", s.Name, s.State)
		}
		if s.FailureRate() != 100 {
			t.Errorf("%s FailureRate() = %v, want 100", s.Name, s.FailureRate())
		}
	}
}
