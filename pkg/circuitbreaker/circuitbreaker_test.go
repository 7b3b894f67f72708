package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func tightConfig() Config {
	return Config{
		TripAfter:     2,
		RecoverAfter:  1,
		CoolDown:      20 * time.Millisecond,
		HalfOpenLimit: 1,
	}
}

var errBackend = errors.New("backend unavailable")

func fail(cb *CircuitBreaker) error {
	_, err := Do(context.Background(), cb, func() (int, error) {
		return 0, errBackend
	})
	return err
}

func succeed(cb *CircuitBreaker) error {
	_, err := Do(context.Background(), cb, func() (int, error) {
		return 1, nil
	})
	return err
}

func TestClosedBreakerPassesResultsThrough(t *testing.T) {
	cb := New("test", DefaultConfig())

	got, err := Do(context.Background(), cb, func() (string, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("Do() = %q, want %q", got, "ok")
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want %v", cb.State(), StateClosed)
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cb := New("test", tightConfig())

	fail(cb)
	if cb.State() != StateClosed {
		t.Fatalf("State() = %v after one failure, want %v", cb.State(), StateClosed)
	}
	fail(cb)
	if cb.State() != StateOpen {
		t.Fatalf("State() = %v after two failures, want %v", cb.State(), StateOpen)
	}

	called := false
	_, err := Do(context.Background(), cb, func() (int, error) {
		called = true
		return 0, nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("Do() error = %v, want %v", err, ErrOpen)
	}
	if called {
		t.Error("fn ran while the circuit was open")
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	cb := New("test", Config{TripAfter: 3, RecoverAfter: 1, CoolDown: time.Minute, HalfOpenLimit: 1})

	fail(cb)
	fail(cb)
	succeed(cb)
	fail(cb)
	fail(cb)

	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want %v (streak was broken)", cb.State(), StateClosed)
	}
}

func TestCoolDownAdmitsProbeAndCloses(t *testing.T) {
	cb := New("test", tightConfig())

	fail(cb)
	fail(cb)
	if err := succeed(cb); !errors.Is(err, ErrOpen) {
		t.Fatalf("Do() error = %v during cool-down, want %v", err, ErrOpen)
	}

	time.Sleep(30 * time.Millisecond)

	if err := succeed(cb); err != nil {
		t.Fatalf("Do() error = %v, want the probe admitted", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %v after successful probe, want %v", cb.State(), StateClosed)
	}
}

func TestFailedProbeReopens(t *testing.T) {
	cb := New("test", tightConfig())

	fail(cb)
	fail(cb)
	time.Sleep(30 * time.Millisecond)

	if err := fail(cb); !errors.Is(err, errBackend) {
		t.Fatalf("Do() error = %v, want the probe's own failure", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("State() = %v after failed probe, want %v", cb.State(), StateOpen)
	}
	if err := succeed(cb); !errors.Is(err, ErrOpen) {
		t.Errorf("Do() error = %v right after reopen, want %v", err, ErrOpen)
	}
}

func TestHalfOpenLimitCapsConcurrentProbes(t *testing.T) {
	cb := New("test", tightConfig())

	fail(cb)
	fail(cb)
	time.Sleep(30 * time.Millisecond)

	release := make(chan struct{})
	probeStarted := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		Do(context.Background(), cb, func() (int, error) {
			close(probeStarted)
			<-release
			return 1, nil
		})
	}()

	<-probeStarted
	if err := succeed(cb); !errors.Is(err, ErrOpen) {
		t.Errorf("Do() error = %v while probe slot taken, want %v", err, ErrOpen)
	}

	close(release)
	wg.Wait()

	if cb.State() != StateClosed {
		t.Errorf("State() = %v after probe succeeded, want %v", cb.State(), StateClosed)
	}
}

func TestRecoverAfterRequiresRepeatedSuccess(t *testing.T) {
	cb := New("test", Config{TripAfter: 1, RecoverAfter: 2, CoolDown: 10 * time.Millisecond, HalfOpenLimit: 5})

	fail(cb)
	time.Sleep(20 * time.Millisecond)

	succeed(cb)
	if cb.State() != StateHalfOpen {
		t.Fatalf("State() = %v after first probe, want %v", cb.State(), StateHalfOpen)
	}
	succeed(cb)
	if cb.State() != StateClosed {
		t.Errorf("State() = %v after second probe, want %v", cb.State(), StateClosed)
	}
}

func TestStateChangeNotifications(t *testing.T) {
	cb := New("test", tightConfig())

	type transition struct{ from, to State }
	changes := make(chan transition, 8)
	cb.OnStateChange(func(from, to State) {
		changes <- transition{from, to}
	})

	fail(cb)
	fail(cb)
	time.Sleep(30 * time.Millisecond)
	succeed(cb)

	// Callbacks run on their own goroutines, so gather without
	// assuming delivery order.
	seen := make(map[transition]bool)
	for i := 0; i < 3; i++ {
		select {
		case got := <-changes:
			seen[got] = true
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d transitions", i)
		}
	}

	want := []transition{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	for _, w := range want {
		if !seen[w] {
			t.Errorf("missing transition %v->%v", w.from, w.to)
		}
	}
}

func TestCanceledContextSkipsCall(t *testing.T) {
	cb := New("test", tightConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := Do(ctx, cb, func() (int, error) {
		called = true
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want %v", err, context.Canceled)
	}
	if called {
		t.Error("fn ran under a canceled context")
	}
	if cb.Snapshot().Failures != 0 {
		t.Error("canceled call counted against the breaker")
	}
}

func TestSnapshotReflectsFailures(t *testing.T) {
	cb := New("test", Config{TripAfter: 5, RecoverAfter: 1, CoolDown: time.Minute, HalfOpenLimit: 1})

	fail(cb)
	fail(cb)

	stats := cb.Snapshot()
	if stats.State != StateClosed {
		t.Errorf("Snapshot().State = %v, want %v", stats.State, StateClosed)
	}
	if stats.Failures != 2 {
		t.Errorf("Snapshot().Failures = %d, want 2", stats.Failures)
	}
	if stats.LastFailure.IsZero() {
		t.Error("Snapshot().LastFailure is zero after failures")
	}
}

func TestConcurrentCallsKeepCountsConsistent(t *testing.T) {
	cb := New("test", Config{TripAfter: 1000, RecoverAfter: 1, CoolDown: time.Minute, HalfOpenLimit: 1})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				succeed(cb)
			} else {
				fail(cb)
			}
		}(i)
	}
	wg.Wait()

	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want %v (threshold never reached)", cb.State(), StateClosed)
	}
}

func TestStateStrings(t *testing.T) {
	if StateClosed.String() != "closed" || StateOpen.String() != "open" || StateHalfOpen.String() != "half-open" {
		t.Errorf("unexpected state strings: %v %v %v", StateClosed, StateOpen, StateHalfOpen)
	}
}
