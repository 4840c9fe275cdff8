package cooldown

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTryAcquire_SuppressesWithinWindow(t *testing.T) {
	s := NewSuppressor(5 * time.Minute)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	require.True(t, s.TryAcquire("truck-1", "rule-1", now))
	// One second later: suppressed.
	require.False(t, s.TryAcquire("truck-1", "rule-1", now.Add(time.Second)))
	// Still inside the window.
	require.False(t, s.TryAcquire("truck-1", "rule-1", now.Add(4*time.Minute)))
}

func TestTryAcquire_AllowsAfterWindow(t *testing.T) {
	s := NewSuppressor(5 * time.Minute)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	require.True(t, s.TryAcquire("truck-1", "rule-1", now))
	// Six minutes later the window has elapsed.
	require.True(t, s.TryAcquire("truck-1", "rule-1", now.Add(6*time.Minute)))
}

func TestTryAcquire_ExactlyAtWindowBoundaryAllows(t *testing.T) {
	s := NewSuppressor(5 * time.Minute)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	require.True(t, s.TryAcquire("truck-1", "rule-1", now))
	require.True(t, s.TryAcquire("truck-1", "rule-1", now.Add(5*time.Minute)))
}

func TestTryAcquire_SuppressedCallDoesNotExtendWindow(t *testing.T) {
	s := NewSuppressor(5 * time.Minute)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	require.True(t, s.TryAcquire("truck-1", "rule-1", now))
	// Hammer it during the window; none of these may reset the clock.
	for i := 1; i <= 4; i++ {
		require.False(t, s.TryAcquire("truck-1", "rule-1", now.Add(time.Duration(i)*time.Minute)))
	}
	// Window is measured from the allowed trigger at t0, so t0+5m passes.
	require.True(t, s.TryAcquire("truck-1", "rule-1", now.Add(5*time.Minute)))
}

func TestTryAcquire_KeysAreIndependent(t *testing.T) {
	s := NewSuppressor(5 * time.Minute)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	require.True(t, s.TryAcquire("truck-1", "rule-1", now))
	// Same vehicle, different rule: independent cooldown.
	require.True(t, s.TryAcquire("truck-1", "rule-2", now))
	// Same rule, different vehicle: independent cooldown.
	require.True(t, s.TryAcquire("truck-2", "rule-1", now))
}

func TestTryAcquire_AtomicUnderConcurrency(t *testing.T) {
	s := NewSuppressor(5 * time.Minute)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	// A burst of duplicate reports evaluating the same key concurrently must
	// produce exactly one allowed trigger.
	const goroutines = 64
	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryAcquire("truck-1", "rule-1", now) {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), allowed.Load())
}

func TestRemainingAndClear(t *testing.T) {
	s := NewSuppressor(5 * time.Minute)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	require.Zero(t, s.Remaining("truck-1", "rule-1", now))

	require.True(t, s.TryAcquire("truck-1", "rule-1", now))
	require.Equal(t, 4*time.Minute, s.Remaining("truck-1", "rule-1", now.Add(time.Minute)))
	require.Zero(t, s.Remaining("truck-1", "rule-1", now.Add(10*time.Minute)))

	s.Clear("truck-1", "rule-1")
	require.True(t, s.TryAcquire("truck-1", "rule-1", now))
}

func TestSweep_RemovesOnlyExpired(t *testing.T) {
	s := NewSuppressor(5 * time.Minute)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	require.True(t, s.TryAcquire("truck-old", "rule-1", now.Add(-30*time.Minute)))
	require.True(t, s.TryAcquire("truck-new", "rule-1", now.Add(-time.Minute)))

	removed := s.sweep(now.Add(-2 * s.Window()))
	require.Equal(t, 1, removed)

	// The swept pair behaves as never-triggered; the fresh one still suppresses.
	require.True(t, s.TryAcquire("truck-old", "rule-1", now))
	require.False(t, s.TryAcquire("truck-new", "rule-1", now))
}

func TestSweep_ConcurrentWithForegroundTraffic(t *testing.T) {
	s := NewSuppressor(time.Millisecond)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				s.sweep(time.Now())
			}
		}
	}()

	// Foreground acquires across many keys while the sweeper spins.
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("truck-%d", i%37)
		s.TryAcquire(key, "rule-1", time.Now())
	}
	close(done)
	wg.Wait()
}
