package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLimiter(maxConcurrent int, minInterval time.Duration) *Limiter {
	return New(Config{
		MaxConcurrent: maxConcurrent,
		MinInterval:   minInterval,
	}, zerolog.Nop())
}

func TestLimiter_ConcurrencyCeiling(t *testing.T) {
	const maxConcurrent = 3
	const operations = 24

	limiter := newTestLimiter(maxConcurrent, 0)

	var current, peak atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < operations; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := limiter.Do(context.Background(), func() error {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("Do() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > maxConcurrent {
		t.Errorf("peak concurrency = %d, want <= %d", got, maxConcurrent)
	}
	if got := limiter.Active(); got != 0 {
		t.Errorf("Active() after drain = %d, want 0", got)
	}
}

func TestLimiter_MinInterval(t *testing.T) {
	const operations = 5
	const minInterval = 60 * time.Millisecond

	limiter := newTestLimiter(10, minInterval)

	var mu sync.Mutex
	var starts []time.Time
	var wg sync.WaitGroup

	began := time.Now()
	for i := 0; i < operations; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = limiter.Do(context.Background(), func() error {
				mu.Lock()
				starts = append(starts, time.Now())
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if len(starts) != operations {
		t.Fatalf("got %d starts, want %d", len(starts), operations)
	}

	// The pacing schedule spaces starts minInterval apart; total elapsed
	// is the robust assertion under scheduler jitter.
	elapsed := time.Since(began)
	want := time.Duration(operations-1) * minInterval
	if elapsed < want-10*time.Millisecond {
		t.Errorf("elapsed = %v, want >= %v", elapsed, want)
	}
}

func TestLimiter_FIFOAmongQueued(t *testing.T) {
	limiter := newTestLimiter(1, 0)

	release := make(chan struct{})
	holding := make(chan struct{})
	go func() {
		_ = limiter.Do(context.Background(), func() error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	const queued = 4
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < queued; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_ = limiter.Do(context.Background(), func() error {
				mu.Lock()
				order = append(order, id)
				mu.Unlock()
				return nil
			})
		}(i)

		// Wait until this caller is queued before starting the next,
		// so enqueue order is deterministic.
		deadline := time.Now().Add(time.Second)
		for limiter.Queued() != i+1 {
			if time.Now().After(deadline) {
				t.Fatalf("caller %d never queued", i)
			}
			time.Sleep(time.Millisecond)
		}
	}

	close(release)
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("execution order = %v, want FIFO", order)
		}
	}
}

func TestLimiter_ErrorPropagation(t *testing.T) {
	limiter := newTestLimiter(2, 0)
	wantErr := errors.New("upstream failed")

	err := limiter.Do(context.Background(), func() error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Do() error = %v, want %v", err, wantErr)
	}

	// The failure must only decrement; the limiter stays usable.
	if got := limiter.Active(); got != 0 {
		t.Errorf("Active() after failure = %d, want 0", got)
	}
	if err := limiter.Do(context.Background(), func() error { return nil }); err != nil {
		t.Errorf("Do() after failure error = %v", err)
	}
}

func TestLimiter_ContextCancelledWhileQueued(t *testing.T) {
	limiter := newTestLimiter(1, 0)

	release := make(chan struct{})
	holding := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = limiter.Do(context.Background(), func() error {
			close(holding)
			<-release
			return nil
		})
		close(done)
	}()
	<-holding

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- limiter.Do(ctx, func() error {
			t.Error("cancelled operation must not run")
			return nil
		})
	}()

	deadline := time.Now().Add(time.Second)
	for limiter.Queued() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("second caller never queued")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if got := limiter.Queued(); got != 0 {
		t.Errorf("Queued() after cancellation = %d, want 0", got)
	}

	close(release)
	<-done
	if got := limiter.Active(); got != 0 {
		t.Errorf("Active() after drain = %d, want 0", got)
	}
}

func TestLimiter_ContextCancelledBeforeStart(t *testing.T) {
	limiter := newTestLimiter(1, time.Hour)

	// First call consumes the schedule slot without waiting.
	if err := limiter.Do(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	// Second call would wait an hour for its start slot; cancellation must
	// release it immediately.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := limiter.Do(ctx, func() error {
		t.Error("operation must not start before its slot")
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() error = %v, want context.DeadlineExceeded", err)
	}
	if got := limiter.Active(); got != 0 {
		t.Errorf("Active() after cancelled wait = %d, want 0", got)
	}
}

func TestLimiter_PanickingOperationReleasesSlot(t *testing.T) {
	limiter := newTestLimiter(1, 0)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected the operation's panic to propagate")
			}
		}()
		_ = limiter.Do(context.Background(), func() error {
			panic("operation blew up")
		})
	}()

	if got := limiter.Active(); got != 0 {
		t.Errorf("Active() after panic = %d, want 0", got)
	}

	// The single slot must still be usable.
	done := make(chan error, 1)
	go func() {
		done <- limiter.Do(context.Background(), func() error { return nil })
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Do() after panic error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do() blocked; panicking operation leaked its slot")
	}
}

func TestNew_Defaults(t *testing.T) {
	limiter := New(Config{}, zerolog.Nop())
	if limiter.maxConcurrent != DefaultConfig().MaxConcurrent {
		t.Errorf("maxConcurrent = %d, want default %d",
			limiter.maxConcurrent, DefaultConfig().MaxConcurrent)
	}
}
