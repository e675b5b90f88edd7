// Package ratelimit implements admission control for outbound CRM API calls.
// It bounds both the number of in-flight calls (concurrency ceiling) and how
// frequently new calls may start (minimum interval between starts), queueing
// overflow in FIFO order.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for limiter state and throttling.
var (
	limiterActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crm_limiter_active",
		Help: "Number of in-flight calls admitted by the limiter",
	})

	limiterQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crm_limiter_queued",
		Help: "Number of calls waiting in the limiter's pending queue",
	})

	limiterAdmissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_limiter_admissions_total",
		Help: "Total calls admitted through the limiter",
	})

	limiterWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crm_limiter_wait_seconds",
		Help:    "Time spent waiting out the minimum start interval",
		Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 2, 5},
	})

	limiterCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_limiter_cancelled_total",
		Help: "Total calls abandoned before admission due to context cancellation",
	})
)

// Config holds limiter configuration.
type Config struct {
	// MaxConcurrent is the ceiling on in-flight calls.
	MaxConcurrent int

	// MinInterval is the minimum time between two call starts.
	// 200ms yields at most 5 starts per second.
	MinInterval time.Duration
}

// DefaultConfig returns the limiter configuration matching the CRM API's
// published limits.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 20,
		MinInterval:   200 * time.Millisecond,
	}
}

// Limiter enforces a concurrency ceiling and a start-rate floor over wrapped
// operations. The pending queue is unbounded; callers with arbitrarily large
// fan-out should bound it upstream.
type Limiter struct {
	mu            sync.Mutex
	maxConcurrent int
	minInterval   time.Duration
	active        int
	nextStart     time.Time
	pending       []chan struct{}
	logger        zerolog.Logger
}

// New creates a limiter. Non-positive MaxConcurrent falls back to the default
// ceiling; a non-positive MinInterval disables pacing.
func New(cfg Config, logger zerolog.Logger) *Limiter {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	return &Limiter{
		maxConcurrent: cfg.MaxConcurrent,
		minInterval:   cfg.MinInterval,
		logger:        logger,
	}
}

// Do runs fn once admission is granted and a start slot in the pacing
// schedule is reached. The error of fn is returned unchanged; a failing fn
// affects only its own caller. If ctx is cancelled before fn starts, Do
// returns ctx.Err() without running fn.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	// Deferred so a panicking fn cannot leak its slot.
	defer l.release()
	return fn()
}

// Active returns the current number of in-flight calls.
func (l *Limiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Queued returns the current pending queue depth.
func (l *Limiter) Queued() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// acquire blocks until a concurrency slot is held and the pacing wait has
// elapsed. On cancellation the slot, if already held, is given back.
func (l *Limiter) acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.active < l.maxConcurrent {
		l.active++
		wait := l.reserveStartLocked()
		limiterActive.Set(float64(l.active))
		l.mu.Unlock()
		return l.pace(ctx, wait)
	}

	ch := make(chan struct{})
	l.pending = append(l.pending, ch)
	limiterQueued.Set(float64(len(l.pending)))
	l.mu.Unlock()

	select {
	case <-ch:
		// release() already counted us as active.
		l.mu.Lock()
		wait := l.reserveStartLocked()
		l.mu.Unlock()
		return l.pace(ctx, wait)
	case <-ctx.Done():
		if !l.abandon(ch) {
			// Lost the race with release(): the slot is ours, give it back.
			l.release()
		}
		limiterCancelledTotal.Inc()
		return ctx.Err()
	}
}

// reserveStartLocked claims the next start time in the pacing schedule and
// returns how long the caller must wait for it. Must be called with mu held.
func (l *Limiter) reserveStartLocked() time.Duration {
	if l.minInterval <= 0 {
		return 0
	}
	now := time.Now()
	start := l.nextStart
	if start.Before(now) {
		start = now
	}
	l.nextStart = start.Add(l.minInterval)
	return start.Sub(now)
}

// pace waits out the reserved interval. The concurrency slot is held during
// the wait, so a cancelled wait must release it.
func (l *Limiter) pace(ctx context.Context, wait time.Duration) error {
	if wait > 0 {
		limiterWaitSeconds.Observe(wait.Seconds())
		l.logger.Debug().
			Dur("wait", wait).
			Msg("Pacing call start")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.release()
			limiterCancelledTotal.Inc()
			return ctx.Err()
		case <-timer.C:
		}
	}
	limiterAdmissionsTotal.Inc()
	return nil
}

// release frees a slot and hands it to the head of the pending queue, if any.
func (l *Limiter) release() {
	l.mu.Lock()
	l.active--
	if len(l.pending) > 0 && l.active < l.maxConcurrent {
		ch := l.pending[0]
		l.pending = l.pending[1:]
		l.active++
		close(ch)
	}
	limiterActive.Set(float64(l.active))
	limiterQueued.Set(float64(len(l.pending)))
	l.mu.Unlock()
}

// abandon removes a still-queued waiter. Returns false if the waiter was
// already admitted.
func (l *Limiter) abandon(ch chan struct{}) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, pending := range l.pending {
		if pending == ch {
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			limiterQueued.Set(float64(len(l.pending)))
			return true
		}
	}
	return false
}
