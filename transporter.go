// Transporter: background worker pool draining the Engine's Buffer into
// its Database (spec.md §4.11). Runs N workers via errgroup, each
// repeatedly invoking transport(); a supervisor ticker inspects exported
// timing stats and restarts the pool via cooperative cancellation if a
// worker looks hung.
package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	transporterIdleSleep   = 5 * time.Millisecond
	transporterBusySleep   = time.Millisecond
	transporterHungFactor  = 20 // a pass averaging > 20x the idle sleep looks hung
	supervisorTickInterval = time.Second
)

// transportFunc drains a bounded prefix of work; it returns whether any
// work was actually transported (used to choose the next sleep).
type transportFunc func(ctx context.Context) (didWork bool, err error)

type workerStats struct {
	mu       sync.Mutex
	passes   uint64
	totalDur time.Duration
}

func (s *workerStats) record(d time.Duration) {
	s.mu.Lock()
	s.passes++
	s.totalDur += d
	s.mu.Unlock()
}

func (s *workerStats) average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.passes == 0 {
		return 0
	}
	return s.totalDur / time.Duration(s.passes)
}

// Transporter owns N worker goroutines, restartable as a group.
type Transporter struct {
	workers int
	fn      transportFunc

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	stats  []*workerStats
}

func newTransporter(workers int, fn transportFunc) *Transporter {
	if workers < 1 {
		workers = 1
	}
	return &Transporter{workers: workers, fn: fn}
}

// Start launches the worker pool and a supervisor goroutine.
func (t *Transporter) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startLocked()
	go t.supervise()
}

func (t *Transporter) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	done := make(chan struct{})
	t.done = done
	t.stats = make([]*workerStats, t.workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < t.workers; i++ {
		stats := &workerStats{}
		t.stats[i] = stats
		g.Go(func() error {
			return t.runWorker(gctx, stats)
		})
	}
	go func() {
		_ = g.Wait()
		close(done)
	}()
}

func (t *Transporter) runWorker(ctx context.Context, stats *workerStats) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		start := time.Now()
		didWork, err := t.fn(ctx)
		stats.record(time.Since(start))
		if err != nil {
			log.Error().Err(err).Msg("transporter pass failed")
		}
		sleep := transporterBusySleep
		if !didWork {
			sleep = transporterIdleSleep
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleep):
		}
	}
}

// supervise restarts the pool if requiresRestart flags any worker's
// stats as hung.
func (t *Transporter) supervise() {
	ticker := time.NewTicker(supervisorTickInterval)
	defer ticker.Stop()
	for range ticker.C {
		t.mu.Lock()
		stats := append([]*workerStats(nil), t.stats...)
		t.mu.Unlock()
		if stats == nil {
			return // Stop() was called
		}
		if requiresRestart(stats) {
			log.Warn().Msg("transporter workers look hung, restarting")
			t.restart()
		}
	}
}

// requiresRestart flags the pool as hung if any worker's average pass
// duration has drifted far past the idle sleep interval — a real
// transport() that blocks on disk I/O should still average close to the
// sleep intervals between passes, not tens of multiples of it.
func requiresRestart(stats []*workerStats) bool {
	threshold := transporterIdleSleep * transporterHungFactor
	for _, s := range stats {
		if s.average() > threshold {
			return true
		}
	}
	return false
}

// restart cooperatively cancels the current workers and starts a fresh
// set, rather than using interrupts (spec.md §9 "reimplement... via
// cooperative cancellation rather than interrupts").
func (t *Transporter) restart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		<-t.done
	}
	t.startLocked()
}

// Stop cancels all workers and waits for them to exit.
func (t *Transporter) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		<-t.done
	}
	t.stats = nil
}
