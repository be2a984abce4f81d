/*
scheduler.go - Automated sweep scheduler

PURPOSE:
  Periodically runs the option-expiry and payment-overdue sweeps so
  expired holds are released and late payers are flagged without an
  operator clicking anything.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each tick runs both sweeps and logs a summary
  - Sweeps are idempotent, so overlapping manual triggers are harmless

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 minute)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewSweepScheduler(sweeper)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: SweepOptions / SweepPayments endpoints (manual triggers)
  - engine/sweep.go: Sweeper
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/booking-engine/engine"
)

// SweepScheduler runs the background sweeps on a timer.
type SweepScheduler struct {
	Sweeper       *engine.Sweeper
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweepScheduler creates a new scheduler.
func NewSweepScheduler(sweeper *engine.Sweeper) *SweepScheduler {
	return &SweepScheduler{
		Sweeper:       sweeper,
		CheckInterval: 1 * time.Minute,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (ss *SweepScheduler) Start() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if !ss.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	ss.ticker = time.NewTicker(ss.CheckInterval)
	ss.wg.Add(1)

	go ss.run()

	log.Printf("[Scheduler] Started with check interval: %v", ss.CheckInterval)
}

// Stop stops the scheduler.
func (ss *SweepScheduler) Stop() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.ticker != nil {
		ss.ticker.Stop()
		close(ss.stop)
		ss.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (ss *SweepScheduler) run() {
	defer ss.wg.Done()

	// Run immediately on start
	ss.sweep()

	for {
		select {
		case <-ss.ticker.C:
			ss.sweep()
		case <-ss.stop:
			return
		}
	}
}

func (ss *SweepScheduler) sweep() {
	ctx := context.Background()

	options, err := ss.Sweeper.SweepExpiredOptions(ctx)
	if err != nil {
		log.Printf("[Scheduler] Option sweep failed: %v", err)
	}

	payments, err := ss.Sweeper.SweepOverduePayments(ctx)
	if err != nil {
		log.Printf("[Scheduler] Payment sweep failed: %v", err)
	}

	if options != nil && payments != nil && options.Applied+payments.Applied+options.Failed+payments.Failed > 0 {
		log.Printf("[Scheduler] Swept: %d options cancelled, %d payments overdue, %d failures",
			options.Applied, payments.Applied, options.Failed+payments.Failed)
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (ss *SweepScheduler) RunNow() {
	ss.sweep()
}

// GetNextRunTime returns when the next scheduled sweep will occur.
func (ss *SweepScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(ss.CheckInterval)
}
