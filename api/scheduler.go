/*
scheduler.go - Background slice roller

PURPOSE:
  When a slice width is configured, the engine closes the open slice
  inline before the next mutation. A facility that goes quiet overnight
  would leave its last slice open indefinitely; this scheduler ticks on
  an interval and asks the engine to close the slice if the width has
  elapsed, so audit windows seal on schedule regardless of traffic.

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 minute)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  roller := NewSliceRoller(engine, log)
  roller.Start()
  // ... later
  roller.Stop()

SEE ALSO:
  - ledger/engine.go: RollIfDue
  - ledger/slice.go: Width-driven close semantics
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/certflow/massbalance-engine/ledger"
)

// SliceRoller seals width-driven slices during quiet periods.
type SliceRoller struct {
	Engine        *ledger.Engine
	CheckInterval time.Duration
	Enabled       bool

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewSliceRoller(engine *ledger.Engine, log zerolog.Logger) *SliceRoller {
	return &SliceRoller{
		Engine:        engine,
		CheckInterval: time.Minute,
		Enabled:       true,
		log:           log,
		stop:          make(chan struct{}),
	}
}

// Start begins the background ticker.
func (sr *SliceRoller) Start() {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if !sr.Enabled {
		sr.log.Info().Msg("slice roller disabled, not starting")
		return
	}

	sr.ticker = time.NewTicker(sr.CheckInterval)
	sr.wg.Add(1)
	go sr.run()

	sr.log.Info().Dur("interval", sr.CheckInterval).Msg("slice roller started")
}

func (sr *SliceRoller) run() {
	defer sr.wg.Done()
	for {
		select {
		case <-sr.ticker.C:
			sr.Engine.RollIfDue(context.Background())
		case <-sr.stop:
			return
		}
	}
}

// Stop halts the ticker and waits for the goroutine to exit.
func (sr *SliceRoller) Stop() {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sr.ticker == nil {
		return
	}
	sr.ticker.Stop()
	close(sr.stop)
	sr.wg.Wait()
	sr.ticker = nil

	sr.log.Info().Msg("slice roller stopped")
}
