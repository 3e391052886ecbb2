package module

import (
	"context"
	"time"

	"github.com/ethpandaops/lab/pkg/metrics"
	"github.com/ethpandaops/lab/pkg/statestore"
	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// BasePeriodic implements the Start/Stop/ShouldProcess/UpdateLastProcessed
// plumbing shared by every interval-driven processor so concrete
// implementations only supply a process function. Grounded on the common
// DataProcessor base both original_source/backend/lab/modules/
// beacon_chain_timings/module.py and .../xatu_public_contributors/module.py
// subclass, which share identical should_process/update_last_processed
// logic keyed off a single "last_processed" state entry per processor.
type BasePeriodic struct {
	name      string
	interval  time.Duration
	state     *statestore.Store
	logger    zerolog.Logger
	processFn func(ctx context.Context) error

	scheduler *gocron.Scheduler
}

// NewBasePeriodic builds a BasePeriodic. state may be nil, in which case
// ShouldProcess always reports true (no persisted cadence) — useful for
// tests.
func NewBasePeriodic(name string, interval time.Duration, state *statestore.Store, logger zerolog.Logger, process func(ctx context.Context) error) *BasePeriodic {
	return &BasePeriodic{
		name:      name,
		interval:  interval,
		state:     state,
		logger:    logger.With().Str("processor", name).Logger(),
		processFn: process,
	}
}

func (b *BasePeriodic) Name() string             { return b.name }
func (b *BasePeriodic) Interval() time.Duration  { return b.interval }
func (b *BasePeriodic) stateKey() string         { return b.name + "_last_processed" }

// ShouldProcess reports true when never processed or when Interval has
// elapsed since the persisted last_processed timestamp, per spec.md §4.6.
func (b *BasePeriodic) ShouldProcess() bool {
	if b.state == nil {
		return true
	}
	v, err := b.state.Get(b.stateKey())
	if err != nil {
		return true
	}
	ts, ok := asUnixSeconds(v)
	if !ok {
		return true
	}
	return time.Since(time.Unix(ts, 0)) >= b.interval
}

// UpdateLastProcessed writes the current wall-time into state.
func (b *BasePeriodic) UpdateLastProcessed() {
	if b.state == nil {
		return
	}
	if err := b.state.Set(b.stateKey(), time.Now().Unix()); err != nil {
		b.logger.Error().Err(err).Msg("failed to persist last_processed")
	}
}

// Process delegates to the configured process function.
func (b *BasePeriodic) Process(ctx context.Context) error { return b.processFn(ctx) }

// Start schedules the cadence loop on a gocron.Scheduler instead of a raw
// ticker, per SPEC_FULL.md §4.17: gocron backs every ordinary Processor's
// interval loop, grounded on other_examples' ethpandaops-beacon node's
// gocron.NewScheduler/Every(...).Do(...) healthcheck cron. SlotProcessor's
// three phases run their own independent loops instead (head on WallClock
// slot-change events, middle and backlog on time.After sleeps plus stopCh;
// they never call RunPeriodic or BasePeriodic), since gocron's
// single-job-per-schedule model doesn't fit a three-concurrent-phase
// per-slot driver; RunPeriodic remains as a tested standalone reference
// implementation of spec.md §4.7's should_process/process/update loop
// contract. Idempotent: a second call is a no-op because the scheduler is
// only ever built once per BasePeriodic value.
func (b *BasePeriodic) Start(ctx context.Context) error {
	if b.scheduler != nil {
		return nil
	}
	b.scheduler = gocron.NewScheduler(time.UTC)
	if _, err := b.scheduler.Every(b.interval.String()).Do(func() {
		b.tick(ctx)
	}); err != nil {
		return err
	}
	b.tick(ctx) // run once immediately, matching RunPeriodic's immediate-first-iteration behavior
	b.scheduler.StartAsync()
	return nil
}

// Stop halts the scheduler. gocron does not guarantee an in-flight tick is
// awaited, matching spec.md §4.7's cooperative (not forced) cancellation.
func (b *BasePeriodic) Stop() {
	if b.scheduler != nil {
		b.scheduler.Stop()
	}
}

// tick runs one should_process/process/update_last_processed cycle, the same
// body RunPeriodic executes per-iteration, instrumented with the module
// cadence metrics.
func (b *BasePeriodic) tick(ctx context.Context) {
	if !b.ShouldProcess() {
		return
	}
	timer := metrics.NewTimer()
	if err := b.Process(ctx); err != nil {
		timer.ObserveDurationVec(metrics.PeriodicCycleDuration, b.name)
		metrics.PeriodicCyclesTotal.WithLabelValues(b.name, "failure").Inc()
		b.logger.Error().Err(err).Str("processor", b.name).Msg("process iteration failed")
		return
	}
	b.UpdateLastProcessed()
	timer.ObserveDurationVec(metrics.PeriodicCycleDuration, b.name)
	metrics.PeriodicCyclesTotal.WithLabelValues(b.name, "success").Inc()
	b.logger.Debug().Str("processor", b.name).Dur("elapsed", timer.Duration()).Msg("process iteration complete")
}

func asUnixSeconds(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
