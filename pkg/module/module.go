// Package module implements the Processor (C6) and Module (C7) abstractions:
// a cadenced work unit with a durable state key, and the owner that
// supervises a fixed set of them. Grounded on
// original_source/backend/lab/core/module.py's Module/DataProcessor base
// classes, with the ticker+stopCh+metrics.Timer driving-loop idiom adapted
// from pkg/reconciler/reconciler.go's Reconciler.run.
package module

import (
	"context"
	"sync"
	"time"

	"github.com/ethpandaops/lab/internal/errs"
	"github.com/ethpandaops/lab/pkg/metrics"
	"github.com/rs/zerolog"
)

// Processor is the bare lifecycle contract every processor satisfies,
// matching spec.md §4.6: a stable name, idempotent start, cooperative stop.
// SlotProcessor (C8) implements this directly with its own three-phase
// internal concurrency; cadenced processors embed BasePeriodic, which
// implements PeriodicSpec and drives itself on a gocron schedule from
// within Start (see periodic.go). RunPeriodic below remains the
// spec.md §4.7 default loop in its plainest, ticker-driven form.
type Processor interface {
	// Name is the stable identifier used as the state-key prefix.
	Name() string
	// Start may spawn internal goroutines; must be safe to call once.
	Start(ctx context.Context) error
	// Stop signals cooperative cancellation and waits for internal tasks.
	Stop()
}

// PeriodicSpec is the cadenced-processor contract from spec.md §4.6:
// should_process, update_last_processed, process, plus the interval that
// the default loop (§4.7) waits on between ticks.
type PeriodicSpec interface {
	ShouldProcess() bool
	UpdateLastProcessed()
	Process(ctx context.Context) error
	Interval() time.Duration
}

// RunPeriodic drives a PeriodicSpec on the default loop described in
// spec.md §4.7:
//
//	loop:
//	  try process(); on error: log
//	  wait for (stop signal OR interval timeout)
//	  if stop signal: exit
//
// A failed iteration is logged and swallowed; state is not advanced
// (UpdateLastProcessed is only called on success), and the loop retries on
// the next tick, per spec.md §4.6/§7. Cadence drift from the time spent
// inside Process is ignored, matching §4.7's "the timeout is the
// configured interval; cadence drift is ignored."
func RunPeriodic(ctx context.Context, name string, spec PeriodicSpec, stopCh <-chan struct{}, logger zerolog.Logger) {
	for {
		if spec.ShouldProcess() {
			timer := metrics.NewTimer()
			if err := spec.Process(ctx); err != nil {
				timer.ObserveDurationVec(metrics.PeriodicCycleDuration, name)
				metrics.PeriodicCyclesTotal.WithLabelValues(name, "failure").Inc()
				logger.Error().Err(err).Str("processor", name).Msg("process iteration failed")
			} else {
				spec.UpdateLastProcessed()
				timer.ObserveDurationVec(metrics.PeriodicCycleDuration, name)
				metrics.PeriodicCyclesTotal.WithLabelValues(name, "success").Inc()
				logger.Debug().Str("processor", name).Dur("elapsed", timer.Duration()).Msg("process iteration complete")
			}
		}

		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(spec.Interval()):
		}
	}
}

// Module (C7) owns a fixed set of Processors, starts them sequentially, and
// stops them all on shutdown. It maintains no child-task set of its own
// beyond what each Processor tracks internally — cancellation fans out
// through each Processor's own Stop, matching spec.md §4.7's "the module
// maintains a child-task set so that all progeny tasks are reachable for
// cancellation," here realized as each Processor being independently
// responsible for awaiting its own goroutines.
type Module struct {
	name       string
	processors []Processor
	logger     zerolog.Logger

	mu      sync.Mutex
	started bool
}

// New builds a Module owning the given processors.
func New(name string, logger zerolog.Logger, processors ...Processor) *Module {
	return &Module{
		name:       name,
		processors: processors,
		logger:     logger.With().Str("module", name).Logger(),
	}
}

// Name returns the module's configured name.
func (m *Module) Name() string { return m.name }

// Processors returns the owned processor set (read-only use: tests,
// FrontendConfigExporter-adjacent introspection).
func (m *Module) Processors() []Processor { return m.processors }

// Start calls each processor's Start sequentially, per spec.md §4.7. If any
// processor fails to start, already-started processors are stopped before
// the error is returned, so a partial module start never leaks goroutines.
func (m *Module) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	started := make([]Processor, 0, len(m.processors))
	for _, p := range m.processors {
		m.logger.Info().Str("processor", p.Name()).Msg("starting processor")
		if err := p.Start(ctx); err != nil {
			m.logger.Error().Err(err).Str("processor", p.Name()).Msg("processor failed to start")
			for _, s := range started {
				s.Stop()
			}
			return errs.New(errs.Fatal, "module.Start", err)
		}
		started = append(started, p)
		metrics.ProcessorsRunning.WithLabelValues(m.name, p.Name()).Set(1)
	}
	m.started = true
	return nil
}

// Stop cancels all tracked processors and awaits them.
func (m *Module) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	for _, p := range m.processors {
		m.logger.Info().Str("processor", p.Name()).Msg("stopping processor")
		p.Stop()
		metrics.ProcessorsRunning.WithLabelValues(m.name, p.Name()).Set(0)
	}
	m.started = false
}
