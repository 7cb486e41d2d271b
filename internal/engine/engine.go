package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oddsflow/settler/internal/domain"
)

// Sweep names, used for lock keys, manual triggers, and stats.
const (
	SweepCreation   = "creation"
	SweepClosing    = "closing"
	SweepResolution = "resolution"
)

// Config holds the engine's sweep cadence and per-item processing limits.
type Config struct {
	CreationInterval   time.Duration
	ClosingInterval    time.Duration
	ResolutionInterval time.Duration

	// Lookahead is how far into the future the creation sweep scans for
	// upcoming events.
	Lookahead time.Duration

	// BatchSize caps how many markets one closing/resolution sweep run
	// takes on; anything beyond it waits for the next cycle.
	BatchSize int

	// Workers bounds how many items a sweep processes in parallel.
	Workers int

	// ItemTimeout bounds the external calls made while processing a single
	// event or market. A timed-out item is retried next cycle.
	ItemTimeout time.Duration

	// LockTTL is the distributed sweep lock expiry.
	LockTTL time.Duration
}

// Engine owns the three lifecycle sweeps. It holds only injected
// dependencies; every sweep re-reads current state from the store, which is
// what makes its idempotency guarantees hold.
type Engine struct {
	markets   domain.MarketStore
	bets      domain.BetStore
	events    domain.EventStore
	results   domain.ResultsProvider
	factory   *Factory
	settler   *Settler
	publisher domain.Publisher
	locks     domain.LockManager // nil disables distributed locking
	clock     domain.Clock
	cfg       Config
	logger    *slog.Logger

	creation   *sweep
	closing    *sweep
	resolution *sweep
}

// New creates an Engine. locks may be nil, in which case only the
// in-process overlap guard applies; publisher may be nil to disable
// notifications.
func New(
	markets domain.MarketStore,
	bets domain.BetStore,
	events domain.EventStore,
	results domain.ResultsProvider,
	factory *Factory,
	settler *Settler,
	publisher domain.Publisher,
	locks domain.LockManager,
	clock domain.Clock,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}

	e := &Engine{
		markets:   markets,
		bets:      bets,
		events:    events,
		results:   results,
		factory:   factory,
		settler:   settler,
		publisher: publisher,
		locks:     locks,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "engine")),
	}

	e.creation = newSweep(SweepCreation, cfg.CreationInterval, e.creationSweep, locks, cfg.LockTTL, e.logger)
	e.closing = newSweep(SweepClosing, cfg.ClosingInterval, e.closingSweep, locks, cfg.LockTTL, e.logger)
	e.resolution = newSweep(SweepResolution, cfg.ResolutionInterval, e.resolutionSweep, locks, cfg.LockTTL, e.logger)

	return e
}

// Run starts the three sweep loops and blocks until the context is
// cancelled. Each sweep runs on its own interval; sweeps never crash the
// engine, only log.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "engine starting",
		slog.Duration("creation_interval", e.cfg.CreationInterval),
		slog.Duration("closing_interval", e.cfg.ClosingInterval),
		slog.Duration("resolution_interval", e.cfg.ResolutionInterval),
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range e.allSweeps() {
		g.Go(func() error { return s.runLoop(ctx) })
	}

	err := g.Wait()
	if ctx.Err() != nil {
		e.logger.Info("engine stopped")
		return nil
	}
	return err
}

// Trigger runs the named sweep once, immediately, with the same overlap
// guards as a timed tick. Used by the ops API.
func (e *Engine) Trigger(ctx context.Context, name string) error {
	for _, s := range e.allSweeps() {
		if s.name == name {
			return s.tick(ctx)
		}
	}
	return fmt.Errorf("unknown sweep %q", name)
}

// Stats returns a snapshot of every sweep's counters.
func (e *Engine) Stats() []SweepStats {
	sweeps := e.allSweeps()
	out := make([]SweepStats, 0, len(sweeps))
	for _, s := range sweeps {
		out = append(out, s.snapshot())
	}
	return out
}

func (e *Engine) allSweeps() []*sweep {
	return []*sweep{e.creation, e.closing, e.resolution}
}

// itemCtx bounds the external calls made for one event or market.
func (e *Engine) itemCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.ItemTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.ItemTimeout)
}

// publish emits a lifecycle event. Fire-and-forget: failures are logged and
// never propagated, so notification trouble cannot roll back a transition.
func (e *Engine) publish(ctx context.Context, ev domain.LifecycleEvent) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.logger.WarnContext(ctx, "lifecycle publish failed",
			slog.String("type", string(ev.Type)),
			slog.String("market_id", ev.MarketID),
			slog.String("error", err.Error()),
		)
	}
}
