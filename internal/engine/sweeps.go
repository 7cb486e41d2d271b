package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oddsflow/settler/internal/domain"
)

// SweepStats is a snapshot of one sweep's counters.
type SweepStats struct {
	Name         string     `json:"name"`
	Runs         int64      `json:"runs"`
	Items        int64      `json:"items"`
	Failures     int64      `json:"failures"`
	SkippedTicks int64      `json:"skipped_ticks"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// sweepResult is what one sweep run reports: items attempted and items that
// failed this cycle (failed items are retried next cycle, never escalated).
type sweepResult struct {
	items    int
	failures int
}

// sweep is one independently scheduled lifecycle task. Two overlap guards
// apply per tick: an in-process atomic flag (a tick that fires while the
// previous run is still going is skipped, not queued) and, when configured,
// a distributed lock shared by all engine instances.
type sweep struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) (sweepResult, error)
	locks    domain.LockManager
	lockTTL  time.Duration
	logger   *slog.Logger

	running atomic.Bool

	mu    sync.Mutex
	stats SweepStats
}

func newSweep(name string, interval time.Duration, run func(ctx context.Context) (sweepResult, error), locks domain.LockManager, lockTTL time.Duration, logger *slog.Logger) *sweep {
	return &sweep{
		name:     name,
		interval: interval,
		run:      run,
		locks:    locks,
		lockTTL:  lockTTL,
		logger:   logger.With(slog.String("sweep", name)),
		stats:    SweepStats{Name: name},
	}
}

// runLoop ticks the sweep on its interval until the context is cancelled.
// The first run happens immediately on start.
func (s *sweep) runLoop(ctx context.Context) error {
	if err := s.tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("sweep failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// tick runs the sweep once unless a previous run is still in flight.
func (s *sweep) tick(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		s.skippedTick("previous run still in flight")
		return nil
	}
	defer s.running.Store(false)

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "sweep:"+s.name, s.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			s.skippedTick("lock held by another instance")
			return nil
		}
		if err != nil {
			// Lock backend trouble must not stall the lifecycle: every
			// transition is CAS-guarded in the store, so running unlocked
			// degrades to wasted work, not double-processing.
			s.logger.Warn("sweep lock unavailable, running unlocked", slog.String("error", err.Error()))
		} else {
			defer unlock()
		}
	}

	started := time.Now().UTC()
	res, err := s.run(ctx)

	s.mu.Lock()
	s.stats.Runs++
	s.stats.Items += int64(res.items)
	s.stats.Failures += int64(res.failures)
	s.stats.LastRun = &started
	if err != nil {
		s.stats.LastError = err.Error()
	} else {
		s.stats.LastError = ""
	}
	s.mu.Unlock()

	if res.items > 0 || res.failures > 0 {
		s.logger.Info("sweep complete",
			slog.Int("items", res.items),
			slog.Int("failures", res.failures),
			slog.Duration("elapsed", time.Since(started)),
		)
	}
	return err
}

func (s *sweep) skippedTick(reason string) {
	s.mu.Lock()
	s.stats.SkippedTicks++
	s.mu.Unlock()
	s.logger.Debug("sweep tick skipped", slog.String("reason", reason))
}

func (s *sweep) snapshot() SweepStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// ---------------------------------------------------------------------------
// Sweep bodies. Each isolates failures at the per-item boundary: one bad
// event or market is counted and logged, and the sweep moves on.
// ---------------------------------------------------------------------------

// creationSweep scans upcoming events in the look-ahead window and asks the
// factory to create any missing markets for each.
func (e *Engine) creationSweep(ctx context.Context) (sweepResult, error) {
	now := e.clock.Now()
	events, err := e.events.ListUpcoming(ctx, now, now.Add(e.cfg.Lookahead))
	if err != nil {
		return sweepResult{}, err
	}

	var failures atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	for _, ev := range events {
		g.Go(func() error {
			ictx, cancel := e.itemCtx(gctx)
			defer cancel()

			if _, err := e.factory.CreateMarketsForEvent(ictx, ev); err != nil {
				failures.Add(1)
				e.logger.ErrorContext(ictx, "market creation failed",
					slog.String("event_id", ev.ID),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	return sweepResult{items: len(events), failures: int(failures.Load())}, nil
}

// closingSweep transitions open markets whose close time has passed. A
// status conflict means another process already closed the market; that is
// a no-op, not an error.
func (e *Engine) closingSweep(ctx context.Context) (sweepResult, error) {
	now := e.clock.Now()
	markets, err := e.markets.ListOpenPastClose(ctx, now, e.cfg.BatchSize)
	if err != nil {
		return sweepResult{}, err
	}

	var failures atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	for _, m := range markets {
		g.Go(func() error {
			ictx, cancel := e.itemCtx(gctx)
			defer cancel()

			err := e.markets.TransitionStatus(ictx, m.ID, domain.MarketStatusOpen, domain.MarketStatusClosed)
			switch {
			case err == nil:
				e.logger.InfoContext(ictx, "market closed",
					slog.String("market_id", m.ID),
					slog.String("event_id", m.EventID),
				)
				e.publish(ictx, domain.LifecycleEvent{
					Type:        domain.LifecycleMarketClosed,
					MarketID:    m.ID,
					EventID:     m.EventID,
					MarketTitle: m.Title,
					At:          e.clock.Now(),
				})
			case errors.Is(err, domain.ErrStatusConflict):
				// Another sweep got there first.
				e.logger.DebugContext(ictx, "market already advanced",
					slog.String("market_id", m.ID),
				)
			default:
				failures.Add(1)
				e.logger.ErrorContext(ictx, "market close failed",
					slog.String("market_id", m.ID),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	return sweepResult{items: len(markets), failures: int(failures.Load())}, nil
}

// resolutionSweep resolves and settles closed markets whose event has
// finished. Resolution is driven purely by status checks, so any item that
// fails this cycle is picked up again on the next one.
func (e *Engine) resolutionSweep(ctx context.Context) (sweepResult, error) {
	markets, err := e.markets.ListClosedForFinishedEvents(ctx, e.cfg.BatchSize)
	if err != nil {
		return sweepResult{}, err
	}

	var failures atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	for _, m := range markets {
		g.Go(func() error {
			ictx, cancel := e.itemCtx(gctx)
			defer cancel()

			if err := e.resolveAndSettle(ictx, m); err != nil {
				failures.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return sweepResult{items: len(markets), failures: int(failures.Load())}, nil
}

// resolveAndSettle runs one market through resolution and settlement.
// Ordering within the market is strict: settlement only follows a
// successful resolution, and the settled transition only follows full
// settlement.
func (e *Engine) resolveAndSettle(ctx context.Context, m domain.Market) error {
	log := e.logger.With(
		slog.String("market_id", m.ID),
		slog.String("event_id", m.EventID),
		slog.String("market_type", string(m.Type)),
	)

	sheet, err := e.results.GetResults(ctx, m.EventID)
	if err != nil {
		if errors.Is(err, domain.ErrResultsUnavailable) {
			log.DebugContext(ctx, "results not available yet")
		} else {
			log.WarnContext(ctx, "results fetch failed", slog.String("error", err.Error()))
		}
		return err
	}

	outcomes, err := e.markets.GetOutcomes(ctx, m.ID)
	if err != nil {
		log.ErrorContext(ctx, "load outcomes failed", slog.String("error", err.Error()))
		return err
	}

	res, err := Resolve(m, outcomes, sheet)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrResultsUnavailable):
			log.DebugContext(ctx, "results incomplete, retrying next cycle")
		case errors.Is(err, domain.ErrAmbiguousResult), errors.Is(err, domain.ErrOutcomeMapping):
			// Data integrity failure: the market stays closed pending manual
			// intervention. Log the raw sheet for the operator.
			log.ErrorContext(ctx, "resolution rejected, market left closed",
				slog.String("error", err.Error()),
				slog.Any("finishing_order", sheet.FinishingOrder),
				slog.Any("facts", sheet.Facts),
			)
		default:
			log.ErrorContext(ctx, "resolution failed", slog.String("error", err.Error()))
		}
		return err
	}

	if _, err := e.settler.Settle(ctx, m, outcomes, res); err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			log.DebugContext(ctx, "market already settled by another instance")
		} else {
			log.ErrorContext(ctx, "settlement failed", slog.String("error", err.Error()))
		}
		return err
	}

	e.publish(ctx, domain.LifecycleEvent{
		Type:              domain.LifecycleMarketResolved,
		MarketID:          m.ID,
		EventID:           m.EventID,
		MarketTitle:       m.Title,
		WinningOutcomeIDs: res.WinningOutcomeIDs,
		Payload:           res.Payload,
		At:                e.clock.Now(),
	})
	return nil
}
