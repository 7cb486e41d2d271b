package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oddsflow/settler/internal/domain"
	"github.com/oddsflow/settler/internal/engine"
	"github.com/oddsflow/settler/internal/notify"
	"github.com/oddsflow/settler/internal/server"
	"github.com/oddsflow/settler/internal/server/handler"
	"github.com/oddsflow/settler/internal/server/ws"
)

// run starts the goroutines for the selected mode. withEngine controls the
// sweep loops and archiver; withServer controls the ops API and websocket
// feed.
func (a *App) run(ctx context.Context, deps *Dependencies, withEngine, withServer bool) error {
	g, ctx := errgroup.WithContext(ctx)

	clock := domain.SystemClock()

	// The websocket feed only exists alongside the server; the notifier
	// channels always get lifecycle events.
	var hub *ws.Hub
	publisher := notify.Multi{deps.Notifier}
	if withServer && a.cfg.Server.Enabled {
		hub = ws.NewHub(a.cfg.Mode, a.logger)
		publisher = append(publisher, hub)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	var eng *engine.Engine
	if withEngine {
		factory := engine.NewFactory(deps.MarketStore, a.cfg.Markets, clock, a.logger)
		settler := engine.NewSettler(
			deps.MarketStore, deps.BetStore,
			domain.DecimalPayout, a.cfg.Engine.BetPageSize,
			clock, a.logger,
		)

		eng = engine.New(
			deps.MarketStore, deps.BetStore, deps.EventStore, deps.Results,
			factory, settler, publisher, deps.LockManager, clock,
			engine.Config{
				CreationInterval:   a.cfg.Engine.CreationInterval.Duration,
				ClosingInterval:    a.cfg.Engine.ClosingInterval.Duration,
				ResolutionInterval: a.cfg.Engine.ResolutionInterval.Duration,
				Lookahead:          time.Duration(a.cfg.Engine.LookaheadDays) * 24 * time.Hour,
				BatchSize:          a.cfg.Engine.BatchSize,
				Workers:            a.cfg.Engine.Workers,
				ItemTimeout:        a.cfg.Engine.ItemTimeout.Duration,
				LockTTL:            a.cfg.Engine.LockTTL.Duration,
			},
			a.logger,
		)
		g.Go(func() error {
			return eng.Run(ctx)
		})

		if deps.BlobWriter != nil {
			archiver := engine.NewArchiver(
				deps.MarketStore, deps.BetStore, deps.BlobWriter,
				time.Duration(a.cfg.Archive.RetentionDays)*24*time.Hour,
				a.cfg.Engine.BatchSize, clock, a.logger,
			)
			g.Go(func() error {
				return archiver.RunLoop(ctx, a.cfg.Archive.Interval.Duration)
			})
		}
	}

	if withServer && a.cfg.Server.Enabled {
		handlers := server.Handlers{
			Health:  handler.NewHealthHandler(deps.Pingers, a.logger),
			Status:  handler.NewStatusHandler(a.cfg.Mode, statter(eng)),
			Markets: handler.NewMarketHandler(deps.MarketStore, deps.BetStore, a.logger),
		}
		if eng != nil {
			handlers.Sweeps = handler.NewSweepHandler(eng, a.logger)
		}

		srv := server.NewServer(server.Config{
			Port:            a.cfg.Server.Port,
			CORSOrigins:     a.cfg.Server.CORSOrigins,
			APIKey:          a.cfg.Server.APIKey,
			RateLimit:       a.cfg.Server.RateLimit,
			RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
		}, handlers, hub, deps.RateLimiter, a.logger)

		g.Go(func() error {
			return srv.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// statter avoids handing the status handler a typed-nil interface when no
// engine runs in this process.
func statter(eng *engine.Engine) handler.SweepStatter {
	if eng == nil {
		return nil
	}
	return eng
}
