package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantari/tradecore/internal/domain"
	"github.com/quantari/tradecore/internal/feed"
	"github.com/quantari/tradecore/internal/notify"
	"github.com/quantari/tradecore/internal/server"
	"github.com/quantari/tradecore/internal/server/handler"
	"github.com/quantari/tradecore/internal/server/ws"
	"github.com/quantari/tradecore/internal/service"
)

// stopScanInterval is how often open positions are checked against their
// protective levels.
const stopScanInterval = 5 * time.Second

// services bundles the application services a mode runs against.
type services struct {
	accounts  *service.AccountService
	books     *service.BookService
	orders    *service.OrderService
	positions *service.PositionService
	risk      *service.RiskService
}

// ServeMode runs the HTTP/WebSocket API over the stores and caches,
// together with the protective-level monitor and alert delivery.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs := a.buildServices(deps)
	a.startServer(ctx, g, deps, svcs)
	a.startAlertWatcher(ctx, g, deps)
	g.Go(func() error {
		return a.runStopMonitor(ctx, svcs.positions)
	})

	return g.Wait()
}

// IngestMode runs the market-data feed alone: depth snapshots, trades, and
// closed klines stream into Redis, and book events go out on the bus. No
// database is touched.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	g, ctx := errgroup.WithContext(ctx)

	bookSvc := service.NewBookService(
		deps.BookCache, deps.SignalBus, a.cfg.Feed.StaleAfter.Duration, a.logger,
	)
	if err := a.startFeed(ctx, g, deps, bookSvc); err != nil {
		return fmt.Errorf("ingest mode: %w", err)
	}

	return g.Wait()
}

// ArchiveMode runs archive cycles on the configured interval until stopped:
// settled orders, closed positions, and old audit rows move to object
// storage and are then pruned from the database.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: object storage is not wired")
	}

	archiveSvc := service.NewArchiveService(
		deps.Archiver,
		deps.OrderStore,
		deps.PositionStore,
		deps.AuditStore,
		time.Duration(a.cfg.Archive.RetentionDays)*24*time.Hour,
		a.cfg.Archive.Interval.Duration,
		a.logger,
	)
	return archiveSvc.Run(ctx)
}

// FullMode runs every subsystem: feed ingestion, the HTTP/WebSocket API,
// the protective-level monitor, alert delivery, and (when enabled)
// scheduled archival.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs := a.buildServices(deps)

	if err := a.startFeed(ctx, g, deps, svcs.books); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps, svcs)
	}

	a.startAlertWatcher(ctx, g, deps)

	g.Go(func() error {
		return a.runStopMonitor(ctx, svcs.positions)
	})

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		archiveSvc := service.NewArchiveService(
			deps.Archiver,
			deps.OrderStore,
			deps.PositionStore,
			deps.AuditStore,
			time.Duration(a.cfg.Archive.RetentionDays)*24*time.Hour,
			a.cfg.Archive.Interval.Duration,
			a.logger,
		)
		g.Go(func() error {
			return archiveSvc.Run(ctx)
		})
	}

	return g.Wait()
}

// buildServices constructs the service layer over the wired dependencies.
// The exchange client attaches only when credentials were configured;
// without it, order submission and balance sync stay local.
func (a *App) buildServices(deps *Dependencies) *services {
	accountSvc := service.NewAccountService(
		deps.BalanceStore, deps.LockManager, deps.SignalBus, deps.AuditStore, a.logger,
	)
	bookSvc := service.NewBookService(
		deps.BookCache, deps.SignalBus, a.cfg.Feed.StaleAfter.Duration, a.logger,
	)
	riskSvc := service.NewRiskService(
		service.RiskLimits{
			MaxOpenPositions: a.cfg.Risk.MaxOpenPositions,
			MaxOrderNotional: a.cfg.Risk.MaxOrderNotional,
			MaxDailyLoss:     a.cfg.Risk.MaxDailyLoss,
			MaxSpreadPercent: a.cfg.Risk.MaxSpreadPercent,
		},
		deps.PositionStore, deps.BalanceStore, bookSvc, deps.PriceCache, a.logger,
	)
	orderSvc := service.NewOrderService(
		deps.OrderStore, deps.LockManager, deps.SignalBus, deps.AuditStore, a.logger,
	).WithAccounts(accountSvc).WithRiskService(riskSvc)
	positionSvc := service.NewPositionService(
		deps.PositionStore, deps.PriceCache, deps.LockManager, deps.SignalBus,
		deps.AuditStore, a.logger,
	)

	if deps.Exchange != nil {
		accountSvc.WithExchange(deps.Exchange)
		orderSvc.WithExchange(deps.Exchange)
	}

	return &services{
		accounts:  accountSvc,
		books:     bookSvc,
		orders:    orderSvc,
		positions: positionSvc,
		risk:      riskSvc,
	}
}

// startServer adds the HTTP server and WebSocket hub goroutines to the
// group. The server drains in-flight requests when the context ends.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	// Archive routes come up only when the mode has object storage wired.
	var archiveHandler *handler.ArchiveHandler
	if deps.BlobReader != nil {
		archiveHandler = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	srv := server.NewServer(
		server.Config{
			Port:               a.cfg.Server.Port,
			CORSOrigins:        a.cfg.Server.CORSOrigins,
			APIKeys:            a.cfg.Server.APIKeys,
			RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
		},
		server.Handlers{
			Health:    handler.NewHealthHandler(time.Now().UTC()),
			Orders:    handler.NewOrderHandler(svcs.orders, a.logger),
			Positions: handler.NewPositionHandler(svcs.positions, a.logger),
			Book:      handler.NewBookHandler(svcs.books, a.logger),
			Candles:   handler.NewCandleHandler(deps.CandleCache, a.logger),
			Balances:  handler.NewBalanceHandler(svcs.accounts, a.logger),
			Archive:   archiveHandler,
		},
		hub,
		deps.RateLimiter,
		a.logger,
	)

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

// startFeed subscribes the depth feed to the configured pairs and
// timeframes.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies, bookSvc *service.BookService) error {
	pairs, err := a.tradedPairs()
	if err != nil {
		return err
	}
	timeframes, err := a.feedTimeframes()
	if err != nil {
		return err
	}

	depthFeed := feed.NewDepthFeed(
		a.cfg.Exchange.WsHost,
		pairs,
		timeframes,
		bookSvc,
		deps.PriceCache,
		deps.CandleCache,
		deps.SignalBus,
		a.logger,
	)
	g.Go(func() error {
		defer depthFeed.Close()
		return depthFeed.Run(ctx)
	})
	return nil
}

// startAlertWatcher bridges bus events to the configured notification
// channels. With no channels configured there is nothing to deliver and no
// watcher runs.
func (a *App) startAlertWatcher(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Notifier == nil || deps.Notifier.Channels() == 0 {
		return
	}
	watcher := notify.NewAlertWatcher(deps.SignalBus, deps.Notifier, a.logger)
	g.Go(func() error {
		return watcher.Run(ctx)
	})
}

// runStopMonitor scans open positions against their protective levels and
// settles breaches at the current mark. Exit fees are recorded as zero
// here; in a live deployment the exit order's fills carry the real fees.
func (a *App) runStopMonitor(ctx context.Context, positions *service.PositionService) error {
	logger := a.logger.With(slog.String("component", "stop_monitor"))
	ticker := time.NewTicker(stopScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		triggers, err := positions.CheckProtectiveLevels(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "protective scan failed",
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, trigger := range triggers {
			pos := trigger.Position
			noFee := domain.ZeroAmount(pos.Pair().Quote())
			if _, err := positions.ClosePosition(ctx, pos.ID(), trigger.Mark, noFee, trigger.Reason); err != nil {
				logger.ErrorContext(ctx, "protective close failed",
					slog.String("position_id", pos.ID()),
					slog.String("reason", string(trigger.Reason)),
					slog.String("error", err.Error()),
				)
				continue
			}
			logger.InfoContext(ctx, "protective level hit",
				slog.String("position_id", pos.ID()),
				slog.String("pair", pos.Pair().Symbol()),
				slog.String("reason", string(trigger.Reason)),
				slog.String("mark", trigger.Mark.String()),
			)
		}
	}
}

// tradedPairs parses the configured pair symbols.
func (a *App) tradedPairs() ([]domain.TradingPair, error) {
	pairs := make([]domain.TradingPair, 0, len(a.cfg.Trading.Pairs))
	for _, symbol := range a.cfg.Trading.Pairs {
		pair, err := domain.ParsePair(symbol)
		if err != nil {
			return nil, fmt.Errorf("trading pair %q: %w", symbol, err)
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

// feedTimeframes parses the configured kline timeframes.
func (a *App) feedTimeframes() ([]domain.Timeframe, error) {
	timeframes := make([]domain.Timeframe, 0, len(a.cfg.Feed.Timeframes))
	for _, name := range a.cfg.Feed.Timeframes {
		tf, err := domain.ParseTimeframe(name)
		if err != nil {
			return nil, fmt.Errorf("feed timeframe %q: %w", name, err)
		}
		timeframes = append(timeframes, tf)
	}
	return timeframes, nil
}
