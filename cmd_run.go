package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"autotrade-core/internal/api"
	"autotrade-core/internal/engine"
	"autotrade-core/internal/events"
	"autotrade-core/internal/ledger"
	"autotrade-core/internal/monitor"
	"autotrade-core/internal/persistence"
	"autotrade-core/internal/state"
	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/broker/bridge"
	"autotrade-core/pkg/broker/sim"
	"autotrade-core/pkg/config"
	"autotrade-core/pkg/db"
	"autotrade-core/pkg/i18n"
	"autotrade-core/pkg/logging"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run trading sessions until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTrading(cmd.Context())
		},
	}
}

// bootstrap loads config and opens the logger and database shared by commands.
func bootstrap() (*config.Config, *zap.Logger, *db.Database, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf(i18n.Get("ConfigLoadFailed"), err)
	}
	i18n.SetLanguage(i18n.Language(cfg.Language))

	logger, syncLog, err := logging.New(logging.Options{
		Level:       cfg.LogLevel,
		Development: cfg.LogDev,
		ErrorLogDir: cfg.LogDir,
	})
	if err != nil {
		return nil, nil, nil, nil, err
	}

	logger.Info(fmt.Sprintf(i18n.Get("UsingDBPath"), cfg.DBPath))
	database, err := db.New(cfg.DBPath)
	if err != nil {
		syncLog()
		return nil, nil, nil, nil, fmt.Errorf(i18n.Get("DBInitFailed"), err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		database.Close()
		syncLog()
		return nil, nil, nil, nil, fmt.Errorf(i18n.Get("DBMigrationsFailed"), err)
	}

	cleanup := func() {
		database.Close()
		syncLog()
	}
	return cfg, logger, database, cleanup, nil
}

func runTrading(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, database, cleanup, err := bootstrap()
	if err != nil {
		return err
	}
	defer cleanup()
	logger.Info(i18n.Get("Starting"))

	universe, err := config.LoadInstruments(cfg.InstrumentsFile)
	if err != nil {
		return err
	}
	logger.Info(fmt.Sprintf(i18n.Get("InstrumentsLoaded"), len(universe.List)))

	writer := persistence.NewBatchWriter(database.DB, 50, 500*time.Millisecond, logger)
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Error("close batch writer", zap.Error(err))
		}
	}()

	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()
	(&monitor.Monitor{Bus: bus, Sink: monitor.LogSink{Log: logger}, Log: logger}).Start(ctx)

	current := &sessionRef{}
	if cfg.APIAddr != "" {
		srv := api.NewServer(api.Options{
			Session:     current,
			Bus:         bus,
			History:     database,
			TokenSecret: cfg.APITokenSecret,
			Logger:      logger,
		})
		go func() {
			if err := srv.Run(ctx, cfg.APIAddr); err != nil {
				logger.Error(fmt.Sprintf(i18n.Get("APIServerError"), err))
			}
		}()
	}

	openAt, _ := config.ParseClock(cfg.MarketOpen)
	closeAt, _ := config.ParseClock(cfg.MarketClose)
	for {
		if cfg.RestartAfterClose {
			if wait := untilOpen(time.Now(), openAt, closeAt); wait > 0 {
				logger.Info(fmt.Sprintf(i18n.Get("WaitingForOpen"), wait.Round(time.Second)))
				select {
				case <-ctx.Done():
					logger.Info(i18n.Get("ShuttingDown"))
					return nil
				case <-time.After(wait):
				}
			}
		}

		gw, err := newGateway(ctx, cfg, logger)
		if err != nil {
			return err
		}
		logger.Info(fmt.Sprintf(i18n.Get("GatewayConnected"), cfg.Gateway))

		sess, err := engine.New(cfg, engine.Deps{
			Gateway:   gw,
			Universe:  universe,
			Bus:       bus,
			Metrics:   metrics,
			Writer:    writer,
			Holdings:  state.NewStore(database),
			Snapshots: database,
			Logger:    logger,
		})
		if err != nil {
			gw.Close()
			return err
		}
		current.set(sess)

		logger.Info(i18n.Get("SessionStarting"))
		err = sess.Run(ctx)
		logger.Info(fmt.Sprintf(i18n.Get("SessionEnded"), err))

		switch {
		case ctx.Err() != nil:
			logger.Info(i18n.Get("ShuttingDown"))
			return nil
		case errors.Is(err, engine.ErrMarketClosed) && cfg.RestartAfterClose:
			continue
		case errors.Is(err, engine.ErrMarketClosed):
			return nil
		default:
			return err
		}
	}
}

func newGateway(ctx context.Context, cfg *config.Config, logger *zap.Logger) (broker.Gateway, error) {
	switch cfg.Gateway {
	case "bridge":
		return bridge.Dial(ctx, bridge.Options{
			URL:               cfg.BridgeURL,
			RequestsPerSecond: cfg.RequestsPerSecond,
			CallTimeout:       cfg.RequestTimeout,
			Logger:            logger,
		})
	default:
		return sim.New(sim.Config{
			Cash:          cfg.SimInitialCash,
			HistoryLength: cfg.SimHistoryLength,
			TickInterval:  cfg.SimTickInterval,
			Reject:        cfg.SimRejectCodes,
		}), nil
	}
}

// untilOpen returns how long to wait for the next [open, close] window.
func untilOpen(now time.Time, openAt, closeAt time.Duration) time.Duration {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	off := now.Sub(midnight)
	switch {
	case off < openAt:
		return openAt - off
	case off > closeAt:
		return midnight.AddDate(0, 0, 1).Add(openAt).Sub(now)
	default:
		return 0
	}
}

// sessionRef lets the status API follow the session across restarts.
type sessionRef struct {
	p atomic.Pointer[engine.Session]
}

func (r *sessionRef) set(s *engine.Session) { r.p.Store(s) }

func (r *sessionRef) Status(ctx context.Context) engine.Status {
	if s := r.p.Load(); s != nil {
		return s.Status(ctx)
	}
	return engine.Status{Phase: "idle"}
}

func (r *sessionRef) Positions(ctx context.Context) []engine.Position {
	if s := r.p.Load(); s != nil {
		return s.Positions(ctx)
	}
	return []engine.Position{}
}

func (r *sessionRef) Trades(ctx context.Context) []ledger.TradeRecord {
	if s := r.p.Load(); s != nil {
		return s.Trades(ctx)
	}
	return []ledger.TradeRecord{}
}

func (r *sessionRef) DailyProfit(ctx context.Context) []ledger.DailyProfit {
	if s := r.p.Load(); s != nil {
		return s.DailyProfit(ctx)
	}
	return []ledger.DailyProfit{}
}
