// Command tradeserver runs the multi-client trading server. Accounts and portfolios are
// loaded from flat-file databases, every mutation is journaled, and the databases are
// rewritten on shutdown.
//
// Usage:
//
//	tradeserver --config tradeserver.yaml
//	tradeserver --port 5001 --datadir "Server Database"
//	tradeserver --setup
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/tradeserver/config"
	"github.com/vadiminshakov/tradeserver/internal/registry"
	"github.com/vadiminshakov/tradeserver/internal/server"
	"github.com/vadiminshakov/tradeserver/internal/setup"
	"github.com/vadiminshakov/tradeserver/internal/storage/flatfile"
	"github.com/vadiminshakov/tradeserver/internal/storage/journal"
	"github.com/vadiminshakov/tradeserver/internal/web"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	if cfg.Setup {
		path, err := setup.RunTUI(cfg.ConfigPath)
		if err != nil {
			log.Fatal(err)
		}
		if cfg, err = config.Parse([]string{"--config", path}); err != nil {
			log.Fatal(err)
		}
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("tradeserver failed", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, err := flatfile.NewStore(cfg.DataDir, cfg.UserDatabase, cfg.PortfolioDatabase)
	if err != nil {
		return err
	}
	users, portfolios, err := store.Load()
	if err != nil {
		return errors.Wrap(err, "load databases")
	}
	checkpoint, err := store.Checkpoint()
	if err != nil {
		return err
	}

	j, err := journal.NewWALStore(cfg.JournalDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := j.Close(); err != nil {
			logger.Warn("failed to close journal", zap.Error(err))
		}
	}()

	reg := registry.New(
		registry.WithAutoRegister(cfg.AutoRegister),
		registry.WithJournal(j),
		registry.WithLogger(logger.Named("registry")),
	)
	if err := reg.Load(users, portfolios); err != nil {
		return err
	}
	last, err := j.Replay(checkpoint, reg)
	if err != nil {
		return errors.Wrap(err, "replay journal")
	}
	logger.Info("registry restored",
		zap.Int("accounts", reg.Len()),
		zap.Uint64("checkpoint", checkpoint),
		zap.Uint64("journal_index", last))

	srv := server.NewServer(cfg.Addr(), reg, server.SessionConfig{
		ReadTimeout:     cfg.ReadTimeout,
		OrdersPerSecond: cfg.OrdersPerSecond,
		OrdersBurst:     cfg.OrdersBurst,
	}, logger.Named("dispatcher"))
	if err := srv.Listen(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	if cfg.MonitorAddr != "" {
		monitor := web.NewServer(cfg.MonitorAddr, j, reg, srv, logger.Named("monitor"))
		g.Go(func() error {
			return monitor.Start(gctx)
		})
	}

	serveErr := g.Wait()

	savedUsers, savedPortfolios := reg.Snapshot()
	if err := store.Save(savedUsers, savedPortfolios, j.CurrentIndex()); err != nil {
		return errors.Wrap(err, "save databases")
	}
	logger.Info("databases saved", zap.Int("accounts", len(savedUsers)), zap.Uint64("checkpoint", j.CurrentIndex()))

	return serveErr
}
