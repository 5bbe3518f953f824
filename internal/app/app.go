package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"transient-alerts/internal/archive"
	"transient-alerts/internal/bus"
	"transient-alerts/internal/config"
	"transient-alerts/internal/consumer"
	"transient-alerts/internal/logging"
	"transient-alerts/internal/service"
	"transient-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output; logs go to Logger.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app"), Out: os.Stdout}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	if a.Config.Database.MigrateOnStart {
		if err := storage.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// requireStore opens the store or fails when no DSN is configured.
func (a *App) requireStore(ctx context.Context, purpose string) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, fmt.Errorf("database.dsn not configured; cannot %s", purpose)
	}
	return store, closeStore, nil
}

func (a *App) newArchiver(ctx context.Context) (archive.Archiver, error) {
	cfg := a.Config.Archive
	if !cfg.Enabled {
		a.Logger.Info().Msg("archive disabled; raw packets will not be uploaded")
		return archive.Nop{}, nil
	}

	uploader, err := archive.NewS3Uploader(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return archive.New(ctx, uploader, archive.Options{
		Workers:    cfg.Workers,
		QueueSize:  cfg.QueueSize,
		MaxRetries: cfg.MaxRetries,
		RetryBase:  cfg.RetryBase,
		Timeout:    cfg.Timeout,
	}, a.Logger), nil
}

func (a *App) closeArchiver(arch archive.Archiver) {
	timeout := a.Config.Archive.DrainTime
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := arch.Close(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("archive queue not fully drained")
	}
}

// Run consumes the alert bus until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.requireStore(ctx, "consume alerts")
	if err != nil {
		return err
	}
	defer closeStore()

	arch, err := a.newArchiver(ctx)
	if err != nil {
		return err
	}
	defer a.closeArchiver(arch)

	source, err := bus.Open(ctx, a.Config.Bus, a.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := source.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close bus source")
		}
	}()

	svc := service.New(a.Config, store, arch, a.Logger)
	cons := consumer.New(source, svc, consumer.Options{
		MessageTimeout: a.Config.Bus.MessageTimeout,
		BackoffInitial: a.Config.Bus.BackoffInitial,
		BackoffMax:     a.Config.Bus.BackoffMax,
	}, a.Logger)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer stop()
		return cons.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), a.Config.Bus.MessageTimeout)
		defer cancel()
		return cons.Stop(drainCtx)
	})

	a.Logger.Info().
		Str("driver", a.Config.Bus.Driver).
		Str("topic_pattern", a.Config.Bus.TopicPattern).
		Str("consumer_group", a.Config.Bus.ConsumerGroup).
		Msg("starting alert consumer")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("consumer terminated with error")
		return err
	}

	a.Logger.Info().Msg("alert consumer stopped")
	return nil
}

// Migrate applies pending schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := storage.Migrate(ctx, pool); err != nil {
		return err
	}
	a.Logger.Info().Msg("migrations applied")
	return nil
}

// IngestOptions configure the batch entry point.
type IngestOptions struct {
	Path   string
	DryRun bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// HistoryOptions configure the history command.
type HistoryOptions struct {
	Candid       int64
	RadiusArcsec float64
}

// LightCurveOptions hold parameters for exporting an alert's light curve.
type LightCurveOptions struct {
	Candid       int64
	RadiusArcsec float64
	PNGPath      string
	CSVPath      string
	MaxPoints    int
}

func (a *App) resolveRadius(override float64) float64 {
	if override > 0 {
		return override
	}
	return a.Config.Calibration.HistoryRadiusArcsec
}
