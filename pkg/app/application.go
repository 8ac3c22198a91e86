package app

import (
	"log/slog"
	"os"
	"time"

	"github.com/unzipq/unzipq/internal/metrics"
	"github.com/unzipq/unzipq/internal/quark"
	"github.com/unzipq/unzipq/internal/resolver"
	"github.com/unzipq/unzipq/internal/retry"
	"github.com/unzipq/unzipq/internal/services"
	"github.com/unzipq/unzipq/pkg/config"
)

type Application struct {
	Config   *config.Config
	Logger   *slog.Logger
	LogLevel *slog.LevelVar
	API      quark.API
	Paths    services.PathResolver
	Extract  services.ExtractService
	Organize services.OrganizeService
	Cleanup  services.CleanupService
	Batch    services.BatchService
	Hooks    services.RunHooks
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithDriveAPI sets a custom drive client
func WithDriveAPI(api quark.API) ApplicationOption {
	return func(app *Application) error {
		app.API = api
		return nil
	}
}

// WithRunHooks sets lifecycle hooks, used by the CLI for progress output
func WithRunHooks(hooks services.RunHooks) ApplicationOption {
	return func(app *Application) error {
		app.Hooks = hooks
		return nil
	}
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	app := &Application{Config: cfg}

	// Apply options before wiring: hooks and a replacement client feed the
	// service constructors below.
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	// Logs go to stderr so stdout stays clean for reports and progress.
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler).With("service", "unzipq")
	slog.SetDefault(logger)
	app.Logger = logger
	app.LogLevel = level

	if app.API == nil {
		app.API = quark.New(quark.Options{
			BaseURL:           cfg.BaseURL,
			Cookie:            cfg.Cookie,
			PageSize:          cfg.PageSize,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
			Logger:            logger,
		})
	}

	retryCfg := retry.Config{
		MaxAttempts: cfg.MaxAttempts,
		Policy:      cfg.BackoffPolicy,
		Base:        time.Duration(cfg.BackoffBaseSeconds) * time.Second,
		Max:         time.Duration(cfg.BackoffMaxSeconds) * time.Second,
	}

	app.Paths = resolver.New(app.API, logger)
	app.Extract = services.NewExtractService(
		app.API,
		retryCfg,
		time.Duration(cfg.PollBaseSeconds)*time.Second,
		time.Duration(cfg.PollMaxSeconds)*time.Second,
		time.Duration(cfg.PollBudgetSeconds)*time.Second,
		nil,
		nil,
		logger,
	)
	app.Organize = services.NewOrganizeService(app.API, retryCfg, nil, logger)
	app.Cleanup = services.NewCleanupService(app.API, retryCfg, nil, logger)
	app.Batch = services.NewBatchService(
		app.API,
		app.Paths,
		app.Extract,
		app.Organize,
		app.Cleanup,
		cfg.Extensions,
		cfg.Concurrency,
		retryCfg,
		app.Hooks,
		nil,
		logger,
	)

	metrics.RegisterRunCollector(app.Batch.Snapshot)

	return app, nil
}
