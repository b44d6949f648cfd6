package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lenslab/promptlens/internal/analysis"
	"github.com/lenslab/promptlens/internal/analysis/anthropic"
	"github.com/lenslab/promptlens/internal/analysis/openrouter"
	"github.com/lenslab/promptlens/internal/config"
	"github.com/lenslab/promptlens/internal/db"
	"github.com/lenslab/promptlens/internal/domain"
	"github.com/lenslab/promptlens/internal/hosting"
	"github.com/lenslab/promptlens/internal/hosting/imgbb"
	"github.com/lenslab/promptlens/internal/logging"
	"github.com/lenslab/promptlens/internal/previewstore"
	"github.com/lenslab/promptlens/internal/service"
	"github.com/lenslab/promptlens/internal/store"
)

// app holds the wired application: config, logger, database, stores, and the
// coordinator. Every subcommand builds one and closes it when done.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	database    *sql.DB
	settings    *store.SettingsStore
	records     *store.RecordStore
	previews    *previewstore.Store
	coordinator *service.Coordinator

	logCleanup func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()

	logger, logCleanup, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logCleanup()
		return nil, fmt.Errorf("open database: %w", err)
	}

	previews, err := previewstore.New(cfg.PreviewPath)
	if err != nil {
		_ = database.Close()
		logCleanup()
		return nil, fmt.Errorf("initialize preview store: %w", err)
	}

	settings := store.NewSettingsStore(database)
	records := store.NewRecordStore(database, settings)

	seedCredentials(ctx, cfg, settings, logger)

	coordinator := service.NewCoordinator(
		settings,
		records,
		previews,
		newAnalyzerFactory(cfg, logger),
		func(key string) hosting.Uploader { return imgbb.New(key) },
		logger,
	)

	return &app{
		cfg:         cfg,
		logger:      logger,
		database:    database,
		settings:    settings,
		records:     records,
		previews:    previews,
		coordinator: coordinator,
		logCleanup:  logCleanup,
	}, nil
}

func (a *app) Close() {
	if err := a.database.Close(); err != nil {
		a.logger.Error("failed to close database", "error", err)
	}
	a.logCleanup()
}

// seedCredentials primes an empty credentials row from the environment so a
// fresh deployment can analyze without a settings round-trip first. Stored
// credentials always win.
func seedCredentials(ctx context.Context, cfg *config.Config, settings *store.SettingsStore, logger *slog.Logger) {
	if cfg.OpenRouterKey == "" && cfg.ImgBBKey == "" {
		return
	}
	creds := settings.GetCredentials(ctx)
	if creds.OpenRouterKey != "" || creds.ImgBBKey != "" {
		return
	}
	logger.Info("seeding credentials from environment")
	settings.SaveCredentials(ctx, domain.Credentials{
		OpenRouterKey: cfg.OpenRouterKey,
		ImgBBKey:      cfg.ImgBBKey,
	})
}

// newAnalyzerFactory selects the analysis backend. OpenRouter reads its key
// from the stored credentials; the Anthropic backend is keyed from the
// environment only.
func newAnalyzerFactory(cfg *config.Config, logger *slog.Logger) service.AnalyzerFactory {
	switch cfg.AnalysisBackend {
	case "anthropic":
		logger.Info("using Anthropic analysis backend", "model", cfg.AnthropicModel)
		return func(domain.Credentials) (analysis.Analyzer, error) {
			if cfg.AnthropicAPIKey == "" {
				return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY is not set", analysis.ErrNoKey)
			}
			return anthropic.New(cfg.AnthropicAPIKey, anthropic.WithModel(cfg.AnthropicModel)), nil
		}
	default:
		logger.Info("using OpenRouter analysis backend")
		return func(creds domain.Credentials) (analysis.Analyzer, error) {
			if creds.OpenRouterKey == "" {
				return nil, fmt.Errorf("%w: configure an OpenRouter API key first", analysis.ErrNoKey)
			}
			var opts []openrouter.Option
			if cfg.OpenRouterModel != "" {
				opts = append(opts, openrouter.WithModel(cfg.OpenRouterModel))
			}
			return openrouter.New(creds.OpenRouterKey, opts...), nil
		}
	}
}
