package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/config"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/database"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/logger"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/reconcile"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/state"
)

// app holds what every mode shares: configuration, the logger and the
// state store.
type app struct {
	cfg   *config.Config
	log   *logger.Logger
	db    *database.DB
	store *state.Store
}

func newApp(ctx context.Context, opts *options, mode string) (*app, error) {
	cfg, err := config.Load(opts.configPath, opts.envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// One-off commands keep stdout for their own output.
	var out io.Writer = os.Stdout
	if mode != modeScheduler && mode != modeWeb {
		out = os.Stderr
	}
	log := logger.New(logger.Config{
		Level:           cfg.Logging.Level,
		Format:          cfg.Logging.Format,
		Path:            cfg.Logging.Path,
		MaxSizeMB:       cfg.Logging.MaxSizeMB,
		MaxBackups:      cfg.Logging.MaxBackups,
		MaxAgeDays:      cfg.Logging.MaxAgeDays,
		Compress:        cfg.Logging.Compress,
		EnableStreaming: mode == modeWeb,
		BufferSize:      1000,
		Output:          out,
	})

	log.Info().
		Str("version", config.Version).
		Str("mode", mode).
		Str("database", cfg.Database.Path).
		Msg("Starting trakt2emby")

	if err := os.MkdirAll(cfg.Database.DataDir(), 0o755); err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := database.New(cfg.Database.Path)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		log.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	store := state.New(db.Conn(), cfg.SettingDefaults(), log.Logger)
	if err := store.EnableEncryption(ctx, cfg.Security.Secret); err != nil {
		db.Close()
		log.Close()
		return nil, fmt.Errorf("failed to enable credential encryption: %w", err)
	}

	a := &app{cfg: cfg, log: log, db: db, store: store}
	if err := a.importLists(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// importLists seeds the mappings table from trakt_lists.
func (a *app) importLists(ctx context.Context) error {
	raw, err := a.store.Get(ctx, state.KeyTraktLists)
	if err != nil {
		return fmt.Errorf("failed to read trakt_lists: %w", err)
	}
	n, err := a.store.ImportMappings(ctx, raw)
	if err != nil {
		return fmt.Errorf("failed to import trakt_lists: %w", err)
	}
	if n > 0 {
		a.log.Info().Int("mappings", n).Msg("Imported list mappings")
	}
	return nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to close database")
	}
	a.log.Close()
}

func (a *app) reconciler() *reconcile.Service {
	clients := reconcile.Clients(a.cfg, a.store, a.log.WithComponent("clients"))
	return reconcile.NewService(a.store, clients, a.cfg.Sync.LockTTL, a.log.Logger)
}

func (a *app) checker() *reconcile.Checker {
	probes := reconcile.Probes(a.cfg, a.store, a.log.WithComponent("clients"))
	return reconcile.NewChecker(a.store, probes, a.log.Logger)
}

// requireSettings fails when required settings are missing.
func (a *app) requireSettings(ctx context.Context) (*state.Settings, error) {
	settings, err := a.store.LoadSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if missing := settings.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", reconcile.ErrMissingConfig, missing)
	}
	return settings, nil
}
