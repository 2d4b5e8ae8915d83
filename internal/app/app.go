// Package app provides the main application struct for centralized
// dependency management and lifecycle control of the gachavault pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"gachavault/config"
	"gachavault/internal/core"
	"gachavault/internal/gachaclient"
	"gachavault/internal/gachaurl"
	"gachavault/internal/gamedata"
	"gachavault/internal/orchestrator"
	"gachavault/internal/records"
	"gachavault/internal/server"
	"gachavault/internal/storage"
	"gachavault/internal/urlcache"
	"gachavault/internal/validator"
)

// App holds the assembled pipeline. The caller must call Shutdown to release
// resources.
type App struct {
	config *config.Config

	storage      storage.Storage
	recordStore  core.RecordStore
	urlCache     urlcache.Cache
	client       *gachaclient.Client
	validator    *validator.Validator
	orchestrator *orchestrator.Orchestrator
	urls         *urlSource
	server       *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// New assembles the application from its configuration. Storage and url
// cache are connected eagerly so misconfiguration surfaces at startup, not
// on the first pull.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	a := &App{config: cfg}

	st, err := storage.New(ctx, storageConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}
	a.storage = st

	recordStore, err := records.New(st)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("initialize record store: %w", err), st.Close())
	}
	a.recordStore = recordStore

	cache, err := newURLCache(cfg)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("initialize url cache: %w", err), recordStore.Close(), st.Close())
	}
	a.urlCache = cache

	a.client = gachaclient.New(gachaclient.Config{
		UserAgent:      cfg.Fetch.UserAgent,
		MaxAttempts:    cfg.Fetch.MaxAttempts,
		InitialBackoff: cfg.Fetch.InitialBackoff.Std(),
		MaxBackoff:     cfg.Fetch.MaxBackoff.Std(),
	})
	a.validator = validator.New(cache, a.client)
	a.orchestrator = orchestrator.New(a.client, recordStore)
	a.orchestrator.PageDelay = cfg.Fetch.PageDelay.Std()
	a.urls = &urlSource{finder: gamedata.New(), overrides: cfg.GameDataDirs}

	a.server = server.New(a.urls, a.validator, a.orchestrator, recordStore)

	slog.Info("application initialized",
		"storage", cfg.Storage.Type,
		"url_cache", cfg.Cache.Type,
	)
	return a, nil
}

// URLSource returns the local url recovery collaborator.
func (a *App) URLSource() server.URLSource { return a.urls }

// Validator returns the url validator.
func (a *App) Validator() *validator.Validator { return a.validator }

// Orchestrator returns the pull orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orchestrator }

// Records returns the record store.
func (a *App) Records() core.RecordStore { return a.recordStore }

// Client returns the remote API client.
func (a *App) Client() *gachaclient.Client { return a.client }

// Start starts the HTTP server on the given address. Blocks until the
// server stops.
func (a *App) Start(addr string) error {
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown tears down components in dependency order: HTTP server first,
// then the url cache, then persistence. Idempotent; repeated calls are
// no-ops. Every close step runs even when an earlier one fails.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}
	if a.urlCache != nil {
		if err := a.urlCache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("url cache close: %w", err))
		}
	}
	if a.recordStore != nil {
		if err := a.recordStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("record store close: %w", err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	slog.Info("application shutdown complete")
	return nil
}

func storageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Type:   cfg.Storage.Type,
		SQLite: storage.SQLiteConfig{Path: cfg.Storage.SQLitePath},
		PostgreSQL: storage.PostgreSQLConfig{
			URL:      cfg.Storage.PostgresURL,
			MaxConns: cfg.Storage.PostgresMaxConns,
		},
		MongoDB: storage.MongoDBConfig{
			URL:      cfg.Storage.MongoURI,
			Database: cfg.Storage.MongoDatabase,
		},
	}
}

func newURLCache(cfg *config.Config) (urlcache.Cache, error) {
	if cfg.Cache.Type == "redis" {
		return urlcache.NewRedisCache(urlcache.RedisConfig{URL: cfg.Cache.RedisURL})
	}
	return urlcache.NewMemoryCache(), nil
}

// urlSource resolves the game data directory, preferring a configured
// override over log-file discovery, and extracts candidate urls from its
// browser cache.
type urlSource struct {
	finder    gamedata.Finder
	overrides map[string]string
}

func (s *urlSource) FindGachaURLs(facet core.Facet, skipExpired bool) ([]core.GachaURL, error) {
	dir, ok := s.overrides[string(facet)]
	if !ok || dir == "" {
		var err error
		dir, err = s.finder.FindDataDir(facet)
		if err != nil {
			return nil, err
		}
	}
	return gachaurl.FindGachaURLs(dir, facet, skipExpired)
}
