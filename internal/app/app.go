// Package app wires the configuration into a ready to use runner, publication store and
// run history.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/w3c/groups-server/internal/collector"
	"github.com/w3c/groups-server/internal/config"
	"github.com/w3c/groups-server/internal/directory"
	"github.com/w3c/groups-server/internal/logging"
	"github.com/w3c/groups-server/internal/metrics"
	"github.com/w3c/groups-server/internal/paging"
	"github.com/w3c/groups-server/internal/publish"
	"github.com/w3c/groups-server/internal/reconciler"
	"github.com/w3c/groups-server/internal/settings"
	"github.com/w3c/groups-server/internal/storage"
	"github.com/w3c/groups-server/internal/storage/postgres"
	"github.com/w3c/groups-server/internal/storage/sqlite"
)

// App holds the long lived components of the service
type App struct {
	Config   *config.Config
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Settings *settings.Loader
	Store    *publish.Store
	History  storage.Storage
	Runner   *reconciler.Runner
}

// OpenStorage opens the run history selected by the configuration
func OpenStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageType {
	case "postgres":
		return postgres.NewPostgresStorage(cfg.PostgresURL)
	default:
		return sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
}

// New builds the application. ctx is the lifetime of triggered cycles.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hosting, err := collector.NewGitHubCollector(cfg.GitHubToken,
		collector.WithAPIURL(cfg.GitHubAPIURL),
		collector.WithGraphQLURL(cfg.GitHubGraphQLURL),
		collector.WithRetryPolicy(retryPolicy(ctx, m, "github")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}

	dir := directory.NewClient(cfg.W3CAPIURL, directory.WithRetryPolicy(retryPolicy(ctx, m, "w3c")))

	loader := settings.NewLoader(cfg.SettingsFile, cfg.SettingsURL, settings.Default(cfg.RefreshCycle),
		&http.Client{Timeout: 30 * time.Second})

	var storeOpts []publish.Option
	storeOpts = append(storeOpts, publish.WithMetrics(m))
	if cfg.Production {
		owner, name := cfg.PublishOwnerRepo()
		storeOpts = append(storeOpts, publish.WithRemote(hosting, owner, name, cfg.PublishBranch))
	}
	store := publish.NewStore(cfg.Destination, storeOpts...)

	history, err := OpenStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}

	runner := reconciler.NewRunner(hosting, dir, loader, store,
		reconciler.WithHistory(history),
		reconciler.WithMetrics(m),
		reconciler.WithBaseContext(ctx),
	)

	return &App{
		Config:   cfg,
		Registry: reg,
		Metrics:  m,
		Settings: loader,
		Store:    store,
		History:  history,
		Runner:   runner,
	}, nil
}

// Scheduler returns the refresh loop; in debug mode it runs a single cycle
func (a *App) Scheduler() *reconciler.Scheduler {
	return reconciler.NewScheduler(a.Runner, func() time.Duration {
		return reconciler.RefreshInterval(a.Settings.Current().RefreshCycle)
	}, reconciler.RunOnce(a.Config.Debug))
}

// Close releases the run history
func (a *App) Close() error {
	return a.History.Close()
}

func retryPolicy(ctx context.Context, m *metrics.Metrics, upstream string) paging.RetryPolicy {
	p := paging.DefaultRetryPolicy()
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		m.IncRetry(upstream)
		logging.FromContext(ctx).Warn().
			Err(err).
			Str("upstream", upstream).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("rate limited, retrying")
	}
	return p
}
