// Package reconciler runs the reconciliation cycle: it loads the groups and the repositories
// they claim, resolves the manifest group references and publishes the resulting artifacts.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/w3c/groups-server/internal/aggregator"
	"github.com/w3c/groups-server/internal/catalog"
	"github.com/w3c/groups-server/internal/directory"
	"github.com/w3c/groups-server/internal/domain"
	"github.com/w3c/groups-server/internal/groups"
	"github.com/w3c/groups-server/internal/logging"
	"github.com/w3c/groups-server/internal/metrics"
	"github.com/w3c/groups-server/internal/publish"
	"github.com/w3c/groups-server/internal/settings"
	"github.com/w3c/groups-server/internal/storage"
)

// Trigger sources recorded with each run
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerCLI      = "cli"
)

// ErrNoGroups aborts a cycle when the directory returns no open group
var ErrNoGroups = errors.New("no groups loaded from the directory")

// SettingsSource provides the cycle settings
type SettingsSource interface {
	// Load reloads the settings; on failure it returns the previous ones with the error
	Load(ctx context.Context) (settings.Settings, error)
}

// Publisher persists the artifacts of a cycle
type Publisher interface {
	Save(ctx context.Context, relPath string, value any) (bool, error)
	SaveGroupRepositories(ctx context.Context, g *domain.Group, direct, indirect []*domain.Repository) (int, error)
}

// Alerter notifies operators of failed cycles
type Alerter interface {
	Alert(ctx context.Context, run *domain.CycleRun, err error)
}

// LogAlerter reports failed cycles through the logger
type LogAlerter struct{}

// Alert logs the failure
func (LogAlerter) Alert(ctx context.Context, run *domain.CycleRun, err error) {
	logging.FromContext(ctx).Error().
		Err(err).
		Str("run_id", run.ID).
		Str("phase", string(run.Phase)).
		Msg("refresh cycle failed")
}

// Runner executes reconciliation cycles, one at a time
type Runner struct {
	hosting    catalog.Source
	directory  directory.Client
	settings   SettingsSource
	publisher  Publisher
	history    storage.Storage
	alerter    Alerter
	metrics    *metrics.Metrics
	aggregator aggregator.Aggregator
	baseCtx    context.Context
	now        func() time.Time

	flight singleflight.Group

	mu   sync.RWMutex
	last *domain.CycleRun
}

// Option configures a Runner
type Option func(*Runner)

// WithHistory records every run in s
func WithHistory(s storage.Storage) Option {
	return func(r *Runner) { r.history = s }
}

// WithAlerter replaces the log based alerter
func WithAlerter(a Alerter) Option {
	return func(r *Runner) { r.alerter = a }
}

// WithMetrics records cycle metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithBaseContext sets the context used by Trigger
func WithBaseContext(ctx context.Context) Option {
	return func(r *Runner) { r.baseCtx = ctx }
}

// WithClock sets the time source used to stamp runs
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a runner
func NewRunner(hosting catalog.Source, dir directory.Client, src SettingsSource, pub Publisher, opts ...Option) *Runner {
	r := &Runner{
		hosting:    hosting,
		directory:  dir,
		settings:   src,
		publisher:  pub,
		alerter:    LogAlerter{},
		aggregator: aggregator.NewAggregator(),
		baseCtx:    context.Background(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Last returns the most recent finished run, or nil
func (r *Runner) Last() *domain.CycleRun {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return nil
	}
	c := *r.last
	return &c
}

// Trigger starts a cycle in the background and returns at once. A trigger arriving while
// a cycle runs joins that cycle.
func (r *Runner) Trigger(trigger string) {
	go func() {
		if _, err := r.Run(r.baseCtx, trigger); err != nil {
			logging.FromContext(r.baseCtx).Debug().Err(err).Msg("triggered cycle failed")
		}
	}()
}

// Run executes one cycle and returns its record. Callers arriving while a cycle is in
// progress wait for it and share its outcome.
func (r *Runner) Run(ctx context.Context, trigger string) (*domain.CycleRun, error) {
	v, err, shared := r.flight.Do("cycle", func() (any, error) {
		run, err := r.execute(ctx, trigger)
		return run, err
	})
	if shared {
		logging.FromContext(ctx).Debug().Str("trigger", trigger).Msg("joined the cycle in progress")
	}
	run, _ := v.(*domain.CycleRun)
	if run != nil {
		c := *run
		run = &c
	}
	return run, err
}

func (r *Runner) execute(ctx context.Context, trigger string) (run *domain.CycleRun, err error) {
	start := r.now()
	run = &domain.CycleRun{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		Status:    domain.RunStatusInProgress,
		Phase:     domain.PhaseIdle,
		StartedAt: start.UTC(),
	}

	log := logging.FromContext(ctx).With().Str("run_id", run.ID).Logger()
	ctx = logging.WithLogger(ctx, log)
	log.Info().Str("trigger", trigger).Msg("starting a cycle")
	r.record(ctx, run)

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("cycle panicked: %v", p)
		}
		r.finish(ctx, run, start, err)
	}()

	err = r.cycle(ctx, run)
	return run, err
}

func (r *Runner) finish(ctx context.Context, run *domain.CycleRun, start time.Time, err error) {
	log := logging.FromContext(ctx)
	finished := r.now().UTC()
	run.FinishedAt = &finished

	if err != nil {
		run.Status = domain.RunStatusFailed
		run.Error = err.Error()
		r.alerter.Alert(ctx, run, err)
	} else {
		run.Status = domain.RunStatusCompleted
		log.Info().
			Int("groups", run.Groups).
			Int("repositories", run.Repositories).
			Int("artifacts_written", run.ArtifactsWritten).
			Dur("duration", finished.Sub(start)).
			Msg("cycle completed")
	}
	r.metrics.ObserveCycle(string(run.Status), start)
	r.record(ctx, run)

	r.mu.Lock()
	c := *run
	r.last = &c
	r.mu.Unlock()
}

// record stores the run; history failures never fail a cycle
func (r *Runner) record(ctx context.Context, run *domain.CycleRun) {
	if r.history == nil {
		return
	}
	if err := r.history.SaveRun(ctx, run); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Msg("could not record run")
	}
}

func (r *Runner) enter(ctx context.Context, run *domain.CycleRun, phase domain.Phase) {
	run.Phase = phase
	logging.FromContext(ctx).Debug().Str("phase", string(phase)).Msg("entering phase")
}

func (r *Runner) cycle(ctx context.Context, run *domain.CycleRun) error {
	log := logging.FromContext(ctx)

	current, err := r.settings.Load(ctx)
	if err != nil {
		log.Error().Err(err).Msg("invalid settings, keeping the previous ones")
	}

	r.enter(ctx, run, domain.PhaseLoadGroups)
	listed, err := groups.ListOpenGroups(ctx, r.directory)
	if len(listed) == 0 {
		if err != nil {
			return fmt.Errorf("%w: %w", ErrNoGroups, err)
		}
		return ErrNoGroups
	}
	if err != nil {
		log.Warn().Err(err).Int("groups", len(listed)).Msg("group listing incomplete")
	}
	groupCatalog := groups.NewCatalog(listed)
	log.Info().Int("groups", len(listed)).Msg("loaded groups")

	r.enter(ctx, run, domain.PhaseLoadServices)
	implied := serviceClaims(ctx, r.directory, listed)

	r.enter(ctx, run, domain.PhaseExpandOwnerClaims)
	claims := make([]domain.OwnershipClaim, 0, len(current.Owners)+len(implied))
	claims = append(claims, current.Owners...)
	claims = append(claims, implied...)
	log.Debug().Int("configured", len(current.Owners)).Int("implied", len(implied)).Msg("ownership claims")

	r.enter(ctx, run, domain.PhaseBuildRepositoryCatalog)
	repos := catalog.NewBuilder(r.hosting).Build(ctx, claims)
	run.Repositories = len(repos)
	log.Info().Int("repositories", len(repos)).Msg("loaded repositories")

	r.enter(ctx, run, domain.PhaseResolveGroupReferences)
	resolver := groups.NewResolver(groupCatalog, r.directory, r.metrics)
	for _, repo := range repos {
		refs := repo.GroupRefs()
		if len(refs) == 0 {
			continue
		}
		resolved := resolver.ResolveAll(ctx, refs)
		if len(resolved) < len(refs) {
			log.Debug().Str("repository", repo.FullName()).Int("dropped", len(refs)-len(resolved)).Msg("unresolved group references")
		}
		if len(resolved) == 0 {
			resolved = nil
		}
		repo.Manifest.Group = resolved
	}
	allGroups := groupCatalog.Groups()
	run.Groups = len(allGroups)

	r.enter(ctx, run, domain.PhaseComputeAssociations)
	groupRepos := r.aggregator.GroupRepositories(repos)
	identifiers := r.aggregator.Identifiers(allGroups)
	bundles := r.aggregator.Associate(allGroups, repos)
	run.GroupRepositories = len(groupRepos)

	r.enter(ctx, run, domain.PhasePublish)
	if err := r.publish(ctx, run, repos, groupRepos, allGroups, identifiers, bundles); err != nil {
		return err
	}
	r.metrics.SetRepositories(len(repos))
	return nil
}

func (r *Runner) publish(
	ctx context.Context,
	run *domain.CycleRun,
	repos, groupRepos []*domain.Repository,
	allGroups []*domain.Group,
	identifiers []domain.GroupIdentifier,
	bundles []aggregator.Bundle,
) error {
	log := logging.FromContext(ctx)

	save := func(relPath string, value any) error {
		changed, err := r.publisher.Save(ctx, relPath, value)
		if err != nil {
			return fmt.Errorf("publish %s: %w", relPath, err)
		}
		if changed {
			run.ArtifactsWritten++
		}
		return nil
	}

	if err := save(publish.AllRepositories, repos); err != nil {
		return err
	}
	if err := save(publish.Identifiers, identifiers); err != nil {
		return err
	}
	if len(groupRepos) > 0 {
		if err := save(publish.GroupRepositories, groupRepos); err != nil {
			return err
		}
	} else {
		log.Error().Msg("no group repositories found")
	}
	if err := save(publish.Groups, allGroups); err != nil {
		return err
	}

	for _, b := range bundles {
		written, err := r.publisher.SaveGroupRepositories(ctx, b.Group, b.Direct, b.Indirect)
		run.ArtifactsWritten += written
		if err != nil {
			return fmt.Errorf("publish %s: %w", b.Group.Identifier, err)
		}
	}
	return nil
}
