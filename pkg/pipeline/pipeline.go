// Package pipeline composes the rate limiter, CRM client, pager,
// distributor and aggregation engine into the public ingestion surface
// consumed by the dashboard.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gcsops/crm-pipeline/pkg/aggregate"
	"github.com/gcsops/crm-pipeline/pkg/cache"
	"github.com/gcsops/crm-pipeline/pkg/crm"
	"github.com/gcsops/crm-pipeline/pkg/fetch"
	"github.com/gcsops/crm-pipeline/pkg/progress"
	"github.com/gcsops/crm-pipeline/pkg/ratelimit"
)

// Config holds the pipeline configuration. The owner set is fixed external
// configuration, never discovered from the API.
type Config struct {
	// CRM is the API client configuration (base URL, credential).
	CRM crm.Config

	// OwnerIDs is the fixed set of owners to fetch deals for.
	OwnerIDs []string

	// PageSize for paginated list requests.
	PageSize int

	// Workers is the worker pool size for owner and deal fan-out.
	Workers int

	// Limiter bounds concurrency and start rate of API calls.
	Limiter ratelimit.Config

	// CacheTTL is the freshness window for the computed aggregate.
	CacheTTL time.Duration

	// ExcludedOwnerIDs drops synthetic operator accounts from the output.
	ExcludedOwnerIDs []string

	// ExcludedNameSubstrings drops owners by display-name match.
	ExcludedNameSubstrings []string

	// EmitEvery throttles worker progress events to every Kth item.
	EmitEvery int

	// Progress receives events from cache-triggered recomputations.
	// FetchUsers and FetchAggregates take their sink explicitly.
	Progress progress.Sink
}

// Validate reports fatal configuration errors before any fetch begins.
func (c *Config) Validate() error {
	if c.CRM.BaseURL == "" {
		return crm.ErrMissingBaseURL
	}
	if c.CRM.Token == "" {
		return crm.ErrMissingToken
	}
	if len(c.OwnerIDs) == 0 {
		return fmt.Errorf("pipeline: owner id set is required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.Workers <= 0 {
		c.Workers = 20
	}
	if c.Limiter.MaxConcurrent <= 0 && c.Limiter.MinInterval <= 0 {
		c.Limiter = ratelimit.DefaultConfig()
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.EmitEvery <= 0 {
		c.EmitEvery = 5
	}
}

// Pipeline is the rate-limited ingestion and aggregation pipeline.
type Pipeline struct {
	client  *crm.Client
	limiter *ratelimit.Limiter
	cache   *cache.Cache
	config  Config
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates a pipeline with an in-process result cache.
func New(cfg Config) (*Pipeline, error) {
	return NewWithStore(cfg, cache.NewMemoryStore())
}

// NewWithStore creates a pipeline over the given cache store (e.g. a Redis
// store shared across dashboard replicas).
func NewWithStore(cfg Config, store cache.Store) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	logger := log.With().Str("component", "pipeline").Logger()
	limiter := ratelimit.New(cfg.Limiter, logger)

	client, err := crm.New(cfg.CRM, limiter)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		client:  client,
		limiter: limiter,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}
	p.cache = cache.New(store, cfg.CacheTTL, func(ctx context.Context) ([]aggregate.Accumulator, error) {
		return p.FetchAggregates(ctx, cfg.Progress)
	})
	return p, nil
}

// FetchUsers fetches the full user directory and returns owner id mapped to
// normalized display name. A page failure yields the partial directory plus
// the error; missing entries later resolve to synthetic fallback names.
func (p *Pipeline) FetchUsers(ctx context.Context, sink progress.Sink) (map[string]string, error) {
	reporter := progress.NewReporter(sink)

	users, err := fetch.Pages(ctx, "users", p.config.PageSize,
		func(ctx context.Context, limit, offset int) ([]crm.User, int, error) {
			return p.client.ListUsers(ctx, limit, offset)
		},
		func(fetched, total int) {
			reporter.Report(progress.PhaseUsers,
				fmt.Sprintf("Fetched %d users", fetched), fetched, total)
		})

	directory := make(map[string]string, len(users))
	for _, u := range users {
		directory[u.ID] = aggregate.DisplayName(u)
	}
	return directory, err
}

// dealTasks pairs a deal with its fetched child tasks.
type dealTasks struct {
	dealID string
	tasks  []crm.Task
}

// FetchAggregates runs the full pipeline once: user directory, per-owner
// deals, per-deal tasks, then aggregation. Partial fetch failures degrade
// the aggregate rather than failing the run; only a total failure (no owner
// fetch succeeded) is surfaced as an error.
func (p *Pipeline) FetchAggregates(ctx context.Context, sink progress.Sink) ([]aggregate.Accumulator, error) {
	start := p.now()
	reporter := progress.NewReporter(sink)

	directory, err := p.FetchUsers(ctx, sink)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		p.logger.Warn().
			Err(err).
			Int("users", len(directory)).
			Msg("User directory fetch incomplete; using fallback names")
	}

	dealTracker := reporter.NewTracker(progress.PhaseDeals,
		"Fetched deals for %d/%d owners", len(p.config.OwnerIDs), p.config.EmitEvery)

	deals, failedOwners := fetch.Distribute(ctx, p.config.OwnerIDs, p.config.Workers,
		func(ctx context.Context, ownerID string) ([]crm.Deal, error) {
			return fetch.Pages(ctx, "deals", p.config.PageSize,
				func(ctx context.Context, limit, offset int) ([]crm.Deal, int, error) {
					return p.client.ListDeals(ctx, ownerID, limit, offset)
				}, nil)
		}, dealTracker)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if failedOwners == len(p.config.OwnerIDs) && len(deals) == 0 {
		return nil, fmt.Errorf("pipeline: all %d owner fetches failed", failedOwners)
	}

	// Ordering across workers is arbitrary; establish it once here.
	sort.SliceStable(deals, func(i, j int) bool {
		if !deals[i].Created.Equal(deals[j].Created.Time) {
			return deals[i].Created.After(deals[j].Created.Time)
		}
		return deals[i].ID < deals[j].ID
	})

	taskTracker := reporter.NewTracker(progress.PhaseTasks,
		"Fetched tasks for %d/%d deals", len(deals), p.config.EmitEvery)

	pairs, failedDeals := fetch.Distribute(ctx, deals, p.config.Workers,
		func(ctx context.Context, deal crm.Deal) ([]dealTasks, error) {
			tasks, err := p.client.ListDealTasks(ctx, deal.ID)
			if err != nil {
				return nil, err
			}
			return []dealTasks{{dealID: deal.ID, tasks: tasks}}, nil
		}, taskTracker)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	tasksByDeal := make(map[string][]crm.Task, len(pairs))
	for _, pair := range pairs {
		tasksByDeal[pair.dealID] = pair.tasks
	}

	reporter.Report(progress.PhaseProcessing, "Aggregating records", 0, 1)

	today := p.today()
	accs := aggregate.Build(deals, tasksByDeal, directory, today, aggregate.Options{
		ExcludedOwnerIDs:       p.config.ExcludedOwnerIDs,
		ExcludedNameSubstrings: p.config.ExcludedNameSubstrings,
	})

	reporter.Complete(fmt.Sprintf("Aggregated %d owners", len(accs)))

	p.logger.Info().
		Int("owners", len(p.config.OwnerIDs)).
		Int("deals", len(deals)).
		Int("failed_owners", failedOwners).
		Int("failed_deals", failedDeals).
		Int("accumulators", len(accs)).
		Dur("duration", p.now().Sub(start)).
		Msg("Pipeline run complete")

	return accs, nil
}

// GetCachedOrCompute serves the aggregate from the result cache, running the
// full pipeline only when the cached entry is stale or absent.
func (p *Pipeline) GetCachedOrCompute(ctx context.Context) (cache.Result, error) {
	return p.cache.Get(ctx)
}

// InvalidateCache drops the cached aggregate.
func (p *Pipeline) InvalidateCache(ctx context.Context) error {
	return p.cache.Invalidate(ctx)
}

// SetNow overrides the pipeline clock (for testing overdue classification).
func (p *Pipeline) SetNow(now func() time.Time) {
	p.now = now
}

// today pins the current calendar date used for overdue classification.
func (p *Pipeline) today() crm.Date {
	year, month, day := p.now().Date()
	return crm.NewDate(year, month, day)
}
