// Package service orchestrates one resolution run: load the staging
// snapshot, cluster, synthesize, persist a generation, swap it live,
// backfill facts, and report aggregate counts.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"unify/internal/resolve/announce"
	"unify/internal/resolve/backfill"
	"unify/internal/resolve/cluster"
	"unify/internal/resolve/household"
	"unify/internal/resolve/metrics"
	"unify/internal/resolve/models"
	"unify/internal/resolve/signal"
	"unify/internal/resolve/store"
	"unify/internal/resolve/synth"
	id "unify/pkg/domain"
	"unify/pkg/platform/sentinel"
)

// Resolver runs complete resolution passes. The clustering itself is
// single-threaded and deterministic; only storage I/O fans out.
type Resolver struct {
	staging   store.StagingSource
	canonical store.CanonicalStore
	backfill  *backfill.Runner
	announcer announce.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	sizeCap   int
	clock     func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

func WithAnnouncer(p announce.Publisher) Option {
	return func(r *Resolver) {
		if p != nil {
			r.announcer = p
		}
	}
}

// WithClusterCap overrides the maximum cluster size. The right value is
// corpus-dependent; it is a required tunable, not a constant.
func WithClusterCap(n int) Option {
	return func(r *Resolver) { r.sizeCap = n }
}

func WithBackfill(runner *backfill.Runner) Option {
	return func(r *Resolver) { r.backfill = runner }
}

// WithClock sets the time source for testability.
func WithClock(clock func() time.Time) Option {
	return func(r *Resolver) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// New constructs a Resolver. Staging source and canonical store are
// required; everything else has a working default.
func New(staging store.StagingSource, canonical store.CanonicalStore, opts ...Option) (*Resolver, error) {
	if staging == nil {
		return nil, fmt.Errorf("staging source is required")
	}
	if canonical == nil {
		return nil, fmt.Errorf("canonical store is required")
	}
	r := &Resolver{
		staging:   staging,
		canonical: canonical,
		announcer: announce.Noop{},
		logger:    slog.Default(),
		tracer:    otel.Tracer("unify/resolve"),
		sizeCap:   cluster.DefaultSizeCap,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sizeCap < 1 {
		return nil, fmt.Errorf("cluster size cap must be at least 1, got %d", r.sizeCap)
	}
	return r, nil
}

// Run executes one full resolution pass and returns its aggregate counts.
// A run either completes and replaces the prior generation or fails and
// leaves it intact; there is no partial-output mode.
func (r *Resolver) Run(ctx context.Context) (*models.RunStats, error) {
	stats, err := r.run(ctx)
	if err != nil && r.metrics != nil {
		r.metrics.ObserveFailure()
	}
	return stats, err
}

func (r *Resolver) run(ctx context.Context) (*models.RunStats, error) {
	started := r.clock()
	runID := id.NewRunID()
	logger := r.logger.With("run_id", runID.String())

	ctx, span := r.tracer.Start(ctx, "resolve.run")
	defer span.End()

	records, err := r.loadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("staging snapshot loaded", "records", len(records))

	engine, err := cluster.New(
		cluster.WithSizeCap(r.sizeCap),
		cluster.WithCappedKeyFunc(func(method models.MatchMethod, key string) {
			logger.Warn("merge refused by cluster size cap",
				"method", string(method),
				"signal", key,
			)
		}),
	)
	if err != nil {
		return nil, err
	}

	_, clusterSpan := r.tracer.Start(ctx, "resolve.cluster")
	indexes := signal.Build(records)
	result := engine.Run(records, indexes)
	clusterSpan.End()

	logger.Info("clustering complete",
		"clusters", len(result.Clusters),
		"capped_merges", result.CappedMerges,
	)
	// Rejected signals are expected, not failures; counts only.
	logger.Debug("normalization rejections",
		"rejected_emails", indexes.RejectedEmails,
		"rejected_phones", indexes.RejectedPhones,
	)

	_, synthSpan := r.tracer.Start(ctx, "resolve.synthesize")
	clusters := synth.Synthesize(records, result, runID, r.clock())
	households := household.Assign(records, clusters, runID)
	gen := buildGeneration(records, result, clusters, households, runID)
	synthSpan.End()

	if err := r.persist(ctx, gen); err != nil {
		return nil, err
	}
	logger.Info("generation swapped live",
		"persons", len(gen.Persons),
		"households", len(gen.Households),
	)

	stats := buildStats(runID, records, result, indexes, gen, r.clock().Sub(started))

	if r.backfill != nil {
		ctx, backfillSpan := r.tracer.Start(ctx, "resolve.backfill")
		counts, err := r.backfill.Run(ctx, runID)
		backfillSpan.End()
		if err != nil {
			return nil, fmt.Errorf("linkage backfill: %w", err)
		}
		stats.BackfillRows = counts
	}

	stats.Duration = r.clock().Sub(started)
	if r.metrics != nil {
		r.metrics.ObserveRun(stats)
	}
	if err := r.announcer.GenerationSwapped(ctx, stats); err != nil {
		// Best effort: consumers repoll on their own schedule.
		logger.Warn("generation swap announcement failed", "error", err)
	}
	return stats, nil
}

func (r *Resolver) loadSnapshot(ctx context.Context) ([]models.StagingRecord, error) {
	ctx, span := r.tracer.Start(ctx, "resolve.load")
	defer span.End()

	records, err := r.staging.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load staging snapshot: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("nothing to resolve: %w", sentinel.ErrEmptySnapshot)
	}
	return records, nil
}

func (r *Resolver) persist(ctx context.Context, gen *models.Generation) error {
	ctx, span := r.tracer.Start(ctx, "resolve.persist")
	defer span.End()

	if err := r.canonical.WriteGeneration(ctx, gen); err != nil {
		return fmt.Errorf("write generation: %w", err)
	}
	if err := r.canonical.SwapGeneration(ctx, gen.RunID); err != nil {
		return fmt.Errorf("swap generation: %w", err)
	}
	return nil
}

// buildGeneration flattens synthesized clusters and households into the
// write unit, deduplicating source links so repeated references to one
// logical source record are not double counted.
func buildGeneration(
	records []models.StagingRecord,
	result *cluster.Result,
	clusters []synth.ClusterResult,
	households *household.Result,
	runID id.RunID,
) *models.Generation {
	gen := &models.Generation{
		RunID:      runID,
		Households: households.Households,
		Members:    households.Members,
	}

	seenLinks := make(map[id.SourceKey]bool)
	for _, cr := range clusters {
		gen.Persons = append(gen.Persons, cr.Person)
		gen.Emails = append(gen.Emails, cr.Emails...)
		gen.Phones = append(gen.Phones, cr.Phones...)
		if cr.Address != nil {
			gen.Addresses = append(gen.Addresses, *cr.Address)
		}
		for _, ordinal := range cr.Members {
			key := records[ordinal].Key()
			if key.IsZero() || seenLinks[key] {
				continue
			}
			seenLinks[key] = true
			gen.Links = append(gen.Links, models.SourceLink{
				Key:        key,
				PersonID:   cr.Person.ID,
				RunID:      runID,
				Method:     result.Bindings[ordinal].Method,
				Confidence: result.LinkConfidences[ordinal],
			})
		}
	}
	return gen
}

func buildStats(
	runID id.RunID,
	records []models.StagingRecord,
	result *cluster.Result,
	indexes *signal.Indexes,
	gen *models.Generation,
	elapsed time.Duration,
) *models.RunStats {
	return &models.RunStats{
		RunID:          runID,
		StagingRecords: len(records),
		Clusters:       len(result.Clusters),
		MergesByMethod: result.MergesByMethod,
		CappedMerges:   result.CappedMerges,
		RejectedEmails: indexes.RejectedEmails,
		RejectedPhones: indexes.RejectedPhones,
		Persons:        len(gen.Persons),
		Emails:         len(gen.Emails),
		Phones:         len(gen.Phones),
		Addresses:      len(gen.Addresses),
		SourceLinks:    len(gen.Links),
		Households:     len(gen.Households),
		Duration:       elapsed,
	}
}
