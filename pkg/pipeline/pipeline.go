// Package pipeline runs retrieval, percentile analysis and persistence end to end.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/pokeapi-percentiles/pkg/analysis"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/entity"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/logging"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/retrieval"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/store"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pokestats_runs_total",
		Help: "Pipeline runs by result (ok, partial, cancelled, failed)",
	}, []string{"result"})

	lastRunEntities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pokestats_last_run_entities",
		Help: "Number of entities analyzed by the last successful run",
	})
)

// Retriever fetches an id range. *retrieval.Retriever implements it.
type Retriever interface {
	Retrieve(ctx context.Context, first, last int) (entity.Collection, retrieval.Summary, error)
}

// Config holds pipeline configuration.
type Config struct {
	// MaxID is the last id fetched; the range always starts at 1
	MaxID int

	Kind analysis.Kind

	// Incremental appends fetched records to the raw store instead of
	// replacing it
	Incremental bool
}

// Report describes one pipeline run.
type Report struct {
	RunID     string            `json:"run_id"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
	Kind      analysis.Kind     `json:"kind"`
	Retrieval retrieval.Summary `json:"retrieval"`

	// EntitiesSaved is the number of raw records written (0 when the raw
	// store was left untouched)
	EntitiesSaved int `json:"entities_saved"`

	// PercentilesSaved is the number of percentile rows written to every
	// percentile store
	PercentilesSaved int `json:"percentiles_saved"`

	Stats *analysis.Summary `json:"stats,omitempty"`
}

// Pipeline ties a retriever to the stores.
type Pipeline struct {
	retriever  Retriever
	entities   store.EntityStore
	percentile []store.PercentileStore
	config     Config
	logger     zerolog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSnapshot adds a percentile store written alongside the primary one,
// e.g. a Parquet snapshot.
func WithSnapshot(s store.PercentileStore) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.percentile = append(p.percentile, s)
		}
	}
}

// New creates a pipeline writing the raw catalog to entities and the
// percentile rows to percentiles. r may be nil for AnalyzeStored only.
func New(r Retriever, entities store.EntityStore, percentiles store.PercentileStore, config Config, opts ...Option) *Pipeline {
	if config.MaxID <= 0 {
		config.MaxID = 898
	}
	if config.Kind == "" {
		config.Kind = analysis.KindMean
	}
	p := &Pipeline{
		retriever:  r,
		entities:   entities,
		percentile: []store.PercentileStore{percentiles},
		config:     config,
		logger:     logging.NewLogger("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) newReport() Report {
	return Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Kind:      p.config.Kind,
	}
}

// FetchAndSave retrieves the catalog and writes it to the raw store.
//
// In replace mode the raw store is only rewritten after an uncancelled
// retrieval, so an interrupted run leaves the previous catalog in place.
// In incremental mode fetched records whose id is not stored yet are
// appended in id order, even when the run was cancelled. A run that fetched
// nothing fails with analysis.ErrEmptyPopulation.
func (p *Pipeline) FetchAndSave(ctx context.Context) (entity.Collection, Report, error) {
	report := p.newReport()
	logger := p.logger.With().Str("run_id", report.RunID).Logger()

	collection, err := p.retrieve(ctx, &report, logger)
	if err != nil && !errors.Is(err, retrieval.ErrCancelled) {
		runsTotal.WithLabelValues("failed").Inc()
		return entity.Collection{}, report, err
	}
	retrieveErr := err

	if retrieveErr == nil && collection.Len() == 0 {
		runsTotal.WithLabelValues("failed").Inc()
		report.Duration = time.Since(report.StartedAt)
		logger.Error().Int("failed", len(report.Retrieval.Failures)).Msg("No record fetched")
		return collection, report, fmt.Errorf("fetch: %w", analysis.ErrEmptyPopulation)
	}

	switch {
	case p.config.Incremental:
		saved, err := p.appendNew(ctx, collection)
		if err != nil {
			return p.fail(collection, report, err)
		}
		report.EntitiesSaved = saved
	case retrieveErr == nil:
		if err := p.entities.ReplaceEntities(ctx, collection); err != nil {
			return p.fail(collection, report, err)
		}
		report.EntitiesSaved = collection.Len()
	}

	report.Duration = time.Since(report.StartedAt)
	logger.Info().
		Int("saved", report.EntitiesSaved).
		Bool("incremental", p.config.Incremental).
		Dur("duration", report.Duration).
		Msg("Raw catalog saved")

	p.count(report, retrieveErr)
	return collection, report, retrieveErr
}

// Run retrieves the catalog, computes percentiles over every fetched record
// and writes the raw catalog, then the percentile rows to every percentile
// store concurrently. Percentiles are left untouched when the raw write
// fails. Ids that failed are absent from both. A cancelled retrieval writes
// nothing.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	report := p.newReport()
	logger := p.logger.With().Str("run_id", report.RunID).Logger()

	collection, err := p.retrieve(ctx, &report, logger)
	if err != nil {
		if errors.Is(err, retrieval.ErrCancelled) {
			runsTotal.WithLabelValues("cancelled").Inc()
		} else {
			runsTotal.WithLabelValues("failed").Inc()
		}
		report.Duration = time.Since(report.StartedAt)
		return report, err
	}

	annotated, err := p.analyze(collection, &report, logger)
	if err != nil {
		runsTotal.WithLabelValues("failed").Inc()
		return report, err
	}

	saved := collection.Len()
	if p.config.Incremental {
		saved, err = p.appendNew(ctx, collection)
	} else {
		err = p.entities.ReplaceEntities(ctx, collection)
	}
	if err != nil {
		runsTotal.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Msg("Saving raw catalog failed")
		return report, fmt.Errorf("persist run: %w", err)
	}
	report.EntitiesSaved = saved

	g, gctx := errgroup.WithContext(ctx)
	p.replacePercentiles(gctx, g, annotated.PercentileRows())
	if err := g.Wait(); err != nil {
		runsTotal.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Msg("Persisting percentiles failed")
		return report, fmt.Errorf("persist run: %w", err)
	}
	report.PercentilesSaved = annotated.Len()
	report.Duration = time.Since(report.StartedAt)

	p.count(report, nil)
	lastRunEntities.Set(float64(annotated.Len()))
	logger.Info().
		Int("entities", report.EntitiesSaved).
		Int("percentiles", report.PercentilesSaved).
		Int("failed", len(report.Retrieval.Failures)).
		Dur("duration", report.Duration).
		Msg("Run complete")
	return report, nil
}

// AnalyzeStored computes percentiles over the raw catalog already in the
// entity store, without fetching.
func (p *Pipeline) AnalyzeStored(ctx context.Context) (Report, error) {
	report := p.newReport()
	logger := p.logger.With().Str("run_id", report.RunID).Logger()

	collection, err := p.entities.LoadEntities(ctx)
	if err != nil {
		runsTotal.WithLabelValues("failed").Inc()
		return report, fmt.Errorf("load catalog: %w", err)
	}
	report.Retrieval = retrieval.Summary{Fetched: collection.Len(), Requested: collection.Len()}
	if ids := collection.IDs(); len(ids) > 0 {
		report.Retrieval.First, report.Retrieval.Last = ids[0], ids[len(ids)-1]
	}

	annotated, err := p.analyze(collection, &report, logger)
	if err != nil {
		runsTotal.WithLabelValues("failed").Inc()
		return report, err
	}

	g, gctx := errgroup.WithContext(ctx)
	p.replacePercentiles(gctx, g, annotated.PercentileRows())
	if err := g.Wait(); err != nil {
		runsTotal.WithLabelValues("failed").Inc()
		return report, fmt.Errorf("persist percentiles: %w", err)
	}
	report.PercentilesSaved = annotated.Len()
	report.Duration = time.Since(report.StartedAt)

	p.count(report, nil)
	lastRunEntities.Set(float64(annotated.Len()))
	logger.Info().
		Int("percentiles", report.PercentilesSaved).
		Dur("duration", report.Duration).
		Msg("Stored catalog analyzed")
	return report, nil
}

func (p *Pipeline) retrieve(ctx context.Context, report *Report, logger zerolog.Logger) (entity.Collection, error) {
	if p.retriever == nil {
		return entity.Collection{}, errors.New("pipeline has no retriever")
	}
	logger.Info().Int("max_id", p.config.MaxID).Msg("Run started")

	collection, summary, err := p.retriever.Retrieve(ctx, 1, p.config.MaxID)
	report.Retrieval = summary
	if err != nil {
		logger.Warn().Err(err).Int("fetched", collection.Len()).Msg("Retrieval did not finish")
		return collection, err
	}
	return collection, nil
}

func (p *Pipeline) analyze(c entity.Collection, report *Report, logger zerolog.Logger) (entity.Collection, error) {
	annotated, err := analysis.Annotate(c, p.config.Kind)
	if err != nil {
		logger.Error().Err(err).Msg("Nothing to analyze")
		return entity.Collection{}, fmt.Errorf("analyze: %w", err)
	}

	stats, err := analysis.Summarize(c)
	if err != nil {
		return entity.Collection{}, fmt.Errorf("summarize: %w", err)
	}
	report.Stats = &stats
	logger.Info().
		Int("population", c.Len()).
		Float64("height_mean", stats.Height.Mean).
		Float64("height_median", stats.Height.Median).
		Float64("weight_mean", stats.Weight.Mean).
		Float64("weight_median", stats.Weight.Median).
		Msg("Percentiles computed")
	return annotated, nil
}

func (p *Pipeline) replacePercentiles(ctx context.Context, g *errgroup.Group, rows []entity.PercentileRow) {
	for _, s := range p.percentile {
		g.Go(func() error {
			return s.ReplacePercentiles(ctx, rows)
		})
	}
}

// appendNew appends, in ascending id order, the records whose id is not in
// the entity store yet. Stored records are kept as they are.
func (p *Pipeline) appendNew(ctx context.Context, c entity.Collection) (int, error) {
	stored, err := p.entities.LoadEntities(ctx)
	if err != nil {
		return 0, err
	}

	saved := 0
	for _, r := range c.All() {
		if _, ok := stored.Get(r.ID); ok {
			continue
		}
		if err := p.entities.AppendEntity(ctx, r); err != nil {
			return saved, err
		}
		saved++
	}
	return saved, nil
}

func (p *Pipeline) fail(c entity.Collection, report Report, err error) (entity.Collection, Report, error) {
	runsTotal.WithLabelValues("failed").Inc()
	p.logger.Error().Err(err).Str("run_id", report.RunID).Msg("Saving raw catalog failed")
	report.Duration = time.Since(report.StartedAt)
	return c, report, fmt.Errorf("save catalog: %w", err)
}

func (p *Pipeline) count(report Report, err error) {
	switch {
	case errors.Is(err, retrieval.ErrCancelled):
		runsTotal.WithLabelValues("cancelled").Inc()
	case len(report.Retrieval.Failures) > 0:
		runsTotal.WithLabelValues("partial").Inc()
	default:
		runsTotal.WithLabelValues("ok").Inc()
	}
}
