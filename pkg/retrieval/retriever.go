package retrieval

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/pokeapi-percentiles/pkg/client"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/entity"
)

var (
	// ErrInvalidRange is returned for an id range that is empty or starts below 1.
	ErrInvalidRange = errors.New("invalid id range")

	// ErrCancelled is returned when the context ended before every id was tried.
	// The partial collection and summary are still returned.
	ErrCancelled = errors.New("retrieval cancelled")
)

var (
	retrievalInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pokeapi_retrieval_in_flight",
		Help: "Number of ids currently being fetched",
	})

	retrievalResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pokeapi_retrieval_results_total",
		Help: "Retrieved ids by outcome (ok or error class)",
	}, []string{"outcome"})

	retrievalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pokeapi_retrieval_duration_seconds",
		Help:    "Duration of a complete Retrieve call",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})
)

// EntityFetcher is the single-entity fetch the retriever drives.
// *client.Client implements it.
type EntityFetcher interface {
	FetchEntity(ctx context.Context, id int) (entity.Record, error)
}

// Config holds retriever configuration.
type Config struct {
	// MaxConcurrency is the maximum number of ids fetched in parallel
	MaxConcurrency int

	// Timeout per fetch attempt
	Timeout time.Duration

	// TotalDeadline bounds the whole Retrieve call (0 = no bound)
	TotalDeadline time.Duration

	Retry RetryConfig
}

// DefaultConfig returns the default retriever configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 20,
		Timeout:        10 * time.Second,
		Retry:          DefaultRetryConfig(),
	}
}

// Failure describes an id that is missing from the collection.
type Failure struct {
	ID       int               `json:"id"`
	Class    client.ErrorClass `json:"class"`
	Attempts int               `json:"attempts"`
	Err      error             `json:"-"`
}

// Summary reports the outcome of a Retrieve call.
type Summary struct {
	First     int           `json:"first"`
	Last      int           `json:"last"`
	Requested int           `json:"requested"`
	Fetched   int           `json:"fetched"`
	Failures  []Failure     `json:"failures"`
	Cancelled bool          `json:"cancelled"`
	Duration  time.Duration `json:"duration"`
}

// FailedIDs returns the ids of all failures in ascending order.
func (s Summary) FailedIDs() []int {
	ids := make([]int, len(s.Failures))
	for i, f := range s.Failures {
		ids[i] = f.ID
	}
	return ids
}

// CountByClass tallies failures per error class.
func (s Summary) CountByClass() map[client.ErrorClass]int {
	counts := make(map[client.ErrorClass]int)
	for _, f := range s.Failures {
		counts[f.Class]++
	}
	return counts
}

// Retriever fetches id ranges through an EntityFetcher.
type Retriever struct {
	fetcher EntityFetcher
	config  Config
	logger  zerolog.Logger
}

// New creates a retriever. Zero config values fall back to defaults.
func New(fetcher EntityFetcher, config Config) *Retriever {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 20
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.TotalDeadline < 0 {
		config.TotalDeadline = 0
	}
	config.Retry = config.Retry.normalized()

	return &Retriever{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "retriever").Logger(),
	}
}

// result is the outcome of fetching one id.
type result struct {
	id       int
	record   entity.Record
	err      error
	class    client.ErrorClass
	attempts int
}

// Retrieve fetches every id in [first, last].
//
// Records come back in ascending id order. Ids that failed permanently, or
// ran out of attempts, are left out and listed in Summary.Failures. If ctx
// ends first, the ids not yet fetched are reported with class "cancelled"
// and the error wraps ErrCancelled and the context error.
func (r *Retriever) Retrieve(ctx context.Context, first, last int) (entity.Collection, Summary, error) {
	if first < 1 || last < first {
		return entity.Collection{}, Summary{}, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, first, last)
	}

	start := time.Now()
	defer func() {
		retrievalDuration.Observe(time.Since(start).Seconds())
	}()

	if r.config.TotalDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.TotalDeadline)
		defer cancel()
	}

	total := last - first + 1
	workers := min(r.config.MaxConcurrency, total)

	r.logger.Info().
		Int("first", first).
		Int("last", last).
		Int("workers", workers).
		Msg("Starting parallel retrieval")

	idQueue := make(chan int)
	results := make(chan result, workers)

	// Feed ids until done or cancelled; unqueued ids are reported later.
	go func() {
		defer close(idQueue)
		for id := first; id <= last; id++ {
			select {
			case idQueue <- id:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go r.worker(ctx, idQueue, results, &wg, i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	// Single assembly point: one slot per id.
	slots := make([]*entity.Record, total)
	seen := make([]bool, total)
	var failures []Failure
	fetched := 0

	for res := range results {
		idx := res.id - first
		seen[idx] = true

		if res.err != nil {
			retrievalResultsTotal.WithLabelValues(string(res.class)).Inc()
			failures = append(failures, Failure{
				ID:       res.id,
				Class:    res.class,
				Attempts: res.attempts,
				Err:      res.err,
			})
			if res.class != client.ErrorClassCancelled {
				r.logger.Warn().
					Err(res.err).
					Int("id", res.id).
					Str("error_class", string(res.class)).
					Int("attempts", res.attempts).
					Msg("Entity not retrieved")
			}
			continue
		}

		retrievalResultsTotal.WithLabelValues("ok").Inc()
		record := res.record
		slots[idx] = &record
		fetched++

		if fetched%100 == 0 {
			r.logger.Info().
				Int("fetched", fetched).
				Int("total", total).
				Float64("progress_pct", float64(fetched)/float64(total)*100).
				Msg("Retrieval progress")
		}
	}

	for idx, ok := range seen {
		if !ok {
			failures = append(failures, Failure{
				ID:    first + idx,
				Class: client.ErrorClassCancelled,
				Err:   ctx.Err(),
			})
		}
	}
	slices.SortFunc(failures, func(a, b Failure) int { return a.ID - b.ID })

	records := make([]entity.Record, 0, fetched)
	for _, rec := range slots {
		if rec != nil {
			records = append(records, *rec)
		}
	}
	collection, err := entity.NewCollection(records)
	if err != nil {
		return entity.Collection{}, Summary{}, fmt.Errorf("assemble collection: %w", err)
	}

	summary := Summary{
		First:     first,
		Last:      last,
		Requested: total,
		Fetched:   fetched,
		Failures:  failures,
		Duration:  time.Since(start),
	}
	for _, f := range failures {
		if f.Class == client.ErrorClassCancelled {
			summary.Cancelled = true
			break
		}
	}

	logEvent := r.logger.Info()
	if len(failures) > 0 {
		logEvent = r.logger.Warn()
	}
	logEvent.
		Int("fetched", fetched).
		Int("failed", len(failures)).
		Int("requested", total).
		Bool("cancelled", summary.Cancelled).
		Dur("duration", summary.Duration).
		Msg("Retrieval complete")

	if summary.Cancelled {
		cause := ctx.Err()
		if cause == nil {
			cause = context.Canceled
		}
		return collection, summary, fmt.Errorf("%w after %d/%d ids: %w", ErrCancelled, fetched, total, cause)
	}
	return collection, summary, nil
}

// worker processes ids from the queue.
func (r *Retriever) worker(ctx context.Context, idQueue <-chan int, results chan<- result, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for id := range idQueue {
		retrievalInFlight.Inc()
		res := r.fetchWithRetry(ctx, id)
		retrievalInFlight.Dec()

		// The collector drains until every worker is done, so this never blocks forever.
		results <- res
		processed++
	}

	r.logger.Debug().
		Int("worker_id", workerID).
		Int("ids_processed", processed).
		Msg("Worker completed")
}

// fetchWithRetry fetches one id, retrying transient failures with
// exponential backoff. It respects context cancellation.
func (r *Retriever) fetchWithRetry(ctx context.Context, id int) result {
	cfg := r.config.Retry
	res := result{id: id}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			res.err, res.class = err, client.ErrorClassCancelled
			return res
		}

		res.attempts = attempt
		attemptCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
		record, err := r.fetcher.FetchEntity(attemptCtx, id)
		timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err == nil {
			if attempt > 1 {
				r.logger.Info().Int("id", id).Int("attempt", attempt).Msg("Fetch succeeded after retry")
			}
			res.record, res.err, res.class = record, nil, ""
			return res
		}

		// The caller gave up: in-flight work unwinds as cancelled.
		if ctx.Err() != nil {
			res.err, res.class = err, client.ErrorClassCancelled
			return res
		}

		class, retryable := classify(err, timedOut)
		res.err, res.class = err, class
		if !retryable {
			return res
		}

		if attempt >= cfg.MaxAttempts {
			retryExhaustedTotal.WithLabelValues(string(class)).Inc()
			res.err = fmt.Errorf("retry attempts exhausted after %d attempts: %w", attempt, err)
			return res
		}

		wait := cfg.backoff(attempt)
		retriesTotal.WithLabelValues(string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(wait.Seconds())

		r.logger.Debug().
			Int("id", id).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying fetch after backoff")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			res.err, res.class = fmt.Errorf("cancelled during backoff: %w", err), client.ErrorClassCancelled
			return res
		case <-timer.C:
		}
	}
}

// classify maps a fetch error to its class and whether it may be retried.
// An attempt that ran into its own timeout is a transient network failure
// whatever error the fetcher surfaced.
func classify(err error, attemptTimedOut bool) (client.ErrorClass, bool) {
	if attemptTimedOut {
		return client.ErrorClassNetwork, true
	}
	class := client.ClassOf(err)
	return class, client.IsRetryable(err)
}
