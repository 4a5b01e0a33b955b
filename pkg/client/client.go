// Package client provides the PokeAPI HTTP client with request pacing,
// optional Redis response caching, a circuit breaker and failure
// classification. One call fetches one entity; retrying is left to the
// caller (see package retrieval).
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/Sternrassler/pokeapi-percentiles/pkg/cache"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/entity"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/ratelimit"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pokeapi_requests_total",
		Help: "Total PokeAPI requests by HTTP status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pokeapi_request_duration_seconds",
		Help:    "FetchEntity duration in seconds by source",
		Buckets: []float64{0.005, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"source"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pokeapi_errors_total",
		Help: "Total fetch failures by class",
	}, []string{"class"})

	revalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pokeapi_revalidations_total",
		Help: "Total conditional requests for stale cache entries by outcome",
	}, []string{"result"}) // "not_modified", "modified"

	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pokeapi_circuit_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
	})
)

// DefaultBaseURL is the public PokeAPI pokemon collection.
const DefaultBaseURL = "https://pokeapi.co/api/v2/pokemon"

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 8 << 20

// BreakerConfig configures the circuit breaker around the HTTP round trip.
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker (0 disables the breaker)
	ConsecutiveFailures uint32

	// OpenTimeout is how long the breaker stays open before probing
	OpenTimeout time.Duration

	// HalfOpenRequests is the number of probe requests allowed while half-open
	HalfOpenRequests uint32
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the collection URL; entities live at BaseURL/{id}
	BaseURL string

	// User-Agent header sent with every request (REQUIRED)
	UserAgent string

	// Resource names the collection in cache keys
	Resource string

	// HTTPTimeout bounds a single round trip, independent of the caller's context
	HTTPTimeout time.Duration

	// Redis enables the response cache when non-nil
	Redis *redis.Client

	// CacheTTL is used when a response carries no freshness headers
	CacheTTL time.Duration

	// Pacing
	RequestsPerSecond float64 // 0 disables pacing
	Burst             int

	// MaxIdleConnsPerHost sizes the connection pool; match it to the worker count
	MaxIdleConnsPerHost int

	Breaker BreakerConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		BaseURL:             DefaultBaseURL,
		UserAgent:           userAgent,
		Resource:            "pokemon",
		HTTPTimeout:         30 * time.Second,
		CacheTTL:            24 * time.Hour,
		RequestsPerSecond:   50,
		Burst:               20,
		MaxIdleConnsPerHost: 20,
		Breaker: BreakerConfig{
			ConsecutiveFailures: 10,
			OpenTimeout:         5 * time.Second,
			HalfOpenRequests:    1,
		},
	}
}

// Client fetches single entities. It is safe for concurrent use.
type Client struct {
	httpClient  *http.Client
	transport   *http.Transport
	baseURL     string
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	breaker     *gobreaker.CircuitBreaker
	config      Config
	logger      zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.Resource == "" {
		cfg.Resource = "pokemon"
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}

	logger := log.With().Str("component", "pokeapi-client").Logger()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.MaxIdleConnsPerHost > 0 {
		transport.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}

	c := &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.HTTPTimeout,
		},
		transport:   transport,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		rateLimiter: ratelimit.NewTracker(cfg.RequestsPerSecond, cfg.Burst, logger),
		config:      cfg,
		logger:      logger,
	}

	if cfg.Redis != nil {
		c.cache = cache.NewManager(cfg.Redis)
	}

	if cfg.Breaker.ConsecutiveFailures > 0 {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "pokeapi",
			MaxRequests: cfg.Breaker.HalfOpenRequests,
			Timeout:     cfg.Breaker.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.Breaker.ConsecutiveFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				breakerState.Set(float64(to))
				logger.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Circuit breaker state changed")
			},
			// Only upstream trouble counts against the breaker; a 404 is a healthy answer.
			IsSuccessful: func(err error) bool {
				return err == nil || !IsRetryable(err)
			},
		})
	}

	return c, nil
}

// response is a successful HTTP exchange. A 304 has no body.
type response struct {
	body        []byte
	headers     http.Header
	notModified bool
}

// FetchEntity retrieves and decodes the entity with the given id.
// Failures are *FetchError values classified by ErrorClass.
func (c *Client) FetchEntity(ctx context.Context, id int) (entity.Record, error) {
	if id < 1 {
		return entity.Record{}, c.fail(&FetchError{
			ID:      id,
			Class:   ErrorClassClient,
			Message: "id must be positive",
		})
	}

	startTime := time.Now()
	source := "network"
	defer func() {
		requestDuration.WithLabelValues(source).Observe(time.Since(startTime).Seconds())
	}()

	key := cache.Key{Resource: c.config.Resource, ID: id}
	var (
		stale       *cache.Entry
		staleRecord entity.Record
	)
	if c.cache != nil {
		entry, err := c.cache.Get(ctx, key)
		switch {
		case err == nil:
			record, decodeErr := decodeRecord(id, entry.Data)
			switch {
			case decodeErr != nil:
				// Unusable cached body: drop it and go to the API.
				c.logger.Warn().Err(decodeErr).Int("id", id).Msg("Discarding cached entry")
				_ = c.cache.Delete(ctx, key)
			case entry.FreshAt(time.Now()):
				source = "cache"
				c.logger.Debug().Int("id", id).Dur("ttl", entry.TTL()).Msg("Cache hit")
				return record, nil
			default:
				stale, staleRecord = entry, record
			}
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Int("id", id).Msg("Cache get error")
		}
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return entity.Record{}, c.fail(&FetchError{
			ID:      id,
			Class:   ErrorClassNetwork,
			Message: "waiting for rate limiter",
			Err:     err,
		})
	}

	etag := ""
	if stale != nil {
		etag = stale.ETag
	}
	resp, err := c.execute(ctx, id, etag)
	if err != nil {
		return entity.Record{}, c.fail(err)
	}

	if resp.notModified {
		source = "revalidated"
		revalidationsTotal.WithLabelValues("not_modified").Inc()
		if err := c.cache.Set(ctx, key, stale.Renew(resp.headers, c.config.CacheTTL)); err != nil {
			c.logger.Warn().Err(err).Int("id", id).Msg("Failed to renew cached entry")
		}
		c.logger.Debug().Int("id", id).Str("etag", etag).Msg("Cached entry revalidated")
		return staleRecord, nil
	}
	if stale != nil {
		revalidationsTotal.WithLabelValues("modified").Inc()
	}

	record, err := decodeRecord(id, resp.body)
	if err != nil {
		return entity.Record{}, c.fail(&FetchError{
			ID:      id,
			Class:   ErrorClassDecode,
			Message: "unusable response body",
			Err:     err,
		})
	}

	if c.cache != nil {
		entry := cache.NewEntry(resp.body, resp.headers, c.config.CacheTTL)
		if err := c.cache.Set(ctx, key, entry); err != nil {
			c.logger.Warn().Err(err).Int("id", id).Msg("Failed to cache response")
		}
	}

	c.logger.Debug().
		Int("id", id).
		Str("name", record.Name).
		Dur("duration", time.Since(startTime)).
		Msg("Fetched entity")

	return record, nil
}

// execute runs one round trip, through the circuit breaker when enabled.
func (c *Client) execute(ctx context.Context, id int, etag string) (*response, error) {
	if c.breaker == nil {
		return c.roundTrip(ctx, id, etag)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, id, etag)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &FetchError{
				ID:      id,
				Class:   ErrorClassCircuitOpen,
				Message: "circuit breaker rejected request",
				Err:     err,
			}
		}
		return nil, err
	}
	return result.(*response), nil
}

// roundTrip performs the HTTP request and classifies the outcome. A non-empty
// etag makes the request conditional.
func (c *Client) roundTrip(ctx context.Context, id int, etag string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.entityURL(id), nil)
	if err != nil {
		return nil, &FetchError{ID: id, Class: ErrorClassClient, Message: "create request", Err: err}
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues("network_error").Inc()
		return nil, &FetchError{ID: id, Class: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if err := c.rateLimiter.UpdateFromHeaders(resp.StatusCode, resp.Header); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
	}

	if resp.StatusCode == http.StatusNotModified && etag != "" {
		return &response{headers: resp.Header, notModified: true}, nil
	}

	if class := classifyStatus(resp.StatusCode); class != "" {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &FetchError{
			ID:         id,
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{
			ID:         id,
			StatusCode: resp.StatusCode,
			Class:      ErrorClassNetwork,
			Message:    "read body",
			Err:        err,
		}
	}

	return &response{body: body, headers: resp.Header}, nil
}

// fail records metrics and logs for a failed fetch.
func (c *Client) fail(err error) error {
	class := ClassOf(err)
	errorsTotal.WithLabelValues(string(class)).Inc()

	event := c.logger.Debug()
	if class == ErrorClassDecode {
		event = c.logger.Warn()
	}
	event.Err(err).Str("error_class", string(class)).Msg("Fetch failed")
	return err
}

func (c *Client) entityURL(id int) string {
	return c.baseURL + "/" + strconv.Itoa(id)
}

// classifyStatus maps an HTTP status to an error class, "" for success.
func classifyStatus(status int) ErrorClass {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == http.StatusNotFound || status == http.StatusGone:
		return ErrorClassNotFound
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	default:
		// remaining 4xx, unexpected 1xx/3xx
		return ErrorClassClient
	}
}

// payload is the subset of the API document we read. Pointers detect
// missing fields.
type payload struct {
	ID     *int     `json:"id"`
	Name   *string  `json:"name"`
	Height *float64 `json:"height"`
	Weight *float64 `json:"weight"`
}

// decodeRecord turns a response body into a validated record for id.
func decodeRecord(id int, body []byte) (entity.Record, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return entity.Record{}, fmt.Errorf("unmarshal: %w", err)
	}

	var missing []string
	if p.ID == nil {
		missing = append(missing, "id")
	}
	if p.Name == nil {
		missing = append(missing, "name")
	}
	if p.Height == nil {
		missing = append(missing, "height")
	}
	if p.Weight == nil {
		missing = append(missing, "weight")
	}
	if len(missing) > 0 {
		return entity.Record{}, fmt.Errorf("missing fields: %s", strings.Join(missing, ", "))
	}

	if *p.ID != id {
		return entity.Record{}, fmt.Errorf("id mismatch: requested %d, got %d", id, *p.ID)
	}

	record := entity.Record{
		ID:     *p.ID,
		Name:   *p.Name,
		Height: *p.Height,
		Weight: *p.Weight,
	}
	if err := record.Validate(); err != nil {
		return entity.Record{}, err
	}
	return record, nil
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// RateLimitState returns a snapshot of the request pacer.
func (c *Client) RateLimitState() ratelimit.State {
	return c.rateLimiter.State()
}
