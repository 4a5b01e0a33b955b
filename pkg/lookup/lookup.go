// Package lookup answers point queries for persisted percentile rows.
package lookup

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/pokeapi-percentiles/pkg/entity"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/store"
)

var lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pokestats_lookups_total",
	Help: "Percentile lookups by outcome (found, not_found, error)",
}, []string{"outcome"})

// Result is the answer to one lookup. A miss is Found == false.
type Result struct {
	ID    int                  `json:"id"`
	Row   entity.PercentileRow `json:"row"`
	Found bool                 `json:"found"`
}

// String renders the result for display.
func (r Result) String() string {
	if !r.Found {
		return fmt.Sprintf("Pokemon with ID %d not found.", r.ID)
	}
	return fmt.Sprintf("poke_id=%d height_percentile=%.2f weight_percentile=%.2f",
		r.Row.ID, r.Row.HeightPercentile, r.Row.WeightPercentile)
}

// Service reads rows from a PercentileStore.
type Service struct {
	store  store.PercentileStore
	logger zerolog.Logger
}

// NewService creates a lookup service over s.
func NewService(s store.PercentileStore) *Service {
	return &Service{
		store:  s,
		logger: log.With().Str("component", "lookup").Logger(),
	}
}

// Lookup returns the percentile row for id. An unknown id is not an error;
// store failures are.
func (s *Service) Lookup(ctx context.Context, id int) (Result, error) {
	row, err := s.store.LookupPercentile(ctx, id)
	switch {
	case err == nil:
		lookupsTotal.WithLabelValues("found").Inc()
		return Result{ID: id, Row: row, Found: true}, nil
	case errors.Is(err, store.ErrNotFound):
		lookupsTotal.WithLabelValues("not_found").Inc()
		s.logger.Debug().Int("id", id).Msg("Lookup miss")
		return Result{ID: id}, nil
	default:
		lookupsTotal.WithLabelValues("error").Inc()
		s.logger.Error().Err(err).Int("id", id).Msg("Lookup failed")
		return Result{ID: id}, fmt.Errorf("lookup %d: %w", id, err)
	}
}
