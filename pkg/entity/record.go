// Package entity defines the catalog data model: fetched records, the ordered
// collection they are assembled into, and the persisted percentile rows.
package entity

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRecord is returned when a record violates the data model.
var ErrInvalidRecord = errors.New("invalid record")

// Record is one entity fetched from the remote catalog.
//
// Height and Weight are the raw attributes as reported by the API. The
// percentile fields stay nil until the record has been analyzed as part of a
// complete population.
type Record struct {
	ID     int     `json:"id"`
	Name   string  `json:"name"`
	Height float64 `json:"height"`
	Weight float64 `json:"weight"`

	HeightPercentile *float64 `json:"height_percentile,omitempty"`
	WeightPercentile *float64 `json:"weight_percentile,omitempty"`
}

// Validate checks the core fields of the record.
func (r Record) Validate() error {
	if r.ID < 1 {
		return fmt.Errorf("%w: id must be >= 1 (got %d)", ErrInvalidRecord, r.ID)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: id %d has empty name", ErrInvalidRecord, r.ID)
	}
	if !validAttribute(r.Height) {
		return fmt.Errorf("%w: id %d has invalid height %v", ErrInvalidRecord, r.ID, r.Height)
	}
	if !validAttribute(r.Weight) {
		return fmt.Errorf("%w: id %d has invalid weight %v", ErrInvalidRecord, r.ID, r.Weight)
	}
	return nil
}

// Analyzed reports whether both percentiles have been computed.
func (r Record) Analyzed() bool {
	return r.HeightPercentile != nil && r.WeightPercentile != nil
}

// WithPercentiles returns a copy of r carrying the given percentiles.
func (r Record) WithPercentiles(height, weight float64) Record {
	r.HeightPercentile = &height
	r.WeightPercentile = &weight
	return r
}

func validAttribute(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// Selector extracts one numeric attribute from a record.
type Selector func(Record) float64

// HeightOf selects the height attribute.
func HeightOf(r Record) float64 { return r.Height }

// WeightOf selects the weight attribute.
func WeightOf(r Record) float64 { return r.Weight }

// PercentileRow is the persisted analysis result for one record.
type PercentileRow struct {
	ID               int     `json:"poke_id"`
	HeightPercentile float64 `json:"height_percentile"`
	WeightPercentile float64 `json:"weight_percentile"`
}
