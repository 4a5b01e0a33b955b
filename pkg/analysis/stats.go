package analysis

import (
	"fmt"
	"math"
	"slices"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/Sternrassler/pokeapi-percentiles/pkg/entity"
)

// sketchAccuracy is the relative accuracy of the approximate quantiles.
const sketchAccuracy = 0.01

// Stats summarizes one attribute over a population.
// StdDev and Variance are population (not sample) statistics.
type Stats struct {
	Count    int     `json:"count"`
	Mean     float64 `json:"mean"`
	Median   float64 `json:"median"`
	StdDev   float64 `json:"std_dev"`
	Variance float64 `json:"variance"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`

	// Approximate quantiles from a DDSketch.
	P50 float64 `json:"p50"`
	P90 float64 `json:"p90"`
	P99 float64 `json:"p99"`
}

// Describe computes descriptive statistics over values.
func Describe(values []float64) (Stats, error) {
	if len(values) == 0 {
		return Stats{}, ErrEmptyPopulation
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)
	n := len(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range sorted {
		d := v - mean
		sq += d * d
	}
	variance := sq / float64(n)

	var median float64
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	stats := Stats{
		Count:    n,
		Mean:     mean,
		Median:   median,
		StdDev:   math.Sqrt(variance),
		Variance: variance,
		Min:      sorted[0],
		Max:      sorted[n-1],
	}

	sketch, err := ddsketch.NewDefaultDDSketch(sketchAccuracy)
	if err != nil {
		return Stats{}, fmt.Errorf("create sketch: %w", err)
	}
	for _, v := range sorted {
		// DDSketch tracks zero separately; negative input is rejected upstream.
		if err := sketch.Add(v); err != nil {
			return Stats{}, fmt.Errorf("sketch add %v: %w", v, err)
		}
	}
	quantiles, err := sketch.GetValuesAtQuantiles([]float64{0.50, 0.90, 0.99})
	if err != nil {
		return Stats{}, fmt.Errorf("sketch quantiles: %w", err)
	}
	stats.P50, stats.P90, stats.P99 = quantiles[0], quantiles[1], quantiles[2]

	return stats, nil
}

// Summary holds descriptive statistics for both attributes of a run.
type Summary struct {
	Height Stats `json:"height"`
	Weight Stats `json:"weight"`
}

// Summarize describes height and weight over the whole collection.
func Summarize(c entity.Collection) (Summary, error) {
	height, err := Describe(c.Values(entity.HeightOf))
	if err != nil {
		return Summary{}, fmt.Errorf("describe height: %w", err)
	}
	weight, err := Describe(c.Values(entity.WeightOf))
	if err != nil {
		return Summary{}, fmt.Errorf("describe weight: %w", err)
	}
	return Summary{Height: height, Weight: weight}, nil
}
