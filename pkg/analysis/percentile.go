// Package analysis computes percentile ranks and descriptive statistics over a
// complete population of catalog records.
package analysis

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/Sternrassler/pokeapi-percentiles/pkg/entity"
)

// ErrEmptyPopulation is returned when a computation is asked to run over no values.
var ErrEmptyPopulation = errors.New("empty population")

// Kind selects how ties and the value itself are counted in a percentile rank.
type Kind string

const (
	// KindMean counts values strictly below plus half of the values equal.
	// Tied values share the average rank of their group. A population of one
	// value ranks 100.
	KindMean Kind = "mean"

	// KindRank averages the ranks a value would hold among its ties,
	// counting the value itself.
	KindRank Kind = "rank"

	// KindStrict counts only values strictly below.
	KindStrict Kind = "strict"

	// KindWeak counts values below or equal.
	KindWeak Kind = "weak"
)

// ParseKind converts a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(s)) {
	case "", KindMean:
		return KindMean, nil
	case KindStrict:
		return KindStrict, nil
	case KindWeak:
		return KindWeak, nil
	case KindRank:
		return KindRank, nil
	default:
		return "", fmt.Errorf("unknown percentile kind %q", s)
	}
}

// PercentileRanks returns the rank in [0, 100] of every value against the
// whole slice. Results are independent of the order of values.
func PercentileRanks(values []float64, kind Kind) ([]float64, error) {
	if len(values) == 0 {
		return nil, ErrEmptyPopulation
	}
	if kind == "" {
		kind = KindMean
	}

	if len(values) == 1 && kind == KindMean {
		// Nothing below, everything tied.
		return []float64{100}, nil
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)
	n := float64(len(sorted))

	ranks := make([]float64, len(values))
	for i, v := range values {
		less := sort.SearchFloat64s(sorted, v)
		lessOrEqual := sort.Search(len(sorted), func(j int) bool { return sorted[j] > v })
		equal := lessOrEqual - less

		var counted float64
		switch kind {
		case KindMean:
			counted = float64(less) + 0.5*float64(equal)
		case KindStrict:
			counted = float64(less)
		case KindWeak:
			counted = float64(lessOrEqual)
		case KindRank:
			counted = float64(less+lessOrEqual+1) / 2
		default:
			return nil, fmt.Errorf("unknown percentile kind %q", kind)
		}
		ranks[i] = 100 * counted / n
	}
	return ranks, nil
}

// ComputePercentiles ranks the selected attribute of every record against the
// full collection and returns the rank keyed by record id.
func ComputePercentiles(c entity.Collection, sel entity.Selector, kind Kind) (map[int]float64, error) {
	ranks, err := PercentileRanks(c.Values(sel), kind)
	if err != nil {
		return nil, err
	}

	out := make(map[int]float64, c.Len())
	for i, r := range c.All() {
		out[r.ID] = ranks[i]
	}
	return out, nil
}

// Annotate computes height and weight percentiles over the complete collection
// and returns a new collection whose records carry them. The input is not
// modified.
func Annotate(c entity.Collection, kind Kind) (entity.Collection, error) {
	heights, err := PercentileRanks(c.Values(entity.HeightOf), kind)
	if err != nil {
		return entity.Collection{}, fmt.Errorf("height percentiles: %w", err)
	}
	weights, err := PercentileRanks(c.Values(entity.WeightOf), kind)
	if err != nil {
		return entity.Collection{}, fmt.Errorf("weight percentiles: %w", err)
	}

	records := make([]entity.Record, 0, c.Len())
	for i, r := range c.All() {
		records = append(records, r.WithPercentiles(heights[i], weights[i]))
	}
	return entity.NewCollection(records)
}
