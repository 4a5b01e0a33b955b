package pipeline

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"
)

// WriteText prints a human-readable summary of the run.
func (r Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "run\t%s\n", r.RunID)
	fmt.Fprintf(tw, "duration\t%s\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(tw, "fetched\t%d/%d\n", r.Retrieval.Fetched, r.Retrieval.Requested)
	if n := len(r.Retrieval.Failures); n > 0 {
		counts := r.Retrieval.CountByClass()
		classes := make([]string, 0, len(counts))
		for class, c := range counts {
			classes = append(classes, fmt.Sprintf("%s=%d", class, c))
		}
		slices.Sort(classes)
		fmt.Fprintf(tw, "failed\t%d (%s)\n", n, strings.Join(classes, ", "))
	}
	if r.EntitiesSaved > 0 {
		fmt.Fprintf(tw, "entities saved\t%d\n", r.EntitiesSaved)
	}
	if r.PercentilesSaved > 0 {
		fmt.Fprintf(tw, "percentiles saved\t%d (%s)\n", r.PercentilesSaved, r.Kind)
	}
	if s := r.Stats; s != nil {
		fmt.Fprintf(tw, "height\tmean %.2f  median %.2f  std %.2f  p90 %.2f\n",
			s.Height.Mean, s.Height.Median, s.Height.StdDev, s.Height.P90)
		fmt.Fprintf(tw, "weight\tmean %.2f  median %.2f  std %.2f  p90 %.2f\n",
			s.Weight.Mean, s.Weight.Median, s.Weight.StdDev, s.Weight.P90)
	}
	return tw.Flush()
}
