package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/pokeapi-percentiles/pkg/pipeline"
)

func newAnalyzeCommand(root *rootOptions) *cobra.Command {
	var (
		fromStore   bool
		incremental bool
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Compute and save height and weight percentiles",
		Long: `Fetch the catalog, rank height and weight of every record against the
whole catalog and replace the stored percentiles.

With --from-store the raw catalog saved by an earlier fetch is analyzed
instead and nothing is fetched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, root.cfg, !fromStore)
			if err != nil {
				return err
			}
			defer a.Close()

			p := a.pipeline(incremental)
			var report pipeline.Report
			if fromStore {
				report, err = p.AnalyzeStored(ctx)
			} else {
				report, err = p.Run(ctx)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if werr := enc.Encode(report); werr != nil && err == nil {
					err = werr
				}
				return err
			}
			if werr := report.WriteText(out); werr != nil && err == nil {
				err = werr
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&fromStore, "from-store", false, "analyze the stored raw catalog without fetching")
	cmd.Flags().BoolVar(&incremental, "incremental", false, "append fetched records instead of replacing the raw store")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.MarkFlagsMutuallyExclusive("from-store", "incremental")
	return cmd
}
