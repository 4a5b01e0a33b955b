package main

import (
	"github.com/spf13/cobra"
)

func newFetchCommand(root *rootOptions) *cobra.Command {
	var incremental bool

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Retrieve the catalog and save the raw records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), root.cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			_, report, err := a.pipeline(incremental).FetchAndSave(cmd.Context())
			if werr := report.WriteText(cmd.OutOrStdout()); werr != nil && err == nil {
				err = werr
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&incremental, "incremental", false, "append records instead of replacing the raw store")
	return cmd
}
