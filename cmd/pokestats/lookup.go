package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/pokeapi-percentiles/pkg/lookup"
)

func newLookupCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <id>...",
		Short: "Print the stored percentiles of one or more ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int, len(args))
			for i, arg := range args {
				id, err := strconv.Atoi(arg)
				if err != nil {
					return fmt.Errorf("invalid id %q", arg)
				}
				ids[i] = id
			}

			a, err := openApp(cmd.Context(), root.cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			svc := lookup.NewService(a.percentiles())
			for _, id := range ids {
				res, err := svc.Lookup(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), res)
			}
			return nil
		},
	}
}
