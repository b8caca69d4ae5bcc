package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/queuectl/queuectl/internal/job"
)

func statusCmd(a *app) *cobra.Command {
	var asJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show job counts per state and running workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, closeBackend, err := a.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer closeBackend()

			out := cmd.OutOrStdout()

			if remote, ok := b.(remoteBackend); ok {
				resp, err := remote.FullStats(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(out, resp)
				}
				if err := printStats(out, resp.Jobs); err != nil {
					return err
				}
				fmt.Fprintf(out, "\nWorkers: %d active (%d busy, %d idle)\n",
					resp.Workers.Active, resp.Workers.Busy, resp.Workers.Idle)
				return nil
			}

			stats, err := b.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(out, map[string]any{"jobs": stats})
			}
			if err := printStats(out, stats); err != nil {
				return err
			}
			fmt.Fprintln(out, "\nWorkers: not running")
			if stats[job.StateProcessing] > 0 || stats[job.StateFailed] > 0 {
				fmt.Fprintln(out, "Leased jobs will be reclaimed when workers start.")
			}
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return statusCmd
}
