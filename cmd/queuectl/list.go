package main

import (
	"github.com/spf13/cobra"

	"github.com/queuectl/queuectl/internal/job"
)

func listCmd(a *app) *cobra.Command {
	var (
		state  string
		asJSON bool
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in creation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var states []job.State
			if state != "" {
				s, err := job.ParseState(state)
				if err != nil {
					return err
				}
				states = append(states, s)
			}

			b, closeBackend, err := a.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer closeBackend()

			jobs, err := b.List(cmd.Context(), states...)
			if err != nil {
				return err
			}
			if asJSON {
				if jobs == nil {
					jobs = []*job.Job{}
				}
				return printJSON(cmd.OutOrStdout(), jobs)
			}
			return printJobs(cmd.OutOrStdout(), jobs)
		},
	}
	listCmd.Flags().StringVar(&state, "state", "", "only jobs in this state (pending, processing, completed, failed, dead)")
	listCmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return listCmd
}
