package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/queuectl/queuectl/internal/job"
)

func dlqCmd(a *app) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and retry jobs in the dead letter queue",
	}

	var asJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, closeBackend, err := a.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer closeBackend()

			jobs, err := b.DeadLetters(cmd.Context())
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
	listCmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	retryCmd := &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Move a dead job back to pending with its attempts reset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, closeBackend, err := a.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer closeBackend()

			j, err := b.RequeueFromDead(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s moved to %s\n", j.ID, j.State)
			return nil
		},
	}

	dlqCmd.AddCommand(listCmd, retryCmd)
	return dlqCmd
}
