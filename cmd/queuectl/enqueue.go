package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/queuectl/queuectl/internal/queue"
)

func enqueueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <job-json>",
		Short: "Add a job to the queue",
		Example: `  queuectl enqueue '{"id":"job1","command":"echo hello"}'
  queuectl enqueue '{"command":"sleep 2","max_retries":5}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req queue.EnqueueRequest
			if err := json.Unmarshal([]byte(args[0]), &req); err != nil {
				return fmt.Errorf("invalid job JSON: %w", err)
			}

			b, closeBackend, err := a.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer closeBackend()

			j, err := b.Enqueue(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s enqueued (max_retries %d)\n", j.ID, j.MaxRetries)
			return nil
		},
	}
}
