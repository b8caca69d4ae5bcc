package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/queuectl/queuectl/internal/job"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJobs(w io.Writer, jobs []*job.Job) error {
	if len(jobs) == 0 {
		_, err := fmt.Fprintln(w, "No jobs found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tATTEMPTS\tMAX_RETRIES\tUPDATED\tCOMMAND")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			j.ID,
			j.State,
			j.Attempts,
			j.MaxRetries,
			j.UpdatedAt.Local().Format(time.DateTime),
			truncate(j.Command, 60),
		)
	}
	return tw.Flush()
}

func printStats(w io.Writer, stats map[job.State]int) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	total := 0
	for _, s := range job.States {
		fmt.Fprintf(tw, "%s\t%d\n", s, stats[s])
		total += stats[s]
	}
	fmt.Fprintf(tw, "total\t%d\n", total)
	return tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
