package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/searchlab/searchlab/internal/experiment"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Query the experiment ledger",
	}
	cmd.AddCommand(newRunsListCmd())
	cmd.AddCommand(newRunsShowCmd())
	return cmd
}

func newRunsListCmd() *cobra.Command {
	var (
		since   string
		until   string
		status  string
		studyID string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs matching the filters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := experiment.Filter{
				Status:  status,
				StudyID: studyID,
				Limit:   limit,
			}
			if since != "" {
				ts, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("invalid --since (want RFC3339): %w", err)
				}
				filter.Since = &ts
			}
			if until != "" {
				ts, err := time.Parse(time.RFC3339, until)
				if err != nil {
					return fmt.Errorf("invalid --until (want RFC3339): %w", err)
				}
				filter.Until = &ts
			}

			l, _, cleanup, err := buildLab(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			runs, err := l.Store.Query(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if flagJSON {
				return writeJSON(cmd.OutOrStdout(), runs)
			}
			out := cmd.OutOrStdout()
			for _, r := range runs {
				fmt.Fprintf(out, "%s  %-16s %s  results=%.0f latency=%.0fms\n",
					r.CreatedAt.Format(time.RFC3339), r.Status, r.RunID,
					r.Metrics["results"], r.Metrics["latency_ms"])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "Only runs at or after this RFC3339 timestamp")
	cmd.Flags().StringVar(&until, "until", "", "Only runs before this RFC3339 timestamp")
	cmd.Flags().StringVar(&status, "status", "", "Filter by run status (ok, partial_failure, failed)")
	cmd.Flags().StringVar(&studyID, "study", "", "Filter by study id")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum runs to return")
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	var withTrace bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run record, optionally with its full trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, _, cleanup, err := buildLab(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			rec, err := l.Store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			payload := map[string]any{"run": rec}
			if withTrace && rec.TraceRef != "" {
				ft, err := l.Store.LoadTrace(rec.TraceRef)
				if err != nil {
					return err
				}
				payload["trace"] = ft
			}
			return writeJSON(cmd.OutOrStdout(), payload)
		},
	}

	cmd.Flags().BoolVar(&withTrace, "trace", false, "Include the serialized flow trace")
	return cmd
}
