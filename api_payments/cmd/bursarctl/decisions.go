package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"frameworks/api_payments/internal/decisionlog"
	"frameworks/api_payments/internal/models"
)

func newDecisionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Inspect the decision log",
	}
	cmd.AddCommand(newDecisionsListCmd())
	return cmd
}

func newDecisionsListCmd() *cobra.Command {
	var (
		agent    string
		entityID string
		since    string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent decisions, newest first",
		Example: `  bursarctl decisions list --agent FDR --since 24h
  bursarctl decisions list --entity <subscription-id> --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := decisionlog.Filter{
				Agent:    models.Agent(strings.ToUpper(agent)),
				EntityID: entityID,
				Limit:    limit,
			}
			if since != "" {
				t, err := parseSince(since, time.Now())
				if err != nil {
					return err
				}
				f.Since = t
			}

			logger := newLogger(cmd.ErrOrStderr())
			s, db, err := openStore(logger)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			entries, err := decisionlog.New(s, logger).Query(cmd.Context(), f)
			if err != nil {
				return err
			}
			if output == "json" {
				return printJSON(cmd.OutOrStdout(), entries)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tAGENT\tENTITY\tTRIGGER\tEXPLANATION")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.UTC().Format(time.RFC3339), e.Agent, e.EntityID, e.Trigger, e.Explanation)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "SLM|PGO|CPR|FDR")
	cmd.Flags().StringVar(&entityID, "entity", "", "entity id")
	cmd.Flags().StringVar(&since, "since", "", "RFC3339 time or a lookback such as 24h or 7d")
	cmd.Flags().IntVar(&limit, "limit", decisionlog.DefaultQueryLimit, "maximum entries")
	return cmd
}

// parseSince accepts an RFC3339 timestamp, a Go duration or a day count
// such as 7d, relative to now.
func parseSince(v string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if strings.HasSuffix(v, "d") {
		var days int
		if _, err := fmt.Sscanf(v, "%dd", &days); err == nil && days > 0 && fmt.Sprintf("%dd", days) == v {
			return now.Add(-time.Duration(days) * 24 * time.Hour), nil
		}
		return time.Time{}, fmt.Errorf("invalid --since %q", v)
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return time.Time{}, fmt.Errorf("invalid --since %q", v)
	}
	return now.Add(-d), nil
}
