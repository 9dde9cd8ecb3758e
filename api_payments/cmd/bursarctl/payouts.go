package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"frameworks/api_payments/internal/decisionlog"
	"frameworks/api_payments/internal/jobs"
	"frameworks/api_payments/internal/payout"
	stripeclient "frameworks/api_payments/internal/stripe"
	"frameworks/pkg/config"
)

func newPayoutsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payouts",
		Short: "Creator payout reconciliation and disbursement",
	}
	cmd.AddCommand(newPayoutsRunCmd())
	cmd.AddCommand(newPayoutsDisburseCmd())
	return cmd
}

// newPayoutsRunCmd implements: bursarctl payouts run --start 2026-09-01 --end 2026-09-30
func newPayoutsRunCmd() *cobra.Command {
	var (
		start, end string
		creators   []string
		enqueue    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create payout records for a period",
		Example: `  # Reconcile September for every creator
  bursarctl payouts run --start 2026-09-01 --end 2026-09-30

  # Hand the run to the service's payout queue instead
  bursarctl payouts run --start 2026-09-01 --end 2026-09-30 --creator <id> --enqueue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			periodStart, err := parsePeriodBound(start, false)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			periodEnd, err := parsePeriodBound(end, true)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			if !periodEnd.After(periodStart) {
				return fmt.Errorf("--end must be after --start")
			}
			for _, id := range creators {
				if err := validateUUID(id); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			logger := newLogger(cmd.ErrOrStderr())

			if enqueue {
				d, closeFn, err := newDispatcher(ctx, logger)
				if err != nil {
					return err
				}
				defer closeFn()
				if err := d.EnqueuePayoutRun(ctx, jobs.PayoutRun{PeriodStart: periodStart, PeriodEnd: periodEnd, CreatorIDs: creators}); err != nil {
					return fmt.Errorf("failed to enqueue payout run: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "payout run queued")
				return nil
			}

			s, db, err := openStore(logger)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			rec := payout.NewReconciler(s, decisionlog.New(s, logger), nil, logger)
			result, err := rec.Run(ctx, periodStart, periodEnd, creators)
			if err != nil {
				return err
			}
			if output == "json" {
				return printJSON(cmd.OutOrStdout(), result)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "payouts created: %d\n", result.PayoutsProcessed)
			fmt.Fprintf(w, "total:           %s %s\n", result.TotalAmount.StringFixed(2), result.Currency)
			for _, d := range result.Discrepancies {
				fmt.Fprintf(w, "  ! %s: %s\n", d.CreatorID, d.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "period start (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "period end, inclusive (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringSliceVar(&creators, "creator", nil, "creator id (repeatable; default all creators)")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "queue the run for the service workers")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newPayoutsDisburseCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "disburse",
		Short: "Send pending payouts through Stripe transfers",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := config.GetEnv("STRIPE_SECRET_KEY", "")
			if key == "" {
				return payout.ErrTransfersDisabled
			}
			logger := newLogger(cmd.ErrOrStderr())
			s, db, err := openStore(logger)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			client := stripeclient.NewClient(stripeclient.Config{SecretKey: key, Logger: logger})
			rec := payout.NewReconciler(s, decisionlog.New(s, logger), client, logger)
			result, err := rec.Disburse(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if output == "json" {
				return printJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initiated %d, failed %d, deferred %d\n", result.Initiated, result.Failed, result.Deferred)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", payout.DefaultDisburseLimit, "maximum payouts to send")
	return cmd
}

// parsePeriodBound accepts a date or an RFC3339 timestamp. A bare end date
// covers the whole day.
func parsePeriodBound(v string, end bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", v)
	}
	if end {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
