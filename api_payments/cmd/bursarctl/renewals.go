package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"frameworks/api_payments/internal/decisionlog"
	"frameworks/api_payments/internal/lifecycle"
	"frameworks/api_payments/internal/policy"
	"frameworks/pkg/config"
	"frameworks/pkg/logging"
)

func newRenewalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "renewals",
		Short: "Subscription period-boundary maintenance",
	}
	cmd.AddCommand(newRenewalsSweepCmd())
	return cmd
}

// newRenewalsSweepCmd implements: bursarctl renewals sweep [--enqueue]
func newRenewalsSweepCmd() *cobra.Command {
	var (
		limit   int
		enqueue bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "End due trials, apply scheduled cancellations and deferred downgrades",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := newLogger(cmd.ErrOrStderr())

			if enqueue {
				d, closeFn, err := newDispatcher(ctx, logger)
				if err != nil {
					return err
				}
				defer closeFn()
				if err := d.EnqueueRenewalSweep(ctx); err != nil {
					return fmt.Errorf("failed to enqueue renewal sweep: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "renewal sweep queued")
				return nil
			}

			pol, err := policy.Load(config.GetEnv("POLICY_FILE", "config/policy.yaml"))
			if err != nil {
				return err
			}
			s, db, err := openStore(logger)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			lm := lifecycle.NewManager(s, decisionlog.New(s, logger), pol.Dunning, logger)
			subs, err := s.ListRenewalDue(ctx, time.Now(), limit)
			if err != nil {
				return err
			}

			var changed, failed int
			for _, sub := range subs {
				out, err := lm.Renew(ctx, sub.ID)
				if err != nil {
					failed++
					logger.WithError(err).WithFields(logging.Fields{
						"subscription_id": sub.ID,
					}).Error("Renewal failed")
					continue
				}
				if out.Changed() {
					changed++
				}
			}

			if output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]int{"due": len(subs), "changed": changed, "failed": failed})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "due %d, changed %d, failed %d\n", len(subs), changed, failed)
			if failed > 0 {
				return fmt.Errorf("%d renewals failed", failed)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 500, "maximum subscriptions to process")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "queue the sweep for the service workers")
	return cmd
}
