package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"frameworks/api_payments/internal/lifecycle"
	"frameworks/api_payments/internal/models"
	"frameworks/api_payments/internal/notify"
	"frameworks/api_payments/internal/payout"
	"frameworks/api_payments/internal/queue"
	"frameworks/api_payments/internal/store"
	"frameworks/pkg/logging"
)

const renewalSweepLimit = 500

// Notifier sends dunning reminders.
type Notifier interface {
	Send(ctx context.Context, r notify.DunningReminder) error
}

// Workers holds the collaborators queue handlers call into.
type Workers struct {
	store      *store.Store
	lifecycle  *lifecycle.Manager
	reconciler *payout.Reconciler
	notifier   Notifier
	dispatcher *Dispatcher
	now        func() time.Time
	logger     logging.Logger
}

func NewWorkers(s *store.Store, lm *lifecycle.Manager, rec *payout.Reconciler, notifier Notifier, d *Dispatcher, logger logging.Logger) *Workers {
	return &Workers{
		store:      s,
		lifecycle:  lm,
		reconciler: rec,
		notifier:   notifier,
		dispatcher: d,
		now:        time.Now,
		logger:     logger,
	}
}

// Register attaches the handlers to their queues. A nil queue is skipped.
func (w *Workers) Register(dunning, payouts, renewal *queue.Queue) {
	if dunning != nil {
		dunning.Handle(TypeReminder, w.Reminder)
	}
	if payouts != nil {
		payouts.Handle(TypePayoutRun, w.PayoutRun)
		payouts.Handle(TypeDisburse, w.Disburse)
	}
	if renewal != nil {
		renewal.Handle(TypeSweep, w.Sweep)
		renewal.Handle(TypeRenew, w.Renew)
	}
}

// Reminder sends a dunning email if the subscription is still past due at
// the retry count the reminder was scheduled for, and only once per count.
func (w *Workers) Reminder(ctx context.Context, job *queue.Job) error {
	var n lifecycle.DunningNotice
	if err := job.Decode(&n); err != nil {
		return err
	}
	log := w.logger.WithFields(logging.Fields{
		"subscription_id": n.SubscriptionID,
		"retry_count":     n.RetryCount,
		"template":        n.Template,
	})

	sub, err := w.store.GetSubscription(ctx, n.SubscriptionID)
	if errors.Is(err, models.ErrNotFound) {
		log.Warn("Dunning reminder for unknown subscription dropped")
		return nil
	}
	if err != nil {
		return err
	}
	if sub.Status != models.StatusPastDue || sub.DunningRetryCount != n.RetryCount {
		log.WithField("status", sub.Status).Info("Subscription moved on, dunning reminder skipped")
		return nil
	}

	user, err := w.store.GetUser(ctx, sub.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return queue.Permanent(err)
		}
		return err
	}
	planName := ""
	if plan, err := w.store.GetPlan(ctx, sub.PlanID); err == nil {
		planName = plan.Name
	}

	// The claim commits only if the email went out; a failed send is retried.
	return w.store.InTx(ctx, func(tx *store.Store) error {
		claimed, err := tx.ClaimDunningNotice(ctx, sub.ID, n.RetryCount, n.Template)
		if err != nil {
			return err
		}
		if !claimed {
			log.Info("Dunning reminder already sent")
			return nil
		}
		return w.notifier.Send(ctx, notify.DunningReminder{
			To:             user.Email,
			Template:       n.Template,
			SubscriptionID: sub.ID,
			PlanName:       planName,
			RetryCount:     n.RetryCount,
		})
	})
}

// PayoutRun runs CPR for the job's period.
func (w *Workers) PayoutRun(ctx context.Context, job *queue.Job) error {
	var run PayoutRun
	if err := job.Decode(&run); err != nil {
		return err
	}
	result, err := w.reconciler.Run(ctx, run.PeriodStart, run.PeriodEnd, run.CreatorIDs)
	if models.IsValidation(err) {
		return queue.Permanent(err)
	}
	if err != nil {
		return fmt.Errorf("failed to run payouts: %w", err)
	}
	w.logger.WithFields(logging.Fields{
		"period_start":  run.PeriodStart,
		"period_end":    run.PeriodEnd,
		"processed":     result.PayoutsProcessed,
		"discrepancies": len(result.Discrepancies),
	}).Info("Scheduled payout run complete")
	return nil
}

// Disburse sends pending payouts.
func (w *Workers) Disburse(ctx context.Context, _ *queue.Job) error {
	result, err := w.reconciler.Disburse(ctx, payout.DefaultDisburseLimit)
	if errors.Is(err, payout.ErrTransfersDisabled) {
		w.logger.Warn("Payout transfers not configured, disbursement skipped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to disburse payouts: %w", err)
	}
	if result.Initiated+result.Failed+result.Deferred > 0 {
		w.logger.WithFields(logging.Fields{
			"initiated": result.Initiated,
			"failed":    result.Failed,
			"deferred":  result.Deferred,
		}).Info("Payout disbursement pass complete")
	}
	return nil
}

// Sweep fans out one renew job per subscription with period-boundary work.
func (w *Workers) Sweep(ctx context.Context, _ *queue.Job) error {
	subs, err := w.store.ListRenewalDue(ctx, w.now(), renewalSweepLimit)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if err := w.dispatcher.EnqueueRenew(ctx, sub.ID); err != nil {
			return fmt.Errorf("failed to enqueue renewal for %s: %w", sub.ID, err)
		}
	}
	if len(subs) > 0 {
		w.logger.WithField("count", len(subs)).Info("Renewal sweep queued subscriptions")
	}
	return nil
}

// Renew applies period-boundary transitions to one subscription.
func (w *Workers) Renew(ctx context.Context, job *queue.Job) error {
	var r Renew
	if err := job.Decode(&r); err != nil {
		return err
	}
	out, err := w.lifecycle.Renew(ctx, r.SubscriptionID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if out.Changed() {
		w.logger.WithFields(logging.Fields{
			"subscription_id": r.SubscriptionID,
			"trial_ended":     out.TrialEnded,
			"canceled":        out.Canceled,
			"plan_applied":    out.PlanApplied,
		}).Info("Subscription renewed")
	}
	return nil
}
