// Package jobs wires the durable queues to the agents: dunning reminders,
// payout runs and disbursement, and the renewal sweep.
package jobs

import (
	"context"
	"time"

	"frameworks/api_payments/internal/lifecycle"
	"frameworks/api_payments/internal/queue"
)

const (
	QueueDunning = "dunning"
	QueuePayout  = "payout"
	QueueRenewal = "renewal"

	TypeReminder  = "reminder"
	TypePayoutRun = "run"
	TypeDisburse  = "disburse"
	TypeSweep     = "sweep"
	TypeRenew     = "renew"
)

// PayoutRun is the payload of a payout run job.
type PayoutRun struct {
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
	CreatorIDs  []string  `json:"creatorIds,omitempty"`
}

// Renew is the payload of a single-subscription renewal job.
type Renew struct {
	SubscriptionID string `json:"subscriptionId"`
}

// Enqueuer is the slice of a queue producers need.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload interface{}) (*queue.Job, error)
	Schedule(ctx context.Context, jobType string, payload interface{}, runAt time.Time) (*queue.Job, error)
}

// Dispatcher enqueues typed jobs onto the service queues.
type Dispatcher struct {
	dunning Enqueuer
	payout  Enqueuer
	renewal Enqueuer
}

func NewDispatcher(dunning, payout, renewal Enqueuer) *Dispatcher {
	return &Dispatcher{dunning: dunning, payout: payout, renewal: renewal}
}

// ScheduleDunning queues the reminder for a committed payment_failed transition.
func (d *Dispatcher) ScheduleDunning(ctx context.Context, n lifecycle.DunningNotice) error {
	_, err := d.dunning.Schedule(ctx, TypeReminder, n, n.RunAt)
	return err
}

func (d *Dispatcher) EnqueuePayoutRun(ctx context.Context, run PayoutRun) error {
	_, err := d.payout.Enqueue(ctx, TypePayoutRun, run)
	return err
}

func (d *Dispatcher) EnqueueDisburse(ctx context.Context) error {
	_, err := d.payout.Enqueue(ctx, TypeDisburse, struct{}{})
	return err
}

func (d *Dispatcher) EnqueueRenewalSweep(ctx context.Context) error {
	_, err := d.renewal.Enqueue(ctx, TypeSweep, struct{}{})
	return err
}

func (d *Dispatcher) EnqueueRenew(ctx context.Context, subscriptionID string) error {
	_, err := d.renewal.Enqueue(ctx, TypeRenew, Renew{SubscriptionID: subscriptionID})
	return err
}
