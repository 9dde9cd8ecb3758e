// Package payout computes creator earnings per period and turns them into
// payout records, then disburses pending records through Stripe Connect.
package payout

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"frameworks/api_payments/internal/decisionlog"
	"frameworks/api_payments/internal/models"
	"frameworks/api_payments/internal/store"
	"frameworks/pkg/billing"
	"frameworks/pkg/database"
	"frameworks/pkg/logging"
)

const (
	ReasonAlreadyPaid = "Payout already exists for this period"
	ReasonNotRecorded = "Payout could not be recorded"
)

// Discrepancy is a creator the run could not pay.
type Discrepancy struct {
	CreatorID string `json:"creatorId"`
	Reason    string `json:"reason"`
}

// Report is one payout created by a run.
type Report struct {
	CreatorID string              `json:"creatorId"`
	PayoutID  string              `json:"payoutId"`
	Gross     decimal.Decimal     `json:"gross"`
	Fees      decimal.Decimal     `json:"fees"`
	Net       decimal.Decimal     `json:"net"`
	Status    models.PayoutStatus `json:"status"`
}

// RunResult summarizes one reconciliation run.
type RunResult struct {
	PayoutsProcessed int             `json:"payoutsProcessed"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	Currency         string          `json:"currency"`
	Discrepancies    []Discrepancy   `json:"discrepancies"`
	Reports          []Report        `json:"reports"`
}

// Earnings is one creator's split for a period.
type Earnings struct {
	Gross decimal.Decimal
	Fee   decimal.Decimal
	Net   decimal.Decimal
}

// Reconciler runs payout calculations.
type Reconciler struct {
	store     *store.Store
	recorder  decisionlog.Recorder
	transfers TransferCreator
	currency  string
	logger    logging.Logger
}

func NewReconciler(s *store.Store, recorder decisionlog.Recorder, transfers TransferCreator, logger logging.Logger) *Reconciler {
	return &Reconciler{
		store:     s,
		recorder:  recorder,
		transfers: transfers,
		currency:  billing.DefaultCurrency(),
		logger:    logger,
	}
}

// Split computes gross from earning lines and applies feePercent. Fee and
// gross are rounded to the currency's minor unit so gross = fee + net exactly.
func Split(creatorID string, lines []store.EarningLine, feePercent decimal.Decimal, currency string) Earnings {
	gross := decimal.Zero
	for _, l := range lines {
		switch {
		case l.DirectCreatorID == creatorID:
			gross = gross.Add(l.Amount)
		case l.SharePercent.Valid:
			gross = gross.Add(billing.Percent(l.Amount, l.SharePercent.Decimal))
		}
	}
	gross = billing.Round(gross, currency)
	fee := billing.Round(billing.Percent(gross, feePercent), currency)
	return Earnings{Gross: gross, Fee: fee, Net: gross.Sub(fee)}
}

// Run creates pending payout records for [periodStart, periodEnd]. With no
// creator ids every creator is considered; unknown ids are skipped. One
// creator's failure never stops the run.
func (r *Reconciler) Run(ctx context.Context, periodStart, periodEnd time.Time, creatorIDs []string) (RunResult, error) {
	result := RunResult{
		TotalAmount:   decimal.Zero,
		Currency:      r.currency,
		Discrepancies: []Discrepancy{},
		Reports:       []Report{},
	}
	if !periodEnd.After(periodStart) {
		return result, models.NewValidationError("periodEnd", "periodEnd must be after periodStart")
	}

	creators, err := r.store.ListCreators(ctx, creatorIDs)
	if err != nil {
		return result, err
	}

	for i := range creators {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		c := &creators[i]

		report, reason, err := r.runCreator(ctx, c, periodStart, periodEnd)
		if err != nil {
			r.logger.WithError(err).WithField("creator_id", c.ID).Error("Failed to reconcile creator payout")
			result.Discrepancies = append(result.Discrepancies, Discrepancy{CreatorID: c.ID, Reason: ReasonNotRecorded})
			continue
		}
		if reason != "" {
			result.Discrepancies = append(result.Discrepancies, Discrepancy{CreatorID: c.ID, Reason: reason})
			continue
		}
		if report == nil {
			continue
		}
		result.PayoutsProcessed++
		result.TotalAmount = result.TotalAmount.Add(report.Net)
		result.Reports = append(result.Reports, *report)
	}

	r.logger.WithFields(logging.Fields{
		"period_start":  periodStart,
		"period_end":    periodEnd,
		"processed":     result.PayoutsProcessed,
		"discrepancies": len(result.Discrepancies),
		"total":         result.TotalAmount.StringFixed(2),
	}).Info("Creator payout run finished")

	return result, nil
}

// runCreator returns a report for a new payout, a discrepancy reason, or
// neither when the creator is below the minimum.
func (r *Reconciler) runCreator(ctx context.Context, c *models.Creator, start, end time.Time) (*Report, string, error) {
	lines, err := r.store.CreatorEarningLines(ctx, c.ID, start, end, r.currency)
	if err != nil {
		return nil, "", err
	}
	e := Split(c.ID, lines, c.PlatformFeePercent, r.currency)
	if !e.Net.IsPositive() || e.Net.LessThan(c.MinPayoutAmount) {
		return nil, "", nil
	}

	record := &models.PayoutRecord{
		CreatorID:     c.ID,
		Amount:        e.Net,
		Currency:      r.currency,
		Status:        models.PayoutPending,
		PeriodStart:   start,
		PeriodEnd:     end,
		GrossEarnings: e.Gross,
		PlatformFee:   e.Fee,
	}

	var reason string
	err = r.store.InTx(ctx, func(tx *store.Store) error {
		exists, err := tx.HasOverlappingPayout(ctx, c.ID, start, end)
		if err != nil {
			return err
		}
		if exists {
			reason = ReasonAlreadyPaid
			return nil
		}
		if err := tx.InsertPayout(ctx, record); err != nil {
			return err
		}
		return decisionlog.Bind(r.recorder, tx).Record(ctx, decisionlog.Entry{
			Agent:      models.AgentCPR,
			EntityID:   c.ID,
			EntityType: "creator_payout",
			Trigger:    "payout_calculation",
			Payload: map[string]interface{}{
				"periodStart": start,
				"periodEnd":   end,
				"lines":       len(lines),
			},
			Decision: map[string]interface{}{
				"gross":          e.Gross,
				"platformFee":    e.Fee,
				"net":            e.Net,
				"currency":       r.currency,
				"payoutRecordId": record.ID,
			},
			Explanation: decisionlog.PayoutExplanation(e.Gross, e.Fee, c.PlatformFeePercent, e.Net),
		})
	})
	if database.IsExclusionViolation(err) {
		return nil, ReasonAlreadyPaid, nil
	}
	if err != nil {
		return nil, "", err
	}
	if reason != "" {
		return nil, reason, nil
	}

	return &Report{
		CreatorID: c.ID,
		PayoutID:  record.ID,
		Gross:     e.Gross,
		Fees:      e.Fee,
		Net:       e.Net,
		Status:    record.Status,
	}, "", nil
}
