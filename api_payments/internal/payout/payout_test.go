package payout

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"frameworks/api_payments/internal/decisionlog"
	"frameworks/api_payments/internal/models"
	"frameworks/api_payments/internal/store"
	stripeclient "frameworks/api_payments/internal/stripe"
	"frameworks/pkg/logging"
)

var (
	periodStart = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
)

type recorderStub struct {
	mu      sync.Mutex
	entries []decisionlog.Entry
}

func (r *recorderStub) Record(_ context.Context, e decisionlog.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

type transferStub struct {
	err    error
	params []stripeclient.TransferParams
}

func (f *transferStub) CreateTransfer(_ context.Context, p stripeclient.TransferParams) (*stripe.Transfer, error) {
	f.params = append(f.params, p)
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.Transfer{ID: "tr_1"}, nil
}

func newTestReconciler(t *testing.T, transfers TransferCreator) (*Reconciler, sqlmock.Sqlmock, *recorderStub) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rec := &recorderStub{}
	r := NewReconciler(store.New(db), rec, transfers, logging.NewDiscardLogger())
	r.currency = "usd"
	return r, mock, rec
}

func creatorRows(id, fee, minimum string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "platform_fee_percent", "payout_schedule", "min_payout_amount", "payee_reference",
		"tax_metadata", "created_at",
	}).AddRow(id, "user_"+id, fee, "weekly", minimum, "acct_1", []byte(`{}`), periodStart)
}

func earningRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "amount", "creator_id", "share_percent"})
}

var (
	listCreators = regexp.QuoteMeta("FROM payments.creators WHERE id::text = ANY($1)")
	earnings     = regexp.QuoteMeta("FROM payments.transactions t")
	overlap      = regexp.QuoteMeta("SELECT EXISTS(")
	insertPayout = regexp.QuoteMeta("INSERT INTO payments.payout_records")
)

func TestSplitRoundTrip(t *testing.T) {
	lines := []store.EarningLine{
		{TransactionID: "t1", Amount: decimal.RequireFromString("100.00"), DirectCreatorID: "c1"},
		{TransactionID: "t2", Amount: decimal.RequireFromString("50.00"), SharePercent: decimal.NewNullDecimal(decimal.NewFromInt(40))},
	}
	e := Split("c1", lines, decimal.NewFromInt(10), "usd")
	assert.True(t, e.Gross.Equal(decimal.RequireFromString("120.00")), e.Gross.String())
	assert.True(t, e.Fee.Equal(decimal.RequireFromString("12.00")), e.Fee.String())
	assert.True(t, e.Net.Equal(decimal.RequireFromString("108.00")), e.Net.String())

	odd := Split("c1", []store.EarningLine{{Amount: decimal.RequireFromString("33.33"), DirectCreatorID: "c1"}}, decimal.NewFromInt(15), "usd")
	assert.True(t, odd.Fee.Equal(decimal.RequireFromString("5.00")), odd.Fee.String())
	assert.True(t, odd.Fee.Add(odd.Net).Equal(odd.Gross))
}

func TestSplitIgnoresUnattributedLines(t *testing.T) {
	lines := []store.EarningLine{{Amount: decimal.RequireFromString("80"), DirectCreatorID: "someone_else"}}
	e := Split("c1", lines, decimal.NewFromInt(10), "usd")
	assert.True(t, e.Gross.IsZero())
}

func TestRunCreatesPayout(t *testing.T) {
	r, mock, rec := newTestReconciler(t, nil)

	mock.ExpectQuery(listCreators).WillReturnRows(creatorRows("c1", "10", "50"))
	mock.ExpectQuery(earnings).
		WithArgs("c1", periodStart, periodEnd, "usd").
		WillReturnRows(earningRows().AddRow("t1", "100.00", "c1", nil))
	mock.ExpectBegin()
	mock.ExpectQuery(overlap).WithArgs("c1", periodStart, periodEnd).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(insertPayout).
		WithArgs("c1", sqlmock.AnyArg(), "usd", "pending", periodStart, periodEnd, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("p1", periodEnd))
	mock.ExpectCommit()

	res, err := r.Run(context.Background(), periodStart, periodEnd, []string{"c1"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, 1, res.PayoutsProcessed)
	assert.True(t, res.TotalAmount.Equal(decimal.RequireFromString("90.00")))
	require.Len(t, res.Reports, 1)
	assert.Equal(t, "p1", res.Reports[0].PayoutID)
	assert.Empty(t, res.Discrepancies)

	require.Len(t, rec.entries, 1)
	assert.Equal(t, models.AgentCPR, rec.entries[0].Agent)
	assert.Equal(t, "Creator payout: gross 100.00 - platform fee 10.00 (10%) = net 90.00", rec.entries[0].Explanation)
}

func TestRunSecondRunReportsDiscrepancy(t *testing.T) {
	r, mock, rec := newTestReconciler(t, nil)

	mock.ExpectQuery(listCreators).WillReturnRows(creatorRows("c1", "10", "50"))
	mock.ExpectQuery(earnings).WillReturnRows(earningRows().AddRow("t1", "100.00", "c1", nil))
	mock.ExpectBegin()
	mock.ExpectQuery(overlap).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectCommit()

	res, err := r.Run(context.Background(), periodStart, periodEnd, []string{"c1"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, 0, res.PayoutsProcessed)
	assert.Equal(t, []Discrepancy{{CreatorID: "c1", Reason: ReasonAlreadyPaid}}, res.Discrepancies)
	assert.Empty(t, rec.entries)
}

func TestRunConcurrentInsertIsDiscrepancy(t *testing.T) {
	r, mock, _ := newTestReconciler(t, nil)

	mock.ExpectQuery(listCreators).WillReturnRows(creatorRows("c1", "10", "50"))
	mock.ExpectQuery(earnings).WillReturnRows(earningRows().AddRow("t1", "100.00", "c1", nil))
	mock.ExpectBegin()
	mock.ExpectQuery(overlap).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(insertPayout).WillReturnError(&pq.Error{Code: "23P01"})
	mock.ExpectRollback()

	res, err := r.Run(context.Background(), periodStart, periodEnd, []string{"c1"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, []Discrepancy{{CreatorID: "c1", Reason: ReasonAlreadyPaid}}, res.Discrepancies)
}

func TestRunSkipsBelowMinimum(t *testing.T) {
	r, mock, rec := newTestReconciler(t, nil)

	mock.ExpectQuery(listCreators).WillReturnRows(creatorRows("c1", "10", "50"))
	mock.ExpectQuery(earnings).WillReturnRows(earningRows().AddRow("t1", "40.00", "c1", nil))

	res, err := r.Run(context.Background(), periodStart, periodEnd, []string{"c1"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0, res.PayoutsProcessed)
	assert.Empty(t, res.Discrepancies)
	assert.Empty(t, rec.entries)
}

func TestRunContinuesAfterCreatorFailure(t *testing.T) {
	r, mock, _ := newTestReconciler(t, nil)

	rows := creatorRows("c1", "10", "50").
		AddRow("c2", "user_c2", "10", "weekly", "50", nil, []byte(`{}`), periodStart)
	mock.ExpectQuery(listCreators).WillReturnRows(rows)
	mock.ExpectQuery(earnings).WithArgs("c1", periodStart, periodEnd, "usd").WillReturnError(errors.New("boom"))
	mock.ExpectQuery(earnings).WithArgs("c2", periodStart, periodEnd, "usd").WillReturnRows(earningRows().AddRow("t2", "75.00", "c2", nil))
	mock.ExpectBegin()
	mock.ExpectQuery(overlap).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(insertPayout).WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("p2", periodEnd))
	mock.ExpectCommit()

	res, err := r.Run(context.Background(), periodStart, periodEnd, []string{"c1", "c2"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1, res.PayoutsProcessed)
	assert.Equal(t, []Discrepancy{{CreatorID: "c1", Reason: ReasonNotRecorded}}, res.Discrepancies)
}

func TestRunRejectsInvertedPeriod(t *testing.T) {
	r, _, _ := newTestReconciler(t, nil)
	_, err := r.Run(context.Background(), periodEnd, periodStart, nil)
	assert.True(t, models.IsValidation(err))
}

func pendingRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "creator_id", "amount", "currency", "status", "period_start", "period_end", "gross_earnings",
		"platform_fee", "external_payout_id", "failure_reason", "created_at", "payee_reference",
	}).AddRow("p1", "c1", "90.00", "usd", "pending", periodStart, periodEnd, "100.00", "10.00", nil, nil, periodEnd, "acct_1")
}

func TestDisburseInitiatesTransfer(t *testing.T) {
	transfers := &transferStub{}
	r, mock, rec := newTestReconciler(t, transfers)

	mock.ExpectQuery(regexp.QuoteMeta("FROM payments.payout_records p")).WithArgs(DefaultDisburseLimit).WillReturnRows(pendingRows())
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'initiated'")).WithArgs("p1", "tr_1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := r.Disburse(context.Background(), 0)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, DisburseResult{Initiated: 1}, res)
	require.Len(t, transfers.params, 1)
	assert.Equal(t, int64(9000), transfers.params[0].AmountMinor)
	assert.Equal(t, "acct_1", transfers.params[0].Destination)
	assert.Equal(t, "payout-p1", transfers.params[0].IdempotencyKey)
	require.Len(t, rec.entries, 1)
	assert.Equal(t, "payout_disbursement", rec.entries[0].Trigger)
}

func TestDisburseMarksRejectedTransferFailed(t *testing.T) {
	transfers := &transferStub{err: &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, Msg: "No such destination"}}
	r, mock, rec := newTestReconciler(t, transfers)

	mock.ExpectQuery(regexp.QuoteMeta("FROM payments.payout_records p")).WillReturnRows(pendingRows())
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'failed'")).WithArgs("p1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := r.Disburse(context.Background(), 10)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, DisburseResult{Failed: 1}, res)
	require.Len(t, rec.entries, 1)
}

func TestDisburseDefersTransientErrors(t *testing.T) {
	transfers := &transferStub{err: errors.New("connection reset")}
	r, mock, rec := newTestReconciler(t, transfers)

	mock.ExpectQuery(regexp.QuoteMeta("FROM payments.payout_records p")).WillReturnRows(pendingRows())

	res, err := r.Disburse(context.Background(), 10)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, DisburseResult{Deferred: 1}, res)
	assert.Empty(t, rec.entries)
}

func TestDisburseWithoutTransfers(t *testing.T) {
	r, _, _ := newTestReconciler(t, nil)
	_, err := r.Disburse(context.Background(), 10)
	assert.ErrorIs(t, err, ErrTransfersDisabled)
}
