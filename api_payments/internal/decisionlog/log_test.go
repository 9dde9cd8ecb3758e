package decisionlog

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frameworks/api_payments/internal/models"
	"frameworks/api_payments/internal/store"
	"frameworks/pkg/logging"
)

func newMockLog(t *testing.T) (*Log, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(store.New(db), logging.NewDiscardLogger()), mock
}

func TestRecordEncodesPayloadAndDecision(t *testing.T) {
	l, mock := newMockLog(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO payments.decision_log")).
		WithArgs("SLM", "sub_1", "subscription", "payment_failed",
			`{"fromState":"active"}`, `{"toState":"past_due"}`,
			"Subscription moved to past_due due to invoice.payment_failed; dunning rule scheduled.").
		WillReturnRows(sqlmock.NewRows([]string{"id", "seq", "created_at"}).AddRow("d1", 1, time.Now()))

	err := l.Record(context.Background(), Entry{
		Agent:       models.AgentSLM,
		EntityID:    "sub_1",
		EntityType:  "subscription",
		Trigger:     "payment_failed",
		Payload:     map[string]string{"fromState": "active"},
		Decision:    map[string]string{"toState": "past_due"},
		Explanation: SubscriptionExplanation("active", "past_due", "payment_failed"),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordInsideTransactionLogsAtDebug(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	l := New(store.New(db), logger)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO payments.decision_log")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "seq", "created_at"}).AddRow("d1", 1, time.Now()))
	mock.ExpectRollback()

	entry := Entry{Agent: models.AgentSLM, EntityID: "sub_1", EntityType: "subscription", Trigger: "payment_failed", Explanation: "moved"}
	err = store.New(db).InTx(context.Background(), func(tx *store.Store) error {
		if err := Bind(l, tx).Record(context.Background(), entry); err != nil {
			return err
		}
		return errors.New("later step failed")
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.DebugLevel, hook.LastEntry().Level)
	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, logrus.InfoLevel, e.Level, "rolled back decision logged at info")
	}
}

func TestRecordOutsideTransactionLogsAtInfo(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	logger, hook := logtest.NewNullLogger()
	l := New(store.New(db), logger)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO payments.decision_log")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "seq", "created_at"}).AddRow("d2", 2, time.Now()))

	require.NoError(t, l.Record(context.Background(), Entry{Agent: models.AgentPGO, EntityID: "pi_1", Explanation: "routed"}))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Equal(t, "routed", hook.LastEntry().Message)
}

func TestRecordRejectsUnknownAgent(t *testing.T) {
	l, mock := newMockLog(t)
	err := l.Record(context.Background(), Entry{Agent: "ABC"})
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryClampsLimitAndValidatesAgent(t *testing.T) {
	l, mock := newMockLog(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM payments.decision_log ORDER BY created_at DESC, seq DESC LIMIT $1")).
		WithArgs(MaxQueryLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "seq", "agent", "entity_id", "entity_type", "trigger", "payload", "decision", "explanation", "created_at"}))

	entries, err := l.Query(context.Background(), Filter{Limit: 10000})
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = l.Query(context.Background(), Filter{Agent: "nope"})
	assert.True(t, models.IsValidation(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBindFollowsTransactionStore(t *testing.T) {
	l, _ := newMockLog(t)
	bound := Bind(l, store.New(nil))
	assert.NotSame(t, l, bound)

	var plain Recorder = recorderFunc(func(context.Context, Entry) error { return nil })
	assert.NotNil(t, Bind(plain, store.New(nil)))
}

type recorderFunc func(context.Context, Entry) error

func (f recorderFunc) Record(ctx context.Context, e Entry) error { return f(ctx, e) }

func TestExplanations(t *testing.T) {
	assert.Equal(t, "Subscription moved to canceled: dunning retries exhausted after payment failures.",
		SubscriptionExplanation("past_due", "canceled", "dunning_exhausted"))
	assert.Equal(t, "Subscription moved to active due to successful renewal payment.",
		SubscriptionExplanation("past_due", "active", "payment_success"))
	assert.Equal(t, "Subscription moved from trial to active due to trial_end.",
		SubscriptionExplanation("trial", "active", "trial_end"))
	assert.NotEqual(t, SubscriptionExplanation("active", "past_due", "payment_failed"),
		SubscriptionExplanation("past_due", "canceled", "dunning_exhausted"))

	assert.Equal(t, "Creator payout: gross 200.00 - platform fee 20.00 (10%) = net 180.00",
		PayoutExplanation(decimal.NewFromInt(200), decimal.NewFromInt(20), decimal.NewFromInt(10), decimal.NewFromInt(180)))

	assert.Equal(t, "Transaction approved: risk score 25 below threshold.",
		FraudExplanation(25, "approve", 70, []string{"velocity: +25 points"}))
	assert.Equal(t, "Transaction blocked: risk score 85 (threshold 70). Rules: velocity: +25 points; ip_change: +15 points",
		FraudExplanation(85, "block", 70, []string{"velocity: +25 points", "ip_change: +15 points"}))

	assert.Equal(t, "Transaction failed. Gateways attempted: stripe, mollie",
		RoutingExplanation(false, "stripe", "", []string{"stripe", "mollie"}))
	assert.Contains(t, RoutingExplanation(true, "mollie", "currency default", []string{"stripe"}), "after fallback from stripe")
}
