package fraud

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frameworks/api_payments/internal/decisionlog"
	"frameworks/api_payments/internal/models"
	"frameworks/pkg/logging"
)

type fakeHistory struct {
	txns  []models.Transaction
	since time.Time
	err   error
}

func (f *fakeHistory) RecentTransactions(_ context.Context, _ string, since time.Time) ([]models.Transaction, error) {
	f.since = since
	return f.txns, f.err
}

type captureRecorder struct {
	entries []decisionlog.Entry
}

func (c *captureRecorder) Record(_ context.Context, e decisionlog.Entry) error {
	c.entries = append(c.entries, e)
	return nil
}

func txn(amount string, status models.TransactionStatus, ip string) models.Transaction {
	meta := models.Metadata{}
	if ip != "" {
		meta["ipAddress"] = ip
	}
	return models.Transaction{Amount: decimal.RequireFromString(amount), Status: status, Metadata: meta}
}

func history(n, failed int, lastAmount, lastIP string) []models.Transaction {
	txns := []models.Transaction{txn(lastAmount, models.TxnSucceeded, lastIP)}
	if failed > 0 {
		txns[0].Status = models.TxnFailed
		failed--
	}
	for len(txns) < n {
		status := models.TxnSucceeded
		if failed > 0 {
			status = models.TxnFailed
			failed--
		}
		txns = append(txns, txn("5.00", status, "10.0.0.1"))
	}
	return txns
}

func newEngine(h HistorySource, rec decisionlog.Recorder) *Engine {
	return NewEngine(h, rec, DefaultConfig(), nil, logging.NewDiscardLogger())
}

func TestAssessVelocityOnlyApproves(t *testing.T) {
	rec := &captureRecorder{}
	h := &fakeHistory{txns: history(6, 0, "10.00", "203.0.113.7")}
	e := newEngine(h, rec)
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	a, err := e.Assess(context.Background(), Input{
		UserID: "user_1", Amount: decimal.RequireFromString("10.00"), Currency: "USD", IPAddress: "203.0.113.7",
	})
	require.NoError(t, err)
	assert.Equal(t, 25, a.RiskScore)
	assert.Equal(t, ActionApprove, a.Action)
	assert.Equal(t, []RuleHit{{Rule: "velocity", Score: 25}}, a.RulesTriggered)
	assert.Equal(t, []string{"velocity: +25 points"}, a.Evidence)
	assert.Equal(t, now.Add(-24*time.Hour), h.since)

	require.Len(t, rec.entries, 1)
	assert.Equal(t, models.AgentFDR, rec.entries[0].Agent)
	assert.Equal(t, "fraud_assessment", rec.entries[0].Trigger)
	payload := rec.entries[0].Payload.(map[string]interface{})
	assert.Equal(t, "***", payload["ipAddress"])
	assert.Equal(t, "usd", payload["currency"])
}

func TestAssessCombinedSignalsBlock(t *testing.T) {
	rec := &captureRecorder{}
	e := newEngine(&fakeHistory{txns: history(6, 4, "20.00", "198.51.100.1")}, rec)

	a, err := e.Assess(context.Background(), Input{
		UserID: "user_1", Amount: decimal.RequireFromString("50.00"), Currency: "usd", IPAddress: "203.0.113.9",
	})
	require.NoError(t, err)
	assert.Equal(t, 85, a.RiskScore)
	assert.Equal(t, ActionBlock, a.Action)
	assert.Equal(t, []string{
		"velocity: +25 points",
		"failed_attempts: +30 points",
		"amount_threshold: +15 points",
		"ip_change: +15 points",
	}, a.Evidence)

	require.Len(t, rec.entries, 1, "blocked assessments are still logged")
	assert.Contains(t, rec.entries[0].Explanation, "Transaction blocked: risk score 85 (threshold 70)")
}

func TestScoreIsDeterministic(t *testing.T) {
	e := newEngine(&fakeHistory{}, &captureRecorder{})
	last := decimal.RequireFromString("100")
	c := Context{RecentCount: 4, FailedCount: 1, LastAmount: &last, LastIP: "a"}
	in := Input{UserID: "u", Amount: decimal.RequireFromString("600"), Currency: "usd", IPAddress: "a"}

	first := e.Score(in, c)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Score(in, c))
	}
	// velocity 15 + failed 10 + high value 20
	assert.Equal(t, 45, first.RiskScore)
	assert.Equal(t, ActionReview, first.Action)
}

func TestAmountThresholdShortCircuitsRatio(t *testing.T) {
	last := decimal.RequireFromString("1")
	r := AmountRule{HighValue: decimal.NewFromInt(500)}
	assert.Equal(t, 20, r.Evaluate(Input{Amount: decimal.NewFromInt(501)}, Context{LastAmount: &last}))
	assert.Equal(t, 15, r.Evaluate(Input{Amount: decimal.NewFromInt(3)}, Context{LastAmount: &last}))
	assert.Equal(t, 0, r.Evaluate(Input{Amount: decimal.NewFromInt(2)}, Context{LastAmount: &last}))
	assert.Equal(t, 0, r.Evaluate(Input{Amount: decimal.NewFromInt(400)}, Context{}))
}

func TestIPChangeNeedsBothAddresses(t *testing.T) {
	r := IPChangeRule{}
	assert.Equal(t, 0, r.Evaluate(Input{IPAddress: "a"}, Context{}))
	assert.Equal(t, 0, r.Evaluate(Input{}, Context{LastIP: "a"}))
	assert.Equal(t, 15, r.Evaluate(Input{IPAddress: "b"}, Context{LastIP: "a"}))
}

type greedyRule struct{}

func (greedyRule) Name() string                 { return "greedy" }
func (greedyRule) Cap() int                     { return 40 }
func (greedyRule) Evaluate(Input, Context) int { return 1000 }

func TestRuleAndTotalScoresAreClamped(t *testing.T) {
	rules := []Rule{greedyRule{}, greedyRule{}, greedyRule{}}
	e := NewEngine(&fakeHistory{}, &captureRecorder{}, DefaultConfig(), rules, logging.NewDiscardLogger())

	a := e.Score(Input{Amount: decimal.NewFromInt(1)}, Context{})
	assert.Equal(t, 100, a.RiskScore)
	assert.Equal(t, []RuleHit{{"greedy", 40}, {"greedy", 40}, {"greedy", 40}}, a.RulesTriggered)
	assert.Equal(t, ActionBlock, a.Action)
}

func TestAssessValidatesInput(t *testing.T) {
	rec := &captureRecorder{}
	e := newEngine(&fakeHistory{}, rec)

	_, err := e.Assess(context.Background(), Input{Amount: decimal.Zero, Currency: "us"})
	var ve *models.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "userId")
	assert.Contains(t, ve.Fields, "amount")
	assert.Contains(t, ve.Fields, "currency")
	assert.Empty(t, rec.entries, "validation failures are never logged")
}

func TestAssessPropagatesHistoryErrors(t *testing.T) {
	e := newEngine(&fakeHistory{err: errors.New("db down")}, &captureRecorder{})
	_, err := e.Assess(context.Background(), Input{UserID: "u", Amount: decimal.NewFromInt(1), Currency: "usd"})
	assert.Error(t, err)
}

func TestBuildContextUsesNewestTransaction(t *testing.T) {
	c := BuildContext([]models.Transaction{
		txn("42.00", models.TxnFailed, "198.51.100.4"),
		txn("10.00", models.TxnSucceeded, "10.0.0.1"),
	})
	assert.Equal(t, 2, c.RecentCount)
	assert.Equal(t, 1, c.FailedCount)
	assert.Equal(t, "42", c.LastAmount.String())
	assert.Equal(t, "198.51.100.4", c.LastIP)
}
