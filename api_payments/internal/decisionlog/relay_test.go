package decisionlog

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frameworks/api_payments/internal/store"
	"frameworks/pkg/kafka"
	"frameworks/pkg/logging"
)

type fakePublisher struct {
	msgs []kafka.Message
	err  error
}

func (f *fakePublisher) Produce(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func decisionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "seq", "agent", "entity_id", "entity_type", "trigger", "payload", "decision", "explanation", "created_at"})
}

func newRelay(t *testing.T, pub Publisher) (*Relay, sqlmock.Sqlmock, *miniredis.Miniredis, time.Time) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	r := NewRelay(store.New(db), pub, rdb, RelayConfig{Settle: time.Minute}, logging.NewDiscardLogger())
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return r, mock, mr, now.Add(-time.Minute)
}

func TestRelayPublishesAndAdvancesCursor(t *testing.T) {
	pub := &fakePublisher{}
	r, mock, mr, cutoff := newRelay(t, pub)
	query := regexp.QuoteMeta("WHERE seq > $1 AND created_at < $2 ORDER BY seq LIMIT $3")

	mock.ExpectQuery(query).WithArgs(int64(0), cutoff, relayBatchSize).
		WillReturnRows(decisionRows().
			AddRow("d1", 1, "FDR", "user_1", "transaction", "fraud_assessment", []byte(`{}`), []byte(`{"action":"approve"}`), "ok", cutoff).
			AddRow("d2", 2, "PGO", "user_1", "transaction", "charge", []byte(`{}`), []byte(`{"success":true}`), "ok", cutoff))
	mock.ExpectQuery(query).WithArgs(int64(2), cutoff, relayBatchSize).
		WillReturnRows(decisionRows())

	n, err := r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, pub.msgs, 2)
	assert.Equal(t, DefaultTopic, pub.msgs[0].Topic)
	assert.Equal(t, "user_1", string(pub.msgs[0].Key))
	assert.Equal(t, "FDR", pub.msgs[0].Headers["agent"])

	cursor, err := mr.Get(relayCursorKey)
	require.NoError(t, err)
	assert.Equal(t, "2", cursor)

	n, err = r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRelayKeepsCursorWhenPublishFails(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	r, mock, mr, cutoff := newRelay(t, pub)
	require.NoError(t, mr.Set(relayCursorKey, "7"))

	mock.ExpectQuery(regexp.QuoteMeta("WHERE seq > $1")).WithArgs(int64(7), cutoff, relayBatchSize).
		WillReturnRows(decisionRows().
			AddRow("d8", 8, "CPR", "creator_1", "creator_payout", "payout_calculation", []byte(`{}`), []byte(`{}`), "ok", cutoff))

	_, err := r.RelayOnce(context.Background())
	assert.Error(t, err)

	cursor, err := mr.Get(relayCursorKey)
	require.NoError(t, err)
	assert.Equal(t, "7", cursor)
}
