package idempotency

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frameworks/api_payments/internal/models"
	"frameworks/api_payments/internal/store"
)

func TestAdmitSecondDeliveryIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	gate := New(store.New(db))
	insert := regexp.QuoteMeta("ON CONFLICT (gateway, event_id) DO NOTHING RETURNING event_id")

	mock.ExpectQuery(insert).WithArgs("stripe", "evt_1").
		WillReturnRows(sqlmock.NewRows([]string{"event_id"}).AddRow("evt_1"))
	mock.ExpectQuery(insert).WithArgs("stripe", "evt_1").
		WillReturnRows(sqlmock.NewRows([]string{"event_id"}))

	first, err := gate.Admit(context.Background(), "stripe", "evt_1")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := gate.Admit(context.Background(), " stripe ", "evt_1")
	require.NoError(t, err)
	assert.False(t, second)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmitRejectsEmptyKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	gate := New(store.New(db))
	_, err = gate.Admit(context.Background(), "stripe", "  ")
	assert.True(t, models.IsValidation(err))
	_, err = gate.Admit(context.Background(), "", "evt")
	assert.True(t, models.IsValidation(err))

	require.NoError(t, mock.ExpectationsWereMet())
}
