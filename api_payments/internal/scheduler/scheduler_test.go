package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frameworks/api_payments/internal/jobs"
	"frameworks/api_payments/internal/models"
	"frameworks/pkg/logging"
)

type enqueuerStub struct {
	sweeps    int
	disburses int
	runs      []jobs.PayoutRun
}

func (e *enqueuerStub) EnqueueRenewalSweep(context.Context) error { e.sweeps++; return nil }
func (e *enqueuerStub) EnqueueDisburse(context.Context) error     { e.disburses++; return nil }
func (e *enqueuerStub) EnqueuePayoutRun(_ context.Context, run jobs.PayoutRun) error {
	e.runs = append(e.runs, run)
	return nil
}

type listerStub map[models.PayoutSchedule][]string

func (l listerStub) CreatorIDsBySchedule(_ context.Context, s models.PayoutSchedule) ([]string, error) {
	if s == "broken" {
		return nil, errors.New("db down")
	}
	return l[s], nil
}

func utc(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func TestPeriod(t *testing.T) {
	tests := []struct {
		name      string
		schedule  models.PayoutSchedule
		now       time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{"weekly on monday", models.ScheduleWeekly, utc(2026, 5, 11, 2), utc(2026, 5, 4, 0), utc(2026, 5, 11, 0)},
		{"weekly midweek", models.ScheduleWeekly, utc(2026, 5, 14, 9), utc(2026, 5, 4, 0), utc(2026, 5, 11, 0)},
		{"weekly on sunday", models.ScheduleWeekly, utc(2026, 5, 17, 23), utc(2026, 5, 4, 0), utc(2026, 5, 11, 0)},
		{"biweekly", models.ScheduleBiweekly, utc(2026, 5, 11, 2), utc(2026, 4, 27, 0), utc(2026, 5, 11, 0)},
		{"monthly", models.ScheduleMonthly, utc(2026, 5, 1, 3), utc(2026, 4, 1, 0), utc(2026, 5, 1, 0)},
		{"monthly across year", models.ScheduleMonthly, utc(2026, 1, 15, 0), utc(2025, 12, 1, 0), utc(2026, 1, 1, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := Period(tt.schedule, tt.now)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd.Add(-time.Microsecond), end)
		})
	}
}

func newTestScheduler(creators listerStub, now time.Time) (*Scheduler, *enqueuerStub) {
	enq := &enqueuerStub{}
	s := New(enq, creators, Config{}, logging.NewDiscardLogger())
	s.now = func() time.Time { return now }
	return s, enq
}

func TestRunPayoutsEnqueuesPreviousPeriod(t *testing.T) {
	s, enq := newTestScheduler(listerStub{models.ScheduleMonthly: {"c1", "c2"}}, utc(2026, 6, 1, 3))

	require.NoError(t, s.RunPayouts(context.Background(), models.ScheduleMonthly))
	require.Len(t, enq.runs, 1)
	assert.Equal(t, []string{"c1", "c2"}, enq.runs[0].CreatorIDs)
	assert.Equal(t, utc(2026, 5, 1, 0), enq.runs[0].PeriodStart)
}

func TestRunPayoutsWithoutCreatorsEnqueuesNothing(t *testing.T) {
	s, enq := newTestScheduler(listerStub{}, utc(2026, 6, 1, 3))
	require.NoError(t, s.RunPayouts(context.Background(), models.ScheduleWeekly))
	assert.Empty(t, enq.runs)
	assert.Error(t, s.RunPayouts(context.Background(), "broken"))
}

func TestWeeklyRunAddsBiweeklyOnEvenWeeks(t *testing.T) {
	creators := listerStub{models.ScheduleWeekly: {"w"}, models.ScheduleBiweekly: {"b"}}

	// 2026-05-11 is 18 weeks after the cycle epoch, 2026-05-18 is 19.
	even, enq := newTestScheduler(creators, utc(2026, 5, 11, 2))
	require.NoError(t, even.runWeekly(context.Background()))
	require.Len(t, enq.runs, 2)
	assert.Equal(t, []string{"b"}, enq.runs[1].CreatorIDs)

	odd, enq := newTestScheduler(creators, utc(2026, 5, 18, 2))
	require.NoError(t, odd.runWeekly(context.Background()))
	require.Len(t, enq.runs, 1)
	assert.Equal(t, []string{"w"}, enq.runs[0].CreatorIDs)
}

func TestBiweeklyPeriodsStayContiguousAcrossLongYear(t *testing.T) {
	// 2026 has 53 ISO weeks; parity of the ISO week number would skip a week
	// at the turn of the year.
	creators := listerStub{models.ScheduleBiweekly: {"b"}}
	s, enq := newTestScheduler(creators, utc(2026, 11, 2, 2))

	for monday := utc(2026, 11, 2, 2); !monday.After(utc(2027, 2, 1, 2)); monday = monday.AddDate(0, 0, 7) {
		s.now = func() time.Time { return monday }
		require.NoError(t, s.runWeekly(context.Background()))
	}

	require.GreaterOrEqual(t, len(enq.runs), 6)
	for i := 1; i < len(enq.runs); i++ {
		prev, next := enq.runs[i-1], enq.runs[i]
		assert.Equal(t, prev.PeriodEnd.Add(time.Microsecond), next.PeriodStart, "gap between run %d and %d", i-1, i)
		assert.Equal(t, 14*24*time.Hour, next.PeriodEnd.Add(time.Microsecond).Sub(next.PeriodStart))
	}
}

func TestBiweeklyDueBeforeEpoch(t *testing.T) {
	assert.True(t, BiweeklyDue(utc(2025, 12, 22, 0)))
	assert.False(t, BiweeklyDue(utc(2025, 12, 29, 0)))
	assert.False(t, BiweeklyDue(utc(2026, 1, 4, 23)))
	assert.True(t, BiweeklyDue(utc(2026, 1, 5, 0)))
	assert.True(t, BiweeklyDue(utc(2026, 1, 11, 0)))
}

func TestStartRejectsBadSpec(t *testing.T) {
	enq := &enqueuerStub{}
	s := New(enq, listerStub{}, Config{RenewalSpec: "every now and then"}, logging.NewDiscardLogger())
	assert.Error(t, s.Start())

	ok := New(enq, listerStub{}, Config{}, logging.NewDiscardLogger())
	require.NoError(t, ok.Start())
	<-ok.Stop().Done()

	require.NoError(t, ok.RunRenewal(context.Background()))
	require.NoError(t, ok.RunDisburse(context.Background()))
	assert.Equal(t, 1, enq.sweeps)
	assert.Equal(t, 1, enq.disburses)
}
