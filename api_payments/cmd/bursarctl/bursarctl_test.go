package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frameworks/pkg/auth"
)

func TestParsePeriodBound(t *testing.T) {
	start, err := parsePeriodBound("2026-09-01", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), start)

	end, err := parsePeriodBound("2026-09-30", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 30, 23, 59, 59, 999999999, time.UTC), end)

	ts, err := parsePeriodBound("2026-09-15T10:00:00+02:00", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 15, 8, 0, 0, 0, time.UTC), ts)

	_, err = parsePeriodBound("09/01/2026", false)
	assert.Error(t, err)
}

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{name: "duration", input: "24h", want: now.Add(-24 * time.Hour)},
		{name: "days", input: "7d", want: now.Add(-7 * 24 * time.Hour)},
		{name: "timestamp", input: "2026-09-01T00:00:00Z", want: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)},
		{name: "fractional days", input: "1.5d", wantErr: true},
		{name: "zero days", input: "0d", wantErr: true},
		{name: "negative duration", input: "-1h", wantErr: true},
		{name: "garbage", input: "yesterday", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseSince(tc.input, now)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "got %s", got)
		})
	}
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("ADMIN_JWT_SECRET", "cli-test-secret")

	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"token", "--email", "Ops@Example.com", "--ttl", "1h"})
	require.NoError(t, root.Execute())

	claims, err := auth.ValidateJWT(string(bytes.TrimSpace(out.Bytes())), []byte("cli-test-secret"))
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, claims.Role)
	assert.Equal(t, "ops@example.com", claims.Email)
	assert.NotEmpty(t, claims.Subject)
}

func TestTokenCommandRequiresSecret(t *testing.T) {
	t.Setenv("ADMIN_JWT_SECRET", "")

	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"token", "--email", "ops@example.com"})
	assert.Error(t, root.Execute())
}

func TestPayoutsRunRejectsInvertedPeriod(t *testing.T) {
	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"payouts", "run", "--start", "2026-09-30", "--end", "2026-09-01"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--end must be after --start")
}

func TestValidateUUID(t *testing.T) {
	assert.NoError(t, validateUUID("6f1d2b1e-8d0c-4c55-9d2e-2a3b4c5d6e7f"))
	assert.Error(t, validateUUID("creator-1"))
}
