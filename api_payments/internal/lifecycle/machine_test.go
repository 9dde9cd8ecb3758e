package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frameworks/api_payments/internal/models"
)

func TestNextTransitionTable(t *testing.T) {
	policy := DefaultDunningRules()

	tests := []struct {
		from    models.SubscriptionStatus
		trigger Trigger
		want    models.SubscriptionStatus
	}{
		{models.StatusTrial, TriggerPaymentSuccess, models.StatusActive},
		{models.StatusActive, TriggerPaymentSuccess, models.StatusActive},
		{models.StatusPastDue, TriggerPaymentSuccess, models.StatusActive},
		{models.StatusPaused, TriggerPaymentSuccess, models.StatusActive},
		{models.StatusCanceled, TriggerPaymentSuccess, models.StatusCanceled},

		{models.StatusTrial, TriggerPaymentFailed, models.StatusTrial},
		{models.StatusActive, TriggerPaymentFailed, models.StatusPastDue},
		{models.StatusPastDue, TriggerPaymentFailed, models.StatusPastDue},
		{models.StatusPaused, TriggerPaymentFailed, models.StatusPaused},
		{models.StatusCanceled, TriggerPaymentFailed, models.StatusCanceled},

		{models.StatusTrial, TriggerUserCancel, models.StatusCanceled},
		{models.StatusActive, TriggerUserCancel, models.StatusCanceled},
		{models.StatusPastDue, TriggerUserCancel, models.StatusCanceled},
		{models.StatusPaused, TriggerUserCancel, models.StatusCanceled},
		{models.StatusCanceled, TriggerUserCancel, models.StatusCanceled},

		{models.StatusTrial, TriggerTrialEnd, models.StatusActive},
		{models.StatusActive, TriggerTrialEnd, models.StatusActive},
		{models.StatusPastDue, TriggerTrialEnd, models.StatusPastDue},
		{models.StatusPaused, TriggerTrialEnd, models.StatusPaused},
		{models.StatusCanceled, TriggerTrialEnd, models.StatusCanceled},

		{models.StatusTrial, TriggerPause, models.StatusPaused},
		{models.StatusActive, TriggerPause, models.StatusPaused},
		{models.StatusPastDue, TriggerPause, models.StatusPaused},
		{models.StatusPaused, TriggerPause, models.StatusPaused},
		{models.StatusCanceled, TriggerPause, models.StatusCanceled},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.trigger), func(t *testing.T) {
			tr, changed := Next(policy, State{Status: tt.from}, tt.trigger)
			assert.Equal(t, tt.want, tr.To.Status)
			if tt.want == tt.from && tt.trigger != TriggerPaymentFailed {
				assert.False(t, changed, "same-state result must be a no-op")
			}
		})
	}
}

func TestNextPaymentFailedAdvancesDunning(t *testing.T) {
	policy := DefaultDunningRules()

	tr, changed := Next(policy, State{Status: models.StatusActive, RetryCount: 0}, TriggerPaymentFailed)
	require.True(t, changed)
	assert.Equal(t, State{Status: models.StatusPastDue, RetryCount: 1}, tr.To)
	require.NotNil(t, tr.Rule)
	assert.Equal(t, "dunning_reminder_1", tr.Rule.Template)
	assert.Equal(t, TriggerPaymentFailed, tr.Trigger)

	tr, changed = Next(policy, tr.To, TriggerPaymentFailed)
	require.True(t, changed)
	assert.Equal(t, State{Status: models.StatusPastDue, RetryCount: 2}, tr.To)
	assert.Equal(t, "dunning_reminder_2", tr.Rule.Template)
}

func TestNextDunningExhaustion(t *testing.T) {
	tr, changed := Next(DefaultDunningRules(), State{Status: models.StatusPastDue, RetryCount: 2}, TriggerPaymentFailed)
	require.True(t, changed)
	assert.Equal(t, models.StatusCanceled, tr.To.Status)
	assert.Equal(t, TriggerDunningExhausted, tr.Trigger)
}

func TestNextNoRuleIsNoOpWhilePastDue(t *testing.T) {
	policy := Rules{{RetryDay: 3, Template: "only", Action: ActionRetry}}

	_, changed := Next(policy, State{Status: models.StatusPastDue, RetryCount: 1}, TriggerPaymentFailed)
	assert.False(t, changed)

	tr, changed := Next(policy, State{Status: models.StatusActive, RetryCount: 1}, TriggerPaymentFailed)
	require.True(t, changed)
	assert.Equal(t, models.StatusPastDue, tr.To.Status)
	assert.Nil(t, tr.Rule)
}

func TestNextPaymentSuccessResetsCounter(t *testing.T) {
	tr, changed := Next(DefaultDunningRules(), State{Status: models.StatusPastDue, RetryCount: 2}, TriggerPaymentSuccess)
	require.True(t, changed)
	assert.Equal(t, State{Status: models.StatusActive, RetryCount: 0}, tr.To)
}

func TestRulesValidate(t *testing.T) {
	require.NoError(t, DefaultDunningRules().Validate())
	assert.Error(t, Rules{{RetryDay: 1, Template: "x", Action: "email"}}.Validate())
	assert.Error(t, Rules{{RetryDay: 1, Action: ActionRetry}}.Validate())
	assert.Error(t, Rules{{RetryDay: -1, Template: "x", Action: ActionRetry}}.Validate())
}

func TestTriggerForGatewayStatus(t *testing.T) {
	tests := []struct {
		current models.SubscriptionStatus
		status  string
		want    Trigger
		ok      bool
	}{
		{models.StatusTrial, "active", TriggerTrialEnd, true},
		{models.StatusPastDue, "active", TriggerPaymentSuccess, true},
		{models.StatusPaused, "active", TriggerPaymentSuccess, true},
		{models.StatusActive, "active", "", false},
		{models.StatusActive, "canceled", TriggerUserCancel, true},
		{models.StatusActive, "paused", TriggerPause, true},
		{models.StatusActive, "past_due", "", false},
		{models.StatusTrial, "trialing", "", false},
	}
	for _, tt := range tests {
		got, ok := TriggerForGatewayStatus(tt.current, tt.status)
		assert.Equal(t, tt.ok, ok, "%s/%s", tt.current, tt.status)
		assert.Equal(t, tt.want, got, "%s/%s", tt.current, tt.status)
	}
}
