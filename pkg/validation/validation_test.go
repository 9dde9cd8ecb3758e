package validation

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chargeBody struct {
	UserID   string          `json:"userId" validate:"required,uuid"`
	Amount   decimal.Decimal `json:"amount" validate:"required,gt=0"`
	Currency string          `json:"currency" validate:"omitempty,len=3"`
	Status   string          `form:"status" validate:"omitempty,oneof=active canceled"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	Register(v)
	return v
}

func TestDetailsUseJSONNames(t *testing.T) {
	err := newValidator().Struct(chargeBody{UserID: "nope", Amount: decimal.NewFromInt(-1), Currency: "dollars", Status: "x"})
	require.Error(t, err)

	d := Details(err)
	assert.Equal(t, "must be a valid UUID", d["userId"])
	assert.Equal(t, "must be greater than 0", d["amount"])
	assert.Equal(t, "must be exactly 3 characters", d["currency"])
	assert.Equal(t, "must be one of active, canceled", d["status"])
}

func TestDecimalAmountsValidateNumerically(t *testing.T) {
	v := newValidator()

	ok := chargeBody{UserID: "8f14e45f-ceea-467f-a8f6-0e1c5a3b6d2e", Amount: decimal.RequireFromString("0.01")}
	assert.NoError(t, v.Struct(ok))

	missing := ok
	missing.Amount = decimal.Zero
	err := v.Struct(missing)
	require.Error(t, err)
	assert.Equal(t, "is required", Details(err)["amount"])
}

func TestDetailsForNonValidatorError(t *testing.T) {
	d := Details(errors.New("unexpected EOF"))
	assert.Equal(t, map[string]string{"body": "unexpected EOF"}, d)
}
