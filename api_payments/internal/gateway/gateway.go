// Package gateway routes charges across payment providers.
//
// Each provider implements Gateway. The Orchestrator picks one per request
// from the routing rules and falls back through the other registered
// gateways in registration order until one succeeds.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Status is the settlement state a gateway reports for a charge.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
)

// Error codes produced locally rather than by a provider.
const (
	CodeCircuitOpen = "circuit_open"
	CodeInvalid     = "invalid_request"
	CodeUnknown     = "unknown"
)

// ChargeRequest is a provider-neutral charge.
type ChargeRequest struct {
	Amount          decimal.Decimal
	Currency        string
	PaymentMethodID string
	CustomerID      string
	IdempotencyKey  string
	Metadata        map[string]string
}

// ChargeResult is what one gateway attempt produced.
type ChargeResult struct {
	Success       bool   `json:"success"`
	Status        Status `json:"status"`
	Gateway       string `json:"gateway"`
	TransactionID string `json:"transactionId,omitempty"`
	GatewayTxnID  string `json:"gatewayTxnId,omitempty"`
	ErrorCode     string `json:"errorCode,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
}

// Gateway is a payment provider capable of attempting a charge.
// A declined or failed charge is reported through a non-nil *Error.
type Gateway interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// Error describes a failed charge attempt.
type Error struct {
	Gateway string
	Code    string
	Message string
	// Transient marks provider or network outages, as opposed to declines.
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Gateway, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Gateway, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

// failedResult normalizes an attempt error into a failed ChargeResult.
func failedResult(name string, err error) ChargeResult {
	result := ChargeResult{Success: false, Status: StatusFailed, Gateway: name, ErrorCode: CodeUnknown}
	if gwErr, ok := AsError(err); ok {
		if gwErr.Code != "" {
			result.ErrorCode = gwErr.Code
		}
		result.ErrorMessage = gwErr.Message
		return result
	}
	if err != nil {
		result.ErrorMessage = err.Error()
	}
	return result
}

// attemptError is the detail recorded for a failed attempt: message, then
// code, then "unknown".
func attemptError(r ChargeResult) string {
	if r.ErrorMessage != "" {
		return r.ErrorMessage
	}
	if r.ErrorCode != "" {
		return r.ErrorCode
	}
	return CodeUnknown
}
