// Package models holds the payment entities shared by every agent.
package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	StatusTrial    SubscriptionStatus = "trial"
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
	StatusPaused   SubscriptionStatus = "paused"
)

// Valid reports whether s is one of the known lifecycle states.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusTrial, StatusActive, StatusPastDue, StatusCanceled, StatusPaused:
		return true
	}
	return false
}

// TransactionStatus is the settlement state of a transaction row.
type TransactionStatus string

const (
	TxnPending   TransactionStatus = "pending"
	TxnSucceeded TransactionStatus = "succeeded"
	TxnFailed    TransactionStatus = "failed"
	TxnRefunded  TransactionStatus = "refunded"
	TxnDisputed  TransactionStatus = "disputed"
)

// PayoutStatus is the disbursement state of a payout record.
type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutInitiated PayoutStatus = "initiated"
	PayoutCompleted PayoutStatus = "completed"
	PayoutFailed    PayoutStatus = "failed"
)

// BillingInterval is how often a plan renews.
type BillingInterval string

const (
	IntervalMonthly BillingInterval = "monthly"
	IntervalAnnual  BillingInterval = "annual"
)

// PayoutSchedule is how often a creator is paid.
type PayoutSchedule string

const (
	ScheduleWeekly   PayoutSchedule = "weekly"
	ScheduleBiweekly PayoutSchedule = "biweekly"
	ScheduleMonthly  PayoutSchedule = "monthly"
)

// Agent names as recorded in the decision log.
type Agent string

const (
	AgentSLM Agent = "SLM"
	AgentPGO Agent = "PGO"
	AgentCPR Agent = "CPR"
	AgentFDR Agent = "FDR"
)

// Valid reports whether a is a known agent.
func (a Agent) Valid() bool {
	switch a {
	case AgentSLM, AgentPGO, AgentCPR, AgentFDR:
		return true
	}
	return false
}

type User struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	GatewayCustomerID *string   `json:"gatewayCustomerId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

type Plan struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	Currency        string          `json:"currency"`
	Interval        BillingInterval `json:"interval"`
	ExternalPriceID *string         `json:"externalPriceId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// PeriodDays is the nominal length of one billing period.
func (p Plan) PeriodDays() int {
	if p.Interval == IntervalAnnual {
		return 365
	}
	return 30
}

type Subscription struct {
	ID                     string             `json:"id"`
	UserID                 string             `json:"userId"`
	PlanID                 string             `json:"planId"`
	PendingPlanID          *string            `json:"pendingPlanId,omitempty"`
	Status                 SubscriptionStatus `json:"status"`
	CurrentPeriodStart     *time.Time         `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd       *time.Time         `json:"currentPeriodEnd,omitempty"`
	TrialEnd               *time.Time         `json:"trialEnd,omitempty"`
	ExternalSubscriptionID *string            `json:"externalSubscriptionId,omitempty"`
	ExternalCustomerID     *string            `json:"externalCustomerId,omitempty"`
	CancelAtPeriodEnd      bool               `json:"cancelAtPeriodEnd"`
	DunningRetryCount      int                `json:"dunningRetryCount"`
	Metadata               Metadata           `json:"metadata"`
	CreatedAt              time.Time          `json:"createdAt"`
	UpdatedAt              time.Time          `json:"updatedAt"`
}

type Transaction struct {
	ID             string            `json:"id"`
	UserID         string            `json:"userId"`
	SubscriptionID *string           `json:"subscriptionId,omitempty"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	Status         TransactionStatus `json:"status"`
	Gateway        string            `json:"gateway"`
	GatewayTxnID   *string           `json:"gatewayTxnId,omitempty"`
	GatewayEventID *string           `json:"gatewayEventId,omitempty"`
	Metadata       Metadata          `json:"metadata"`
	SupersedesID   *string           `json:"supersedesId,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

type Creator struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"userId"`
	PlatformFeePercent decimal.Decimal `json:"platformFeePercent"`
	PayoutSchedule     PayoutSchedule  `json:"payoutSchedule"`
	MinPayoutAmount    decimal.Decimal `json:"minPayoutAmount"`
	PayeeReference     *string         `json:"payeeReference,omitempty"`
	TaxMetadata        Metadata        `json:"taxMetadata"`
	CreatedAt          time.Time       `json:"createdAt"`
}

type ContentCreatorAssignment struct {
	ID           string          `json:"id"`
	ContentID    string          `json:"contentId"`
	ContentType  string          `json:"contentType"`
	CreatorID    string          `json:"creatorId"`
	SharePercent decimal.Decimal `json:"sharePercent"`
	CreatedAt    time.Time       `json:"createdAt"`
}

type PayoutRecord struct {
	ID               string          `json:"id"`
	CreatorID        string          `json:"creatorId"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Status           PayoutStatus    `json:"status"`
	PeriodStart      time.Time       `json:"periodStart"`
	PeriodEnd        time.Time       `json:"periodEnd"`
	GrossEarnings    decimal.Decimal `json:"grossEarnings"`
	PlatformFee      decimal.Decimal `json:"platformFee"`
	ExternalPayoutID *string         `json:"externalPayoutId,omitempty"`
	FailureReason    *string         `json:"failureReason,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// DecisionLogEntry is one immutable audit row.
type DecisionLogEntry struct {
	ID          string          `json:"id"`
	Seq         int64           `json:"seq"`
	Agent       Agent           `json:"agent"`
	EntityID    string          `json:"entityId"`
	EntityType  string          `json:"entityType"`
	Trigger     string          `json:"trigger"`
	Payload     json.RawMessage `json:"payload"`
	Decision    json.RawMessage `json:"decision"`
	Explanation string          `json:"explanation"`
	CreatedAt   time.Time       `json:"createdAt"`
}
