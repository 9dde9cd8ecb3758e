package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"frameworks/api_payments/internal/fraud"
	"frameworks/api_payments/internal/gateway"
	"frameworks/api_payments/internal/models"
	stripeclient "frameworks/api_payments/internal/stripe"
	"frameworks/pkg/api/common"
	"frameworks/pkg/billing"
	"frameworks/pkg/logging"
	"frameworks/pkg/middleware"
)

type checkoutRequest struct {
	UserID        string `json:"userId" binding:"required,uuid"`
	PlanID        string `json:"planId" binding:"required,uuid"`
	SuccessURL    string `json:"successUrl" binding:"required,url"`
	CancelURL     string `json:"cancelUrl" binding:"required,url"`
	CustomerEmail string `json:"customerEmail" binding:"omitempty,email"`
	TrialDays     int64  `json:"trialDays" binding:"gte=0,lte=90"`
}

type checkoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// CreateCheckoutSession opens a hosted subscription checkout for a plan.
func CreateCheckoutSession(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, err)
		return
	}
	if checkout == nil {
		c.JSON(http.StatusServiceUnavailable, common.ErrorResponse{Error: "Checkout is not configured"})
		return
	}

	ctx := c.Request.Context()
	plan, err := repo.GetPlan(ctx, req.PlanID)
	if err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "Plan not found: " + req.PlanID})
		return
	}
	user, err := repo.GetUser(ctx, req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "User not found: " + req.UserID})
		return
	}

	params := stripeclient.CheckoutSessionParams{
		UserID:        user.ID,
		PlanID:        plan.ID,
		CustomerEmail: req.CustomerEmail,
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
		TrialDays:     req.TrialDays,
	}
	if params.CustomerEmail == "" {
		params.CustomerEmail = user.Email
	}
	if user.GatewayCustomerID != nil {
		params.CustomerID = *user.GatewayCustomerID
	}
	if plan.ExternalPriceID != nil && *plan.ExternalPriceID != "" {
		params.PriceID = *plan.ExternalPriceID
	} else {
		unit, err := billing.ToMinorUnits(plan.Price, plan.Currency)
		if err != nil {
			c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: err.Error()})
			return
		}
		params.PlanName = plan.Name
		params.UnitAmount = unit
		params.Currency = plan.Currency
		params.Interval = "month"
		if plan.Interval == models.IntervalAnnual {
			params.Interval = "year"
		}
	}

	sess, err := checkout.CreateCheckoutSession(ctx, params)
	if err != nil {
		middleware.RequestLogger(c, logger).WithError(err).Warn("Checkout session creation failed")
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: err.Error()})
		return
	}
	if sess.URL == "" {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "Gateway did not return a checkout URL"})
		return
	}

	c.JSON(http.StatusOK, checkoutResponse{SessionID: sess.ID, URL: sess.URL})
}

type chargeRequest struct {
	UserID          string            `json:"userId" binding:"required,uuid"`
	Amount          decimal.Decimal   `json:"amount" binding:"required,gt=0"`
	Currency        string            `json:"currency" binding:"omitempty,len=3"`
	PaymentMethodID string            `json:"paymentMethodId" binding:"required"`
	CustomerID      string            `json:"customerId"`
	Metadata        map[string]string `json:"metadata"`
}

type chargeResponse struct {
	Success         bool   `json:"success"`
	TransactionID   string `json:"transactionId"`
	Gateway         string `json:"gateway"`
	SelectionReason string `json:"selectionReason"`
}

type chargeFailure struct {
	Error            string            `json:"error"`
	Gateway          string            `json:"gateway"`
	ErrorCode        string            `json:"errorCode,omitempty"`
	ErrorMessage     string            `json:"errorMessage,omitempty"`
	FallbackAttempts []gateway.Attempt `json:"fallbackAttempts"`
}

// Charge screens a charge, routes it across the registered gateways and
// records the terminal outcome.
func Charge(c *gin.Context) {
	var req chargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, err)
		return
	}
	currency := billing.NormalizeCurrency(req.Currency)
	if currency == "" {
		currency = billing.DefaultCurrency()
	}

	ctx := c.Request.Context()
	log := middleware.RequestLogger(c, logger).WithFields(logging.Fields{
		"user_id":  req.UserID,
		"amount":   req.Amount.String(),
		"currency": currency,
	})
	ip := c.ClientIP()

	if fraudPrecheck && fraudEngine != nil {
		assessment, err := fraudEngine.Assess(ctx, fraud.Input{
			UserID:          req.UserID,
			Amount:          req.Amount,
			Currency:        currency,
			IPAddress:       ip,
			UserAgent:       c.Request.UserAgent(),
			PaymentMethodID: req.PaymentMethodID,
		})
		if err != nil {
			respondError(c, err, "Fraud pre-check failed")
			return
		}
		if assessment.Action == fraud.ActionBlock {
			log.WithField("risk_score", assessment.RiskScore).Warn("Charge blocked by fraud pre-check")
			c.JSON(http.StatusForbidden, common.ErrorResponse{Error: "Transaction blocked"})
			return
		}
	}

	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if key == "" {
		key = uuid.NewString()
	}
	outcome, err := orchestrator.Charge(ctx, gateway.ChargeRequest{
		Amount:          req.Amount,
		Currency:        currency,
		PaymentMethodID: req.PaymentMethodID,
		CustomerID:      req.CustomerID,
		IdempotencyKey:  key,
		Metadata:        req.Metadata,
	}, routing)
	if err != nil {
		respondError(c, err, "Failed to route charge")
		return
	}

	result := outcome.Result
	metadata := models.Metadata{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	// Server-observed values feed fraud velocity checks; clients cannot set them.
	metadata["ipAddress"] = ip
	metadata["idempotencyKey"] = key
	txn := &models.Transaction{
		UserID:   req.UserID,
		Amount:   req.Amount,
		Currency: currency,
		Status:   transactionStatus(result.Status),
		Gateway:  outcome.ChosenGateway,
		Metadata: metadata,
	}
	if result.GatewayTxnID != "" {
		id := result.GatewayTxnID
		txn.GatewayTxnID = &id
	}
	if _, err := repo.InsertTransaction(ctx, txn); err != nil {
		// The gateway already acted; the response still reflects its result.
		log.WithError(err).Error("Failed to record charge transaction")
	}

	if !result.Success {
		c.JSON(http.StatusPaymentRequired, chargeFailure{
			Error:            "Payment failed",
			Gateway:          outcome.ChosenGateway,
			ErrorCode:        result.ErrorCode,
			ErrorMessage:     result.ErrorMessage,
			FallbackAttempts: outcome.FallbackAttempts,
		})
		return
	}

	transactionID := result.TransactionID
	if transactionID == "" {
		transactionID = txn.ID
	}
	c.JSON(http.StatusOK, chargeResponse{
		Success:         true,
		TransactionID:   transactionID,
		Gateway:         outcome.ChosenGateway,
		SelectionReason: outcome.SelectionReason,
	})
}

func transactionStatus(s gateway.Status) models.TransactionStatus {
	switch s {
	case gateway.StatusSucceeded:
		return models.TxnSucceeded
	case gateway.StatusPending:
		return models.TxnPending
	}
	return models.TxnFailed
}

type assessRequest struct {
	UserID          string          `json:"userId" binding:"required,uuid"`
	Amount          decimal.Decimal `json:"amount" binding:"required,gt=0"`
	Currency        string          `json:"currency" binding:"omitempty,len=3"`
	IPAddress       string          `json:"ipAddress"`
	UserAgent       string          `json:"userAgent"`
	PaymentMethodID string          `json:"paymentMethodId"`
}

// blockedResponse names the triggered rules without their weights.
type blockedResponse struct {
	Error          string       `json:"error"`
	Action         fraud.Action `json:"action"`
	RulesTriggered []string     `json:"rulesTriggered"`
}

// AssessFraud scores a prospective charge. Blocks are answered with 403.
func AssessFraud(c *gin.Context) {
	var req assessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, err)
		return
	}
	if req.Currency == "" {
		req.Currency = billing.DefaultCurrency()
	}

	a, err := fraudEngine.Assess(c.Request.Context(), fraud.Input{
		UserID:          req.UserID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		IPAddress:       req.IPAddress,
		UserAgent:       req.UserAgent,
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		respondError(c, err, "Fraud assessment failed")
		return
	}

	if a.Action == fraud.ActionBlock {
		rules := make([]string, 0, len(a.RulesTriggered))
		for _, hit := range a.RulesTriggered {
			rules = append(rules, hit.Rule)
		}
		c.JSON(http.StatusForbidden, blockedResponse{
			Error:          "Transaction blocked",
			Action:         a.Action,
			RulesTriggered: rules,
		})
		return
	}
	c.JSON(http.StatusOK, a)
}
