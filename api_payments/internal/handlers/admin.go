package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"frameworks/api_payments/internal/decisionlog"
	"frameworks/api_payments/internal/lifecycle"
	"frameworks/api_payments/internal/models"
	"frameworks/api_payments/internal/store"
	"frameworks/pkg/api/common"
	"frameworks/pkg/billing"
	"frameworks/pkg/logging"
	"frameworks/pkg/middleware"
)

type runPayoutsRequest struct {
	PeriodStart time.Time `json:"periodStart" binding:"required"`
	PeriodEnd   time.Time `json:"periodEnd" binding:"required,gtfield=PeriodStart"`
	CreatorIDs  []string  `json:"creatorIds" binding:"omitempty,dive,uuid"`
}

// RunPayouts reconciles creator earnings for a period.
func RunPayouts(c *gin.Context) {
	var req runPayoutsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, err)
		return
	}

	result, err := payouts.Run(c.Request.Context(), req.PeriodStart, req.PeriodEnd, req.CreatorIDs)
	if err != nil {
		respondError(c, err, "Payout run failed")
		return
	}

	middleware.RequestLogger(c, logger).WithFields(logging.Fields{
		"payouts_processed": result.PayoutsProcessed,
		"discrepancies":     len(result.Discrepancies),
	}).Info("Payout run completed")
	c.JSON(http.StatusOK, result)
}

type listSubscriptionsQuery struct {
	UserID string `form:"userId" binding:"omitempty,uuid"`
	Status string `form:"status" binding:"omitempty,oneof=trial active past_due canceled paused"`
	Limit  int    `form:"limit,default=20" binding:"min=1,max=100"`
	Offset int    `form:"offset,default=0" binding:"min=0"`
}

// ListSubscriptions pages through subscriptions newest first.
func ListSubscriptions(c *gin.Context) {
	var q listSubscriptionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		validationFailed(c, err)
		return
	}

	subs, err := repo.ListSubscriptions(c.Request.Context(), store.SubscriptionFilter{
		UserID: q.UserID,
		Status: models.SubscriptionStatus(q.Status),
		Limit:  q.Limit,
		Offset: q.Offset,
	})
	if err != nil {
		respondError(c, err, "Failed to list subscriptions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

type planChangeRequest struct {
	NewPlanID  string `json:"newPlanId" binding:"required,uuid"`
	ChangeType string `json:"changeType" binding:"required,oneof=upgrade downgrade"`
}

// ChangePlan upgrades or downgrades a subscription.
func ChangePlan(c *gin.Context) {
	var req planChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, err)
		return
	}

	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := slm.ChangePlan(c.Request.Context(), id, req.NewPlanID, lifecycle.ChangeType(req.ChangeType))
	if err != nil {
		respondError(c, err, "Plan change failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":          result.SubscriptionUpdated,
		"prorationApplied": result.Proration,
	})
}

// CancelSubscription applies a user cancellation.
func CancelSubscription(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := slm.Apply(c.Request.Context(), lifecycle.Event{
		Trigger:        lifecycle.TriggerUserCancel,
		SubscriptionID: id,
		Source:         "admin:" + middleware.GetRequestID(c),
	})
	if err != nil {
		respondError(c, err, "Cancellation failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      res.Updated,
		"subscription": res.Subscription,
	})
}

// ListPlans returns every plan.
func ListPlans(c *gin.Context) {
	plans, err := repo.ListPlans(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to list plans")
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

type createPlanRequest struct {
	Name            string          `json:"name" binding:"required,min=1,max=100"`
	Price           decimal.Decimal `json:"price" binding:"required,gt=0"`
	Currency        string          `json:"currency" binding:"omitempty,len=3"`
	Interval        string          `json:"interval" binding:"required,oneof=monthly annual"`
	ExternalPriceID string          `json:"externalPriceId"`
}

// CreatePlan adds a billing plan.
func CreatePlan(c *gin.Context) {
	var req createPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, err)
		return
	}

	currency := billing.NormalizeCurrency(req.Currency)
	if currency == "" {
		currency = billing.DefaultCurrency()
	}
	plan := &models.Plan{
		Name:     req.Name,
		Price:    req.Price,
		Currency: currency,
		Interval: models.BillingInterval(req.Interval),
	}
	if req.ExternalPriceID != "" {
		plan.ExternalPriceID = &req.ExternalPriceID
	}
	if err := repo.CreatePlan(c.Request.Context(), plan); err != nil {
		respondError(c, err, "Failed to create plan")
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan})
}

type listTransactionsQuery struct {
	UserID string `form:"userId" binding:"omitempty,uuid"`
	Limit  int    `form:"limit,default=20" binding:"min=1,max=100"`
	Offset int    `form:"offset,default=0" binding:"min=0"`
}

// ListTransactions pages through transactions newest first.
func ListTransactions(c *gin.Context) {
	var q listTransactionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		validationFailed(c, err)
		return
	}

	txns, err := repo.ListTransactions(c.Request.Context(), q.UserID, q.Limit, q.Offset)
	if err != nil {
		respondError(c, err, "Failed to list transactions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}

type createUserRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// CreateUser registers a payer.
func CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, err)
		return
	}

	user, err := repo.CreateUser(c.Request.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		respondError(c, err, "Failed to create user")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

type createCreatorRequest struct {
	UserID             string           `json:"userId" binding:"required,uuid"`
	PlatformFeePercent *decimal.Decimal `json:"platformFeePercent"`
	PayoutSchedule     string           `json:"payoutSchedule" binding:"omitempty,oneof=weekly biweekly monthly"`
	MinPayoutAmount    *decimal.Decimal `json:"minPayoutAmount"`
	PayeeReference     string           `json:"payeeReference"`
}

var (
	defaultPlatformFee = decimal.NewFromInt(10)
	defaultMinPayout   = decimal.NewFromInt(50)
)

// CreateCreator registers a payee.
func CreateCreator(c *gin.Context) {
	var req createCreatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, err)
		return
	}

	creator := &models.Creator{
		UserID:             req.UserID,
		PlatformFeePercent: defaultPlatformFee,
		PayoutSchedule:     models.PayoutSchedule(req.PayoutSchedule),
		MinPayoutAmount:    defaultMinPayout,
		TaxMetadata:        models.Metadata{},
	}
	if creator.PayoutSchedule == "" {
		creator.PayoutSchedule = models.ScheduleWeekly
	}
	if req.PlatformFeePercent != nil {
		creator.PlatformFeePercent = *req.PlatformFeePercent
	}
	if req.MinPayoutAmount != nil {
		creator.MinPayoutAmount = *req.MinPayoutAmount
	}
	if req.PayeeReference != "" {
		creator.PayeeReference = &req.PayeeReference
	}
	if err := checkCreatorAmounts(creator.PlatformFeePercent, creator.MinPayoutAmount); err != nil {
		respondError(c, err, "Invalid creator")
		return
	}

	if err := repo.CreateCreator(c.Request.Context(), creator); err != nil {
		respondError(c, err, "Failed to create creator")
		return
	}
	c.JSON(http.StatusOK, gin.H{"creator": creator})
}

type updateCreatorRequest struct {
	PlatformFeePercent *decimal.Decimal `json:"platformFeePercent"`
	MinPayoutAmount    *decimal.Decimal `json:"minPayoutAmount"`
	PayoutSchedule     *string          `json:"payoutSchedule" binding:"omitempty,oneof=weekly biweekly monthly"`
	PayeeReference     *string          `json:"payeeReference"`
}

// UpdateCreator changes a creator's fee, minimum, schedule or payee.
func UpdateCreator(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updateCreatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, err)
		return
	}

	fee, minimum := decimal.Zero, decimal.Zero
	if req.PlatformFeePercent != nil {
		fee = *req.PlatformFeePercent
	}
	if req.MinPayoutAmount != nil {
		minimum = *req.MinPayoutAmount
	}
	if err := checkCreatorAmounts(fee, minimum); err != nil {
		respondError(c, err, "Invalid creator update")
		return
	}

	update := store.CreatorUpdate{
		PlatformFeePercent: req.PlatformFeePercent,
		MinPayoutAmount:    req.MinPayoutAmount,
		PayeeReference:     req.PayeeReference,
	}
	if req.PayoutSchedule != nil {
		schedule := models.PayoutSchedule(*req.PayoutSchedule)
		update.PayoutSchedule = &schedule
	}

	creator, err := repo.UpdateCreator(c.Request.Context(), id, update)
	if err != nil {
		respondError(c, err, "Failed to update creator")
		return
	}
	c.JSON(http.StatusOK, gin.H{"creator": creator})
}

// pathID reads the :id parameter, answering 400 when it is not a UUID.
func pathID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		respondError(c, models.NewValidationError("id", "must be a valid UUID"), "")
		return "", false
	}
	return id, true
}

func checkCreatorAmounts(fee, minimum decimal.Decimal) error {
	verr := &models.ValidationError{Fields: map[string]string{}}
	if fee.IsNegative() || fee.GreaterThan(decimal.NewFromInt(100)) {
		verr.Fields["platformFeePercent"] = "must be between 0 and 100"
	}
	if minimum.IsNegative() {
		verr.Fields["minPayoutAmount"] = "must not be negative"
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

type createAssignmentRequest struct {
	ContentID    string           `json:"contentId" binding:"required"`
	ContentType  string           `json:"contentType" binding:"required"`
	CreatorID    string           `json:"creatorId" binding:"required,uuid"`
	SharePercent *decimal.Decimal `json:"sharePercent"`
}

// CreateAssignment attributes content revenue to a creator.
func CreateAssignment(c *gin.Context) {
	var req createAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, err)
		return
	}

	share := decimal.NewFromInt(100)
	if req.SharePercent != nil {
		share = *req.SharePercent
	}
	if !share.IsPositive() || share.GreaterThan(decimal.NewFromInt(100)) {
		respondError(c, models.NewValidationError("sharePercent", "must be greater than 0 and at most 100"), "Invalid assignment")
		return
	}

	a := &models.ContentCreatorAssignment{
		ContentID:    req.ContentID,
		ContentType:  req.ContentType,
		CreatorID:    req.CreatorID,
		SharePercent: share,
	}
	if err := repo.CreateAssignment(c.Request.Context(), a); err != nil {
		respondError(c, err, "Failed to create assignment")
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignment": a})
}

type sinceQuery struct {
	Since *time.Time `form:"since" time_format:"2006-01-02T15:04:05Z07:00"`
}

// GetMetrics reports one agent's aggregate health.
func GetMetrics(c *gin.Context) {
	var q sinceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		validationFailed(c, err)
		return
	}

	agent := strings.ToLower(c.Param("agent"))
	window := 7 * 24 * time.Hour
	if agent == "slm" || agent == "cpr" {
		window = 30 * 24 * time.Hour
	}
	since := now().Add(-window)
	if q.Since != nil {
		since = *q.Since
	}

	ctx := c.Request.Context()
	var (
		metrics interface{}
		err     error
	)
	switch agent {
	case "slm":
		var st store.SubscriptionStats
		st, err = repo.SubscriptionStats(ctx, since)
		metrics = gin.H{
			"churnRate":          ratio(st.Canceled, st.Total),
			"renewalRate":        ratio(st.RenewalSucceeded, st.RenewalSucceeded+st.RenewalFailed),
			"totalSubscriptions": st.Total,
			"canceledCount":      st.Canceled,
		}
	case "pgo":
		var stats []store.GatewayStats
		stats, err = repo.GatewayStats(ctx, since)
		gateways := make([]gin.H, 0, len(stats))
		for _, g := range stats {
			gateways = append(gateways, gin.H{
				"gateway":           g.Gateway,
				"successRate":       ratio(g.Succeeded, g.Total),
				"totalTransactions": g.Total,
			})
		}
		metrics = gateways
	case "cpr":
		var st store.PayoutStats
		st, err = repo.PayoutStats(ctx, since)
		metrics = gin.H{
			"totalPayouts": st.Total,
			"successRate":  ratio(st.Disbursed, st.Total),
			"totalAmount":  st.TotalAmount,
			"failedCount":  st.Failed,
		}
	case "fdr":
		var st store.RiskStats
		st, err = repo.RiskStats(ctx, since)
		metrics = gin.H{
			"totalTransactions": st.Total,
			"disputedCount":     st.Disputed,
			"failedCount":       st.Failed,
			"disputeRate":       ratio(st.Disputed, st.Total),
		}
	default:
		c.JSON(http.StatusNotFound, common.ErrorResponse{Error: "Unknown agent"})
		return
	}
	if err != nil {
		respondError(c, err, "Failed to compute metrics")
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": metrics})
}

func ratio(n, d int64) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / float64(d)
}

type decisionsQuery struct {
	Agent    string     `form:"agent" binding:"omitempty,oneof=SLM PGO CPR FDR"`
	EntityID string     `form:"entityId"`
	Since    *time.Time `form:"since" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit    int        `form:"limit" binding:"omitempty,min=1,max=500"`
}

// ListDecisions returns decision log entries newest first.
func ListDecisions(c *gin.Context) {
	var q decisionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		validationFailed(c, err)
		return
	}

	f := decisionlog.Filter{
		Agent:    models.Agent(q.Agent),
		EntityID: q.EntityID,
		Limit:    q.Limit,
	}
	if q.Since != nil {
		f.Since = *q.Since
	}
	entries, err := decisions.Query(c.Request.Context(), f)
	if err != nil {
		respondError(c, err, "Failed to query decisions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": entries})
}
