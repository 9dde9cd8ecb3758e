package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"

	"frameworks/api_payments/internal/decisionlog"
	"frameworks/api_payments/internal/fraud"
	"frameworks/api_payments/internal/gateway"
	"frameworks/api_payments/internal/lifecycle"
	"frameworks/api_payments/internal/models"
	"frameworks/api_payments/internal/payout"
	"frameworks/api_payments/internal/store"
	stripeclient "frameworks/api_payments/internal/stripe"
	"frameworks/api_payments/internal/webhooks"
	"frameworks/pkg/api/common"
	"frameworks/pkg/database"
	"frameworks/pkg/logging"
	"frameworks/pkg/validation"
)

// maxWebhookBody bounds webhook payloads read into memory.
const maxWebhookBody = 1 << 20

// CheckoutCreator opens hosted checkout sessions.
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, params stripeclient.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// DecisionQuerier reads the decision log for operators.
type DecisionQuerier interface {
	Query(ctx context.Context, f decisionlog.Filter) ([]models.DecisionLogEntry, error)
}

// PayoutRunner runs creator payout reconciliation.
type PayoutRunner interface {
	Run(ctx context.Context, periodStart, periodEnd time.Time, creatorIDs []string) (payout.RunResult, error)
}

// Deps are the collaborators the HTTP layer calls.
type Deps struct {
	Store         *store.Store
	Lifecycle     *lifecycle.Manager
	Fraud         *fraud.Engine
	Orchestrator  *gateway.Orchestrator
	Payouts       PayoutRunner
	Decisions     DecisionQuerier
	Webhooks      *webhooks.Processor
	Checkout      CheckoutCreator
	Routing       []gateway.RoutingRule
	FraudPrecheck bool
	Logger        logging.Logger
}

var (
	repo          *store.Store
	slm           *lifecycle.Manager
	fraudEngine   *fraud.Engine
	orchestrator  *gateway.Orchestrator
	payouts       PayoutRunner
	decisions     DecisionQuerier
	processor     *webhooks.Processor
	checkout      CheckoutCreator
	routing       []gateway.RoutingRule
	fraudPrecheck bool
	logger        logging.Logger
	now           = time.Now
)

// Init initializes the handlers with their collaborators.
func Init(d Deps) {
	repo = d.Store
	slm = d.Lifecycle
	fraudEngine = d.Fraud
	orchestrator = d.Orchestrator
	payouts = d.Payouts
	decisions = d.Decisions
	processor = d.Webhooks
	checkout = d.Checkout
	routing = d.Routing
	fraudPrecheck = d.FraudPrecheck
	logger = d.Logger
	validation.Setup()
}

// RegisterRoutes mounts every endpoint. adminAuth guards /admin.
func RegisterRoutes(router gin.IRouter, adminAuth gin.HandlerFunc) {
	router.POST("/checkout/session", CreateCheckoutSession)
	router.POST("/charge", Charge)
	router.POST("/fraud/assess", AssessFraud)
	router.POST("/webhooks/:gateway", HandleWebhook)

	admin := router.Group("/admin")
	if adminAuth != nil {
		admin.Use(adminAuth)
	}
	admin.POST("/payouts/run", RunPayouts)
	admin.GET("/subscriptions", ListSubscriptions)
	admin.POST("/subscriptions/:id/plan-change", ChangePlan)
	admin.POST("/subscriptions/:id/cancel", CancelSubscription)
	admin.GET("/plans", ListPlans)
	admin.POST("/plans", CreatePlan)
	admin.GET("/transactions", ListTransactions)
	admin.POST("/users", CreateUser)
	admin.POST("/creators", CreateCreator)
	admin.PATCH("/creators/:id", UpdateCreator)
	admin.POST("/assignments", CreateAssignment)
	admin.GET("/metrics/:agent", GetMetrics)
	admin.GET("/decisions", ListDecisions)
}

func validationFailed(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, common.ValidationErrorResponse{
		Error:   common.MsgValidationFailed,
		Details: validation.Details(err),
	})
}

// respondError maps domain errors onto the HTTP taxonomy.
func respondError(c *gin.Context, err error, msg string) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, common.ValidationErrorResponse{
			Error:   common.MsgValidationFailed,
			Details: verr.Fields,
		})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, common.ErrorResponse{Error: err.Error()})
	case database.IsUniqueViolation(err):
		c.JSON(http.StatusConflict, common.ErrorResponse{Error: "Already exists"})
	case database.ErrorCode(err) == database.CodeForeignKeyViolation:
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "Referenced entity does not exist"})
	default:
		logger.WithFields(logging.Fields{
			"error": err,
			"path":  c.FullPath(),
		}).Error(msg)
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{Error: common.MsgInternalError})
	}
}
