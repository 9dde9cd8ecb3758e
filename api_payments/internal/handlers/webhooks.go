package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"frameworks/pkg/api/common"
	"frameworks/pkg/middleware"
)

// HandleWebhook verifies and applies one gateway notification.
func HandleWebhook(c *gin.Context) {
	gw := c.Param("gateway")
	if processor == nil || !processor.Supported(gw) {
		c.JSON(http.StatusNotFound, common.ErrorResponse{Error: "Unknown gateway"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		middleware.RequestLogger(c, logger).WithError(err).Warn("Failed to read webhook body")
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "Failed to read body"})
		return
	}
	if len(body) > maxWebhookBody {
		c.JSON(http.StatusRequestEntityTooLarge, common.ErrorResponse{Error: "Payload too large"})
		return
	}

	res := processor.Process(c.Request.Context(), gw, body, c.GetHeader)
	if res.Status != http.StatusOK {
		c.JSON(res.Status, common.ErrorResponse{Error: res.Error})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": res.Outcome})
}
