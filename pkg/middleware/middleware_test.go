package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frameworks/pkg/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, method, path string, header http.Header) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	r.ServeHTTP(w, req)
	return w
}

func captureLogger() (logging.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)
	return logger, &buf
}

func TestRequestIDGenerated(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/charge", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	w := serve(r, http.MethodGet, "/charge", nil)

	require.Equal(t, http.StatusOK, w.Code)
	id := w.Header().Get("X-Request-ID")
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, w.Body.String())
}

func TestRequestIDPreserved(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/charge", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	w := serve(r, http.MethodGet, "/charge", http.Header{"X-Request-Id": {"req-123"}})

	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-123", w.Body.String())
}

func TestLoggingMiddlewareFields(t *testing.T) {
	logger, buf := captureLogger()
	r := gin.New()
	r.Use(RequestIDMiddleware(), LoggingMiddleware(logger))
	r.POST("/charge", func(c *gin.Context) { c.Status(http.StatusPaymentRequired) })

	serve(r, http.MethodPost, "/charge", http.Header{"X-Request-Id": {"req-9"}})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, float64(http.StatusPaymentRequired), line["status"])
	assert.Equal(t, "/charge", line["path"])
	assert.Equal(t, "req-9", line["request_id"])
}

func TestLoggingMiddlewareQuietPaths(t *testing.T) {
	logger, buf := captureLogger()
	r := gin.New()
	r.Use(LoggingMiddleware(logger))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, http.MethodGet, "/health", nil)

	assert.Empty(t, buf.String())
}

func TestRecoveryMiddleware(t *testing.T) {
	logger, buf := captureLogger()
	r := gin.New()
	r.Use(RecoveryMiddleware(logger))
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := serve(r, http.MethodGet, "/panic", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, w.Body.String())
	assert.True(t, strings.Contains(buf.String(), "Request handler panic"))
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware())
	r.POST("/charge", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := serve(r, http.MethodOptions, "/charge", nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
}

func TestRequestLogger(t *testing.T) {
	logger, buf := captureLogger()
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.POST("/admin/payouts/run", func(c *gin.Context) {
		RequestLogger(c, logger).Info("payout run")
		c.Status(http.StatusOK)
	})

	serve(r, http.MethodPost, "/admin/payouts/run", http.Header{"X-Request-Id": {"req-42"}})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-42", line["request_id"])
	assert.Equal(t, http.MethodPost, line["method"])
	assert.Equal(t, "/admin/payouts/run", line["path"])
}
