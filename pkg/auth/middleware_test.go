package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newAdminRouter(secret []byte, serviceToken string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AdminAuthMiddleware(secret, serviceToken))
	r.GET("/ok", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextKeyAuthType))
	})
	return r
}

func doAuthRequest(r *gin.Engine, header string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequestWithContext(context.Background(), "GET", "/ok", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestAdminAuthMiddleware(t *testing.T) {
	secret := []byte("secret")
	r := newAdminRouter(secret, "svc-token")

	admin, _ := GenerateJWT("ops-1", "ops@example.com", RoleAdmin, secret, time.Hour)
	viewer, _ := GenerateJWT("ops-2", "viewer@example.com", "viewer", secret, time.Hour)

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantBody string
	}{
		{name: "missing header", wantCode: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", wantCode: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", wantCode: http.StatusUnauthorized},
		{name: "non-admin role", header: "Bearer " + viewer, wantCode: http.StatusForbidden},
		{name: "admin jwt", header: "Bearer " + admin, wantCode: http.StatusOK, wantBody: "jwt"},
		{name: "service token", header: "Bearer svc-token", wantCode: http.StatusOK, wantBody: "service"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doAuthRequest(r, tt.header)
			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d (%s)", tt.wantCode, w.Code, w.Body.String())
			}
			if tt.wantBody != "" && w.Body.String() != tt.wantBody {
				t.Fatalf("expected body %q, got %q", tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestAdminAuthMiddlewareWithoutSecretRejectsJWT(t *testing.T) {
	token, _ := GenerateJWT("ops-1", "", RoleAdmin, []byte("other"), time.Hour)
	r := newAdminRouter(nil, "")
	if w := doAuthRequest(r, "Bearer "+token); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
