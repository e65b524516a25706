package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func preflight(origins []string, origin string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(corsMiddleware(origins))
	router.OPTIONS("/lists", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodOptions, "/lists", http.NoBody)
	request.Header.Set("Origin", origin)
	request.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestCORSMiddlewareAllowsAuthorizationHeader(t *testing.T) {
	recorder := preflight(nil, "https://app.example.com")

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	allowHeaders := recorder.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(strings.ToLower(allowHeaders), "authorization") {
		t.Fatalf("expected Access-Control-Allow-Headers to include Authorization, got %q", allowHeaders)
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be enabled")
	}
}

func TestCORSMiddlewareRestrictsConfiguredOrigins(t *testing.T) {
	allowed := preflight([]string{"https://crm.example.com"}, "https://crm.example.com")
	if allowed.Code != http.StatusNoContent {
		t.Fatalf("expected the configured origin to pass, got %d", allowed.Code)
	}
	if allowed.Header().Get("Access-Control-Allow-Origin") != "https://crm.example.com" {
		t.Fatalf("unexpected allow origin %q", allowed.Header().Get("Access-Control-Allow-Origin"))
	}

	rejected := preflight([]string{"https://crm.example.com"}, "https://evil.example.com")
	if rejected.Code != http.StatusForbidden {
		t.Fatalf("expected an unknown origin to be rejected, got %d", rejected.Code)
	}
}
