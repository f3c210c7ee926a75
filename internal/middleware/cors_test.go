package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func corsRouter() *gin.Engine {
	router := gin.New()
	router.Use(CORS())
	router.POST("/webhook/contactownerchange", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/api/users/me", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	return router
}

func preflight(router *gin.Engine, path, method, headers string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("OPTIONS", path, nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", method)
	req.Header.Set("Access-Control-Request-Headers", headers)
	router.ServeHTTP(w, req)
	return w
}

func TestCORS_PreflightAllowsSignatureHeaders(t *testing.T) {
	tests := []string{
		"X-HubSpot-Signature-Version, X-HubSpot-Signature",
		"X-Signature-Version, X-Signature",
		"Content-Type, Authorization",
	}

	for _, headers := range tests {
		t.Run(headers, func(t *testing.T) {
			w := preflight(corsRouter(), "/webhook/contactownerchange", "POST", headers)
			if w.Code != http.StatusNoContent && w.Code != http.StatusOK {
				t.Fatalf("preflight status = %d, expected 200 or 204", w.Code)
			}
			allowed := strings.ToLower(w.Header().Get("Access-Control-Allow-Headers"))
			for _, h := range strings.Split(headers, ",") {
				if !strings.Contains(allowed, strings.ToLower(strings.TrimSpace(h))) {
					t.Errorf("Access-Control-Allow-Headers = %q, missing %q", allowed, h)
				}
			}
		})
	}
}

func TestCORS_ExposesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/users/me", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	corsRouter().ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("Access-Control-Allow-Origin should be set")
	}
	if !strings.Contains(w.Header().Get("Access-Control-Expose-Headers"), "X-Request-Id") &&
		!strings.Contains(w.Header().Get("Access-Control-Expose-Headers"), "X-Request-ID") {
		t.Errorf("Access-Control-Expose-Headers = %q, expected X-Request-ID", w.Header().Get("Access-Control-Expose-Headers"))
	}
}
