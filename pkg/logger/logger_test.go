package logger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf, zerolog.DebugLevel)
	t.Cleanup(func() { Init("info") })
	return &buf
}

func TestRequestID_GeneratesAndEchoes(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/health", func(c *gin.Context) { c.String(200, c.GetString(ContextRequestID)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if id := w.Header().Get(RequestIDHeader); id == "" || id != w.Body.String() {
		t.Errorf("generated id = %q, context id = %q", id, w.Body.String())
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set(RequestIDHeader, "caller-id")
	r.ServeHTTP(w, req)
	if id := w.Header().Get(RequestIDHeader); id != "caller-id" {
		t.Errorf("%s = %q, expected %q", RequestIDHeader, id, "caller-id")
	}
}

func TestGinLogger_OmitsQuery(t *testing.T) {
	buf := capture(t)

	r := gin.New()
	r.Use(RequestID(), GinLogger())
	r.GET("/api/oauth/callback", func(c *gin.Context) { c.Status(400) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/oauth/callback?code=secret-code&state=alice", nil))

	line := buf.String()
	if strings.Contains(line, "secret-code") {
		t.Errorf("log line leaks the query string: %s", line)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, line)
	}
	if entry["level"] != "warn" {
		t.Errorf("level = %v, expected warn for a 4xx", entry["level"])
	}
	if entry["path"] != "/api/oauth/callback" {
		t.Errorf("path = %v, expected /api/oauth/callback", entry["path"])
	}
	if entry["request_id"] == "" {
		t.Error("request_id should be logged")
	}
}

func TestGinRecovery_Returns500(t *testing.T) {
	buf := capture(t)

	r := gin.New()
	r.Use(GinRecovery())
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, expected 500", w.Code)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Errorf("panic was not logged: %s", buf.String())
	}
}

func TestComponent_TagsEntries(t *testing.T) {
	buf := capture(t)

	l := Component("webhook")
	l.Info().Msg("dispatched")

	if !strings.Contains(buf.String(), `"component":"webhook"`) {
		t.Errorf("entry = %s, expected component tag", buf.String())
	}
}
