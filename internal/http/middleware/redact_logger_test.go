package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func TestRedact(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"no secrets here", "no secrets here"},
		{"mail jane.doe@example.com now", "mail [REDACTED:email] now"},
		{"call +1 555-123-4567", "call [REDACTED:phone]"},
		{"tel +44 20 7946 0958.", "tel [REDACTED:phone]."},
		{"office 555.123.4567", "office [REDACTED:phone]"},
		// ids go first so their digit groups are not taken for phone numbers
		{"conv 3f2504e0-4f89-41d3-9a0c-0305e82c3301", "conv [REDACTED:id]"},
	}
	for _, tc := range cases {
		if got := Redact(tc.in); got != tc.want {
			t.Errorf("Redact(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 3); got != "abc…" {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("abc", 0); got != "abc" {
		t.Fatalf("truncate disabled = %q", got)
	}
}

// lastLine decodes the last JSON log line in s.
func lastLine(t *testing.T, s string) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(s), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("decode log line %q: %v", lines[len(lines)-1], err)
	}
	return m
}

func TestRedactingLogger_AccessLine(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLog(t)

	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{MaskHeaders: []string{" X-Api-Key "}}))
	r.Use(func(c *gin.Context) { c.Set(subjectKey, "ops@example.com"); c.Next() })
	r.GET("/admin/v1/notification/:id", func(c *gin.Context) {
		zerolog.Ctx(c.Request.Context()).Info().Msg("inner")
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/notification/n1?email=a@b.io", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-Api-Key", "k")
	req.Header.Set("X-Contact", "jane@example.com")
	req.Header.Set("X-Request-ID", "rid-log")
	r.ServeHTTP(httptest.NewRecorder(), req)

	// Nothing sensitive may appear anywhere in the output, inner lines included.
	out := buf.String()
	if strings.Contains(out, "secret") || strings.Contains(out, "jane@example.com") || strings.Contains(out, "a@b.io") {
		t.Fatalf("unredacted data in log: %s", out)
	}
	if !strings.Contains(out, `"message":"inner"`) || !strings.Contains(out, `"request_id":"rid-log"`) {
		t.Fatalf("request logger not reachable through the context: %s", out)
	}

	// The access line is written last, after the handler ran.
	line := lastLine(t, out)
	if line["message"] != "http_request" || line["level"] != "info" {
		t.Fatalf("line = %v", line)
	}
	if line["path"] != "/admin/v1/notification/:id" || line["status"] != float64(200) {
		t.Fatalf("line = %v", line)
	}
	if line["subject"] != "[REDACTED:email]" {
		t.Fatalf("subject = %v", line["subject"])
	}
	headers, _ := line["headers"].(map[string]any)
	if headers["Authorization"] != "[REDACTED]" || headers["X-Api-Key"] != "[REDACTED]" {
		t.Fatalf("headers = %v", headers)
	}
}

func TestRedactingLogger_Levels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLog(t)

	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{}))
	r.GET("/warn", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/fail", func(c *gin.Context) {
		_ = c.Error(http.ErrHandlerTimeout)
		c.Status(http.StatusOK)
	})

	for path, want := range map[string]string{"/warn": "warn", "/fail": "error"} {
		buf.Reset()
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
		line := lastLine(t, buf.String())
		if line["level"] != want {
			t.Fatalf("%s logged at %v, want %s", path, line["level"], want)
		}
	}
}
