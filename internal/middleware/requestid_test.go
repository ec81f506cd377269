package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func newRequestIDRouter() *gin.Engine {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey))
	})
	return r
}

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	r := newRequestIDRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	header := w.Header().Get(RequestIDHeader)
	if header == "" {
		t.Fatal("X-Request-ID header missing")
	}
	if _, err := uuid.Parse(header); err != nil {
		t.Errorf("X-Request-ID %q is not a UUID: %v", header, err)
	}
	if w.Body.String() != header {
		t.Errorf("context id %q != header id %q", w.Body.String(), header)
	}
}

func TestRequestID_ReusesInbound(t *testing.T) {
	r := newRequestIDRouter()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-id-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get(RequestIDHeader); got != "upstream-id-42" {
		t.Errorf("X-Request-ID = %q, want the inbound id preserved", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	want := map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "no-referrer",
	}
	for header, value := range want {
		if got := w.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
	if got := w.Header().Get("Strict-Transport-Security"); got == "" {
		t.Error("Strict-Transport-Security header missing")
	}
}
