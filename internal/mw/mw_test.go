package mw

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	clog "coursehub/internal/log"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func newEngine(h ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(h...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func TestCORS(t *testing.T) {
	cases := []struct {
		env, origin, host string
		wantAllow         string
	}{
		{"dev", "http://localhost:5173", "api.local", "http://localhost:5173"},
		{"prod", "https://lms.example.com", "lms.example.com", "https://lms.example.com"},
		{"prod", "https://evil.example", "lms.example.com", ""},
		{"prod", "https://lms.example.com.attacker.net", "lms.example.com", ""},
		{"prod", "https://attacker.net/lms.example.com", "lms.example.com", ""},
		{"prod", "not a url", "lms.example.com", ""},
	}
	for _, tc := range cases {
		r := newEngine(CORS(tc.env))
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Host = tc.host
		req.Header.Set("Origin", tc.origin)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != tc.wantAllow {
			t.Errorf("%s %s: allow origin = %q, want %q", tc.env, tc.origin, got, tc.wantAllow)
		}
		if tc.wantAllow == "" && w.Header().Get("Access-Control-Allow-Credentials") != "" {
			t.Errorf("%s %s: credentials allowed for a rejected origin", tc.env, tc.origin)
		}
	}
}

func TestCORS_Preflight(t *testing.T) {
	r := newEngine(CORS("dev"))
	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	l := NewLimiter(rate.Every(time.Hour), 2, time.Minute)
	defer l.Stop()
	r := newEngine(l.Middleware())
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}

	// 不同 IP 有独立的令牌桶
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for a new client, got %d", w.Code)
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	clog.InitWriter("prod", &buf)
	t.Cleanup(func() { clog.Init("dev") })

	r := newEngine(RequestLogger())
	r.GET("/missing/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	req := httptest.NewRequest(http.MethodGet, "/missing/7", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, want := range []string{`"level":"warn"`, `"path":"/missing/:id"`, `"status":404`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %s", out, want)
		}
	}
}

func TestLimiter_UnmatchedRoutesKeyedByPath(t *testing.T) {
	l := NewLimiter(rate.Every(time.Hour), 1, time.Minute)
	defer l.Stop()
	r := newEngine(l.Middleware())

	get := func(path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "10.0.0.3:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	if code := get("/nope/a"); code != http.StatusNotFound {
		t.Fatalf("first /nope/a = %d, want 404", code)
	}
	if code := get("/nope/b"); code != http.StatusNotFound {
		t.Fatalf("/nope/b must have its own bucket, got %d", code)
	}
	if code := get("/nope/a"); code != http.StatusTooManyRequests {
		t.Fatalf("second /nope/a = %d, want 429", code)
	}
}

func TestLimiter_SweepAndStop(t *testing.T) {
	l := NewLimiter(rate.Every(time.Hour), 1, time.Minute)
	now := time.Now()
	l.allow("a", now.Add(-2*time.Minute))
	l.allow("b", now)
	l.sweep(now)
	l.mu.Lock()
	_, stale := l.buckets["a"]
	_, fresh := l.buckets["b"]
	l.mu.Unlock()
	if stale || !fresh {
		t.Errorf("sweep kept stale=%v fresh=%v", stale, fresh)
	}
	l.Stop()
	l.Stop()
}
