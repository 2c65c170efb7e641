package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/redis"
)

func TestClientKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		clientID   string
		forwarded  string
		remoteAddr string
		expected   string
	}{
		{"from header", "browser-1", "", "5.6.7.8:1234", "client:browser-1"},
		{"header takes precedence", "browser-1", "1.2.3.4", "5.6.7.8:1234", "client:browser-1"},
		{"falls back to ip", "", "1.2.3.4", "5.6.7.8:1234", "ip:1.2.3.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.clientID != "" {
				req.Header.Set("X-Client-ID", tt.clientID)
			}
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			req.RemoteAddr = tt.remoteAddr

			if result := ClientKeyFunc(req); result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		expected   string
	}{
		{"X-Forwarded-For", "1.2.3.4", "", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"X-Real-IP", "", "1.2.3.4", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"RemoteAddr fallback", "", "", "5.6.7.8:1234", "ip:5.6.7.8:1234"},
		{"Forwarded takes precedence", "1.1.1.1", "2.2.2.2", "3.3.3.3:1234", "ip:1.1.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			req.RemoteAddr = tt.remoteAddr

			if result := IPKeyFunc(req); result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestWriteLimit_NoLimiter(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	wrapped := WriteLimit(nil, nil, ClientKeyFunc, scope("permission"))(handler)

	req := httptest.NewRequest("PUT", "/v1/permission", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func newLimitedRouter(t *testing.T, limit int) (http.Handler, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	limiter := redis.NewWriteLimiter(redis.NewFromClient(rdb, "", zap.NewNop()), zap.NewNop(), limit, time.Minute)
	h := NewHandler(zap.NewNop(), NewMockReminders()).WithWriteLimit(limiter)
	return newTestRouter(h), mr
}

func TestWriteLimit_RejectsOverLimit(t *testing.T) {
	srv, _ := newLimitedRouter(t, 2)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := do(t, srv, http.MethodPost, "/v1/background-check", nil, "X-Client-ID", "browser-1")
		codes = append(codes, rec.Code)

		if i == 2 {
			if rec.Header().Get("Retry-After") == "" {
				t.Error("Retry-After header missing")
			}
			if rec.Header().Get("X-RateLimit-Remaining") != "0" {
				t.Errorf("X-RateLimit-Remaining = %q, want 0", rec.Header().Get("X-RateLimit-Remaining"))
			}
			if errResp := decodeError(t, rec); errResp.Type != "rate_limit_exceeded" {
				t.Errorf("problem type = %q", errResp.Type)
			}
		}
	}

	want := []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("codes = %v, want %v", codes, want)
		}
	}
}

func TestWriteLimit_ScopedPerRouteAndClient(t *testing.T) {
	srv, _ := newLimitedRouter(t, 1)

	if rec := do(t, srv, http.MethodPut, "/v1/permission", `{"permission":"granted"}`, "X-Client-ID", "browser-1"); rec.Code != http.StatusOK {
		t.Fatalf("first permission write: %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodPut, "/v1/permission", `{"permission":"denied"}`, "X-Client-ID", "browser-1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second permission write: %d, want 429", rec.Code)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		client string
		want   int
	}{
		{"reads are not limited", http.MethodGet, "/v1/permission", nil, "browser-1", http.StatusOK},
		{"reads are not limited twice", http.MethodGet, "/v1/permission", nil, "browser-1", http.StatusOK},
		{"other scope has its own window", http.MethodPost, "/v1/background-check", nil, "browser-1", http.StatusAccepted},
		{"other client has its own window", http.MethodPut, "/v1/permission", `{"permission":"denied"}`, "browser-2", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, srv, tt.method, tt.path, tt.body, "X-Client-ID", tt.client); rec.Code != tt.want {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
			}
		})
	}
}

func TestWriteLimit_FailsOpenWhenRedisDown(t *testing.T) {
	srv, mr := newLimitedRouter(t, 1)
	mr.Close()

	for i := 0; i < 2; i++ {
		if rec := do(t, srv, http.MethodPost, "/v1/background-check", nil, "X-Client-ID", "browser-1"); rec.Code != http.StatusAccepted {
			t.Fatalf("write %d with redis down: %d, want 202", i, rec.Code)
		}
	}
}
