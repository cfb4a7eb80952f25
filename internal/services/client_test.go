package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	tu "github.com/desertthunder/libsync/internal/testing"

	"github.com/desertthunder/libsync/internal/models"
	"github.com/desertthunder/libsync/internal/shared"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *apiClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	session := NewSession("test", models.Credentials{AccessToken: "token"}, nil)
	return newAPIClient("test", "", session, ClientOptions{BaseURL: server.URL, MaxRetryAfter: time.Second})
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusOK, nil},
		{http.StatusUnauthorized, shared.ErrAuthFailed},
		{http.StatusNotFound, shared.ErrNotFound},
		{http.StatusTooManyRequests, shared.ErrServiceUnavailable},
		{http.StatusBadGateway, shared.ErrServiceUnavailable},
		{http.StatusForbidden, shared.ErrAPIRequest},
		{http.StatusBadRequest, shared.ErrAPIRequest},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			err := statusError("test", tt.code, []byte("body"))
			if tt.want == nil {
				if err != nil {
					t.Errorf("expected nil, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
		ok     bool
	}{
		{"missing", "", 0, false},
		{"seconds", "2", 2 * time.Second, true},
		{"over cap", "120", 120 * time.Second, false},
		{"garbage", "soon", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Retry-After", tt.header)
			}
			got, ok := retryAfter(h, time.Minute)
			if got != tt.want || ok != tt.ok {
				t.Errorf("retryAfter(%q) = %v, %v; want %v, %v", tt.header, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestAPIClient(t *testing.T) {
	ctx := context.Background()

	t.Run("sends bearer token", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "Bearer token" {
				t.Errorf("unexpected authorization header %q", got)
			}
			_, _ = w.Write([]byte(`{"id":"x"}`))
		})

		var out struct{ ID string }
		if err := c.get(ctx, "/thing", nil, &out); err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if out.ID != "x" {
			t.Errorf("expected decoded id, got %q", out.ID)
		}
	})

	t.Run("honours Retry-After once", func(t *testing.T) {
		var calls atomic.Int32
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			_, _ = w.Write([]byte(`{}`))
		})

		if err := c.get(ctx, "/thing", nil, nil); err != nil {
			t.Fatalf("expected retry to succeed, got %v", err)
		}
		if calls.Load() != 2 {
			t.Errorf("expected 2 calls, got %d", calls.Load())
		}
	})

	t.Run("repeated 429 is unavailable", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		})

		if err := c.get(ctx, "/thing", nil, nil); !errors.Is(err, shared.ErrServiceUnavailable) {
			t.Errorf("expected ErrServiceUnavailable, got %v", err)
		}
	})

	t.Run("transport failure is unavailable", func(t *testing.T) {
		session := NewSession("test", models.Credentials{AccessToken: "token"}, nil)
		c := newAPIClient("test", "http://example.invalid", session, ClientOptions{
			HTTPClient: &http.Client{Transport: tu.NewMockRoundTripper(nil, errors.New("connection refused"))},
		})

		if err := c.get(ctx, "/thing", nil, nil); !errors.Is(err, shared.ErrServiceUnavailable) {
			t.Errorf("expected ErrServiceUnavailable, got %v", err)
		}
	})

	t.Run("breaker opens after consecutive failures", func(t *testing.T) {
		var calls atomic.Int32
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		})

		for range 5 {
			_ = c.get(ctx, "/thing", nil, nil)
		}
		err := c.get(ctx, "/thing", nil, nil)
		if !errors.Is(err, shared.ErrServiceUnavailable) {
			t.Errorf("expected ErrServiceUnavailable, got %v", err)
		}
		if calls.Load() != 5 {
			t.Errorf("open breaker should reject without calling the server, got %d calls", calls.Load())
		}
	})

	t.Run("auth failures do not trip the breaker", func(t *testing.T) {
		var calls atomic.Int32
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		})

		for range 7 {
			if err := c.get(ctx, "/thing", nil, nil); !errors.Is(err, shared.ErrAuthFailed) {
				t.Fatalf("expected ErrAuthFailed, got %v", err)
			}
		}
		if calls.Load() != 7 {
			t.Errorf("expected every request to reach the server, got %d", calls.Load())
		}
	})
}

func TestParseISODuration(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"PT4M13S", 253000},
		{"PT1H2M3S", 3723000},
		{"PT45S", 45000},
		{"P1DT1S", 86401000},
		{"PT0.5S", 500},
		{"P1W", 604800000},
		{"PT1M30.25S", 90250},
		{"", 0},
		{"4:13", 0},
	}

	for _, tt := range tests {
		if got := parseISODuration(tt.in); got != tt.want {
			t.Errorf("parseISODuration(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
