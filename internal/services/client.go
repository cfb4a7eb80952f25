package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/desertthunder/libsync/internal/metrics"
	"github.com/desertthunder/libsync/internal/shared"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultMaxRetryAfter = 30 * time.Second
	maxErrorBody         = 512
)

// ClientOptions configures the HTTP behaviour shared by provider clients.
type ClientOptions struct {
	// BaseURL overrides the provider API root, mainly for tests.
	BaseURL    string
	HTTPClient *http.Client
	// RateLimit is the sustained request rate per second. Zero disables limiting.
	RateLimit float64
	Timeout   time.Duration
	// MaxRetryAfter caps how long a 429 Retry-After is honoured before the request fails.
	MaxRetryAfter time.Duration
	Logger        *log.Logger
}

// apiClient performs authenticated GET requests against one provider API.
//
// Requests pass through a rate limiter and a circuit breaker. Auth and not-found outcomes do not count as breaker
// failures since they say nothing about provider availability.
type apiClient struct {
	provider      string
	baseURL       string
	http          *http.Client
	limiter       *rate.Limiter
	breaker       *gobreaker.CircuitBreaker[[]byte]
	session       *Session
	maxRetryAfter time.Duration
	logger        *log.Logger
}

func newAPIClient(provider, defaultBaseURL string, session *Session, opts ClientOptions) *apiClient {
	c := &apiClient{
		provider:      provider,
		baseURL:       opts.BaseURL,
		http:          opts.HTTPClient,
		session:       session,
		maxRetryAfter: opts.MaxRetryAfter,
		logger:        opts.Logger,
	}

	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.maxRetryAfter <= 0 {
		c.maxRetryAfter = defaultMaxRetryAfter
	}
	if c.logger == nil {
		c.logger = log.Default()
	}

	c.limiter = rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	name := provider + "-api"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, shared.ErrAuthFailed) ||
				errors.Is(err, shared.ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	return c
}

// get fetches path with query and decodes the JSON body into out, refreshing the token once on auth failure.
func (c *apiClient) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	return c.session.Do(ctx, func(ctx context.Context, token string) error {
		body, err := c.breaker.Execute(func() ([]byte, error) {
			return c.do(ctx, token, endpoint)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.RecordProviderRequest(c.provider, "rejected", 0)
			return fmt.Errorf("%w: %s circuit open", shared.ErrServiceUnavailable, c.provider)
		}
		if err != nil {
			return err
		}

		if out != nil {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("%w: failed to decode %s response: %v", shared.ErrAPIRequest, c.provider, err)
			}
		}
		return nil
	})
}

// do performs one request. A 429 with a Retry-After within the cap is waited out and retried once.
func (c *apiClient) do(ctx context.Context, token, endpoint string) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			metrics.RecordProviderRequest(c.provider, "unavailable", time.Since(start))
			return nil, fmt.Errorf("%w: %s request failed: %v", shared.ErrServiceUnavailable, c.provider, err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			metrics.RecordProviderRequest(c.provider, "unavailable", time.Since(start))
			return nil, fmt.Errorf("%w: failed to read %s response: %v", shared.ErrServiceUnavailable, c.provider, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt == 0 {
			if wait, ok := retryAfter(resp.Header, c.maxRetryAfter); ok {
				c.logger.Debug("rate limited, waiting", "provider", c.provider, "wait", wait)
				select {
				case <-time.After(wait):
					continue
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}

		err = statusError(c.provider, resp.StatusCode, body)
		metrics.RecordProviderRequest(c.provider, outcome(err), time.Since(start))
		return body, err
	}
}

// statusError maps an HTTP status to the provider error taxonomy.
func statusError(provider string, code int, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s returned %d", shared.ErrAuthFailed, provider, code)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s returned %d", shared.ErrNotFound, provider, code)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: %s returned %d", shared.ErrServiceUnavailable, provider, code)
	default:
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return fmt.Errorf("%w: %s returned %d: %s", shared.ErrAPIRequest, provider, code, body)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, shared.ErrAuthFailed):
		return "auth"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrServiceUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header, limit time.Duration) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}

	var wait time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		wait = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(v); err == nil {
		wait = time.Until(at)
	} else {
		return 0, false
	}

	if wait < 0 {
		wait = 0
	}
	return wait, wait <= limit
}

// paginate calls fetch until it reports no further pages.
func paginate[T any](ctx context.Context, fetch func(ctx context.Context, cursor string) ([]T, string, error)) ([]T, error) {
	var all []T
	cursor := ""
	for {
		items, next, err := fetch(ctx, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if next == "" || next == cursor {
			return all, nil
		}
		cursor = next
	}
}
