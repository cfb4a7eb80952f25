package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/desertthunder/libsync/internal/metrics"
	"github.com/desertthunder/libsync/internal/models"
	"github.com/desertthunder/libsync/internal/shared"
)

// TokenRefresher exchanges a refresh token for a new access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// OAuthRefresher refreshes tokens through an OAuth2 token endpoint.
type OAuthRefresher struct {
	config *oauth2.Config
}

// NewOAuthRefresher creates a refresher for config.
func NewOAuthRefresher(config *oauth2.Config) *OAuthRefresher {
	return &OAuthRefresher{config: config}
}

// Refresh forces a refresh grant by presenting a token with no access token.
func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

// Session holds the mutable access token for one provider connection.
//
// The token is swapped in place on refresh; concurrent callers that failed with the same stale token share one
// refresh.
type Session struct {
	mu        sync.RWMutex
	refreshMu sync.Mutex
	provider  string
	creds     models.Credentials
	refresher TokenRefresher
	onRefresh func(models.Credentials)
	logger    *log.Logger
}

// NewSession creates a session. refresher may be nil, in which case the first auth failure is fatal.
func NewSession(provider string, creds models.Credentials, refresher TokenRefresher) *Session {
	return &Session{provider: provider, creds: creds, refresher: refresher, logger: log.Default()}
}

// SetLogger replaces the session logger.
func (s *Session) SetLogger(logger *log.Logger) {
	s.logger = logger
}

// OnRefresh registers fn to receive the credentials after every successful refresh.
func (s *Session) OnRefresh(fn func(models.Credentials)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRefresh = fn
}

// Credentials returns a copy of the current credentials.
func (s *Session) Credentials() models.Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// AccessToken returns the current access token.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.AccessToken
}

func (s *Session) canRefresh() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresher != nil && s.creds.CanRefresh()
}

// refresh replaces the access token unless another caller already replaced stale. Refreshes are serialized by
// refreshMu; s.mu is only held to read and swap the credentials, so readers never wait on the token endpoint.
func (s *Session) refresh(ctx context.Context, stale string) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mu.RLock()
	current, refresher, refreshToken := s.creds.AccessToken, s.refresher, s.creds.RefreshToken
	canRefresh := s.creds.CanRefresh()
	s.mu.RUnlock()

	if current != stale {
		return nil
	}
	if refresher == nil || !canRefresh {
		return shared.ErrNoRefreshToken
	}

	token, err := refresher.Refresh(ctx, refreshToken)
	metrics.RecordTokenRefresh(s.provider, err)
	if err != nil {
		s.logger.Warn("token refresh failed", "provider", s.provider, "error", err)
		return fmt.Errorf("%w: %w: %v", shared.ErrAuthFailed, shared.ErrRefreshFailed, err)
	}

	s.mu.Lock()
	s.creds.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		s.creds.RefreshToken = token.RefreshToken
	}
	s.creds.Expiry = token.Expiry
	creds, notify := s.creds, s.onRefresh
	s.mu.Unlock()

	s.logger.Info("access token refreshed", "provider", s.provider)
	if notify != nil {
		notify(creds)
	}
	return nil
}

// Do runs call with the current token. See [withRefresh].
func (s *Session) Do(ctx context.Context, call func(ctx context.Context, token string) error) error {
	_, err := withRefresh(ctx, s, func(ctx context.Context, token string) (struct{}, error) {
		return struct{}{}, call(ctx, token)
	})
	return err
}

// withRefresh runs call with the session's access token. When it fails with [shared.ErrAuthFailed] and a refresh
// token is available, the token is refreshed once and call is retried once. A second auth failure is returned as
// is. Without a refresh token the first auth failure is returned.
func withRefresh[T any](ctx context.Context, s *Session, call func(ctx context.Context, token string) (T, error)) (T, error) {
	token := s.AccessToken()

	v, err := call(ctx, token)
	if err == nil || !errors.Is(err, shared.ErrAuthFailed) || !s.canRefresh() {
		return v, err
	}

	if rerr := s.refresh(ctx, token); rerr != nil {
		var zero T
		return zero, rerr
	}
	return call(ctx, s.AccessToken())
}
