package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/libsync/internal/models"
	"github.com/desertthunder/libsync/internal/server"
	"github.com/desertthunder/libsync/internal/services"
	"github.com/desertthunder/libsync/internal/shared"
	"github.com/urfave/cli/v3"
)

// authTimeout bounds how long the callback server waits for the browser.
const authTimeout = 2 * time.Minute

// AuthProvider returns the action that runs the OAuth2 authorization code flow for provider and stores the
// resulting tokens in the config file.
//
// A local HTTP server receives the callback; the browser is opened on the consent page.
func (r *Runner) AuthProvider(provider string) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		pc, err := services.ProviderConfig(provider, r.config)
		if err != nil {
			return err
		}
		oc, err := services.OAuthConfig(provider, pc)
		if err != nil {
			return fmt.Errorf("%w (set them in %s)", err, r.configPath)
		}

		state, err := shared.GenerateState()
		if err != nil {
			return fmt.Errorf("failed to generate state token: %w", err)
		}

		handler := server.NewOAuthHandler(provider, oc, state)
		creds, err := r.doOAuth(ctx, handler)
		if err != nil {
			return err
		}

		if err := r.saveTokens(provider, creds); err != nil {
			return err
		}

		r.writePlainln("✓ Authorization successful")
		r.writePlain("✓ Tokens saved to %s\n\n", r.configPath)
		r.writePlain("You can now run: libsync --provider %s sync start --wait\n", provider)
		return nil
	}
}

// doOAuth serves the callback until a result arrives, ctx is cancelled or the flow times out.
func (r *Runner) doOAuth(ctx context.Context, handler *server.OAuthHandler) (models.Credentials, error) {
	router := server.NewBasicRouter()
	router.Use(server.Recoverer(r.logger))
	router.Handler(handler)

	addr := r.config.Server.Addr()
	httpServer := server.New(addr, router)

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Infof("starting OAuth callback server at %v", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("error shutting down server", "error", err)
		}
	}()

	authURL := handler.AuthCodeURL()
	r.writePlain("→ Opening browser for authorization...\n")
	if err := shared.OpenBrowser(authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}
	r.writePlain("→ Waiting for authorization (%s timeout)...\n", authTimeout)

	timeout := time.NewTimer(authTimeout)
	defer timeout.Stop()

	var result server.OAuthResult
	select {
	case result = <-handler.Result():
	case err := <-serverErrors:
		return models.Credentials{}, fmt.Errorf("server error: %w", err)
	case <-timeout.C:
		return models.Credentials{}, fmt.Errorf("%w: authorization timed out after %s", shared.ErrTimeout, authTimeout)
	case <-ctx.Done():
		return models.Credentials{}, ctx.Err()
	}

	if result.Error() != nil {
		return models.Credentials{}, fmt.Errorf("%w: %v", shared.ErrAuthFailed, result.Error())
	}
	creds := result.Credentials()
	if creds.AccessToken == "" {
		return models.Credentials{}, fmt.Errorf("%w: no access token received", shared.ErrAuthFailed)
	}
	return creds, nil
}

// saveTokens stores creds in the provider's credentials section and rewrites the config file.
func (r *Runner) saveTokens(provider string, creds models.Credentials) error {
	if r.config == nil {
		return fmt.Errorf("%w: no configuration loaded", shared.ErrMissingConfig)
	}
	if r.configPath == "" {
		return fmt.Errorf("%w: config path", shared.ErrMissingArgument)
	}

	var pc *shared.ProviderConfig
	switch provider {
	case services.ProviderSpotify:
		pc = &r.config.Credentials.Spotify
	case services.ProviderYouTube:
		pc = &r.config.Credentials.YouTube
	default:
		return fmt.Errorf("%w: %s", shared.ErrUnknownProvider, provider)
	}

	pc.AccessToken = creds.AccessToken
	if creds.RefreshToken != "" {
		pc.RefreshToken = creds.RefreshToken
	}

	if err := shared.SaveConfig(r.configPath, r.config); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}
