// package services implements the provider clients that pull a user's library from Spotify and YouTube
package services

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2"

	"github.com/desertthunder/libsync/internal/models"
	"github.com/desertthunder/libsync/internal/shared"
)

// Supported provider names.
const (
	ProviderSpotify = "spotify"
	ProviderYouTube = "youtube"
)

// Provider is a paginated, token-refreshing client for one upstream music provider.
//
// Every "fetch all" operation follows pagination until exhausted and returns the full ordered collection.
// Items without a stable provider id (local files, deleted or private videos, non-track items) are dropped.
type Provider interface {
	// Name returns the provider name used in namespaces, e.g. "spotify".
	Name() string

	// CurrentUser returns the authenticated user's profile.
	CurrentUser(ctx context.Context) (*models.User, error)

	// OwnedPlaylists returns the playlists whose owner is userID.
	OwnedPlaylists(ctx context.Context, userID string) ([]models.Playlist, error)

	// AllPlaylists returns every playlist in the user's library, including followed ones.
	AllPlaylists(ctx context.Context) ([]models.Playlist, error)

	// PlaylistTracks returns the tracks of one playlist in provider order.
	PlaylistTracks(ctx context.Context, playlistID string) ([]models.Track, error)

	// SavedTracks returns the user's liked or saved tracks.
	SavedTracks(ctx context.Context) ([]models.Track, error)

	// Artists looks up a single batch of at most [Provider.ArtistBatchSize] artists.
	// Unknown ids are omitted from the result.
	Artists(ctx context.Context, ids []string) ([]models.Artist, error)

	// ArtistBatchSize is the provider's maximum number of ids per artist lookup.
	ArtistBatchSize() int

	// ArtistURL returns the public profile URL of an artist.
	ArtistURL(id string) string
}

// NewProvider builds the named provider on session.
func NewProvider(name string, session *Session, opts ClientOptions) (Provider, error) {
	switch strings.ToLower(name) {
	case ProviderSpotify:
		return NewSpotifyProvider(session, opts), nil
	case ProviderYouTube:
		return NewYouTubeProvider(session, opts), nil
	default:
		return nil, fmt.Errorf("%w: %s", shared.ErrUnknownProvider, name)
	}
}

// OAuthConfig returns the OAuth2 client configuration for the named provider.
func OAuthConfig(name string, cfg shared.ProviderConfig) (*oauth2.Config, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: %s client_id and client_secret", shared.ErrMissingCredentials, name)
	}

	switch strings.ToLower(name) {
	case ProviderSpotify:
		return &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       spotifyScopes,
			Endpoint:     oauth2.Endpoint{AuthURL: spotifyAuthURL, TokenURL: spotifyTokenURL},
		}, nil
	case ProviderYouTube:
		return &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       youtubeScopes,
			Endpoint:     oauth2.Endpoint{AuthURL: youtubeAuthURL, TokenURL: youtubeTokenURL},
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", shared.ErrUnknownProvider, name)
	}
}

// ProviderConfig returns the credentials section for the named provider.
func ProviderConfig(name string, cfg *shared.Config) (shared.ProviderConfig, error) {
	switch strings.ToLower(name) {
	case ProviderSpotify:
		return cfg.Credentials.Spotify, nil
	case ProviderYouTube:
		return cfg.Credentials.YouTube, nil
	default:
		return shared.ProviderConfig{}, fmt.Errorf("%w: %s", shared.ErrUnknownProvider, name)
	}
}
