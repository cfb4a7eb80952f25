// Package services implements paginated, token-refreshing clients for music providers.
//
// Key Types:
//   - [Provider] : the library read operations every provider implements
//   - [SpotifyProvider] : Spotify Web API
//   - [YouTubeProvider] : YouTube Data API v3, with channels standing in for artists
//   - [Session] : the mutable access token and its one-shot refresh-and-retry wrapper
//   - [OAuthRefresher] : refresh grants through golang.org/x/oauth2
//
// Error Mapping:
//
// HTTP 401 maps to [shared.ErrAuthFailed], 404 to [shared.ErrNotFound], 429 and 5xx and transport failures to
// [shared.ErrServiceUnavailable], and any other non-2xx status to [shared.ErrAPIRequest]. Every call is rate limited
// and passes through a circuit breaker per provider.
//
// Artist enrichment goes through [FetchArtists], which skips failed batches instead of aborting.
package services
