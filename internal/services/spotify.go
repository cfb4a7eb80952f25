// Spotify Web API implementation of [Provider]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/desertthunder/libsync/internal/models"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	spotifyPageSize         = 50
	spotifyPlaylistPageSize = 100
	spotifyArtistBatchSize  = 50
)

var spotifyScopes = []string{
	"user-read-private",
	"user-read-email",
	"playlist-read-private",
	"playlist-read-collaborative",
	"user-library-read",
}

type followers struct {
	Total int `json:"total"`
}

type externalURLs struct {
	Spotify string `json:"spotify"`
}

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID           string         `json:"id"`
	DisplayName  string         `json:"display_name"`
	Email        string         `json:"email"`
	Country      string         `json:"country"`
	Followers    followers      `json:"followers"`
	Images       []SpotifyImage `json:"images"`
	ExternalURLs externalURLs   `json:"external_urls"`
}

// SpotifyArtist represents a Spotify artist. Simplified artists embedded in tracks carry only id, name and urls.
type SpotifyArtist struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Genres       []string       `json:"genres"`
	Images       []SpotifyImage `json:"images"`
	Popularity   int            `json:"popularity"`
	Followers    followers      `json:"followers"`
	ExternalURLs externalURLs   `json:"external_urls"`
}

// SpotifyAlbum represents a simplified Spotify album.
type SpotifyAlbum struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	AlbumType   string         `json:"album_type"`
	ReleaseDate string         `json:"release_date"`
	Images      []SpotifyImage `json:"images"`
}

// SpotifyTrack represents a Spotify track, or an episode when Type is "episode".
type SpotifyTrack struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	Artists      []SpotifyArtist `json:"artists"`
	Album        SpotifyAlbum    `json:"album"`
	DurationMS   int             `json:"duration_ms"`
	Explicit     bool            `json:"explicit"`
	Popularity   int             `json:"popularity"`
	PreviewURL   string          `json:"preview_url"`
	TrackNumber  int             `json:"track_number"`
	DiscNumber   int             `json:"disc_number"`
	IsLocal      bool            `json:"is_local"`
	ExternalURLs externalURLs    `json:"external_urls"`
}

// SpotifyTrackItem is an entry of a playlist or the saved tracks collection. Track is null for unavailable items.
type SpotifyTrackItem struct {
	AddedAt string        `json:"added_at"`
	IsLocal bool          `json:"is_local"`
	Track   *SpotifyTrack `json:"track"`
}

// Owner is the owner of a playlist.
type Owner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type simplePlaylistTracks struct {
	Total int `json:"total"`
}

// SpotifySimplePlaylist represents a simplified playlist object (used in lists).
type SpotifySimplePlaylist struct {
	ID            string               `json:"id"`
	Name          string               `json:"name"`
	Description   string               `json:"description"`
	Owner         Owner                `json:"owner"`
	Public        *bool                `json:"public"`
	Collaborative bool                 `json:"collaborative"`
	Tracks        simplePlaylistTracks `json:"tracks"`
	Images        []SpotifyImage       `json:"images"`
	SnapshotID    string               `json:"snapshot_id"`
	ExternalURLs  externalURLs         `json:"external_urls"`
}

// spotifyPage is an offset-paginated response.
type spotifyPage[T any] struct {
	Items  []T     `json:"items"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
	Next   *string `json:"next"`
}

// SpotifyProvider implements [Provider] for the Spotify Web API.
type SpotifyProvider struct {
	client *apiClient
}

// NewSpotifyProvider creates a Spotify client on session.
func NewSpotifyProvider(session *Session, opts ClientOptions) *SpotifyProvider {
	return &SpotifyProvider{client: newAPIClient(ProviderSpotify, spotifyBaseURL, session, opts)}
}

func (s *SpotifyProvider) Name() string { return ProviderSpotify }

func (s *SpotifyProvider) ArtistBatchSize() int { return spotifyArtistBatchSize }

func (s *SpotifyProvider) ArtistURL(id string) string { return "https://open.spotify.com/artist/" + id }

// CurrentUser retrieves the current authenticated user's profile.
func (s *SpotifyProvider) CurrentUser(ctx context.Context) (*models.User, error) {
	var su SpotifyUser
	if err := s.client.get(ctx, "/me", nil, &su); err != nil {
		return nil, err
	}

	return &models.User{
		ID:          su.ID,
		DisplayName: su.DisplayName,
		Email:       su.Email,
		Country:     su.Country,
		Followers:   su.Followers.Total,
		Images:      spotifyImages(su.Images),
		ExternalURL: su.ExternalURLs.Spotify,
	}, nil
}

// AllPlaylists retrieves every playlist in the user's library.
func (s *SpotifyProvider) AllPlaylists(ctx context.Context) ([]models.Playlist, error) {
	items, err := spotifyPaginate[SpotifySimplePlaylist](ctx, s.client, "/me/playlists", nil, spotifyPageSize)
	if err != nil {
		return nil, err
	}

	playlists := make([]models.Playlist, 0, len(items))
	for _, sp := range items {
		if sp.ID == "" {
			continue
		}
		playlists = append(playlists, models.Playlist{
			ID:            sp.ID,
			Name:          sp.Name,
			Description:   sp.Description,
			OwnerID:       sp.Owner.ID,
			Public:        sp.Public != nil && *sp.Public,
			Collaborative: sp.Collaborative,
			TrackCount:    sp.Tracks.Total,
			Images:        spotifyImages(sp.Images),
			ExternalURL:   sp.ExternalURLs.Spotify,
			SnapshotID:    sp.SnapshotID,
		})
	}
	return playlists, nil
}

// OwnedPlaylists retrieves the playlists owned by userID.
func (s *SpotifyProvider) OwnedPlaylists(ctx context.Context, userID string) ([]models.Playlist, error) {
	all, err := s.AllPlaylists(ctx)
	if err != nil {
		return nil, err
	}
	return filterOwned(all, userID), nil
}

// PlaylistTracks retrieves all tracks of a playlist.
func (s *SpotifyProvider) PlaylistTracks(ctx context.Context, playlistID string) ([]models.Track, error) {
	path := "/playlists/" + url.PathEscape(playlistID) + "/tracks"
	items, err := spotifyPaginate[SpotifyTrackItem](ctx, s.client, path, nil, spotifyPlaylistPageSize)
	if err != nil {
		return nil, err
	}
	return spotifyTracks(items), nil
}

// SavedTracks retrieves the user's saved tracks.
func (s *SpotifyProvider) SavedTracks(ctx context.Context) ([]models.Track, error) {
	items, err := spotifyPaginate[SpotifyTrackItem](ctx, s.client, "/me/tracks", nil, spotifyPageSize)
	if err != nil {
		return nil, err
	}
	return spotifyTracks(items), nil
}

// Artists retrieves one batch of detailed artists.
func (s *SpotifyProvider) Artists(ctx context.Context, ids []string) ([]models.Artist, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var response struct {
		Artists []*SpotifyArtist `json:"artists"`
	}
	query := url.Values{"ids": {strings.Join(ids, ",")}}
	if err := s.client.get(ctx, "/artists", query, &response); err != nil {
		return nil, err
	}

	artists := make([]models.Artist, 0, len(response.Artists))
	for _, sa := range response.Artists {
		if sa == nil || sa.ID == "" {
			continue
		}
		artists = append(artists, models.Artist{
			ID:          sa.ID,
			Name:        sa.Name,
			Images:      spotifyImages(sa.Images),
			ExternalURL: sa.ExternalURLs.Spotify,
			Popularity:  sa.Popularity,
			Followers:   sa.Followers.Total,
			Genres:      sa.Genres,
			Detailed:    true,
		})
	}
	return artists, nil
}

// spotifyPaginate follows offset pagination until next is null.
func spotifyPaginate[T any](ctx context.Context, c *apiClient, path string, query url.Values, limit int) ([]T, error) {
	return paginate(ctx, func(ctx context.Context, cursor string) ([]T, string, error) {
		offset := 0
		if cursor != "" {
			offset, _ = strconv.Atoi(cursor)
		}

		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("limit", strconv.Itoa(limit))
		q.Set("offset", strconv.Itoa(offset))

		var page spotifyPage[T]
		if err := c.get(ctx, path, q, &page); err != nil {
			return nil, "", err
		}

		if page.Next == nil || len(page.Items) == 0 {
			return page.Items, "", nil
		}
		return page.Items, strconv.Itoa(offset + len(page.Items)), nil
	})
}

// spotifyTracks converts track items, dropping unavailable, local, non-track and id-less entries.
func spotifyTracks(items []SpotifyTrackItem) []models.Track {
	tracks := make([]models.Track, 0, len(items))
	for _, item := range items {
		st := item.Track
		if st == nil || item.IsLocal || st.IsLocal || st.ID == "" {
			continue
		}
		if st.Type != "" && st.Type != "track" {
			continue
		}

		t := models.Track{
			ID:          st.ID,
			Name:        st.Name,
			DurationMS:  st.DurationMS,
			Explicit:    st.Explicit,
			Popularity:  st.Popularity,
			PreviewURL:  st.PreviewURL,
			TrackNumber: st.TrackNumber,
			DiscNumber:  st.DiscNumber,
			ExternalURL: st.ExternalURLs.Spotify,
			ArtistIDs:   make([]string, 0, len(st.Artists)),
			ArtistNames: make([]string, 0, len(st.Artists)),
			Album: models.AlbumSummary{
				ID:          st.Album.ID,
				Name:        st.Album.Name,
				Type:        st.Album.AlbumType,
				ReleaseDate: st.Album.ReleaseDate,
				Images:      spotifyImages(st.Album.Images),
			},
		}
		for _, a := range st.Artists {
			if a.ID == "" {
				continue
			}
			t.ArtistIDs = append(t.ArtistIDs, a.ID)
			t.ArtistNames = append(t.ArtistNames, a.Name)
		}
		tracks = append(tracks, t)
	}
	return tracks
}

func spotifyImages(images []SpotifyImage) []models.Image {
	if len(images) == 0 {
		return nil
	}
	out := make([]models.Image, len(images))
	for i, img := range images {
		out[i] = models.Image{URL: img.URL, Width: img.Width, Height: img.Height}
	}
	return out
}

func filterOwned(playlists []models.Playlist, userID string) []models.Playlist {
	owned := make([]models.Playlist, 0, len(playlists))
	for _, p := range playlists {
		if p.OwnerID == userID {
			owned = append(owned, p)
		}
	}
	return owned
}
