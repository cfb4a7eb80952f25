// package models defines the cached library entities for the sync pipeline
package models

import (
	"strings"
	"time"
)

// LikedSongsPlaylistID is the reserved id of the virtual playlist holding a user's saved tracks.
//
// Provider playlist ids are trusted never to collide with it.
const LikedSongsPlaylistID = "liked-songs"

// LikedSongsPlaylistName is the display name of the virtual playlist.
const LikedSongsPlaylistName = "Liked Songs"

// Namespace scopes every cached key to one user on one provider.
type Namespace struct {
	App      string `json:"app"`
	UserID   string `json:"user_id"`
	Provider string `json:"provider"`
}

// NewNamespace builds a [Namespace].
func NewNamespace(app, userID, provider string) Namespace {
	return Namespace{App: app, UserID: userID, Provider: provider}
}

// String renders the namespace as {app}:{userId}:{provider}, or {app}:{userId} when no provider is set.
func (n Namespace) String() string {
	parts := []string{n.App, n.UserID}
	if n.Provider != "" {
		parts = append(parts, n.Provider)
	}
	return strings.Join(parts, ":")
}

// Valid reports whether the namespace identifies a user. Segments may not contain the ':' separator, otherwise
// {app}:{user} of one namespace could prefix the keys of another (user "u1" with provider "spotify" vs user
// "u1:spotify").
func (n Namespace) Valid() bool {
	if n.App == "" || n.UserID == "" {
		return false
	}
	for _, segment := range []string{n.App, n.UserID, n.Provider} {
		if strings.Contains(segment, ":") {
			return false
		}
	}
	return true
}

// Image is an artwork reference.
type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// User is the profile of the account being synced.
type User struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Email       string  `json:"email,omitempty"`
	Country     string  `json:"country,omitempty"`
	Followers   int     `json:"followers"`
	Images      []Image `json:"images,omitempty"`
	ExternalURL string  `json:"external_url,omitempty"`
}

// Playlist is a user playlist, or the virtual liked-songs playlist when Virtual is set.
type Playlist struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	OwnerID       string  `json:"owner_id"`
	Public        bool    `json:"public"`
	Collaborative bool    `json:"collaborative"`
	TrackCount    int     `json:"track_count"`
	Images        []Image `json:"images,omitempty"`
	ExternalURL   string  `json:"external_url,omitempty"`
	SnapshotID    string  `json:"snapshot_id,omitempty"`
	Virtual       bool    `json:"virtual,omitempty"`
}

// NewLikedSongsPlaylist builds the virtual playlist for a user's saved tracks.
func NewLikedSongsPlaylist(ownerID string, trackCount int) Playlist {
	return Playlist{
		ID:         LikedSongsPlaylistID,
		Name:       LikedSongsPlaylistName,
		OwnerID:    ownerID,
		TrackCount: trackCount,
		Virtual:    true,
	}
}

// AlbumSummary is the album information embedded in a [Track].
type AlbumSummary struct {
	ID          string  `json:"id,omitempty"`
	Name        string  `json:"name,omitempty"`
	Type        string  `json:"type,omitempty"`
	ReleaseDate string  `json:"release_date,omitempty"`
	Images      []Image `json:"images,omitempty"`
}

// Track is an immutable snapshot of a track at sync time.
type Track struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	DurationMS  int          `json:"duration_ms"`
	Explicit    bool         `json:"explicit"`
	Popularity  int          `json:"popularity"`
	PreviewURL  string       `json:"preview_url,omitempty"`
	TrackNumber int          `json:"track_number,omitempty"`
	DiscNumber  int          `json:"disc_number,omitempty"`
	ExternalURL string       `json:"external_url,omitempty"`
	ArtistIDs   []string     `json:"artist_ids"`
	ArtistNames []string     `json:"artist_names"`
	Album       AlbumSummary `json:"album"`
}

// Artist is a performer referenced by at least one cached track.
//
// TrackCount is derived when the record is read and is never stored.
type Artist struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Images      []Image  `json:"images,omitempty"`
	ExternalURL string   `json:"external_url,omitempty"`
	Popularity  int      `json:"popularity"`
	Followers   int      `json:"followers"`
	Genres      []string `json:"genres"`
	Detailed    bool     `json:"detailed"`
	TrackCount  int      `json:"track_count"`
}

// SyncMetadata summarizes the last completed sync of a namespace.
type SyncMetadata struct {
	LastSync  time.Time `json:"last_sync"`
	Playlists int       `json:"playlists"`
	Tracks    int       `json:"tracks"`
	Artists   int       `json:"artists"`
}

// SyncStatus reports whether a namespace has completed a sync.
//
// Metadata is nil when the namespace was never synced.
type SyncStatus struct {
	Synced   bool          `json:"synced"`
	Metadata *SyncMetadata `json:"metadata,omitempty"`
}
