package repositories

import (
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/desertthunder/libsync/internal/models"
)

// detailedMarker is present on artist hashes written from a direct artist lookup.
const detailedMarker = "detailed"

// Entities are stored as flat string hashes. Nested values (images, artist refs, genres, album) are JSON encoded.

func userFields(u models.User) map[string]string {
	return map[string]string{
		"id":           u.ID,
		"display_name": u.DisplayName,
		"email":        u.Email,
		"country":      u.Country,
		"followers":    strconv.Itoa(u.Followers),
		"images":       encodeJSON(u.Images),
		"external_url": u.ExternalURL,
	}
}

func userFromFields(f map[string]string) models.User {
	return models.User{
		ID:          f["id"],
		DisplayName: f["display_name"],
		Email:       f["email"],
		Country:     f["country"],
		Followers:   atoi(f["followers"]),
		Images:      decodeJSON[[]models.Image](f["images"]),
		ExternalURL: f["external_url"],
	}
}

func playlistFields(p models.Playlist) map[string]string {
	return map[string]string{
		"id":            p.ID,
		"name":          p.Name,
		"description":   p.Description,
		"owner_id":      p.OwnerID,
		"public":        strconv.FormatBool(p.Public),
		"collaborative": strconv.FormatBool(p.Collaborative),
		"track_count":   strconv.Itoa(p.TrackCount),
		"images":        encodeJSON(p.Images),
		"external_url":  p.ExternalURL,
		"snapshot_id":   p.SnapshotID,
		"virtual":       strconv.FormatBool(p.Virtual),
	}
}

func playlistFromFields(f map[string]string) models.Playlist {
	return models.Playlist{
		ID:            f["id"],
		Name:          f["name"],
		Description:   f["description"],
		OwnerID:       f["owner_id"],
		Public:        f["public"] == "true",
		Collaborative: f["collaborative"] == "true",
		TrackCount:    atoi(f["track_count"]),
		Images:        decodeJSON[[]models.Image](f["images"]),
		ExternalURL:   f["external_url"],
		SnapshotID:    f["snapshot_id"],
		Virtual:       f["virtual"] == "true",
	}
}

func trackFields(t models.Track) map[string]string {
	return map[string]string{
		"id":           t.ID,
		"name":         t.Name,
		"duration_ms":  strconv.Itoa(t.DurationMS),
		"explicit":     strconv.FormatBool(t.Explicit),
		"popularity":   strconv.Itoa(t.Popularity),
		"preview_url":  t.PreviewURL,
		"track_number": strconv.Itoa(t.TrackNumber),
		"disc_number":  strconv.Itoa(t.DiscNumber),
		"external_url": t.ExternalURL,
		"artist_ids":   encodeJSON(t.ArtistIDs),
		"artist_names": encodeJSON(t.ArtistNames),
		"album":        encodeJSON(t.Album),
	}
}

func trackFromFields(f map[string]string) models.Track {
	return models.Track{
		ID:          f["id"],
		Name:        f["name"],
		DurationMS:  atoi(f["duration_ms"]),
		Explicit:    f["explicit"] == "true",
		Popularity:  atoi(f["popularity"]),
		PreviewURL:  f["preview_url"],
		TrackNumber: atoi(f["track_number"]),
		DiscNumber:  atoi(f["disc_number"]),
		ExternalURL: f["external_url"],
		ArtistIDs:   decodeJSON[[]string](f["artist_ids"]),
		ArtistNames: decodeJSON[[]string](f["artist_names"]),
		Album:       decodeJSON[models.AlbumSummary](f["album"]),
	}
}

func detailedArtistFields(a models.Artist) map[string]string {
	return map[string]string{
		"id":           a.ID,
		"name":         a.Name,
		"images":       encodeJSON(a.Images),
		"external_url": a.ExternalURL,
		"popularity":   strconv.Itoa(a.Popularity),
		"followers":    strconv.Itoa(a.Followers),
		"genres":       encodeJSON(a.Genres),
		detailedMarker: "1",
	}
}

func basicArtistFields(id, name, url string) map[string]string {
	return map[string]string{
		"id":           id,
		"name":         name,
		"external_url": url,
	}
}

func artistFromFields(f map[string]string) models.Artist {
	return models.Artist{
		ID:          f["id"],
		Name:        f["name"],
		Images:      decodeJSON[[]models.Image](f["images"]),
		ExternalURL: f["external_url"],
		Popularity:  atoi(f["popularity"]),
		Followers:   atoi(f["followers"]),
		Genres:      decodeJSON[[]string](f["genres"]),
		Detailed:    f[detailedMarker] == "1",
	}
}

func syncMetaFields(m models.SyncMetadata) map[string]string {
	return map[string]string{
		"last_sync": m.LastSync.UTC().Format(time.RFC3339Nano),
		"playlists": strconv.Itoa(m.Playlists),
		"tracks":    strconv.Itoa(m.Tracks),
		"artists":   strconv.Itoa(m.Artists),
	}
}

func syncMetaFromFields(f map[string]string) models.SyncMetadata {
	lastSync, _ := time.Parse(time.RFC3339Nano, f["last_sync"])
	return models.SyncMetadata{
		LastSync:  lastSync,
		Playlists: atoi(f["playlists"]),
		Tracks:    atoi(f["tracks"]),
		Artists:   atoi(f["artists"]),
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func encodeJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func decodeJSON[T any](s string) T {
	var v T
	if s != "" {
		_ = json.Unmarshal([]byte(s), &v)
	}
	return v
}
