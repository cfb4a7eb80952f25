package repositories

import "github.com/desertthunder/libsync/internal/models"

// Entity kinds.
const (
	kindUser     = "user"
	kindPlaylist = "playlist"
	kindTrack    = "track"
	kindArtist   = "artist"
)

// Relationship indices.
const (
	relPlaylistTracks  = "playlist_tracks"  // ordered list
	relTrackPlaylists  = "track_playlists"  // set
	relArtistTracks    = "artist_tracks"    // set
	relArtistPlaylists = "artist_playlists" // set
	relUserPlaylists   = "user_playlists"   // set
)

// keyspace builds the cache keys for one namespace.
//
// Entities, indices and metadata live under separate segments ({ns}:entity, {ns}:index, {ns}:meta) so a prefix scan
// over one concern never returns keys of another.
type keyspace string

func keysFor(ns models.Namespace) keyspace {
	return keyspace(ns.String())
}

// all is the prefix of every key in the namespace.
func (k keyspace) all() string {
	return string(k) + ":"
}

func (k keyspace) entityPrefix(kind string) string {
	return string(k) + ":entity:" + kind + ":"
}

func (k keyspace) entity(kind, id string) string {
	return k.entityPrefix(kind) + id
}

func (k keyspace) index(rel, id string) string {
	return string(k) + ":index:" + rel + ":" + id
}

func (k keyspace) syncMeta() string {
	return string(k) + ":meta:sync"
}
