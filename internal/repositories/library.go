package repositories

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/desertthunder/libsync/internal/models"
	"github.com/desertthunder/libsync/internal/shared"
)

// LibraryRepository is the entity store for mirrored libraries.
//
// Entities are hash records and relationships are adjacency indices:
// playlist→tracks (ordered), track→playlists, artist→tracks, artist→playlists and user→playlists.
// Derived fields such as [models.Artist.TrackCount] are computed from index cardinality on read.
type LibraryRepository struct {
	backend Backend
}

// NewLibraryRepository creates a repository on backend.
func NewLibraryRepository(backend Backend) *LibraryRepository {
	return &LibraryRepository{backend: backend}
}

// WriteUser upserts the user profile.
func (r *LibraryRepository) WriteUser(ctx context.Context, ns models.Namespace, user models.User) error {
	return r.backend.HSet(ctx, keysFor(ns).entity(kindUser, user.ID), userFields(user))
}

// WritePlaylists upserts playlists and links them to their owner.
func (r *LibraryRepository) WritePlaylists(ctx context.Context, ns models.Namespace, ownerID string, playlists []models.Playlist) error {
	ks := keysFor(ns)
	ids := make([]string, 0, len(playlists))

	for _, p := range playlists {
		if err := r.backend.HSet(ctx, ks.entity(kindPlaylist, p.ID), playlistFields(p)); err != nil {
			return err
		}
		ids = append(ids, p.ID)
	}

	return r.backend.SAdd(ctx, ks.index(relUserPlaylists, ownerID), ids...)
}

// WriteTracks stores tracks for a playlist and replaces its ordered track list.
//
// Track records and reverse indices are written before the list so every listed id resolves to a record.
func (r *LibraryRepository) WriteTracks(ctx context.Context, ns models.Namespace, playlistID string, tracks []models.Track) error {
	ks := keysFor(ns)
	ids := make([]string, 0, len(tracks))

	for _, t := range tracks {
		if err := r.backend.HSet(ctx, ks.entity(kindTrack, t.ID), trackFields(t)); err != nil {
			return err
		}
		if err := r.backend.SAdd(ctx, ks.index(relTrackPlaylists, t.ID), playlistID); err != nil {
			return err
		}
		for _, artistID := range t.ArtistIDs {
			if err := r.backend.SAdd(ctx, ks.index(relArtistTracks, artistID), t.ID); err != nil {
				return err
			}
			if err := r.backend.SAdd(ctx, ks.index(relArtistPlaylists, artistID), playlistID); err != nil {
				return err
			}
		}
		ids = append(ids, t.ID)
	}

	listKey := ks.index(relPlaylistTracks, playlistID)
	if err := r.backend.Del(ctx, listKey); err != nil {
		return err
	}
	return r.backend.RPush(ctx, listKey, ids...)
}

// WriteArtists stores detailed artist records, replacing any basic or stale record.
func (r *LibraryRepository) WriteArtists(ctx context.Context, ns models.Namespace, artists []models.Artist) error {
	ks := keysFor(ns)
	for _, a := range artists {
		key := ks.entity(kindArtist, a.ID)
		if err := r.backend.Del(ctx, key); err != nil {
			return err
		}
		if err := r.backend.HSet(ctx, key, detailedArtistFields(a)); err != nil {
			return err
		}
	}
	return nil
}

// WriteBasicArtist stores an artist seen on a track. A record carrying the detailed marker is left untouched.
func (r *LibraryRepository) WriteBasicArtist(ctx context.Context, ns models.Namespace, id, name, url string) error {
	key := keysFor(ns).entity(kindArtist, id)

	existing, err := r.backend.HGetAll(ctx, key)
	if err != nil {
		return err
	}
	if existing[detailedMarker] != "" {
		return nil
	}
	return r.backend.HSet(ctx, key, basicArtistFields(id, name, url))
}

// ReadUser returns the stored user profile.
func (r *LibraryRepository) ReadUser(ctx context.Context, ns models.Namespace) (*models.User, error) {
	keys, err := r.backend.Keys(ctx, keysFor(ns).entityPrefix(kindUser))
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no user stored for %s", shared.ErrNotFound, ns)
	}

	fields, err := r.backend.HGetAll(ctx, keys[0])
	if err != nil {
		return nil, err
	}
	user := userFromFields(fields)
	return &user, nil
}

// ReadUserPlaylists returns the user's playlists with the liked-songs playlist first, then by name.
func (r *LibraryRepository) ReadUserPlaylists(ctx context.Context, ns models.Namespace) ([]models.Playlist, error) {
	user, err := r.ReadUser(ctx, ns)
	if err != nil {
		if isNotFound(err) {
			return []models.Playlist{}, nil
		}
		return nil, err
	}

	ks := keysFor(ns)
	ids, err := r.backend.SMembers(ctx, ks.index(relUserPlaylists, user.ID))
	if err != nil {
		return nil, err
	}

	playlists, err := r.readPlaylists(ctx, ks, ids)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(playlists, func(i, j int) bool {
		if playlists[i].Virtual != playlists[j].Virtual {
			return playlists[i].Virtual
		}
		return strings.ToLower(playlists[i].Name) < strings.ToLower(playlists[j].Name)
	})
	return playlists, nil
}

// ReadPlaylist returns one playlist.
func (r *LibraryRepository) ReadPlaylist(ctx context.Context, ns models.Namespace, id string) (*models.Playlist, error) {
	fields, err := r.backend.HGetAll(ctx, keysFor(ns).entity(kindPlaylist, id))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: playlist %s", shared.ErrNotFound, id)
	}
	p := playlistFromFields(fields)
	return &p, nil
}

// ReadPlaylistTracks returns a playlist's tracks in provider order.
func (r *LibraryRepository) ReadPlaylistTracks(ctx context.Context, ns models.Namespace, playlistID string) ([]models.Track, error) {
	ks := keysFor(ns)
	ids, err := r.backend.LRange(ctx, ks.index(relPlaylistTracks, playlistID))
	if err != nil {
		return nil, err
	}
	return r.readTracks(ctx, ks, ids)
}

// ReadTrack returns one track.
func (r *LibraryRepository) ReadTrack(ctx context.Context, ns models.Namespace, id string) (*models.Track, error) {
	fields, err := r.backend.HGetAll(ctx, keysFor(ns).entity(kindTrack, id))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: track %s", shared.ErrNotFound, id)
	}
	t := trackFromFields(fields)
	return &t, nil
}

// ReadAllUserTracks returns every distinct track in the library ordered by name.
func (r *LibraryRepository) ReadAllUserTracks(ctx context.Context, ns models.Namespace) ([]models.Track, error) {
	ks := keysFor(ns)
	ids, err := r.entityIDs(ctx, ks, kindTrack)
	if err != nil {
		return nil, err
	}

	tracks, err := r.readTracks(ctx, ks, ids)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(tracks, func(i, j int) bool {
		return strings.ToLower(tracks[i].Name) < strings.ToLower(tracks[j].Name)
	})
	return tracks, nil
}

// ReadTrackPlaylists returns the playlists that contain a track.
func (r *LibraryRepository) ReadTrackPlaylists(ctx context.Context, ns models.Namespace, trackID string) ([]models.Playlist, error) {
	ks := keysFor(ns)
	ids, err := r.backend.SMembers(ctx, ks.index(relTrackPlaylists, trackID))
	if err != nil {
		return nil, err
	}
	return r.readPlaylists(ctx, ks, ids)
}

// ReadAllArtists returns every artist ordered by track count, then name.
func (r *LibraryRepository) ReadAllArtists(ctx context.Context, ns models.Namespace) ([]models.Artist, error) {
	ks := keysFor(ns)
	ids, err := r.entityIDs(ctx, ks, kindArtist)
	if err != nil {
		return nil, err
	}

	artists := make([]models.Artist, 0, len(ids))
	for _, id := range ids {
		a, err := r.readArtist(ctx, ks, id)
		if err != nil {
			return nil, err
		}
		if a != nil {
			artists = append(artists, *a)
		}
	}

	sort.SliceStable(artists, func(i, j int) bool {
		if artists[i].TrackCount != artists[j].TrackCount {
			return artists[i].TrackCount > artists[j].TrackCount
		}
		return strings.ToLower(artists[i].Name) < strings.ToLower(artists[j].Name)
	})
	return artists, nil
}

// ReadArtist returns one artist with its derived track count.
func (r *LibraryRepository) ReadArtist(ctx context.Context, ns models.Namespace, id string) (*models.Artist, error) {
	a, err := r.readArtist(ctx, keysFor(ns), id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%w: artist %s", shared.ErrNotFound, id)
	}
	return a, nil
}

// ReadArtistTracks returns the tracks an artist appears on.
func (r *LibraryRepository) ReadArtistTracks(ctx context.Context, ns models.Namespace, artistID string) ([]models.Track, error) {
	ks := keysFor(ns)
	ids, err := r.backend.SMembers(ctx, ks.index(relArtistTracks, artistID))
	if err != nil {
		return nil, err
	}
	return r.readTracks(ctx, ks, ids)
}

// ReadArtistPlaylists returns the playlists an artist appears on.
func (r *LibraryRepository) ReadArtistPlaylists(ctx context.Context, ns models.Namespace, artistID string) ([]models.Playlist, error) {
	ks := keysFor(ns)
	ids, err := r.backend.SMembers(ctx, ks.index(relArtistPlaylists, artistID))
	if err != nil {
		return nil, err
	}
	return r.readPlaylists(ctx, ks, ids)
}

// DeleteNamespace removes every key under the namespace and returns how many were removed.
// Deleting an empty namespace is a no-op. The namespace must be valid and name a provider, since a partial
// namespace is the key prefix of every namespace below it.
func (r *LibraryRepository) DeleteNamespace(ctx context.Context, ns models.Namespace) (int, error) {
	if !ns.Valid() || ns.Provider == "" {
		return 0, fmt.Errorf("%w: namespace %q", shared.ErrInvalidInput, ns)
	}
	keys, err := r.backend.Keys(ctx, keysFor(ns).all())
	if err != nil {
		return 0, err
	}

	for _, batch := range chunk(keys, deleteBatchSize) {
		if err := r.backend.Del(ctx, batch...); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// WriteSyncMetadata records the outcome of a completed sync.
func (r *LibraryRepository) WriteSyncMetadata(ctx context.Context, ns models.Namespace, meta models.SyncMetadata) error {
	key := keysFor(ns).syncMeta()
	if err := r.backend.Del(ctx, key); err != nil {
		return err
	}
	return r.backend.HSet(ctx, key, syncMetaFields(meta))
}

// ReadSyncStatus reports the last completed sync. Missing metadata means the namespace was never synced.
func (r *LibraryRepository) ReadSyncStatus(ctx context.Context, ns models.Namespace) (models.SyncStatus, error) {
	fields, err := r.backend.HGetAll(ctx, keysFor(ns).syncMeta())
	if err != nil {
		return models.SyncStatus{}, err
	}
	if len(fields) == 0 {
		return models.SyncStatus{Synced: false}, nil
	}

	meta := syncMetaFromFields(fields)
	return models.SyncStatus{Synced: true, Metadata: &meta}, nil
}

func (r *LibraryRepository) entityIDs(ctx context.Context, ks keyspace, kind string) ([]string, error) {
	prefix := ks.entityPrefix(kind)
	keys, err := r.backend.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = strings.TrimPrefix(k, prefix)
	}
	return ids, nil
}

func (r *LibraryRepository) readPlaylists(ctx context.Context, ks keyspace, ids []string) ([]models.Playlist, error) {
	playlists := make([]models.Playlist, 0, len(ids))
	for _, id := range ids {
		fields, err := r.backend.HGetAll(ctx, ks.entity(kindPlaylist, id))
		if err != nil {
			return nil, err
		}
		if len(fields) > 0 {
			playlists = append(playlists, playlistFromFields(fields))
		}
	}
	return playlists, nil
}

func (r *LibraryRepository) readTracks(ctx context.Context, ks keyspace, ids []string) ([]models.Track, error) {
	tracks := make([]models.Track, 0, len(ids))
	for _, id := range ids {
		fields, err := r.backend.HGetAll(ctx, ks.entity(kindTrack, id))
		if err != nil {
			return nil, err
		}
		if len(fields) > 0 {
			tracks = append(tracks, trackFromFields(fields))
		}
	}
	return tracks, nil
}

func (r *LibraryRepository) readArtist(ctx context.Context, ks keyspace, id string) (*models.Artist, error) {
	fields, err := r.backend.HGetAll(ctx, ks.entity(kindArtist, id))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	a := artistFromFields(fields)
	if a.TrackCount, err = r.backend.SCard(ctx, ks.index(relArtistTracks, id)); err != nil {
		return nil, err
	}
	return &a, nil
}
