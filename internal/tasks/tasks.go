package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/libsync/internal/metrics"
	"github.com/desertthunder/libsync/internal/models"
	"github.com/desertthunder/libsync/internal/repositories"
	"github.com/desertthunder/libsync/internal/services"
)

// SyncResult summarizes a completed run.
type SyncResult struct {
	User                 *models.User
	Playlists            int           // Stored playlists, the virtual one included
	Tracks               int           // Distinct tracks across all playlists
	Artists              int           // Artists stored from a detailed lookup
	BasicArtists         int           // Distinct artists referenced by tracks
	SkippedArtistBatches int           // Artist batches that failed and were skipped
	Deleted              int           // Keys removed before the rebuild
	Duration             time.Duration // Wall time of the run
}

// Metadata returns the sync bookkeeping record for the result.
func (r *SyncResult) Metadata(at time.Time) models.SyncMetadata {
	return models.SyncMetadata{LastSync: at, Playlists: r.Playlists, Tracks: r.Tracks, Artists: r.Artists}
}

// SyncEngine rebuilds a cached library from a provider.
type SyncEngine struct {
	library *repositories.LibraryRepository
	logger  *log.Logger
	now     func() time.Time
}

// NewSyncEngine creates an engine writing to library.
func NewSyncEngine(library *repositories.LibraryRepository, logger *log.Logger) *SyncEngine {
	if logger == nil {
		logger = log.Default()
	}
	return &SyncEngine{library: library, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Run deletes the namespace and rebuilds it from p: user, playlists (plus the virtual liked-songs playlist), tracks,
// then artist details in batches.
//
// A failed artist batch is skipped. Any other error aborts the run and is returned; the namespace is left as
// written so far. report may be nil.
func (e *SyncEngine) Run(ctx context.Context, ns models.Namespace, p services.Provider, report ProgressFunc) (*SyncResult, error) {
	if report == nil {
		report = func(ProgressUpdate) {}
	}
	if ns.Provider == "" {
		ns.Provider = p.Name()
	}

	start := time.Now()
	logger := e.logger.With("namespace", ns.String())
	result := &SyncResult{}

	deleted, err := e.library.DeleteNamespace(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("failed to clear namespace: %w", err)
	}
	result.Deleted = deleted
	report(stageUpdate(StageStarted))

	user, err := p.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	if err := e.library.WriteUser(ctx, ns, *user); err != nil {
		return nil, err
	}
	result.User = user
	metrics.RecordEntities("user", 1)
	report(stageUpdate(StageUserStored))

	playlists, saved, err := e.fetchPlaylists(ctx, p, user.ID)
	if err != nil {
		return nil, err
	}
	if err := e.library.WritePlaylists(ctx, ns, user.ID, playlists); err != nil {
		return nil, err
	}
	result.Playlists = len(playlists)
	metrics.RecordEntities("playlist", len(playlists))
	report(stageUpdate(StagePlaylistsStored))

	artistIDs, err := e.storeTracks(ctx, ns, p, playlists, saved, result, report)
	if err != nil {
		return nil, err
	}
	report(stageUpdate(StageTracksStored))

	skipped, err := services.FetchArtists(ctx, p, artistIDs, logger, func(done, total int, artists []models.Artist) error {
		if artists == nil {
			report(artistBatchUpdate(done, total, true))
			return nil
		}
		if err := e.library.WriteArtists(ctx, ns, artists); err != nil {
			return err
		}
		result.Artists += len(artists)
		metrics.RecordEntities("artist", len(artists))
		report(artistBatchUpdate(done, total, false))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch artists: %w", err)
	}
	result.SkippedArtistBatches = skipped
	report(stageUpdate(StageArtistsStored))

	if err := e.library.WriteSyncMetadata(ctx, ns, result.Metadata(e.now())); err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)
	report(stageUpdate(StageCompleted))

	logger.Info("sync completed",
		"playlists", result.Playlists, "tracks", result.Tracks, "artists", result.Artists,
		"skipped_batches", skipped, "duration", result.Duration)
	return result, nil
}

// fetchPlaylists returns the owned playlists followed by the virtual liked-songs playlist when saved is non-empty.
func (e *SyncEngine) fetchPlaylists(ctx context.Context, p services.Provider, userID string) ([]models.Playlist, []models.Track, error) {
	playlists, err := p.OwnedPlaylists(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch playlists: %w", err)
	}

	saved, err := p.SavedTracks(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch saved tracks: %w", err)
	}
	if len(saved) > 0 {
		playlists = append(playlists, models.NewLikedSongsPlaylist(userID, len(saved)))
	}
	return playlists, saved, nil
}

// storeTracks writes every playlist's tracks and a basic record for each referenced artist. It returns the distinct
// artist ids in first-seen order.
func (e *SyncEngine) storeTracks(
	ctx context.Context, ns models.Namespace, p services.Provider,
	playlists []models.Playlist, saved []models.Track, result *SyncResult, report ProgressFunc,
) ([]string, error) {
	tracks := make(map[string]struct{})
	artists := make(map[string]struct{})
	var artistIDs []string

	for i, pl := range playlists {
		items := saved
		if !pl.Virtual {
			var err error
			if items, err = p.PlaylistTracks(ctx, pl.ID); err != nil {
				return nil, fmt.Errorf("failed to fetch tracks of playlist %s: %w", pl.ID, err)
			}
		}

		if err := e.library.WriteTracks(ctx, ns, pl.ID, items); err != nil {
			return nil, err
		}

		for _, t := range items {
			tracks[t.ID] = struct{}{}
			for j, id := range t.ArtistIDs {
				if _, ok := artists[id]; ok || id == "" {
					continue
				}
				artists[id] = struct{}{}
				artistIDs = append(artistIDs, id)

				name := ""
				if j < len(t.ArtistNames) {
					name = t.ArtistNames[j]
				}
				if err := e.library.WriteBasicArtist(ctx, ns, id, name, p.ArtistURL(id)); err != nil {
					return nil, err
				}
			}
		}

		report(playlistUpdate(i+1, len(playlists), pl.Name))
	}

	result.Tracks = len(tracks)
	result.BasicArtists = len(artistIDs)
	metrics.RecordEntities("track", len(tracks))
	return artistIDs, nil
}
