package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/desertthunder/libsync/internal/models"
	"github.com/desertthunder/libsync/internal/repositories"
	"github.com/desertthunder/libsync/internal/services"
	"github.com/desertthunder/libsync/internal/shared"
	tu "github.com/desertthunder/libsync/internal/testing"
)

var testNS = models.NewNamespace("libsync", "app-user", "spotify")

var discard = log.New(io.Discard)

func setupStore(t *testing.T) (*sql.DB, *repositories.LibraryRepository) {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	backend, err := repositories.NewBackend(shared.CacheConfig{Backend: "sqlite"}, db)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	return db, repositories.NewLibraryRepository(backend)
}

// scenarioLibrary has two owned playlists (3 and 2 tracks) and one saved track already in a playlist.
func scenarioLibrary() *tu.FakeProvider {
	p := tu.NewFakeLibrary()
	p.Saved = p.Saved[:1]
	return p
}

// failingBackend fails every hash write.
type failingBackend struct {
	repositories.Backend
	err error
}

func (f *failingBackend) HSet(ctx context.Context, key string, fields map[string]string) error {
	return f.err
}

func recordProgress(got *[]ProgressUpdate) ProgressFunc {
	return func(u ProgressUpdate) { *got = append(*got, u) }
}

func TestSyncEngine_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("library scenario", func(t *testing.T) {
		_, library := setupStore(t)
		engine := NewSyncEngine(library, discard)

		result, err := engine.Run(ctx, testNS, scenarioLibrary(), nil)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.Playlists != 3 || result.Tracks != 4 || result.Artists != 3 {
			t.Errorf("unexpected result: %+v", result)
		}

		playlists, err := library.ReadUserPlaylists(ctx, testNS)
		if err != nil {
			t.Fatalf("ReadUserPlaylists failed: %v", err)
		}
		if len(playlists) != 3 {
			t.Fatalf("expected 3 playlists, got %d", len(playlists))
		}
		liked := playlists[0]
		if !liked.Virtual || liked.ID != models.LikedSongsPlaylistID || liked.TrackCount != 1 {
			t.Errorf("expected liked songs first with 1 track, got %+v", liked)
		}

		tracks, err := library.ReadAllUserTracks(ctx, testNS)
		if err != nil {
			t.Fatalf("ReadAllUserTracks failed: %v", err)
		}
		if len(tracks) != 4 {
			t.Errorf("expected 4 distinct tracks, got %d", len(tracks))
		}

		a1, err := library.ReadArtist(ctx, testNS, "a1")
		if err != nil {
			t.Fatalf("ReadArtist failed: %v", err)
		}
		if a1.TrackCount != 2 || !a1.Detailed || a1.Popularity != 60 {
			t.Errorf("expected detailed a1 on 2 tracks, got %+v", a1)
		}

		status, err := library.ReadSyncStatus(ctx, testNS)
		if err != nil || !status.Synced {
			t.Fatalf("expected synced status, got %+v (%v)", status, err)
		}
		if m := status.Metadata; m.Playlists != 3 || m.Tracks != 4 || m.Artists != 3 {
			t.Errorf("unexpected metadata: %+v", m)
		}
	})

	t.Run("referential integrity", func(t *testing.T) {
		_, library := setupStore(t)
		if _, err := NewSyncEngine(library, discard).Run(ctx, testNS, tu.NewFakeLibrary(), nil); err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		playlists, _ := library.ReadUserPlaylists(ctx, testNS)
		for _, p := range playlists {
			tracks, err := library.ReadPlaylistTracks(ctx, testNS, p.ID)
			if err != nil {
				t.Fatalf("ReadPlaylistTracks(%s) failed: %v", p.ID, err)
			}
			for _, track := range tracks {
				if _, err := library.ReadTrack(ctx, testNS, track.ID); err != nil {
					t.Errorf("track %s of %s has no entity: %v", track.ID, p.ID, err)
				}
				reverse, _ := library.ReadTrackPlaylists(ctx, testNS, track.ID)
				found := false
				for _, rp := range reverse {
					found = found || rp.ID == p.ID
				}
				if !found {
					t.Errorf("track %s missing reverse index to %s", track.ID, p.ID)
				}
			}
		}
	})

	t.Run("followed playlists are not synced", func(t *testing.T) {
		_, library := setupStore(t)
		provider := tu.NewFakeLibrary()
		if _, err := NewSyncEngine(library, discard).Run(ctx, testNS, provider, nil); err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		if _, err := library.ReadPlaylist(ctx, testNS, "p3"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected followed playlist to be skipped, got %v", err)
		}
		if provider.Calls("PlaylistTracks:p3") != 0 {
			t.Error("tracks of a followed playlist were fetched")
		}
	})

	t.Run("progress is monotonic and ends at 100", func(t *testing.T) {
		_, library := setupStore(t)
		var got []ProgressUpdate

		if _, err := NewSyncEngine(library, discard).Run(ctx, testNS, tu.NewFakeLibrary(), recordProgress(&got)); err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		seen := map[int]bool{}
		last := -1
		for _, u := range got {
			if u.Percent < last {
				t.Errorf("progress decreased from %d to %d", last, u.Percent)
			}
			if u.Stage != StageForProgress(u.Percent) {
				t.Errorf("stage %v does not match percent %d", u.Stage, u.Percent)
			}
			last = u.Percent
			seen[u.Percent] = true
		}
		if last != 100 {
			t.Errorf("expected final progress 100, got %d", last)
		}
		for _, pct := range []int{0, 5, 25, 65, 80, 100} {
			if !seen[pct] {
				t.Errorf("missing progress point %d", pct)
			}
		}
		// 3 playlists: 25 + 40*1/3, 25 + 40*2/3
		if !seen[38] || !seen[51] {
			t.Errorf("expected interpolated playlist progress, got %v", seen)
		}
	})

	t.Run("artist batch 2 of 3 fails", func(t *testing.T) {
		_, library := setupStore(t)
		provider := scenarioLibrary()
		provider.BatchSize = 1
		provider.ArtistErrors = map[int]error{2: fmt.Errorf("%w: 503", shared.ErrServiceUnavailable)}

		result, err := NewSyncEngine(library, discard).Run(ctx, testNS, provider, nil)
		if err != nil {
			t.Fatalf("expected run to complete, got %v", err)
		}
		if result.SkippedArtistBatches != 1 || result.Artists != 2 || provider.ArtistCalls() != 3 {
			t.Errorf("unexpected result: %+v (calls=%d)", result, provider.ArtistCalls())
		}

		status, _ := library.ReadSyncStatus(ctx, testNS)
		if status.Metadata == nil || status.Metadata.Artists != 2 {
			t.Errorf("expected 2 artists in metadata, got %+v", status.Metadata)
		}

		// artists are fetched in first-seen order: a1, a2, a3
		a2, err := library.ReadArtist(ctx, testNS, "a2")
		if err != nil {
			t.Fatalf("ReadArtist failed: %v", err)
		}
		if a2.Detailed || a2.Name != "Artist a2" {
			t.Errorf("expected basic record for a2, got %+v", a2)
		}
	})

	t.Run("auth failure in artist stage is fatal", func(t *testing.T) {
		_, library := setupStore(t)
		provider := scenarioLibrary()
		provider.ArtistErrors = map[int]error{1: shared.ErrAuthFailed}

		if _, err := NewSyncEngine(library, discard).Run(ctx, testNS, provider, nil); !errors.Is(err, shared.ErrAuthFailed) {
			t.Errorf("expected ErrAuthFailed, got %v", err)
		}
	})

	t.Run("playlist fetch failure aborts without rollback", func(t *testing.T) {
		_, library := setupStore(t)
		provider := tu.NewFakeLibrary()
		provider.Errors = map[string]error{"PlaylistTracks:p2": shared.ErrServiceUnavailable}
		var got []ProgressUpdate

		_, err := NewSyncEngine(library, discard).Run(ctx, testNS, provider, recordProgress(&got))
		if !errors.Is(err, shared.ErrServiceUnavailable) {
			t.Fatalf("expected ErrServiceUnavailable, got %v", err)
		}

		if user, err := library.ReadUser(ctx, testNS); err != nil || user.ID != "u1" {
			t.Errorf("expected partial library to keep the user, got %v", err)
		}
		if status, _ := library.ReadSyncStatus(ctx, testNS); status.Synced {
			t.Error("failed run must not write sync metadata")
		}
		if last := got[len(got)-1]; last.Percent >= 65 {
			t.Errorf("progress advanced past the failed stage: %+v", last)
		}
	})

	t.Run("store failure is fatal", func(t *testing.T) {
		db, _ := setupStore(t)
		backend, _ := repositories.NewBackend(shared.CacheConfig{Backend: "sqlite"}, db)
		failing := &failingBackend{Backend: backend, err: fmt.Errorf("%w: disk full", shared.ErrStoreUnavailable)}
		library := repositories.NewLibraryRepository(failing)

		_, err := NewSyncEngine(library, discard).Run(ctx, testNS, tu.NewFakeLibrary(), nil)
		if !errors.Is(err, shared.ErrStoreUnavailable) {
			t.Errorf("expected ErrStoreUnavailable, got %v", err)
		}
	})

	t.Run("no saved tracks", func(t *testing.T) {
		_, library := setupStore(t)
		provider := tu.NewFakeLibrary()
		provider.Saved = nil

		result, err := NewSyncEngine(library, discard).Run(ctx, testNS, provider, nil)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.Playlists != 2 {
			t.Errorf("expected no virtual playlist, got %d playlists", result.Playlists)
		}
		if _, err := library.ReadPlaylist(ctx, testNS, models.LikedSongsPlaylistID); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected no liked songs playlist, got %v", err)
		}
	})

	t.Run("resync rebuilds the namespace", func(t *testing.T) {
		_, library := setupStore(t)
		engine := NewSyncEngine(library, discard)
		provider := tu.NewFakeLibrary()

		if _, err := engine.Run(ctx, testNS, provider, nil); err != nil {
			t.Fatalf("first Run failed: %v", err)
		}

		provider.Playlists = provider.Playlists[:1]
		provider.Saved = nil
		result, err := engine.Run(ctx, testNS, provider, nil)
		if err != nil {
			t.Fatalf("second Run failed: %v", err)
		}
		if result.Deleted == 0 {
			t.Error("expected the previous library to be deleted")
		}

		playlists, _ := library.ReadUserPlaylists(ctx, testNS)
		if len(playlists) != 1 || playlists[0].ID != "p1" {
			t.Errorf("expected only p1 after resync, got %+v", playlists)
		}
		if _, err := library.ReadTrack(ctx, testNS, "t4"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected stale track t4 removed, got %v", err)
		}
	})
}

// spotifyServer serves a one-playlist Spotify library and accepts only validToken.
func spotifyServer(t *testing.T, validToken string, unauthorized *atomic.Int32) *httptest.Server {
	t.Helper()

	routes := map[string]string{
		"/me":           `{"id":"u1","display_name":"Test User"}`,
		"/me/playlists": `{"items":[{"id":"p1","name":"Road Trip","owner":{"id":"u1"},"tracks":{"total":2}}],"next":null}`,
		"/me/tracks":    `{"items":[{"track":{"id":"t2","name":"Two","type":"track","artists":[{"id":"a1","name":"A1"}]}}],"next":null}`,
		"/playlists/p1/tracks": `{"items":[
			{"track":{"id":"t1","name":"One","type":"track","artists":[{"id":"a1","name":"A1"},{"id":"a2","name":"A2"}]}},
			{"track":{"id":"t2","name":"Two","type":"track","artists":[{"id":"a1","name":"A1"}]}}],"next":null}`,
		"/artists": `{"artists":[{"id":"a1","name":"A1","genres":["jazz"]},{"id":"a2","name":"A2","genres":["soul"]}]}`,
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+validToken {
			unauthorized.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
}

type staticRefresher struct {
	token string
	calls atomic.Int32
}

func (s *staticRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	s.calls.Add(1)
	return &oauth2.Token{AccessToken: s.token}, nil
}

func TestSyncEngine_TokenExpiry(t *testing.T) {
	ctx := context.Background()

	snapshot := func(library *repositories.LibraryRepository) (any, any, any) {
		playlists, _ := library.ReadUserPlaylists(ctx, testNS)
		tracks, _ := library.ReadAllUserTracks(ctx, testNS)
		artists, _ := library.ReadAllArtists(ctx, testNS)
		return playlists, tracks, artists
	}

	run := func(t *testing.T, creds models.Credentials, refresher services.TokenRefresher) (*repositories.LibraryRepository, int32) {
		t.Helper()
		var unauthorized atomic.Int32
		server := spotifyServer(t, "valid", &unauthorized)
		defer server.Close()

		session := services.NewSession(services.ProviderSpotify, creds, refresher)
		session.SetLogger(discard)
		provider := services.NewSpotifyProvider(session, services.ClientOptions{BaseURL: server.URL, Logger: discard})

		_, library := setupStore(t)
		if _, err := NewSyncEngine(library, discard).Run(ctx, testNS, provider, nil); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		return library, unauthorized.Load()
	}

	baseline, _ := run(t, models.Credentials{AccessToken: "valid"}, nil)

	refresher := &staticRefresher{token: "valid"}
	refreshed, unauthorized := run(t, models.Credentials{AccessToken: "expired", RefreshToken: "r"}, refresher)

	if unauthorized != 1 || refresher.calls.Load() != 1 {
		t.Errorf("expected one 401 and one refresh, got %d and %d", unauthorized, refresher.calls.Load())
	}

	bp, bt, ba := snapshot(baseline)
	rp, rt, ra := snapshot(refreshed)
	if !reflect.DeepEqual(bp, rp) || !reflect.DeepEqual(bt, rt) || !reflect.DeepEqual(ba, ra) {
		t.Errorf("refreshed run differs from baseline:\nplaylists %v vs %v\ntracks %v vs %v\nartists %v vs %v",
			bp, rp, bt, rt, ba, ra)
	}
}
