// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"

	"github.com/desertthunder/libsync/internal/models"
	"github.com/desertthunder/libsync/internal/shared"
)

// FakeProvider is an in-memory test double for [services.Provider].
//
// Errors keyed by operation name ("CurrentUser", "OwnedPlaylists", "SavedTracks") or "PlaylistTracks:{id}" are
// returned instead of data. ArtistErrors fails the n-th call to Artists (1-based).
type FakeProvider struct {
	ProviderName string
	User         *models.User
	Playlists    []models.Playlist
	Tracks       map[string][]models.Track
	Saved        []models.Track
	ArtistInfo   map[string]models.Artist
	BatchSize    int
	Errors       map[string]error
	ArtistErrors map[int]error

	// Gate, when set, blocks CurrentUser until it is closed or the context ends.
	Gate chan struct{}

	mu          sync.Mutex
	artistCalls int
	calls       map[string]int
}

func (f *FakeProvider) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
	return f.Errors[op]
}

// Calls returns how many times op was invoked.
func (f *FakeProvider) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FakeProvider) Name() string {
	if f.ProviderName == "" {
		return "spotify"
	}
	return f.ProviderName
}

func (f *FakeProvider) CurrentUser(ctx context.Context) (*models.User, error) {
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.record("CurrentUser"); err != nil {
		return nil, err
	}
	if f.User == nil {
		return nil, shared.ErrNotFound
	}
	u := *f.User
	return &u, nil
}

func (f *FakeProvider) OwnedPlaylists(ctx context.Context, userID string) ([]models.Playlist, error) {
	if err := f.record("OwnedPlaylists"); err != nil {
		return nil, err
	}
	var owned []models.Playlist
	for _, p := range f.Playlists {
		if p.OwnerID == userID {
			owned = append(owned, p)
		}
	}
	return owned, nil
}

func (f *FakeProvider) AllPlaylists(ctx context.Context) ([]models.Playlist, error) {
	if err := f.record("AllPlaylists"); err != nil {
		return nil, err
	}
	return append([]models.Playlist(nil), f.Playlists...), nil
}

func (f *FakeProvider) PlaylistTracks(ctx context.Context, playlistID string) ([]models.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.record("PlaylistTracks:" + playlistID); err != nil {
		return nil, err
	}
	return append([]models.Track(nil), f.Tracks[playlistID]...), nil
}

func (f *FakeProvider) SavedTracks(ctx context.Context) ([]models.Track, error) {
	if err := f.record("SavedTracks"); err != nil {
		return nil, err
	}
	return append([]models.Track(nil), f.Saved...), nil
}

func (f *FakeProvider) Artists(ctx context.Context, ids []string) ([]models.Artist, error) {
	f.mu.Lock()
	f.artistCalls++
	err := f.ArtistErrors[f.artistCalls]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var artists []models.Artist
	for _, id := range ids {
		if a, ok := f.ArtistInfo[id]; ok {
			a.Detailed = true
			artists = append(artists, a)
		}
	}
	return artists, nil
}

// ArtistCalls returns the number of artist batch lookups performed.
func (f *FakeProvider) ArtistCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.artistCalls
}

func (f *FakeProvider) ArtistBatchSize() int {
	if f.BatchSize <= 0 {
		return 50
	}
	return f.BatchSize
}

func (f *FakeProvider) ArtistURL(id string) string {
	return "https://example.com/artist/" + id
}

// NewFakeLibrary returns a provider holding a small library owned by "u1":
//
//	p1 "Road Trip" (owned): t1, t2, t3
//	p2 "Chill" (owned): t3, t4
//	p3 "Followed" (owned by someone else): t6
//	saved: t1, t5
//
// Artists a1 (t1, t2, t5), a2 (t3), a3 (t3, t4). a4 has no detailed record.
func NewFakeLibrary() *FakeProvider {
	track := func(id, name string, artists ...string) models.Track {
		t := models.Track{ID: id, Name: name, DurationMS: 180000}
		for _, a := range artists {
			t.ArtistIDs = append(t.ArtistIDs, a)
			t.ArtistNames = append(t.ArtistNames, "Artist "+a)
		}
		return t
	}

	return &FakeProvider{
		User: &models.User{ID: "u1", DisplayName: "Test User", Followers: 3},
		Playlists: []models.Playlist{
			{ID: "p1", Name: "Road Trip", OwnerID: "u1", TrackCount: 3},
			{ID: "p2", Name: "Chill", OwnerID: "u1", TrackCount: 2},
			{ID: "p3", Name: "Followed", OwnerID: "someone", TrackCount: 1},
		},
		Tracks: map[string][]models.Track{
			"p1": {track("t1", "One", "a1"), track("t2", "Two", "a1"), track("t3", "Three", "a2", "a3")},
			"p2": {track("t3", "Three", "a2", "a3"), track("t4", "Four", "a3")},
			"p3": {track("t6", "Six", "a4")},
		},
		Saved: []models.Track{track("t1", "One", "a1"), track("t5", "Five", "a1")},
		ArtistInfo: map[string]models.Artist{
			"a1": {ID: "a1", Name: "Artist a1", Genres: []string{"indie rock", "dream pop"}, Popularity: 60},
			"a2": {ID: "a2", Name: "Artist a2", Genres: []string{"jazz"}, Popularity: 40},
			"a3": {ID: "a3", Name: "Artist a3", Genres: []string{"Indie  Rock"}, Popularity: 20},
		},
	}
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

// WriteConfig writes a minimal config file into dir and returns its path. extra is appended verbatim.
func WriteConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	path := dir + "/config.toml"
	content := fmt.Sprintf("[database]\npath = %q\n\n[cache]\nbackend = \"sqlite\"\nnamespace = \"libsync\"\n%s", dir+"/libsync.db", extra)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
