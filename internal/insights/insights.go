// package insights cross-references an already cached library. It never writes.
package insights

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/desertthunder/libsync/internal/models"
	"github.com/desertthunder/libsync/internal/repositories"
	"github.com/desertthunder/libsync/internal/shared"
)

// Suggestion is a playlist that shares genres or artists with a track.
type Suggestion struct {
	Playlist      models.Playlist `json:"playlist"`
	GenreOverlap  int             `json:"genre_overlap"`
	ArtistOverlap int             `json:"artist_overlap"`
	SharedGenres  []string        `json:"shared_genres"`
	SharedArtists []string        `json:"shared_artists"`
}

// Suggestions ranks the real playlists a track could be added to.
//
// Current holds playlists that already contain the track; they are never suggested.
type Suggestions struct {
	Track     models.Track      `json:"track"`
	Current   []models.Playlist `json:"current"`
	Suggested []Suggestion      `json:"suggested"`
}

// GenreCount is a genre weighted by the number of cached tracks of its artists.
type GenreCount struct {
	Genre   string `json:"genre"`
	Tracks  int    `json:"tracks"`
	Artists int    `json:"artists"`
}

// Service computes insights over a [repositories.LibraryRepository].
type Service struct {
	library *repositories.LibraryRepository
}

// NewService creates an insights service.
func NewService(library *repositories.LibraryRepository) *Service {
	return &Service{library: library}
}

// SuggestPlaylistsForLikedTrack ranks real playlists by genre overlap, then artist overlap, then name.
// Playlists sharing nothing with the track are omitted.
func (s *Service) SuggestPlaylistsForLikedTrack(ctx context.Context, ns models.Namespace, trackID string) (*Suggestions, error) {
	track, err := s.library.ReadTrack(ctx, ns, trackID)
	if err != nil {
		return nil, err
	}

	artists := newArtistCache(s.library, ns)
	trackArtists := make(map[string]struct{}, len(track.ArtistIDs))
	trackGenres := make(map[string]struct{})
	for _, id := range track.ArtistIDs {
		trackArtists[id] = struct{}{}
		genres, err := artists.genres(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, g := range genres {
			trackGenres[g] = struct{}{}
		}
	}

	containing, err := s.library.ReadTrackPlaylists(ctx, ns, trackID)
	if err != nil {
		return nil, err
	}
	current := make(map[string]struct{}, len(containing))
	for _, p := range containing {
		current[p.ID] = struct{}{}
	}

	playlists, err := s.library.ReadUserPlaylists(ctx, ns)
	if err != nil {
		return nil, err
	}

	result := &Suggestions{Track: *track, Current: []models.Playlist{}, Suggested: []Suggestion{}}
	for _, p := range playlists {
		if p.Virtual {
			continue
		}
		if _, ok := current[p.ID]; ok {
			result.Current = append(result.Current, p)
			continue
		}

		tracks, err := s.library.ReadPlaylistTracks(ctx, ns, p.ID)
		if err != nil {
			return nil, err
		}

		sharedArtists := make(map[string]struct{})
		sharedGenres := make(map[string]struct{})
		for _, t := range tracks {
			for _, id := range t.ArtistIDs {
				if _, ok := trackArtists[id]; ok {
					sharedArtists[id] = struct{}{}
				}
				genres, err := artists.genres(ctx, id)
				if err != nil {
					return nil, err
				}
				for _, g := range genres {
					if _, ok := trackGenres[g]; ok {
						sharedGenres[g] = struct{}{}
					}
				}
			}
		}

		if len(sharedArtists) == 0 && len(sharedGenres) == 0 {
			continue
		}
		result.Suggested = append(result.Suggested, Suggestion{
			Playlist:      p,
			GenreOverlap:  len(sharedGenres),
			ArtistOverlap: len(sharedArtists),
			SharedGenres:  sortedKeys(sharedGenres),
			SharedArtists: sortedKeys(sharedArtists),
		})
	}

	sort.SliceStable(result.Suggested, func(i, j int) bool {
		a, b := result.Suggested[i], result.Suggested[j]
		if a.GenreOverlap != b.GenreOverlap {
			return a.GenreOverlap > b.GenreOverlap
		}
		if a.ArtistOverlap != b.ArtistOverlap {
			return a.ArtistOverlap > b.ArtistOverlap
		}
		return strings.ToLower(a.Playlist.Name) < strings.ToLower(b.Playlist.Name)
	})
	return result, nil
}

// GenreFrequency counts genres across cached artists, weighting each by the artist's track count.
// A limit of zero or less returns every genre.
func (s *Service) GenreFrequency(ctx context.Context, ns models.Namespace, limit int) ([]GenreCount, error) {
	artists, err := s.library.ReadAllArtists(ctx, ns)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]*GenreCount)
	for _, a := range artists {
		for _, g := range normalize(a.Genres) {
			c, ok := counts[g]
			if !ok {
				c = &GenreCount{Genre: g}
				counts[g] = c
			}
			c.Tracks += a.TrackCount
			c.Artists++
		}
	}

	out := make([]GenreCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tracks != out[j].Tracks {
			return out[i].Tracks > out[j].Tracks
		}
		if out[i].Artists != out[j].Artists {
			return out[i].Artists > out[j].Artists
		}
		return out[i].Genre < out[j].Genre
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// artistCache memoizes normalized artist genres for one request.
type artistCache struct {
	library *repositories.LibraryRepository
	ns      models.Namespace
	seen    map[string][]string
}

func newArtistCache(library *repositories.LibraryRepository, ns models.Namespace) *artistCache {
	return &artistCache{library: library, ns: ns, seen: make(map[string][]string)}
}

// genres returns the normalized genres of an artist; unknown artists have none.
func (c *artistCache) genres(ctx context.Context, id string) ([]string, error) {
	if g, ok := c.seen[id]; ok {
		return g, nil
	}

	var genres []string
	a, err := c.library.ReadArtist(ctx, c.ns, id)
	switch {
	case err == nil:
		genres = normalize(a.Genres)
	case !errors.Is(err, shared.ErrNotFound):
		return nil, err
	}

	c.seen[id] = genres
	return genres, nil
}

// normalize lowercases and dedupes genres, dropping empty ones.
func normalize(genres []string) []string {
	seen := make(map[string]struct{}, len(genres))
	out := make([]string, 0, len(genres))
	for _, g := range genres {
		n := shared.NormalizeGenre(g)
		if _, dup := seen[n]; dup || n == "" {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
