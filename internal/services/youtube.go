// YouTube Data API v3 implementation of [Provider]
//
// Channels stand in for artists: a track's artist is the channel that owns the video, and artist genres come from
// the channel's topic categories. Response types based on https://developers.google.com/youtube/v3/docs
package services

import (
	"context"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/sosodev/duration"

	"github.com/desertthunder/libsync/internal/models"
	"github.com/desertthunder/libsync/internal/shared"
)

const (
	youtubeAuthURL  = "https://accounts.google.com/o/oauth2/auth"
	youtubeTokenURL = "https://oauth2.googleapis.com/token"
	youtubeBaseURL  = "https://www.googleapis.com/youtube/v3"

	youtubePageSize       = 50
	youtubeArtistBatch    = 50
	youtubeMusicCategory  = "10"
	youtubeTopicSuffix    = " - Topic"
	youtubeDeletedTitle   = "Deleted video"
	youtubePrivateTitle   = "Private video"
	youtubePrivacyPrivate = "private"
)

var youtubeScopes = []string{"https://www.googleapis.com/auth/youtube.readonly"}

// YouTubeThumbnail represents one thumbnail resolution.
type YouTubeThumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// YouTubeThumbnails is keyed by resolution name (default, medium, high, standard, maxres).
type YouTubeThumbnails map[string]YouTubeThumbnail

// YouTubeChannel represents a channel resource.
type YouTubeChannel struct {
	ID      string `json:"id"`
	Snippet struct {
		Title       string            `json:"title"`
		Description string            `json:"description"`
		CustomURL   string            `json:"customUrl"`
		Country     string            `json:"country"`
		Thumbnails  YouTubeThumbnails `json:"thumbnails"`
	} `json:"snippet"`
	Statistics struct {
		ViewCount       string `json:"viewCount"`
		SubscriberCount string `json:"subscriberCount"`
	} `json:"statistics"`
	TopicDetails struct {
		TopicCategories []string `json:"topicCategories"`
	} `json:"topicDetails"`
}

// YouTubePlaylist represents a playlist resource.
type YouTubePlaylist struct {
	ID      string `json:"id"`
	ETag    string `json:"etag"`
	Snippet struct {
		Title       string            `json:"title"`
		Description string            `json:"description"`
		ChannelID   string            `json:"channelId"`
		Thumbnails  YouTubeThumbnails `json:"thumbnails"`
	} `json:"snippet"`
	Status struct {
		PrivacyStatus string `json:"privacyStatus"`
	} `json:"status"`
	ContentDetails struct {
		ItemCount int `json:"itemCount"`
	} `json:"contentDetails"`
}

// YouTubePlaylistItem represents a playlistItem resource.
type YouTubePlaylistItem struct {
	Snippet struct {
		Title                  string            `json:"title"`
		Position               int               `json:"position"`
		VideoOwnerChannelID    string            `json:"videoOwnerChannelId"`
		VideoOwnerChannelTitle string            `json:"videoOwnerChannelTitle"`
		Thumbnails             YouTubeThumbnails `json:"thumbnails"`
		ResourceID             struct {
			Kind    string `json:"kind"`
			VideoID string `json:"videoId"`
		} `json:"resourceId"`
	} `json:"snippet"`
	ContentDetails struct {
		VideoID string `json:"videoId"`
	} `json:"contentDetails"`
	Status struct {
		PrivacyStatus string `json:"privacyStatus"`
	} `json:"status"`
}

// YouTubeVideo represents a video resource.
type YouTubeVideo struct {
	ID      string `json:"id"`
	Snippet struct {
		Title        string            `json:"title"`
		ChannelID    string            `json:"channelId"`
		ChannelTitle string            `json:"channelTitle"`
		CategoryID   string            `json:"categoryId"`
		Thumbnails   YouTubeThumbnails `json:"thumbnails"`
	} `json:"snippet"`
	ContentDetails struct {
		Duration      string `json:"duration"`
		ContentRating struct {
			YTRating string `json:"ytRating"`
		} `json:"contentRating"`
	} `json:"contentDetails"`
}

// youtubePage is a token-paginated list response.
type youtubePage[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

// YouTubeProvider implements [Provider] for the YouTube Data API.
type YouTubeProvider struct {
	client *apiClient
}

// NewYouTubeProvider creates a YouTube client on session.
func NewYouTubeProvider(session *Session, opts ClientOptions) *YouTubeProvider {
	return &YouTubeProvider{client: newAPIClient(ProviderYouTube, youtubeBaseURL, session, opts)}
}

func (y *YouTubeProvider) Name() string { return ProviderYouTube }

func (y *YouTubeProvider) ArtistBatchSize() int { return youtubeArtistBatch }

func (y *YouTubeProvider) ArtistURL(id string) string { return "https://www.youtube.com/channel/" + id }

// CurrentUser retrieves the authenticated user's own channel.
func (y *YouTubeProvider) CurrentUser(ctx context.Context) (*models.User, error) {
	var page youtubePage[YouTubeChannel]
	query := url.Values{"part": {"snippet,statistics"}, "mine": {"true"}}
	if err := y.client.get(ctx, "/channels", query, &page); err != nil {
		return nil, err
	}
	if len(page.Items) == 0 {
		return nil, shared.ErrNotFound
	}

	ch := page.Items[0]
	return &models.User{
		ID:          ch.ID,
		DisplayName: ch.Snippet.Title,
		Country:     ch.Snippet.Country,
		Followers:   atoiOrZero(ch.Statistics.SubscriberCount),
		Images:      youtubeImages(ch.Snippet.Thumbnails),
		ExternalURL: y.ArtistURL(ch.ID),
	}, nil
}

// AllPlaylists retrieves every playlist of the authenticated channel.
func (y *YouTubeProvider) AllPlaylists(ctx context.Context) ([]models.Playlist, error) {
	query := url.Values{"part": {"snippet,contentDetails,status"}, "mine": {"true"}}
	items, err := youtubePaginate[YouTubePlaylist](ctx, y.client, "/playlists", query)
	if err != nil {
		return nil, err
	}

	playlists := make([]models.Playlist, 0, len(items))
	for _, yp := range items {
		if yp.ID == "" {
			continue
		}
		playlists = append(playlists, models.Playlist{
			ID:          yp.ID,
			Name:        yp.Snippet.Title,
			Description: yp.Snippet.Description,
			OwnerID:     yp.Snippet.ChannelID,
			Public:      yp.Status.PrivacyStatus == "public",
			TrackCount:  yp.ContentDetails.ItemCount,
			Images:      youtubeImages(yp.Snippet.Thumbnails),
			ExternalURL: "https://www.youtube.com/playlist?list=" + yp.ID,
			SnapshotID:  yp.ETag,
		})
	}
	return playlists, nil
}

// OwnedPlaylists retrieves the playlists owned by the channel userID.
func (y *YouTubeProvider) OwnedPlaylists(ctx context.Context, userID string) ([]models.Playlist, error) {
	all, err := y.AllPlaylists(ctx)
	if err != nil {
		return nil, err
	}
	return filterOwned(all, userID), nil
}

// PlaylistTracks retrieves the videos of a playlist, then enriches them with durations and ratings.
func (y *YouTubeProvider) PlaylistTracks(ctx context.Context, playlistID string) ([]models.Track, error) {
	query := url.Values{"part": {"snippet,contentDetails,status"}, "playlistId": {playlistID}}
	items, err := youtubePaginate[YouTubePlaylistItem](ctx, y.client, "/playlistItems", query)
	if err != nil {
		return nil, err
	}

	tracks := make([]models.Track, 0, len(items))
	for _, item := range items {
		videoID := item.ContentDetails.VideoID
		if videoID == "" {
			videoID = item.Snippet.ResourceID.VideoID
		}
		if videoID == "" || unavailableItem(item) {
			continue
		}

		tracks = append(tracks, models.Track{
			ID:          videoID,
			Name:        item.Snippet.Title,
			TrackNumber: item.Snippet.Position + 1,
			ExternalURL: youtubeWatchURL(videoID),
			ArtistIDs:   []string{item.Snippet.VideoOwnerChannelID},
			ArtistNames: []string{channelName(item.Snippet.VideoOwnerChannelTitle)},
			Album:       models.AlbumSummary{Images: youtubeImages(item.Snippet.Thumbnails)},
		})
	}

	if err := y.enrich(ctx, tracks); err != nil {
		return nil, err
	}
	return tracks, nil
}

// SavedTracks retrieves liked videos in the music category.
func (y *YouTubeProvider) SavedTracks(ctx context.Context) ([]models.Track, error) {
	query := url.Values{"part": {"snippet,contentDetails"}, "myRating": {"like"}}
	videos, err := youtubePaginate[YouTubeVideo](ctx, y.client, "/videos", query)
	if err != nil {
		return nil, err
	}

	tracks := make([]models.Track, 0, len(videos))
	for _, v := range videos {
		if v.ID == "" || v.Snippet.ChannelID == "" {
			continue
		}
		if v.Snippet.CategoryID != "" && v.Snippet.CategoryID != youtubeMusicCategory {
			continue
		}
		tracks = append(tracks, videoTrack(v))
	}
	return tracks, nil
}

// Artists retrieves one batch of channels as detailed artists.
func (y *YouTubeProvider) Artists(ctx context.Context, ids []string) ([]models.Artist, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var page youtubePage[YouTubeChannel]
	query := url.Values{
		"part":       {"snippet,statistics,topicDetails"},
		"id":         {strings.Join(ids, ",")},
		"maxResults": {strconv.Itoa(youtubeArtistBatch)},
	}
	if err := y.client.get(ctx, "/channels", query, &page); err != nil {
		return nil, err
	}

	artists := make([]models.Artist, 0, len(page.Items))
	for _, ch := range page.Items {
		if ch.ID == "" {
			continue
		}
		artists = append(artists, models.Artist{
			ID:          ch.ID,
			Name:        channelName(ch.Snippet.Title),
			Images:      youtubeImages(ch.Snippet.Thumbnails),
			ExternalURL: y.ArtistURL(ch.ID),
			Followers:   atoiOrZero(ch.Statistics.SubscriberCount),
			Genres:      topicGenres(ch.TopicDetails.TopicCategories),
			Detailed:    true,
		})
	}
	return artists, nil
}

// enrich fills duration and explicit flags from the videos endpoint in batches.
func (y *YouTubeProvider) enrich(ctx context.Context, tracks []models.Track) error {
	index := make(map[string][]int, len(tracks))
	ids := make([]string, 0, len(tracks))
	for i, t := range tracks {
		if _, ok := index[t.ID]; !ok {
			ids = append(ids, t.ID)
		}
		index[t.ID] = append(index[t.ID], i)
	}

	for start := 0; start < len(ids); start += youtubePageSize {
		end := min(start+youtubePageSize, len(ids))

		var page youtubePage[YouTubeVideo]
		query := url.Values{"part": {"contentDetails"}, "id": {strings.Join(ids[start:end], ",")}}
		if err := y.client.get(ctx, "/videos", query, &page); err != nil {
			return err
		}

		for _, v := range page.Items {
			for _, i := range index[v.ID] {
				tracks[i].DurationMS = parseISODuration(v.ContentDetails.Duration)
				tracks[i].Explicit = v.ContentDetails.ContentRating.YTRating == "ytAgeRestricted"
			}
		}
	}
	return nil
}

// youtubePaginate follows pageToken pagination until no token is returned.
func youtubePaginate[T any](ctx context.Context, c *apiClient, path string, query url.Values) ([]T, error) {
	return paginate(ctx, func(ctx context.Context, cursor string) ([]T, string, error) {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("maxResults", strconv.Itoa(youtubePageSize))
		if cursor != "" {
			q.Set("pageToken", cursor)
		}

		var page youtubePage[T]
		if err := c.get(ctx, path, q, &page); err != nil {
			return nil, "", err
		}
		return page.Items, page.NextPageToken, nil
	})
}

// unavailableItem reports deleted or private videos, which carry no owner channel.
func unavailableItem(item YouTubePlaylistItem) bool {
	switch {
	case item.Snippet.VideoOwnerChannelID == "":
		return true
	case item.Snippet.Title == youtubeDeletedTitle, item.Snippet.Title == youtubePrivateTitle:
		return true
	case item.Status.PrivacyStatus == youtubePrivacyPrivate:
		return true
	}
	return false
}

func videoTrack(v YouTubeVideo) models.Track {
	return models.Track{
		ID:          v.ID,
		Name:        v.Snippet.Title,
		DurationMS:  parseISODuration(v.ContentDetails.Duration),
		Explicit:    v.ContentDetails.ContentRating.YTRating == "ytAgeRestricted",
		ExternalURL: youtubeWatchURL(v.ID),
		ArtistIDs:   []string{v.Snippet.ChannelID},
		ArtistNames: []string{channelName(v.Snippet.ChannelTitle)},
		Album:       models.AlbumSummary{Images: youtubeImages(v.Snippet.Thumbnails)},
	}
}

func youtubeWatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// channelName strips the " - Topic" suffix of auto-generated artist channels.
func channelName(title string) string {
	return strings.TrimSuffix(title, youtubeTopicSuffix)
}

// topicGenres turns topic category URLs such as https://en.wikipedia.org/wiki/Hip_hop_music into genres.
// The generic "Music" topic is dropped.
func topicGenres(categories []string) []string {
	genres := make([]string, 0, len(categories))
	for _, c := range categories {
		name := path.Base(c)
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}
		genre := shared.NormalizeGenre(strings.ReplaceAll(name, "_", " "))
		if genre == "" || genre == "music" {
			continue
		}
		genres = append(genres, genre)
	}
	return genres
}

func youtubeImages(thumbs YouTubeThumbnails) []models.Image {
	var images []models.Image
	for _, size := range []string{"maxres", "standard", "high", "medium", "default"} {
		if t, ok := thumbs[size]; ok && t.URL != "" {
			images = append(images, models.Image{URL: t.URL, Width: t.Width, Height: t.Height})
		}
	}
	return images
}

func atoiOrZero(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// parseISODuration converts an ISO 8601 duration such as PT1H2M3S to milliseconds. Unparseable input yields 0.
func parseISODuration(s string) int {
	d, err := duration.Parse(s)
	if err != nil {
		return 0
	}
	return int(d.ToTimeDuration().Milliseconds())
}
