package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/desertthunder/libsync/internal/models"
)

func youtubeFixture(t *testing.T, videoLookups *[]string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.URL.Path == "/channels" && q.Get("mine") == "true":
			_, _ = w.Write([]byte(`{"items":[{"id":"UC-me","snippet":{"title":"Me","country":"CA",
				"thumbnails":{"default":{"url":"https://yt/d","width":88,"height":88},"high":{"url":"https://yt/h"}}},
				"statistics":{"subscriberCount":"12"}}]}`))
		case r.URL.Path == "/channels":
			_, _ = w.Write([]byte(`{"items":[
				{"id":"UC-a","snippet":{"title":"Artist A - Topic"},"statistics":{"subscriberCount":"1000"},
					"topicDetails":{"topicCategories":["https://en.wikipedia.org/wiki/Music","https://en.wikipedia.org/wiki/Hip_hop_music","https://en.wikipedia.org/wiki/Rhythm_and_blues"]}}
				]}`))
		case r.URL.Path == "/playlists" && q.Get("pageToken") == "":
			_, _ = w.Write([]byte(`{"items":[{"id":"PL1","etag":"e1","snippet":{"title":"Mine","channelId":"UC-me"},
				"status":{"privacyStatus":"public"},"contentDetails":{"itemCount":4}}],"nextPageToken":"page2"}`))
		case r.URL.Path == "/playlists" && q.Get("pageToken") == "page2":
			_, _ = w.Write([]byte(`{"items":[{"id":"PL2","snippet":{"title":"Saved","channelId":"UC-other"},
				"status":{"privacyStatus":"private"}}]}`))
		case r.URL.Path == "/playlistItems" && q.Get("playlistId") == "PL1":
			_, _ = w.Write([]byte(`{"items":[
				{"snippet":{"title":"Song","position":0,"videoOwnerChannelId":"UC-a","videoOwnerChannelTitle":"Artist A - Topic"},
					"contentDetails":{"videoId":"v1"},"status":{"privacyStatus":"public"}},
				{"snippet":{"title":"Deleted video","position":1},"contentDetails":{"videoId":"v2"}},
				{"snippet":{"title":"Private video","position":2,"videoOwnerChannelId":"UC-x"},"contentDetails":{"videoId":"v3"},
					"status":{"privacyStatus":"private"}},
				{"snippet":{"title":"Other","position":3,"videoOwnerChannelId":"UC-b","videoOwnerChannelTitle":"Band B",
					"resourceId":{"kind":"youtube#video","videoId":"v4"}}}
				]}`))
		case r.URL.Path == "/videos" && q.Get("myRating") == "like":
			_, _ = w.Write([]byte(`{"items":[
				{"id":"v10","snippet":{"title":"Liked Song","channelId":"UC-a","channelTitle":"Artist A - Topic","categoryId":"10"},
					"contentDetails":{"duration":"PT3M30S"}},
				{"id":"v11","snippet":{"title":"Cat Video","channelId":"UC-c","channelTitle":"Cats","categoryId":"15"}},
				{"id":"v12","snippet":{"title":"Unknown Category","channelId":"UC-b","channelTitle":"Band B"},
					"contentDetails":{"contentRating":{"ytRating":"ytAgeRestricted"}}}
				]}`))
		case r.URL.Path == "/videos":
			*videoLookups = append(*videoLookups, q.Get("id"))
			_, _ = w.Write([]byte(`{"items":[
				{"id":"v1","contentDetails":{"duration":"PT4M5S"}},
				{"id":"v4","contentDetails":{"duration":"PT1H","contentRating":{"ytRating":"ytAgeRestricted"}}}
				]}`))
		default:
			t.Logf("unexpected request %s", r.URL.String())
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestYouTubeProvider(t *testing.T) {
	ctx := context.Background()
	var lookups []string
	server := youtubeFixture(t, &lookups)
	defer server.Close()

	session := NewSession(ProviderYouTube, models.Credentials{AccessToken: "token"}, nil)
	yt := NewYouTubeProvider(session, ClientOptions{BaseURL: server.URL})
	var _ Provider = yt

	t.Run("CurrentUser", func(t *testing.T) {
		user, err := yt.CurrentUser(ctx)
		if err != nil {
			t.Fatalf("CurrentUser failed: %v", err)
		}
		if user.ID != "UC-me" || user.Followers != 12 {
			t.Errorf("unexpected user: %+v", user)
		}
		if len(user.Images) != 2 || user.Images[0].URL != "https://yt/h" {
			t.Errorf("expected largest thumbnail first, got %+v", user.Images)
		}
	})

	t.Run("AllPlaylists follows page tokens", func(t *testing.T) {
		playlists, err := yt.AllPlaylists(ctx)
		if err != nil {
			t.Fatalf("AllPlaylists failed: %v", err)
		}
		if len(playlists) != 2 {
			t.Fatalf("expected 2 playlists, got %d", len(playlists))
		}
		if !playlists[0].Public || playlists[1].Public || playlists[0].SnapshotID != "e1" {
			t.Errorf("unexpected playlists: %+v", playlists)
		}
	})

	t.Run("OwnedPlaylists", func(t *testing.T) {
		playlists, err := yt.OwnedPlaylists(ctx, "UC-me")
		if err != nil {
			t.Fatalf("OwnedPlaylists failed: %v", err)
		}
		if len(playlists) != 1 || playlists[0].ID != "PL1" {
			t.Errorf("unexpected owned playlists: %+v", playlists)
		}
	})

	t.Run("PlaylistTracks drops unavailable videos and enriches", func(t *testing.T) {
		lookups = nil
		tracks, err := yt.PlaylistTracks(ctx, "PL1")
		if err != nil {
			t.Fatalf("PlaylistTracks failed: %v", err)
		}
		if len(tracks) != 2 || tracks[0].ID != "v1" || tracks[1].ID != "v4" {
			t.Fatalf("expected [v1 v4], got %+v", tracks)
		}
		if tracks[0].ArtistNames[0] != "Artist A" || tracks[0].ArtistIDs[0] != "UC-a" {
			t.Errorf("channel not mapped to artist: %+v", tracks[0])
		}
		if tracks[0].DurationMS != 245000 || tracks[1].DurationMS != 3600000 || !tracks[1].Explicit {
			t.Errorf("enrichment not applied: %+v", tracks)
		}
		if len(lookups) != 1 || lookups[0] != "v1,v4" {
			t.Errorf("expected one batched lookup, got %v", lookups)
		}
	})

	t.Run("SavedTracks keeps music videos", func(t *testing.T) {
		tracks, err := yt.SavedTracks(ctx)
		if err != nil {
			t.Fatalf("SavedTracks failed: %v", err)
		}
		if len(tracks) != 2 || tracks[0].ID != "v10" || tracks[1].ID != "v12" {
			t.Fatalf("expected [v10 v12], got %+v", tracks)
		}
		if tracks[0].DurationMS != 210000 || !tracks[1].Explicit {
			t.Errorf("unexpected saved tracks: %+v", tracks)
		}
	})

	t.Run("Artists maps topics to genres", func(t *testing.T) {
		artists, err := yt.Artists(ctx, []string{"UC-a", "UC-missing"})
		if err != nil {
			t.Fatalf("Artists failed: %v", err)
		}
		if len(artists) != 1 {
			t.Fatalf("expected 1 artist, got %d", len(artists))
		}
		a := artists[0]
		if a.Name != "Artist A" || a.Followers != 1000 || !a.Detailed {
			t.Errorf("unexpected artist: %+v", a)
		}
		if want := []string{"hip hop music", "rhythm and blues"}; !reflect.DeepEqual(a.Genres, want) {
			t.Errorf("expected genres %v, got %v", want, a.Genres)
		}
		if !strings.HasSuffix(a.ExternalURL, "/channel/UC-a") {
			t.Errorf("unexpected url %s", a.ExternalURL)
		}
	})
}

func TestTopicGenres(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"empty", nil, []string{}},
		{"drops generic music", []string{"https://en.wikipedia.org/wiki/Music"}, []string{}},
		{"escaped", []string{"https://en.wikipedia.org/wiki/Rock_%26_roll"}, []string{"rock & roll"}},
		{"mixed case", []string{"https://en.wikipedia.org/wiki/Electronic_Music"}, []string{"electronic music"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := topicGenres(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("topicGenres(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestChannelName(t *testing.T) {
	if got := channelName("Artist - Topic"); got != "Artist" {
		t.Errorf("expected suffix stripped, got %q", got)
	}
	if got := channelName("Plain"); got != "Plain" {
		t.Errorf("expected unchanged, got %q", got)
	}
}
