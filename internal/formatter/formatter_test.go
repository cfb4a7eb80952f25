package formatter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/desertthunder/libsync/internal/models"
	"github.com/desertthunder/libsync/internal/shared"
	th "github.com/desertthunder/libsync/internal/testing"
)

func testExport() *Export {
	return &Export{
		Playlist: models.Playlist{
			ID:          "p1",
			Name:        "Road Trip",
			Description: "Long drives",
			Public:      true,
			TrackCount:  2,
		},
		Tracks: []models.Track{
			{
				ID:          "t1",
				Name:        "One",
				DurationMS:  185000,
				Popularity:  70,
				ArtistNames: []string{"Artist A", "Artist B"},
				Album:       models.AlbumSummary{Name: "First"},
			},
			{
				ID:          "t2",
				Name:        "Two, Again",
				DurationMS:  61000,
				ArtistNames: []string{"Artist C"},
			},
		},
	}
}

func TestExporters(t *testing.T) {
	t.Run("ExportToCSV", func(t *testing.T) {
		data, err := ExportToCSV(testExport())
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}

		output := string(data)
		for _, want := range []string{
			"ID,Name,Artists,Album,Duration,Popularity",
			"t1,One,Artist A; Artist B,First,3:05,70",
			`t2,"Two, Again",Artist C,,1:01,0`,
		} {
			if !strings.Contains(output, want) {
				t.Errorf("CSV missing %q, got:\n%s", want, output)
			}
		}
	})

	t.Run("ExportToMarkdown", func(t *testing.T) {
		data, err := ExportToMarkdown(testExport(), "cover.jpg")
		if err != nil {
			t.Fatalf("ExportToMarkdown failed: %v", err)
		}

		output := string(data)
		for _, want := range []string{
			"# Road Trip",
			"![Cover](cover.jpg)",
			"**Description**: Long drives",
			"**Tracks**: 2",
			"**Visibility**: Public",
			"1. Artist A, Artist B - One (First) [3:05]",
			"2. Artist C - Two, Again [1:01]",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("Markdown missing %q, got:\n%s", want, output)
			}
		}
	})

	t.Run("ExportToMarkdown liked songs", func(t *testing.T) {
		export := &Export{Playlist: models.NewLikedSongsPlaylist("u1", 0)}
		data, _ := ExportToMarkdown(export, "")

		if strings.Contains(string(data), "![Cover]") {
			t.Error("no cover expected without an image")
		}
		if !strings.Contains(string(data), "liked songs") {
			t.Errorf("expected liked songs visibility, got:\n%s", data)
		}
	})

	t.Run("ExportToText", func(t *testing.T) {
		data, err := ExportToText(testExport())
		if err != nil {
			t.Fatalf("ExportToText failed: %v", err)
		}

		output := string(data)
		if !strings.HasPrefix(output, "Playlist: Road Trip\nDescription: Long drives\nTracks: 2\n\n") {
			t.Errorf("unexpected header:\n%s", output)
		}
		if !strings.Contains(output, "2. Artist C - Two, Again\n") {
			t.Errorf("missing track line:\n%s", output)
		}
	})
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input string
		want  Format
	}{
		{"csv", FormatCSV},
		{"MD", FormatMarkdown},
		{"markdown", FormatMarkdown},
		{"txt", FormatText},
		{"", FormatText},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if err != nil || got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, %v", tt.input, got, err)
			}
		})
	}

	if _, err := ParseFormat("xml"); !errors.Is(err, shared.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestFormatDuration(t *testing.T) {
	for ms, want := range map[int]string{0: "0:00", 59999: "0:59", 60000: "1:00", 3723000: "62:03"} {
		if got := FormatDuration(ms); got != want {
			t.Errorf("FormatDuration(%d) = %q, want %q", ms, got, want)
		}
	}
}

func TestWriter(t *testing.T) {
	ctx := context.Background()

	t.Run("csv writes tracks and metadata", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "roadtrip.csv")
		w := &Writer{}

		result, err := w.Write(ctx, testExport(), FormatCSV, base)
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if len(result.Files) != 2 {
			t.Fatalf("expected 2 files, got %v", result.Files)
		}

		dir := filepath.Dir(base)
		th.AssertFileExists(t, filepath.Join(dir, "roadtrip_tracks.csv"))
		metadata := th.MustReadFile(t, filepath.Join(dir, "roadtrip_metadata.json"))
		if !strings.Contains(metadata, `"name": "Road Trip"`) {
			t.Errorf("metadata missing name: %s", metadata)
		}
	})

	t.Run("text defaults its extension", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "p1")

		result, err := (&Writer{}).Write(ctx, testExport(), FormatText, base)
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if result.Files[0] != base+"_tracks.txt" {
			t.Errorf("unexpected file %s", result.Files[0])
		}
	})

	t.Run("markdown downloads the cover", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("jpeg-bytes"))
		}))
		defer srv.Close()

		export := testExport()
		export.Playlist.Images = []models.Image{{URL: srv.URL + "/cover"}}
		dir := filepath.Join(t.TempDir(), "roadtrip")

		result, err := (&Writer{Client: srv.Client()}).Write(ctx, export, FormatMarkdown, dir)
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if result.CoverImage != filepath.Join(dir, "cover.jpg") {
			t.Errorf("cover = %q", result.CoverImage)
		}
		if got := th.MustReadFile(t, result.CoverImage); got != "jpeg-bytes" {
			t.Errorf("cover contents = %q", got)
		}
		if !strings.Contains(th.MustReadFile(t, filepath.Join(dir, "README.md")), "![Cover](cover.jpg)") {
			t.Error("README should reference the cover")
		}
	})

	t.Run("markdown keeps going when the cover fails", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		export := testExport()
		export.Playlist.Images = []models.Image{{URL: srv.URL}}
		dir := filepath.Join(t.TempDir(), "roadtrip")

		var warned []any
		w := &Writer{Client: srv.Client(), Warn: func(msg any, _ ...any) { warned = append(warned, msg) }}
		result, err := w.Write(ctx, export, FormatMarkdown, dir)
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if result.CoverImage != "" || len(warned) != 1 {
			t.Errorf("expected a warning and no cover, got %q %v", result.CoverImage, warned)
		}
		if _, err := os.Stat(filepath.Join(dir, "README.md")); err != nil {
			t.Errorf("README not written: %v", err)
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		if _, err := (&Writer{}).Write(ctx, testExport(), Format("xml"), t.TempDir()); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestDownloadImage(t *testing.T) {
	if _, err := DownloadImage(context.Background(), nil, ""); err == nil {
		t.Error("expected error for empty URL")
	}

	client := &http.Client{Transport: th.NewMockRoundTripper(&http.Response{
		StatusCode: http.StatusOK,
		Body:       &th.FCloser{},
	}, nil)}
	if _, err := DownloadImage(context.Background(), client, "http://example.test/a.jpg"); err == nil || !strings.Contains(err.Error(), "failed to read image data") {
		t.Errorf("expected read error, got %v", err)
	}
}
