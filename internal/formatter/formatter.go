// package formatter exports cached playlists to CSV, Markdown and plain text
package formatter

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/libsync/internal/models"
	"github.com/desertthunder/libsync/internal/shared"
)

// Format is an export file format.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// ParseFormat accepts csv, md/markdown and txt/text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "csv":
		return FormatCSV, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "txt", "text", "":
		return FormatText, nil
	}
	return "", fmt.Errorf("%w: export format %q", shared.ErrInvalidArgument, s)
}

// Export is a playlist with its cached tracks.
type Export struct {
	Playlist models.Playlist
	Tracks   []models.Track
}

// ExportToCSV writes one row per track with columns: ID, Name, Artists, Album, Duration, Popularity
func ExportToCSV(export *Export) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Name", "Artists", "Album", "Duration", "Popularity"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, track := range export.Tracks {
		record := []string{
			track.ID,
			track.Name,
			strings.Join(track.ArtistNames, "; "),
			track.Album.Name,
			FormatDuration(track.DurationMS),
			strconv.Itoa(track.Popularity),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown renders the playlist as a Markdown document with an optional cover image
func ExportToMarkdown(export *Export, imageFilename string) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s\n\n", export.Playlist.Name)

	if imageFilename != "" {
		fmt.Fprintf(&buf, "![Cover](%s)\n\n", imageFilename)
	}

	if export.Playlist.Description != "" {
		fmt.Fprintf(&buf, "**Description**: %s\n\n", export.Playlist.Description)
	}

	fmt.Fprintf(&buf, "**Tracks**: %d\n", len(export.Tracks))
	fmt.Fprintf(&buf, "**Visibility**: %s\n\n", visibility(export.Playlist))

	buf.WriteString("## Tracks\n\n")
	for i, track := range export.Tracks {
		albumPart := ""
		if track.Album.Name != "" {
			albumPart = fmt.Sprintf(" (%s)", track.Album.Name)
		}
		fmt.Fprintf(&buf, "%d. %s - %s%s [%s]\n",
			i+1, strings.Join(track.ArtistNames, ", "), track.Name, albumPart, FormatDuration(track.DurationMS))
	}

	return buf.Bytes(), nil
}

// ExportToText renders the playlist as a numbered plain text list
func ExportToText(export *Export) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Playlist: %s\n", export.Playlist.Name)
	if export.Playlist.Description != "" {
		fmt.Fprintf(&buf, "Description: %s\n", export.Playlist.Description)
	}
	fmt.Fprintf(&buf, "Tracks: %d\n\n", len(export.Tracks))

	for i, track := range export.Tracks {
		fmt.Fprintf(&buf, "%d. %s - %s\n", i+1, strings.Join(track.ArtistNames, ", "), track.Name)
	}

	return buf.Bytes(), nil
}

// FormatDuration renders milliseconds as m:ss.
func FormatDuration(ms int) string {
	d := time.Duration(ms) * time.Millisecond
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func visibility(p models.Playlist) string {
	switch {
	case p.Virtual:
		return "Private (liked songs)"
	case p.Public:
		return "Public"
	}
	return "Private"
}

// DownloadImage fetches an image with client and returns the raw bytes
func DownloadImage(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty image URL", shared.ErrInvalidArgument)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create image request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	return imageData, nil
}

// Writer writes exports to disk.
type Writer struct {
	// Client downloads Markdown cover images. A nil Client skips the cover.
	Client *http.Client
	// Warn receives non-fatal failures such as a cover that could not be saved.
	Warn func(msg any, keyvals ...any)
}

// Result lists the files created by [Writer.Write].
type Result struct {
	Files      []string
	CoverImage string
}

// Write exports to path in format. CSV also writes {base}_metadata.json next to the tracks file and Markdown writes
// {path}/README.md with an optional cover.jpg. An empty path defaults to the playlist ID.
func (w *Writer) Write(ctx context.Context, export *Export, format Format, path string) (*Result, error) {
	if path == "" {
		path = export.Playlist.ID
	}

	switch format {
	case FormatCSV:
		return w.writeCSV(export, path)
	case FormatMarkdown:
		return w.writeMarkdown(ctx, export, path)
	case FormatText:
		if filepath.Ext(path) == "" {
			path += "_tracks.txt"
		}
		data, err := ExportToText(export)
		if err != nil {
			return nil, fmt.Errorf("failed to generate text: %w", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("failed to write text file: %w", err)
		}
		return &Result{Files: []string{path}}, nil
	}
	return nil, fmt.Errorf("%w: export format %q", shared.ErrInvalidArgument, format)
}

func (w *Writer) writeCSV(export *Export, base string) (*Result, error) {
	base = strings.TrimSuffix(base, ".csv")

	csvData, err := ExportToCSV(export)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CSV: %w", err)
	}

	tracksFile := base + "_tracks.csv"
	if err := os.WriteFile(tracksFile, csvData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write CSV file: %w", err)
	}

	metadataJSON, err := shared.MarshalJSON(export.Playlist, true)
	if err != nil {
		return nil, fmt.Errorf("failed to generate metadata JSON: %w", err)
	}

	metadataFile := base + "_metadata.json"
	if err := os.WriteFile(metadataFile, metadataJSON, 0644); err != nil {
		return nil, fmt.Errorf("failed to write metadata file: %w", err)
	}

	return &Result{Files: []string{tracksFile, metadataFile}}, nil
}

func (w *Writer) writeMarkdown(ctx context.Context, export *Export, dir string) (*Result, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	result := &Result{}
	coverFilename := ""
	if url := coverURL(export.Playlist); url != "" && w.Client != nil {
		if data, err := DownloadImage(ctx, w.Client, url); err != nil {
			w.warn("failed to download cover image", "error", err)
		} else {
			coverPath := filepath.Join(dir, "cover.jpg")
			if err := os.WriteFile(coverPath, data, 0644); err != nil {
				w.warn("failed to save cover image", "error", err)
			} else {
				coverFilename = "cover.jpg"
				result.CoverImage = coverPath
				result.Files = append(result.Files, coverPath)
			}
		}
	}

	mdData, err := ExportToMarkdown(export, coverFilename)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Markdown: %w", err)
	}

	mdFile := filepath.Join(dir, "README.md")
	if err := os.WriteFile(mdFile, mdData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write Markdown file: %w", err)
	}
	result.Files = append(result.Files, mdFile)

	return result, nil
}

func (w *Writer) warn(msg any, keyvals ...any) {
	if w.Warn != nil {
		w.Warn(msg, keyvals...)
	}
}

func coverURL(p models.Playlist) string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0].URL
}
