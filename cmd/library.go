package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/desertthunder/libsync/internal/formatter"
	"github.com/desertthunder/libsync/internal/models"
	"github.com/desertthunder/libsync/internal/shared"
	"github.com/urfave/cli/v3"
)

// LibraryUser prints the synced profile.
func (r *Runner) LibraryUser(ctx context.Context, cmd *cli.Command) error {
	ns, s, err := r.libraryContext(cmd)
	if err != nil {
		return err
	}

	user, err := s.library.ReadUser(ctx, ns)
	if err != nil {
		return notSynced(err, ns)
	}
	if cmd.Bool("json") {
		return r.writeJSON(user, cmd.Bool("pretty"))
	}

	r.writePlain("%s (%s)\n", user.DisplayName, user.ID)
	r.writePlain("Followers: %d\n", user.Followers)
	if user.Country != "" {
		r.writePlain("Country:   %s\n", user.Country)
	}
	if user.ExternalURL != "" {
		r.writePlain("URL:       %s\n", user.ExternalURL)
	}
	return nil
}

// LibraryPlaylists lists cached playlists, liked songs first.
func (r *Runner) LibraryPlaylists(ctx context.Context, cmd *cli.Command) error {
	ns, s, err := r.libraryContext(cmd)
	if err != nil {
		return err
	}

	playlists, err := s.library.ReadUserPlaylists(ctx, ns)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(playlists, cmd.Bool("pretty"))
	}

	r.writePlain("Found %d playlists:\n\n", len(playlists))
	for i, p := range playlists {
		r.writePlain("%d. %s [%s]\n", i+1, p.Name, p.ID)
		r.writePlain("   Tracks: %d\n", p.TrackCount)
		if p.Description != "" {
			r.writePlain("   Description: %s\n", p.Description)
		}
	}
	return nil
}

// LibraryTracks lists every cached track, or one playlist's tracks in provider order.
func (r *Runner) LibraryTracks(ctx context.Context, cmd *cli.Command) error {
	ns, s, err := r.libraryContext(cmd)
	if err != nil {
		return err
	}

	var tracks []models.Track
	title := "All tracks"
	if id := cmd.String("playlist"); id != "" {
		p, err := s.library.ReadPlaylist(ctx, ns, id)
		if err != nil {
			return err
		}
		title = p.Name
		tracks, err = s.library.ReadPlaylistTracks(ctx, ns, id)
		if err != nil {
			return err
		}
	} else {
		tracks, err = s.library.ReadAllUserTracks(ctx, ns)
		if err != nil {
			return err
		}
	}

	if cmd.Bool("json") {
		return r.writeJSON(tracks, cmd.Bool("pretty"))
	}

	r.writePlainHeader(fmt.Sprintf("%s (%d)", title, len(tracks)))
	for i, t := range tracks {
		r.writePlain("%3d. %s - %s (%s)\n", i+1, strings.Join(t.ArtistNames, ", "), t.Name, formatter.FormatDuration(t.DurationMS))
	}
	return nil
}

// LibraryExport writes one cached playlist to disk as CSV, Markdown or plain text.
func (r *Runner) LibraryExport(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("playlist")
	if id == "" {
		return fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	ns, s, err := r.libraryContext(cmd)
	if err != nil {
		return err
	}
	p, err := s.library.ReadPlaylist(ctx, ns, id)
	if err != nil {
		return notSynced(err, ns)
	}
	tracks, err := s.library.ReadPlaylistTracks(ctx, ns, id)
	if err != nil {
		return err
	}

	w := &formatter.Writer{Warn: r.logger.Warn}
	if !cmd.Bool("no-cover") {
		w.Client = &http.Client{Timeout: 30 * time.Second}
	}
	result, err := w.Write(ctx, &formatter.Export{Playlist: *p, Tracks: tracks}, format, cmd.String("output"))
	if err != nil {
		return err
	}

	r.writePlain("✓ Exported %s (%d tracks)\n", p.Name, len(tracks))
	for _, f := range result.Files {
		r.writePlain("  %s\n", f)
	}
	return nil
}

// LibraryArtists lists cached artists by track count.
func (r *Runner) LibraryArtists(ctx context.Context, cmd *cli.Command) error {
	ns, s, err := r.libraryContext(cmd)
	if err != nil {
		return err
	}

	artists, err := s.library.ReadAllArtists(ctx, ns)
	if err != nil {
		return err
	}
	if limit := cmd.Int("limit"); limit > 0 && limit < len(artists) {
		artists = artists[:limit]
	}
	if cmd.Bool("json") {
		return r.writeJSON(artists, cmd.Bool("pretty"))
	}

	for i, a := range artists {
		r.writePlain("%3d. %s (%d tracks)", i+1, a.Name, a.TrackCount)
		if len(a.Genres) > 0 {
			r.writePlain(" - %s", strings.Join(a.Genres, ", "))
		}
		r.writePlain("\n")
	}
	return nil
}

// LibraryStatus reports the last completed sync and whether one is in progress.
func (r *Runner) LibraryStatus(ctx context.Context, cmd *cli.Command) error {
	ns, s, err := r.libraryContext(cmd)
	if err != nil {
		return err
	}

	status, syncing, err := s.coord.LibraryStatus(ctx, ns)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(struct {
			Namespace string `json:"namespace"`
			models.SyncStatus
			Syncing bool `json:"syncing"`
		}{ns.String(), status, syncing}, cmd.Bool("pretty"))
	}

	r.writePlain("Namespace: %s\n", ns)
	switch {
	case syncing:
		r.writePlain("Status:    syncing\n")
	case status.Synced:
		r.writePlain("Status:    synced\n")
	default:
		r.writePlain("Status:    never synced\n")
	}
	if status.Metadata != nil {
		meta := status.Metadata
		r.writePlain("Last sync: %s\n", meta.LastSync.Local().Format(time.DateTime))
		r.writePlain("Playlists: %d\nTracks:    %d\nArtists:   %d\n", meta.Playlists, meta.Tracks, meta.Artists)
	}
	return nil
}

// LibraryDelete removes the cached library of the namespace.
func (r *Runner) LibraryDelete(ctx context.Context, cmd *cli.Command) error {
	ns, s, err := r.libraryContext(cmd)
	if err != nil {
		return err
	}

	n, err := s.coord.DeleteLibrary(ctx, ns)
	if err != nil {
		return err
	}
	return r.writePlain("✓ Deleted %d keys for %s\n", n, ns)
}

func (r *Runner) libraryContext(cmd *cli.Command) (models.Namespace, *stores, error) {
	ns, err := r.namespace(cmd)
	if err != nil {
		return ns, nil, err
	}
	s, err := r.open()
	return ns, s, err
}

func notSynced(err error, ns models.Namespace) error {
	if errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("%w: %s has not been synced, run 'libsync sync start'", shared.ErrNotFound, ns)
	}
	return err
}
