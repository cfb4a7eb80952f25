package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/libsync/internal/shared"
	"github.com/urfave/cli/v3"
)

// InsightsSuggest ranks playlists a liked track could join.
func (r *Runner) InsightsSuggest(ctx context.Context, cmd *cli.Command) error {
	trackID := cmd.StringArg("track")
	if trackID == "" {
		return fmt.Errorf("%w: track id", shared.ErrMissingArgument)
	}
	ns, s, err := r.libraryContext(cmd)
	if err != nil {
		return err
	}

	result, err := s.insights.SuggestPlaylistsForLikedTrack(ctx, ns, trackID)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(result, cmd.Bool("pretty"))
	}

	r.writePlainHeader(fmt.Sprintf("%s - %s", strings.Join(result.Track.ArtistNames, ", "), result.Track.Name))
	if len(result.Current) > 0 {
		names := make([]string, len(result.Current))
		for i, p := range result.Current {
			names[i] = p.Name
		}
		r.writePlain("Already in: %s\n\n", strings.Join(names, ", "))
	}
	if len(result.Suggested) == 0 {
		return r.writePlain("No playlists share a genre or artist with this track\n")
	}
	for i, sug := range result.Suggested {
		r.writePlain("%d. %s (genres %d, artists %d)\n", i+1, sug.Playlist.Name, sug.GenreOverlap, sug.ArtistOverlap)
		if len(sug.SharedGenres) > 0 {
			r.writePlain("   Genres: %s\n", strings.Join(sug.SharedGenres, ", "))
		}
	}
	return nil
}

// InsightsGenres ranks genres by cached track count.
func (r *Runner) InsightsGenres(ctx context.Context, cmd *cli.Command) error {
	ns, s, err := r.libraryContext(cmd)
	if err != nil {
		return err
	}

	genres, err := s.insights.GenreFrequency(ctx, ns, cmd.Int("limit"))
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(genres, cmd.Bool("pretty"))
	}

	for i, g := range genres {
		r.writePlain("%3d. %-30s %4d tracks  %3d artists\n", i+1, g.Genre, g.Tracks, g.Artists)
	}
	return nil
}
