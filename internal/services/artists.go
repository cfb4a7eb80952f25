package services

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/libsync/internal/metrics"
	"github.com/desertthunder/libsync/internal/models"
	"github.com/desertthunder/libsync/internal/shared"
)

// ArtistBatchFunc receives each artist batch as it is fetched. done counts processed batches including skipped
// ones; artists is nil for a skipped batch.
type ArtistBatchFunc func(done, total int, artists []models.Artist) error

// FetchArtists looks up ids in [Provider.ArtistBatchSize] batches, calling fn after every batch.
//
// A failed batch is logged and skipped. Auth failures (after the session's refresh attempt), context cancellation
// and errors returned by fn abort the fetch. It returns the number of skipped batches.
func FetchArtists(ctx context.Context, p Provider, ids []string, logger *log.Logger, fn ArtistBatchFunc) (int, error) {
	size := p.ArtistBatchSize()
	if size <= 0 {
		size = 1
	}

	batches := (len(ids) + size - 1) / size
	skipped := 0

	for b := range batches {
		start, end := b*size, min((b+1)*size, len(ids))

		artists, err := p.Artists(ctx, ids[start:end])
		if err != nil {
			if errors.Is(err, shared.ErrAuthFailed) || ctx.Err() != nil {
				return skipped, err
			}
			logger.Warn("skipping artist batch", "provider", p.Name(), "batch", b+1, "of", batches, "error", err)
			metrics.ArtistBatchesSkipped.WithLabelValues(p.Name()).Inc()
			skipped++
			artists = nil
		}

		if err := fn(b+1, batches, artists); err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}
