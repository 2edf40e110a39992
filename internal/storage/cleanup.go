package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/segmentarr/internal/models"
	"github.com/jmylchreest/segmentarr/internal/segmenter"
)

// Cleanup modes accepted by NewCleanup.
const (
	CleanupRemove = "remove"
	CleanupNone   = "none"
)

// Cleanup removes the files of a video that is going away.
type Cleanup interface {
	Cleanup(ctx context.Context, video *models.VideoStream) error
}

// NewCleanup returns the cleanup for mode. Remove mode needs the stores the
// files live in; paths outside them are left alone.
func NewCleanup(mode string, media, hls, dash *Store, layout segmenter.Layout, logger *slog.Logger) (Cleanup, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch mode {
	case "", CleanupRemove:
		return &RemoveFiles{media: media, hls: hls, dash: dash, layout: layout, logger: logger}, nil
	case CleanupNone:
		return NoCleanup{}, nil
	default:
		return nil, fmt.Errorf("unknown file cleanup mode %q", mode)
	}
}

// NoCleanup keeps every file.
type NoCleanup struct{}

// Cleanup implements Cleanup.
func (NoCleanup) Cleanup(context.Context, *models.VideoStream) error { return nil }

// RemoveFiles deletes the outputs, source and thumbnail of a video.
type RemoveFiles struct {
	media  *Store
	hls    *Store
	dash   *Store
	layout segmenter.Layout
	logger *slog.Logger
}

// Cleanup implements Cleanup. Output directories are removed only for
// formats marked ready. Every removal is attempted; errors are joined.
func (r *RemoveFiles) Cleanup(ctx context.Context, video *models.VideoStream) error {
	var errs []error
	remove := func(store *Store, path string, tree bool) {
		if store == nil || path == "" {
			return
		}
		var err error
		if tree {
			err = store.RemoveAll(path)
		} else {
			err = store.Remove(path)
		}
		if errors.Is(err, ErrOutsideStore) {
			r.logger.DebugContext(ctx, "leaving file outside managed storage", slog.String("path", path))
			return
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	if video.HLSReady {
		remove(r.hls, r.layout.HLSDir(video), true)
	}
	if video.DASHReady {
		remove(r.dash, r.layout.DASHDir(video), true)
	}
	remove(r.media, video.FilePath(), false)
	if video.Thumbnail != nil {
		remove(r.media, *video.Thumbnail, false)
	}
	return errors.Join(errs...)
}
