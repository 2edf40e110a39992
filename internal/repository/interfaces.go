// Package repository defines data access interfaces for segmentarr records.
// All database access goes through these interfaces, so the conversion core
// can be tested against fakes.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/segmentarr/internal/models"
)

// Cursor is a position in the (created_at, id) order shared by every queue.
type Cursor struct {
	CreatedAt time.Time
	ID        models.ULID
}

// CursorOf returns the queue position of a record.
func CursorOf(v *models.VideoStream) Cursor {
	return Cursor{CreatedAt: v.CreatedAt, ID: v.ID}
}

// Less reports whether c sorts before other.
func (c Cursor) Less(other Cursor) bool {
	if !c.CreatedAt.Equal(other.CreatedAt) {
		return c.CreatedAt.Before(other.CreatedAt)
	}
	return c.ID.Compare(other.ID) < 0
}

// VideoFilter selects a subset of video streams. Set fields are AND-ed
// together, except MissingHLS and MissingDASH which are OR-ed with each other.
// The zero filter selects everything.
type VideoFilter struct {
	// AwaitingDownload selects records with a link but no source file.
	AwaitingDownload bool
	// Downloading selects records whose link carries the in-progress marker.
	Downloading bool
	// MissingHLS selects records whose HLS output is not ready.
	MissingHLS bool
	// MissingDASH selects records whose DASH output is not ready.
	MissingDASH bool
	// Processing selects records holding a process id.
	Processing bool
}

// VideoRepository defines operations for video stream persistence.
// Soft-deleted records are invisible to every method.
type VideoRepository interface {
	// Create stores a new video stream.
	Create(ctx context.Context, video *models.VideoStream) error
	// GetByID returns the record, or nil if it does not exist.
	GetByID(ctx context.Context, id models.ULID) (*models.VideoStream, error)
	// GetByTitle returns the record with the given title, or nil.
	GetByTitle(ctx context.Context, title string) (*models.VideoStream, error)
	// Update saves every column of the record.
	Update(ctx context.Context, video *models.VideoStream) error
	// UpdateFields updates the named columns only.
	UpdateFields(ctx context.Context, id models.ULID, fields map[string]any) error
	// Delete soft-deletes a record.
	Delete(ctx context.Context, id models.ULID) error
	// SetProcessID stores the pid of the attached process; nil clears it.
	SetProcessID(ctx context.Context, id models.ULID, pid *int) error
	// AppendRemark adds a timestamped entry to the remark log. A missing
	// record is not an error.
	AppendRemark(ctx context.Context, id models.ULID, at time.Time, text string) error

	// Find lists the records matching f in queue order.
	Find(ctx context.Context, f VideoFilter) ([]*models.VideoStream, error)
	// First returns the first record matching f strictly after the cursor,
	// or the first overall when after is nil. Nil when there is none.
	First(ctx context.Context, f VideoFilter, after *Cursor) (*models.VideoStream, error)
	// Exists reports whether any record matches f.
	Exists(ctx context.Context, f VideoFilter) (bool, error)
}
