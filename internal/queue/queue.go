// Package queue exposes the download and conversion work queues as ordered,
// circular views over the video records.
package queue

import (
	"context"
	"fmt"

	"github.com/jmylchreest/segmentarr/internal/models"
	"github.com/jmylchreest/segmentarr/internal/repository"
)

// Kind names a queue.
type Kind string

const (
	KindDownload   Kind = "download"
	KindConversion Kind = "conversion"
)

// Queue is the ordered set of records eligible for one kind of work. Order
// is (created_at, id) ascending and Next wraps past the end.
type Queue struct {
	kind     Kind
	repo     repository.VideoRepository
	eligible repository.VideoFilter
	ongoing  repository.VideoFilter
	// closed queues never hold anything.
	closed bool
}

// NewDownloadQueue returns the queue of records with a link but no source file.
// A record is being worked on while its link carries the downloading marker.
func NewDownloadQueue(repo repository.VideoRepository) *Queue {
	eligible := repository.VideoFilter{AwaitingDownload: true}
	ongoing := eligible
	ongoing.Downloading = true
	return &Queue{kind: KindDownload, repo: repo, eligible: eligible, ongoing: ongoing}
}

// NewConversionQueue returns the queue of records missing an enabled output
// format. With no format enabled the queue is always empty. A record is being
// worked on while it holds a process id.
func NewConversionQueue(repo repository.VideoRepository, allowHLS, allowDASH bool) *Queue {
	eligible := repository.VideoFilter{MissingHLS: allowHLS, MissingDASH: allowDASH}
	ongoing := eligible
	ongoing.Processing = true
	return &Queue{
		kind:     KindConversion,
		repo:     repo,
		eligible: eligible,
		ongoing:  ongoing,
		closed:   !allowHLS && !allowDASH,
	}
}

// Kind returns the queue kind.
func (q *Queue) Kind() Kind {
	return q.kind
}

// Front returns the earliest eligible record, nil when the queue is empty.
func (q *Queue) Front(ctx context.Context) (*models.VideoStream, error) {
	if q.closed {
		return nil, nil
	}
	v, err := q.repo.First(ctx, q.eligible, nil)
	if err != nil {
		return nil, fmt.Errorf("%s queue front: %w", q.kind, err)
	}
	return v, nil
}

// Ongoing returns the earliest eligible record currently being worked on.
func (q *Queue) Ongoing(ctx context.Context) (*models.VideoStream, error) {
	if q.closed {
		return nil, nil
	}
	v, err := q.repo.First(ctx, q.ongoing, nil)
	if err != nil {
		return nil, fmt.Errorf("%s queue ongoing: %w", q.kind, err)
	}
	return v, nil
}

// Next returns the first eligible record strictly after current, wrapping
// to Front. Only current's position is used, so it may have left the queue
// or been deleted. Nil when the queue is empty.
func (q *Queue) Next(ctx context.Context, current *models.VideoStream) (*models.VideoStream, error) {
	if q.closed {
		return nil, nil
	}
	if current == nil {
		return q.Front(ctx)
	}

	cursor := repository.CursorOf(current)
	v, err := q.repo.First(ctx, q.eligible, &cursor)
	if err != nil {
		return nil, fmt.Errorf("%s queue next: %w", q.kind, err)
	}
	if v != nil {
		return v, nil
	}
	return q.Front(ctx)
}

// Eligible lists the whole queue in order.
func (q *Queue) Eligible(ctx context.Context) ([]*models.VideoStream, error) {
	if q.closed {
		return nil, nil
	}
	videos, err := q.repo.Find(ctx, q.eligible)
	if err != nil {
		return nil, fmt.Errorf("%s queue listing: %w", q.kind, err)
	}
	return videos, nil
}

// Busy reports whether a record of this queue is being worked on.
func (q *Queue) Busy(ctx context.Context) (bool, error) {
	if q.closed {
		return false, nil
	}
	busy, err := q.repo.Exists(ctx, q.ongoing)
	if err != nil {
		return false, fmt.Errorf("%s queue busy: %w", q.kind, err)
	}
	return busy, nil
}
