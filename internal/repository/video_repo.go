package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/segmentarr/internal/models"
)

// videoRepo implements VideoRepository using GORM.
type videoRepo struct {
	db *gorm.DB
}

// NewVideoRepository creates a new VideoRepository.
func NewVideoRepository(db *gorm.DB) *videoRepo {
	return &videoRepo{db: db}
}

// Create stores a new video stream.
func (r *videoRepo) Create(ctx context.Context, video *models.VideoStream) error {
	if err := r.db.WithContext(ctx).Create(video).Error; err != nil {
		return fmt.Errorf("creating video stream: %w", err)
	}
	return nil
}

// GetByID retrieves a video stream by ID.
func (r *videoRepo) GetByID(ctx context.Context, id models.ULID) (*models.VideoStream, error) {
	var video models.VideoStream
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&video).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting video stream by ID: %w", err)
	}
	return &video, nil
}

// GetByTitle retrieves a video stream by title.
func (r *videoRepo) GetByTitle(ctx context.Context, title string) (*models.VideoStream, error) {
	var video models.VideoStream
	if err := r.db.WithContext(ctx).Where("title = ?", title).First(&video).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting video stream by title: %w", err)
	}
	return &video, nil
}

// Update updates an existing video stream.
func (r *videoRepo) Update(ctx context.Context, video *models.VideoStream) error {
	if err := r.db.WithContext(ctx).Save(video).Error; err != nil {
		return fmt.Errorf("updating video stream: %w", err)
	}
	return nil
}

// UpdateFields updates selected columns of a video stream.
func (r *videoRepo) UpdateFields(ctx context.Context, id models.ULID, fields map[string]any) error {
	err := r.db.WithContext(ctx).
		Model(&models.VideoStream{}).
		Where("id = ?", id).
		Updates(fields).Error
	if err != nil {
		return fmt.Errorf("updating video stream fields: %w", err)
	}
	return nil
}

// Delete soft-deletes a video stream by ID.
func (r *videoRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.VideoStream{}).Error; err != nil {
		return fmt.Errorf("deleting video stream: %w", err)
	}
	return nil
}

// SetProcessID attaches or clears the process id.
func (r *videoRepo) SetProcessID(ctx context.Context, id models.ULID, pid *int) error {
	err := r.db.WithContext(ctx).
		Model(&models.VideoStream{}).
		Where("id = ?", id).
		Update("process_id", pid).Error
	if err != nil {
		return fmt.Errorf("setting process id: %w", err)
	}
	return nil
}

// AppendRemark reads the current log and appends to it in one transaction so
// concurrent writers do not drop entries.
func (r *videoRepo) AppendRemark(ctx context.Context, id models.ULID, at time.Time, text string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var video models.VideoStream
		if err := tx.Select("id", "remarks").Where("id = ?", id).First(&video).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("loading remarks: %w", err)
		}
		video.AddRemark(at, text)
		if err := tx.Model(&models.VideoStream{}).Where("id = ?", id).Update("remarks", video.Remarks).Error; err != nil {
			return fmt.Errorf("appending remark: %w", err)
		}
		return nil
	})
}

// Find lists matching video streams in queue order.
func (r *videoRepo) Find(ctx context.Context, f VideoFilter) ([]*models.VideoStream, error) {
	var videos []*models.VideoStream
	if err := r.filtered(ctx, f).Order("created_at ASC, id ASC").Find(&videos).Error; err != nil {
		return nil, fmt.Errorf("finding video streams: %w", err)
	}
	return videos, nil
}

// First returns the first matching video stream after the cursor.
func (r *videoRepo) First(ctx context.Context, f VideoFilter, after *Cursor) (*models.VideoStream, error) {
	query := r.filtered(ctx, f)
	if after != nil {
		query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))", after.CreatedAt, after.CreatedAt, after.ID)
	}

	var video models.VideoStream
	if err := query.Order("created_at ASC, id ASC").First(&video).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting first video stream: %w", err)
	}
	return &video, nil
}

// Exists reports whether any video stream matches.
func (r *videoRepo) Exists(ctx context.Context, f VideoFilter) (bool, error) {
	var count int64
	if err := r.filtered(ctx, f).Model(&models.VideoStream{}).Limit(1).Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking video streams: %w", err)
	}
	return count > 0, nil
}

func (r *videoRepo) filtered(ctx context.Context, f VideoFilter) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&models.VideoStream{})
	if f.AwaitingDownload {
		query = query.Where("(file IS NULL OR file = '') AND file_url IS NOT NULL AND file_url <> ''")
	}
	if f.Downloading {
		query = query.Where("UPPER(file_url) LIKE ?", "%"+models.DownloadingToken+"%")
	}
	switch {
	case f.MissingHLS && f.MissingDASH:
		query = query.Where("(hls_ready = ? OR dash_ready = ?)", false, false)
	case f.MissingHLS:
		query = query.Where("hls_ready = ?", false)
	case f.MissingDASH:
		query = query.Where("dash_ready = ?", false)
	}
	if f.Processing {
		query = query.Where("process_id IS NOT NULL")
	}
	return query
}
