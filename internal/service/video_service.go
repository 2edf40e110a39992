// Package service provides business logic layer for segmentarr operations.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/segmentarr/internal/download"
	"github.com/jmylchreest/segmentarr/internal/models"
	"github.com/jmylchreest/segmentarr/internal/progress"
	"github.com/jmylchreest/segmentarr/internal/queue"
	"github.com/jmylchreest/segmentarr/internal/repository"
	"github.com/jmylchreest/segmentarr/internal/scheduler"
	"github.com/jmylchreest/segmentarr/internal/storage"
)

var (
	// ErrNotFound is returned when a video does not exist.
	ErrNotFound = errors.New("video not found")
	// ErrDuplicateTitle is returned when another video already uses the title.
	ErrDuplicateTitle = errors.New("a video with this title already exists")
)

// QueueStatus summarises one queue.
type QueueStatus struct {
	Kind    queue.Kind          `json:"kind"`
	Length  int                 `json:"length"`
	Ongoing *models.VideoStream `json:"ongoing,omitempty"`
}

// ImportResult lists what an import created and skipped.
type ImportResult struct {
	Created []string `json:"created"`
	Skipped []string `json:"skipped"`
}

// VideoService provides business logic for video stream management.
type VideoService struct {
	repo        repository.VideoRepository
	media       *storage.Store
	cleanup     storage.Cleanup
	tracker     *progress.Tracker
	conversions *queue.Queue
	downloads   *queue.Queue
	dispatcher  scheduler.Dispatcher

	videoExts      []string
	thumbnailExts  []string
	autoConversion bool

	logger *slog.Logger
}

// NewVideoService creates a new video service.
func NewVideoService(repo repository.VideoRepository, media *storage.Store, cleanup storage.Cleanup) *VideoService {
	if cleanup == nil {
		cleanup = storage.NoCleanup{}
	}
	return &VideoService{
		repo:           repo,
		media:          media,
		cleanup:        cleanup,
		dispatcher:     noDispatch{},
		videoExts:      []string{"mp4", "m4v"},
		thumbnailExts:  []string{"gif", "jpg", "jpeg", "png", "webp"},
		autoConversion: true,
		logger:         slog.Default(),
	}
}

// WithLogger sets the logger for the service.
func (s *VideoService) WithLogger(logger *slog.Logger) *VideoService {
	s.logger = logger
	return s
}

// WithDispatcher sets where conversion and download jobs are sent.
func (s *VideoService) WithDispatcher(d scheduler.Dispatcher) *VideoService {
	s.dispatcher = d
	return s
}

// WithQueues sets the queues reported by Queues.
func (s *VideoService) WithQueues(conversions, downloads *queue.Queue) *VideoService {
	s.conversions = conversions
	s.downloads = downloads
	return s
}

// WithTracker sets the progress tracker.
func (s *VideoService) WithTracker(t *progress.Tracker) *VideoService {
	s.tracker = t
	return s
}

// WithExtensions sets the accepted source and thumbnail extensions.
func (s *VideoService) WithExtensions(video, thumbnail []string) *VideoService {
	s.videoExts = video
	s.thumbnailExts = thumbnail
	return s
}

// WithAutoConversion controls whether new sources trigger a queue check.
func (s *VideoService) WithAutoConversion(enabled bool) *VideoService {
	s.autoConversion = enabled
	return s
}

// Create validates and stores a new video stream.
func (s *VideoService) Create(ctx context.Context, video *models.VideoStream) error {
	if err := s.create(ctx, video); err != nil {
		return err
	}
	s.nudge(video)
	return nil
}

func (s *VideoService) create(ctx context.Context, video *models.VideoStream) error {
	if err := video.Validate(s.videoExts, s.thumbnailExts); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	existing, err := s.repo.GetByTitle(ctx, video.Title)
	if err != nil {
		return fmt.Errorf("checking title: %w", err)
	}
	if existing != nil {
		return ErrDuplicateTitle
	}

	if err := s.repo.Create(ctx, video); err != nil {
		return fmt.Errorf("creating video: %w", err)
	}

	s.logger.Info("created video stream",
		"id", video.ID.String(),
		"title", video.Title,
		"has_file", video.HasFile(),
		"has_link", video.HasLink(),
	)
	return nil
}

// Enqueue creates a video from a local file or an http(s) link. Local files
// are copied into media storage. An empty title is taken from the source name.
func (s *VideoService) Enqueue(ctx context.Context, title, source string) (*models.VideoStream, error) {
	video := &models.VideoStream{Title: title}

	if u, err := url.Parse(source); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		if video.Title == "" {
			video.Title = stem(path.Base(u.Path))
		}
		video.FileURL = models.StringPtr(source)
		if err := s.Create(ctx, video); err != nil {
			return nil, err
		}
		return video, nil
	}

	if video.Title == "" {
		video.Title = stem(filepath.Base(source))
	}
	if !models.HasExtension(source, s.videoExts) {
		return nil, fmt.Errorf("validation failed: %w", models.ErrValidation{
			Field:   "file",
			Message: "unsupported video extension " + filepath.Ext(source),
		})
	}
	if existing, err := s.repo.GetByTitle(ctx, video.Title); err != nil {
		return nil, fmt.Errorf("checking title: %w", err)
	} else if existing != nil {
		return nil, ErrDuplicateTitle
	}

	stored, err := s.store(source)
	if err != nil {
		return nil, err
	}
	video.File = models.StringPtr(stored)
	if err := s.Create(ctx, video); err != nil {
		_ = s.media.Remove(stored)
		return nil, err
	}
	return video, nil
}

// Import creates a video for every supported file directly inside dir.
// Titles are the file names without extension; titles already in use are
// skipped.
func (s *VideoService) Import(ctx context.Context, dir string) (*ImportResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("directory does not exist: %s: %w", dir, err)
	}

	result := &ImportResult{Created: []string{}, Skipped: []string{}}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if !models.HasExtension(name, s.videoExts) {
			result.Skipped = append(result.Skipped, name)
			continue
		}

		title := stem(name)
		existing, err := s.repo.GetByTitle(ctx, title)
		if err != nil {
			return result, fmt.Errorf("checking title: %w", err)
		}
		if existing != nil {
			s.logger.Warn("skipped duplicate", "title", title)
			result.Skipped = append(result.Skipped, name)
			continue
		}

		stored, err := s.store(filepath.Join(dir, name))
		if err != nil {
			return result, err
		}
		video := &models.VideoStream{Title: title, File: models.StringPtr(stored)}
		if err := s.create(ctx, video); err != nil {
			_ = s.media.Remove(stored)
			return result, err
		}
		result.Created = append(result.Created, title)
	}

	s.logger.Info("import finished",
		"directory", dir,
		"created", len(result.Created),
		"skipped", len(result.Skipped),
	)
	if len(result.Created) > 0 && s.autoConversion {
		s.dispatcher.Dispatch(scheduler.Job{Kind: queue.KindConversion})
	}
	return result, nil
}

// store copies a local file into media storage.
func (s *VideoService) store(src string) (string, error) {
	if s.media == nil {
		return "", errors.New("media storage not configured")
	}
	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening source file: %w", err)
	}
	defer f.Close()

	stored, err := s.media.WriteReader(path.Join(download.VideoDir, filepath.Base(src)), f)
	if err != nil {
		return "", fmt.Errorf("saving %s as raw file: %w", filepath.Base(src), err)
	}
	return stored, nil
}

// Update saves changes to a video. When the source file or link changes, the
// files of the previous version are cleaned up and conversion starts over.
func (s *VideoService) Update(ctx context.Context, video *models.VideoStream) error {
	old, err := s.GetByID(ctx, video.ID)
	if err != nil {
		return err
	}
	if err := video.Validate(s.videoExts, s.thumbnailExts); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if video.Title != old.Title {
		existing, err := s.repo.GetByTitle(ctx, video.Title)
		if err != nil {
			return fmt.Errorf("checking title: %w", err)
		}
		if existing != nil && existing.ID != video.ID {
			return ErrDuplicateTitle
		}
	}

	sourceChanged := old.FilePath() != video.FilePath() || old.Link() != video.Link()
	if sourceChanged {
		if err := s.cleanup.Cleanup(ctx, old); err != nil {
			s.logger.Warn("cleaning up replaced source", "id", old.ID.String(), "error", err)
		}
		if video.HasFile() && !exists(video.FilePath()) {
			video.File = nil
		}
		if video.Thumbnail != nil && !exists(*video.Thumbnail) {
			video.Thumbnail = nil
		}
		video.HLSReady = false
		video.DASHReady = false
		video.DateProcessed = nil
		video.DateFinished = nil
		video.Width, video.Height, video.Duration = 0, 0, 0
	}

	if err := s.repo.Update(ctx, video); err != nil {
		return fmt.Errorf("updating video: %w", err)
	}

	s.logger.Info("updated video stream",
		"id", video.ID.String(),
		"title", video.Title,
		"source_changed", sourceChanged,
	)
	if sourceChanged {
		s.nudge(video)
	}
	return nil
}

// Delete removes a video and, depending on the cleanup mode, its files.
func (s *VideoService) Delete(ctx context.Context, id models.ULID) error {
	video, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting video: %w", err)
	}
	if err := s.cleanup.Cleanup(ctx, video); err != nil {
		s.logger.Warn("removing files of deleted video", "id", id.String(), "error", err)
	}

	s.logger.Info("deleted video stream", "id", id.String(), "title", video.Title)
	return nil
}

// GetByID retrieves a video, ErrNotFound when it does not exist.
func (s *VideoService) GetByID(ctx context.Context, id models.ULID) (*models.VideoStream, error) {
	video, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting video: %w", err)
	}
	if video == nil {
		return nil, ErrNotFound
	}
	return video, nil
}

// List returns the videos matching f in queue order.
func (s *VideoService) List(ctx context.Context, f repository.VideoFilter) ([]*models.VideoStream, error) {
	videos, err := s.repo.Find(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("listing videos: %w", err)
	}
	return videos, nil
}

// Convert schedules a video for processing. Videos that only have a link are
// downloaded first. The kind of job dispatched is returned.
func (s *VideoService) Convert(ctx context.Context, id models.ULID) (queue.Kind, error) {
	video, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	kind := queue.KindConversion
	switch {
	case video.HasFile():
	case video.HasLink():
		kind = queue.KindDownload
	default:
		return "", models.ErrSourceRequired
	}

	s.dispatcher.Dispatch(scheduler.Job{Kind: kind, VideoID: id})
	s.logger.Info("video scheduled", "id", id.String(), "queue", string(kind))
	return kind, nil
}

// Progress reports the conversion progress of a video.
func (s *VideoService) Progress(ctx context.Context, id models.ULID) (*progress.Report, error) {
	video, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.tracker == nil {
		return &progress.Report{}, nil
	}
	report := s.tracker.Report(video)
	return &report, nil
}

// Queues reports the length and running record of each queue.
func (s *VideoService) Queues(ctx context.Context) ([]QueueStatus, error) {
	var out []QueueStatus
	for _, q := range []*queue.Queue{s.conversions, s.downloads} {
		if q == nil {
			continue
		}
		eligible, err := q.Eligible(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s queue: %w", q.Kind(), err)
		}
		ongoing, err := q.Ongoing(ctx)
		if err != nil {
			return nil, fmt.Errorf("checking %s queue: %w", q.Kind(), err)
		}
		out = append(out, QueueStatus{Kind: q.Kind(), Length: len(eligible), Ongoing: ongoing})
	}
	return out, nil
}

// nudge asks the matching queue to look for work now instead of on the next tick.
func (s *VideoService) nudge(video *models.VideoStream) {
	switch {
	case video.HasFile() && s.autoConversion:
		s.dispatcher.Dispatch(scheduler.Job{Kind: queue.KindConversion})
	case !video.HasFile() && video.HasLink():
		s.dispatcher.Dispatch(scheduler.Job{Kind: queue.KindDownload})
	}
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

type noDispatch struct{}

func (noDispatch) Dispatch(scheduler.Job)                     {}
func (noDispatch) DispatchAfter(scheduler.Job, time.Duration) {}
