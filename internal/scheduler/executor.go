package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/segmentarr/internal/ffmpeg"
	"github.com/jmylchreest/segmentarr/internal/memory"
	"github.com/jmylchreest/segmentarr/internal/metrics"
	"github.com/jmylchreest/segmentarr/internal/models"
	"github.com/jmylchreest/segmentarr/internal/observability"
	"github.com/jmylchreest/segmentarr/internal/queue"
	"github.com/jmylchreest/segmentarr/internal/repository"
	"github.com/jmylchreest/segmentarr/internal/segmenter"
)

// Job is one unit of work for a queue worker. A job without a video id is a
// queue check.
type Job struct {
	Kind    queue.Kind
	VideoID models.ULID
}

// IsCheck reports whether the job only checks its queue.
func (j Job) IsCheck() bool {
	return j.VideoID.IsZero()
}

func (j Job) String() string {
	if j.IsCheck() {
		return "check_" + string(j.Kind)
	}
	return string(j.Kind) + ":" + j.VideoID.String()
}

// Dispatcher hands jobs to the queue workers.
type Dispatcher interface {
	Dispatch(job Job)
	DispatchAfter(job Job, delay time.Duration)
}

// BusyReporter is implemented by dispatchers that track the record jobs in
// flight. Queue checks leave a kind alone while one is.
type BusyReporter interface {
	Busy(kind queue.Kind) bool
}

// Selector picks a segmentation strategy.
type Selector interface {
	Select(ctx context.Context, srcW, srcH int, ladder []models.ResolutionSpec) memory.Decision
}

// Segmenter runs a segmentation strategy.
type Segmenter interface {
	Segment(ctx context.Context, video *models.VideoStream, strategy memory.Strategy, ladder []models.ResolutionSpec) segmenter.Result
}

// Prober reads the dimensions and duration of a source.
type Prober interface {
	Source(ctx context.Context, path string) (*ffmpeg.SourceInfo, error)
}

// Downloader fetches the linked source of a video.
type Downloader interface {
	Download(ctx context.Context, video *models.VideoStream) bool
}

// Thumbnailer creates a thumbnail for a converted video.
type Thumbnailer interface {
	Create(ctx context.Context, video *models.VideoStream) (string, error)
}

// ExecutorConfig holds the collaborators of an Executor. Prober and
// Thumbnails are optional.
type ExecutorConfig struct {
	Conversions     *queue.Queue
	Downloads       *queue.Queue
	Repo            repository.VideoRepository
	Selector        Selector
	Segmenter       Segmenter
	Prober          Prober
	Downloader      Downloader
	Thumbnails      Thumbnailer
	Ladder          []models.ResolutionSpec
	RescheduleDelay time.Duration
}

// Executor runs the queue tasks. Every task resolves domain failures into
// remarks and always moves its queue on.
type Executor struct {
	ExecutorConfig

	dispatcher Dispatcher
	now        func() time.Time
	logger     *slog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	return &Executor{
		ExecutorConfig: cfg,
		dispatcher:     discardDispatcher{},
		now:            time.Now,
		logger:         slog.Default(),
	}
}

// WithDispatcher sets where follow-up jobs go.
func (e *Executor) WithDispatcher(d Dispatcher) *Executor {
	e.dispatcher = d
	return e
}

// WithClock sets the clock used for remarks and timestamps.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// WithLogger sets the logger.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	e.logger = observability.WithComponent(logger, "scheduler")
	return e
}

// Execute runs job.
func (e *Executor) Execute(ctx context.Context, job Job) error {
	var err error
	switch {
	case job.Kind == queue.KindConversion && job.IsCheck():
		err = e.CheckQueue(ctx)
	case job.Kind == queue.KindDownload && job.IsCheck():
		err = e.CheckDownloads(ctx)
	case job.Kind == queue.KindConversion:
		err = e.ConvertVideo(ctx, job.VideoID)
	case job.Kind == queue.KindDownload:
		err = e.DownloadVideo(ctx, job.VideoID)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}

	result := "success"
	if err != nil {
		result = "error"
	}
	task := string(job.Kind)
	if job.IsCheck() {
		task = "check_" + task
	}
	metrics.TriggerRunsTotal.WithLabelValues(task, result).Inc()
	return err
}

// CheckQueue starts the front of the conversion queue unless a conversion is
// already running.
func (e *Executor) CheckQueue(ctx context.Context) error {
	return e.check(ctx, e.Conversions, "All uploads have been processed")
}

// CheckDownloads starts the front of the download queue unless a download is
// already running.
func (e *Executor) CheckDownloads(ctx context.Context) error {
	return e.check(ctx, e.Downloads, "All downloads have been processed")
}

func (e *Executor) check(ctx context.Context, q *queue.Queue, emptyMsg string) error {
	if b, ok := e.dispatcher.(BusyReporter); ok && b.Busy(q.Kind()) {
		e.logger.DebugContext(ctx, "queue already has a job in flight", slog.String("queue", string(q.Kind())))
		return nil
	}

	ongoing, err := q.Ongoing(ctx)
	if err != nil {
		return err
	}
	if ongoing != nil {
		e.logger.InfoContext(ctx, "There is currently a stream instance getting processed!",
			slog.String("queue", string(q.Kind())),
			slog.String("video_id", ongoing.ID.String()),
		)
		return nil
	}

	eligible, err := q.Eligible(ctx)
	if err != nil {
		return err
	}
	metrics.QueueLength.WithLabelValues(string(q.Kind())).Set(float64(len(eligible)))
	if len(eligible) == 0 {
		e.logger.InfoContext(ctx, emptyMsg, slog.String("queue", string(q.Kind())))
		return nil
	}
	e.dispatcher.Dispatch(Job{Kind: q.Kind(), VideoID: eligible[0].ID})
	return nil
}

// ConvertVideo converts the video with id, then schedules the next record of
// the conversion queue.
func (e *Executor) ConvertVideo(ctx context.Context, id models.ULID) error {
	ongoing, err := e.Conversions.Ongoing(ctx)
	if err != nil {
		return err
	}
	if ongoing != nil && ongoing.ID != id {
		e.logger.InfoContext(ctx, "There is currently a stream instance getting processed!",
			slog.String("video_id", ongoing.ID.String()))
		return nil
	}

	video, err := e.Repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("loading video %s: %w", id, err)
	}
	if video == nil {
		e.logger.WarnContext(ctx, "There is no Stream instance with the id", slog.String("video_id", id.String()))
		return e.GoNext(ctx, e.Conversions, nil)
	}
	logger := observability.WithVideo(e.logger, video.ID.String(), video.Title)

	if !video.HasFile() && !video.HasLink() {
		logger.WarnContext(ctx, "Stream instance does not have a raw video nor a video link!")
		return e.GoNext(ctx, e.Conversions, video)
	}
	if !video.HasFile() {
		e.dispatcher.Dispatch(Job{Kind: queue.KindDownload, VideoID: video.ID})
		return e.GoNext(ctx, e.Conversions, video)
	}

	e.probe(ctx, video)

	ladder := models.SupportedResolutions(e.Ladder, video.Height)
	decision := e.Selector.Select(ctx, video.Width, video.Height, ladder)
	metrics.StrategySelectionsTotal.WithLabelValues(decision.Strategy.String()).Inc()
	metrics.AvailableMemoryMB.Set(decision.AvailableMB)

	if decision.Strategy == memory.StrategyNone {
		text := fmt.Sprintf("Could not determine ideal segmenter for Stream instance %s: %s", video.Title, decision.Reason)
		logger.WarnContext(ctx, text)
		if err := e.Repo.AppendRemark(ctx, video.ID, e.now(), text); err != nil {
			logger.WarnContext(ctx, "failed to append remark", slog.String("error", err.Error()))
		}
		return e.GoNext(ctx, e.Conversions, video)
	}
	logger.InfoContext(ctx, "segmenting stream instance",
		slog.String("strategy", decision.Strategy.String()),
		slog.Float64("estimated_mb", decision.Cost()),
		slog.Int("resolutions", len(ladder)))

	processed := e.now()
	if err := e.Repo.UpdateFields(ctx, video.ID, map[string]any{"date_processed": processed}); err != nil {
		return fmt.Errorf("marking video processed: %w", err)
	}
	video.DateProcessed = &processed

	res := e.Segmenter.Segment(ctx, video, decision.Strategy, ladder)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if res.Any() {
		finished := e.now()
		err := e.Repo.UpdateFields(ctx, video.ID, map[string]any{
			"hls_ready":     res.HLS,
			"dash_ready":    res.DASH,
			"date_finished": finished,
		})
		if err != nil {
			return fmt.Errorf("marking video converted: %w", err)
		}
		video.HLSReady, video.DASHReady, video.DateFinished = res.HLS, res.DASH, &finished

		e.thumbnail(ctx, video)
		logger.InfoContext(ctx, "Successfully converted stream instance",
			slog.Bool("hls", res.HLS), slog.Bool("dash", res.DASH))
	} else {
		logger.WarnContext(ctx, "Could not convert stream instance")
	}

	return e.GoNext(ctx, e.Conversions, video)
}

// probe fills in unknown source dimensions. Failures leave them unknown and
// the selector reports it.
func (e *Executor) probe(ctx context.Context, video *models.VideoStream) {
	if e.Prober == nil || (video.Width > 0 && video.Height > 0) {
		return
	}
	info, err := e.Prober.Source(ctx, video.FilePath())
	if err != nil {
		e.logger.WarnContext(ctx, "failed to probe source",
			slog.String("video_id", video.ID.String()),
			slog.String("error", err.Error()))
		return
	}
	video.Width, video.Height, video.Duration = info.Width, info.Height, info.Duration
	err = e.Repo.UpdateFields(ctx, video.ID, map[string]any{
		"width":    info.Width,
		"height":   info.Height,
		"duration": info.Duration,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "failed to store probe result", slog.String("error", err.Error()))
	}
}

func (e *Executor) thumbnail(ctx context.Context, video *models.VideoStream) {
	if e.Thumbnails == nil || (video.Thumbnail != nil && *video.Thumbnail != "") {
		return
	}
	path, err := e.Thumbnails.Create(ctx, video)
	if err != nil {
		e.logger.WarnContext(ctx, "failed to create thumbnail",
			slog.String("video_id", video.ID.String()),
			slog.String("error", err.Error()))
		return
	}
	if err := e.Repo.UpdateFields(ctx, video.ID, map[string]any{"thumbnail": path}); err != nil {
		e.logger.WarnContext(ctx, "failed to store thumbnail", slog.String("error", err.Error()))
		return
	}
	video.Thumbnail = &path
	e.logger.InfoContext(ctx, "Successfully created thumbnail for stream instance",
		slog.String("video_id", video.ID.String()))
}

// DownloadVideo downloads the source of the video with id, schedules its
// conversion on success and then the next record of the download queue.
func (e *Executor) DownloadVideo(ctx context.Context, id models.ULID) error {
	ongoing, err := e.Downloads.Ongoing(ctx)
	if err != nil {
		return err
	}
	if ongoing != nil {
		e.logger.InfoContext(ctx, "There is currently a stream instance getting processed!",
			slog.String("video_id", ongoing.ID.String()))
		return nil
	}

	video, err := e.Repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("loading video %s: %w", id, err)
	}
	if video == nil {
		e.logger.WarnContext(ctx, "There is no Stream instance with the id", slog.String("video_id", id.String()))
		return e.GoNext(ctx, e.Downloads, nil)
	}
	if video.HasFile() {
		return e.GoNext(ctx, e.Downloads, video)
	}
	if !video.HasLink() {
		e.logger.ErrorContext(ctx, "The stream instance has not given a valid link!",
			slog.String("video_id", video.ID.String()))
		return e.GoNext(ctx, e.Downloads, video)
	}

	if e.Downloader.Download(ctx, video) {
		e.dispatcher.Dispatch(Job{Kind: queue.KindConversion, VideoID: video.ID})
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return e.GoNext(ctx, e.Downloads, video)
}

// GoNext schedules the record after current in q, wrapping to the front.
func (e *Executor) GoNext(ctx context.Context, q *queue.Queue, current *models.VideoStream) error {
	next, err := q.Next(ctx, current)
	if err != nil {
		return err
	}
	if next == nil {
		e.logger.InfoContext(ctx, "There are no more videos left to be processed", slog.String("queue", string(q.Kind())))
		return nil
	}
	e.dispatcher.DispatchAfter(Job{Kind: q.Kind(), VideoID: next.ID}, e.RescheduleDelay)
	return nil
}

type discardDispatcher struct{}

func (discardDispatcher) Dispatch(Job)                     {}
func (discardDispatcher) DispatchAfter(Job, time.Duration) {}
