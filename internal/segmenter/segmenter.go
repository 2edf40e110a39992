// Package segmenter turns a source video into HLS and MPEG-DASH outputs by
// running supervised ffmpeg processes, one per resolution or one per format.
package segmenter

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/segmentarr/internal/ffmpeg"
	"github.com/jmylchreest/segmentarr/internal/memory"
	"github.com/jmylchreest/segmentarr/internal/metrics"
	"github.com/jmylchreest/segmentarr/internal/models"
	"github.com/jmylchreest/segmentarr/internal/observability"
	"github.com/jmylchreest/segmentarr/internal/repository"
	"github.com/jmylchreest/segmentarr/internal/supervisor"
)

// Labels used in remarks for whole-format runs.
const (
	LabelBulkHLS  = "HLS Bulk"
	LabelBulkDASH = "MPEG-DASH Bulk"
)

// Encoding parameters shared by every run.
const (
	videoCodec      = "h264"
	videoProfile    = "main"
	crf             = "20"
	gopSize         = "48"
	segmentSeconds  = "4"
	audioCodec      = "aac"
	audioBitrate    = "128k"
	audioSampleRate = "48000"
)

// Supervisor runs one command for a video until it ends.
type Supervisor interface {
	Run(ctx context.Context, cmd *ffmpeg.Command, video *models.VideoStream, label string) supervisor.Outcome
}

// Options configures a Service.
type Options struct {
	// FFmpegPath is the resolved ffmpeg binary; empty means ffmpeg is not installed.
	FFmpegPath string
	Layout     Layout
	AllowHLS   bool
	AllowDASH  bool
}

// Result reports which formats were produced.
type Result struct {
	HLS  bool
	DASH bool
}

// Any reports whether at least one format was produced.
func (r Result) Any() bool {
	return r.HLS || r.DASH
}

// Service runs the segmentation strategies.
type Service struct {
	sup    Supervisor
	repo   repository.VideoRepository
	opts   Options
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a segmentation service.
func NewService(sup Supervisor, repo repository.VideoRepository, opts Options) *Service {
	return &Service{
		sup:    sup,
		repo:   repo,
		opts:   opts,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// WithClock sets the clock used for remark timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithLogger sets the logger.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = observability.WithComponent(logger, "segmenter")
	return s
}

// Layout returns the output layout.
func (s *Service) Layout() Layout {
	return s.opts.Layout
}

// Segment runs the chosen strategy over ladder, which must already be
// limited to the resolutions the source supports.
func (s *Service) Segment(ctx context.Context, video *models.VideoStream, strategy memory.Strategy, ladder []models.ResolutionSpec) Result {
	logger := observability.WithVideo(s.logger, video.ID.String(), video.Title)
	if s.opts.FFmpegPath == "" {
		logger.WarnContext(ctx, "ffmpeg is not installed, skipping segmentation")
		return Result{}
	}

	var res Result
	switch strategy {
	case memory.StrategySequential:
		if s.opts.AllowHLS {
			res.HLS = s.Sequential(ctx, video, ladder)
		}
	case memory.StrategyBulk:
		res = s.Bulk(ctx, video, ladder)
	default:
		logger.WarnContext(ctx, "no segmentation strategy", slog.String("strategy", strategy.String()))
		return Result{}
	}

	record(metrics.FormatHLS, s.opts.AllowHLS, res.HLS)
	record(metrics.FormatDASH, s.opts.AllowDASH && strategy == memory.StrategyBulk, res.DASH)

	logger.InfoContext(ctx, "segmentation finished",
		slog.String("strategy", strategy.String()),
		slog.Bool("hls", res.HLS),
		slog.Bool("dash", res.DASH),
	)
	return res
}

func record(format string, attempted, ok bool) {
	if !attempted {
		return
	}
	result := "failed"
	if ok {
		result = "success"
	}
	metrics.ConversionsTotal.WithLabelValues(format, result).Inc()
}

// fail records text as a remark and reports no output.
func (s *Service) fail(ctx context.Context, video *models.VideoStream, text string) bool {
	s.logger.ErrorContext(ctx, text, slog.String("video_id", video.ID.String()))
	if err := s.repo.AppendRemark(ctx, video.ID, s.now(), text); err != nil {
		s.logger.WarnContext(ctx, "failed to append remark", slog.String("error", err.Error()))
	}
	return false
}

// encoder starts a command over the video source with the shared flags.
func (s *Service) encoder(video *models.VideoStream) *ffmpeg.CommandBuilder {
	return ffmpeg.NewCommandBuilder(s.opts.FFmpegPath).Overwrite().Input(video.FilePath())
}
