// Package supervisor runs one ffmpeg process for a video record and watches
// both the process and the record until one of them ends the run.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jmylchreest/segmentarr/internal/ffmpeg"
	"github.com/jmylchreest/segmentarr/internal/metrics"
	"github.com/jmylchreest/segmentarr/internal/models"
	"github.com/jmylchreest/segmentarr/internal/observability"
	"github.com/jmylchreest/segmentarr/internal/repository"
)

// DefaultPollInterval is how often the record and process are checked.
const DefaultPollInterval = 3 * time.Second

const interruptCleanupTimeout = 5 * time.Second

// Process is a launched external process.
type Process interface {
	Pid() int
	// Exited reports whether the process is gone and its exit code.
	Exited() (code int, exited bool)
	Kill() error
}

// Runner launches commands.
type Runner interface {
	Start(ctx context.Context, cmd *ffmpeg.Command) (Process, error)
}

// ExecRunner starts real ffmpeg processes.
type ExecRunner struct {
	Logger *slog.Logger
}

// Start implements Runner.
func (r ExecRunner) Start(ctx context.Context, cmd *ffmpeg.Command) (Process, error) {
	if r.Logger != nil {
		logger := r.Logger
		cmd.OnStderr(func(line string) {
			logger.Log(context.Background(), observability.LevelTrace, "ffmpeg", slog.String("line", line))
		})
	}
	if err := cmd.Start(ctx); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Supervisor runs commands on behalf of video records.
type Supervisor struct {
	repo     repository.VideoRepository
	runner   Runner
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	sample   bool
}

// New creates a supervisor that launches real processes.
func New(repo repository.VideoRepository) *Supervisor {
	logger := slog.Default()
	return &Supervisor{
		repo:     repo,
		runner:   ExecRunner{Logger: logger},
		interval: DefaultPollInterval,
		now:      time.Now,
		logger:   logger,
		sample:   true,
	}
}

// WithRunner replaces the process launcher.
func (s *Supervisor) WithRunner(r Runner) *Supervisor {
	s.runner = r
	_, s.sample = r.(ExecRunner)
	return s
}

// WithPollInterval sets the poll interval.
func (s *Supervisor) WithPollInterval(d time.Duration) *Supervisor {
	if d > 0 {
		s.interval = d
	}
	return s
}

// WithClock sets the clock used for remark timestamps.
func (s *Supervisor) WithClock(now func() time.Time) *Supervisor {
	s.now = now
	return s
}

// WithLogger sets the logger.
func (s *Supervisor) WithLogger(logger *slog.Logger) *Supervisor {
	s.logger = logger
	if er, ok := s.runner.(ExecRunner); ok {
		er.Logger = logger
		s.runner = er
	}
	return s
}

// Run launches cmd for video and blocks until the process exits, the record
// is deleted, its source file disappears or ctx is cancelled. label names the
// work in remarks, usually the resolution.
func (s *Supervisor) Run(ctx context.Context, cmd *ffmpeg.Command, video *models.VideoStream, label string) Outcome {
	logger := observability.WithVideo(s.logger, video.ID.String(), video.Title).With(slog.String("label", label))

	proc, err := s.runner.Start(ctx, cmd)
	if err != nil {
		logger.ErrorContext(ctx, "failed to start ffmpeg", slog.String("error", err.Error()))
		s.remark(ctx, video.ID, "Segmentation process could not be started for this instance, command: "+cmd.String())
		metrics.ProcessesTotal.WithLabelValues("failed").Inc()
		return Failed(ReasonNotStarted)
	}

	started := time.Now()
	pid := proc.Pid()
	logger.InfoContext(ctx, "ffmpeg started", slog.Int("pid", pid))
	metrics.ProcessesRunning.Inc()
	defer metrics.ProcessesRunning.Dec()

	if err := s.repo.SetProcessID(ctx, video.ID, &pid); err != nil {
		logger.WarnContext(ctx, "failed to store process id", slog.String("error", err.Error()))
	}

	if s.sample {
		mon := ffmpeg.NewProcessMonitor(pid, s.interval)
		mon.Start(ctx)
		defer func() {
			mon.Stop()
			if peak := mon.Stats().PeakRSSMB(); peak > 0 {
				metrics.ProcessPeakMemoryMB.Observe(peak)
				logger.DebugContext(ctx, "ffmpeg peak memory", slog.Float64("peak_rss_mb", peak))
			}
		}()
	}

	outcome := s.poll(ctx, proc, video, logger)

	metrics.ProcessesTotal.WithLabelValues(outcome.String()).Inc()
	metrics.ProcessDuration.WithLabelValues(outcome.String()).Observe(time.Since(started).Seconds())

	if outcome.Reason == ReasonInterrupted {
		// ffmpeg is already killed; the cancelled ctx cannot carry the cleanup.
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), interruptCleanupTimeout)
		defer cancel()
		s.remark(cleanupCtx, video.ID, fmt.Sprintf("Segmentation process was interrupted at resolution %s", label))
		if err := s.repo.SetProcessID(cleanupCtx, video.ID, nil); err != nil {
			logger.WarnContext(ctx, "failed to clear process id", slog.String("error", err.Error()))
		}
		logger.WarnContext(ctx, "ffmpeg interrupted", slog.Int("pid", pid))
		return outcome
	}

	if outcome.Kind == KindFailed {
		s.remark(ctx, video.ID, fmt.Sprintf("Error upon segmenting video at resolution %s, error: %s", label, outcome.Reason))
	}
	if !outcome.IsDeleted() {
		if err := s.repo.SetProcessID(ctx, video.ID, nil); err != nil {
			logger.WarnContext(ctx, "failed to clear process id", slog.String("error", err.Error()))
		}
	}

	logger.InfoContext(ctx, "ffmpeg finished",
		slog.String("outcome", outcome.String()),
		slog.String("reason", outcome.Reason),
		slog.Duration("elapsed", time.Since(started)),
	)
	return outcome
}

func (s *Supervisor) poll(ctx context.Context, proc Process, video *models.VideoStream, logger *slog.Logger) Outcome {
	for {
		current, err := s.repo.GetByID(ctx, video.ID)
		switch {
		case err != nil:
			// A failed read says nothing about the record; try again next tick.
			logger.WarnContext(ctx, "failed to reload video", slog.String("error", err.Error()))
		case current == nil:
			s.kill(ctx, proc, logger)
			return Deleted()
		case !current.HasFile() || !fileExists(current.FilePath()):
			s.kill(ctx, proc, logger)
			return Failed(ReasonFileRemoved)
		}

		if code, exited := proc.Exited(); exited {
			if code == 0 {
				return Success()
			}
			return exitFailure(code)
		}

		select {
		case <-ctx.Done():
			s.kill(ctx, proc, logger)
			return Failed(ReasonInterrupted)
		case <-time.After(s.interval):
		}
	}
}

func (s *Supervisor) kill(ctx context.Context, proc Process, logger *slog.Logger) {
	if err := proc.Kill(); err != nil {
		logger.WarnContext(ctx, "failed to kill ffmpeg", slog.Int("pid", proc.Pid()), slog.String("error", err.Error()))
	}
}

func (s *Supervisor) remark(ctx context.Context, id models.ULID, text string) {
	if err := s.repo.AppendRemark(ctx, id, s.now(), text); err != nil {
		s.logger.WarnContext(ctx, "failed to append remark", slog.String("error", err.Error()))
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
