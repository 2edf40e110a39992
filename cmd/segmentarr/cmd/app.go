package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/segmentarr/internal/config"
	"github.com/jmylchreest/segmentarr/internal/database"
	"github.com/jmylchreest/segmentarr/internal/database/migrations"
	"github.com/jmylchreest/segmentarr/internal/download"
	"github.com/jmylchreest/segmentarr/internal/ffmpeg"
	"github.com/jmylchreest/segmentarr/internal/httpclient"
	"github.com/jmylchreest/segmentarr/internal/memory"
	"github.com/jmylchreest/segmentarr/internal/observability"
	"github.com/jmylchreest/segmentarr/internal/progress"
	"github.com/jmylchreest/segmentarr/internal/queue"
	"github.com/jmylchreest/segmentarr/internal/repository"
	"github.com/jmylchreest/segmentarr/internal/scheduler"
	"github.com/jmylchreest/segmentarr/internal/segmenter"
	"github.com/jmylchreest/segmentarr/internal/service"
	"github.com/jmylchreest/segmentarr/internal/storage"
	"github.com/jmylchreest/segmentarr/internal/supervisor"
	"github.com/jmylchreest/segmentarr/internal/thumbnail"
	"github.com/jmylchreest/segmentarr/internal/version"
)

// app holds the components shared by the commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db   *database.DB
	repo repository.VideoRepository

	media     *storage.Store
	hls       *storage.Store
	dash      *storage.Store
	downloads *storage.Store
	layout    segmenter.Layout

	conversions *queue.Queue
	downloadQ   *queue.Queue
	detector    *ffmpeg.BinaryDetector
	executor    *scheduler.Executor
	tracker     *progress.Tracker
	videos      *service.VideoService
}

// openDatabase connects and applies pending migrations.
func openDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*database.DB, error) {
	db, err := database.New(cfg.Database, observability.WithComponent(logger, "database"), nil)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	if err := migrator.Up(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// newApp wires the repository, storage, conversion and download components.
// Job follow-ups are discarded until a dispatcher is attached.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, db: db, repo: repository.NewVideoRepository(db.DB)}
	if err := a.openStores(); err != nil {
		_ = db.Close()
		return nil, err
	}

	conv := cfg.Conversion
	ladder := conv.Ladder()

	a.conversions = queue.NewConversionQueue(a.repo, conv.AllowHLS, conv.AllowDASH)
	a.downloadQ = queue.NewDownloadQueue(a.repo)

	a.detector = ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath)
	ffmpegPath, err := a.detector.FFmpegPath()
	if err != nil {
		logger.Warn("ffmpeg not found, conversions will be skipped", slog.String("error", err.Error()))
		ffmpegPath = ""
	}

	sup := supervisor.New(a.repo).
		WithPollInterval(conv.PollInterval).
		WithLogger(observability.WithComponent(logger, "supervisor"))
	seg := segmenter.NewService(sup, a.repo, segmenter.Options{
		FFmpegPath: ffmpegPath,
		Layout:     a.layout,
		AllowHLS:   conv.AllowHLS,
		AllowDASH:  conv.AllowDASH,
	}).WithLogger(observability.WithComponent(logger, "segmenter"))

	selector := memory.NewSelector().WithLogger(observability.WithComponent(logger, "memory"))

	downloadCfg := cfg.Download
	if downloadCfg.UserAgent == "" {
		downloadCfg.UserAgent = version.UserAgent()
	}
	client := httpclient.New(httpclient.FromDownloadConfig(downloadCfg, observability.WithComponent(logger, "httpclient")))
	downloader := download.NewDownloader(a.repo, client, a.media, a.downloads, download.Options{
		VideoExtensions: conv.VideoExtensions,
		Timeout:         cfg.Download.Timeout,
	}).WithLogger(observability.WithComponent(logger, "download"))

	execCfg := scheduler.ExecutorConfig{
		Conversions:     a.conversions,
		Downloads:       a.downloadQ,
		Repo:            a.repo,
		Selector:        selector,
		Segmenter:       seg,
		Downloader:      downloader,
		Ladder:          ladder,
		RescheduleDelay: conv.RescheduleDelay,
	}
	if probePath, err := a.detector.FFprobePath(); err == nil {
		execCfg.Prober = ffmpeg.NewProber(probePath).WithTimeout(cfg.FFmpeg.ProbeTimeout)
	} else {
		logger.Warn("ffprobe not found, source dimensions must be known", slog.String("error", err.Error()))
	}
	if ffmpegPath != "" {
		execCfg.Thumbnails = thumbnail.NewGenerator(ffmpegPath, a.media).
			WithLogger(observability.WithComponent(logger, "thumbnail"))
	}
	a.executor = scheduler.NewExecutor(execCfg).WithLogger(observability.WithComponent(logger, "executor"))

	cleanup, err := storage.NewCleanup(cfg.Storage.FileCleanup, a.media, a.hls, a.dash, a.layout,
		observability.WithComponent(logger, "cleanup"))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configuring cleanup: %w", err)
	}

	a.tracker = progress.NewTracker(a.layout, ladder, conv.AllowHLS, conv.AllowDASH)
	a.videos = service.NewVideoService(a.repo, a.media, cleanup).
		WithLogger(observability.WithComponent(logger, "videos")).
		WithQueues(a.conversions, a.downloadQ).
		WithTracker(a.tracker).
		WithExtensions(conv.VideoExtensions, conv.ThumbnailExtensions).
		WithAutoConversion(!conv.DisableAutoConversion)

	return a, nil
}

func (a *app) openStores() error {
	s := a.cfg.Storage
	var err error
	if a.media, err = storage.NewStore(s.MediaRoot); err != nil {
		return fmt.Errorf("opening media root: %w", err)
	}
	if a.hls, err = storage.NewStore(s.HLSRoot); err != nil {
		return fmt.Errorf("opening hls root: %w", err)
	}
	if a.dash, err = storage.NewStore(s.DASHRoot); err != nil {
		return fmt.Errorf("opening dash root: %w", err)
	}
	if a.downloads, err = storage.NewStore(s.DownloadRoot); err != nil {
		return fmt.Errorf("opening download root: %w", err)
	}
	a.layout = segmenter.Layout{HLSRoot: a.hls.Root(), DASHRoot: a.dash.Root()}
	return nil
}

// dispatchTo routes executor follow-ups and service nudges to d.
func (a *app) dispatchTo(d scheduler.Dispatcher) {
	a.executor.WithDispatcher(d)
	a.videos.WithDispatcher(d)
}

func (a *app) Close() error {
	return a.db.Close()
}

// withApp builds the app for the duration of fn.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing database", slog.String("error", err.Error()))
		}
	}()
	return fn(a)
}
