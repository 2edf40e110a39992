// Package startup provides utilities for application startup tasks.
package startup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/jmylchreest/segmentarr/internal/repository"
)

// TempDirPrefix is the prefix used for segmentarr temp directories.
const TempDirPrefix = "segmentarr-"

// DefaultCleanupAge is the default maximum age for orphaned temp files (1 hour).
const DefaultCleanupAge = 1 * time.Hour

// CleanupOrphanedTempDirs removes directories matching "segmentarr-*" in
// baseDir that are older than maxAge.
//
// Returns the number of directories removed and any error encountered.
func CleanupOrphanedTempDirs(logger *slog.Logger, baseDir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		logger.Debug("base directory does not exist, skipping cleanup",
			"path", baseDir,
		)
		return 0, nil
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		logger.Error("failed to read directory for cleanup",
			"path", baseDir,
			"error", err,
		)
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), TempDirPrefix) {
			continue
		}

		dirPath := filepath.Join(baseDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to get directory info",
				"path", dirPath,
				"error", err,
			)
			continue
		}

		if info.ModTime().After(cutoff) {
			logger.Debug("preserving recent temp directory",
				"path", dirPath,
				"age", time.Since(info.ModTime()).Round(time.Second),
			)
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			logger.Warn("failed to remove orphaned temp directory",
				"path", dirPath,
				"error", err,
			)
			continue
		}

		logger.Info("removed orphaned temp directory",
			"path", dirPath,
			"age", time.Since(info.ModTime()).Round(time.Second),
		)
		removed++
	}

	return removed, nil
}

// CleanupSystemTempDirs cleans up orphaned segmentarr temp directories from
// the system temp directory using the default cleanup age.
func CleanupSystemTempDirs(logger *slog.Logger) (int, error) {
	return CleanupOrphanedTempDirs(logger, os.TempDir(), DefaultCleanupAge)
}

// CleanupTempFiles removes "*.tmp" files under root left behind by
// interrupted atomic writes.
func CleanupTempFiles(logger *slog.Logger, root string) (int, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return 0, nil
	}

	var removed int
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("failed to walk directory", "path", path, "error", err)
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		if err := os.Remove(path); err != nil {
			logger.Warn("failed to remove temp file", "path", path, "error", err)
			return nil
		}
		logger.Info("removed orphaned temp file", "path", path)
		removed++
		return nil
	})
	return removed, err
}

// CleanupDownloadDirs empties the download scratch directory. No download
// survives a restart, so everything in it is orphaned.
func CleanupDownloadDirs(logger *slog.Logger, root string) (int, error) {
	if root == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var removed int
	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			logger.Warn("failed to remove download leftover", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("removed download leftovers", "path", root, "count", removed)
	}
	return removed, nil
}

// ProcessCheck reports whether the pid still belongs to a running ffmpeg.
type ProcessCheck func(ctx context.Context, pid int32) (bool, error)

// SystemFFmpegRunning checks the process table of the host. A pid reused by
// another program counts as gone.
func SystemFFmpegRunning(ctx context.Context, pid int32) (bool, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return false, err
	}
	return IsFFmpegName(name), nil
}

// IsFFmpegName reports whether a process name is an ffmpeg binary.
func IsFFmpegName(name string) bool {
	name = strings.ToLower(filepath.Base(name))
	name = strings.TrimSuffix(name, ".exe")
	return name == "ffmpeg" || strings.HasPrefix(name, "ffmpeg-") || strings.HasPrefix(name, "ffmpeg_")
}

// RecoverStaleProcesses clears the process id of records whose ffmpeg process
// is gone. This handles a server that crashed or restarted while a conversion
// ran; without it the conversion queue would stay ongoing forever.
//
// Returns the number of records recovered and any error encountered.
func RecoverStaleProcesses(
	ctx context.Context,
	logger *slog.Logger,
	repo repository.VideoRepository,
	running ProcessCheck,
	now time.Time,
) (int, error) {
	videos, err := repo.Find(ctx, repository.VideoFilter{Processing: true})
	if err != nil {
		logger.Error("failed to list processing videos", "error", err)
		return 0, err
	}

	var recovered int
	for _, video := range videos {
		pid := *video.ProcessID
		alive, err := running(ctx, int32(pid)) //nolint:gosec // pids fit in int32
		if err != nil {
			logger.Warn("failed to check process",
				"video_id", video.ID.String(),
				"pid", pid,
				"error", err,
			)
			continue
		}
		if alive {
			continue
		}

		logger.Warn("recovering stale process id",
			"video_id", video.ID.String(),
			"title", video.Title,
			"pid", pid,
		)

		if err := repo.SetProcessID(ctx, video.ID, nil); err != nil {
			logger.Error("failed to clear process id",
				"video_id", video.ID.String(),
				"error", err,
			)
			continue
		}
		text := fmt.Sprintf("Segmentation process %d was no longer running at startup", pid)
		if err := repo.AppendRemark(ctx, video.ID, now, text); err != nil {
			logger.Warn("failed to append remark", "video_id", video.ID.String(), "error", err)
		}
		recovered++
	}

	return recovered, nil
}

// RecoverDownloadMarkers strips the downloading marker from links left marked
// by an interrupted download, so the download queue picks them up again.
func RecoverDownloadMarkers(ctx context.Context, logger *slog.Logger, repo repository.VideoRepository) (int, error) {
	videos, err := repo.Find(ctx, repository.VideoFilter{Downloading: true})
	if err != nil {
		logger.Error("failed to list downloading videos", "error", err)
		return 0, err
	}

	var recovered int
	for _, video := range videos {
		fields := map[string]any{"file_url": video.Link()}
		if err := repo.UpdateFields(ctx, video.ID, fields); err != nil {
			logger.Error("failed to strip download marker",
				"video_id", video.ID.String(),
				"error", err,
			)
			continue
		}
		logger.Warn("stripped stale download marker", "video_id", video.ID.String(), "title", video.Title)
		recovered++
	}
	return recovered, nil
}

// Dirs names the directories Reconcile sweeps.
type Dirs struct {
	Media    string
	HLS      string
	DASH     string
	Download string
}

// Report counts what Reconcile repaired.
type Report struct {
	Processes int
	Downloads int
	TempFiles int
	TempDirs  int
}

// Reconcile repairs state left behind by a previous run. Individual failures
// are logged and do not stop the remaining steps.
func Reconcile(ctx context.Context, logger *slog.Logger, repo repository.VideoRepository, dirs Dirs, running ProcessCheck) Report {
	var report Report
	var err error

	if report.Processes, err = RecoverStaleProcesses(ctx, logger, repo, running, time.Now()); err != nil {
		logger.Warn("stale process recovery incomplete", "error", err)
	}
	if report.Downloads, err = RecoverDownloadMarkers(ctx, logger, repo); err != nil {
		logger.Warn("download marker recovery incomplete", "error", err)
	}
	if n, err := CleanupDownloadDirs(logger, dirs.Download); err != nil {
		logger.Warn("download cleanup incomplete", "error", err)
	} else {
		report.TempDirs += n
	}
	for _, root := range []string{dirs.Media, dirs.HLS, dirs.DASH} {
		if root == "" {
			continue
		}
		n, err := CleanupTempFiles(logger, root)
		if err != nil {
			logger.Warn("temp file cleanup incomplete", "path", root, "error", err)
		}
		report.TempFiles += n
	}
	if n, err := CleanupSystemTempDirs(logger); err == nil {
		report.TempDirs += n
	}

	logger.Info("startup reconciliation complete",
		"processes", report.Processes,
		"downloads", report.Downloads,
		"temp_files", report.TempFiles,
		"temp_dirs", report.TempDirs,
	)
	return report
}
