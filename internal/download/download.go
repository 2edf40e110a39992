// Package download fetches source videos from their links into the media
// store.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/jmylchreest/segmentarr/internal/httpclient"
	"github.com/jmylchreest/segmentarr/internal/metrics"
	"github.com/jmylchreest/segmentarr/internal/models"
	"github.com/jmylchreest/segmentarr/internal/observability"
	"github.com/jmylchreest/segmentarr/internal/repository"
	"github.com/jmylchreest/segmentarr/internal/storage"
)

// VideoDir is the media store directory downloaded sources are published to.
const VideoDir = "videos"

// Options configures a Downloader.
type Options struct {
	// VideoExtensions lists the accepted source extensions. Empty accepts all.
	VideoExtensions []string
	// Timeout bounds a whole download. Zero means no limit.
	Timeout time.Duration
}

// Downloader fetches linked sources.
type Downloader struct {
	repo    repository.VideoRepository
	client  *httpclient.Client
	media   *storage.Store
	scratch *storage.Store
	opts    Options
	now     func() time.Time
	logger  *slog.Logger
}

// NewDownloader creates a downloader. Files are assembled under scratch, one
// directory per video, and published into media.
func NewDownloader(repo repository.VideoRepository, client *httpclient.Client, media, scratch *storage.Store, opts Options) *Downloader {
	return &Downloader{
		repo:    repo,
		client:  client,
		media:   media,
		scratch: scratch,
		opts:    opts,
		now:     time.Now,
		logger:  slog.Default(),
	}
}

// WithClock sets the clock used for remark timestamps.
func (d *Downloader) WithClock(now func() time.Time) *Downloader {
	d.now = now
	return d
}

// WithLogger sets the logger.
func (d *Downloader) WithLogger(logger *slog.Logger) *Downloader {
	d.logger = observability.WithComponent(logger, "download")
	return d
}

// Download fetches the linked source of video and stores it as its file.
// The link carries the downloading marker for as long as the transfer runs.
// Failures are recorded as remarks and reported as false.
func (d *Downloader) Download(ctx context.Context, video *models.VideoStream) bool {
	logger := observability.WithVideo(d.logger, video.ID.String(), video.Title)
	if !video.HasLink() {
		return d.fail(ctx, video, "Instance does not have a Google Drive Link")
	}
	link := video.Link()

	if err := d.repo.UpdateFields(ctx, video.ID, map[string]any{"file_url": models.DownloadingMarker + link}); err != nil {
		logger.ErrorContext(ctx, "failed to mark download", slog.String("error", err.Error()))
		return false
	}

	dir, err := d.scratch.Resolve(video.HashedID())
	if err != nil {
		d.unmark(ctx, video, link, nil)
		return d.fail(ctx, video, fmt.Sprintf("Could not resolve download directory: %v", err))
	}

	file, err := d.fetch(ctx, video, link)
	if err == nil {
		file, err = d.publish(dir, file)
	}
	if rmErr := d.scratch.RemoveAll(dir); rmErr != nil {
		logger.WarnContext(ctx, "failed to remove download directory", slog.String("error", rmErr.Error()))
	}

	if err != nil {
		d.unmark(ctx, video, link, nil)
		metrics.DownloadsTotal.WithLabelValues("failed").Inc()
		return d.fail(ctx, video, remarkText(err))
	}

	d.unmark(ctx, video, link, &file)
	video.File = &file
	video.FileURL = &link
	metrics.DownloadsTotal.WithLabelValues("success").Inc()
	logger.InfoContext(ctx, "download complete", slog.String("file", file))
	return true
}

// fetch writes the decoded body of link into the scratch directory of the
// video and returns the written path.
func (d *Downloader) fetch(ctx context.Context, video *models.VideoStream, link string) (_ string, err error) {
	logger := observability.WithVideo(d.logger, video.ID.String(), video.Title)
	done := observability.TimedOperationWithError(ctx, logger, "download", &err)
	defer done()

	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	resp, err := d.client.Open(ctx, DirectLink(link))
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", link, err)
	}
	defer resp.Body.Close()

	counted := &countingReader{r: resp.Body}
	body, compression, err := Unwrap(counted)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", link, err)
	}
	defer body.Close()

	name := UnwrappedName(path.Base(resp.Filename), compression)
	if name == "" || name == "." || name == "/" {
		name = video.HashedID()
	}

	written, err := d.scratch.WriteReader(filepath.Join(video.HashedID(), name), body)
	metrics.DownloadBytesTotal.Add(float64(counted.n))
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", link, err)
	}
	logger.DebugContext(ctx, "download written",
		slog.String("path", written),
		slog.String("compression", string(compression)),
		slog.Int64("bytes", counted.n),
	)
	return written, nil
}

// publish checks the download directory holds exactly one usable file and
// moves it into the media store.
func (d *Downloader) publish(dir, written string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("could not read download directory %s: %w", dir, err)
	}
	if len(entries) != 1 {
		return "", fmt.Errorf("expected 1 file, found %d files in download directory %s", len(entries), dir)
	}

	info, err := os.Stat(written)
	if err != nil {
		return "", fmt.Errorf("could not read downloaded file %s: %w", written, err)
	}
	if info.Size() == 0 {
		return "", errors.New("file has been downloaded but file has no contents")
	}
	name := filepath.Base(written)
	if len(d.opts.VideoExtensions) > 0 && !models.HasExtension(name, d.opts.VideoExtensions) {
		return "", fmt.Errorf("downloaded file %s is not a supported video file", name)
	}

	file, err := d.media.Publish(written, path.Join(VideoDir, name))
	if err != nil {
		return "", fmt.Errorf("failed to save file %s as raw file: %w", name, err)
	}
	return file, nil
}

// unmark strips the downloading marker and, when file is set, stores it.
func (d *Downloader) unmark(ctx context.Context, video *models.VideoStream, link string, file *string) {
	fields := map[string]any{"file_url": link}
	if file != nil {
		fields["file"] = *file
	}
	if err := d.repo.UpdateFields(ctx, video.ID, fields); err != nil {
		d.logger.ErrorContext(ctx, "failed to clear download marker",
			slog.String("video_id", video.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (d *Downloader) fail(ctx context.Context, video *models.VideoStream, text string) bool {
	d.logger.ErrorContext(ctx, text, slog.String("video_id", video.ID.String()))
	if err := d.repo.AppendRemark(ctx, video.ID, d.now(), text); err != nil {
		d.logger.WarnContext(ctx, "failed to append remark", slog.String("error", err.Error()))
	}
	return false
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// remarkText words err as a remark, which starts with a capital letter.
func remarkText(err error) string {
	msg := err.Error()
	r, size := utf8.DecodeRuneInString(msg)
	if size == 0 {
		return msg
	}
	return string(unicode.ToUpper(r)) + msg[size:]
}
