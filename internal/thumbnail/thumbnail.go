// Package thumbnail captures a still from a source video and stores it as a
// normalised JPEG next to the source.
package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	// Register image format decoders
	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	// WebP support from x/image
	_ "golang.org/x/image/webp"

	"github.com/jmylchreest/segmentarr/internal/ffmpeg"
	"github.com/jmylchreest/segmentarr/internal/models"
	"github.com/jmylchreest/segmentarr/internal/observability"
	"github.com/jmylchreest/segmentarr/internal/storage"
)

// Dir is the media store directory thumbnails are written to.
const Dir = "thumbnails"

// Thumbnail geometry and capture point.
const (
	Width       = 640
	Height      = 360
	CaptureAt   = "00:00:05"
	jpegQuality = 85
)

// ErrNoFFmpeg is returned when no ffmpeg binary is configured.
var ErrNoFFmpeg = errors.New("ffmpeg is not installed")

// Generator creates thumbnails in the media store.
type Generator struct {
	ffmpegPath string
	media      *storage.Store
	logger     *slog.Logger
}

// NewGenerator creates a generator. An empty ffmpegPath disables capture;
// Normalize still works.
func NewGenerator(ffmpegPath string, media *storage.Store) *Generator {
	return &Generator{
		ffmpegPath: ffmpegPath,
		media:      media,
		logger:     slog.Default(),
	}
}

// WithLogger sets the logger.
func (g *Generator) WithLogger(logger *slog.Logger) *Generator {
	g.logger = observability.WithComponent(logger, "thumbnail")
	return g
}

// Name returns the store-relative thumbnail path for a source file.
func Name(source string) string {
	base := filepath.Base(source)
	return path.Join(Dir, "thumbnail_"+strings.TrimSuffix(base, filepath.Ext(base))+".jpg")
}

// Command builds the ffmpeg invocation that captures one frame of source
// into output.
func (g *Generator) Command(source, output string) *ffmpeg.Command {
	return ffmpeg.NewCommandBuilder(g.ffmpegPath).
		Overwrite().
		Input(source).
		OutputArgs("-ss", CaptureAt, "-vframes", "1", "-vf", fmt.Sprintf("scale=%d:-1", Width)).
		Output(output).
		Build()
}

// Create captures a frame of the source of video and stores it as its
// thumbnail. It returns the absolute thumbnail path.
func (g *Generator) Create(ctx context.Context, video *models.VideoStream) (_ string, err error) {
	if g.ffmpegPath == "" {
		return "", ErrNoFFmpeg
	}
	if !video.HasFile() {
		return "", fmt.Errorf("video %s has no source file", video.ID)
	}
	source := video.FilePath()

	logger := observability.WithVideo(g.logger, video.ID.String(), video.Title)
	done := observability.TimedOperationWithError(ctx, logger, "thumbnail", &err)
	defer done()

	tmpDir, err := os.MkdirTemp("", "segmentarr-thumb-")
	if err != nil {
		return "", fmt.Errorf("creating temporary directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	frame := filepath.Join(tmpDir, "frame.png")
	cmd := g.Command(source, frame)
	if err := cmd.Run(ctx); err != nil {
		return "", fmt.Errorf("capturing frame: %w: %s", err, strings.Join(cmd.GetStderrLines(), "; "))
	}

	f, err := os.Open(frame)
	if err != nil {
		return "", fmt.Errorf("output path %s does not exist: %w", frame, err)
	}
	defer f.Close()

	return g.Normalize(f, Name(source))
}

// Normalize decodes an image of any registered format, fits it into the
// thumbnail box and stores it as JPEG under rel. Taken names get a suffix.
func (g *Generator) Normalize(r io.Reader, rel string) (string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return "", fmt.Errorf("decoding image (format=%s): %w", format, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Fit(img), &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("encoding thumbnail: %w", err)
	}

	written, err := g.media.WriteReader(rel, &buf)
	if err != nil {
		return "", fmt.Errorf("storing thumbnail: %w", err)
	}
	return written, nil
}

// Fit scales img down to fit the thumbnail box, keeping its aspect ratio.
func Fit(img image.Image) image.Image {
	return imaging.Fit(img, Width, Height, imaging.Lanczos)
}
