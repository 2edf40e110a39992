package thumbnail

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/segmentarr/internal/models"
	"github.com/jmylchreest/segmentarr/internal/observability"
	"github.com/jmylchreest/segmentarr/internal/storage"
)

func frame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodedSize(t *testing.T, path string) (int, int) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

func newGenerator(t *testing.T, ffmpegPath string) (*Generator, *storage.Store) {
	t.Helper()
	media, err := storage.NewStore(filepath.Join(t.TempDir(), "media"))
	require.NoError(t, err)
	return NewGenerator(ffmpegPath, media).WithLogger(observability.Discard()), media
}

func TestName(t *testing.T) {
	assert.Equal(t, "thumbnails/thumbnail_Harbour Lecture.jpg", Name("/media/videos/Harbour Lecture.mp4"))
	assert.Equal(t, "thumbnails/thumbnail_clip.jpg", Name("clip"))
}

func TestGenerator_Command(t *testing.T) {
	g, _ := newGenerator(t, "/usr/bin/ffmpeg")
	cmd := g.Command("/media/raw.mp4", "/tmp/frame.png")
	assert.Equal(t, "/usr/bin/ffmpeg", cmd.Binary)
	assert.Equal(t, []string{
		"-y", "-i", "/media/raw.mp4",
		"-ss", "00:00:05", "-vframes", "1", "-vf", "scale=640:-1",
		"/tmp/frame.png",
	}, cmd.Args)
}

func TestGenerator_Normalize(t *testing.T) {
	t.Run("wide png fits the box", func(t *testing.T) {
		g, media := newGenerator(t, "")
		path, err := g.Normalize(bytes.NewReader(encodePNG(t, frame(1280, 720))), "thumbnails/thumbnail_a.jpg")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(media.Root(), "thumbnails", "thumbnail_a.jpg"), path)

		w, h := decodedSize(t, path)
		assert.Equal(t, 640, w)
		assert.Equal(t, 360, h)
	})

	t.Run("tall gif keeps aspect", func(t *testing.T) {
		g, _ := newGenerator(t, "")
		var buf bytes.Buffer
		require.NoError(t, gif.Encode(&buf, frame(100, 400), nil))

		path, err := g.Normalize(&buf, "thumbnails/tall.jpg")
		require.NoError(t, err)
		w, h := decodedSize(t, path)
		assert.Equal(t, 90, w)
		assert.Equal(t, 360, h)
	})

	t.Run("small images are not enlarged", func(t *testing.T) {
		g, _ := newGenerator(t, "")
		path, err := g.Normalize(bytes.NewReader(encodePNG(t, frame(320, 180))), "thumbnails/small.jpg")
		require.NoError(t, err)
		w, h := decodedSize(t, path)
		assert.Equal(t, 320, w)
		assert.Equal(t, 180, h)
	})

	t.Run("garbage", func(t *testing.T) {
		g, _ := newGenerator(t, "")
		_, err := g.Normalize(bytes.NewReader([]byte("not an image")), "thumbnails/x.jpg")
		assert.Error(t, err)
	})
}

func TestGenerator_Create(t *testing.T) {
	dir := t.TempDir()
	still := filepath.Join(dir, "still.png")
	require.NoError(t, os.WriteFile(still, encodePNG(t, frame(640, 480)), 0o644))

	// Stands in for ffmpeg: copies a fixed still to the last argument.
	fake := filepath.Join(dir, "ffmpeg")
	script := "#!/bin/sh\nfor a in \"$@\"; do out=\"$a\"; done\ncp \"" + still + "\" \"$out\"\n"
	require.NoError(t, os.WriteFile(fake, []byte(script), 0o755))

	g, media := newGenerator(t, fake)
	source := filepath.Join(dir, "Harbour Lecture.mp4")
	video := &models.VideoStream{Title: "Harbour Lecture", File: models.StringPtr(source)}

	path, err := g.Create(context.Background(), video)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(media.Root(), "thumbnails", "thumbnail_Harbour Lecture.jpg"), path)
	w, h := decodedSize(t, path)
	assert.Equal(t, 480, w)
	assert.Equal(t, 360, h)

	t.Run("no ffmpeg", func(t *testing.T) {
		g, _ := newGenerator(t, "")
		_, err := g.Create(context.Background(), video)
		assert.ErrorIs(t, err, ErrNoFFmpeg)
	})

	t.Run("no source", func(t *testing.T) {
		_, err := g.Create(context.Background(), &models.VideoStream{Title: "x"})
		assert.Error(t, err)
	})
}
