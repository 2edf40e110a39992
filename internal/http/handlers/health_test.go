package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/segmentarr/internal/ffmpeg"
	"github.com/jmylchreest/segmentarr/internal/testutil"
)

type stubDetector struct {
	info *ffmpeg.BinaryInfo
	err  error
}

func (d stubDetector) Detect(context.Context) (*ffmpeg.BinaryInfo, error) {
	return d.info, d.err
}

func TestHealthHandler_GetHealth(t *testing.T) {
	handler := NewHealthHandler("1.0.0")

	output, err := handler.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	require.NotNil(t, output)

	assert.Equal(t, "healthy", output.Body.Status)
	assert.Equal(t, "1.0.0", output.Body.Version)
	assert.NotEmpty(t, output.Body.Uptime)
	assert.NotZero(t, output.Body.CPUInfo.Cores)
	assert.Equal(t, "unknown", output.Body.Checks["database"])
	assert.Equal(t, "unknown", output.Body.Checks["ffmpeg"])
}

func TestHealthHandler_Database(t *testing.T) {
	handler := NewHealthHandler("1.0.0").WithDB(testutil.NewDB(t))

	output, err := handler.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	assert.Equal(t, "ok", output.Body.Database.Status)
	assert.Equal(t, "healthy", output.Body.Status)
}

func TestHealthHandler_FFmpeg(t *testing.T) {
	t.Run("complete build", func(t *testing.T) {
		handler := NewHealthHandler("1.0.0").WithBinaryDetector(stubDetector{info: &ffmpeg.BinaryInfo{
			FFmpegPath: "/usr/bin/ffmpeg",
			Version:    "7.1",
			Encoders:   []string{"libx264", "aac"},
		}})

		output, err := handler.GetHealth(context.Background(), &HealthInput{})
		require.NoError(t, err)
		assert.Equal(t, "ok", output.Body.FFmpeg.Status)
		assert.Equal(t, "/usr/bin/ffmpeg", output.Body.FFmpeg.FFmpegPath)
		assert.Equal(t, "healthy", output.Body.Status)
	})

	t.Run("missing encoders", func(t *testing.T) {
		handler := NewHealthHandler("1.0.0").WithBinaryDetector(stubDetector{info: &ffmpeg.BinaryInfo{}})

		output, err := handler.GetHealth(context.Background(), &HealthInput{})
		require.NoError(t, err)
		assert.Equal(t, "missing_encoders", output.Body.FFmpeg.Status)
		assert.Equal(t, "healthy", output.Body.Status)
	})

	t.Run("not found degrades", func(t *testing.T) {
		handler := NewHealthHandler("1.0.0").WithBinaryDetector(stubDetector{err: errors.New("ffmpeg not found")})

		output, err := handler.GetHealth(context.Background(), &HealthInput{})
		require.NoError(t, err)
		assert.Equal(t, "error", output.Body.Checks["ffmpeg"])
		assert.Equal(t, "degraded", output.Body.Status)
	})
}
