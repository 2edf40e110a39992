package ffmpeg

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not installed.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
}

// writeScript creates an executable shell script standing in for ffmpeg.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestCommandBuilder_Build(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		Overwrite().
		Input("/in.mp4").
		VideoFilter("scale=1280x720").
		AudioCodec("aac").
		AudioSampleRate("48000").
		VideoCodec("h264").
		VideoBitrate("2800k").
		AudioBitrate("128k").
		Progress("/out/1280x720.txt").
		Output("/out/1280x720/1280x720.m3u8").
		Build()

	assert.Equal(t, []string{
		"-y", "-i", "/in.mp4",
		"-vf", "scale=1280x720",
		"-c:a", "aac", "-ar", "48000",
		"-c:v", "h264", "-b:v", "2800k", "-b:a", "128k",
		"-progress", "/out/1280x720.txt",
		"/out/1280x720/1280x720.m3u8",
	}, cmd.Args)
	assert.Equal(t, "/in.mp4", cmd.Input)
	assert.Equal(t, "ffmpeg -y -i /in.mp4", cmd.String()[:len("ffmpeg -y -i /in.mp4")])
}

func TestCommandBuilder_FilterComplexWithoutOutput(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		LogLevel("error").
		HideBanner().
		Input("/in.mp4").
		FilterComplex("[v:0]split=1[v1]; [v1]scale=640x360[v1out]").
		Map("[v1out]").
		OutputArgs("/out/a.m3u8").
		Build()

	assert.Equal(t, []string{
		"-loglevel", "error", "-hide_banner",
		"-i", "/in.mp4",
		"-filter_complex", "[v:0]split=1[v1]; [v1]scale=640x360[v1out]",
		"-map", "[v1out]",
		"/out/a.m3u8",
	}, cmd.Args)
	assert.Empty(t, cmd.Output)
}

func TestCommand_StartAndExitCode(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"success", "exit 0", 0},
		{"failure", "echo broken >&2; exit 3", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bin := writeScript(t, tt.body)
			cmd := NewCommandBuilder(bin).Input("x").Build()

			require.NoError(t, cmd.Start(context.Background()))
			assert.Greater(t, cmd.Pid(), 0)

			_ = cmd.Wait()
			code, exited := cmd.Exited()
			assert.True(t, exited)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestCommand_StderrCapture(t *testing.T) {
	bin := writeScript(t, "echo one >&2; echo two >&2")
	cmd := NewCommandBuilder(bin).Input("x").Build()

	var seen []string
	cmd.OnStderr(func(line string) { seen = append(seen, line) })

	require.NoError(t, cmd.Run(context.Background()))
	assert.Equal(t, []string{"one", "two"}, cmd.GetStderrLines())
	assert.Equal(t, []string{"one", "two"}, seen)
}

func TestCommand_Kill(t *testing.T) {
	bin := writeScript(t, "exec sleep 30")
	cmd := NewCommandBuilder(bin).Input("x").Build()

	require.NoError(t, cmd.Start(context.Background()))
	_, exited := cmd.Exited()
	assert.False(t, exited)

	require.NoError(t, cmd.Kill())
	select {
	case <-cmd.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process was not killed")
	}
	code, exited := cmd.Exited()
	assert.True(t, exited)
	assert.NotEqual(t, 0, code)
	assert.NoError(t, cmd.Kill())
}

func TestCommand_StartFailure(t *testing.T) {
	cmd := NewCommandBuilder("/nonexistent/ffmpeg").Input("x").Build()
	assert.Error(t, cmd.Start(context.Background()))
	assert.ErrorIs(t, cmd.Wait(), ErrNotStarted)
	assert.Equal(t, 0, cmd.Pid())
}

func TestProcessMonitor(t *testing.T) {
	bin := writeScript(t, "exec sleep 2")
	cmd := NewCommandBuilder(bin).Input("x").Build()
	require.NoError(t, cmd.Start(context.Background()))
	defer func() { _ = cmd.Kill() }()

	mon := NewProcessMonitor(cmd.Pid(), 50*time.Millisecond)
	mon.Start(context.Background())
	time.Sleep(200 * time.Millisecond)
	mon.Stop()

	stats := mon.Stats()
	assert.Equal(t, cmd.Pid(), stats.PID)
	assert.Greater(t, stats.PeakRSSBytes, uint64(0))
	assert.GreaterOrEqual(t, stats.PeakRSSBytes, stats.RSSBytes)
}

func TestParseProbeOutput(t *testing.T) {
	output := []byte(`{
		"streams": [
			{"index": 0, "codec_name": "mjpeg", "codec_type": "video", "width": 300, "height": 300, "disposition": {"attached_pic": 1}},
			{"index": 1, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080, "duration": "12.5"},
			{"index": 2, "codec_name": "aac", "codec_type": "audio", "sample_rate": "48000", "channels": 2}
		],
		"format": {"filename": "in.mp4", "nb_streams": 3, "format_name": "mov,mp4", "duration": "12.480000"}
	}`)

	result, err := ParseProbeOutput(output)
	require.NoError(t, err)

	src, err := result.Source()
	require.NoError(t, err)
	assert.Equal(t, 1920, src.Width)
	assert.Equal(t, 1080, src.Height)
	assert.Equal(t, "h264", src.VideoCodec)
	assert.True(t, src.HasAudio)
	assert.InDelta(t, 12.48, src.Duration, 0.001)

	_, err = (&ProbeResult{}).Source()
	assert.ErrorIs(t, err, ErrNoVideoStream)

	_, err = ParseProbeOutput([]byte("not json"))
	assert.Error(t, err)
}

func TestProber_Script(t *testing.T) {
	bin := writeScript(t, `echo '{"streams":[{"codec_type":"video","codec_name":"h264","width":640,"height":360}],"format":{"duration":"3.0"}}'`)

	src, err := NewProber(bin).WithTimeout(5*time.Second).Source(context.Background(), "/in.mp4")
	require.NoError(t, err)
	assert.Equal(t, 640, src.Width)
	assert.Equal(t, 360, src.Height)
	assert.Equal(t, 3.0, src.Duration)
}

func TestParseVersion(t *testing.T) {
	output := "ffmpeg version n6.1.1-3-gabc Copyright (c) 2000-2023 the FFmpeg developers\n" +
		"built with gcc 13.2.1\n" +
		"configuration: --enable-libx264\n"

	info := &BinaryInfo{}
	require.NoError(t, parseVersion(output, info))
	assert.Equal(t, "n6.1.1-3-gabc", info.Version)
	assert.Equal(t, 6, info.MajorVersion)
	assert.Equal(t, 1, info.MinorVersion)
	assert.Equal(t, "gcc 13.2.1", info.BuildDate)
	assert.Equal(t, "--enable-libx264", info.Configuration)

	assert.Error(t, parseVersion("garbage", &BinaryInfo{}))
}

func TestParseEncoders(t *testing.T) {
	output := "Encoders:\n" +
		" V..... = Video\n" +
		" ------\n" +
		" V....D libx264              libx264 H.264 / AVC\n" +
		" A....D aac                  AAC (Advanced Audio Coding)\n"

	info := &BinaryInfo{Encoders: parseEncoders(output)}
	assert.Equal(t, []string{"libx264", "aac"}, info.Encoders)
	assert.Empty(t, info.MissingEncoders())

	assert.Equal(t, []string{"h264", "aac"}, (&BinaryInfo{}).MissingEncoders())
}

func TestBinaryDetector_Detect(t *testing.T) {
	skipIfNoFFmpeg(t)

	detector := NewBinaryDetector("", "").WithCacheTTL(time.Hour)
	info1, err := detector.Detect(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, info1.FFmpegPath)
	assert.Greater(t, info1.MajorVersion, 0)

	info2, err := detector.Detect(context.Background())
	require.NoError(t, err)
	assert.Same(t, info1, info2)

	detector.Clear()
	info3, err := detector.Detect(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, info1, info3)
}

func TestBinaryDetector_ConfiguredScript(t *testing.T) {
	bin := writeScript(t, `if [ "$1" = "-version" ]; then echo "ffmpeg version 7.0 Copyright"; fi`)

	info, err := NewBinaryDetector(bin, "/nonexistent/ffprobe").Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bin, info.FFmpegPath)
	assert.Empty(t, info.FFprobePath)
	assert.Equal(t, 7, info.MajorVersion)
}
