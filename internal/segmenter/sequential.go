package segmenter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmylchreest/segmentarr/internal/ffmpeg"
	"github.com/jmylchreest/segmentarr/internal/models"
)

const sequentialPrefix = "Sequential HLS segmentation error: "

// Sequential encodes the HLS variants one resolution at a time, then writes
// a master playlist listing the variants that succeeded. A failed resolution
// is skipped; deletion of the record aborts the whole run without a playlist.
// It reports whether a playable master playlist was written.
func (s *Service) Sequential(ctx context.Context, video *models.VideoStream, ladder []models.ResolutionSpec) bool {
	hlsDir, err := ensureDir(s.opts.Layout.HLSDir(video))
	if err != nil {
		return s.fail(ctx, video, fmt.Sprintf("%sCould not resolve hls dir %q", sequentialPrefix, s.opts.Layout.HLSDir(video)))
	}
	if !video.HasFile() {
		return s.fail(ctx, video, sequentialPrefix+"Raw File field of instance "+video.Title+" is not yet populated!")
	}

	var produced []models.ResolutionSpec
	for _, r := range ladder {
		if ctx.Err() != nil {
			return false
		}

		resDir := filepath.Join(hlsDir, r.Size)
		if err := os.MkdirAll(resDir, 0o755); err != nil {
			return s.fail(ctx, video, sequentialPrefix+err.Error())
		}

		outcome := s.sup.Run(ctx, s.sequentialCommand(video, hlsDir, r), video, r.Size)
		if outcome.IsDeleted() {
			return false
		}
		if outcome.IsSuccess() {
			produced = append(produced, r)
		}
	}

	if len(produced) == 0 {
		return false
	}
	if err := writeMaster(hlsDir, produced); err != nil {
		return s.fail(ctx, video, sequentialPrefix+err.Error())
	}
	return true
}

func (s *Service) sequentialCommand(video *models.VideoStream, hlsDir string, r models.ResolutionSpec) *ffmpeg.Command {
	resDir := filepath.Join(hlsDir, r.Size)
	return s.encoder(video).
		VideoFilter("scale="+r.Size).
		AudioCodec(audioCodec).
		AudioSampleRate(audioSampleRate).
		VideoCodec(videoCodec).
		OutputArgs(
			"-profile:v", videoProfile,
			"-crf", crf,
			"-sc_threshold", "0",
			"-g", gopSize,
			"-keyint_min", gopSize,
			"-hls_time", segmentSeconds,
			"-hls_playlist_type", "event",
		).
		VideoBitrate(r.Bitrate).
		OutputArgs("-maxrate", r.Bitrate, "-bufsize", r.BufSize()).
		AudioBitrate(audioBitrate).
		OutputArgs("-hls_segment_filename", filepath.Join(resDir, "seg_%03d.ts")).
		Progress(filepath.Join(hlsDir, r.Size+".txt")).
		Output(filepath.Join(resDir, r.Size+".m3u8")).
		Build()
}
