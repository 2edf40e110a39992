package segmenter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jmylchreest/segmentarr/internal/ffmpeg"
	"github.com/jmylchreest/segmentarr/internal/models"
	"github.com/jmylchreest/segmentarr/internal/supervisor"
)

const (
	bulkHLSPrefix  = "Bulk HLS segmentation error: "
	bulkDASHPrefix = "Bulk MPEG-DASH segmentation error: "
)

// notLaunched is the outcome of a run refused before ffmpeg started.
var notLaunched = supervisor.Failed("not launched")

// Bulk encodes every variant of a format in a single ffmpeg run: first HLS,
// then MPEG-DASH when enabled. A deleted record skips the DASH run.
func (s *Service) Bulk(ctx context.Context, video *models.VideoStream, ladder []models.ResolutionSpec) Result {
	var res Result
	if s.opts.AllowHLS {
		var outcome supervisor.Outcome
		res.HLS, outcome = s.BulkHLS(ctx, video, ladder)
		if outcome.IsDeleted() || ctx.Err() != nil {
			return res
		}
	}
	if s.opts.AllowDASH {
		res.DASH = s.BulkDASH(ctx, video, ladder)
	}
	return res
}

// BulkHLS runs the single-pass HLS encode and writes the master playlist
// when it succeeds.
func (s *Service) BulkHLS(ctx context.Context, video *models.VideoStream, ladder []models.ResolutionSpec) (bool, supervisor.Outcome) {
	hlsDir, ok := s.bulkPreconditions(ctx, video, ladder, bulkHLSPrefix, "hls root", s.opts.Layout.HLSDir(video))
	if !ok {
		return false, notLaunched
	}

	for _, r := range ladder {
		if err := os.MkdirAll(filepath.Join(hlsDir, r.Size), 0o755); err != nil {
			return s.fail(ctx, video, bulkHLSPrefix+err.Error()), notLaunched
		}
	}

	outcome := s.sup.Run(ctx, s.bulkHLSCommand(video, hlsDir, ladder), video, LabelBulkHLS)
	switch {
	case outcome.IsDeleted():
		return false, outcome
	case !outcome.IsSuccess():
		if outcome.Reason == supervisor.ReasonInterrupted {
			return false, outcome
		}
		return s.fail(ctx, video, bulkHLSPrefix+"Process resulted to failure!"), outcome
	}

	if err := writeMaster(hlsDir, ladder); err != nil {
		return s.fail(ctx, video, bulkHLSPrefix+err.Error()), outcome
	}
	return true, outcome
}

// BulkDASH runs the single-pass MPEG-DASH encode; ffmpeg writes the manifest.
func (s *Service) BulkDASH(ctx context.Context, video *models.VideoStream, ladder []models.ResolutionSpec) bool {
	dashDir, ok := s.bulkPreconditions(ctx, video, ladder, bulkDASHPrefix, "dash root", s.opts.Layout.DASHDir(video))
	if !ok {
		return false
	}
	return s.sup.Run(ctx, s.bulkDASHCommand(video, dashDir, ladder), video, LabelBulkDASH).IsSuccess()
}

func (s *Service) bulkPreconditions(ctx context.Context, video *models.VideoStream, ladder []models.ResolutionSpec, prefix, rootName, dir string) (string, bool) {
	if !video.HasFile() {
		return "", s.fail(ctx, video, prefix+"Raw File field of instance "+video.Title+" is not yet populated!")
	}
	resolved, err := ensureDir(dir)
	if err != nil {
		return "", s.fail(ctx, video, fmt.Sprintf("%sCould not resolve %s %q", prefix, rootName, dir))
	}
	if len(ladder) == 0 {
		return "", s.fail(ctx, video, prefix+"Instance "+video.Title+" does not have a list of supported resolutions")
	}
	return resolved, true
}

// SplitGraph builds the filter graph that splits the first video stream into
// one scaled branch per resolution, labelled [v1out]..[vNout].
func SplitGraph(ladder []models.ResolutionSpec) string {
	var split strings.Builder
	split.WriteString("[v:0]split=" + strconv.Itoa(len(ladder)))
	parts := make([]string, 0, len(ladder)+1)
	for i := range ladder {
		split.WriteString(branch(i))
	}
	parts = append(parts, split.String())
	for i, r := range ladder {
		parts = append(parts, branch(i)+"scale="+r.Size+scaled(i))
	}
	return strings.Join(parts, "; ")
}

func branch(i int) string { return "[v" + strconv.Itoa(i+1) + "]" }
func scaled(i int) string { return "[v" + strconv.Itoa(i+1) + "out]" }

func (s *Service) bulkHLSCommand(video *models.VideoStream, hlsDir string, ladder []models.ResolutionSpec) *ffmpeg.Command {
	b := s.encoder(video).
		FilterComplex(SplitGraph(ladder)).
		Progress(filepath.Join(hlsDir, AllProgressFile))

	for i, r := range ladder {
		n := strconv.Itoa(i)
		resDir := filepath.Join(hlsDir, r.Size)
		b.Map(scaled(i)).
			OutputArgs(
				"-c:v:"+n, videoCodec,
				"-profile:v", videoProfile,
				"-crf", crf,
				"-b:v:"+n, r.Bitrate,
				"-maxrate:v:"+n, r.Bitrate,
				"-bufsize:v:"+n, r.BufSize(),
				"-g", gopSize,
				"-keyint_min", gopSize,
			).
			Map("a:0?").
			OutputArgs(
				"-c:a:"+n, audioCodec,
				"-b:a", audioBitrate,
				"-ar", audioSampleRate,
				"-hls_time", segmentSeconds,
				"-hls_playlist_type", "event",
				"-hls_segment_filename", filepath.Join(resDir, "seg_%03d.ts"),
				filepath.Join(resDir, r.Size+".m3u8"),
			)
	}
	return b.Build()
}

func (s *Service) bulkDASHCommand(video *models.VideoStream, dashDir string, ladder []models.ResolutionSpec) *ffmpeg.Command {
	b := s.encoder(video).
		FilterComplex(SplitGraph(ladder)).
		Progress(filepath.Join(dashDir, AllProgressFile))

	for i, r := range ladder {
		n := strconv.Itoa(i)
		b.Map(scaled(i)).
			OutputArgs(
				"-c:v:"+n, videoCodec,
				"-profile:v", videoProfile,
				"-crf", crf,
				"-b:v:"+n, r.Bitrate,
				"-maxrate:v:"+n, r.Bitrate,
				"-bufsize:v:"+n, r.BufSize(),
			)
	}

	return b.Map("a:0?").
		AudioCodec(audioCodec).
		AudioBitrate(audioBitrate).
		AudioSampleRate(audioSampleRate).
		OutputArgs(
			"-f", "dash",
			"-use_template", "1",
			"-use_timeline", "1",
			"-seg_duration", segmentSeconds,
			"-init_seg_name", "init_$RepresentationID$.m4s",
			"-media_seg_name", "chunk_$RepresentationID$_$Number$.m4s",
		).
		Output(filepath.Join(dashDir, DASHManifest)).
		Build()
}
