package inspect_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/segmentarr/internal/inspect"
	"github.com/jmylchreest/segmentarr/internal/models"
	"github.com/jmylchreest/segmentarr/internal/observability"
	"github.com/jmylchreest/segmentarr/internal/segmenter"
)

const mediaPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:0
#EXT-X-PLAYLIST-TYPE:VOD
#EXTINF:4.000000,
seg_000.ts
#EXTINF:2.500000,
seg_001.ts
#EXT-X-ENDLIST
`

var (
	sps = []byte{
		0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02, 0x27, 0xe5, 0x84, 0x00,
		0x00, 0x03, 0x00, 0x04, 0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9, 0x20,
	}
	pps = []byte{0x68, 0xee, 0x3c, 0x80}
	idr = []byte{0x65, 0x88, 0x84, 0x00, 0x33}
)

// writeSegment writes a short TS segment with one H.264 and one AAC track.
func writeSegment(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	video := &mpegts.Track{PID: 256, Codec: &mpegts.CodecH264{}}
	audio := &mpegts.Track{PID: 257, Codec: &mpegts.CodecMPEG4Audio{
		Config: mpeg4audio.AudioSpecificConfig{
			Type:         mpeg4audio.ObjectTypeAACLC,
			SampleRate:   48000,
			ChannelCount: 2,
		},
	}}

	w := &mpegts.Writer{W: f, Tracks: []*mpegts.Track{video, audio}}
	require.NoError(t, w.Initialize())

	for n := int64(0); n < 3; n++ {
		pts := n * 3000
		require.NoError(t, w.WriteH264(video, pts, pts, [][]byte{sps, pps, idr}))
		require.NoError(t, w.WriteMPEG4Audio(audio, pts, [][]byte{{0x01, 0x02, 0x03, 0x04}}))
	}
}

func writeTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	master, err := segmenter.MasterManifest([]models.ResolutionSpec{
		{Size: "1280x720", Bitrate: "2800k"},
		{Size: "640x360", Bitrate: "800k"},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, segmenter.MasterPlaylist), master, 0o644))

	variant := filepath.Join(dir, "1280x720")
	require.NoError(t, os.MkdirAll(variant, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(variant, "1280x720.m3u8"), []byte(mediaPlaylist), 0o644))
	writeSegment(t, filepath.Join(variant, "seg_000.ts"))
	return dir
}

func TestInspector_Inspect(t *testing.T) {
	dir := writeTree(t)
	i := inspect.New().WithLogger(observability.Discard())

	report, err := i.Inspect(context.Background(), filepath.Join(dir, segmenter.MasterPlaylist))
	require.NoError(t, err)
	require.Len(t, report.Variants, 2)

	hd := report.Variants[0]
	assert.Equal(t, "1280x720/1280x720.m3u8", hd.URI)
	assert.Equal(t, "1280x720", hd.Resolution)
	assert.Equal(t, 2800000, hd.Bandwidth)
	assert.Equal(t, 2, hd.Segments)
	assert.Equal(t, 6500*time.Millisecond, hd.Duration)
	assert.True(t, hd.Complete)
	assert.Empty(t, hd.Error)
	require.Len(t, hd.Tracks, 2)

	codecs := map[string]inspect.Track{}
	for _, tr := range hd.Tracks {
		codecs[tr.Codec] = tr
	}
	require.Contains(t, codecs, "h264")
	require.Contains(t, codecs, "aac")
	assert.Equal(t, uint16(256), codecs["h264"].PID)
	assert.GreaterOrEqual(t, codecs["h264"].Samples, 1)
	assert.GreaterOrEqual(t, codecs["aac"].Samples, 1)

	// The second variant has no playlist on disk.
	sd := report.Variants[1]
	assert.Equal(t, "640x360", sd.Resolution)
	assert.NotEmpty(t, sd.Error)
	assert.Zero(t, sd.Segments)
}

func TestInspector_Inspect_Errors(t *testing.T) {
	i := inspect.New().WithLogger(observability.Discard())

	t.Run("missing master", func(t *testing.T) {
		_, err := i.Inspect(context.Background(), filepath.Join(t.TempDir(), "master.m3u8"))
		assert.Error(t, err)
	})

	t.Run("media playlist as master", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "master.m3u8")
		require.NoError(t, os.WriteFile(path, []byte(mediaPlaylist), 0o644))
		_, err := i.Inspect(context.Background(), path)
		assert.ErrorIs(t, err, inspect.ErrNotMultivariant)
	})

	t.Run("cancelled", func(t *testing.T) {
		dir := writeTree(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := i.Inspect(ctx, filepath.Join(dir, segmenter.MasterPlaylist))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestInspector_Segment_NotTS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg_000.ts")
	require.NoError(t, os.WriteFile(path, []byte("not a transport stream"), 0o644))

	_, err := inspect.New().WithLogger(observability.Discard()).Segment(context.Background(), path)
	assert.Error(t, err)
}

func TestCodecName(t *testing.T) {
	assert.Equal(t, "h264", inspect.CodecName(&mpegts.CodecH264{}))
	assert.Equal(t, "hevc", inspect.CodecName(&mpegts.CodecH265{}))
	assert.Equal(t, "aac", inspect.CodecName(&mpegts.CodecMPEG4Audio{}))
	assert.Equal(t, "opus", inspect.CodecName(&mpegts.CodecOpus{}))
	assert.Equal(t, "unsupported", inspect.CodecName(&mpegts.CodecUnsupported{}))
}
