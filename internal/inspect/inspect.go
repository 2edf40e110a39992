// Package inspect reads back the HLS output of a video: the master playlist,
// every variant playlist and the elementary streams of the first segment.
package inspect

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/segmentarr/internal/observability"
)

// ErrNotMultivariant is returned when the master path holds a media playlist.
var ErrNotMultivariant = errors.New("not a multivariant playlist")

// Report describes an HLS output tree.
type Report struct {
	MasterPath string    `json:"master_path"`
	Version    int       `json:"version"`
	Variants   []Variant `json:"variants"`
}

// Variant is one rendition listed in the master playlist.
type Variant struct {
	URI        string        `json:"uri"`
	Resolution string        `json:"resolution"`
	Bandwidth  int           `json:"bandwidth"`
	Segments   int           `json:"segments"`
	Duration   time.Duration `json:"duration"`
	Complete   bool          `json:"complete"`
	Tracks     []Track       `json:"tracks,omitempty"`
	// Error is set when the variant playlist or its first segment could not be read.
	Error string `json:"error,omitempty"`
}

// Track is an elementary stream found in a segment.
type Track struct {
	PID     uint16 `json:"pid"`
	Codec   string `json:"codec"`
	Samples int    `json:"samples"`
}

// Inspector reads HLS trees.
type Inspector struct {
	logger *slog.Logger
}

// New creates an Inspector.
func New() *Inspector {
	return &Inspector{logger: slog.Default()}
}

// WithLogger sets a custom logger.
func (i *Inspector) WithLogger(logger *slog.Logger) *Inspector {
	i.logger = observability.WithComponent(logger, "inspect")
	return i
}

// Inspect parses the master playlist at masterPath. Problems with a single
// variant are reported on that variant; only an unreadable master fails.
func (i *Inspector) Inspect(ctx context.Context, masterPath string) (*Report, error) {
	data, err := os.ReadFile(masterPath)
	if err != nil {
		return nil, fmt.Errorf("reading master playlist: %w", err)
	}
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parsing master playlist: %w", err)
	}
	mv, ok := pl.(*playlist.Multivariant)
	if !ok {
		return nil, ErrNotMultivariant
	}

	report := &Report{
		MasterPath: masterPath,
		Version:    mv.Version,
		Variants:   make([]Variant, 0, len(mv.Variants)),
	}
	base := filepath.Dir(masterPath)
	for _, v := range mv.Variants {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		variant := Variant{URI: v.URI, Resolution: v.Resolution, Bandwidth: v.Bandwidth}
		if err := i.variant(ctx, filepath.Join(base, filepath.FromSlash(v.URI)), &variant); err != nil {
			variant.Error = err.Error()
			i.logger.Warn("variant unreadable",
				slog.String("uri", v.URI),
				slog.String("error", err.Error()))
		}
		report.Variants = append(report.Variants, variant)
	}
	return report, nil
}

func (i *Inspector) variant(ctx context.Context, path string, out *Variant) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading media playlist: %w", err)
	}
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("parsing media playlist: %w", err)
	}
	media, ok := pl.(*playlist.Media)
	if !ok {
		return fmt.Errorf("%s is not a media playlist", filepath.Base(path))
	}

	out.Segments = len(media.Segments)
	out.Complete = media.Endlist
	for _, seg := range media.Segments {
		out.Duration += seg.Duration
	}
	if len(media.Segments) == 0 {
		return nil
	}

	segPath := filepath.Join(filepath.Dir(path), filepath.FromSlash(media.Segments[0].URI))
	tracks, err := i.Segment(ctx, segPath)
	if err != nil {
		return err
	}
	out.Tracks = tracks
	return nil
}

// Segment demuxes an MPEG-TS segment and lists its tracks with the number of
// access units found for each.
func (i *Inspector) Segment(ctx context.Context, path string) ([]Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment: %w", err)
	}
	defer f.Close()

	r := &mpegts.Reader{R: bufio.NewReader(f)}
	if err := r.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing mpegts reader: %w", err)
	}

	decodeErrors := 0
	r.OnDecodeError(func(err error) {
		decodeErrors++
		i.logger.Debug("segment decode error", slog.String("error", err.Error()))
	})

	tracks := make([]Track, len(r.Tracks()))
	for n, track := range r.Tracks() {
		tracks[n] = Track{PID: track.PID, Codec: CodecName(track.Codec)}
		count := &tracks[n].Samples
		switch track.Codec.(type) {
		case *mpegts.CodecH264:
			r.OnDataH264(track, func(_, _ int64, _ [][]byte) error {
				*count++
				return nil
			})
		case *mpegts.CodecH265:
			r.OnDataH265(track, func(_, _ int64, _ [][]byte) error {
				*count++
				return nil
			})
		case *mpegts.CodecMPEG4Audio:
			r.OnDataMPEG4Audio(track, func(_ int64, aus [][]byte) error {
				*count += len(aus)
				return nil
			})
		case *mpegts.CodecAC3:
			r.OnDataAC3(track, func(_ int64, _ []byte) error {
				*count++
				return nil
			})
		case *mpegts.CodecOpus:
			r.OnDataOpus(track, func(_ int64, packets [][]byte) error {
				*count += len(packets)
				return nil
			})
		case *mpegts.CodecMPEG1Audio:
			r.OnDataMPEG1Audio(track, func(_ int64, frames [][]byte) error {
				*count += len(frames)
				return nil
			})
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.Read(); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, fmt.Errorf("reading segment: %w", err)
		}
	}

	if decodeErrors > 0 {
		i.logger.Debug("segment read with decode errors",
			slog.String("path", path),
			slog.Int("errors", decodeErrors))
	}
	return tracks, nil
}

// CodecName names an mpegts codec the way ffprobe does.
func CodecName(c mpegts.Codec) string {
	switch c.(type) {
	case *mpegts.CodecH264:
		return "h264"
	case *mpegts.CodecH265:
		return "hevc"
	case *mpegts.CodecMPEG1Video:
		return "mpeg1video"
	case *mpegts.CodecMPEG4Video:
		return "mpeg4"
	case *mpegts.CodecMPEG4Audio:
		return "aac"
	case *mpegts.CodecAC3:
		return "ac3"
	case *mpegts.CodecEAC3:
		return "eac3"
	case *mpegts.CodecMPEG1Audio:
		return "mp3"
	case *mpegts.CodecOpus:
		return "opus"
	default:
		return "unsupported"
	}
}
