// Package ffmpeg locates the ffmpeg and ffprobe binaries, builds ffmpeg
// command lines and runs them.
package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/segmentarr/internal/util"
)

// Environment variables consulted when no path is configured.
const (
	FFmpegEnvVar  = "SEGMENTARR_FFMPEG_BINARY"
	FFprobeEnvVar = "SEGMENTARR_FFPROBE_BINARY"
)

// RequiredEncoders are the encoders every segmentation command uses.
var RequiredEncoders = []string{"aac"}

// h264Encoders are the encoders ffmpeg may resolve "-c:v h264" to.
var h264Encoders = []string{"libx264", "h264", "libopenh264", "h264_nvenc", "h264_qsv", "h264_vaapi", "h264_videotoolbox"}

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// BinaryInfo contains information about the FFmpeg/FFprobe installation.
type BinaryInfo struct {
	FFmpegPath    string   `json:"ffmpeg_path"`
	FFprobePath   string   `json:"ffprobe_path"`
	Version       string   `json:"version"`
	MajorVersion  int      `json:"major_version"`
	MinorVersion  int      `json:"minor_version"`
	BuildDate     string   `json:"build_date,omitempty"`
	Configuration string   `json:"configuration,omitempty"`
	Encoders      []string `json:"encoders,omitempty"`
}

// HasEncoder reports whether ffmpeg lists the named encoder.
func (i *BinaryInfo) HasEncoder(name string) bool {
	return slices.Contains(i.Encoders, name)
}

// MissingEncoders lists what segmentation needs but this build lacks.
func (i *BinaryInfo) MissingEncoders() []string {
	var missing []string
	if !slices.ContainsFunc(h264Encoders, i.HasEncoder) {
		missing = append(missing, "h264")
	}
	for _, enc := range RequiredEncoders {
		if !i.HasEncoder(enc) {
			missing = append(missing, enc)
		}
	}
	return missing
}

// BinaryDetector handles detection and caching of FFmpeg binaries.
type BinaryDetector struct {
	ffmpegPath  string
	ffprobePath string

	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewBinaryDetector creates a detector. Empty paths are looked up through
// the environment, the working directory and PATH.
func NewBinaryDetector(ffmpegPath, ffprobePath string) *BinaryDetector {
	return &BinaryDetector{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		cacheTTL:    5 * time.Minute,
	}
}

// WithCacheTTL sets the cache TTL for binary detection.
func (d *BinaryDetector) WithCacheTTL(ttl time.Duration) *BinaryDetector {
	d.cacheTTL = ttl
	return d
}

// FFmpegPath resolves the ffmpeg binary without running it.
func (d *BinaryDetector) FFmpegPath() (string, error) {
	return util.FindBinary("ffmpeg", d.ffmpegPath, FFmpegEnvVar)
}

// FFprobePath resolves the ffprobe binary without running it.
func (d *BinaryDetector) FFprobePath() (string, error) {
	return util.FindBinary("ffprobe", d.ffprobePath, FFprobeEnvVar)
}

// Detect detects FFmpeg and FFprobe binaries and their capabilities.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}

	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// Clear clears the cached binary information.
func (d *BinaryDetector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = nil
}

func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	ffmpegPath, err := d.FFmpegPath()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	info := &BinaryInfo{FFmpegPath: ffmpegPath}

	// ffprobe is optional; without it sources keep unknown dimensions.
	if ffprobePath, err := d.FFprobePath(); err == nil {
		info.FFprobePath = ffprobePath
	}

	output, err := exec.CommandContext(ctx, ffmpegPath, "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	if err := parseVersion(string(output), info); err != nil {
		return nil, err
	}

	if output, err := exec.CommandContext(ctx, ffmpegPath, "-encoders", "-hide_banner").Output(); err == nil {
		info.Encoders = parseEncoders(string(output))
	}

	return info, nil
}

// parseVersion reads the banner printed by "ffmpeg -version".
func parseVersion(output string, info *BinaryInfo) error {
	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.HasPrefix(line, "ffmpeg version"):
			// "ffmpeg version 6.0 Copyright..." or "ffmpeg version n6.0-2-g..."
			parts := strings.Fields(line)
			if len(parts) < 3 {
				continue
			}
			info.Version = parts[2]
			if m := versionRegex.FindStringSubmatch(parts[2]); len(m) >= 3 {
				info.MajorVersion, _ = strconv.Atoi(m[1])
				info.MinorVersion, _ = strconv.Atoi(m[2])
			}
		case strings.HasPrefix(line, "built with"):
			info.BuildDate = strings.TrimPrefix(line, "built with ")
		case strings.HasPrefix(line, "configuration:"):
			info.Configuration = strings.TrimPrefix(line, "configuration: ")
		}
	}

	if info.Version == "" {
		return fmt.Errorf("failed to parse ffmpeg version")
	}
	return nil
}

// parseEncoders reads the table printed by "ffmpeg -encoders".
func parseEncoders(output string) []string {
	var encoders []string
	inList := false

	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}

		// Format: V....D encoder_name description
		line = strings.TrimLeft(line, " ")
		if len(line) < 8 || (line[0] != 'V' && line[0] != 'A' && line[0] != 'S') {
			continue
		}
		if parts := strings.Fields(line[6:]); len(parts) >= 1 {
			encoders = append(encoders, parts[0])
		}
	}

	return encoders
}
