package segmenter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmylchreest/segmentarr/internal/models"
)

// ErrNoOutputDir is returned when an output directory cannot be derived for a video.
var ErrNoOutputDir = errors.New("output directory not configured")

const (
	// MasterPlaylist is the HLS multivariant playlist name.
	MasterPlaylist = "master.m3u8"
	// DASHManifest is the MPEG-DASH manifest name.
	DASHManifest = "manifest.mpd"
	// AllProgressFile receives progress of bulk runs.
	AllProgressFile = "all.txt"
)

// Layout places the outputs of a video under per-format roots. Each video
// gets a directory named after its hashed id.
type Layout struct {
	HLSRoot  string
	DASHRoot string
}

// HLSDir returns the HLS output directory of v without creating it.
func (l Layout) HLSDir(v *models.VideoStream) string {
	return dirUnder(l.HLSRoot, v)
}

// DASHDir returns the DASH output directory of v without creating it.
func (l Layout) DASHDir(v *models.VideoStream) string {
	return dirUnder(l.DASHRoot, v)
}

// MasterPath is where the HLS master playlist of v lives.
func (l Layout) MasterPath(v *models.VideoStream) string {
	dir := l.HLSDir(v)
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, MasterPlaylist)
}

// ManifestPath is where the DASH manifest of v lives.
func (l Layout) ManifestPath(v *models.VideoStream) string {
	dir := l.DASHDir(v)
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, DASHManifest)
}

// VariantPlaylist is the media playlist of one resolution, relative to the HLS dir.
func VariantPlaylist(res string) string {
	return res + "/" + res + ".m3u8"
}

func dirUnder(root string, v *models.VideoStream) string {
	hash := v.HashedID()
	if root == "" || hash == "" {
		return ""
	}
	return filepath.Join(root, hash)
}

// ensureDir resolves and creates an output directory.
func ensureDir(dir string) (string, error) {
	if dir == "" {
		return "", ErrNoOutputDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	return dir, nil
}
