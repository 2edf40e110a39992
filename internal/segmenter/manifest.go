package segmenter

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/jmylchreest/segmentarr/internal/models"
)

// MasterManifest renders the multivariant playlist listing one variant per
// resolution, in the order given.
//
// The STREAM-INF lines carry BANDWIDTH and RESOLUTION only. gohlslib's
// Marshal always emits a CODECS attribute, empty when unknown, so the lines
// are written here and the result is parsed back with gohlslib to check it.
func MasterManifest(variants []models.ResolutionSpec) ([]byte, error) {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	for _, r := range variants {
		b.WriteString("#EXT-X-STREAM-INF:BANDWIDTH=")
		b.WriteString(strconv.Itoa(r.Bandwidth()))
		b.WriteString(",RESOLUTION=")
		b.WriteString(r.Size)
		b.WriteByte('\n')
		b.WriteString(VariantPlaylist(r.Size))
		b.WriteByte('\n')
	}

	data := []byte(b.String())
	if len(variants) == 0 {
		return data, nil
	}
	if _, err := playlist.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("invalid master playlist: %w", err)
	}
	return data, nil
}

// writeMaster writes master.m3u8 into dir, replacing any previous one.
func writeMaster(dir string, variants []models.ResolutionSpec) error {
	data, err := MasterManifest(variants)
	if err != nil {
		return fmt.Errorf("rendering master playlist: %w", err)
	}

	path := filepath.Join(dir, MasterPlaylist)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing master playlist: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing master playlist: %w", err)
	}
	return nil
}
