// Package memory estimates the working memory of a segmentation run and
// picks the processing strategy the host can afford.
package memory

import (
	"math"

	"github.com/jmylchreest/segmentarr/internal/models"
)

const (
	// bytesPerPixel assumes 24-bit RGB frames.
	bytesPerPixel = 3
	// bufferedFrames is the number of frames ffmpeg is assumed to hold per rendition.
	bufferedFrames = 40
	// overheadMB is the fixed allowance for the ffmpeg process itself.
	overheadMB = 256
)

// Estimate is the expected peak memory, in MB, of each strategy.
// The zero value is the failure sentinel.
type Estimate struct {
	SequentialMB float64 `json:"sequential_mb"`
	BulkMB       float64 `json:"bulk_mb"`
}

// IsZero reports whether the estimate is the failure sentinel.
func (e Estimate) IsZero() bool {
	return e.SequentialMB == 0 && e.BulkMB == 0
}

// ParseResolution parses "WxH". Anything else yields (0, 0).
func ParseResolution(s string) (w, h int) {
	return models.ParseResolution(s)
}

// PerFrameCost is the size in bytes of one decoded frame.
func PerFrameCost(w, h int) int64 {
	return int64(w) * int64(h) * bytesPerPixel
}

// PerResolutionMB is the buffered frame memory of one rendition in MB,
// rounded to two decimals. Unparseable input costs 0.
func PerResolutionMB(res string) float64 {
	w, h := ParseResolution(res)
	return round2(float64(PerFrameCost(w, h)*bufferedFrames) / (1024 * 1024))
}

// EstimateTotal combines the source cost with the ladder. Sequential runs
// hold one rendition at a time, bulk runs hold all of them.
func EstimateTotal(sourceRawMB float64, ladder []models.ResolutionSpec) Estimate {
	if sourceRawMB <= 0 || len(ladder) == 0 {
		return Estimate{}
	}

	var largest, sum float64
	for _, r := range ladder {
		cost := PerResolutionMB(r.Size)
		if cost == 0 {
			return Estimate{}
		}
		largest = math.Max(largest, cost)
		sum += cost
	}

	return Estimate{
		SequentialMB: round2(largest + sourceRawMB + overheadMB),
		BulkMB:       round2(sum + sourceRawMB + overheadMB),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
