// Package progress estimates how far a conversion has come by reading the
// key=value progress files ffmpeg appends to while it encodes.
package progress

import (
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/jmylchreest/segmentarr/internal/models"
	"github.com/jmylchreest/segmentarr/internal/segmenter"
)

var outTimePattern = regexp.MustCompile(`out_time=(\d+):(\d+):(\d+(?:\.\d+)?)`)

// SecondsDone returns the encoded position recorded in a progress file,
// taken from its last out_time entry. Unreadable or empty files count as 0.
func SecondsDone(path string) float64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	return ParseOutTime(string(data))
}

// ParseOutTime returns the last out_time in ffmpeg progress output, in seconds.
func ParseOutTime(content string) float64 {
	matches := outTimePattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return 0
	}
	m := matches[len(matches)-1]
	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	s, _ := strconv.ParseFloat(m[3], 64)
	return round2(float64(h*3600+mins*60) + s)
}

// Report is the conversion progress of one video.
type Report struct {
	Duration    float64 `json:"duration"`
	HLSSeconds  float64 `json:"hls_seconds"`
	DASHSeconds float64 `json:"dash_seconds"`
	HLSPercent  float64 `json:"hls_percent"`
	DASHPercent float64 `json:"dash_percent"`
	Percent     float64 `json:"percent"`
}

// Tracker builds reports from the output directories.
type Tracker struct {
	layout    segmenter.Layout
	ladder    []models.ResolutionSpec
	allowHLS  bool
	allowDASH bool
}

// NewTracker creates a tracker for the configured formats and ladder.
func NewTracker(layout segmenter.Layout, ladder []models.ResolutionSpec, allowHLS, allowDASH bool) *Tracker {
	return &Tracker{layout: layout, ladder: ladder, allowHLS: allowHLS, allowDASH: allowDASH}
}

// Report computes the progress of v. A video that never started converting
// reports zero.
func (t *Tracker) Report(v *models.VideoStream) Report {
	if v.DateProcessed == nil {
		return Report{}
	}

	r := Report{Duration: v.Duration}
	resolutions := models.SupportedResolutions(t.ladder, v.Height)

	if t.allowHLS && !v.HLSReady {
		r.HLSSeconds = secondsIn(t.layout.HLSDir(v), len(resolutions), true)
	}
	if t.allowDASH && !v.DASHReady {
		r.DASHSeconds = secondsIn(t.layout.DASHDir(v), len(resolutions), false)
	}

	r.HLSPercent = percent(!t.allowHLS || v.HLSReady, r.HLSSeconds, v.Duration)
	r.DASHPercent = percent(!t.allowDASH || v.DASHReady, r.DASHSeconds, v.Duration)
	r.Percent = round2((r.HLSPercent + r.DASHPercent) / 2)
	return r
}

// secondsIn reads the progress files of one format directory. all.txt,
// written by bulk runs, wins; otherwise per-resolution files are averaged
// over the ladder when perResolution is set.
func secondsIn(dir string, resolutions int, perResolution bool) float64 {
	if dir == "" || resolutions == 0 {
		return 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".txt" {
			continue
		}
		if e.Name() == segmenter.AllProgressFile {
			return SecondsDone(filepath.Join(dir, e.Name()))
		}
		if perResolution {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return 0
	}

	var total float64
	for _, f := range files {
		total += SecondsDone(f)
	}
	return round2(total / float64(resolutions))
}

func percent(done bool, seconds, duration float64) float64 {
	switch {
	case done:
		return 100
	case duration <= 0:
		return 0
	case seconds >= duration:
		return 100
	}
	return round2(seconds / duration * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
