package models

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// DownloadingMarker prefixes FileURL while a download is in progress.
const DownloadingMarker = "[DOWNLOADING] "

// DownloadingToken is what the download queue matches to detect an active download.
const DownloadingToken = "[DOWNLOADING]"

// remarkTimeLayout renders remark timestamps as "2006-01-02 03:04:05 PM".
const remarkTimeLayout = "2006-01-02 03:04:05 PM"

// VideoStream is a source video and the state of its conversion into
// streaming formats.
type VideoStream struct {
	BaseModel

	// Title is the unique human-readable name.
	Title string `gorm:"not null;size:255;uniqueIndex" json:"title"`

	// File is the absolute path of the source video, nil until uploaded or downloaded.
	File *string `gorm:"size:1024" json:"file,omitempty"`

	// FileURL is a link the source can be downloaded from. While a download runs
	// it carries DownloadingMarker as a prefix.
	FileURL *string `gorm:"size:2048" json:"file_url,omitempty"`

	// Thumbnail is the absolute path of the generated or uploaded thumbnail.
	Thumbnail *string `gorm:"size:1024" json:"thumbnail,omitempty"`

	// ProcessID is the pid of the ffmpeg process working on this video.
	ProcessID *int `gorm:"index" json:"process_id,omitempty"`

	HLSReady  bool `gorm:"not null;default:false;index" json:"hls_ready"`
	DASHReady bool `gorm:"not null;default:false;index" json:"dash_ready"`

	DateProcessed *time.Time `json:"date_processed,omitempty"`
	DateFinished  *time.Time `json:"date_finished,omitempty"`

	// Remarks is the append-only diagnostic log, see AddRemark.
	Remarks string `gorm:"type:text" json:"remarks"`

	// Source attributes filled in by probing.
	Width    int     `gorm:"not null;default:0" json:"width"`
	Height   int     `gorm:"not null;default:0" json:"height"`
	Duration float64 `gorm:"not null;default:0" json:"duration"`
}

// TableName returns the table name for VideoStream.
func (VideoStream) TableName() string {
	return "video_streams"
}

// HashedID is the upper-case hex SHA-256 of the id, used as the output
// directory name.
func (v *VideoStream) HashedID() string {
	if v.ID.IsZero() {
		return ""
	}
	sum := sha256.Sum256([]byte(v.ID.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// HasFile reports whether a source file is set.
func (v *VideoStream) HasFile() bool {
	return v.File != nil && *v.File != ""
}

// FilePath returns the source path or an empty string.
func (v *VideoStream) FilePath() string {
	if v.File == nil {
		return ""
	}
	return *v.File
}

// HasLink reports whether a download link is set.
func (v *VideoStream) HasLink() bool {
	return v.FileURL != nil && *v.FileURL != ""
}

// Link returns the download link without the in-progress marker.
func (v *VideoStream) Link() string {
	if v.FileURL == nil {
		return ""
	}
	return strings.TrimSpace(strings.ReplaceAll(*v.FileURL, DownloadingMarker, ""))
}

// IsDownloading reports whether the link carries the in-progress marker.
func (v *VideoStream) IsDownloading() bool {
	return v.FileURL != nil && strings.Contains(strings.ToUpper(*v.FileURL), DownloadingToken)
}

// IsProcessing reports whether an ffmpeg process is attached.
func (v *VideoStream) IsProcessing() bool {
	return v.ProcessID != nil
}

// FileRoot returns the source file name without directory or extension.
func (v *VideoStream) FileRoot() string {
	if !v.HasFile() {
		return ""
	}
	base := filepath.Base(*v.File)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// SupportedStreams lists the playable forms of this video.
func (v *VideoStream) SupportedStreams() []string {
	var modes []string
	if v.HasFile() {
		modes = append(modes, "raw")
	}
	if v.HLSReady {
		modes = append(modes, "hls")
	}
	if v.DASHReady {
		modes = append(modes, "dash")
	}
	return modes
}

// FormatRemark renders a remark entry stamped with now.
func FormatRemark(now time.Time, text string) string {
	return "[" + now.Format(remarkTimeLayout) + "] " + text
}

// AddRemark appends a quoted, timestamped entry to the remark log.
// Entries are comma-joined: `"first", "second"`.
func (v *VideoStream) AddRemark(now time.Time, text string) {
	entry := `"` + FormatRemark(now, text) + `"`
	if v.Remarks == "" {
		v.Remarks = entry
		return
	}
	v.Remarks = v.Remarks + ", " + entry
}

// Validate checks the record before it is stored. Extensions are compared
// case-insensitively and without the leading dot.
func (v *VideoStream) Validate(videoExts, thumbnailExts []string) error {
	if strings.TrimSpace(v.Title) == "" {
		return ErrTitleRequired
	}
	if !v.HasFile() && !v.HasLink() {
		return ErrSourceRequired
	}
	if v.HasFile() && !HasExtension(*v.File, videoExts) {
		return ErrValidation{Field: "file", Message: "unsupported video extension " + filepath.Ext(*v.File)}
	}
	if v.Thumbnail != nil && *v.Thumbnail != "" && !HasExtension(*v.Thumbnail, thumbnailExts) {
		return ErrValidation{Field: "thumbnail", Message: "unsupported image extension " + filepath.Ext(*v.Thumbnail)}
	}
	return nil
}

// HasExtension reports whether path ends in one of exts.
func HasExtension(path string, exts []string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return false
	}
	return slices.ContainsFunc(exts, func(e string) bool {
		return strings.ToLower(strings.TrimPrefix(e, ".")) == ext
	})
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
