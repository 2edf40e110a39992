package handlers

import (
	"strings"
	"time"

	"github.com/jmylchreest/segmentarr/internal/models"
	"github.com/jmylchreest/segmentarr/internal/progress"
	"github.com/jmylchreest/segmentarr/internal/segmenter"
	"github.com/jmylchreest/segmentarr/internal/service"
)

// StreamURLs builds public playback URLs from the configured bases.
type StreamURLs struct {
	HLSBase  string
	DASHBase string
}

// HLS returns the master playlist URL of v, empty until HLS is ready.
func (u StreamURLs) HLS(v *models.VideoStream) string {
	if !v.HLSReady || u.HLSBase == "" {
		return ""
	}
	return joinURL(u.HLSBase, v.HashedID(), segmenter.MasterPlaylist)
}

// DASH returns the manifest URL of v, empty until DASH is ready.
func (u StreamURLs) DASH(v *models.VideoStream) string {
	if !v.DASHReady || u.DASHBase == "" {
		return ""
	}
	return joinURL(u.DASHBase, v.HashedID(), segmenter.DASHManifest)
}

func joinURL(base string, parts ...string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.Join(parts, "/")
}

// Video types

// VideoResponse represents a video stream in API responses.
type VideoResponse struct {
	ID               models.ULID `json:"id"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	Title            string      `json:"title"`
	File             string      `json:"file,omitempty"`
	FileURL          string      `json:"file_url,omitempty"`
	Thumbnail        string      `json:"thumbnail,omitempty"`
	HLSReady         bool        `json:"hls_ready"`
	DASHReady        bool        `json:"dash_ready"`
	HLSURL           string      `json:"hls_url,omitempty"`
	DASHURL          string      `json:"dash_url,omitempty"`
	SupportedStreams []string    `json:"supported_streams"`
	Downloading      bool        `json:"downloading"`
	Processing       bool        `json:"processing"`
	DateProcessed    *time.Time  `json:"date_processed,omitempty"`
	DateFinished     *time.Time  `json:"date_finished,omitempty"`
	Width            int         `json:"width"`
	Height           int         `json:"height"`
	Duration         float64     `json:"duration"`
	Remarks          string      `json:"remarks,omitempty"`
}

// VideoFromModel converts a model to a response.
func VideoFromModel(v *models.VideoStream, urls StreamURLs) VideoResponse {
	resp := VideoResponse{
		ID:               v.ID,
		CreatedAt:        v.CreatedAt,
		UpdatedAt:        v.UpdatedAt,
		Title:            v.Title,
		File:             v.FilePath(),
		FileURL:          v.Link(),
		HLSReady:         v.HLSReady,
		DASHReady:        v.DASHReady,
		HLSURL:           urls.HLS(v),
		DASHURL:          urls.DASH(v),
		SupportedStreams: v.SupportedStreams(),
		Downloading:      v.IsDownloading(),
		Processing:       v.IsProcessing(),
		DateProcessed:    v.DateProcessed,
		DateFinished:     v.DateFinished,
		Width:            v.Width,
		Height:           v.Height,
		Duration:         v.Duration,
		Remarks:          v.Remarks,
	}
	if resp.SupportedStreams == nil {
		resp.SupportedStreams = []string{}
	}
	if v.Thumbnail != nil {
		resp.Thumbnail = *v.Thumbnail
	}
	return resp
}

// VideoRequest is the writable part of a video stream.
type VideoRequest struct {
	Title     string `json:"title" minLength:"1" maxLength:"255" doc:"Unique title"`
	File      string `json:"file,omitempty" doc:"Absolute path of the source video"`
	FileURL   string `json:"file_url,omitempty" doc:"Link the source can be downloaded from"`
	Thumbnail string `json:"thumbnail,omitempty" doc:"Absolute path of a thumbnail image"`
}

// apply copies the request onto v.
func (r VideoRequest) apply(v *models.VideoStream) {
	v.Title = strings.TrimSpace(r.Title)
	v.File = optional(r.File)
	v.FileURL = optional(r.FileURL)
	v.Thumbnail = optional(r.Thumbnail)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// ProgressResponse is the conversion progress of one video.
type ProgressResponse struct {
	ID models.ULID `json:"id"`
	progress.Report
}

// Queue types

// QueueResponse summarises one queue.
type QueueResponse struct {
	Kind    string         `json:"kind"`
	Length  int            `json:"length"`
	Ongoing *VideoResponse `json:"ongoing,omitempty"`
	Current string         `json:"current,omitempty" doc:"Job the worker of this queue is running"`
	Backlog int            `json:"backlog" doc:"Jobs waiting for the worker of this queue"`
}

// QueueFromStatus converts a service status to a response.
func QueueFromStatus(s service.QueueStatus, urls StreamURLs) QueueResponse {
	resp := QueueResponse{Kind: string(s.Kind), Length: s.Length}
	if s.Ongoing != nil {
		v := VideoFromModel(s.Ongoing, urls)
		resp.Ongoing = &v
	}
	return resp
}

// ScheduleEntry is a registered periodic check.
type ScheduleEntry struct {
	Kind string     `json:"kind"`
	Spec string     `json:"spec"`
	Next time.Time  `json:"next"`
	Prev *time.Time `json:"prev,omitempty"`
}

// Health types

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	CPUInfo       CPUInfo           `json:"cpu_info"`
	Memory        MemoryInfo        `json:"memory"`
	Database      DatabaseHealth    `json:"database"`
	FFmpeg        FFmpegHealth      `json:"ffmpeg"`
	Checks        map[string]string `json:"checks"`
}

// CPUInfo holds load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo holds host and process memory figures in MB.
type MemoryInfo struct {
	TotalMemoryMB     float64           `json:"total_memory_mb"`
	UsedMemoryMB      float64           `json:"used_memory_mb"`
	AvailableMemoryMB float64           `json:"available_memory_mb"`
	ProcessMemory     ProcessMemoryInfo `json:"process_memory"`
}

// ProcessMemoryInfo holds the resident memory of this process and its
// children, the ffmpeg processes it supervises.
type ProcessMemoryInfo struct {
	MainProcessMB      float64 `json:"main_process_mb"`
	ChildProcessesMB   float64 `json:"child_processes_mb"`
	TotalProcessTreeMB float64 `json:"total_process_tree_mb"`
	ChildProcessCount  int     `json:"child_process_count"`
}

// DatabaseHealth holds connection pool state.
type DatabaseHealth struct {
	Status            string  `json:"status"`
	ActiveConnections int     `json:"active_connections"`
	IdleConnections   int     `json:"idle_connections"`
	ResponseTimeMS    float64 `json:"response_time_ms"`
}

// FFmpegHealth reports the detected binaries.
type FFmpegHealth struct {
	Status      string `json:"status"`
	FFmpegPath  string `json:"ffmpeg_path,omitempty"`
	FFprobePath string `json:"ffprobe_path,omitempty"`
	Version     string `json:"version,omitempty"`
}
