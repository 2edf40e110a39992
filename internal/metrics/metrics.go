// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segmentarr_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "segmentarr_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// ffmpeg process metrics
var (
	ProcessesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segmentarr_ffmpeg_processes_total",
			Help: "Supervised ffmpeg processes by outcome",
		},
		[]string{"outcome"},
	)

	ProcessDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "segmentarr_ffmpeg_process_duration_seconds",
			Help:    "Wall time of supervised ffmpeg processes",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600, 7200},
		},
		[]string{"outcome"},
	)

	ProcessPeakMemoryMB = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "segmentarr_ffmpeg_peak_memory_mb",
			Help:    "Peak resident memory of supervised ffmpeg processes in MB",
			Buckets: []float64{64, 128, 256, 512, 1024, 2048, 4096, 8192},
		},
	)

	ProcessesRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "segmentarr_ffmpeg_processes_running",
			Help: "Number of ffmpeg processes currently supervised",
		},
	)
)

// Format label values of ConversionsTotal.
const (
	FormatHLS  = "hls"
	FormatDASH = "dash"
)

// Conversion metrics
var (
	StrategySelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segmentarr_strategy_selections_total",
			Help: "Strategy decisions by chosen strategy",
		},
		[]string{"strategy"},
	)

	ConversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segmentarr_conversions_total",
			Help: "Finished conversions by format and result",
		},
		[]string{"format", "result"},
	)

	AvailableMemoryMB = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "segmentarr_available_memory_mb",
			Help: "Host memory available at the last strategy selection",
		},
	)
)

// Queue metrics
var (
	QueueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "segmentarr_queue_length",
			Help: "Records eligible for each queue",
		},
		[]string{"queue"},
	)

	TriggerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segmentarr_trigger_runs_total",
			Help: "Trigger task runs by task and result",
		},
		[]string{"task", "result"},
	)
)

// Download metrics
var (
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segmentarr_downloads_total",
			Help: "Source downloads by result",
		},
		[]string{"result"},
	)

	DownloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "segmentarr_download_bytes_total",
			Help: "Bytes of source video downloaded",
		},
	)
)
