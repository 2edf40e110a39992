// Package config provides configuration management for segmentarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/jmylchreest/segmentarr/internal/models"
)

// Default configuration values.
const (
	defaultServerPort        = 8080
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxOpenConns      = 25
	defaultMaxIdleConns      = 10
	defaultConnMaxIdleTime   = 30 * time.Minute
	defaultPollInterval      = 3 * time.Second
	defaultRescheduleDelay   = time.Minute
	defaultProbeTimeout      = 30 * time.Second
	defaultDownloadTimeout   = 30 * time.Minute
	defaultRetryAttempts     = 3
	defaultRetryDelay        = 5 * time.Second
	defaultCheckQueueCron    = "*/5 * * * *"
	defaultCheckDownloadCron = "*/5 * * * *"
)

// Cleanup modes for storage.file_cleanup.
const (
	CleanupRemove = "remove"
	CleanupNone   = "none"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	FFmpeg     FFmpegConfig     `mapstructure:"ffmpeg"`
	Conversion ConversionConfig `mapstructure:"conversion"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Download   DownloadConfig   `mapstructure:"download"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds the directory layout for sources and generated output.
type StorageConfig struct {
	MediaRoot    string `mapstructure:"media_root"`    // source videos and thumbnails
	HLSRoot      string `mapstructure:"hls_root"`      // one sub-directory per video
	DASHRoot     string `mapstructure:"dash_root"`     // one sub-directory per video
	DownloadRoot string `mapstructure:"download_root"` // scratch space for link downloads
	HLSURL       string `mapstructure:"hls_url"`
	DASHURL      string `mapstructure:"dash_url"`
	FileCleanup  string `mapstructure:"file_cleanup"` // remove, none
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath   string        `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = auto-detect)
	ProbePath    string        `mapstructure:"probe_path"`  // Path to ffprobe binary (empty = auto-detect)
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// Resolution is one rung of the output ladder.
type Resolution struct {
	Size    string `mapstructure:"size" yaml:"size"`       // WxH
	Bitrate string `mapstructure:"bitrate" yaml:"bitrate"` // e.g. 2800k
}

// ConversionConfig holds segmentation behaviour.
type ConversionConfig struct {
	AllowHLS              bool          `mapstructure:"allow_hls"`
	AllowDASH             bool          `mapstructure:"allow_dash"`
	DisableAutoConversion bool          `mapstructure:"disable_auto_conversion"`
	Resolutions           []Resolution  `mapstructure:"resolutions"`
	VideoExtensions       []string      `mapstructure:"video_extensions"`
	ThumbnailExtensions   []string      `mapstructure:"thumbnail_extensions"`
	PollInterval          time.Duration `mapstructure:"poll_interval"`
	RescheduleDelay       time.Duration `mapstructure:"reschedule_delay"`
}

// SchedulerConfig holds the cron specs of the periodic queue checks.
type SchedulerConfig struct {
	CheckQueueCron     string `mapstructure:"check_queue_cron"`
	CheckDownloadsCron string `mapstructure:"check_downloads_cron"`
}

// DownloadConfig holds settings for fetching linked source videos.
type DownloadConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	UserAgent     string        `mapstructure:"user_agent"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with SEGMENTARR_ and use underscores for nesting.
// Example: SEGMENTARR_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/segmentarr")
		v.AddConfigPath("$HOME/.segmentarr")
	}

	v.SetEnvPrefix("SEGMENTARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DefaultResolutions is the ladder used when none is configured, highest first.
func DefaultResolutions() []Resolution {
	return []Resolution{
		{Size: "1920x1080", Bitrate: "5000k"},
		{Size: "1280x720", Bitrate: "2800k"},
		{Size: "842x480", Bitrate: "1400k"},
		{Size: "640x360", Bitrate: "800k"},
		{Size: "426x240", Bitrate: "400k"},
	}
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "segmentarr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.media_root", "./data/media")
	v.SetDefault("storage.hls_root", "./data/hls")
	v.SetDefault("storage.dash_root", "./data/dash")
	v.SetDefault("storage.download_root", "./data/downloads")
	v.SetDefault("storage.hls_url", "/hls/")
	v.SetDefault("storage.dash_url", "/dash/")
	v.SetDefault("storage.file_cleanup", CleanupRemove)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.probe_timeout", defaultProbeTimeout)

	// Conversion defaults
	ladder := make([]map[string]any, 0, len(DefaultResolutions()))
	for _, r := range DefaultResolutions() {
		ladder = append(ladder, map[string]any{"size": r.Size, "bitrate": r.Bitrate})
	}
	v.SetDefault("conversion.allow_hls", true)
	v.SetDefault("conversion.allow_dash", true)
	v.SetDefault("conversion.disable_auto_conversion", false)
	v.SetDefault("conversion.resolutions", ladder)
	v.SetDefault("conversion.video_extensions", []string{"mp4", "m4v"})
	v.SetDefault("conversion.thumbnail_extensions", []string{"gif", "jpg", "jpeg", "png", "webp"})
	v.SetDefault("conversion.poll_interval", defaultPollInterval)
	v.SetDefault("conversion.reschedule_delay", defaultRescheduleDelay)

	// Scheduler defaults
	v.SetDefault("scheduler.check_queue_cron", defaultCheckQueueCron)
	v.SetDefault("scheduler.check_downloads_cron", defaultCheckDownloadCron)

	// Download defaults
	v.SetDefault("download.timeout", defaultDownloadTimeout)
	v.SetDefault("download.retry_attempts", defaultRetryAttempts)
	v.SetDefault("download.retry_delay", defaultRetryDelay)
	v.SetDefault("download.user_agent", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.MediaRoot == "" || c.Storage.HLSRoot == "" || c.Storage.DASHRoot == "" || c.Storage.DownloadRoot == "" {
		return fmt.Errorf("storage.media_root, hls_root, dash_root and download_root are required")
	}
	if c.Storage.FileCleanup != CleanupRemove && c.Storage.FileCleanup != CleanupNone {
		return fmt.Errorf("storage.file_cleanup must be one of: %s, %s", CleanupRemove, CleanupNone)
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	for i, r := range c.Conversion.Resolutions {
		spec := models.ResolutionSpec{Size: r.Size, Bitrate: r.Bitrate}
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("conversion.resolutions[%d]: %w", i, err)
		}
	}
	if len(c.Conversion.VideoExtensions) == 0 {
		return fmt.Errorf("conversion.video_extensions must not be empty")
	}
	if c.Conversion.PollInterval <= 0 {
		return fmt.Errorf("conversion.poll_interval must be positive")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.Scheduler.CheckQueueCron); err != nil {
		return fmt.Errorf("scheduler.check_queue_cron: %w", err)
	}
	if _, err := parser.Parse(c.Scheduler.CheckDownloadsCron); err != nil {
		return fmt.Errorf("scheduler.check_downloads_cron: %w", err)
	}

	if c.Download.RetryAttempts < 0 {
		return fmt.Errorf("download.retry_attempts must not be negative")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ThumbnailPath returns the directory thumbnails are written to.
func (c *StorageConfig) ThumbnailPath() string {
	return filepath.Join(c.MediaRoot, "thumbnails")
}

// VideoPath returns the directory downloaded source videos are moved to.
func (c *StorageConfig) VideoPath() string {
	return filepath.Join(c.MediaRoot, "videos")
}

// Ladder converts the configured resolutions into resolution specs.
func (c *ConversionConfig) Ladder() []models.ResolutionSpec {
	out := make([]models.ResolutionSpec, 0, len(c.Resolutions))
	for _, r := range c.Resolutions {
		out = append(out, models.ResolutionSpec{Size: r.Size, Bitrate: r.Bitrate})
	}
	return out
}

// EnabledFormats reports how many output formats are switched on.
func (c *ConversionConfig) EnabledFormats() int {
	n := 0
	if c.AllowHLS {
		n++
	}
	if c.AllowDASH {
		n++
	}
	return n
}
