// Package config provides configuration management for watchroom using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 6
	defaultMaxIdleConns    = 3
	defaultConnMaxIdleTime = 30 * time.Minute
	defaultProbeTimeout    = 30 * time.Second
	defaultEncoderTimeout  = 10 * time.Second
	defaultSegmentSeconds  = 2
	defaultMaxWidth        = 1920
	defaultAudioBitrate    = "192k"
	defaultSeekTolerance   = 8 * time.Second
	defaultClockSyncPeriod = 30 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultSweepSchedule   = "@every 10m"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
	Transcode TranscodeConfig `mapstructure:"transcode"`
	Sync      SyncConfig      `mapstructure:"sync"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// ShutdownTimeout bounds graceful shutdown; no write timeout is applied
	// because websocket connections and segment downloads are long-lived.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	// DataDir is the root for per-session transcode output (work + public dirs).
	DataDir string `mapstructure:"data_dir"`
	// MediaDir is the root of user-visible source media.
	MediaDir string `mapstructure:"media_dir"`
	// SweepSchedule is a cron expression for the orphaned-directory sweep.
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// FFmpegConfig holds external encoder tooling configuration.
type FFmpegConfig struct {
	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path"`
	// ProbeTimeout bounds a single ffprobe invocation.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	// EncoderProbeTimeout bounds each encoder capability test.
	EncoderProbeTimeout time.Duration `mapstructure:"encoder_probe_timeout"`
	// EncoderPriority lists candidate video encoders, most preferred first.
	EncoderPriority []string `mapstructure:"encoder_priority"`
}

// TranscodeConfig holds transcode ladder and track selection configuration.
type TranscodeConfig struct {
	SegmentSeconds int    `mapstructure:"segment_seconds"`
	MaxWidth       int    `mapstructure:"max_width"`
	AudioBitrate   string `mapstructure:"audio_bitrate"`
	// SeekTolerance is the forward slack past the materialized window edge
	// within which a seek does not restart the transcoder.
	SeekTolerance time.Duration `mapstructure:"seek_tolerance"`
	// AudioLanguages orders preferred audio track languages (ISO 639-2).
	AudioLanguages []string `mapstructure:"audio_languages"`
	// SubtitleLanguages orders preferred burn-in subtitle languages.
	SubtitleLanguages []string `mapstructure:"subtitle_languages"`
}

// SyncConfig holds synchronization protocol configuration.
type SyncConfig struct {
	// ClockSyncInterval is how often the server broadcasts its wall clock.
	ClockSyncInterval time.Duration `mapstructure:"clock_sync_interval"`
	// WriteTimeout bounds a single websocket write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// SetDefaults registers default values on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "watchroom.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "silent")

	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.media_dir", "media")
	v.SetDefault("storage.sweep_schedule", defaultSweepSchedule)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)

	v.SetDefault("ffmpeg.ffmpeg_path", "")
	v.SetDefault("ffmpeg.ffprobe_path", "")
	v.SetDefault("ffmpeg.probe_timeout", defaultProbeTimeout)
	v.SetDefault("ffmpeg.encoder_probe_timeout", defaultEncoderTimeout)
	v.SetDefault("ffmpeg.encoder_priority", []string{"h264_nvenc", "h264_vaapi", "libx264"})

	v.SetDefault("transcode.segment_seconds", defaultSegmentSeconds)
	v.SetDefault("transcode.max_width", defaultMaxWidth)
	v.SetDefault("transcode.audio_bitrate", defaultAudioBitrate)
	v.SetDefault("transcode.seek_tolerance", defaultSeekTolerance)
	v.SetDefault("transcode.audio_languages", []string{"jpn", "eng", "ger"})
	v.SetDefault("transcode.subtitle_languages", []string{"eng", "jpn"})

	v.SetDefault("sync.clock_sync_interval", defaultClockSyncPeriod)
	v.SetDefault("sync.write_timeout", defaultWriteTimeout)
}

// Load unmarshals the current viper state into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}

	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver))
	}

	if c.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir must not be empty"))
	}
	if c.Storage.MediaDir == "" {
		errs = append(errs, errors.New("storage.media_dir must not be empty"))
	}

	if c.Transcode.SegmentSeconds <= 0 {
		errs = append(errs, fmt.Errorf("transcode.segment_seconds must be positive, got %d", c.Transcode.SegmentSeconds))
	}
	if c.Transcode.MaxWidth <= 0 {
		errs = append(errs, fmt.Errorf("transcode.max_width must be positive, got %d", c.Transcode.MaxWidth))
	}
	if c.Transcode.SeekTolerance < 0 {
		errs = append(errs, errors.New("transcode.seek_tolerance must not be negative"))
	}

	if len(c.FFmpeg.EncoderPriority) == 0 {
		errs = append(errs, errors.New("ffmpeg.encoder_priority must list at least one encoder"))
	}

	if c.Sync.ClockSyncInterval <= 0 {
		errs = append(errs, errors.New("sync.clock_sync_interval must be positive"))
	}

	return errors.Join(errs...)
}
