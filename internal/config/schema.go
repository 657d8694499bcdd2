package config

import "time"

// Config holds folio configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Server  ServerCfg  `mapstructure:"server" yaml:"server"`
	Uploads UploadsCfg `mapstructure:"uploads" yaml:"uploads"`
	Jobs    JobsCfg    `mapstructure:"jobs" yaml:"jobs"`
	Caches  CachesCfg  `mapstructure:"caches" yaml:"caches"`
	Render  RenderCfg  `mapstructure:"render" yaml:"render"`
	Log     LogCfg     `mapstructure:"log" yaml:"log"`
}

// ServerCfg configures the HTTP listener.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// UploadsCfg bounds accepted uploads and chooses the sync/async split.
type UploadsCfg struct {
	// MaxBytes is the largest accepted upload payload.
	MaxBytes int64 `mapstructure:"max_bytes" yaml:"max_bytes"`
	// SyncThresholdBytes is the size at or below which uploads are
	// processed on the request, returning the finished book directly.
	// Larger uploads go through the background executor.
	SyncThresholdBytes int64 `mapstructure:"sync_threshold_bytes" yaml:"sync_threshold_bytes"`
}

// JobsCfg configures the background executor and job tracker.
type JobsCfg struct {
	Workers        int           `mapstructure:"workers" yaml:"workers"`
	QueueSize      int           `mapstructure:"queue_size" yaml:"queue_size"`
	ProcessTimeout time.Duration `mapstructure:"process_timeout" yaml:"process_timeout"`
	Retention      time.Duration `mapstructure:"retention" yaml:"retention"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// CachesCfg sizes the derived-data caches (entry counts).
type CachesCfg struct {
	Metadata    int `mapstructure:"metadata" yaml:"metadata"`
	ReadingTime int `mapstructure:"reading_time" yaml:"reading_time"`
	Search      int `mapstructure:"search" yaml:"search"`
}

// RenderCfg configures PDF page-image rendering.
type RenderCfg struct {
	// Enabled toggles page image and thumbnail generation. Rendering
	// requires pdftoppm on PATH; books still process without it.
	Enabled       bool `mapstructure:"enabled" yaml:"enabled"`
	DPI           int  `mapstructure:"dpi" yaml:"dpi"`
	ThumbnailSize int  `mapstructure:"thumbnail_size" yaml:"thumbnail_size"`
}

// LogCfg configures logging.
type LogCfg struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: 8182,
		},
		Uploads: UploadsCfg{
			MaxBytes:           512 << 20, // 512 MiB
			SyncThresholdBytes: 8 << 20,   // 8 MiB
		},
		Jobs: JobsCfg{
			Workers:        2,
			QueueSize:      16,
			ProcessTimeout: 10 * time.Minute,
			Retention:      time.Hour,
			SweepInterval:  5 * time.Minute,
		},
		Caches: CachesCfg{
			Metadata:    256,
			ReadingTime: 1024,
			Search:      64,
		},
		Render: RenderCfg{
			Enabled:       true,
			DPI:           150,
			ThumbnailSize: 150,
		},
		Log: LogCfg{
			Level: "info",
		},
	}
}
