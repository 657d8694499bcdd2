package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 8182 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Uploads.MaxBytes != 512<<20 {
		t.Errorf("uploads.max_bytes = %d", cfg.Uploads.MaxBytes)
	}
	if cfg.Uploads.SyncThresholdBytes != 8<<20 {
		t.Errorf("uploads.sync_threshold_bytes = %d", cfg.Uploads.SyncThresholdBytes)
	}
	if cfg.Jobs.Workers != 2 || cfg.Jobs.QueueSize != 16 {
		t.Errorf("jobs = %+v", cfg.Jobs)
	}
	if cfg.Jobs.Retention != time.Hour {
		t.Errorf("jobs.retention = %v", cfg.Jobs.Retention)
	}
	if cfg.Caches.Metadata <= 0 || cfg.Caches.ReadingTime <= 0 || cfg.Caches.Search <= 0 {
		t.Errorf("caches = %+v, want positive sizes", cfg.Caches)
	}
	if !cfg.Render.Enabled {
		t.Error("render disabled by default")
	}
}

func TestConfig_LogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := Config{Log: LogCfg{Level: tt.in}}
		if got := cfg.LogLevel(); got != tt.want {
			t.Errorf("LogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(data) == 0 || data[0] != '#' {
		t.Error("written config missing header comment")
	}

	cm, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	got := cm.Get()
	want := DefaultConfig()
	if got.Server.Port != want.Server.Port || got.Jobs.Workers != want.Jobs.Workers {
		t.Errorf("round-tripped config = %+v, want defaults", got)
	}
}
