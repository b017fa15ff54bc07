package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv(EnvDataDir, "/tmp/studio")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.ExportFPS() != DefaultExportFPS {
		t.Errorf("ExportFPS = %v, want %v", cfg.ExportFPS(), DefaultExportFPS)
	}
	if cfg.UploadThreshold() != DefaultUploadThreshold {
		t.Errorf("UploadThreshold = %d, want %d", cfg.UploadThreshold(), DefaultUploadThreshold)
	}
	if cfg.PollInterval() != time.Second {
		t.Errorf("PollInterval = %v, want 1s", cfg.PollInterval())
	}
	if cfg.DBBusyTimeout() != 5*time.Second {
		t.Errorf("DBBusyTimeout = %v, want 5s", cfg.DBBusyTimeout())
	}
	if cfg.DBPath() != filepath.Join("/tmp/studio", DBFilename) {
		t.Errorf("DBPath = %q", cfg.DBPath())
	}
	if cfg.SessionsDir() != filepath.Join("/tmp/studio", "sessions") {
		t.Errorf("SessionsDir = %q", cfg.SessionsDir())
	}
}

func TestNew_Overrides(t *testing.T) {
	t.Setenv(EnvPort, "9000")
	t.Setenv(EnvExportFPS, "24")
	t.Setenv(EnvExportWidth, "640")
	t.Setenv(EnvJPEGQuality, "70")
	t.Setenv(EnvPollInterval, "250")
	t.Setenv(EnvRenderURL, "http://render.local")
	t.Setenv(EnvDBBusyTimeout, "1500")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port())
	}
	if cfg.ExportFPS() != 24 {
		t.Errorf("ExportFPS = %v, want 24", cfg.ExportFPS())
	}
	if cfg.ExportWidth() != 640 {
		t.Errorf("ExportWidth = %d, want 640", cfg.ExportWidth())
	}
	if cfg.JPEGQuality() != 70 {
		t.Errorf("JPEGQuality = %d, want 70", cfg.JPEGQuality())
	}
	if cfg.PollInterval() != 250*time.Millisecond {
		t.Errorf("PollInterval = %v, want 250ms", cfg.PollInterval())
	}
	if cfg.DBBusyTimeout() != 1500*time.Millisecond {
		t.Errorf("DBBusyTimeout = %v, want 1.5s", cfg.DBBusyTimeout())
	}
	if cfg.RenderURL() != "http://render.local" {
		t.Errorf("RenderURL = %q", cfg.RenderURL())
	}
}

func TestNew_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  string
		val  string
	}{
		{"port not a number", EnvPort, "abc"},
		{"port out of range", EnvPort, "70000"},
		{"fps zero", EnvExportFPS, "0"},
		{"negative width", EnvExportWidth, "-1"},
		{"quality too high", EnvJPEGQuality, "101"},
		{"keyframe interval", EnvKeyFrameInterval, "nope"},
		{"busy timeout", EnvDBBusyTimeout, "-5"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.env, tc.val)
			if _, err := New(); err == nil {
				t.Fatalf("expected error for %s=%q", tc.env, tc.val)
			}
		})
	}
}
