// Package config provides configuration management for heimdex-studio.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort     = 8787
	DefaultLogLevel = "info"
	DefaultDataDir  = ".heimdex-studio"

	// Environment variable names
	EnvPort     = "HEIMDEX_PORT"
	EnvLogLevel = "HEIMDEX_LOG_LEVEL"
	EnvDataDir  = "HEIMDEX_DATA_DIR"

	// Render session environment variable names
	EnvRenderURL   = "HEIMDEX_RENDER_URL"
	EnvRenderToken = "HEIMDEX_RENDER_TOKEN"

	// Export environment variable names
	EnvExportFPS         = "HEIMDEX_EXPORT_FPS"
	EnvExportWidth       = "HEIMDEX_EXPORT_WIDTH"
	EnvExportHeight      = "HEIMDEX_EXPORT_HEIGHT"
	EnvKeyFrameInterval  = "HEIMDEX_KEYFRAME_INTERVAL"
	EnvUploadThreshold   = "HEIMDEX_UPLOAD_THRESHOLD"
	EnvJPEGQuality       = "HEIMDEX_JPEG_QUALITY"
	EnvPollInterval      = "HEIMDEX_POLL_INTERVAL_MS"
	EnvLiveRefreshRate   = "HEIMDEX_LIVE_REFRESH_HZ"
	EnvFFmpegPath        = "HEIMDEX_FFMPEG_PATH"
	EnvFFprobePath       = "HEIMDEX_FFPROBE_PATH"
	EnvMaxAppendBodySize = "HEIMDEX_MAX_APPEND_BYTES"
	EnvDBBusyTimeout     = "HEIMDEX_DB_BUSY_TIMEOUT_MS"

	// Database filename
	DBFilename = "studio.db"

	// Export defaults
	DefaultExportFPS        = 30
	DefaultExportWidth      = 1280
	DefaultExportHeight     = 720
	DefaultKeyFrameInterval = 2       // seconds of output
	DefaultUploadThreshold  = 4 << 20 // 4 MiB
	DefaultJPEGQuality      = 85
	DefaultPollInterval     = 1000 // milliseconds
	DefaultLiveRefreshRate  = 60
	DefaultMaxAppendBytes   = 64 << 20
	DefaultDBBusyTimeout    = 5000 // milliseconds
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	SessionsDir() string
	RenderURL() string
	RenderToken() string
	ExportFPS() float64
	ExportWidth() int
	ExportHeight() int
	KeyFrameInterval() float64
	UploadThreshold() int
	JPEGQuality() int
	PollInterval() time.Duration
	LiveRefreshRate() int
	FFmpegPath() string
	FFprobePath() string
	MaxAppendBytes() int64
	DBBusyTimeout() time.Duration
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string

	renderURL   string
	renderToken string

	exportFPS        float64
	exportWidth      int
	exportHeight     int
	keyFrameInterval float64
	uploadThreshold  int
	jpegQuality      int
	pollInterval     time.Duration
	liveRefreshRate  int
	maxAppendBytes   int64
	dbBusyTimeout    time.Duration

	ffmpegPath  string
	ffprobePath string
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:             DefaultPort,
		logLevel:         DefaultLogLevel,
		dataDir:          defaultDataDir(),
		exportFPS:        DefaultExportFPS,
		exportWidth:      DefaultExportWidth,
		exportHeight:     DefaultExportHeight,
		keyFrameInterval: DefaultKeyFrameInterval,
		uploadThreshold:  DefaultUploadThreshold,
		jpegQuality:      DefaultJPEGQuality,
		pollInterval:     DefaultPollInterval * time.Millisecond,
		liveRefreshRate:  DefaultLiveRefreshRate,
		maxAppendBytes:   DefaultMaxAppendBytes,
		dbBusyTimeout:    DefaultDBBusyTimeout * time.Millisecond,
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	cfg.renderURL = os.Getenv(EnvRenderURL)
	cfg.renderToken = os.Getenv(EnvRenderToken)
	cfg.ffmpegPath = os.Getenv(EnvFFmpegPath)
	cfg.ffprobePath = os.Getenv(EnvFFprobePath)

	if v := os.Getenv(EnvExportFPS); v != "" {
		fps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvExportFPS, err)
		}
		if fps <= 0 || fps > 240 {
			return nil, fmt.Errorf("invalid %s: fps must be in (0, 240]", EnvExportFPS)
		}
		cfg.exportFPS = fps
	}

	var err error
	if cfg.exportWidth, err = positiveInt(EnvExportWidth, cfg.exportWidth); err != nil {
		return nil, err
	}
	if cfg.exportHeight, err = positiveInt(EnvExportHeight, cfg.exportHeight); err != nil {
		return nil, err
	}
	if cfg.uploadThreshold, err = positiveInt(EnvUploadThreshold, cfg.uploadThreshold); err != nil {
		return nil, err
	}
	if cfg.liveRefreshRate, err = positiveInt(EnvLiveRefreshRate, cfg.liveRefreshRate); err != nil {
		return nil, err
	}

	if v := os.Getenv(EnvKeyFrameInterval); v != "" {
		ki, err := strconv.ParseFloat(v, 64)
		if err != nil || ki <= 0 {
			return nil, fmt.Errorf("invalid %s: must be a positive number of seconds", EnvKeyFrameInterval)
		}
		cfg.keyFrameInterval = ki
	}

	if v := os.Getenv(EnvJPEGQuality); v != "" {
		q, err := strconv.Atoi(v)
		if err != nil || q < 1 || q > 100 {
			return nil, fmt.Errorf("invalid %s: quality must be between 1 and 100", EnvJPEGQuality)
		}
		cfg.jpegQuality = q
	}

	if v := os.Getenv(EnvPollInterval); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid %s: must be a positive number of milliseconds", EnvPollInterval)
		}
		cfg.pollInterval = time.Duration(ms) * time.Millisecond
	}

	if v := os.Getenv(EnvDBBusyTimeout); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("invalid %s: must be a non-negative number of milliseconds", EnvDBBusyTimeout)
		}
		cfg.dbBusyTimeout = time.Duration(ms) * time.Millisecond
	}

	if v := os.Getenv(EnvMaxAppendBodySize); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid %s: must be a positive byte count", EnvMaxAppendBodySize)
		}
		cfg.maxAppendBytes = n
	}

	return cfg, nil
}

func positiveInt(env string, def int) (int, error) {
	v := os.Getenv(env)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", env, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", env)
	}
	return n, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// SessionsDir holds uploaded packet streams and muxed outputs.
func (c *EnvConfig) SessionsDir() string {
	return filepath.Join(c.dataDir, "sessions")
}

// RenderURL is the base URL of the remote render/mux service.
func (c *EnvConfig) RenderURL() string {
	return c.renderURL
}

func (c *EnvConfig) RenderToken() string {
	return c.renderToken
}

func (c *EnvConfig) ExportFPS() float64 {
	return c.exportFPS
}

func (c *EnvConfig) ExportWidth() int {
	return c.exportWidth
}

func (c *EnvConfig) ExportHeight() int {
	return c.exportHeight
}

// KeyFrameInterval is the key frame cadence in seconds of output.
func (c *EnvConfig) KeyFrameInterval() float64 {
	return c.keyFrameInterval
}

// UploadThreshold is the buffered encoded byte count that triggers an upload.
func (c *EnvConfig) UploadThreshold() int {
	return c.uploadThreshold
}

func (c *EnvConfig) JPEGQuality() int {
	return c.jpegQuality
}

func (c *EnvConfig) PollInterval() time.Duration {
	return c.pollInterval
}

// DBBusyTimeout is how long a database writer waits on a lock.
func (c *EnvConfig) DBBusyTimeout() time.Duration {
	return c.dbBusyTimeout
}

func (c *EnvConfig) LiveRefreshRate() int {
	return c.liveRefreshRate
}

// FFmpegPath returns the configured ffmpeg binary; empty means PATH lookup.
func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) MaxAppendBytes() int64 {
	return c.maxAppendBytes
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
