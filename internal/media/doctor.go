package media

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// Capabilities reports which media tools are usable.
type Capabilities struct {
	FFmpeg  DepInfo `json:"ffmpeg"`
	FFprobe DepInfo `json:"ffprobe"`
	// PNGEncoder is required for single-frame decoding.
	PNGEncoder bool `json:"png_encoder"`

	CanDecode bool      `json:"can_decode"`
	ProbedAt  time.Time `json:"probed_at"`
}

// DepInfo represents the availability status of a single executable.
type DepInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DoctorRunner probes the environment.
type DoctorRunner interface {
	RunDoctor(ctx context.Context) (*Capabilities, error)
}

// RunDoctor checks ffmpeg and ffprobe versions and the png encoder.
func (t *Tools) RunDoctor(ctx context.Context) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	caps := &Capabilities{
		FFmpeg:  t.versionOf(ctx, t.FFmpeg),
		FFprobe: t.versionOf(ctx, t.FFprobe),
	}
	if caps.FFmpeg.Available {
		out, err := t.run(ctx, t.FFmpeg, "-hide_banner", "-encoders")
		caps.PNGEncoder = err == nil && hasEncoder(string(out), "png")
	}
	caps.CanDecode = caps.FFmpeg.Available && caps.FFprobe.Available && caps.PNGEncoder
	caps.ProbedAt = time.Now()

	t.Logger.Info("doctor probe complete",
		"ffmpeg", caps.FFmpeg.Available,
		"ffprobe", caps.FFprobe.Available,
		"can_decode", caps.CanDecode,
	)
	return caps, nil
}

func (t *Tools) versionOf(ctx context.Context, bin string) DepInfo {
	info := DepInfo{Path: bin}
	if bin == "" {
		info.Error = "not configured"
		return info
	}
	out, err := t.run(ctx, bin, "-version")
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.Available = true
	line, _, _ := strings.Cut(string(out), "\n")
	// "ffmpeg version 6.1.1 Copyright ..."
	fields := strings.Fields(line)
	if len(fields) >= 3 && fields[1] == "version" {
		info.Version = fields[2]
	}
	return info
}

// hasEncoder scans `ffmpeg -encoders` output. Encoder lines look like
// " V....D png                  PNG (Portable Network Graphics) image".
func hasEncoder(listing, name string) bool {
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}

// CachedDoctor wraps a DoctorRunner to cache probe results with a TTL.
// This avoids spawning ffmpeg for every status request.
type CachedDoctor struct {
	runner DoctorRunner
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor creates a caching wrapper around doctor probes.
func NewCachedDoctor(runner DoctorRunner, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		runner: runner,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.runner.RunDoctor(ctx)
	if err != nil {
		d.logger.Warn("doctor probe failed", "error", err)
		// Return stale cache if available
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
