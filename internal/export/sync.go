package export

import (
	"context"
	"log/slog"
	"time"

	"github.com/heimdex/heimdex-studio/internal/logging"
	"github.com/heimdex/heimdex-studio/internal/media"
)

// SyncOptions bounds the per-frame wait for decode elements.
type SyncOptions struct {
	// ReadyTimeout bounds the wait for an element that is still buffering.
	ReadyTimeout time.Duration
	// SeekTimeout bounds the wait for an in-flight seek.
	SeekTimeout time.Duration
	// Attempts and Interval bound the presented-timestamp comparison.
	Attempts int
	Interval time.Duration
	// Tolerance is the accepted distance between presented and expected
	// timestamps.
	Tolerance time.Duration
}

func DefaultSyncOptions() SyncOptions {
	return SyncOptions{
		ReadyTimeout: 10 * time.Second,
		SeekTimeout:  5 * time.Second,
		Attempts:     50,
		Interval:     20 * time.Millisecond,
		Tolerance:    20 * time.Millisecond,
	}
}

// FrameSync waits until a decode element presents the frame an export
// expects. Every wait is bounded and a timeout only means the current frame
// is captured as it is.
type FrameSync struct {
	opts   SyncOptions
	logger *slog.Logger
}

func NewFrameSync(opts SyncOptions, logger *slog.Logger) *FrameSync {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	return &FrameSync{opts: opts, logger: logging.OrDiscard(logger)}
}

// Await reports whether el presented expectedUS within tolerance before the
// budget ran out. It only returns early when ctx is done.
func (f *FrameSync) Await(ctx context.Context, el media.Element, expectedUS int64) bool {
	if el.ReadyState() < media.HaveCurrentData {
		wctx, cancel := context.WithTimeout(ctx, f.opts.ReadyTimeout)
		err := el.WaitReady(wctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			f.logger.Debug("element not ready, continuing", "expected_us", expectedUS, "error", err)
		}
	}

	if el.Seeking() {
		wctx, cancel := context.WithTimeout(ctx, f.opts.SeekTimeout)
		err := el.WaitSeeked(wctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			f.logger.Debug("seek did not complete, continuing", "expected_us", expectedUS, "error", err)
		}
	}

	tol := f.opts.Tolerance.Microseconds()
	var last int64
	for attempt := 0; attempt < f.opts.Attempts; attempt++ {
		if pts, ok := el.PresentedTimestamp(); ok {
			last = pts
			if abs64(pts-expectedUS) <= tol {
				return true
			}
		}
		if attempt == f.opts.Attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(f.opts.Interval):
		}
	}

	f.logger.Debug("presented frame did not converge",
		"expected_us", expectedUS,
		"presented_us", last,
		"attempts", f.opts.Attempts,
	)
	return false
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
