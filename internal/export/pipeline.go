// Package export renders a timeline frame by frame at a fixed rate and
// streams the encoded frames into a render session.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/gogpu/gg"

	"github.com/heimdex/heimdex-studio/internal/cloud"
	"github.com/heimdex/heimdex-studio/internal/compositor"
	"github.com/heimdex/heimdex-studio/internal/encoder"
	"github.com/heimdex/heimdex-studio/internal/logging"
	"github.com/heimdex/heimdex-studio/internal/media"
	"github.com/heimdex/heimdex-studio/internal/provider"
	"github.com/heimdex/heimdex-studio/internal/resource"
	"github.com/heimdex/heimdex-studio/internal/timeline"
	"github.com/heimdex/heimdex-studio/internal/vsync"
)

var (
	ErrCancelled     = errors.New("export cancelled")
	ErrEmptyTimeline = errors.New("timeline has no content")
)

const (
	StageRender = "render"
	StageUpload = "upload"
	StageMux    = "mux"
	StageDone   = "done"
)

// durationEpsilon absorbs float error so an exact multiple of the frame
// interval does not produce an extra frame.
const durationEpsilon = 1e-9

// DefaultLoadAttempts is how many times an export tries to load one asset
// before drawing its clips without it.
const DefaultLoadAttempts = 3

// Options describes one export run.
type Options struct {
	Width   int
	Height  int
	FPS     float64
	Quality int
	// KeyFrameInterval is the key-frame cadence in seconds of output.
	KeyFrameInterval float64
	// UploadThreshold is the buffered byte count that triggers an append.
	UploadThreshold int
	// PollInterval is the session status poll period after finish.
	PollInterval time.Duration
	// Duration overrides the timeline length when positive.
	Duration float64
	// Output receives the downloaded file; nil skips the download.
	Output io.Writer
	// Progress, when set, is called from the export goroutine.
	Progress func(Progress)
}

type Progress struct {
	Stage    string
	Frame    int
	Total    int
	Fraction float64
}

// Result summarizes a finished run.
type Result struct {
	SessionID  string
	Frames     int
	Synced     int
	SyncMisses int
	KeyFrames  int
	Uploaded   int64
	Downloaded int64
	Elapsed    time.Duration
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithSyncOptions overrides the per-frame decode wait bounds.
func WithSyncOptions(opts SyncOptions) PipelineOption {
	return func(p *Pipeline) { p.syncOpts = opts }
}

// WithAllocatorOptions adds options to the allocator of every run. They
// apply after the default load attempt cap.
func WithAllocatorOptions(opts ...resource.Option) PipelineOption {
	return func(p *Pipeline) { p.allocOpts = append(p.allocOpts, opts...) }
}

// WithProviderRetry overrides the capture-mode provider retry policy.
func WithProviderRetry(policy provider.RetryPolicy) PipelineOption {
	return func(p *Pipeline) { p.retry = policy }
}

// Pipeline runs exports. Each Run builds its own allocator, compositor and
// synchronizer, so a pipeline never shares decode elements with a live
// preview or with another run.
type Pipeline struct {
	registry *provider.Registry
	opener   media.Opener
	assets   timeline.AssetLookup
	client   cloud.SessionClient
	logger   *slog.Logger
	syncOpts SyncOptions
	retry    provider.RetryPolicy

	allocOpts []resource.Option

	stop atomic.Bool
}

func NewPipeline(registry *provider.Registry, opener media.Opener, assets timeline.AssetLookup, client cloud.SessionClient, logger *slog.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		registry: registry,
		opener:   opener,
		assets:   assets,
		client:   client,
		logger:   logging.WithComponent(logging.OrDiscard(logger), "export"),
		syncOpts: DefaultSyncOptions(),
		retry:    provider.DefaultRetryPolicy,

		allocOpts: []resource.Option{resource.WithMaxFailures(DefaultLoadAttempts)},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Cancel stops the running export before its next frame.
func (p *Pipeline) Cancel() {
	p.stop.Store(true)
}

// FrameCount is the number of frames an export of duration seconds at fps
// produces.
func FrameCount(duration, fps float64) int {
	if duration <= 0 || fps <= 0 {
		return 0
	}
	return int(math.Ceil(duration*fps - durationEpsilon))
}

// FrameTimestamp is the presentation time of frame i in microseconds.
func FrameTimestamp(i int, fps float64) int64 {
	return int64(math.Round(float64(i) * 1e6 / fps))
}

// Run exports tracks. Frames are produced strictly in order: frame i+1 is
// not rendered until frame i has been captured and handed to the encoder.
func (p *Pipeline) Run(ctx context.Context, tracks []*timeline.Track, opts Options) (Result, error) {
	started := time.Now()
	p.stop.Store(false)
	var res Result

	encCfg := encoder.Config{
		Codec:   encoder.CodecMJPEG,
		Width:   opts.Width,
		Height:  opts.Height,
		FPS:     opts.FPS,
		Quality: opts.Quality,
	}
	if err := encoder.Supported(encCfg); err != nil {
		return res, err
	}

	duration := opts.Duration
	if duration <= 0 {
		duration = timeline.Duration(tracks)
	}
	frameCount := FrameCount(duration, opts.FPS)
	if frameCount == 0 {
		return res, ErrEmptyTimeline
	}
	dt := 1 / opts.FPS
	frameDur := int64(math.Round(dt * 1e6))
	keyEvery := max(1, int(math.Round(opts.KeyFrameInterval*opts.FPS)))

	sessionID, err := p.client.Init(ctx, cloud.InitRequest{
		Width:  opts.Width,
		Height: opts.Height,
		FPS:    opts.FPS,
		Format: encoder.CodecMJPEG,
	})
	if err != nil {
		return res, fmt.Errorf("init render session: %w", err)
	}
	res.SessionID = sessionID
	logger := logging.WithSessionID(p.logger, sessionID)
	logger.Info("export started",
		"frames", frameCount,
		"fps", opts.FPS,
		"width", opts.Width,
		"height", opts.Height,
		"duration", duration,
	)

	worker, err := encoder.NewWorker(ctx,
		func(out encoder.OutputFunc) (encoder.Encoder, error) { return encoder.NewJPEGEncoder(encCfg, out) },
		func(ctx context.Context, chunk []byte) error { return p.client.Append(ctx, sessionID, chunk) },
		encoder.WorkerOptions{Threshold: opts.UploadThreshold, Logger: logger},
	)
	if err != nil {
		return res, err
	}

	alloc := resource.NewAllocator(p.opener, logger, p.allocOpts...)
	comp := compositor.New(p.registry, alloc, p.assets, logger,
		compositor.WithMode(compositor.ModeCapture),
		compositor.WithRetryPolicy(p.retry),
	)
	// Tighter than half a frame so every step seeks to its own frame.
	vs := &vsync.Synchronizer{
		PlayingTolerance: vsync.DefaultPlayingTolerance,
		PausedTolerance:  math.Min(vsync.DefaultPausedTolerance, dt/4),
	}
	fs := NewFrameSync(p.syncOpts, logger)
	dc := gg.NewContext(opts.Width, opts.Height)

	defer func() {
		comp.Dispose()
		if err := alloc.Close(); err != nil {
			logger.Warn("failed to close allocator", "error", err)
		}
		dc.Close()
	}()

	// The session is never finished after an abort, so buffered frames are
	// dropped rather than uploaded.
	abort := func(err error) (Result, error) {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := worker.Abort(closeCtx); err != nil {
			logger.Warn("encoder worker did not stop", "error", err)
		}
		res.Elapsed = time.Since(started)
		return res, err
	}

	for i := 0; i < frameCount; i++ {
		if p.stop.Load() {
			logger.Info("export cancelled", "frame", i, "frames", frameCount)
			return abort(ErrCancelled)
		}
		if err := ctx.Err(); err != nil {
			return abort(err)
		}

		t := float64(i) * dt

		// Allocation and seeks start here.
		comp.Render(ctx, t, tracks)
		vs.Sync(t, false, comp.VideoBindings())

		if err := alloc.Wait(ctx); err != nil {
			return abort(err)
		}
		// Textures that finished loading become objects on this pass.
		comp.Render(ctx, t, tracks)
		bindings := comp.VideoBindings()
		vs.Sync(t, false, bindings)

		for _, el := range comp.ActiveElements() {
			if !el.Attached() {
				el.Attach()
			}
		}

		for _, b := range bindings {
			if fs.Await(ctx, b.Element, expectedTimestamp(b, t)) {
				res.Synced++
			} else {
				res.SyncMisses++
			}
		}
		if err := ctx.Err(); err != nil {
			return abort(err)
		}

		comp.Render(ctx, t, tracks)
		comp.Draw(dc)
		_ = dc.FlushGPU()

		frame := encoder.Frame{
			Timestamp: FrameTimestamp(i, opts.FPS),
			Duration:  frameDur,
			Width:     opts.Width,
			Height:    opts.Height,
			Image:     gg.ImageBufFromImage(dc.Image()),
		}
		key := i%keyEvery == 0
		if err := worker.EncodeFrame(frame, key); err != nil {
			return abort(fmt.Errorf("encode frame %d: %w", i, err))
		}
		res.Frames++
		if key {
			res.KeyFrames++
		}

		p.report(opts, Progress{Stage: StageRender, Frame: i, Total: frameCount, Fraction: float64(i) / float64(frameCount)})
	}

	p.report(opts, Progress{Stage: StageUpload, Frame: frameCount, Total: frameCount, Fraction: 1})
	if err := worker.Close(ctx); err != nil {
		res.Elapsed = time.Since(started)
		return res, fmt.Errorf("flush encoder: %w", err)
	}
	res.Uploaded = worker.Stats().Uploaded

	if err := p.client.Finish(ctx, sessionID); err != nil {
		res.Elapsed = time.Since(started)
		return res, fmt.Errorf("finish render session: %w", err)
	}

	_, err = cloud.WaitDone(ctx, p.client, sessionID, opts.PollInterval, func(st cloud.Status) {
		p.report(opts, Progress{Stage: StageMux, Frame: frameCount, Total: frameCount, Fraction: float64(st.Progress) / 100})
	})
	if err != nil {
		res.Elapsed = time.Since(started)
		return res, err
	}

	if opts.Output != nil {
		n, err := p.client.Download(ctx, sessionID, opts.Output)
		res.Downloaded = n
		if err != nil {
			res.Elapsed = time.Since(started)
			return res, fmt.Errorf("download render: %w", err)
		}
	}

	res.Elapsed = time.Since(started)
	p.report(opts, Progress{Stage: StageDone, Frame: frameCount, Total: frameCount, Fraction: 1})
	logger.Info("export finished",
		"frames", res.Frames,
		"synced", res.Synced,
		"sync_misses", res.SyncMisses,
		"uploaded", res.Uploaded,
		"downloaded", res.Downloaded,
		"elapsed", res.Elapsed,
	)
	return res, nil
}

func (p *Pipeline) report(opts Options, pr Progress) {
	if opts.Progress != nil {
		opts.Progress(pr)
	}
}

// expectedTimestamp is the source position of b at timeline time t in
// microseconds, clamped to the element's duration.
func expectedTimestamp(b vsync.Binding, t float64) int64 {
	local := math.Max(b.Clip.SourceTime(t), 0)
	if d := b.Element.Duration(); d > 0 {
		local = math.Min(local, d)
	}
	return int64(math.Round(local * 1e6))
}
