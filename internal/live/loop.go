package live

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gg"
	"golang.org/x/image/draw"

	"github.com/heimdex/heimdex-studio/internal/compositor"
	"github.com/heimdex/heimdex-studio/internal/events"
	"github.com/heimdex/heimdex-studio/internal/logging"
	"github.com/heimdex/heimdex-studio/internal/media"
	"github.com/heimdex/heimdex-studio/internal/provider"
	"github.com/heimdex/heimdex-studio/internal/resource"
	"github.com/heimdex/heimdex-studio/internal/timeline"
	"github.com/heimdex/heimdex-studio/internal/vsync"
)

const defaultRefreshRate = 60

// Options configures a Loop.
type Options struct {
	Width       int
	Height      int
	RefreshRate int
	Logger      *slog.Logger
	// Now drives the transport clock; nil uses time.Now.
	Now func() time.Time
}

// Loop composites the timeline on every tick. It owns its allocator so an
// export never shares decode elements with the preview.
type Loop struct {
	store     *timeline.Store
	transport *Transport
	alloc     *resource.Allocator
	comp      *compositor.Compositor
	sync      *vsync.Synchronizer
	audio     *vsync.AudioSync
	bus       *events.Bus
	logger    *slog.Logger
	interval  time.Duration

	running atomic.Bool
	frames  atomic.Int64

	// mu guards the surface and the compositor between the tick and the
	// input path.
	mu       sync.Mutex
	dc       *gg.Context
	ambient  string
	selected string
}

func NewLoop(store *timeline.Store, assets timeline.AssetLookup, registry *provider.Registry, opener media.Opener, bus *events.Bus, opts Options) *Loop {
	logger := logging.WithComponent(logging.OrDiscard(opts.Logger), "live")
	rate := opts.RefreshRate
	if rate <= 0 {
		rate = defaultRefreshRate
	}
	alloc := resource.NewAllocator(opener, logger)
	return &Loop{
		store:     store,
		transport: NewTransport(opts.Now),
		alloc:     alloc,
		comp:      compositor.New(registry, alloc, assets, logger, compositor.WithMode(compositor.ModeLive)),
		sync:      vsync.New(),
		audio:     vsync.NewAudioSync(alloc, assets, logger),
		bus:       bus,
		logger:    logger,
		interval:  time.Second / time.Duration(rate),
		dc:        gg.NewContext(opts.Width, opts.Height),
	}
}

func (l *Loop) Transport() *Transport {
	return l.transport
}

// Start ticks until ctx is done. It never blocks on I/O: unready textures
// and providers render as placeholders and are picked up on later ticks.
func (l *Loop) Start(ctx context.Context) {
	if l.running.Swap(true) {
		return
	}

	l.logger.Info("live loop started", "interval", l.interval)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("live loop stopping", "frames", l.frames.Load())
			l.running.Store(false)
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

func (l *Loop) IsRunning() bool {
	return l.running.Load()
}

// Frames is the number of ticks rendered so far.
func (l *Loop) Frames() int64 {
	return l.frames.Load()
}

// Tick renders one frame at the transport position.
func (l *Loop) Tick(ctx context.Context) {
	tracks := l.store.Tracks()
	t := l.transport.Now()
	if end := timeline.Duration(tracks); l.transport.Playing() && end > 0 && t >= end {
		l.transport.Pause()
		l.transport.Seek(end)
		t = end
	}
	playing := l.transport.Playing()

	l.mu.Lock()
	l.comp.Render(ctx, t, tracks)
	l.sync.Sync(t, playing, l.comp.VideoBindings())
	l.audio.Sync(t, playing, tracks)
	l.comp.Draw(l.dc)
	ambient := compositor.SampleAmbient(l.dc.Image())
	changed := ambient != l.ambient
	l.ambient = ambient
	l.mu.Unlock()

	if changed && l.bus != nil {
		l.bus.Ambient.Publish(ambient)
	}
	l.frames.Add(1)
}

// Ambient is the last sampled ambient color.
func (l *Loop) Ambient() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ambient
}

// Pick selects the topmost object under the normalized surface point and
// publishes the selection.
func (l *Loop) Pick(x, y float64) (string, bool) {
	l.mu.Lock()
	obj, ok := l.comp.Scene().Pick(x*float64(l.dc.Width()), y*float64(l.dc.Height()))
	id := ""
	if ok {
		id = obj.ClipID
	}
	l.selected = id
	l.mu.Unlock()

	if l.bus != nil {
		l.bus.Selection.Publish(id)
	}
	return id, ok
}

// Selected is the clip picked last, empty when nothing is selected.
func (l *Loop) Selected() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selected
}

// Drag moves a clip's transform by a normalized delta.
func (l *Loop) Drag(clipID string, dx, dy float64) error {
	return l.editTransform(clipID, func(tr *timeline.Transform) {
		tr.X += dx
		tr.Y += dy
	})
}

// SetTransform replaces a clip's transform.
func (l *Loop) SetTransform(clipID string, tr timeline.Transform) error {
	return l.editTransform(clipID, func(cur *timeline.Transform) { *cur = tr })
}

func (l *Loop) editTransform(clipID string, fn func(*timeline.Transform)) error {
	var next timeline.Transform
	err := l.store.UpdateClip(clipID, func(c *timeline.Clip) {
		next = c.Data.EffectiveTransform()
		fn(&next)
		tr := next
		c.Data.Transform = &tr
	})
	if err != nil {
		return fmt.Errorf("edit transform of %s: %w", clipID, err)
	}
	if l.bus != nil {
		l.bus.Transform.Publish(events.TransformChange{ClipID: clipID, Transform: next})
	}
	return nil
}

// Snapshot copies the last rendered frame.
func (l *Loop) Snapshot() image.Image {
	l.mu.Lock()
	defer l.mu.Unlock()
	src := l.dc.Image()
	out := image.NewRGBA(src.Bounds())
	draw.Draw(out, out.Bounds(), src, src.Bounds().Min, draw.Src)
	return out
}

// SavePNG writes the last rendered frame to path.
func (l *Loop) SavePNG(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dc.SavePNG(path)
}

// Close releases the compositor, decode elements and surface.
func (l *Loop) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.audio.Stop()
	l.comp.Dispose()
	err := l.alloc.Close()
	if cerr := l.dc.Close(); err == nil {
		err = cerr
	}
	return err
}
