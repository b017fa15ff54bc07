// Package compositor turns a point in time and a track list into a scene of
// renderable objects. The live preview and the export pipeline each own a
// Compositor with its own allocator.
package compositor

import (
	"context"
	"log/slog"
	"math"

	"github.com/gogpu/gg"

	"github.com/heimdex/heimdex-studio/internal/logging"
	"github.com/heimdex/heimdex-studio/internal/media"
	"github.com/heimdex/heimdex-studio/internal/provider"
	"github.com/heimdex/heimdex-studio/internal/resource"
	"github.com/heimdex/heimdex-studio/internal/scene"
	"github.com/heimdex/heimdex-studio/internal/timeline"
	"github.com/heimdex/heimdex-studio/internal/vsync"
)

// Mode selects how unready providers are handled.
type Mode int

const (
	// ModeLive never blocks; unready content is retried next frame.
	ModeLive Mode = iota
	// ModeCapture retries providers with a bounded policy and skips clips
	// that never produce an object.
	ModeCapture
)

func (m Mode) String() string {
	if m == ModeCapture {
		return "capture"
	}
	return "live"
}

// Option configures a Compositor.
type Option func(*Compositor)

func WithMode(m Mode) Option {
	return func(c *Compositor) { c.mode = m }
}

func WithRetryPolicy(p provider.RetryPolicy) Option {
	return func(c *Compositor) { c.retry = p }
}

// resident is a content clip with its object.
type resident struct {
	clip    *timeline.Clip
	obj     *scene.Object
	content provider.ContentProvider
	asset   *timeline.Asset
}

// Stats summarizes one Render call.
type Stats struct {
	Visible     int
	Resident    int
	Created     int
	Disposed    int
	Transitions int
	Pending     int
}

type Compositor struct {
	registry  *provider.Registry
	allocator *resource.Allocator
	assets    timeline.AssetLookup
	logger    *slog.Logger
	mode      Mode
	retry     provider.RetryPolicy

	scene    *scene.Scene
	resident map[string]*resident
	skipped  map[string]bool
	// failed holds the last logged provider error per clip in live mode.
	failed   map[string]string
	lastTime float64
}

func New(registry *provider.Registry, allocator *resource.Allocator, assets timeline.AssetLookup, logger *slog.Logger, opts ...Option) *Compositor {
	c := &Compositor{
		registry:  registry,
		allocator: allocator,
		assets:    assets,
		mode:      ModeLive,
		retry:     provider.DefaultRetryPolicy,
		scene:     scene.New(),
		resident:  make(map[string]*resident),
		skipped:   make(map[string]bool),
		failed:    make(map[string]string),
		lastTime:  math.NaN(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.WithComponent(logging.OrDiscard(logger), "compositor").With("mode", c.mode.String())
	return c
}

// Render rebuilds the scene for time t. ctx bounds capture-mode provider
// retries; live mode never blocks on it.
func (c *Compositor) Render(ctx context.Context, t float64, tracks []*timeline.Track) Stats {
	var st Stats
	dt := 0.0
	if !math.IsNaN(c.lastTime) {
		dt = t - c.lastTime
	}
	c.lastTime = t

	visible := timeline.VisibleClips(tracks, t)
	st.Visible = len(visible)

	type transition struct {
		clip *timeline.Clip
		p    provider.TransitionProvider
	}
	var (
		contents    []timeline.Visible
		transitions []transition
	)
	for _, v := range visible {
		if v.Track.Kind == timeline.TrackAudio {
			continue
		}
		if p, ok := c.registry.Lookup(v.Clip.Kind); ok {
			if tp, ok := p.(provider.TransitionProvider); ok {
				transitions = append(transitions, transition{v.Clip, tp})
				continue
			}
		}
		contents = append(contents, v)
	}

	keep := make(map[string]bool, len(contents))
	for _, v := range contents {
		keep[v.Clip.ID] = true
	}
	for id, r := range c.resident {
		if !keep[id] || !sameContent(r.clip, c.clipOf(contents, id)) {
			c.dispose(id)
			st.Disposed++
		}
	}
	for id := range c.failed {
		if !keep[id] {
			delete(c.failed, id)
		}
	}

	for _, v := range contents {
		r, ok := c.resident[v.Clip.ID]
		if !ok {
			if c.skipped[v.Clip.ID] {
				continue
			}
			r = c.instantiate(ctx, v)
			if r == nil {
				st.Pending++
				continue
			}
			st.Created++
		}
		r.clip = v.Clip
		r.obj.TrackIndex = v.TrackIndex
		r.obj.Layer = scene.LayerFor(v.Track.Kind)

		// Transition state never carries over between frames.
		r.obj.Opacity = 1
		r.obj.BlendAlpha = 1

		c.update(r, t, dt)
		if c.mode == ModeCapture && r.asset != nil && r.obj.Texture == nil && c.allocator.Abandoned(r.asset.ID) {
			logging.WithClipID(c.logger, v.Clip.ID).Warn("asset never loaded, skipping clip", "asset_id", r.asset.ID)
			c.dispose(v.Clip.ID)
			c.skipped[v.Clip.ID] = true
			st.Disposed++
			continue
		}
		if r.obj.Texture == nil && r.obj.Draw == nil {
			st.Pending++
		}
		applyRamps(r.obj, v.Clip, t)
	}

	if len(transitions) > 0 {
		targets := c.scene.Objects()
		for _, tr := range transitions {
			progress := clamp01((t - tr.clip.Start) / tr.clip.Duration)
			easing := Linear
			if cfg := tr.clip.Data.Transition; cfg != nil {
				easing = ParseEasing(cfg.Easing)
			}
			tr.p.Apply(tr.clip, targets, easing(progress), t)
		}
	}
	st.Transitions = len(transitions)
	st.Resident = c.scene.Len()
	return st
}

// instantiate creates the object for a visible content clip. A nil result
// means the clip is not ready yet or has been skipped.
func (c *Compositor) instantiate(ctx context.Context, v timeline.Visible) *resident {
	clip := v.Clip
	log := logging.WithClipID(c.logger, clip.ID)

	if p, ok := c.registry.Lookup(clip.Kind); ok {
		cp, ok := p.(provider.ContentProvider)
		if !ok {
			return nil
		}
		var (
			obj *scene.Object
			err error
		)
		if c.mode == ModeCapture {
			obj, err = provider.RenderWithRetry(ctx, cp, clip, c.retry)
		} else {
			obj, err = cp.Render(clip)
		}
		switch {
		case err != nil && c.mode == ModeCapture:
			log.Warn("provider render failed", "kind", clip.Kind, "error", err)
			c.skipped[clip.ID] = true
			return nil
		case err != nil:
			// Live mode keeps retrying so an edit can fix the clip, but
			// logs each distinct error once.
			if c.failed[clip.ID] != err.Error() {
				log.Warn("provider render failed", "kind", clip.Kind, "error", err)
				c.failed[clip.ID] = err.Error()
			}
			return nil
		case obj == nil && c.mode == ModeCapture:
			log.Warn("provider never became ready, skipping clip", "kind", clip.Kind, "attempts", c.retry.Attempts)
			c.skipped[clip.ID] = true
			return nil
		case obj == nil:
			return nil
		}
		delete(c.failed, clip.ID)
		obj.ClipID = clip.ID
		obj.ClipKind = clip.Kind
		r := &resident{clip: clip, obj: obj, content: cp}
		c.resident[clip.ID] = r
		c.scene.Add(obj)
		return r
	}

	// No provider: a textured quad backed by the allocator. Until the
	// texture lands it draws as a placeholder.
	obj := scene.NewObject(clip, v.TrackIndex, scene.LayerFor(v.Track.Kind))
	r := &resident{clip: clip, obj: obj}
	if clip.AssetID != "" {
		asset, ok := c.assets.Asset(clip.AssetID)
		if ok {
			r.asset = asset
		} else {
			log.Warn("clip references unknown asset", "asset_id", clip.AssetID)
		}
	}
	c.resident[clip.ID] = r
	c.scene.Add(obj)
	return r
}

// update drives the per-frame animation of a resident object.
func (c *Compositor) update(r *resident, t, dt float64) {
	local := r.clip.LocalTime(t)
	if r.content != nil {
		r.content.Update(r.obj, r.clip, local, dt)
		return
	}

	r.obj.Transform = r.clip.Data.EffectiveTransform()
	if r.asset == nil {
		return
	}
	if r.obj.Texture == nil || r.obj.Texture.Destroyed() {
		r.obj.Texture = c.allocator.Acquire(r.asset)
		if r.obj.Texture != nil {
			r.obj.Element = r.obj.Texture.Element()
		}
	}
}

// applyRamps applies the fades attached to a clip. Each ramp only acts
// while its progress is inside [0, 1].
func applyRamps(obj *scene.Object, clip *timeline.Clip, t float64) {
	fade := clip.Data.Fade
	if fade == nil {
		return
	}
	if in := fade.In; in != nil && in.Duration > 0 {
		p := (t - clip.Start) / in.Duration
		if p >= 0 && p <= 1 {
			obj.Opacity *= ParseEasing(in.Easing)(p)
		}
	}
	if out := fade.Out; out != nil && out.Duration > 0 {
		p := (t - (clip.End() - out.Duration)) / out.Duration
		if p >= 0 && p <= 1 {
			obj.Opacity *= 1 - ParseEasing(out.Easing)(p)
		}
	}
}

func (c *Compositor) dispose(clipID string) {
	r, ok := c.resident[clipID]
	if !ok {
		return
	}
	delete(c.resident, clipID)
	c.scene.Remove(clipID)
	if el := r.obj.Element; el != nil {
		el.Pause()
		el.Detach()
	}
}

func (c *Compositor) clipOf(contents []timeline.Visible, id string) *timeline.Clip {
	for _, v := range contents {
		if v.Clip.ID == id {
			return v.Clip
		}
	}
	return nil
}

// sameContent reports whether a resident object can keep serving clip.
func sameContent(prev, next *timeline.Clip) bool {
	return next != nil && prev.Kind == next.Kind && prev.AssetID == next.AssetID
}

// Draw draws the current scene onto dc.
func (c *Compositor) Draw(dc *gg.Context) {
	c.scene.Draw(dc)
}

// Scene exposes the scene for picking and background configuration.
func (c *Compositor) Scene() *scene.Scene {
	return c.scene
}

// Objects returns resident objects in draw order.
func (c *Compositor) Objects() []*scene.Object {
	return c.scene.Objects()
}

// VideoBindings pairs every resident clip that has a decode element with it.
func (c *Compositor) VideoBindings() []vsync.Binding {
	var out []vsync.Binding
	for _, obj := range c.scene.Objects() {
		r := c.resident[obj.ClipID]
		if r == nil || r.obj.Element == nil {
			continue
		}
		out = append(out, vsync.Binding{Clip: r.clip, Element: r.obj.Element})
	}
	return out
}

// ActiveElements lists the decode elements referenced by the scene.
func (c *Compositor) ActiveElements() []media.Element {
	seen := make(map[media.Element]bool)
	var out []media.Element
	for _, b := range c.VideoBindings() {
		if !seen[b.Element] {
			seen[b.Element] = true
			out = append(out, b.Element)
		}
	}
	return out
}

// Dispose removes every object and releases their decode elements. The
// allocator is owned by the caller and is not closed.
func (c *Compositor) Dispose() {
	for id := range c.resident {
		c.dispose(id)
	}
	c.skipped = make(map[string]bool)
	c.failed = make(map[string]string)
	c.lastTime = math.NaN()
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
