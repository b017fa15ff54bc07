// Package scene holds the renderable objects of one compositor and draws
// them onto a gg context in layer order.
package scene

import (
	"math"
	"sort"

	"github.com/gogpu/gg"

	"github.com/heimdex/heimdex-studio/internal/media"
	"github.com/heimdex/heimdex-studio/internal/resource"
	"github.com/heimdex/heimdex-studio/internal/timeline"
)

// Layer orders objects: everything on an overlay layer draws above the
// primary layer.
type Layer int

const (
	LayerPrimary Layer = iota
	LayerOverlay
)

// LayerFor maps a track kind to its layer.
func LayerFor(kind timeline.TrackKind) Layer {
	if kind.IsOverlay() {
		return LayerOverlay
	}
	return LayerPrimary
}

// DrawFunc draws procedural content into box, the placed and scaled bounds
// in surface pixels. Opacity is applied by the scene, and so is rotation
// for path drawing (text is drawn unrotated by the rasterizer).
type DrawFunc func(dc *gg.Context, obj *Object, box Rect)

// Rect is an axis-aligned rectangle in surface pixels.
type Rect struct {
	X, Y, W, H float64
}

func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x < r.X+r.W && y >= r.Y && y < r.Y+r.H
}

// Object is the renderable instance of one visible clip.
type Object struct {
	ClipID     string
	ClipKind   string
	TrackIndex int
	Layer      Layer

	Transform timeline.Transform
	// Opacity is the per-frame opacity from attached fades.
	Opacity float64
	// BlendAlpha is the transition multiplier. The compositor resets it to 1
	// at the start of every frame.
	BlendAlpha float64

	Texture *resource.Texture
	Draw    DrawFunc
	Element media.Element

	// Width and Height are the natural size of procedural content in
	// pixels; zero fills the surface.
	Width  float64
	Height float64
	// FullFrame objects ignore the transform and cover the whole surface.
	FullFrame bool

	// State is provider-owned per-object state.
	State any

	bounds Rect
}

// NewObject returns an object with neutral opacity.
func NewObject(clip *timeline.Clip, trackIndex int, layer Layer) *Object {
	return &Object{
		ClipID:     clip.ID,
		ClipKind:   clip.Kind,
		TrackIndex: trackIndex,
		Layer:      layer,
		Transform:  clip.Data.EffectiveTransform(),
		Opacity:    1,
		BlendAlpha: 1,
	}
}

// EffectiveOpacity combines transform, fade and transition opacity.
func (o *Object) EffectiveOpacity() float64 {
	return clamp01(o.Transform.Opacity * o.Opacity * o.BlendAlpha)
}

// Bounds is where the object was last drawn.
func (o *Object) Bounds() Rect {
	return o.bounds
}

// Scene is the resident object set of a compositor, keyed by clip id.
type Scene struct {
	Background  gg.RGBA
	Placeholder gg.RGBA

	objects map[string]*Object
}

func New() *Scene {
	return &Scene{
		Background:  gg.RGBA{R: 0, G: 0, B: 0, A: 1},
		Placeholder: gg.RGBA{R: 0.12, G: 0.12, B: 0.14, A: 1},
		objects:     make(map[string]*Object),
	}
}

func (s *Scene) Add(obj *Object) {
	s.objects[obj.ClipID] = obj
}

func (s *Scene) Remove(clipID string) (*Object, bool) {
	obj, ok := s.objects[clipID]
	delete(s.objects, clipID)
	return obj, ok
}

func (s *Scene) Get(clipID string) (*Object, bool) {
	obj, ok := s.objects[clipID]
	return obj, ok
}

func (s *Scene) Len() int {
	return len(s.objects)
}

// Objects returns resident objects in draw order: layer, then track index
// (higher index on top), then clip id for stability.
func (s *Scene) Objects() []*Object {
	out := make([]*Object, 0, len(s.objects))
	for _, o := range s.objects {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Layer != b.Layer {
			return a.Layer < b.Layer
		}
		if a.TrackIndex != b.TrackIndex {
			return a.TrackIndex < b.TrackIndex
		}
		return a.ClipID < b.ClipID
	})
	return out
}

// Pick returns the topmost object containing the surface point, if any.
func (s *Scene) Pick(x, y float64) (*Object, bool) {
	objs := s.Objects()
	for i := len(objs) - 1; i >= 0; i-- {
		if objs[i].FullFrame {
			continue
		}
		if objs[i].bounds.Contains(x, y) {
			return objs[i], true
		}
	}
	return nil, false
}

// Draw clears dc to the background and draws every object.
func (s *Scene) Draw(dc *gg.Context) {
	dc.ClearWithColor(s.Background)
	for _, obj := range s.Objects() {
		s.drawObject(dc, obj)
	}
}

func (s *Scene) drawObject(dc *gg.Context, obj *Object) {
	surfW, surfH := float64(dc.Width()), float64(dc.Height())
	alpha := obj.EffectiveOpacity()

	var img *gg.ImageBuf
	if obj.Texture != nil {
		img = obj.Texture.Image()
	}

	switch {
	case img != nil:
		iw, ih := img.Bounds()
		w, h := fit(float64(iw), float64(ih), surfW, surfH)
		obj.bounds = place(obj, w, h, surfW, surfH)
		if alpha <= 0 {
			return
		}
		// Textured quads are drawn axis-aligned; rotation applies to
		// procedural content only.
		dc.DrawImageEx(img, gg.DrawImageOptions{
			X:             obj.bounds.X,
			Y:             obj.bounds.Y,
			DstWidth:      obj.bounds.W,
			DstHeight:     obj.bounds.H,
			Interpolation: obj.Texture.Sampling.Interpolation(),
			Opacity:       alpha,
			BlendMode:     gg.BlendNormal,
		})

	case obj.Draw != nil:
		w, h := obj.Width, obj.Height
		if w <= 0 || h <= 0 {
			w, h = surfW, surfH
		}
		obj.bounds = place(obj, w, h, surfW, surfH)
		if alpha <= 0 {
			return
		}
		dc.PushLayer(gg.BlendNormal, alpha)
		dc.Push()
		if !obj.FullFrame && obj.Transform.Rotation != 0 {
			b := obj.bounds
			dc.RotateAbout(obj.Transform.Rotation*math.Pi/180, b.X+b.W/2, b.Y+b.H/2)
		}
		obj.Draw(dc, obj, obj.bounds)
		dc.Pop()
		dc.PopLayer()

	default:
		// Not visually ready yet.
		w, h := fit(16, 9, surfW, surfH)
		obj.bounds = place(obj, w, h, surfW, surfH)
		if alpha <= 0 {
			return
		}
		p := s.Placeholder
		dc.SetRGBA(p.R, p.G, p.B, p.A*alpha)
		dc.DrawRectangle(obj.bounds.X, obj.bounds.Y, obj.bounds.W, obj.bounds.H)
		_ = dc.Fill()
	}
}

// place centers a w×h box (before transform scale) on the transform
// position.
func place(obj *Object, w, h, surfW, surfH float64) Rect {
	if obj.FullFrame {
		return Rect{0, 0, surfW, surfH}
	}
	s := scaleOf(obj)
	w, h = w*s, h*s
	cx, cy := obj.Transform.X*surfW, obj.Transform.Y*surfH
	return Rect{X: cx - w/2, Y: cy - h/2, W: w, H: h}
}

func scaleOf(obj *Object) float64 {
	if obj.Transform.Scale <= 0 {
		return 1
	}
	return obj.Transform.Scale
}

// fit scales w×h to the largest size inside surfW×surfH keeping aspect.
func fit(w, h, surfW, surfH float64) (float64, float64) {
	if w <= 0 || h <= 0 {
		return surfW, surfH
	}
	k := math.Min(surfW/w, surfH/h)
	return w * k, h * k
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
