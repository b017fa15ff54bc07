// Package resource turns assets into drawable textures. Video readiness
// races and sampling configuration are handled here so the compositor only
// ever sees textures that are safe to draw.
package resource

import (
	"sync/atomic"

	"github.com/gogpu/gg"

	"github.com/heimdex/heimdex-studio/internal/media"
	"github.com/heimdex/heimdex-studio/internal/timeline"
)

type Wrap int

const (
	ClampToEdge Wrap = iota
	Repeat
)

type Filter int

const (
	Linear Filter = iota
	Nearest
)

// Sampling is how a texture is sampled when drawn scaled. Source material
// is rarely power-of-two sized, so textures never use mipmaps and always
// clamp to edge.
type Sampling struct {
	Mipmaps bool
	Wrap    Wrap
	Filter  Filter
}

// SafeSampling is the only sampling configuration the allocator hands out.
var SafeSampling = Sampling{Mipmaps: false, Wrap: ClampToEdge, Filter: Linear}

// Interpolation maps the filter to the rasterizer's interpolation mode.
func (s Sampling) Interpolation() gg.InterpolationMode {
	if s.Filter == Nearest {
		return gg.InterpNearest
	}
	return gg.InterpBilinear
}

// Texture is a drawable image keyed by asset id. Video textures read the
// current frame of their decode element on every draw.
type Texture struct {
	AssetID  string
	Kind     timeline.AssetKind
	Width    int
	Height   int
	Sampling Sampling

	image     *gg.ImageBuf
	element   media.Element
	destroyed atomic.Bool
}

// NewImageTexture wraps a decoded still image.
func NewImageTexture(assetID string, img *gg.ImageBuf) *Texture {
	w, h := img.Bounds()
	return &Texture{
		AssetID:  assetID,
		Kind:     timeline.AssetImage,
		Width:    w,
		Height:   h,
		Sampling: SafeSampling,
		image:    img,
	}
}

// NewVideoTexture binds a texture to a decode element.
func NewVideoTexture(assetID string, el media.Element) *Texture {
	w, h := el.Size()
	return &Texture{
		AssetID:  assetID,
		Kind:     timeline.AssetVideo,
		Width:    w,
		Height:   h,
		Sampling: SafeSampling,
		element:  el,
	}
}

// Image returns the pixels to draw, nil once destroyed.
func (t *Texture) Image() *gg.ImageBuf {
	if t.destroyed.Load() {
		return nil
	}
	if t.element != nil {
		return t.element.Frame()
	}
	return t.image
}

// Element is the decode element backing a video texture.
func (t *Texture) Element() media.Element {
	return t.element
}

// Destroy releases the texture. The decode element stays with its cache.
func (t *Texture) Destroy() {
	t.destroyed.Store(true)
}

func (t *Texture) Destroyed() bool {
	return t.destroyed.Load()
}
