package scene

import (
	"testing"

	"github.com/gogpu/gg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdex/heimdex-studio/internal/timeline"
)

func obj(id string, track int, layer Layer) *Object {
	return NewObject(&timeline.Clip{ID: id}, track, layer)
}

func TestObjects_DrawOrder(t *testing.T) {
	s := New()
	s.Add(obj("title", 0, LayerOverlay))
	s.Add(obj("v2", 2, LayerPrimary))
	s.Add(obj("v1", 1, LayerPrimary))
	s.Add(obj("logo", 3, LayerOverlay))

	var ids []string
	for _, o := range s.Objects() {
		ids = append(ids, o.ClipID)
	}
	assert.Equal(t, []string{"v1", "v2", "title", "logo"}, ids)
}

func TestLayerFor(t *testing.T) {
	assert.Equal(t, LayerPrimary, LayerFor(timeline.TrackVideo))
	assert.Equal(t, LayerOverlay, LayerFor(timeline.TrackText))
	assert.Equal(t, LayerOverlay, LayerFor(timeline.TrackEffect))
}

func TestEffectiveOpacity(t *testing.T) {
	o := obj("a", 0, LayerPrimary)
	o.Transform.Opacity = 0.8
	o.Opacity = 0.5
	o.BlendAlpha = 0.5
	assert.InDelta(t, 0.2, o.EffectiveOpacity(), 1e-9)

	o.BlendAlpha = 4
	o.Opacity = 1
	o.Transform.Opacity = 1
	assert.Equal(t, 1.0, o.EffectiveOpacity())
}

func TestDraw_PlaceholderAndPick(t *testing.T) {
	dc := gg.NewContext(160, 90)
	defer dc.Close()

	s := New()
	s.Background = gg.RGBA{A: 1}
	s.Placeholder = gg.RGBA{R: 1, A: 1}

	small := obj("small", 1, LayerOverlay)
	small.Draw = func(dc *gg.Context, _ *Object, box Rect) {
		dc.SetRGBA(0, 0, 1, 1)
		dc.DrawRectangle(box.X, box.Y, box.W, box.H)
		_ = dc.Fill()
	}
	small.Width, small.Height = 20, 20
	small.Transform.X, small.Transform.Y = 0.25, 0.5

	s.Add(obj("video", 0, LayerPrimary))
	s.Add(small)
	s.Draw(dc)

	img := dc.Image()
	r, _, _, _ := img.At(150, 80).RGBA()
	assert.Greater(t, r, uint32(0x8000), "placeholder covers the surface")
	_, _, b, _ := img.At(40, 45).RGBA()
	assert.Greater(t, b, uint32(0x8000), "procedural content drawn on top")

	picked, ok := s.Pick(40, 45)
	require.True(t, ok)
	assert.Equal(t, "small", picked.ClipID)

	picked, ok = s.Pick(150, 80)
	require.True(t, ok)
	assert.Equal(t, "video", picked.ClipID)
}

func TestDraw_ZeroOpacitySkipsObject(t *testing.T) {
	dc := gg.NewContext(20, 20)
	defer dc.Close()

	s := New()
	s.Background = gg.RGBA{A: 1}
	s.Placeholder = gg.RGBA{G: 1, A: 1}
	hidden := obj("hidden", 0, LayerPrimary)
	hidden.BlendAlpha = 0
	s.Add(hidden)
	s.Draw(dc)

	_, g, _, _ := dc.Image().At(10, 10).RGBA()
	assert.Equal(t, uint32(0), g)
}

func TestRemove(t *testing.T) {
	s := New()
	s.Add(obj("a", 0, LayerPrimary))
	_, ok := s.Remove("a")
	assert.True(t, ok)
	assert.Equal(t, 0, s.Len())
	_, ok = s.Get("a")
	assert.False(t, ok)
}
