package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdex/heimdex-studio/internal/scene"
	"github.com/heimdex/heimdex-studio/internal/timeline"
)

func TestReadiness_ResolveOnce(t *testing.T) {
	r := NewReadiness()
	assert.False(t, r.IsReady())
	assert.NoError(t, r.Err())

	r.Resolve(errors.New("boom"))
	r.Resolve(nil)

	assert.False(t, r.IsReady())
	assert.EqualError(t, r.Err(), "boom")
	assert.EqualError(t, r.Wait(context.Background()), "boom")
}

func TestReadiness_WaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewReadiness().Wait(ctx), context.Canceled)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewShapeProvider()))
	assert.Error(t, r.Register(NewShapeProvider()))

	p, ok := r.Lookup(TypeShape)
	require.True(t, ok)
	assert.Equal(t, KindObject, p.Kind())

	_, ok = r.Lookup("video")
	assert.False(t, ok)
}

func TestDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry(nil)
	assert.Equal(t, []string{
		TypeColorOverlay, TypeDipToBlack, TypeFadeIn, TypeFadeOut, TypeShape, TypeText,
	}, r.Types())

	p, _ := r.Lookup(TypeDipToBlack)
	assert.Equal(t, KindTransition, p.Kind())
	_, ok := p.(TransitionProvider)
	assert.True(t, ok)
}

// lateProvider returns nil until the configured attempt.
type lateProvider struct {
	*ShapeProvider
	readyAt int
	calls   int
}

func (p *lateProvider) Render(clip *timeline.Clip) (*scene.Object, error) {
	p.calls++
	if p.calls < p.readyAt {
		return nil, nil
	}
	return p.ShapeProvider.Render(clip)
}

func TestRenderWithRetry(t *testing.T) {
	clip := &timeline.Clip{ID: "s", Kind: TypeShape, Duration: 1}
	policy := RetryPolicy{Attempts: 3, Delay: time.Millisecond}

	p := &lateProvider{ShapeProvider: &ShapeProvider{ready: NewReadiness()}, readyAt: 3}
	obj, err := RenderWithRetry(context.Background(), p, clip, policy)
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Equal(t, 3, p.calls)

	p = &lateProvider{ShapeProvider: &ShapeProvider{ready: NewReadiness()}, readyAt: 5}
	obj, err = RenderWithRetry(context.Background(), p, clip, policy)
	require.NoError(t, err)
	assert.Nil(t, obj, "exhausted attempts yield no object")
	assert.Equal(t, 3, p.calls)
}

func TestTextProvider_RendersOnceFontLoaded(t *testing.T) {
	p := NewTextProvider(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Ready().Wait(ctx))

	clip := &timeline.Clip{ID: "title", Kind: TypeText, Duration: 2, Data: p.CreateData()}
	clip.Data.Text.Content = "Cafe\u0301"

	obj, err := p.Render(clip)
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Greater(t, obj.Width, 0.0)
	assert.Greater(t, obj.Height, 0.0)

	st := obj.State.(*textState)
	assert.Equal(t, "Café", st.content, "content is NFC normalized")

	width := obj.Width
	clip.Data.Text.Content = "A much longer title line"
	p.Update(obj, clip, 0.5, 1.0/30)
	assert.Greater(t, obj.Width, width)
}

func TestTextProvider_MissingFontFile(t *testing.T) {
	p := NewTextProvider(nil)
	clip := &timeline.Clip{ID: "t", Kind: TypeText, Duration: 1, Data: timeline.ClipData{
		Text: &timeline.TextConfig{Content: "x", FontPath: "/nonexistent/font.ttf"},
	}}

	obj, err := p.Render(clip)
	if err == nil {
		assert.Nil(t, obj, "font still loading")
		_ = p.font("/nonexistent/font.ttf").ready.Wait(context.Background())
		obj, err = p.Render(clip)
	}
	assert.Error(t, err)
	assert.Nil(t, obj)
}

func TestShapeProvider_Draw(t *testing.T) {
	p := NewShapeProvider()
	clip := &timeline.Clip{ID: "s", Kind: TypeShape, Duration: 1, Data: timeline.ClipData{
		Shape: &timeline.ShapeConfig{Shape: ShapeEllipse, Width: 20, Height: 20, Color: "#ff0000"},
	}}
	obj, err := p.Render(clip)
	require.NoError(t, err)

	dc := gg.NewContext(40, 40)
	defer dc.Close()
	s := scene.New()
	s.Add(obj)
	s.Draw(dc)

	r, g, _, _ := dc.Image().At(20, 20).RGBA()
	assert.Greater(t, r, uint32(0x8000))
	assert.Less(t, g, uint32(0x1000))

	r, _, _, _ = dc.Image().At(1, 1).RGBA()
	assert.Less(t, r, uint32(0x1000), "outside the ellipse")
}

func TestColorOverlay_FullFrame(t *testing.T) {
	p := NewColorOverlayProvider()
	clip := &timeline.Clip{ID: "o", Kind: TypeColorOverlay, Duration: 1, Data: timeline.ClipData{
		Overlay: &timeline.OverlayConfig{Color: "#00ff00", Opacity: 0.5},
	}}
	obj, err := p.Render(clip)
	require.NoError(t, err)
	assert.True(t, obj.FullFrame)
	assert.InDelta(t, 0.5, obj.EffectiveOpacity(), 1e-9)
}

func TestTransitions_Apply(t *testing.T) {
	tests := []struct {
		name     string
		p        TransitionProvider
		progress float64
		want     float64
	}{
		{"fade-in start", NewFadeIn(), 0, 0},
		{"fade-in mid", NewFadeIn(), 0.25, 0.25},
		{"fade-out mid", NewFadeOut(), 0.25, 0.75},
		{"dip start", NewDipToBlack(), 0, 1},
		{"dip middle", NewDipToBlack(), 0.5, 0},
		{"dip end", NewDipToBlack(), 1, 1},
		{"clamped", NewFadeIn(), 3, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := scene.NewObject(&timeline.Clip{ID: "a"}, 0, scene.LayerPrimary)
			b := scene.NewObject(&timeline.Clip{ID: "b"}, 1, scene.LayerOverlay)
			b.BlendAlpha = 0.5

			tc.p.Apply(&timeline.Clip{ID: "tr"}, []*scene.Object{a, b}, tc.progress, 0)
			assert.InDelta(t, tc.want, a.BlendAlpha, 1e-9)
			assert.InDelta(t, tc.want*0.5, b.BlendAlpha, 1e-9)
		})
	}
}
