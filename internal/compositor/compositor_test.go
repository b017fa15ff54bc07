package compositor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdex/heimdex-studio/internal/logging"
	"github.com/heimdex/heimdex-studio/internal/media"
	"github.com/heimdex/heimdex-studio/internal/media/mediatest"
	"github.com/heimdex/heimdex-studio/internal/provider"
	"github.com/heimdex/heimdex-studio/internal/resource"
	"github.com/heimdex/heimdex-studio/internal/scene"
	"github.com/heimdex/heimdex-studio/internal/timeline"
)

type fakeOpener struct {
	elements map[string]*mediatest.Element
}

func (o *fakeOpener) Open(ref string) (media.Element, error) {
	el, ok := o.elements[ref]
	if !ok {
		el = mediatest.NewElement(64, 36, 30)
		o.elements[ref] = el
	}
	return el, nil
}

func newCompositor(t *testing.T, assets timeline.Assets, opts ...Option) (*Compositor, *resource.Allocator, *fakeOpener) {
	t.Helper()
	opener := &fakeOpener{elements: make(map[string]*mediatest.Element)}
	alloc := resource.NewAllocator(opener, nil)
	t.Cleanup(func() { _ = alloc.Close() })
	return New(provider.NewDefaultRegistry(nil), alloc, assets, nil, opts...), alloc, opener
}

func shapeClip(id string, start, dur float64) *timeline.Clip {
	return &timeline.Clip{ID: id, Kind: provider.TypeShape, Start: start, Duration: dur, Data: timeline.ClipData{
		Shape: &timeline.ShapeConfig{Shape: provider.ShapeRect, Width: 10, Height: 10},
	}}
}

func ids(objs []*scene.Object) []string {
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.ClipID)
	}
	return out
}

func TestEasing_Boundaries(t *testing.T) {
	for name, f := range map[string]Easing{
		"linear": Linear, "ease-in": EaseIn, "ease-out": EaseOut, "ease-in-out": EaseInOut,
	} {
		assert.Equal(t, 0.0, f(0), name)
		assert.Equal(t, 1.0, f(1), name)
	}
	assert.InDelta(t, 0.25, EaseIn(0.5), 1e-12)
	assert.InDelta(t, 0.75, EaseOut(0.5), 1e-12)
	assert.InDelta(t, 0.125, EaseInOut(0.25), 1e-12)
	assert.InDelta(t, 0.875, EaseInOut(0.75), 1e-12)
	assert.InDelta(t, 0.3, ParseEasing("bogus")(0.3), 1e-12)
}

func TestRender_LayersAndDispose(t *testing.T) {
	assets := timeline.Assets{"clip": {ID: "clip", SourceRef: "clip.mp4", Kind: timeline.AssetVideo}}
	c, alloc, opener := newCompositor(t, assets)

	tracks := []*timeline.Track{
		{ID: "title", Kind: timeline.TrackOverlay, Clips: []*timeline.Clip{shapeClip("box", 0, 5)}},
		{ID: "v1", Kind: timeline.TrackVideo, Clips: []*timeline.Clip{{ID: "video", AssetID: "clip", Kind: "video", Duration: 10}}},
	}

	st := c.Render(context.Background(), 1, tracks)
	assert.Equal(t, 2, st.Created)
	assert.Equal(t, 1, st.Pending, "video texture still loading")
	assert.Equal(t, []string{"video", "box"}, ids(c.Objects()), "overlay draws above video")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, alloc.Wait(ctx))

	st = c.Render(context.Background(), 2, tracks)
	assert.Equal(t, 0, st.Pending)
	require.Len(t, c.VideoBindings(), 1)
	el := opener.elements["clip.mp4"]
	assert.Same(t, el, c.ActiveElements()[0])

	el.Play()
	el.Attach()
	st = c.Render(context.Background(), 7, tracks)
	assert.Equal(t, 1, st.Disposed, "box left the visible set")
	assert.Equal(t, []string{"video"}, ids(c.Objects()))

	c.Render(context.Background(), 12, tracks)
	assert.Empty(t, c.Objects())
	assert.True(t, el.Paused())
	assert.False(t, el.Attached())
}

func TestRender_AttachedRamps(t *testing.T) {
	c, _, _ := newCompositor(t, timeline.Assets{})

	clip := shapeClip("s", 0, 10)
	clip.Data.Fade = &timeline.Fade{
		In:  &timeline.Ramp{Duration: 1, Easing: "ease-in"},
		Out: &timeline.Ramp{Duration: 2},
	}
	tracks := []*timeline.Track{{ID: "o", Kind: timeline.TrackOverlay, Clips: []*timeline.Clip{clip}}}

	tests := []struct {
		t    float64
		want float64
	}{
		{0, 0},
		{0.5, 0.25},
		{1, 1},
		{5, 1},
		{9, 0.5},
	}
	for _, tc := range tests {
		c.Render(context.Background(), tc.t, tracks)
		obj, ok := c.Scene().Get("s")
		require.True(t, ok)
		assert.InDelta(t, tc.want, obj.Opacity, 1e-9, "t=%v", tc.t)
	}
}

func TestRender_GlobalTransition(t *testing.T) {
	c, _, _ := newCompositor(t, timeline.Assets{})
	tracks := []*timeline.Track{
		{ID: "a", Kind: timeline.TrackOverlay, Clips: []*timeline.Clip{shapeClip("a", 0, 10)}},
		{ID: "b", Kind: timeline.TrackText, Clips: []*timeline.Clip{shapeClip("b", 0, 10)}},
		{ID: "tr", Kind: timeline.TrackTransition, Clips: []*timeline.Clip{{ID: "dip", Kind: provider.TypeDipToBlack, Start: 2, Duration: 2}}},
	}

	st := c.Render(context.Background(), 3, tracks)
	assert.Equal(t, 1, st.Transitions)
	assert.Equal(t, 2, st.Resident, "transitions own no object")
	for _, obj := range c.Objects() {
		assert.InDelta(t, 0, obj.BlendAlpha, 1e-9)
	}

	c.Render(context.Background(), 2.5, tracks)
	for _, obj := range c.Objects() {
		assert.InDelta(t, 0.5, obj.BlendAlpha, 1e-9)
	}

	c.Render(context.Background(), 5, tracks)
	for _, obj := range c.Objects() {
		assert.Equal(t, 1.0, obj.BlendAlpha, "blend state is reset once the transition ends")
	}
}

// neverReady is a provider whose dependency never loads.
type neverReady struct {
	*provider.ShapeProvider
	ready *provider.Readiness
	calls int
}

func (p *neverReady) Type() string               { return "slow" }
func (p *neverReady) Ready() *provider.Readiness { return p.ready }

func (p *neverReady) Render(*timeline.Clip) (*scene.Object, error) {
	p.calls++
	return nil, nil
}

func TestRender_CaptureSkipsExhaustedProvider(t *testing.T) {
	slow := &neverReady{ShapeProvider: provider.NewShapeProvider(), ready: provider.NewReadiness()}
	reg := provider.NewRegistry()
	require.NoError(t, reg.Register(slow))

	alloc := resource.NewAllocator(&fakeOpener{elements: map[string]*mediatest.Element{}}, nil)
	defer alloc.Close()
	c := New(reg, alloc, timeline.Assets{}, nil,
		WithMode(ModeCapture),
		WithRetryPolicy(provider.RetryPolicy{Attempts: 3, Delay: time.Millisecond}))

	tracks := []*timeline.Track{{ID: "o", Kind: timeline.TrackOverlay, Clips: []*timeline.Clip{{ID: "x", Kind: "slow", Duration: 5}}}}
	c.Render(context.Background(), 0, tracks)
	c.Render(context.Background(), 1, tracks)

	assert.Equal(t, 3, slow.calls, "clip is skipped after the retry budget")
	assert.Empty(t, c.Objects())
}

func TestRender_LiveRetriesNextFrame(t *testing.T) {
	slow := &neverReady{ShapeProvider: provider.NewShapeProvider(), ready: provider.NewReadiness()}
	reg := provider.NewRegistry()
	require.NoError(t, reg.Register(slow))

	alloc := resource.NewAllocator(&fakeOpener{elements: map[string]*mediatest.Element{}}, nil)
	defer alloc.Close()
	c := New(reg, alloc, timeline.Assets{}, nil)

	tracks := []*timeline.Track{{ID: "o", Kind: timeline.TrackOverlay, Clips: []*timeline.Clip{{ID: "x", Kind: "slow", Duration: 5}}}}
	for i := 0; i < 4; i++ {
		st := c.Render(context.Background(), float64(i)/30, tracks)
		assert.Equal(t, 1, st.Pending)
	}
	assert.Equal(t, 4, slow.calls)
}

// brokenProvider fails every render, like a text clip whose font file is
// missing.
type brokenProvider struct {
	*provider.ShapeProvider
	calls int
}

func (p *brokenProvider) Type() string { return "broken" }

func (p *brokenProvider) Render(*timeline.Clip) (*scene.Object, error) {
	p.calls++
	return nil, errors.New("font missing.ttf: no such file")
}

func TestRender_LiveLogsProviderErrorOnce(t *testing.T) {
	broken := &brokenProvider{ShapeProvider: provider.NewShapeProvider()}
	reg := provider.NewRegistry()
	require.NoError(t, reg.Register(broken))

	var logs bytes.Buffer
	alloc := resource.NewAllocator(&fakeOpener{elements: map[string]*mediatest.Element{}}, nil)
	defer alloc.Close()
	c := New(reg, alloc, timeline.Assets{}, logging.NewLoggerTo(&logs, "info"))

	ctx := context.Background()
	tracks := []*timeline.Track{{ID: "o", Kind: timeline.TrackOverlay, Clips: []*timeline.Clip{{ID: "x", Kind: "broken", Duration: 5}}}}
	for i := 0; i < 60; i++ {
		c.Render(ctx, float64(i)/60, tracks)
	}
	assert.Equal(t, 60, broken.calls, "live mode keeps retrying")
	assert.Equal(t, 1, strings.Count(logs.String(), "provider render failed"))

	c.Render(ctx, 10, tracks)
	c.Render(ctx, 1, tracks)
	assert.Equal(t, 2, strings.Count(logs.String(), "provider render failed"), "re-entering the clip logs again")
}

type failingOpener struct {
	opens atomic.Int32
}

func (o *failingOpener) Open(string) (media.Element, error) {
	o.opens.Add(1)
	return nil, errors.New("no such file")
}

func TestRender_CaptureSkipsAbandonedAsset(t *testing.T) {
	opener := &failingOpener{}
	alloc := resource.NewAllocator(opener, nil, resource.WithMaxFailures(2), resource.WithRetryBackoff(0))
	defer alloc.Close()
	assets := timeline.Assets{"gone": {ID: "gone", Kind: timeline.AssetVideo, SourceRef: "gone.mp4"}}
	c := New(provider.NewDefaultRegistry(nil), alloc, assets, nil, WithMode(ModeCapture))

	ctx := context.Background()
	tracks := []*timeline.Track{{ID: "v1", Kind: timeline.TrackVideo, Clips: []*timeline.Clip{{ID: "v", AssetID: "gone", Kind: "video", Duration: 5}}}}
	for i := 0; i < 10; i++ {
		c.Render(ctx, float64(i)/30, tracks)
		require.NoError(t, alloc.Wait(ctx))
	}

	assert.Equal(t, int32(2), opener.opens.Load(), "loads stop at the failure cap")
	assert.True(t, alloc.Abandoned("gone"))
	assert.Empty(t, c.Objects())
	assert.Empty(t, c.VideoBindings())
}

func TestDispose(t *testing.T) {
	c, _, _ := newCompositor(t, timeline.Assets{})
	tracks := []*timeline.Track{{ID: "o", Kind: timeline.TrackOverlay, Clips: []*timeline.Clip{shapeClip("a", 0, 1)}}}
	c.Render(context.Background(), 0, tracks)
	require.Len(t, c.Objects(), 1)

	c.Dispose()
	assert.Empty(t, c.Objects())
}

func TestSampleAmbient(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 20, B: 40, A: 255})
		}
	}
	assert.Equal(t, "rgba(200, 20, 40, 1.00)", SampleAmbient(img))
	assert.Equal(t, "rgba(0, 0, 0, 0)", SampleAmbient(nil))
}
