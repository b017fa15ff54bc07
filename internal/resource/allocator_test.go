package resource

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdex/heimdex-studio/internal/media"
	"github.com/heimdex/heimdex-studio/internal/timeline"
)

// countingOpener wraps the default opener and counts opens.
type countingOpener struct {
	opens atomic.Int32
	inner media.Opener
}

func (o *countingOpener) Open(ref string) (media.Element, error) {
	o.opens.Add(1)
	return o.inner.Open(ref)
}

func newTestAllocator(opts ...Option) (*Allocator, *countingOpener) {
	opener := &countingOpener{inner: &media.DefaultOpener{}}
	return NewAllocator(opener, nil, opts...), opener
}

func videoAsset(id string) *timeline.Asset {
	return &timeline.Asset{ID: id, Kind: timeline.AssetVideo, SourceRef: "synthetic://pattern?w=16&h=9&fps=24&latency=5ms"}
}

func TestAcquire_AsyncThenCached(t *testing.T) {
	a, opener := newTestAllocator()
	defer a.Close()
	asset := videoAsset("v")

	assert.Nil(t, a.Acquire(asset), "first acquire starts a load")
	assert.Nil(t, a.Acquire(asset), "load still in flight")
	assert.Equal(t, 1, a.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Wait(ctx))
	assert.Equal(t, 0, a.Pending())

	tex := a.Acquire(asset)
	require.NotNil(t, tex)
	assert.Same(t, tex, a.Acquire(asset))
	assert.Equal(t, 16, tex.Width)
	assert.Equal(t, SafeSampling, tex.Sampling)
	assert.False(t, tex.Sampling.Mipmaps)
	assert.NotNil(t, tex.Image())
	assert.Equal(t, int32(1), opener.opens.Load())
}

func TestAcquire_DestroyedIsRecreated(t *testing.T) {
	a, _ := newTestAllocator()
	defer a.Close()
	asset := &timeline.Asset{ID: "img", Kind: timeline.AssetImage, SourceRef: "synthetic://pattern?w=4&h=4"}

	first, err := a.Load(context.Background(), asset)
	require.NoError(t, err)

	first.Destroy()
	assert.Nil(t, first.Image())

	second, err := a.Load(context.Background(), asset)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.False(t, second.Destroyed())
}

func TestLoad_RejectsZeroSize(t *testing.T) {
	a, _ := newTestAllocator()
	defer a.Close()

	_, err := a.Load(context.Background(), &timeline.Asset{ID: "z", Kind: timeline.AssetImage, SourceRef: "synthetic://pattern?w=0&h=0"})
	assert.Error(t, err)

	_, err = a.Load(context.Background(), &timeline.Asset{ID: "z2", Kind: timeline.AssetVideo, SourceRef: "synthetic://pattern?w=0&h=0"})
	assert.ErrorIs(t, err, media.ErrNoVideoStream)
}

func TestLoad_AudioIsNotRenderable(t *testing.T) {
	a, _ := newTestAllocator()
	defer a.Close()

	_, err := a.Load(context.Background(), &timeline.Asset{ID: "a", Kind: timeline.AssetAudio})
	assert.ErrorIs(t, err, ErrNotRenderable)
}

func TestAcquire_FailureBacksOff(t *testing.T) {
	a, opener := newTestAllocator(WithRetryBackoff(time.Hour))
	defer a.Close()
	broken := &timeline.Asset{ID: "b", Kind: timeline.AssetVideo, SourceRef: "synthetic://pattern?w=0&h=0"}

	assert.Nil(t, a.Acquire(broken))
	require.NoError(t, a.Wait(context.Background()))
	assert.Nil(t, a.Acquire(broken))
	assert.Equal(t, 0, a.Pending(), "no new load during backoff")

	// Load bypasses the backoff; the broken element was evicted so it reopens.
	_, err := a.Load(context.Background(), broken)
	assert.Error(t, err)
	assert.Equal(t, int32(2), opener.opens.Load())
}

func TestLoad_ReadyTimeout(t *testing.T) {
	a, _ := newTestAllocator(WithReadyTimeout(10 * time.Millisecond))
	defer a.Close()
	slow := &timeline.Asset{ID: "s", Kind: timeline.AssetVideo, SourceRef: "synthetic://pattern?w=4&h=4&latency=1s"}

	_, err := a.Load(context.Background(), slow)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestElement_SharedWithTexture(t *testing.T) {
	a, _ := newTestAllocator()
	defer a.Close()
	asset := videoAsset("v")

	el, err := a.Element(asset)
	require.NoError(t, err)
	tex, err := a.Load(context.Background(), asset)
	require.NoError(t, err)
	assert.Same(t, el, tex.Element())

	_, err = a.Element(&timeline.Asset{ID: "i", Kind: timeline.AssetImage})
	assert.ErrorIs(t, err, ErrNotRenderable)
}

func TestAllocatorsAreIsolated(t *testing.T) {
	live, _ := newTestAllocator()
	defer live.Close()
	export, _ := newTestAllocator()
	defer export.Close()
	asset := videoAsset("v")

	a, err := live.Element(asset)
	require.NoError(t, err)
	b, err := export.Element(asset)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestClose_DestroysTextures(t *testing.T) {
	a, _ := newTestAllocator()
	tex, err := a.Load(context.Background(), videoAsset("v"))
	require.NoError(t, err)

	require.NoError(t, a.Close())
	assert.True(t, tex.Destroyed())
	assert.Nil(t, a.Acquire(videoAsset("v")))
	assert.Equal(t, 0, a.Elements().Len())
}

type brokenOpener struct {
	opens atomic.Int32
}

func (o *brokenOpener) Open(string) (media.Element, error) {
	o.opens.Add(1)
	return nil, errors.New("no such file")
}

func TestLoad_AbandonsAfterMaxFailures(t *testing.T) {
	opener := &brokenOpener{}
	a := NewAllocator(opener, nil, WithMaxFailures(2))
	defer a.Close()
	asset := &timeline.Asset{ID: "gone", Kind: timeline.AssetVideo, SourceRef: "gone.mp4"}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := a.Load(ctx, asset)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrAbandoned)
	}
	assert.True(t, a.Abandoned("gone"))

	_, err := a.Load(ctx, asset)
	assert.ErrorIs(t, err, ErrAbandoned)
	assert.Nil(t, a.Acquire(asset))
	assert.Equal(t, 0, a.Pending(), "no load starts once abandoned")
	assert.Equal(t, int32(2), opener.opens.Load())
}

func TestAcquire_RetriesWithoutCap(t *testing.T) {
	opener := &brokenOpener{}
	a := NewAllocator(opener, nil, WithRetryBackoff(0))
	defer a.Close()
	asset := &timeline.Asset{ID: "gone", Kind: timeline.AssetVideo, SourceRef: "gone.mp4"}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		a.Acquire(asset)
		require.NoError(t, a.Wait(ctx))
	}
	assert.False(t, a.Abandoned("gone"))
	assert.Equal(t, int32(5), opener.opens.Load())
}
