package vsync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/heimdex/heimdex-studio/internal/media"
	"github.com/heimdex/heimdex-studio/internal/media/mediatest"
	"github.com/heimdex/heimdex-studio/internal/timeline"
)

func TestSync_ToleranceDependsOnTransport(t *testing.T) {
	clip := &timeline.Clip{ID: "v", Start: 2, Duration: 10, Offset: 1}
	el := mediatest.NewElement(16, 9, 20)
	el.Position = 3.2 // local time at t=4 is 3.0
	s := New()

	assert.Equal(t, 0, s.Sync(4, true, []Binding{{clip, el}}), "0.2s drift is fine while playing")
	assert.True(t, el.Playing)
	assert.True(t, el.IsMuted, "visual path is always muted")

	assert.Equal(t, 1, s.Sync(4, false, []Binding{{clip, el}}), "0.2s drift seeks while paused")
	assert.Equal(t, []float64{3.0}, el.Seeks)
	assert.False(t, el.Playing)
}

func TestSync_SkipsWhileSeeking(t *testing.T) {
	clip := &timeline.Clip{ID: "v", Duration: 10}
	el := mediatest.NewElement(16, 9, 20)
	el.HoldSeeks = true
	s := New()

	s.Sync(5, false, []Binding{{clip, el}})
	s.Sync(6, false, []Binding{{clip, el}})
	assert.Equal(t, []float64{5}, el.Seeks)

	el.FinishSeek()
	s.Sync(6, false, []Binding{{clip, el}})
	assert.Equal(t, []float64{5, 6}, el.Seeks)
}

func TestSync_ClampsToDuration(t *testing.T) {
	clip := &timeline.Clip{ID: "v", Duration: 10, Offset: 8}
	el := mediatest.NewElement(16, 9, 9)
	New().Sync(5, false, []Binding{{clip, el}})
	assert.Equal(t, []float64{9}, el.Seeks)
}

type fakeSource struct {
	elements map[string]media.Element
	calls    int
}

func (f *fakeSource) Element(asset *timeline.Asset) (media.Element, error) {
	f.calls++
	el, ok := f.elements[asset.ID]
	if !ok {
		return nil, errors.New("no element")
	}
	return el, nil
}

func TestAudioSync(t *testing.T) {
	gain := 0.5
	music := mediatest.NewElement(0, 0, 60)
	music.State = media.HaveMetadata
	src := &fakeSource{elements: map[string]media.Element{"song": music}}
	assets := timeline.Assets{
		"song":   {ID: "song", Kind: timeline.AssetAudio},
		"broken": {ID: "broken", Kind: timeline.AssetAudio},
	}
	tracks := []*timeline.Track{
		{ID: "v", Kind: timeline.TrackVideo, Clips: []*timeline.Clip{{ID: "video", AssetID: "song", Duration: 10}}},
		{ID: "a", Kind: timeline.TrackAudio, Clips: []*timeline.Clip{{
			ID: "music", AssetID: "song", Duration: 5,
			Data: timeline.ClipData{Audio: &timeline.Audio{Gain: &gain}},
		}}},
		{ID: "b", Kind: timeline.TrackAudio, Muted: true, Clips: []*timeline.Clip{{ID: "bad", AssetID: "broken", Duration: 5}}},
	}

	a := NewAudioSync(src, assets, nil)
	a.Sync(1, true, tracks)
	assert.Equal(t, 1, a.Active())
	assert.True(t, music.Playing)
	assert.False(t, music.IsMuted)
	assert.Equal(t, 0.5, music.Vol)

	a.Sync(1.1, true, tracks)
	assert.Equal(t, 3, src.calls, "failed assets are not retried")

	tracks[1].Muted = true
	a.Sync(1.2, true, tracks)
	assert.True(t, music.IsMuted)

	a.Sync(6, true, tracks)
	assert.Equal(t, 0, a.Active())
	assert.False(t, music.Playing, "clip left the visible set")
}
