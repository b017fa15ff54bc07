package vsync

import (
	"log/slog"
	"math"

	"github.com/heimdex/heimdex-studio/internal/logging"
	"github.com/heimdex/heimdex-studio/internal/media"
	"github.com/heimdex/heimdex-studio/internal/timeline"
)

// ElementSource hands out decode elements by asset. The allocator
// implements it, so audio and video share one element cache.
type ElementSource interface {
	Element(asset *timeline.Asset) (media.Element, error)
}

// AudioSync drives the elements of clips on audio tracks. It applies clip
// gain and mute and pauses elements whose clips are no longer visible.
type AudioSync struct {
	source    ElementSource
	assets    timeline.AssetLookup
	logger    *slog.Logger
	tolerance float64

	active map[string]media.Element
	failed map[string]bool
}

func NewAudioSync(source ElementSource, assets timeline.AssetLookup, logger *slog.Logger) *AudioSync {
	return &AudioSync{
		source:    source,
		assets:    assets,
		logger:    logging.WithComponent(logging.OrDiscard(logger), "audio-sync"),
		tolerance: DefaultPlayingTolerance,
		active:    make(map[string]media.Element),
		failed:    make(map[string]bool),
	}
}

// Sync updates every visible audio clip for time t.
func (a *AudioSync) Sync(t float64, playing bool, tracks []*timeline.Track) {
	seen := make(map[string]bool)
	for _, tr := range tracks {
		if tr.Kind != timeline.TrackAudio {
			continue
		}
		clip := timeline.VisibleClip(tr, t)
		if clip == nil || clip.AssetID == "" {
			continue
		}
		el := a.element(clip)
		if el == nil {
			continue
		}
		seen[clip.ID] = true
		a.active[clip.ID] = el

		muted := tr.Muted || (clip.Data.Audio != nil && clip.Data.Audio.Muted)
		el.SetMuted(muted)
		el.SetVolume(math.Max(0, math.Min(1, clip.Data.Audio.EffectiveGain())))

		tol := a.tolerance
		if !playing {
			tol = DefaultPausedTolerance
		}
		align(el, clip.SourceTime(t), tol)
		mirror(el, playing)
	}

	for id, el := range a.active {
		if !seen[id] {
			el.Pause()
			delete(a.active, id)
		}
	}
}

// Stop pauses every active element.
func (a *AudioSync) Stop() {
	for id, el := range a.active {
		el.Pause()
		delete(a.active, id)
	}
}

// Active is the number of audio elements currently driven.
func (a *AudioSync) Active() int {
	return len(a.active)
}

func (a *AudioSync) element(clip *timeline.Clip) media.Element {
	if a.failed[clip.AssetID] {
		return nil
	}
	asset, ok := a.assets.Asset(clip.AssetID)
	if !ok {
		a.logger.Warn("audio clip references unknown asset", "clip_id", clip.ID, "asset_id", clip.AssetID)
		a.failed[clip.AssetID] = true
		return nil
	}
	el, err := a.source.Element(asset)
	if err != nil {
		a.logger.Warn("audio element unavailable", "clip_id", clip.ID, "asset_id", asset.ID, "error", err)
		a.failed[clip.AssetID] = true
		return nil
	}
	return el
}
