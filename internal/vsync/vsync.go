// Package vsync keeps decode elements aligned with the transport clock.
package vsync

import (
	"math"

	"github.com/heimdex/heimdex-studio/internal/media"
	"github.com/heimdex/heimdex-studio/internal/timeline"
)

const (
	// DefaultPlayingTolerance is loose so playback does not stutter on
	// seeks caused by normal decode jitter.
	DefaultPlayingTolerance = 0.3
	// DefaultPausedTolerance is tight so a paused or scrubbed frame shows
	// the exact position.
	DefaultPausedTolerance = 0.04
)

// Binding is a visible video clip and the element that decodes it.
type Binding struct {
	Clip    *timeline.Clip
	Element media.Element
}

// Synchronizer aligns the visual path. Elements it drives are always muted;
// audio output belongs to AudioSync.
type Synchronizer struct {
	PlayingTolerance float64
	PausedTolerance  float64
}

func New() *Synchronizer {
	return &Synchronizer{
		PlayingTolerance: DefaultPlayingTolerance,
		PausedTolerance:  DefaultPausedTolerance,
	}
}

// Sync seeks every element whose position drifted past the tolerance for
// the current transport state and mirrors play/pause. It returns the number
// of seeks issued.
func (s *Synchronizer) Sync(t float64, playing bool, bindings []Binding) int {
	tol := s.PausedTolerance
	if playing {
		tol = s.PlayingTolerance
	}

	seeks := 0
	for _, b := range bindings {
		if b.Element == nil || b.Clip == nil {
			continue
		}
		b.Element.SetMuted(true)
		if align(b.Element, b.Clip.SourceTime(t), tol) {
			seeks++
		}
		mirror(b.Element, playing)
	}
	return seeks
}

// align seeks el to local when it drifted more than tol and is not already
// seeking.
func align(el media.Element, local, tol float64) bool {
	if d := el.Duration(); d > 0 {
		local = math.Min(local, d)
	}
	local = math.Max(local, 0)
	if el.Seeking() || math.Abs(el.CurrentTime()-local) <= tol {
		return false
	}
	el.Seek(local)
	return true
}

func mirror(el media.Element, playing bool) {
	switch {
	case playing && el.Paused():
		el.Play()
	case !playing && !el.Paused():
		el.Pause()
	}
}
