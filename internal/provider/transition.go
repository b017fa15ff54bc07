package provider

import (
	"math"

	"github.com/heimdex/heimdex-studio/internal/scene"
	"github.com/heimdex/heimdex-studio/internal/timeline"
)

const (
	TypeFadeIn     = "fade-in"
	TypeFadeOut    = "fade-out"
	TypeDipToBlack = "dip-to-black"
)

// alphaTransition scales every target's blend alpha by curve(progress).
type alphaTransition struct {
	typ   string
	curve func(p float64) float64
}

func (a *alphaTransition) Type() string { return a.typ }
func (a *alphaTransition) Kind() Kind   { return KindTransition }

func (a *alphaTransition) CreateData() timeline.ClipData {
	return timeline.ClipData{Transition: &timeline.TransitionConfig{Easing: "linear"}}
}

func (a *alphaTransition) Apply(clip *timeline.Clip, targets []*scene.Object, progress, t float64) {
	k := a.curve(math.Max(0, math.Min(1, progress)))
	for _, obj := range targets {
		obj.BlendAlpha *= k
	}
}

// NewFadeIn reveals content over the transition clip.
func NewFadeIn() TransitionProvider {
	return &alphaTransition{typ: TypeFadeIn, curve: func(p float64) float64 { return p }}
}

// NewFadeOut hides content over the transition clip.
func NewFadeOut() TransitionProvider {
	return &alphaTransition{typ: TypeFadeOut, curve: func(p float64) float64 { return 1 - p }}
}

// NewDipToBlack fades to the background at the midpoint and back.
func NewDipToBlack() TransitionProvider {
	return &alphaTransition{typ: TypeDipToBlack, curve: func(p float64) float64 { return math.Abs(1 - 2*p) }}
}
