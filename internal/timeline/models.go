// Package timeline holds the track/clip model consumed by the compositor and
// the editing operations (split, move, group, snap) that keep it consistent.
package timeline

import (
	"encoding/json"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type AssetKind string

const (
	AssetVideo   AssetKind = "video"
	AssetAudio   AssetKind = "audio"
	AssetImage   AssetKind = "image"
	AssetUnknown AssetKind = "unknown"
)

// Asset is owned by the asset registry; the compositor only reads it.
type Asset struct {
	ID        string    `yaml:"id" json:"id"`
	SourceRef string    `yaml:"source" json:"source"`
	Kind      AssetKind `yaml:"kind" json:"kind"`
	Duration  float64   `yaml:"duration,omitempty" json:"duration,omitempty"`
}

// AssetLookup resolves asset ids.
type AssetLookup interface {
	Asset(id string) (*Asset, bool)
}

// Assets is a map-backed AssetLookup.
type Assets map[string]*Asset

func (a Assets) Asset(id string) (*Asset, bool) {
	asset, ok := a[id]
	return asset, ok
}

type TrackKind string

const (
	TrackVideo      TrackKind = "video"
	TrackAudio      TrackKind = "audio"
	TrackOverlay    TrackKind = "overlay"
	TrackText       TrackKind = "text"
	TrackEffect     TrackKind = "effect"
	TrackTransition TrackKind = "transition"
)

// IsOverlay reports whether content on the track renders above primary video.
func (k TrackKind) IsOverlay() bool {
	return k != TrackVideo && k != TrackAudio
}

type Track struct {
	ID     string    `yaml:"id" json:"id"`
	Kind   TrackKind `yaml:"kind" json:"kind"`
	Muted  bool      `yaml:"muted,omitempty" json:"muted,omitempty"`
	Locked bool      `yaml:"locked,omitempty" json:"locked,omitempty"`
	Clips  []*Clip   `yaml:"clips" json:"clips"`
}

// Clone deep-copies the track and its clips.
func (t *Track) Clone() *Track {
	cp := *t
	cp.Clips = make([]*Clip, len(t.Clips))
	for i, c := range t.Clips {
		cp.Clips[i] = c.Clone()
	}
	return &cp
}

// Clip is a timed placement of an asset or provider content on a track.
// Its interval [Start, Start+Duration) is half-open. Offset is the
// source-local position corresponding to Start.
type Clip struct {
	ID       string   `yaml:"id" json:"id"`
	AssetID  string   `yaml:"asset,omitempty" json:"asset_id,omitempty"`
	TrackID  string   `yaml:"-" json:"track_id"`
	Start    float64  `yaml:"start" json:"start"`
	Duration float64  `yaml:"duration" json:"duration"`
	Offset   float64  `yaml:"offset,omitempty" json:"offset,omitempty"`
	Kind     string   `yaml:"kind" json:"kind"`
	GroupID  string   `yaml:"group,omitempty" json:"group_id,omitempty"`
	Data     ClipData `yaml:"data,omitempty" json:"data"`
}

func (c *Clip) End() float64 {
	return c.Start + c.Duration
}

// Contains reports whether t falls in [Start, End).
func (c *Clip) Contains(t float64) bool {
	return c.Start <= t && t < c.Start+c.Duration
}

// LocalTime is t relative to the clip start.
func (c *Clip) LocalTime(t float64) float64 {
	return t - c.Start
}

// SourceTime maps a timeline time to the position inside the source media.
func (c *Clip) SourceTime(t float64) float64 {
	return t - c.Start + c.Offset
}

func (c *Clip) Clone() *Clip {
	cp := *c
	cp.Data = c.Data.Clone()
	return &cp
}

// Transform positions content on the canvas. X and Y are the normalized
// center (0..1), Scale multiplies the fit-to-canvas size, Rotation is in
// degrees.
type Transform struct {
	X        float64 `yaml:"x" json:"x"`
	Y        float64 `yaml:"y" json:"y"`
	Scale    float64 `yaml:"scale" json:"scale"`
	Rotation float64 `yaml:"rotation,omitempty" json:"rotation,omitempty"`
	Opacity  float64 `yaml:"opacity" json:"opacity"`
}

func DefaultTransform() Transform {
	return Transform{X: 0.5, Y: 0.5, Scale: 1, Opacity: 1}
}

// UnmarshalYAML starts from DefaultTransform so omitted fields keep their
// defaults instead of zero.
func (t *Transform) UnmarshalYAML(value *yaml.Node) error {
	type plain Transform
	p := plain(DefaultTransform())
	if err := value.Decode(&p); err != nil {
		return err
	}
	*t = Transform(p)
	return nil
}

func (t *Transform) UnmarshalJSON(data []byte) error {
	type plain Transform
	p := plain(DefaultTransform())
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = Transform(p)
	return nil
}

// Ramp is an attached fade. Easing is one of linear, ease-in, ease-out,
// ease-in-out.
type Ramp struct {
	Duration float64 `yaml:"duration" json:"duration"`
	Easing   string  `yaml:"easing,omitempty" json:"easing,omitempty"`
}

type Fade struct {
	In  *Ramp `yaml:"in,omitempty" json:"in,omitempty"`
	Out *Ramp `yaml:"out,omitempty" json:"out,omitempty"`
}

type Audio struct {
	Gain  *float64 `yaml:"gain,omitempty" json:"gain,omitempty"`
	Muted bool     `yaml:"muted,omitempty" json:"muted,omitempty"`
}

// EffectiveGain is the clip gain, 1 when unset.
func (a *Audio) EffectiveGain() float64 {
	if a == nil || a.Gain == nil {
		return 1
	}
	return *a.Gain
}

type TextConfig struct {
	Content  string  `yaml:"content" json:"content"`
	FontSize float64 `yaml:"font_size,omitempty" json:"font_size,omitempty"`
	FontPath string  `yaml:"font_path,omitempty" json:"font_path,omitempty"`
	Color    string  `yaml:"color,omitempty" json:"color,omitempty"`
}

type ShapeConfig struct {
	Shape  string  `yaml:"shape" json:"shape"`
	Width  float64 `yaml:"width" json:"width"`
	Height float64 `yaml:"height" json:"height"`
	Color  string  `yaml:"color,omitempty" json:"color,omitempty"`
}

type OverlayConfig struct {
	Color   string  `yaml:"color" json:"color"`
	Opacity float64 `yaml:"opacity,omitempty" json:"opacity,omitempty"`
}

type TransitionConfig struct {
	Easing string `yaml:"easing,omitempty" json:"easing,omitempty"`
}

// Variant names of ClipData content payloads.
const (
	VariantNone       = ""
	VariantText       = "text"
	VariantShape      = "shape"
	VariantOverlay    = "overlay"
	VariantTransition = "transition"
)

// ClipData is the provider payload of a clip. Transform, Fade and Audio are
// common to every clip; at most one of Text, Shape, Overlay and Transition
// is set and Variant names it.
type ClipData struct {
	Transform *Transform `yaml:"transform,omitempty" json:"transform,omitempty"`
	Fade      *Fade      `yaml:"fade,omitempty" json:"fade,omitempty"`
	Audio     *Audio     `yaml:"audio,omitempty" json:"audio,omitempty"`

	Text       *TextConfig       `yaml:"text,omitempty" json:"text,omitempty"`
	Shape      *ShapeConfig      `yaml:"shape,omitempty" json:"shape,omitempty"`
	Overlay    *OverlayConfig    `yaml:"overlay,omitempty" json:"overlay,omitempty"`
	Transition *TransitionConfig `yaml:"transition,omitempty" json:"transition,omitempty"`
}

func (d ClipData) Variant() string {
	switch {
	case d.Text != nil:
		return VariantText
	case d.Shape != nil:
		return VariantShape
	case d.Overlay != nil:
		return VariantOverlay
	case d.Transition != nil:
		return VariantTransition
	default:
		return VariantNone
	}
}

// variantCount is used by validation; more than one content payload is an error.
func (d ClipData) variantCount() int {
	n := 0
	for _, set := range []bool{d.Text != nil, d.Shape != nil, d.Overlay != nil, d.Transition != nil} {
		if set {
			n++
		}
	}
	return n
}

// EffectiveTransform returns the clip transform with defaults filled in.
func (d ClipData) EffectiveTransform() Transform {
	if d.Transform == nil {
		return DefaultTransform()
	}
	return *d.Transform
}

func (d ClipData) Clone() ClipData {
	cp := ClipData{}
	if d.Transform != nil {
		t := *d.Transform
		cp.Transform = &t
	}
	if d.Fade != nil {
		f := Fade{}
		if d.Fade.In != nil {
			in := *d.Fade.In
			f.In = &in
		}
		if d.Fade.Out != nil {
			out := *d.Fade.Out
			f.Out = &out
		}
		cp.Fade = &f
	}
	if d.Audio != nil {
		a := Audio{Muted: d.Audio.Muted}
		if d.Audio.Gain != nil {
			g := *d.Audio.Gain
			a.Gain = &g
		}
		cp.Audio = &a
	}
	if d.Text != nil {
		t := *d.Text
		cp.Text = &t
	}
	if d.Shape != nil {
		s := *d.Shape
		cp.Shape = &s
	}
	if d.Overlay != nil {
		o := *d.Overlay
		cp.Overlay = &o
	}
	if d.Transition != nil {
		tr := *d.Transition
		cp.Transition = &tr
	}
	return cp
}

// NewID returns a time-ordered UUIDv7 string.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
