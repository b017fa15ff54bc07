package media

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	"github.com/gogpu/gg"
)

// PatternScheme is the SourceRef scheme of synthetic test sources.
const PatternScheme = "synthetic"

// PatternSource renders a deterministic test pattern: the background hue
// and a moving bar both follow the frame index, so two decodes of the same
// position produce identical pixels. Presented timestamps are snapped to
// the nearest frame of the source rate, like a real decoder.
type PatternSource struct {
	Width    int
	Height   int
	FPS      float64
	Duration float64
	// Latency is slept before every decode to imitate a real decoder.
	Latency time.Duration
}

// ParsePatternRef parses synthetic://pattern?w=&h=&fps=&duration=&latency=.
func ParsePatternRef(ref string) (*PatternSource, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse pattern ref: %w", err)
	}
	if u.Scheme != PatternScheme || u.Host != "pattern" {
		return nil, fmt.Errorf("not a pattern ref: %q", ref)
	}

	p := &PatternSource{Width: 320, Height: 180, FPS: 30, Duration: 60}
	q := u.Query()
	if v := q.Get("w"); v != "" {
		if p.Width, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("pattern width: %w", err)
		}
	}
	if v := q.Get("h"); v != "" {
		if p.Height, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("pattern height: %w", err)
		}
	}
	if v := q.Get("fps"); v != "" {
		if p.FPS, err = strconv.ParseFloat(v, 64); err != nil || p.FPS <= 0 {
			return nil, fmt.Errorf("pattern fps %q invalid", v)
		}
	}
	if v := q.Get("duration"); v != "" {
		if p.Duration, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("pattern duration: %w", err)
		}
	}
	if v := q.Get("latency"); v != "" {
		if p.Latency, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("pattern latency: %w", err)
		}
	}
	return p, nil
}

func (p *PatternSource) Metadata(ctx context.Context) (Metadata, error) {
	if err := p.wait(ctx); err != nil {
		return Metadata{}, err
	}
	return Metadata{
		Width:    p.Width,
		Height:   p.Height,
		FPS:      p.FPS,
		Duration: p.Duration,
		HasVideo: p.Width > 0 || p.Height > 0,
	}, nil
}

func (p *PatternSource) DecodeAt(ctx context.Context, t float64) (Decoded, error) {
	if err := p.wait(ctx); err != nil {
		return Decoded{}, err
	}
	if p.Width <= 0 || p.Height <= 0 {
		return Decoded{}, fmt.Errorf("pattern has empty size %dx%d", p.Width, p.Height)
	}
	frame := p.FrameIndex(t)
	return Decoded{Image: p.Render(frame), PTS: float64(frame) / p.FPS}, nil
}

// FrameIndex is the source frame presented at t.
func (p *PatternSource) FrameIndex(t float64) int {
	if t < 0 {
		t = 0
	}
	last := int(math.Ceil(p.Duration*p.FPS)) - 1
	n := int(math.Round(t * p.FPS))
	if p.Duration > 0 && n > last {
		n = max(last, 0)
	}
	return n
}

// Render draws frame n of the pattern.
func (p *PatternSource) Render(n int) *gg.ImageBuf {
	dc := gg.NewContext(p.Width, p.Height)
	defer dc.Close()

	hue := math.Mod(float64(n)*7, 360) / 360
	r, g, b := hsvToRGB(hue, 0.6, 0.9)
	dc.ClearWithColor(gg.RGB(r, g, b))

	period := int(math.Max(1, math.Round(p.FPS)))
	barW := math.Max(1, float64(p.Width)/10)
	x := float64(n%period) / float64(period) * (float64(p.Width) - barW)
	dc.SetRGBA(1, 1, 1, 1)
	dc.DrawRectangle(x, 0, barW, float64(p.Height))
	_ = dc.Fill()

	return gg.ImageBufFromImage(dc.Image())
}

func (p *PatternSource) Close() error { return nil }

func (p *PatternSource) wait(ctx context.Context) error {
	if p.Latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.Latency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func hsvToRGB(h, s, v float64) (float64, float64, float64) {
	i := math.Floor(h * 6)
	f := h*6 - i
	p := v * (1 - s)
	q := v * (1 - f*s)
	t := v * (1 - (1-f)*s)
	switch int(i) % 6 {
	case 0:
		return v, t, p
	case 1:
		return q, v, p
	case 2:
		return p, v, t
	case 3:
		return p, q, v
	case 4:
		return t, p, v
	default:
		return v, p, q
	}
}
