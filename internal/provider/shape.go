package provider

import (
	"github.com/gogpu/gg"

	"github.com/heimdex/heimdex-studio/internal/scene"
	"github.com/heimdex/heimdex-studio/internal/timeline"
)

const (
	TypeShape        = "shape"
	TypeColorOverlay = "color-overlay"

	ShapeRect    = "rect"
	ShapeEllipse = "ellipse"

	defaultShapeColor = "#3b82f6"
)

// ShapeProvider draws filled rectangles and ellipses. It has no async
// dependencies and is always ready.
type ShapeProvider struct {
	ready *Readiness
}

func NewShapeProvider() *ShapeProvider {
	return &ShapeProvider{ready: Resolved()}
}

func (p *ShapeProvider) Type() string      { return TypeShape }
func (p *ShapeProvider) Kind() Kind        { return KindObject }
func (p *ShapeProvider) Ready() *Readiness { return p.ready }

func (p *ShapeProvider) CreateData() timeline.ClipData {
	tr := timeline.DefaultTransform()
	return timeline.ClipData{
		Transform: &tr,
		Shape:     &timeline.ShapeConfig{Shape: ShapeRect, Width: 200, Height: 120, Color: defaultShapeColor},
	}
}

func (p *ShapeProvider) Render(clip *timeline.Clip) (*scene.Object, error) {
	obj := scene.NewObject(clip, 0, scene.LayerOverlay)
	p.Update(obj, clip, 0, 0)
	obj.Draw = drawShape
	return obj, nil
}

func (p *ShapeProvider) Update(obj *scene.Object, clip *timeline.Clip, localTime, dt float64) {
	cfg := shapeConfig(clip)
	obj.Transform = clip.Data.EffectiveTransform()
	obj.Width, obj.Height = cfg.Width, cfg.Height
	obj.State = cfg
}

func drawShape(dc *gg.Context, obj *scene.Object, box scene.Rect) {
	cfg, ok := obj.State.(timeline.ShapeConfig)
	if !ok {
		return
	}
	dc.SetHexColor(colorOr(cfg.Color, defaultShapeColor))
	switch cfg.Shape {
	case ShapeEllipse:
		dc.DrawEllipse(box.X+box.W/2, box.Y+box.H/2, box.W/2, box.H/2)
	default:
		dc.DrawRectangle(box.X, box.Y, box.W, box.H)
	}
	_ = dc.Fill()
}

func (p *ShapeProvider) PreviewConfig(clip *timeline.Clip) PreviewConfig {
	cfg := shapeConfig(clip)
	return PreviewConfig{Label: cfg.Shape, Color: colorOr(cfg.Color, defaultShapeColor)}
}

func shapeConfig(clip *timeline.Clip) timeline.ShapeConfig {
	cfg := timeline.ShapeConfig{Shape: ShapeRect, Color: defaultShapeColor}
	if clip.Data.Shape != nil {
		cfg = *clip.Data.Shape
	}
	if cfg.Shape == "" {
		cfg.Shape = ShapeRect
	}
	return cfg
}

// ColorOverlayProvider tints the whole frame. Its object is full-frame and
// ignores the transform position.
type ColorOverlayProvider struct {
	ready *Readiness
}

func NewColorOverlayProvider() *ColorOverlayProvider {
	return &ColorOverlayProvider{ready: Resolved()}
}

func (p *ColorOverlayProvider) Type() string      { return TypeColorOverlay }
func (p *ColorOverlayProvider) Kind() Kind        { return KindEffect }
func (p *ColorOverlayProvider) Ready() *Readiness { return p.ready }

func (p *ColorOverlayProvider) CreateData() timeline.ClipData {
	return timeline.ClipData{Overlay: &timeline.OverlayConfig{Color: "#000000", Opacity: 0.35}}
}

func (p *ColorOverlayProvider) Render(clip *timeline.Clip) (*scene.Object, error) {
	obj := scene.NewObject(clip, 0, scene.LayerOverlay)
	obj.FullFrame = true
	p.Update(obj, clip, 0, 0)
	obj.Draw = drawOverlay
	return obj, nil
}

func (p *ColorOverlayProvider) Update(obj *scene.Object, clip *timeline.Clip, localTime, dt float64) {
	cfg := overlayConfig(clip)
	obj.Transform = clip.Data.EffectiveTransform()
	obj.Transform.Opacity *= cfg.Opacity
	obj.State = cfg
}

func drawOverlay(dc *gg.Context, obj *scene.Object, box scene.Rect) {
	cfg, ok := obj.State.(timeline.OverlayConfig)
	if !ok {
		return
	}
	dc.SetHexColor(colorOr(cfg.Color, "#000000"))
	dc.DrawRectangle(box.X, box.Y, box.W, box.H)
	_ = dc.Fill()
}

func (p *ColorOverlayProvider) PreviewConfig(clip *timeline.Clip) PreviewConfig {
	cfg := overlayConfig(clip)
	return PreviewConfig{Label: "overlay", Color: colorOr(cfg.Color, "#000000")}
}

func overlayConfig(clip *timeline.Clip) timeline.OverlayConfig {
	cfg := timeline.OverlayConfig{Color: "#000000", Opacity: 0.35}
	if clip.Data.Overlay != nil {
		cfg = *clip.Data.Overlay
	}
	if cfg.Opacity <= 0 {
		cfg.Opacity = 1
	}
	return cfg
}
