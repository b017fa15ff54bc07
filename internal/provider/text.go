package provider

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/gg"
	"github.com/gogpu/gg/text"
	"golang.org/x/image/font/gofont/goregular"
	xnorm "golang.org/x/text/unicode/norm"

	"github.com/heimdex/heimdex-studio/internal/logging"
	"github.com/heimdex/heimdex-studio/internal/scene"
	"github.com/heimdex/heimdex-studio/internal/timeline"
)

const (
	TypeText = "text"

	defaultFontSize  = 48
	defaultTextColor = "#ffffff"
)

type fontEntry struct {
	ready  *Readiness
	source *text.FontSource
}

// TextProvider renders text clips. Fonts load in the background: the
// built-in Go Regular face at construction, font files on first use.
type TextProvider struct {
	logger *slog.Logger

	mu    sync.Mutex
	fonts map[string]*fontEntry
}

// textState is kept on the object to re-measure only when content changes.
type textState struct {
	content string
	size    float64
	color   string
	face    text.Face
}

func NewTextProvider(logger *slog.Logger) *TextProvider {
	p := &TextProvider{
		logger: logging.WithComponent(logging.OrDiscard(logger), "text-provider"),
		fonts:  make(map[string]*fontEntry),
	}
	p.font("")
	return p
}

func (p *TextProvider) Type() string { return TypeText }
func (p *TextProvider) Kind() Kind   { return KindObject }

func (p *TextProvider) CreateData() timeline.ClipData {
	tr := timeline.DefaultTransform()
	return timeline.ClipData{
		Transform: &tr,
		Text:      &timeline.TextConfig{Content: "Title", FontSize: defaultFontSize, Color: defaultTextColor},
	}
}

// Ready resolves when the default font is loaded.
func (p *TextProvider) Ready() *Readiness {
	return p.font("").ready
}

// font returns the entry for path ("" is the built-in face), starting the
// load on first use.
func (p *TextProvider) font(path string) *fontEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.fonts[path]; ok {
		return e
	}
	e := &fontEntry{ready: NewReadiness()}
	p.fonts[path] = e
	go func() {
		var (
			src *text.FontSource
			err error
		)
		if path == "" {
			src, err = text.NewFontSource(goregular.TTF)
		} else {
			src, err = text.NewFontSourceFromFile(path)
		}
		if err != nil {
			p.logger.Warn("font load failed", "path", logging.SanitizePath(path), "error", err)
		}
		p.mu.Lock()
		e.source = src
		p.mu.Unlock()
		e.ready.Resolve(err)
	}()
	return e
}

func (p *TextProvider) Render(clip *timeline.Clip) (*scene.Object, error) {
	cfg := textConfig(clip)
	e := p.font(cfg.FontPath)
	if !e.ready.IsReady() {
		if err := e.ready.Err(); err != nil {
			return nil, fmt.Errorf("font %s: %w", cfg.FontPath, err)
		}
		return nil, nil
	}

	obj := scene.NewObject(clip, 0, scene.LayerOverlay)
	p.mu.Lock()
	src := e.source
	p.mu.Unlock()
	p.layout(obj, cfg, src)
	return obj, nil
}

func (p *TextProvider) Update(obj *scene.Object, clip *timeline.Clip, localTime, dt float64) {
	obj.Transform = clip.Data.EffectiveTransform()
	cfg := textConfig(clip)
	st, _ := obj.State.(*textState)
	if st != nil && st.content == xnorm.NFC.String(cfg.Content) && st.size == cfg.FontSize && st.color == cfg.Color {
		return
	}
	e := p.font(cfg.FontPath)
	if !e.ready.IsReady() {
		return
	}
	p.mu.Lock()
	src := e.source
	p.mu.Unlock()
	p.layout(obj, cfg, src)
}

func (p *TextProvider) layout(obj *scene.Object, cfg timeline.TextConfig, src *text.FontSource) {
	st := &textState{
		content: xnorm.NFC.String(cfg.Content),
		size:    cfg.FontSize,
		color:   cfg.Color,
		face:    src.Face(cfg.FontSize),
	}
	w, h := text.Measure(st.content, st.face)
	obj.Width, obj.Height = w, h
	obj.State = st
	obj.Draw = drawText
}

func drawText(dc *gg.Context, obj *scene.Object, box scene.Rect) {
	st, ok := obj.State.(*textState)
	if !ok || st.content == "" {
		return
	}
	dc.SetHexColor(colorOr(st.color, defaultTextColor))
	scale := obj.Transform.Scale
	if scale <= 0 {
		scale = 1
	}
	face := st.face
	if scale != 1 {
		face = face.Source().Face(st.size * scale)
	}
	dc.SetFont(face)
	dc.DrawStringAnchored(st.content, box.X+box.W/2, box.Y+box.H/2, 0.5, 0.5)
}

func (p *TextProvider) PreviewConfig(clip *timeline.Clip) PreviewConfig {
	label := textConfig(clip).Content
	if r := []rune(label); len(r) > 24 {
		label = string(r[:24]) + "…"
	}
	return PreviewConfig{Label: label, Color: "#7c5cff"}
}

func textConfig(clip *timeline.Clip) timeline.TextConfig {
	cfg := timeline.TextConfig{FontSize: defaultFontSize, Color: defaultTextColor}
	if clip.Data.Text != nil {
		cfg = *clip.Data.Text
	}
	if cfg.FontSize <= 0 {
		cfg.FontSize = defaultFontSize
	}
	return cfg
}

func colorOr(c, def string) string {
	if c == "" {
		return def
	}
	return c
}
