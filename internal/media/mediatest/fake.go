// Package mediatest provides a scriptable media.Element for tests.
package mediatest

import (
	"context"
	"sync"

	"github.com/gogpu/gg"

	"github.com/heimdex/heimdex-studio/internal/media"
)

// Element is an in-memory media.Element. Seeks complete immediately unless
// HoldSeeks is set; the presented timestamp follows the position unless
// PTSOffset shifts it.
type Element struct {
	mu sync.Mutex

	State     media.ReadyState
	Width     int
	Height    int
	Length    float64
	Position  float64
	IsSeeking bool
	HoldSeeks bool
	PTSOffset float64
	Playing   bool
	IsMuted   bool
	Vol       float64
	Image     *gg.ImageBuf
	IsAttach  bool
	Closed    bool

	Seeks []float64
}

// NewElement returns a ready element of the given size and duration.
func NewElement(w, h int, duration float64) *Element {
	// Zero sizes leave the frame nil.
	img, _ := gg.NewImageBuf(w, h, gg.FormatRGBA8)
	return &Element{
		State:  media.HaveCurrentData,
		Width:  w,
		Height: h,
		Length: duration,
		Vol:    1,
		Image:  img,
	}
}

func (e *Element) ReadyState() media.ReadyState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.State
}

func (e *Element) Size() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Width, e.Height
}

func (e *Element) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Length
}

func (e *Element) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Position
}

func (e *Element) Seeking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.IsSeeking
}

func (e *Element) Seek(t float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Position = t
	e.Seeks = append(e.Seeks, t)
	e.IsSeeking = e.HoldSeeks
}

// SeekCount returns how many seeks were issued.
func (e *Element) SeekCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Seeks)
}

// FinishSeek completes a held seek.
func (e *Element) FinishSeek() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.IsSeeking = false
}

func (e *Element) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Playing = true
}

func (e *Element) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Playing = false
}

func (e *Element) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.Playing
}

func (e *Element) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.IsMuted
}

func (e *Element) SetMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.IsMuted = muted
}

func (e *Element) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Vol
}

func (e *Element) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Vol = v
}

func (e *Element) Frame() *gg.ImageBuf {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Image
}

func (e *Element) PresentedTimestamp() (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State < media.HaveCurrentData {
		return 0, false
	}
	return int64((e.Position + e.PTSOffset) * 1e6), true
}

func (e *Element) WaitReady(ctx context.Context) error {
	if e.ReadyState() >= media.HaveCurrentData {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (e *Element) WaitSeeked(ctx context.Context) error {
	if !e.Seeking() {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (e *Element) Attach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.IsAttach = true
}

func (e *Element) Detach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.IsAttach = false
}

func (e *Element) Attached() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.IsAttach
}

func (e *Element) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Closed = true
	return nil
}

var _ media.Element = (*Element)(nil)
