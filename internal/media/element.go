// Package media provides decode elements: seekable, playable sources of
// video frames backed by ffmpeg or by a synthetic test pattern.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gogpu/gg"

	"github.com/heimdex/heimdex-studio/internal/logging"
)

// ErrNoVideoStream is returned when a source has no decodable video stream.
var ErrNoVideoStream = errors.New("no video stream")

// ReadyState is the readiness ladder of a decode element.
type ReadyState int

const (
	HaveNothing ReadyState = iota
	HaveMetadata
	HaveCurrentData
)

func (s ReadyState) String() string {
	switch s {
	case HaveMetadata:
		return "have_metadata"
	case HaveCurrentData:
		return "have_current_data"
	default:
		return "have_nothing"
	}
}

// Element is a decode element. Positions are in seconds of source time.
type Element interface {
	ReadyState() ReadyState
	Size() (width, height int)
	Duration() float64
	CurrentTime() float64
	Seeking() bool
	Seek(t float64)
	Play()
	Pause()
	Paused() bool
	Muted() bool
	SetMuted(muted bool)
	Volume() float64
	SetVolume(v float64)

	// Frame returns the currently presented frame, nil before the first decode.
	Frame() *gg.ImageBuf
	// PresentedTimestamp is the source timestamp of Frame in microseconds.
	PresentedTimestamp() (int64, bool)

	WaitReady(ctx context.Context) error
	WaitSeeked(ctx context.Context) error

	// Attach binds the element to a render context. Frame inspection is only
	// reliable for attached elements.
	Attach()
	Detach()
	Attached() bool

	Close() error
}

// Metadata describes a source once it has been opened.
type Metadata struct {
	Width    int
	Height   int
	FPS      float64
	Duration float64
	HasVideo bool
	HasAudio bool
}

// Decoded is one decoded frame with its presentation time in seconds.
type Decoded struct {
	Image *gg.ImageBuf
	PTS   float64
}

// Source is the blocking backend of a decode element.
type Source interface {
	Metadata(ctx context.Context) (Metadata, error)
	DecodeAt(ctx context.Context, t float64) (Decoded, error)
	Close() error
}

// decoder adapts a blocking Source into an asynchronous Element. Seeks run
// on their own goroutine; a newer seek supersedes an older one. While
// playing, the position advances with the wall clock and frames are decoded
// at the source rate, skipping ticks while a decode is still running.
type decoder struct {
	src    Source
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     ReadyState
	meta      Metadata
	loadErr   error
	readyCh   chan struct{}
	seekDone  chan struct{}
	seeking   bool
	seekGen   uint64
	position  float64
	playing   bool
	playGen   uint64
	playStart time.Time
	playBase  float64
	muted     bool
	volume    float64
	attached  bool
	frame     *gg.ImageBuf
	pts       float64
	hasFrame  bool
	decoding  bool
	closed    bool
}

// NewElement starts loading src and returns immediately. The element climbs
// the readiness ladder in the background.
func NewElement(src Source, logger *slog.Logger) Element {
	return newDecoder(src, logger, time.Now)
}

func newDecoder(src Source, logger *slog.Logger, now func() time.Time) *decoder {
	ctx, cancel := context.WithCancel(context.Background())
	d := &decoder{
		src:     src,
		logger:  logging.OrDiscard(logger),
		now:     now,
		ctx:     ctx,
		cancel:  cancel,
		readyCh: make(chan struct{}),
		volume:  1,
	}
	d.wg.Add(1)
	go d.load()
	return d
}

func (d *decoder) load() {
	defer d.wg.Done()
	defer close(d.readyCh)

	meta, err := d.src.Metadata(d.ctx)
	if err == nil && !meta.HasVideo {
		if meta.HasAudio {
			// Audio-only sources stop at metadata; there is no frame to present.
			d.mu.Lock()
			d.meta = meta
			d.state = HaveMetadata
			d.mu.Unlock()
			return
		}
		err = ErrNoVideoStream
	}
	if err != nil {
		d.mu.Lock()
		d.loadErr = err
		d.mu.Unlock()
		d.logger.Warn("decode element load failed", "error", err)
		return
	}

	d.mu.Lock()
	d.meta = meta
	d.state = HaveMetadata
	start := d.position
	d.mu.Unlock()

	dec, err := d.src.DecodeAt(d.ctx, start)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.loadErr = err
		d.logger.Warn("first frame decode failed", "error", err)
		return
	}
	d.setFrame(dec)
	d.state = HaveCurrentData

	if d.position != start {
		d.beginSeek(d.position)
	}
	if d.playing {
		d.startPlayback()
	}
}

// setFrame must be called with mu held.
func (d *decoder) setFrame(dec Decoded) {
	d.frame = dec.Image
	d.pts = dec.PTS
	d.hasFrame = true
}

func (d *decoder) ReadyState() ReadyState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *decoder) Size() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.meta.Width, d.meta.Height
}

func (d *decoder) Duration() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.meta.Duration
}

func (d *decoder) CurrentTime() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentTime()
}

func (d *decoder) currentTime() float64 {
	if !d.playing || d.seeking || d.state < HaveCurrentData {
		return d.position
	}
	t := d.playBase + d.now().Sub(d.playStart).Seconds()
	if d.meta.Duration > 0 {
		t = math.Min(t, d.meta.Duration)
	}
	return t
}

func (d *decoder) Seeking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seeking
}

// Seek moves the element to t and decodes the frame there asynchronously.
func (d *decoder) Seek(t float64) {
	if t < 0 {
		t = 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.position = t
	if d.playing {
		d.playBase = t
		d.playStart = d.now()
	}
	if d.state < HaveCurrentData {
		// The initial load decodes at position.
		return
	}

	d.beginSeek(t)
}

// beginSeek must be called with mu held.
func (d *decoder) beginSeek(t float64) {
	d.seekGen++
	gen := d.seekGen
	if !d.seeking {
		d.seeking = true
		d.seekDone = make(chan struct{})
	}

	d.wg.Add(1)
	go d.seekTo(gen, t)
}

func (d *decoder) seekTo(gen uint64, t float64) {
	defer d.wg.Done()
	dec, err := d.src.DecodeAt(d.ctx, t)

	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.seekGen {
		return
	}
	if err != nil {
		if d.ctx.Err() == nil {
			d.logger.Warn("seek decode failed", "position", t, "error", err)
		}
	} else {
		d.setFrame(dec)
	}
	d.seeking = false
	close(d.seekDone)
	d.seekDone = nil
	if d.playing {
		d.playBase = t
		d.playStart = d.now()
	}
}

func (d *decoder) Play() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.playing || d.closed {
		return
	}
	d.playing = true
	d.playBase = d.position
	d.playStart = d.now()
	if d.state == HaveCurrentData {
		d.startPlayback()
	}
}

// startPlayback must be called with mu held.
func (d *decoder) startPlayback() {
	fps := d.meta.FPS
	if fps <= 0 {
		fps = 30
	}
	interval := time.Duration(float64(time.Second) / fps)
	d.playGen++
	d.wg.Add(1)
	go d.playbackLoop(d.playGen, interval)
}

func (d *decoder) playbackLoop(playGen uint64, interval time.Duration) {
	defer d.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
		}

		d.mu.Lock()
		if !d.playing || playGen != d.playGen {
			d.mu.Unlock()
			return
		}
		if d.decoding || d.seeking {
			d.mu.Unlock()
			continue
		}
		t := d.currentTime()
		if d.meta.Duration > 0 && t >= d.meta.Duration {
			d.position = d.meta.Duration
			d.playing = false
			d.mu.Unlock()
			return
		}
		d.decoding = true
		gen := d.seekGen
		d.mu.Unlock()

		dec, err := d.src.DecodeAt(d.ctx, t)

		d.mu.Lock()
		d.decoding = false
		if err == nil && gen == d.seekGen && !d.seeking {
			d.setFrame(dec)
		}
		d.mu.Unlock()
	}
}

func (d *decoder) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.playing {
		return
	}
	d.position = d.currentTime()
	d.playing = false
}

func (d *decoder) Paused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.playing
}

func (d *decoder) Muted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.muted
}

func (d *decoder) SetMuted(muted bool) {
	d.mu.Lock()
	d.muted = muted
	d.mu.Unlock()
}

func (d *decoder) Volume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume
}

func (d *decoder) SetVolume(v float64) {
	d.mu.Lock()
	d.volume = math.Max(0, math.Min(1, v))
	d.mu.Unlock()
}

func (d *decoder) Frame() *gg.ImageBuf {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frame
}

func (d *decoder) PresentedTimestamp() (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.hasFrame {
		return 0, false
	}
	return int64(math.Round(d.pts * 1e6)), true
}

// WaitReady blocks until the element has current data or failed to load.
func (d *decoder) WaitReady(ctx context.Context) error {
	select {
	case <-d.readyCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loadErr != nil {
		return fmt.Errorf("decode element: %w", d.loadErr)
	}
	return nil
}

// WaitSeeked blocks until no seek is in flight.
func (d *decoder) WaitSeeked(ctx context.Context) error {
	d.mu.Lock()
	ch := d.seekDone
	d.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *decoder) Attach() {
	d.mu.Lock()
	d.attached = true
	d.mu.Unlock()
}

func (d *decoder) Detach() {
	d.mu.Lock()
	d.attached = false
	d.mu.Unlock()
}

func (d *decoder) Attached() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attached
}

// Close stops background work and releases the source.
func (d *decoder) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.playing = false
	d.attached = false
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()

	d.mu.Lock()
	if d.seekDone != nil {
		close(d.seekDone)
		d.seekDone = nil
		d.seeking = false
	}
	d.mu.Unlock()
	return d.src.Close()
}
