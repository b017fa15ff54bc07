// Package live runs the interactive preview: a transport clock and a render
// loop that composites the timeline every display refresh.
package live

import (
	"math"
	"sync"
	"time"
)

// Transport is the global playback clock.
type Transport struct {
	mu        sync.Mutex
	now       func() time.Time
	playing   bool
	base      float64
	startedAt time.Time
}

// NewTransport returns a paused transport at 0. A nil now uses time.Now.
func NewTransport(now func() time.Time) *Transport {
	if now == nil {
		now = time.Now
	}
	return &Transport{now: now}
}

func (t *Transport) Play() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.playing {
		return
	}
	t.playing = true
	t.startedAt = t.now()
}

func (t *Transport) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.playing {
		return
	}
	t.base = t.position()
	t.playing = false
}

// Seek moves the playhead; a negative position clamps to 0.
func (t *Transport) Seek(pos float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.base = math.Max(0, pos)
	t.startedAt = t.now()
}

// Now is the playhead position in seconds.
func (t *Transport) Now() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.position()
}

func (t *Transport) Playing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

// position must be called with mu held.
func (t *Transport) position() float64 {
	if !t.playing {
		return t.base
	}
	return t.base + t.now().Sub(t.startedAt).Seconds()
}
