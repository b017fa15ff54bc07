// Package encoder turns captured frames into framed packets and streams
// them to a render session from a worker goroutine.
package encoder

import (
	"errors"
	"fmt"

	"github.com/gogpu/gg"
)

var (
	ErrUnsupportedConfig = errors.New("unsupported encoder configuration")
	ErrWorkerClosed      = errors.New("encoder worker closed")
	ErrEncoderClosed     = errors.New("encoder closed")
)

const (
	CodecMJPEG = "mjpeg"

	DefaultQuality = 85
	maxDimension   = 8192
)

// Config describes the stream an encoder produces.
type Config struct {
	Codec   string
	Width   int
	Height  int
	FPS     float64
	Quality int
}

// Supported reports whether cfg can be encoded. The error wraps
// ErrUnsupportedConfig.
func Supported(cfg Config) error {
	switch {
	case cfg.Codec != CodecMJPEG:
		return fmt.Errorf("%w: codec %q", ErrUnsupportedConfig, cfg.Codec)
	case cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > maxDimension || cfg.Height > maxDimension:
		return fmt.Errorf("%w: size %dx%d", ErrUnsupportedConfig, cfg.Width, cfg.Height)
	case cfg.Width%2 != 0 || cfg.Height%2 != 0:
		return fmt.Errorf("%w: size %dx%d must be even", ErrUnsupportedConfig, cfg.Width, cfg.Height)
	case cfg.FPS <= 0 || cfg.FPS > 240:
		return fmt.Errorf("%w: fps %v", ErrUnsupportedConfig, cfg.FPS)
	case cfg.Quality < 0 || cfg.Quality > 100:
		return fmt.Errorf("%w: quality %d", ErrUnsupportedConfig, cfg.Quality)
	}
	return nil
}

// Frame is a captured, immutable surface. Timestamp and Duration are in
// microseconds. Ownership passes to the encoder on Encode.
type Frame struct {
	Timestamp int64
	Duration  int64
	Width     int
	Height    int
	Image     *gg.ImageBuf
}

// OutputFunc receives encoded packets in presentation order.
type OutputFunc func(Packet)

// Encoder is a streaming encoder. Output may lag input; Flush forces out
// everything queued.
type Encoder interface {
	Encode(frame Frame, key bool) error
	Flush() error
	Close() error
}

// JPEGEncoder encodes every frame as a JPEG packet. It keeps a short
// internal queue like a hardware encoder would, so output trails input
// until Flush.
type JPEGEncoder struct {
	cfg    Config
	out    OutputFunc
	depth  int
	queue  []Packet
	closed bool
}

// NewJPEGEncoder validates cfg and returns an encoder that emits through out.
func NewJPEGEncoder(cfg Config, out OutputFunc) (*JPEGEncoder, error) {
	if err := Supported(cfg); err != nil {
		return nil, err
	}
	if cfg.Quality == 0 {
		cfg.Quality = DefaultQuality
	}
	return &JPEGEncoder{cfg: cfg, out: out, depth: 2}, nil
}

func (e *JPEGEncoder) Encode(frame Frame, key bool) error {
	if e.closed {
		return ErrEncoderClosed
	}
	if frame.Image == nil {
		return errors.New("frame has no image")
	}
	if w, h := frame.Image.Bounds(); w != e.cfg.Width || h != e.cfg.Height {
		return fmt.Errorf("frame size %dx%d does not match encoder %dx%d", w, h, e.cfg.Width, e.cfg.Height)
	}
	data, err := frame.Image.EncodeToJPEGBytes(e.cfg.Quality)
	if err != nil {
		return fmt.Errorf("encode frame at %dus: %w", frame.Timestamp, err)
	}
	e.queue = append(e.queue, Packet{Timestamp: frame.Timestamp, Duration: frame.Duration, Key: key, Data: data})
	for len(e.queue) > e.depth {
		e.emit()
	}
	return nil
}

func (e *JPEGEncoder) Flush() error {
	if e.closed {
		return ErrEncoderClosed
	}
	for len(e.queue) > 0 {
		e.emit()
	}
	return nil
}

// Close drops anything not flushed.
func (e *JPEGEncoder) Close() error {
	e.closed = true
	e.queue = nil
	return nil
}

func (e *JPEGEncoder) emit() {
	p := e.queue[0]
	e.queue = e.queue[1:]
	if e.out != nil {
		e.out(p)
	}
}
