// Package mux assembles an uploaded packet stream into a playable file.
package mux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/icza/mjpeg"

	"github.com/heimdex/heimdex-studio/internal/encoder"
	"github.com/heimdex/heimdex-studio/internal/logging"
)

var ErrEmptyStream = errors.New("stream contains no packets")

var jpegSOI = []byte{0xFF, 0xD8}

// Input describes one stream to mux.
type Input struct {
	// Path is the framed packet stream as appended by the client.
	Path string
	// Output is the AVI file to create.
	Output string
	Width  int
	Height int
	FPS    float64
}

// Result summarizes a finished mux.
type Result struct {
	Frames     int
	Duplicated int
	Bytes      int64
}

// ProgressFunc receives the share of the input consumed, 0..100.
type ProgressFunc func(percent int)

type Muxer struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Muxer {
	return &Muxer{logger: logging.WithComponent(logging.OrDiscard(logger), "mux")}
}

// Mux reads packets in order and writes them as Motion JPEG frames. A gap
// in timestamps larger than one and a half frame durations is filled by
// repeating the previous frame, so the output keeps wall-clock timing.
func (m *Muxer) Mux(ctx context.Context, in Input, progress ProgressFunc) (Result, error) {
	var res Result

	f, err := os.Open(in.Path)
	if err != nil {
		return res, fmt.Errorf("open stream: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return res, fmt.Errorf("stat stream: %w", err)
	}
	if info.Size() == 0 {
		return res, ErrEmptyStream
	}

	if err := os.MkdirAll(filepath.Dir(in.Output), 0755); err != nil {
		return res, fmt.Errorf("create output directory: %w", err)
	}

	fps := int32(math.Round(in.FPS))
	if fps < 1 {
		fps = 1
	}
	aw, err := mjpeg.New(in.Output, int32(in.Width), int32(in.Height), fps)
	if err != nil {
		return res, fmt.Errorf("create avi writer: %w", err)
	}

	counter := &countingReader{r: f}
	pr := encoder.NewPacketReader(counter)
	frameDur := 1e6 / in.FPS
	var prev encoder.Packet
	lastPercent := -1

	for {
		if err := ctx.Err(); err != nil {
			aw.Close()
			return res, err
		}

		p, err := pr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			aw.Close()
			return res, fmt.Errorf("read packet %d: %w", res.Frames, err)
		}
		if !bytes.HasPrefix(p.Data, jpegSOI) {
			aw.Close()
			return res, fmt.Errorf("packet %d at %dus is not a JPEG image", res.Frames, p.Timestamp)
		}
		if res.Frames > 0 {
			if p.Timestamp <= prev.Timestamp {
				aw.Close()
				return res, fmt.Errorf("packet %d timestamp %dus does not advance past %dus", res.Frames, p.Timestamp, prev.Timestamp)
			}
			gap := float64(p.Timestamp-prev.Timestamp) / frameDur
			for i := 1; float64(i)+0.5 < gap; i++ {
				if err := aw.AddFrame(prev.Data); err != nil {
					aw.Close()
					return res, fmt.Errorf("repeat frame: %w", err)
				}
				res.Duplicated++
			}
		}

		if err := aw.AddFrame(p.Data); err != nil {
			aw.Close()
			return res, fmt.Errorf("add frame %d: %w", res.Frames, err)
		}
		res.Frames++
		prev = p

		if progress != nil {
			percent := int(counter.n * 100 / info.Size())
			if percent != lastPercent {
				progress(percent)
				lastPercent = percent
			}
		}
	}

	if err := aw.Close(); err != nil {
		return res, fmt.Errorf("finalize avi: %w", err)
	}
	if res.Frames == 0 {
		return res, ErrEmptyStream
	}

	if out, err := os.Stat(in.Output); err == nil {
		res.Bytes = out.Size()
	}
	m.logger.Info("stream muxed",
		"output", logging.SanitizePath(in.Output),
		"frames", res.Frames,
		"duplicated", res.Duplicated,
		"bytes", res.Bytes,
	)
	return res, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
