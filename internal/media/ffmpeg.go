package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/gogpu/gg"

	"github.com/heimdex/heimdex-studio/internal/logging"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
	probeTimeout   = 30 * time.Second
	decodeTimeout  = 20 * time.Second
)

// Tools locates the ffmpeg and ffprobe binaries.
type Tools struct {
	FFmpeg  string
	FFprobe string
	Logger  *slog.Logger
}

// ResolveTools finds the binaries, preferring the configured paths.
func ResolveTools(ffmpegPath, ffprobePath string, logger *slog.Logger) (*Tools, error) {
	ffmpeg, err := resolveBinary(ffmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}
	ffprobe, err := resolveBinary(ffprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}
	return &Tools{FFmpeg: ffmpeg, FFprobe: ffprobe, Logger: logging.OrDiscard(logger)}, nil
}

func resolveBinary(preferred, name string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured %s %q not found", name, preferred)
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("no %s binary found on PATH", name)
	}
	return p, nil
}

// ProbeResult is the subset of ffprobe output the compositor needs.
type ProbeResult struct {
	Duration   float64
	Width      int
	Height     int
	Codec      string
	FrameRate  float64
	AudioCodec string
	HasVideo   bool
	HasAudio   bool
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe runs ffprobe on path.
func (t *Tools) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := t.run(ctx, t.FFprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", logging.SanitizePath(path), err)
	}
	return parseProbe(out)
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}

	res := &ProbeResult{}
	if raw.Format.Duration != "" {
		res.Duration, _ = strconv.ParseFloat(raw.Format.Duration, 64)
	}
	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			if res.HasVideo {
				continue
			}
			res.HasVideo = true
			res.Codec = s.CodecName
			res.Width = s.Width
			res.Height = s.Height
			res.FrameRate = parseRate(s.AvgFrameRate)
			if res.FrameRate == 0 {
				res.FrameRate = parseRate(s.RFrameRate)
			}
		case "audio":
			if !res.HasAudio {
				res.HasAudio = true
				res.AudioCodec = s.CodecName
			}
		}
	}
	return res, nil
}

// parseRate parses ffprobe rationals like "30000/1001".
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// FFmpegSource decodes single frames of a media file by running ffmpeg with
// an input seek and a one-frame PNG pipe output.
type FFmpegSource struct {
	tools *Tools
	path  string
	probe *ProbeResult
}

func NewFFmpegSource(tools *Tools, path string) *FFmpegSource {
	return &FFmpegSource{tools: tools, path: path}
}

func (s *FFmpegSource) Metadata(ctx context.Context) (Metadata, error) {
	res, err := s.tools.Probe(ctx, s.path)
	if err != nil {
		return Metadata{}, err
	}
	s.probe = res
	return Metadata{
		Width:    res.Width,
		Height:   res.Height,
		FPS:      res.FrameRate,
		Duration: res.Duration,
		HasVideo: res.HasVideo,
		HasAudio: res.HasAudio,
	}, nil
}

func (s *FFmpegSource) DecodeAt(ctx context.Context, t float64) (Decoded, error) {
	ctx, cancel := context.WithTimeout(ctx, decodeTimeout)
	defer cancel()

	out, err := s.tools.run(ctx, s.tools.FFmpeg,
		"-hide_banner",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(t, 'f', 6, 64),
		"-i", s.path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)
	if err != nil {
		return Decoded{}, fmt.Errorf("decode frame at %.3fs: %w", t, err)
	}
	if len(out) == 0 {
		return Decoded{}, fmt.Errorf("decode frame at %.3fs: %w", t, ErrNoVideoStream)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return Decoded{}, fmt.Errorf("decode frame png: %w", err)
	}

	pts := t
	if s.probe != nil && s.probe.FrameRate > 0 {
		pts = float64(int64(t*s.probe.FrameRate+0.5)) / s.probe.FrameRate
	}
	return Decoded{Image: gg.ImageBufFromImage(img), PTS: pts}, nil
}

func (s *FFmpegSource) Close() error { return nil }

// run executes a tool and returns stdout. Failures carry the stderr tail.
func (t *Tools) run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, bin, args...)

	var stdout, stderrBuf bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})

	err := cmd.Run()
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		t.Logger.Debug("media tool failed",
			"bin", bin,
			"exit_code", exitCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"stderr_tail", truncate(stderrBuf.String(), 512),
		)
		return nil, fmt.Errorf("exit %d: %s", exitCode, truncate(strings.TrimSpace(stderrBuf.String()), 512))
	}
	return stdout.Bytes(), nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
