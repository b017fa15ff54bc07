// Package download serves finished render outputs with byte-range support
// so interrupted downloads can resume.
package download

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/heimdex/heimdex-studio/internal/logging"
)

const ContentTypeAVI = "video/x-msvideo"

// Server writes render outputs to HTTP responses.
type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logging.WithComponent(logging.OrDiscard(logger), "download")}
}

// ServeFile writes f as an attachment named name. A Range header is
// answered with 206; a malformed one is ignored and the whole file is sent.
// Errors after the header was written are only logged.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, f *os.File, name string) error {
	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	size := stat.Size()

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", ContentTypeAVI)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))

	rng, err := ParseRange(r.Header.Get("Range"), size)
	if errors.Is(err, ErrUnsatisfiable) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	if rng == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, f); err != nil {
			s.logger.Warn("download interrupted", "file", name, "error", err)
		}
		return nil
	}

	if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(rng.Length(), 10))
	w.Header().Set("Content-Range", rng.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if _, err := io.CopyN(w, f, rng.Length()); err != nil {
		s.logger.Warn("ranged download interrupted", "file", name, "start", rng.Start, "error", err)
	}
	return nil
}
