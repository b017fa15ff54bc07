package api

import (
	"time"

	"github.com/heimdex/heimdex-studio/internal/session"
)

type HealthResponse struct {
	Status  string              `json:"status"`
	Version string              `json:"version"`
	UptimeS int64               `json:"uptime_s"`
	Media   *MediaToolsResponse `json:"media,omitempty"`
}

type MediaToolsResponse struct {
	CanDecode   bool   `json:"can_decode"`
	FFmpeg      string `json:"ffmpeg,omitempty"`
	FFprobe     string `json:"ffprobe,omitempty"`
	LastProbeAt string `json:"last_probe_at,omitempty"`
}

type InitRequest struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`
	Format string  `json:"format"`
}

type InitResponse struct {
	SessionID string `json:"sessionId"`
}

type AppendResponse struct {
	Bytes int64 `json:"bytes"`
}

type StatusResponse struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}

type SessionResponse struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	Format        string  `json:"format"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	FPS           float64 `json:"fps"`
	BytesReceived int64   `json:"bytes_received"`
	Chunks        int     `json:"chunks"`
	Progress      int     `json:"progress"`
	Error         string  `json:"error,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func SessionToStatus(s *session.Session) StatusResponse {
	return StatusResponse{
		Status:   s.Status,
		Progress: s.Progress,
		Error:    s.Error,
	}
}

func SessionToResponse(s *session.Session) SessionResponse {
	return SessionResponse{
		ID:            s.ID,
		Status:        s.Status,
		Format:        s.Format,
		Width:         s.Width,
		Height:        s.Height,
		FPS:           s.FPS,
		BytesReceived: s.BytesReceived,
		Chunks:        s.Chunks,
		Progress:      s.Progress,
		Error:         s.Error,
		CreatedAt:     s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     s.UpdatedAt.Format(time.RFC3339),
	}
}
