// Package session implements the server side of render sessions: a client
// initializes a session, appends framed packets, finishes, and polls until
// the stream has been muxed into a downloadable file.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	StatusUploading  = "uploading"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusError      = "error"

	FormatMJPEG = "mjpeg"

	ConfigAuthToken = "auth_token"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrInvalidState = errors.New("invalid session state")
	ErrInvalidInit  = errors.New("invalid session parameters")
	ErrTooLarge     = errors.New("append exceeds size limit")
)

type Session struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	Format        string    `json:"format"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	FPS           float64   `json:"fps"`
	BytesReceived int64     `json:"bytes_received"`
	Chunks        int       `json:"chunks"`
	Progress      int       `json:"progress"`
	Error         string    `json:"error,omitempty"`
	OutputPath    string    `json:"output_path,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Terminal reports whether the session will not change status again.
func (s *Session) Terminal() bool {
	return s.Status == StatusDone || s.Status == StatusError
}

// InitParams are the client's stream parameters.
type InitParams struct {
	Width  int
	Height int
	FPS    float64
	Format string
}

func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
