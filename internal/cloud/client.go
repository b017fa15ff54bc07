// Package cloud talks to a render session server: it opens a session,
// streams encoded packets into it, and retrieves the muxed result.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var ErrSessionFailed = errors.New("render session failed")

const (
	StatusUploading  = "uploading"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusError      = "error"
)

// InitRequest describes the stream the client is about to upload.
type InitRequest struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`
	Format string  `json:"format"`
}

type Status struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}

// Terminal reports whether the session reached done or error.
func (s Status) Terminal() bool {
	return s.Status == StatusDone || s.Status == StatusError
}

// SessionClient is the client side of a render session. Appends must be
// issued in stream order; a failed append leaves earlier chunks in place.
type SessionClient interface {
	Init(ctx context.Context, req InitRequest) (string, error)
	Append(ctx context.Context, sessionID string, chunk []byte) error
	Finish(ctx context.Context, sessionID string) error
	Status(ctx context.Context, sessionID string) (Status, error)
	Download(ctx context.Context, sessionID string, w io.Writer) (int64, error)
}

// maxTransientPolls is how many retryable status failures in a row WaitDone
// tolerates before giving up.
const maxTransientPolls = 3

// WaitDone polls the session every interval until it is done or failed.
// onStatus, when set, sees every polled status.
func WaitDone(ctx context.Context, client SessionClient, sessionID string, interval time.Duration, onStatus func(Status)) (Status, error) {
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	transient := 0
	for {
		st, err := client.Status(ctx, sessionID)
		switch {
		case err == nil:
			transient = 0
			if onStatus != nil {
				onStatus(st)
			}
			if st.Status == StatusDone {
				return st, nil
			}
			if st.Status == StatusError {
				return st, fmt.Errorf("%w: %s", ErrSessionFailed, st.Error)
			}
		case isRetryable(err) && transient < maxTransientPolls:
			transient++
		default:
			return st, fmt.Errorf("poll session status: %w", err)
		}

		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

func isRetryable(err error) bool {
	var ue *UploadError
	return errors.As(err, &ue) && ue.IsRetryable()
}
