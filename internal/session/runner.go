package session

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/heimdex/heimdex-studio/internal/logging"
	"github.com/heimdex/heimdex-studio/internal/mux"
)

// Runner muxes finished uploads in the background.
type Runner struct {
	service      *Service
	repo         Repository
	muxer        *mux.Muxer
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	wake         chan struct{}
}

func NewRunner(service *Service, repo Repository, muxer *mux.Muxer, pollInterval time.Duration, logger *slog.Logger) *Runner {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Runner{
		service:      service,
		repo:         repo,
		muxer:        muxer,
		logger:       logging.WithComponent(logging.OrDiscard(logger), "session-runner"),
		pollInterval: pollInterval,
		wake:         make(chan struct{}, 1),
	}
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("session runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("session runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			r.processPending(ctx)
		case <-r.wake:
			r.processPending(ctx)
		}
	}
}

// Wake asks the runner to look for finished uploads now instead of on the
// next tick.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

func (r *Runner) processPending(ctx context.Context) {
	sessions, err := r.repo.ListSessionsByStatus(ctx, StatusProcessing)
	if err != nil {
		r.logger.Error("failed to list processing sessions", "error", err)
		return
	}
	for _, sess := range sessions {
		if ctx.Err() != nil {
			return
		}
		r.process(ctx, sess)
	}
}

func (r *Runner) process(ctx context.Context, sess *Session) {
	logger := logging.WithSessionID(r.logger, sess.ID)
	logger.Info("muxing session", "bytes", sess.BytesReceived)

	out := r.service.OutputPath(sess.ID)
	res, err := r.muxer.Mux(ctx, mux.Input{
		Path:   r.service.StreamPath(sess.ID),
		Output: out,
		Width:  sess.Width,
		Height: sess.Height,
		FPS:    sess.FPS,
	}, func(percent int) {
		// Reaching 100 is reserved for done.
		if percent > 99 {
			percent = 99
		}
		r.repo.UpdateSessionProgress(ctx, sess.ID, percent)
	})
	if err != nil {
		if ctx.Err() != nil {
			// Left in processing; a restart marks it interrupted.
			return
		}
		logger.Error("mux failed", "error", err)
		r.repo.UpdateSessionStatus(ctx, sess.ID, StatusError, err.Error())
		return
	}

	if err := r.repo.SetOutputPath(ctx, sess.ID, out); err != nil {
		r.repo.UpdateSessionStatus(ctx, sess.ID, StatusError, err.Error())
		return
	}
	r.repo.UpdateSessionProgress(ctx, sess.ID, 100)
	r.repo.UpdateSessionStatus(ctx, sess.ID, StatusDone, "")
	logger.Info("session done", "frames", res.Frames, "bytes", res.Bytes)
}
