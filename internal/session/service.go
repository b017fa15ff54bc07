package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/heimdex/heimdex-studio/internal/encoder"
	"github.com/heimdex/heimdex-studio/internal/logging"
)

// DefaultMaxAppend bounds a single append request body.
const DefaultMaxAppend = 64 << 20

type Service struct {
	repo      Repository
	dir       string
	maxAppend int64
	logger    *slog.Logger

	// mu serializes appends so chunks land in the stream file in the
	// order their requests were accepted.
	mu sync.Mutex
}

func NewService(repo Repository, dir string, maxAppend int64, logger *slog.Logger) *Service {
	if maxAppend <= 0 {
		maxAppend = DefaultMaxAppend
	}
	return &Service{
		repo:      repo,
		dir:       dir,
		maxAppend: maxAppend,
		logger:    logging.WithComponent(logging.OrDiscard(logger), "session"),
	}
}

// StreamPath is where appended packets for id are stored.
func (s *Service) StreamPath(id string) string {
	return filepath.Join(s.dir, id+".bin")
}

// OutputPath is where the muxed file for id is written.
func (s *Service) OutputPath(id string) string {
	return filepath.Join(s.dir, id+".avi")
}

func (s *Service) Init(ctx context.Context, p InitParams) (*Session, error) {
	format := strings.ToLower(p.Format)
	if format == "" {
		format = FormatMJPEG
	}
	if format != FormatMJPEG {
		return nil, fmt.Errorf("%w: format %q", ErrInvalidInit, p.Format)
	}
	if err := encoder.Supported(encoder.Config{Codec: encoder.CodecMJPEG, Width: p.Width, Height: p.Height, FPS: p.FPS}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInit, err)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("create sessions directory: %w", err)
	}

	now := time.Now()
	sess := &Session{
		ID:        NewID(),
		Status:    StatusUploading,
		Format:    format,
		Width:     p.Width,
		Height:    p.Height,
		FPS:       p.FPS,
		CreatedAt: now,
		UpdatedAt: now,
	}

	f, err := os.Create(s.StreamPath(sess.ID))
	if err != nil {
		return nil, fmt.Errorf("create stream file: %w", err)
	}
	f.Close()

	if err := s.repo.CreateSession(ctx, sess); err != nil {
		os.Remove(s.StreamPath(sess.ID))
		return nil, err
	}

	logging.WithSessionID(s.logger, sess.ID).Info("session initialized",
		"width", sess.Width, "height", sess.Height, "fps", sess.FPS)
	return sess, nil
}

// Get returns the session or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Append copies body onto the end of the session stream. It is only allowed
// while the session is uploading. A rejected append leaves the stream as it
// was; earlier appends are kept.
func (s *Service) Append(ctx context.Context, id string, body io.Reader) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if sess.Status != StatusUploading {
		return 0, fmt.Errorf("%w: append while %s", ErrInvalidState, sess.Status)
	}

	f, err := os.OpenFile(s.StreamPath(id), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return 0, fmt.Errorf("open stream file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat stream file: %w", err)
	}
	size := info.Size()

	n, err := s.appendChunk(ctx, f, id, body)
	if err != nil {
		if terr := f.Truncate(size); terr != nil {
			logging.WithSessionID(s.logger, id).Error("failed to roll back rejected append",
				"size", size, "error", terr)
		}
		return n, err
	}
	logging.WithSessionID(s.logger, id).Debug("chunk appended", "bytes", n)
	return n, nil
}

func (s *Service) appendChunk(ctx context.Context, f *os.File, id string, body io.Reader) (int64, error) {
	n, err := io.Copy(f, io.LimitReader(body, s.maxAppend+1))
	if err != nil {
		return n, fmt.Errorf("write stream: %w", err)
	}
	if n > s.maxAppend {
		return n, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, s.maxAppend)
	}
	if err := f.Sync(); err != nil {
		return n, fmt.Errorf("sync stream: %w", err)
	}
	if err := s.repo.RecordAppend(ctx, id, n); err != nil {
		return n, err
	}
	return n, nil
}

// Finish closes the upload and queues the session for muxing.
func (s *Service) Finish(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != StatusUploading {
		return nil, fmt.Errorf("%w: finish while %s", ErrInvalidState, sess.Status)
	}
	if err := s.repo.UpdateSessionStatus(ctx, id, StatusProcessing, ""); err != nil {
		return nil, err
	}
	sess.Status = StatusProcessing

	logging.WithSessionID(s.logger, id).Info("upload finished",
		"bytes", sess.BytesReceived, "chunks", sess.Chunks)
	return sess, nil
}

// Open returns the muxed output of a done session. The caller closes it.
func (s *Service) Open(ctx context.Context, id string) (*os.File, *Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if sess.Status != StatusDone {
		return nil, nil, fmt.Errorf("%w: download while %s", ErrInvalidState, sess.Status)
	}
	f, err := os.Open(sess.OutputPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open output: %w", err)
	}
	return f, sess, nil
}

// EnsureAuthToken stores token when one is given. Otherwise it returns the
// stored token, generating one on first use.
func (s *Service) EnsureAuthToken(ctx context.Context, token string) (string, error) {
	if token != "" {
		if err := s.repo.SetConfig(ctx, ConfigAuthToken, token); err != nil {
			return "", fmt.Errorf("store auth token: %w", err)
		}
		return token, nil
	}

	stored, err := s.repo.GetConfig(ctx, ConfigAuthToken)
	if err != nil {
		return "", err
	}
	if stored != "" {
		return stored, nil
	}

	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate auth token: %w", err)
	}
	stored = hex.EncodeToString(b)
	if err := s.repo.SetConfig(ctx, ConfigAuthToken, stored); err != nil {
		return "", fmt.Errorf("store auth token: %w", err)
	}
	s.logger.Info("generated auth token", "token", logging.SanitizeToken(stored))
	return stored, nil
}
