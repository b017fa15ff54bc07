package cloud

import (
	"bytes"
	"context"
	"io"

	"github.com/heimdex/heimdex-studio/internal/session"
)

// LocalClient runs render sessions in-process against a session.Service.
// A session.Runner must be started for sessions to leave processing.
type LocalClient struct {
	service *session.Service
	runner  *session.Runner
}

func NewLocalClient(service *session.Service, runner *session.Runner) *LocalClient {
	return &LocalClient{service: service, runner: runner}
}

func (c *LocalClient) Init(ctx context.Context, req InitRequest) (string, error) {
	sess, err := c.service.Init(ctx, session.InitParams{
		Width:  req.Width,
		Height: req.Height,
		FPS:    req.FPS,
		Format: req.Format,
	})
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

func (c *LocalClient) Append(ctx context.Context, sessionID string, chunk []byte) error {
	_, err := c.service.Append(ctx, sessionID, bytes.NewReader(chunk))
	return err
}

func (c *LocalClient) Finish(ctx context.Context, sessionID string) error {
	if _, err := c.service.Finish(ctx, sessionID); err != nil {
		return err
	}
	if c.runner != nil {
		c.runner.Wake()
	}
	return nil
}

func (c *LocalClient) Status(ctx context.Context, sessionID string) (Status, error) {
	sess, err := c.service.Get(ctx, sessionID)
	if err != nil {
		return Status{}, err
	}
	return Status{Status: sess.Status, Progress: sess.Progress, Error: sess.Error}, nil
}

func (c *LocalClient) Download(ctx context.Context, sessionID string, w io.Writer) (int64, error) {
	f, _, err := c.service.Open(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(w, f)
}
