package cloud

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/heimdex/heimdex-studio/internal/logging"
)

// UploadError represents a non-2xx response from the render server.
type UploadError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("render %s failed: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx).
// Client errors (4xx) are considered permanent.
func (e *UploadError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// HTTPClient is a SessionClient for a remote render server.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPClient(baseURL, token string, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			// Requests are bounded by their context.
			Timeout: 0,
		},
		logger: logging.WithComponent(logging.OrDiscard(logger), "render-client"),
	}
}

type initResponse struct {
	SessionID string `json:"sessionId"`
}

func (c *HTTPClient) Init(ctx context.Context, req InitRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal init request: %w", err)
	}

	resp, err := c.do(ctx, "init", http.MethodPost, "/render/init", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out initResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode init response: %w", err)
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("init response has no session id")
	}

	c.logger.Info("render session initialized",
		"session_id", out.SessionID,
		"width", req.Width,
		"height", req.Height,
		"fps", req.FPS,
	)
	return out.SessionID, nil
}

func (c *HTTPClient) Append(ctx context.Context, sessionID string, chunk []byte) error {
	start := time.Now()
	resp, err := c.do(ctx, "append", http.MethodPost, "/render/append/"+url.PathEscape(sessionID), "application/octet-stream", bytes.NewReader(chunk))
	if err != nil {
		return err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	c.logger.Debug("chunk appended",
		"session_id", sessionID,
		"bytes", len(chunk),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (c *HTTPClient) Finish(ctx context.Context, sessionID string) error {
	resp, err := c.do(ctx, "finish", http.MethodPost, "/render/finish/"+url.PathEscape(sessionID), "", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	c.logger.Info("render session finished", "session_id", sessionID)
	return nil
}

func (c *HTTPClient) Status(ctx context.Context, sessionID string) (Status, error) {
	resp, err := c.do(ctx, "status", http.MethodGet, "/render/status/"+url.PathEscape(sessionID), "", nil)
	if err != nil {
		return Status{}, err
	}
	defer resp.Body.Close()

	var st Status
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&st); err != nil {
		return Status{}, fmt.Errorf("decode status response: %w", err)
	}
	return st, nil
}

func (c *HTTPClient) Download(ctx context.Context, sessionID string, w io.Writer) (int64, error) {
	resp, err := c.do(ctx, "download", http.MethodGet, "/render/download/"+url.PathEscape(sessionID), "", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download session output: %w", err)
	}
	c.logger.Info("render output downloaded", "session_id", sessionID, "bytes", n)
	return n, nil
}

// do sends one request and turns any non-2xx response into an UploadError.
// On success the caller owns resp.Body.
func (c *HTTPClient) do(ctx context.Context, op, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Heimdex-Request-Id", generateRequestID())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return nil, &UploadError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
}

func generateRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}
