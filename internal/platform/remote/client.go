// Package remote posts forms to remote HTTP APIs for the remote_call job kind.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/phrazzld/bookpush/internal/task"
)

// maxBody caps how much of a response is read.
const maxBody = 1 << 20

// Client posts url-encoded forms and checks the JSON status field of the reply.
type Client struct {
	http          *http.Client
	successStatus string
	logger        *slog.Logger
}

var _ task.Poster = (*Client)(nil)

// NewClient creates a Client. A reply succeeds only when its JSON "status"
// field equals successStatus; an empty successStatus accepts any non-empty
// 2xx body.
func NewClient(timeout time.Duration, successStatus string, l *slog.Logger) *Client {
	if l == nil {
		l = slog.Default()
	}
	return &Client{
		http:          &http.Client{Timeout: timeout},
		successStatus: successStatus,
		logger:        l.With(slog.String("component", "remote")),
	}
}

type statusReply struct {
	Status json.RawMessage `json:"status"`
}

// Post implements task.Poster.
func (c *Client) Post(ctx context.Context, endpoint string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to post to %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("failed to read reply from %s: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %d from %s", task.ErrStatusCode, resp.StatusCode, endpoint)
	}
	body := strings.TrimSpace(string(data))
	if body == "" {
		return "", fmt.Errorf("%w: %s", task.ErrEmptyResponse, endpoint)
	}
	if c.successStatus == "" {
		return body, nil
	}

	var reply statusReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return "", fmt.Errorf("%w: reply is not JSON: %v", task.ErrRejected, err)
	}
	if got := statusString(reply.Status); got != c.successStatus {
		c.logger.Warn("remote call rejected", "endpoint", endpoint, "status", got)
		return "", fmt.Errorf("%w: status %q", task.ErrRejected, got)
	}
	return body, nil
}

// statusString renders the status field as text whether it was sent as a
// JSON string or a bare number.
func statusString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
