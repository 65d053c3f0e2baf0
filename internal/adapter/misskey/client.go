// Package misskey posts alert notes to a Misskey instance over its JSON
// HTTP API.
package misskey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rassi0429/eew4reso/internal/delivery"
	"github.com/rassi0429/eew4reso/internal/observability"
)

// Bounded retry for transient failures. The delivery queue never
// retries; all retry behavior lives in this client.
const (
	maxRetries     = 2
	initialBackoff = 200 * time.Millisecond
)

// Client implements delivery.Sink against the Misskey notes API.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates a Misskey client for the given instance base URL.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		metrics: metrics,
	}
}

// Post publishes one note and returns its id. Transport errors and 5xx
// responses are retried up to maxRetries times with exponential backoff;
// a 4xx response fails immediately since resending the same request
// cannot succeed.
func (c *Client) Post(ctx context.Context, content string, opts delivery.PostOptions) (string, error) {
	reqBody := createNoteRequest{
		Token:          c.token,
		Text:           content,
		Visibility:     opts.Visibility,
		ContentWarning: opts.ContentWarning,
	}

	backoff := initialBackoff
	for attempt := 0; ; attempt++ {
		id, retryable, err := c.createNote(ctx, reqBody)
		if err == nil {
			return id, nil
		}
		if !retryable || attempt == maxRetries {
			return "", err
		}
		c.logger.Warn("note post failed, retrying", "error", err, "attempt", attempt+1)
		if !sleepWithContext(ctx, backoff) {
			return "", ctx.Err()
		}
		backoff *= 2
	}
}

// TestConnectivity verifies the instance accepts the configured token by
// calling the credential endpoint. Used as a startup probe; a failure is
// reported, never fatal.
func (c *Client) TestConnectivity(ctx context.Context) bool {
	payload, err := json.Marshal(map[string]string{"i": c.token})
	if err != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/i", bytes.NewReader(payload))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.SinkRequests.WithLabelValues("connectivity", "error").Inc()
		c.logger.Warn("connectivity check failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		c.metrics.SinkRequests.WithLabelValues("connectivity", "error").Inc()
		c.logger.Warn("connectivity check rejected", "status", resp.StatusCode)
		return false
	}

	c.metrics.SinkRequests.WithLabelValues("connectivity", "success").Inc()
	return true
}

// createNote performs one notes/create call. The bool reports whether
// the failure is worth retrying.
func (c *Client) createNote(ctx context.Context, reqBody createNoteRequest) (string, bool, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", false, fmt.Errorf("marshal note request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/notes/create", bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.SinkAPIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.SinkRequests.WithLabelValues("note", "error").Inc()
		return "", true, fmt.Errorf("notes/create request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.SinkRequests.WithLabelValues("note", "error").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", resp.StatusCode >= 500, fmt.Errorf("misskey API error: status %d: %s", resp.StatusCode, body)
	}

	var noteResp createNoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&noteResp); err != nil {
		c.metrics.SinkRequests.WithLabelValues("note", "error").Inc()
		return "", false, fmt.Errorf("decode note response: %w", err)
	}
	if noteResp.CreatedNote.ID == "" {
		c.metrics.SinkRequests.WithLabelValues("note", "error").Inc()
		return "", false, errors.New("note response missing id")
	}

	c.metrics.SinkRequests.WithLabelValues("note", "success").Inc()
	return noteResp.CreatedNote.ID, false, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Misskey API request/response types.

type createNoteRequest struct {
	Token          string `json:"i"`
	Text           string `json:"text"`
	Visibility     string `json:"visibility,omitempty"`
	ContentWarning string `json:"cw,omitempty"`
}

type createNoteResponse struct {
	CreatedNote struct {
		ID string `json:"id"`
	} `json:"createdNote"`
}
