package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client provides typed access to the stream health API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		return APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// DataPoint is a single sample of a metric series.
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Statistics summarises a metric over the query window.
type Statistics struct {
	Average *float64 `json:"average,omitempty"`
	Maximum *float64 `json:"maximum,omitempty"`
}

// Metric is one tracked metric of a session.
type Metric struct {
	Label            string      `json:"label"`
	AlignedStartTime time.Time   `json:"alignedStartTime"`
	Period           int         `json:"period"`
	Data             []DataPoint `json:"data"`
	Statistics       Statistics  `json:"statistics"`
}

// SessionMetrics mirrors the session metrics payload.
type SessionMetrics struct {
	ChannelID           string          `json:"channelId"`
	SessionID           string          `json:"sessionId"`
	StartTime           *time.Time      `json:"startTime,omitempty"`
	EndTime             *time.Time      `json:"endTime,omitempty"`
	Live                bool            `json:"live"`
	Period              int             `json:"period"`
	AlignedStartTime    time.Time       `json:"alignedStartTime"`
	AlignedEndTime      time.Time       `json:"alignedEndTime"`
	Metrics             []Metric        `json:"metrics"`
	IngestConfiguration json.RawMessage `json:"ingestConfiguration,omitempty"`
	Cached              bool            `json:"cached"`
}

// GetSessionMetrics fetches the health metrics of a session.
func (c *Client) GetSessionMetrics(ctx context.Context, token, channelID, sessionID string) (SessionMetrics, error) {
	path := fmt.Sprintf("/channels/%s/sessions/%s/metrics", url.PathEscape(channelID), url.PathEscape(sessionID))
	var metrics SessionMetrics
	if err := c.do(ctx, http.MethodGet, path, nil, token, &metrics); err != nil {
		return SessionMetrics{}, err
	}
	return metrics, nil
}

// SendActionInput is the payload of a stream action.
type SendActionInput struct {
	ChannelARN string          `json:"channelArn"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// SendAction delivers a stream action to the viewers of a live channel.
func (c *Client) SendAction(ctx context.Context, token, channelID string, input SendActionInput) error {
	path := fmt.Sprintf("/channels/%s/actions", url.PathEscape(channelID))
	return c.do(ctx, http.MethodPost, path, input, token, nil)
}

// Health reports the service status as seen by /healthz.
func (c *Client) Health(ctx context.Context) (string, error) {
	var payload struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, "", &payload); err != nil {
		return "", err
	}
	return payload.Status, nil
}
