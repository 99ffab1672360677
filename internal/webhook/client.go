package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"farm-assistant/internal/domain"
)

const (
	DefaultTimeout = 10 * time.Second

	abortedText  = "Request cancelled"
	maxBodyBytes = 4 << 20
	maxErrorBody = 4096
)

// HTTPStatusError captures a non-2xx webhook response. The webhook was
// reachable, so this is always propagated to the caller.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("webhook: unexpected status %d (%s) from %s: %s", e.StatusCode, e.Status, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// NetworkError reports that the webhook could not be reached at all. It is
// only returned when the fallback policy is disabled.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("webhook: request to %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Recorder receives per-call observations. metrics.Collector implements it.
type Recorder interface {
	ObserveRequest(outcome string, elapsed time.Duration)
	ObserveParse(shape string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRequest(string, time.Duration) {}
func (nopRecorder) ObserveParse(string)                  {}

// Client posts chat requests to the workflow webhook. Each Send performs
// exactly one HTTP call; concurrent calls share no mutable state.
type Client struct {
	url             string
	httpClient      *http.Client
	timeout         time.Duration
	fallbackEnabled bool
	logger          *zap.Logger
	recorder        Recorder
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets how long Send waits for response headers before aborting.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithFallback controls whether unreachable-webhook failures resolve to a
// canned reply instead of an error.
func WithFallback(enabled bool) Option {
	return func(c *Client) {
		c.fallbackEnabled = enabled
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
		}
	}
}

// NewClient creates a Client for the given endpoint URL. Fallback is enabled
// by default.
func NewClient(url string, opts ...Option) (*Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("webhook: endpoint URL must not be empty")
	}
	c := &Client{
		url:             url,
		httpClient:      &http.Client{},
		timeout:         DefaultTimeout,
		fallbackEnabled: true,
		logger:          zap.NewNop(),
		recorder:        nopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	return c, nil
}

// URL returns the endpoint this client posts to.
func (c *Client) URL() string {
	return c.url
}

// Send posts req to the webhook and normalizes the reply.
//
// Cancellation of ctx and the header timeout both resolve to an aborted
// response rather than an error. A non-2xx status returns *HTTPStatusError.
// A transport failure returns a fallback reply, or *NetworkError when
// fallback is disabled.
func (c *Client) Send(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	start := time.Now()

	body, err := json.Marshal(req)
	if err != nil {
		return domain.ChatResponse{}, fmt.Errorf("webhook: marshal request: %w", err)
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timedOut atomic.Bool
	timer := time.AfterFunc(c.timeout, func() {
		timedOut.Store(true)
		cancel()
	})

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		timer.Stop()
		return domain.ChatResponse{}, fmt.Errorf("webhook: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(httpReq)
	// The deadline only covers waiting for headers.
	timer.Stop()
	if err != nil {
		if callCtx.Err() != nil {
			return c.aborted(start, timedOut.Load()), nil
		}
		return c.unreachable(start, req.Message, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		c.recorder.ObserveRequest("http_error", time.Since(start))
		c.logger.Error("webhook returned error status",
			zap.Int("status", res.StatusCode),
			zap.String("url", c.url),
		)
		return domain.ChatResponse{}, &HTTPStatusError{
			StatusCode: res.StatusCode,
			Status:     http.StatusText(res.StatusCode),
			URL:        c.url,
			Body:       string(buf),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		// A partially received body is discarded, never parsed.
		if callCtx.Err() != nil {
			return c.aborted(start, timedOut.Load()), nil
		}
		return c.unreachable(start, req.Message, fmt.Errorf("read response body: %w", err))
	}

	decoded := decodeBody(string(raw))
	resp := decoded.response(string(raw))
	c.recorder.ObserveParse(string(decoded.shape))
	c.recorder.ObserveRequest(resp.Outcome(), time.Since(start))
	if decoded.shape == ShapeUnparseable {
		c.logger.Warn("webhook body could not be parsed", zap.Int("bodyBytes", len(raw)))
	} else {
		c.logger.Debug("webhook reply parsed",
			zap.String("shape", string(decoded.shape)),
			zap.Int("bodyBytes", len(raw)),
		)
	}
	return resp, nil
}

func (c *Client) aborted(start time.Time, timedOut bool) domain.ChatResponse {
	c.recorder.ObserveRequest(string(domain.ErrorAborted), time.Since(start))
	c.logger.Info("webhook request aborted", zap.Bool("timedOut", timedOut))
	return domain.ChatResponse{
		Text:    abortedText,
		Success: false,
		Error:   domain.ErrorAborted,
	}
}

func (c *Client) unreachable(start time.Time, message string, cause error) (domain.ChatResponse, error) {
	if !c.fallbackEnabled {
		c.recorder.ObserveRequest("network_error", time.Since(start))
		c.logger.Error("webhook unreachable", zap.String("url", c.url), zap.Error(cause))
		return domain.ChatResponse{}, &NetworkError{URL: c.url, Err: cause}
	}
	c.recorder.ObserveRequest(string(domain.ErrorWebhookUnavailable), time.Since(start))
	c.logger.Warn("webhook unreachable, using fallback reply", zap.String("url", c.url), zap.Error(cause))
	return domain.ChatResponse{
		Text:    FallbackReply(message),
		Success: false,
		Error:   domain.ErrorWebhookUnavailable,
	}, nil
}
