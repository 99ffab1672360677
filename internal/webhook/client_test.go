package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"farm-assistant/internal/domain"
)

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []string
	shapes   []string
}

func (f *fakeRecorder) ObserveRequest(outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}

func (f *fakeRecorder) ObserveParse(shape string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shapes = append(f.shapes, shape)
}

func newTestClient(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	c, err := NewClient(url, opts...)
	require.NoError(t, err)
	return c
}

func sampleRequest(message string) domain.ChatRequest {
	return domain.ChatRequest{
		Message:   message,
		Timestamp: "2026-10-17T08:00:00Z",
		UserID:    "farmer-1",
		Context:   map[string]any{"crop": "maize"},
	}
}

// blockingServer holds each request open until the client gives up or the
// test ends.
func blockingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
			_, _ = w.Write([]byte(`{"response":"too late"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClient_EmptyURL(t *testing.T) {
	_, err := NewClient("  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient("https://flows.example.com/webhook/farm")
	require.NoError(t, err)
	require.Equal(t, DefaultTimeout, c.timeout)
	require.True(t, c.fallbackEnabled)
	require.Equal(t, "https://flows.example.com/webhook/farm", c.URL())
}

func TestSend_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "application/json", r.Header.Get("Accept"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var got domain.ChatRequest
		require.NoError(t, json.Unmarshal(raw, &got))
		require.Equal(t, "When should I plant maize?", got.Message)
		require.Equal(t, "farmer-1", got.UserID)
		require.Equal(t, "maize", got.Context["crop"])

		_, _ = w.Write([]byte(`{"response":"Hello farmer"}`))
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	c := newTestClient(t, srv.URL, WithRecorder(rec))
	resp, err := c.Send(context.Background(), sampleRequest("When should I plant maize?"))
	require.NoError(t, err)
	require.Equal(t, "Hello farmer", resp.Text)
	require.True(t, resp.Success)
	require.Equal(t, []string{"ok"}, rec.outcomes)
	require.Equal(t, []string{"direct"}, rec.shapes)
}

func TestSend_StreamingBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{\"type\":\"begin\"}\n{\"type\":\"item\",\"content\":\"Plant in April.\"}\n{\"type\":\"item\",\"content\":\"Water daily.\"}\n{\"type\":\"end\"}\n"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.Send(context.Background(), sampleRequest("hi"))
	require.NoError(t, err)
	require.Equal(t, "Plant in April. Water daily.", resp.Text)
	require.Equal(t, 2, *resp.ContentParts)
}

func TestSend_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("garbage not json at all"))
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	c := newTestClient(t, srv.URL, WithRecorder(rec))
	resp, err := c.Send(context.Background(), sampleRequest("hi"))
	require.NoError(t, err)
	require.Equal(t, domain.ErrorMalformedResponse, resp.Error)
	require.Equal(t, "garbage not json at all", *resp.RawResponse)
	require.Equal(t, []string{"malformed_response"}, rec.outcomes)
	require.Equal(t, []string{"unparseable"}, rec.shapes)
}

func TestSend_Non2xxPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"webhook not registered"}`))
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	c := newTestClient(t, srv.URL, WithRecorder(rec))
	_, err := c.Send(context.Background(), sampleRequest("hi"))
	require.Error(t, err)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.HTTPStatusCode())
	require.Equal(t, "Not Found", statusErr.Status)
	require.Contains(t, statusErr.Body, "webhook not registered")
	require.Contains(t, err.Error(), "404")
	require.Equal(t, []string{"http_error"}, rec.outcomes)
}

func TestSend_TimeoutAborts(t *testing.T) {
	srv := blockingServer(t)

	rec := &fakeRecorder{}
	c := newTestClient(t, srv.URL, WithTimeout(50*time.Millisecond), WithRecorder(rec))
	start := time.Now()
	resp, err := c.Send(context.Background(), sampleRequest("hi"))
	require.NoError(t, err)
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, domain.ChatResponse{Text: "Request cancelled", Success: false, Error: domain.ErrorAborted}, resp)
	require.Equal(t, []string{"aborted"}, rec.outcomes)
}

func TestSend_ExternalCancelDuringCall(t *testing.T) {
	srv := blockingServer(t)

	c := newTestClient(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)

	resp, err := c.Send(ctx, sampleRequest("hi"))
	require.NoError(t, err)
	require.Equal(t, domain.ErrorAborted, resp.Error)
	require.Equal(t, "Request cancelled", resp.Text)
	require.False(t, resp.Success)
}

func TestSend_CancelledBeforeCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(t, srv.URL)
	resp, err := c.Send(ctx, sampleRequest("hi"))
	require.NoError(t, err)
	require.Equal(t, domain.ErrorAborted, resp.Error)
	require.False(t, called)
}

func TestSend_NetworkFailureUsesFallback(t *testing.T) {
	rec := &fakeRecorder{}
	c := newTestClient(t, "http://127.0.0.1:1/webhook/farm", WithRecorder(rec))
	resp, err := c.Send(context.Background(), sampleRequest("How to reduce farming expenses?"))
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Equal(t, domain.ErrorWebhookUnavailable, resp.Error)
	require.Equal(t, FallbackReply("how to reduce farming expenses?"), resp.Text)
	require.Contains(t, resp.Text, "reduce farming expenses")
	require.Equal(t, []string{"webhook_unavailable"}, rec.outcomes)
}

func TestSend_NetworkFailureWithoutFallback(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1/webhook/farm", WithFallback(false))
	_, err := c.Send(context.Background(), sampleRequest("hi"))
	require.Error(t, err)

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	require.Equal(t, "http://127.0.0.1:1/webhook/farm", netErr.URL)
	require.NotNil(t, errors.Unwrap(err))
}

func TestSend_UnmarshalableContext(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	req := sampleRequest("hi")
	req.Context = map[string]any{"bad": make(chan int)}
	_, err := c.Send(context.Background(), req)
	require.Error(t, err)
	require.Contains(t, err.Error(), "marshal request")
}

func TestSend_ConcurrentCallsAreIndependent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req domain.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Message == "slow" {
			<-r.Context().Done()
			return
		}
		_, _ = w.Write([]byte(`{"answer":"fast reply"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, WithTimeout(100*time.Millisecond))

	var wg sync.WaitGroup
	results := make([]domain.ChatResponse, 2)
	for i, msg := range []string{"slow", "fast"} {
		wg.Add(1)
		go func(i int, msg string) {
			defer wg.Done()
			resp, err := c.Send(context.Background(), sampleRequest(msg))
			require.NoError(t, err)
			results[i] = resp
		}(i, msg)
	}
	wg.Wait()

	require.Equal(t, domain.ErrorAborted, results[0].Error)
	require.Equal(t, "fast reply", results[1].Text)
}
