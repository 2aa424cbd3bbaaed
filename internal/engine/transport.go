package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// sharedHTTPClient is the connection pool every transport instance uses.
// Deadlines come from per-request contexts, not a client-wide timeout.
var sharedHTTPClient = &http.Client{}

// Response payload shapes, shared by the non-streaming decoder and the
// SSE delta decoder. Delta string fields are pointers because providers
// send explicit nulls mid-stream.

type chatResponse struct {
	Choices []choicePayload  `json:"choices"`
	Usage   *Usage           `json:"usage"`
	Error   *apiErrorPayload `json:"error"`
}

type choicePayload struct {
	Message      *messagePayload `json:"message"`
	Delta        *deltaPayload   `json:"delta"`
	FinishReason string          `json:"finish_reason"`
}

type messagePayload struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Reasoning string         `json:"reasoning"`
	ToolCalls []wireToolCall `json:"tool_calls"`
}

type deltaPayload struct {
	Content   *string         `json:"content"`
	Reasoning *string         `json:"reasoning"`
	ToolCalls []deltaToolCall `json:"tool_calls"`
}

type deltaToolCall struct {
	Index    int           `json:"index"`
	ID       *string       `json:"id"`
	Type     *string       `json:"type"`
	Function deltaFunction `json:"function"`
}

type deltaFunction struct {
	Name      *string `json:"name"`
	Arguments *string `json:"arguments"`
}

type apiErrorPayload struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// TransportClient posts chat requests and hands back either a decoded
// JSON response or a stream handle. It owns nothing except the config and
// the cancel signal; the HTTP pool is shared process-wide.
type TransportClient struct {
	cfg Config
	sig *CancelSignal
}

// NewTransportClient returns a transport bound to the config and signal.
func NewTransportClient(cfg Config, sig *CancelSignal) *TransportClient {
	return &TransportClient{cfg: cfg, sig: sig}
}

func (t *TransportClient) newRequest(ctx context.Context, body []byte, streaming bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
	}
	applyProviderHeaders(req, t.cfg.Endpoint)
	return req, nil
}

// applyProviderHeaders adds the extra headers some gateways key features
// off. Currently only OpenRouter's attribution pair.
func applyProviderHeaders(req *http.Request, endpoint string) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return
	}
	if strings.Contains(u.Host, "openrouter") {
		req.Header.Set("HTTP-Referer", "https://github.com/moabird/moa")
		req.Header.Set("X-Title", "moa")
	}
}

func httpFailure(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return newHTTPError(resp.StatusCode, string(raw), resp.Header.Get("Retry-After"))
}

// Send performs a non-streaming exchange and decodes the response body.
func (t *TransportClient) Send(ctx context.Context, body []byte) (*chatResponse, error) {
	ctx, unbind := t.sig.Bind(ctx)
	defer unbind()
	ctx, cancel := context.WithTimeout(ctx, t.cfg.HTTPTimeout)
	defer cancel()

	req, err := t.newRequest(ctx, body, false)
	if err != nil {
		return nil, err
	}
	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		if t.sig.Raised() {
			return nil, ErrCancelled
		}
		return nil, newNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpFailure(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if t.sig.Raised() {
			return nil, ErrCancelled
		}
		return nil, newNetworkError(err)
	}
	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &TransportError{
			Class: RetryTransient,
			Kind:  NoticeConnectionDropped,
			Err:   fmt.Errorf("decode response: %w", err),
		}
	}
	if decoded.Error != nil {
		// Some gateways return 200 with the failure inside the body.
		class := RetryFatal
		kind := NoticeBadRequest
		if hasRateLimitMarker(decoded.Error.Message) {
			class, kind = RetryRateLimited, NoticeRateLimited
		}
		return nil, &TransportError{
			Body:  decoded.Error.Message,
			Class: class,
			Kind:  kind,
			Err:   fmt.Errorf("api error: %s", decoded.Error.Message),
		}
	}
	return &decoded, nil
}

// StreamHandle pulls lines off an open SSE response. ReadLine enforces
// the inactivity window, measured from the last byte received rather than
// the last complete line, and polls the cancel signal at least every
// 100ms.
type StreamHandle struct {
	lines      chan streamLine
	activity   *activityReader
	inactivity time.Duration
	sig        *CancelSignal
	cancel     context.CancelFunc
	body       io.ReadCloser
	closeOnce  sync.Once
}

type streamLine struct {
	text string
	err  error
}

type activityReader struct {
	r    io.Reader
	last atomic.Int64
}

func newActivityReader(r io.Reader) *activityReader {
	a := &activityReader{r: r}
	a.last.Store(time.Now().UnixNano())
	return a
}

func (a *activityReader) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if n > 0 {
		a.last.Store(time.Now().UnixNano())
	}
	return n, err
}

func (a *activityReader) idle() time.Duration {
	return time.Since(time.Unix(0, a.last.Load()))
}

// Open performs the streaming POST and returns a handle the caller pulls
// SSE lines from. The caller must Close the handle.
func (t *TransportClient) Open(ctx context.Context, body []byte) (*StreamHandle, error) {
	ctx, unbind := t.sig.Bind(ctx)
	ctx, cancel := context.WithTimeout(ctx, t.cfg.HTTPTimeout)
	release := func() { cancel(); unbind() }

	req, err := t.newRequest(ctx, body, true)
	if err != nil {
		release()
		return nil, err
	}
	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		release()
		if t.sig.Raised() {
			return nil, ErrCancelled
		}
		return nil, newNetworkError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		failure := httpFailure(resp)
		resp.Body.Close()
		release()
		return nil, failure
	}

	activity := newActivityReader(resp.Body)
	h := &StreamHandle{
		lines:      make(chan streamLine, 32),
		activity:   activity,
		inactivity: t.cfg.StreamTimeout,
		sig:        t.sig,
		cancel:     release,
		body:       resp.Body,
	}
	go h.pump()
	return h, nil
}

// pump moves raw lines from the response body to the channel. It runs
// until the body ends or the handle is closed.
func (h *StreamHandle) pump() {
	defer close(h.lines)
	scanner := bufio.NewScanner(h.activity)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		h.lines <- streamLine{text: scanner.Text()}
	}
	if err := scanner.Err(); err != nil {
		h.lines <- streamLine{err: err}
	}
}

// ReadLine returns the next SSE line. io.EOF marks a normally closed
// stream. Cancellation surfaces as ErrCancelled and inactivity past the
// window as a retryable timeout.
func (h *StreamHandle) ReadLine() (string, error) {
	for {
		if h.sig.Raised() {
			return "", ErrCancelled
		}
		if h.activity.idle() > h.inactivity {
			return "", newInactivityError(h.inactivity)
		}
		select {
		case line, ok := <-h.lines:
			if !ok {
				return "", io.EOF
			}
			if line.err != nil {
				return "", h.mapPumpError(line.err)
			}
			return line.text, nil
		case <-time.After(cancelPollInterval):
		}
	}
}

func (h *StreamHandle) mapPumpError(err error) error {
	if h.sig.Raised() || errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	return newNetworkError(err)
}

// Close tears the stream down: remaining bytes are dropped and the
// connection is released. Safe to call more than once.
func (h *StreamHandle) Close() error {
	h.closeOnce.Do(func() {
		h.cancel()
		h.body.Close()
		// Drain so the pump goroutine can exit.
		go func() {
			for range h.lines {
			}
		}()
	})
	return nil
}
