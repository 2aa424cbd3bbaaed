// Error classification for transport failures. Every failure the engine
// can see is folded into a RetryClass and a NoticeKind so the retry loop
// and the UI agree on what happened.

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// RetryClass is the retry decision for a classified failure.
type RetryClass string

const (
	RetryTransient   RetryClass = "retry-transient"
	RetryRateLimited RetryClass = "retry-rate-limited"
	RetryFatal       RetryClass = "fatal"
)

// Retryable reports whether the class permits another attempt.
func (c RetryClass) Retryable() bool { return c != RetryFatal }

// ErrCancelled is returned by engine operations interrupted by the
// cancel signal. It is a clean termination, never retried.
var ErrCancelled = errors.New("cancelled by user")

// rateLimitMarkers are matched case-insensitively against 5xx bodies.
// A hit upgrades the failure to rate-limited, which retries on the
// longer base delay.
var rateLimitMarkers = []string{
	"too many requests",
	"rate limit",
	"rate limited",
	"quota exceeded",
}

// transientStatuses retry on the general backoff schedule.
var transientStatuses = map[int]bool{502: true, 503: true, 504: true, 524: true}

// TransportError is the classified outcome of a failed HTTP exchange.
// Status is 0 for failures below the HTTP layer (dial, TLS, mid-stream
// drop). Body holds the decoded error body, truncated.
type TransportError struct {
	Status     int
	Body       string
	RetryAfter string
	Class      RetryClass
	Kind       NoticeKind
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status > 0 && e.Body != "":
		return fmt.Sprintf("api error: status %d: %s", e.Status, e.Body)
	case e.Status > 0:
		return fmt.Sprintf("api error: status %d", e.Status)
	case e.Err != nil:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
	return fmt.Sprintf("transport error: %s", e.Kind)
}

func (e *TransportError) Unwrap() error { return e.Err }

// hasRateLimitMarker checks a response body for rate-limit wording.
func hasRateLimitMarker(body string) bool {
	lower := strings.ToLower(body)
	for _, m := range rateLimitMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// ClassifyStatus maps an HTTP status plus decoded body to a retry class.
// Rate-limit markers are checked before the transient status set, so a
// marked 503 waits on the rate-limit schedule.
func ClassifyStatus(status int, body string) RetryClass {
	switch {
	case status == 429:
		return RetryRateLimited
	case status == 400 || status == 401:
		return RetryFatal
	case status >= 500 && hasRateLimitMarker(body):
		return RetryRateLimited
	case transientStatuses[status]:
		return RetryTransient
	}
	return RetryFatal
}

// noticeKindForStatus maps a status to its UI notice kind.
func noticeKindForStatus(status int, class RetryClass) NoticeKind {
	switch {
	case status == 401:
		return NoticeAuthFailed
	case status == 400:
		return NoticeBadRequest
	case class == RetryRateLimited:
		return NoticeRateLimited
	case class == RetryTransient:
		return NoticeServerTransient
	}
	return NoticeBadRequest
}

const errBodyLimit = 2048

// newHTTPError classifies a non-2xx response.
func newHTTPError(status int, body, retryAfter string) *TransportError {
	if len(body) > errBodyLimit {
		body = body[:errBodyLimit]
	}
	body = strings.TrimSpace(body)
	class := ClassifyStatus(status, body)
	return &TransportError{
		Status:     status,
		Body:       body,
		RetryAfter: retryAfter,
		Class:      class,
		Kind:       noticeKindForStatus(status, class),
	}
}

// newNetworkError classifies a failure below the HTTP response layer:
// dial errors, timeouts, EOF during header read.
func newNetworkError(err error) *TransportError {
	kind := NoticeConnectionDropped
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout(),
		errors.Is(err, context.DeadlineExceeded),
		strings.Contains(strings.ToLower(err.Error()), "timeout"):
		kind = NoticeHTTPTimeout
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		kind = NoticeConnectionDropped
	}
	return &TransportError{Class: RetryTransient, Kind: kind, Err: err}
}

// newStreamDroppedError marks a stream that ended without [DONE], a
// finish reason, or a usage block.
func newStreamDroppedError() *TransportError {
	return &TransportError{
		Class: RetryTransient,
		Kind:  NoticeConnectionDropped,
		Err:   errors.New("stream closed before completion"),
	}
}

// newInactivityError marks a stream read that starved past the
// inactivity window.
func newInactivityError(window time.Duration) *TransportError {
	return &TransportError{
		Class: RetryTransient,
		Kind:  NoticeHTTPTimeout,
		Err:   fmt.Errorf("no stream activity within %s", window),
	}
}

// Classify folds any error into a retry class. Cancellation is fatal to
// the retry loop; it is detected separately and never re-sent.
func Classify(err error) RetryClass {
	if err == nil {
		return RetryFatal
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return RetryFatal
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Class
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return RetryTransient
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return RetryTransient
	}
	lower := strings.ToLower(err.Error())
	switch {
	case hasRateLimitMarker(lower):
		return RetryRateLimited
	case strings.Contains(lower, "timeout"),
		strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "broken pipe"):
		return RetryTransient
	}
	return RetryFatal
}

// noticeKindFor picks the UI notice kind for an arbitrary error.
func noticeKindFor(err error) NoticeKind {
	if errors.Is(err, ErrCancelled) {
		return NoticeCancelled
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	switch Classify(err) {
	case RetryRateLimited:
		return NoticeRateLimited
	case RetryTransient:
		return NoticeConnectionDropped
	}
	return NoticeBadRequest
}

// retryAfterDelay parses a Retry-After header into a duration. Zero when
// absent or unparseable.
func retryAfterDelay(err error) time.Duration {
	var te *TransportError
	if !errors.As(err, &te) || te.RetryAfter == "" {
		return 0
	}
	var seconds int
	if _, perr := fmt.Sscanf(te.RetryAfter, "%d", &seconds); perr == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, perr := time.Parse(time.RFC1123, te.RetryAfter); perr == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// RetryExhaustedError reports that the attempt budget ran out. It wraps
// the last transport failure.
type RetryExhaustedError struct {
	Err      error
	Attempts int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// ToolValidationError reports tool arguments that failed the declared
// schema. Produced by registries that opt into value validation; the
// dispatcher renders it as a tool result.
type ToolValidationError struct {
	ToolName string
	Problems []string
}

func (e *ToolValidationError) Error() string {
	return fmt.Sprintf("tool %s validation failed: %s", e.ToolName, strings.Join(e.Problems, "; "))
}
