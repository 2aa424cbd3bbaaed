package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   RetryClass
	}{
		{"429 plain", 429, "", RetryRateLimited},
		{"429 with body", 429, "slow down", RetryRateLimited},
		{"400 bad request", 400, "invalid json", RetryFatal},
		{"400 with marker stays fatal", 400, "rate limit", RetryFatal},
		{"401 auth", 401, "", RetryFatal},
		{"502", 502, "", RetryTransient},
		{"503", 503, "", RetryTransient},
		{"504", 504, "", RetryTransient},
		{"524", 524, "", RetryTransient},
		{"500 plain", 500, "internal server error", RetryFatal},
		{"500 rate limit marker", 500, "Rate Limit exceeded for model", RetryRateLimited},
		{"500 too many requests upper", 500, "TOO MANY REQUESTS", RetryRateLimited},
		{"500 quota", 500, "monthly quota exceeded, upgrade plan", RetryRateLimited},
		{"503 marker beats transient set", 503, "rate limited, slow down", RetryRateLimited},
		{"418 default fatal", 418, "", RetryFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyStatus(tt.status, tt.body); got != tt.want {
				t.Errorf("ClassifyStatus(%d, %q) = %v, want %v", tt.status, tt.body, got, tt.want)
			}
		})
	}
}

func FuzzClassifyStatus(f *testing.F) {
	f.Add(429, "")
	f.Add(500, "rate limit")
	f.Add(503, "gateway unavailable")
	f.Add(400, "bad request")
	f.Fuzz(func(t *testing.T, status int, body string) {
		got := ClassifyStatus(status, body)
		if got != RetryTransient && got != RetryRateLimited && got != RetryFatal {
			t.Fatalf("ClassifyStatus(%d, %q) = %q, not a known class", status, body, got)
		}
		// The decision must be deterministic.
		if again := ClassifyStatus(status, body); again != got {
			t.Fatalf("ClassifyStatus not deterministic: %q then %q", got, again)
		}
		switch {
		case status == 429 && got != RetryRateLimited:
			t.Errorf("429 must always be rate-limited, got %q", got)
		case (status == 400 || status == 401) && got != RetryFatal:
			t.Errorf("status %d must always be fatal, got %q", status, got)
		case status >= 500 && hasRateLimitMarker(body) && got != RetryRateLimited:
			t.Errorf("marked 5xx must be rate-limited, got %q", got)
		}
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want RetryClass
	}{
		{"nil", nil, RetryFatal},
		{"cancelled", ErrCancelled, RetryFatal},
		{"context cancelled", context.Canceled, RetryFatal},
		{"transport error carries class", newHTTPError(503, "", ""), RetryTransient},
		{"transport rate limited", newHTTPError(429, "", ""), RetryRateLimited},
		{"wrapped transport error", fmt.Errorf("send: %w", newHTTPError(401, "", "")), RetryFatal},
		{"eof", io.EOF, RetryTransient},
		{"unexpected eof", io.ErrUnexpectedEOF, RetryTransient},
		{"string timeout", errors.New("dial tcp: i/o timeout"), RetryTransient},
		{"string reset", errors.New("read: connection reset by peer"), RetryTransient},
		{"string rate marker", errors.New("provider said: too many requests"), RetryRateLimited},
		{"unknown", errors.New("boom"), RetryFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestNoticeKindForStatus(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   NoticeKind
	}{
		{401, "", NoticeAuthFailed},
		{400, "", NoticeBadRequest},
		{429, "", NoticeRateLimited},
		{502, "", NoticeServerTransient},
		{500, "rate limited", NoticeRateLimited},
		{500, "oops", NoticeBadRequest},
	}
	for _, tt := range tests {
		err := newHTTPError(tt.status, tt.body, "")
		if err.Kind != tt.want {
			t.Errorf("newHTTPError(%d, %q).Kind = %v, want %v", tt.status, tt.body, err.Kind, tt.want)
		}
	}
}

func TestNewNetworkErrorKinds(t *testing.T) {
	if kind := newNetworkError(io.EOF).Kind; kind != NoticeConnectionDropped {
		t.Errorf("EOF kind = %v, want %v", kind, NoticeConnectionDropped)
	}
	if kind := newNetworkError(context.DeadlineExceeded).Kind; kind != NoticeHTTPTimeout {
		t.Errorf("deadline kind = %v, want %v", kind, NoticeHTTPTimeout)
	}
	if class := newNetworkError(errors.New("connection refused")).Class; class != RetryTransient {
		t.Errorf("network error class = %v, want transient", class)
	}
}

func TestRetryAfterDelay(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		want  time.Duration
		loose bool
	}{
		{"no transport error", errors.New("x"), 0, false},
		{"absent header", newHTTPError(429, "", ""), 0, false},
		{"integer seconds", newHTTPError(429, "", "7"), 7 * time.Second, false},
		{"zero seconds", newHTTPError(429, "", "0"), 0, false},
		{"garbage", newHTTPError(429, "", "soon"), 0, false},
		{"http date", newHTTPError(429, "", time.Now().Add(30*time.Second).UTC().Format(time.RFC1123)), 25 * time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := retryAfterDelay(tt.err)
			if tt.loose {
				if got < tt.want {
					t.Errorf("retryAfterDelay() = %v, want at least %v", got, tt.want)
				}
				return
			}
			if got != tt.want {
				t.Errorf("retryAfterDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryExhaustedErrorUnwraps(t *testing.T) {
	inner := newHTTPError(503, "unavailable", "")
	err := &RetryExhaustedError{Err: inner, Attempts: 3}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatal("RetryExhaustedError should unwrap to TransportError")
	}
	if te.Status != 503 {
		t.Errorf("unwrapped status = %d, want 503", te.Status)
	}
}

func TestErrorBodyTruncated(t *testing.T) {
	long := make([]byte, errBodyLimit*2)
	for i := range long {
		long[i] = 'x'
	}
	err := newHTTPError(500, string(long), "")
	if len(err.Body) > errBodyLimit {
		t.Errorf("body kept %d bytes, limit is %d", len(err.Body), errBodyLimit)
	}
}
