package engine

import "time"

// rateLimitBackoffFactor scales the general base delay for rate-limited
// failures; with the default 2s base that is the 10s floor providers
// expect after a 429.
const rateLimitBackoffFactor = 5

// cancelPollInterval is the longest a retry sleep will go without
// checking the cancel signal.
const cancelPollInterval = 100 * time.Millisecond

// RetryPolicy decides how transport failures are retried. A zero
// MaxAttempts means unbounded. It is a plain value owned by the engine;
// there is no shared global retry state.
type RetryPolicy struct {
	Exponential  bool          // exponential backoff vs. fixed delay
	InitialDelay time.Duration // base for the general schedule
	MaxDelay     time.Duration // cap for exponential growth
	FixedDelay   time.Duration // used when Exponential is false
	MaxAttempts  int           // total retry budget, 0 = unbounded
}

// DefaultRetryPolicy mirrors the documented environment defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Exponential:  true,
		InitialDelay: 2 * time.Second,
		MaxDelay:     64 * time.Second,
		FixedDelay:   10 * time.Second,
		MaxAttempts:  0,
	}
}

// baseFor returns the backoff base for a retry class. Rate-limited
// failures wait on a longer schedule.
func (p RetryPolicy) baseFor(class RetryClass) time.Duration {
	if class == RetryRateLimited {
		return p.InitialDelay * rateLimitBackoffFactor
	}
	return p.InitialDelay
}

// Delay computes the wait before retry number attempt (0-based):
// min(base << attempt, MaxDelay) in exponential mode, FixedDelay
// otherwise.
func (p RetryPolicy) Delay(class RetryClass, attempt int) time.Duration {
	if !p.Exponential {
		return p.FixedDelay
	}
	base := p.baseFor(class)
	if base <= 0 {
		return 0
	}
	// Past 30 doublings the shift would overflow; everything that far
	// out is capped anyway.
	if attempt > 30 {
		attempt = 30
	}
	d := base << uint(attempt)
	if d <= 0 || d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// DelayFor computes the wait for a classified error, honoring an explicit
// Retry-After the server sent when it exceeds the computed backoff.
func (p RetryPolicy) DelayFor(err error, attempt int) time.Duration {
	d := p.Delay(Classify(err), attempt)
	if ra := retryAfterDelay(err); ra > d {
		d = ra
	}
	return d
}

// Exhausted reports whether the attempt budget is spent. attempt counts
// retries already performed.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// Sleep waits for d in slices no longer than cancelPollInterval so the
// cancel signal is observed promptly. It reports whether the full sleep
// completed; false means the signal was raised.
func (p RetryPolicy) Sleep(sig *CancelSignal, d time.Duration) bool {
	for remaining := d; remaining > 0; remaining -= cancelPollInterval {
		slice := remaining
		if slice > cancelPollInterval {
			slice = cancelPollInterval
		}
		if sig.WaitOrRaised(slice) {
			return false
		}
	}
	return true
}
