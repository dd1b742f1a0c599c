package engine

import (
	"errors"
	"fmt"
	"time"
)

// Enqueue rejections.
var (
	ErrDisabled    = errors.New("task engine disabled")
	ErrStopped     = errors.New("task engine stopped")
	ErrStopping    = errors.New("task engine stopping")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task skipped due to overlap policy")
)

// retryPolicy overrides the engine's retry decision for one failure.
type retryPolicy struct {
	err   error
	stop  bool
	after time.Duration
}

func (p *retryPolicy) Error() string {
	if p.stop {
		return "no-retry: " + p.err.Error()
	}
	return fmt.Sprintf("retry in %s: %v", p.after, p.err)
}

func (p *retryPolicy) Unwrap() error { return p.err }

func policyOf(err error) (*retryPolicy, bool) {
	var p *retryPolicy
	if errors.As(err, &p) {
		return p, true
	}
	return nil, false
}

// NoRetry makes the engine give up after this attempt. A cycle whose
// collaborator is unreachable returns one; the next trigger is the retry.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &retryPolicy{err: err, stop: true}
}

func IsNoRetry(err error) bool {
	p, ok := policyOf(err)
	return ok && p.stop
}

// RetryAfter asks for the next attempt after d instead of the exponential
// backoff. RetryMaxDelay and jitter still apply.
func RetryAfter(err error, d time.Duration) error {
	if err == nil {
		return nil
	}
	return &retryPolicy{err: err, after: max(d, 0)}
}
