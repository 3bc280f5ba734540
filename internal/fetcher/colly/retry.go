package collyfetcher

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/gocolly/colly/v2"
)

// DefaultRetryStatusCodes are the responses worth asking for again.
var DefaultRetryStatusCodes = []int{500, 502, 503, 504, 522, 524, 408, 429}

// RetryConfig tunes RetryPolicy. Zero delays and an empty status list take
// the defaults; MaxAttempts of zero disables retries.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	StatusCodes []int
}

// RetryPolicy retries retryable statuses and transport errors with jittered
// exponential backoff. MaxAttempts counts retries after the first try.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	statuses    map[int]struct{}
}

// NewRetryPolicy builds a policy from cfg.
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	codes := cfg.StatusCodes
	if len(codes) == 0 {
		codes = DefaultRetryStatusCodes
	}
	statuses := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		statuses[c] = struct{}{}
	}
	return &RetryPolicy{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		statuses:    statuses,
	}
}

// ShouldRetry decides whether attempt (zero-based) may be followed by another.
func (p *RetryPolicy) ShouldRetry(status int, err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, colly.ErrRobotsTxtBlocked) ||
		errors.Is(err, colly.ErrForbiddenDomain) ||
		errors.Is(err, colly.ErrMissingURL) {
		return false
	}
	if status != 0 {
		_, ok := p.statuses[status]
		return ok
	}
	return true
}

// Backoff returns the wait before retry number attempt+1.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
