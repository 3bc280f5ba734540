package collyfetcher

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// ThrottleConfig tunes adaptive per-host delays. MinDelay is the floor the
// delay never drops below; it is normally the crawl's fixed Delay.
type ThrottleConfig struct {
	Enabled           bool
	StartDelay        time.Duration
	MinDelay          time.Duration
	MaxDelay          time.Duration
	TargetConcurrency float64
}

// Throttle spaces requests to each host by a delay that follows observed
// latency: it aims for TargetConcurrency requests in flight per host.
// A non-200 response may raise the delay but never lower it.
type Throttle struct {
	cfg   ThrottleConfig
	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	mu    sync.Mutex
	hosts map[string]*hostSlot
}

type hostSlot struct {
	delay time.Duration
	next  time.Time
}

// NewThrottle builds a Throttle, filling unset fields with defaults.
func NewThrottle(cfg ThrottleConfig) *Throttle {
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	if cfg.TargetConcurrency <= 0 {
		cfg.TargetConcurrency = 1
	}
	if cfg.StartDelay < cfg.MinDelay {
		cfg.StartDelay = cfg.MinDelay
	}
	if cfg.StartDelay > cfg.MaxDelay {
		cfg.StartDelay = cfg.MaxDelay
	}
	return &Throttle{
		cfg:   cfg,
		now:   time.Now,
		sleep: sleepWithContext,
		hosts: make(map[string]*hostSlot),
	}
}

func (t *Throttle) slot(host string) *hostSlot {
	s, ok := t.hosts[host]
	if !ok {
		s = &hostSlot{delay: t.cfg.StartDelay}
		t.hosts[host] = s
	}
	return s
}

// Delay reports the current delay for host.
func (t *Throttle) Delay(host string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slot(host).delay
}

// Wait reserves the next request slot for host and sleeps until it opens.
func (t *Throttle) Wait(ctx context.Context, host string) error {
	t.mu.Lock()
	s := t.slot(host)
	now := t.now()
	at := s.next
	if at.Before(now) {
		at = now
	}
	s.next = at.Add(s.delay)
	t.mu.Unlock()
	return t.sleep(ctx, at.Sub(now))
}

// Observe feeds one response latency back into host's delay.
func (t *Throttle) Observe(host string, latency time.Duration, status int) {
	target := time.Duration(float64(latency) / t.cfg.TargetConcurrency)

	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.slot(host)
	delay := (s.delay + target) / 2
	if delay < target {
		delay = target
	}
	delay = min(max(delay, t.cfg.MinDelay), t.cfg.MaxDelay)
	if status != http.StatusOK && delay <= s.delay {
		return
	}
	s.delay = delay
}

// throttledTransport applies a Throttle around every round trip, so cached
// responses served by colly never wait.
type throttledTransport struct {
	next     http.RoundTripper
	throttle *Throttle
}

func (t *throttledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	host := req.URL.Host
	if err := t.throttle.Wait(req.Context(), host); err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	t.throttle.Observe(host, time.Since(start), resp.StatusCode)
	return resp, nil
}
