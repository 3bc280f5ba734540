// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/metrics-snapshot-crawler/internal/crawler"
)

// Config controls collector behavior. Parallelism, Delay and RandomDelay are
// enforced per domain and shared by every request made through one Fetcher.
type Config struct {
	UserAgent      string
	Referer        string
	AllowedDomains []string
	RespectRobots  bool
	Timeout        time.Duration
	Parallelism    int
	Delay          time.Duration
	RandomDelay    time.Duration
	CacheDir       string
	Retry          RetryConfig
	// Throttle replaces the fixed Delay with an adaptive one when enabled.
	// RandomDelay still applies on top.
	Throttle ThrottleConfig
}

// Observer receives per-attempt fetch outcomes.
type Observer interface {
	ObserveFetch(status int, err error, dur time.Duration)
	ObserveRetry()
}

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	retry         *RetryPolicy
	throttle      *Throttle
	observer      Observer
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithObserver reports every attempt to o.
func WithObserver(o Observer) Option {
	return func(f *Fetcher) { f.observer = o }
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Fetcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Second
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	collectorOpts := []colly.CollectorOption{colly.Async(false)}
	if cfg.UserAgent != "" {
		collectorOpts = append(collectorOpts, colly.UserAgent(cfg.UserAgent))
	}
	if len(cfg.AllowedDomains) > 0 {
		collectorOpts = append(collectorOpts, colly.AllowedDomains(cfg.AllowedDomains...))
	}
	if cfg.CacheDir != "" {
		collectorOpts = append(collectorOpts, colly.CacheDir(cfg.CacheDir))
	}
	c := colly.NewCollector(collectorOpts...)
	// Retries and re-runs for the same date must be able to hit a URL again.
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	var (
		transport http.RoundTripper = newHTTPTransport(cfg.Parallelism)
		throttle  *Throttle
		delay     = cfg.Delay
	)
	if cfg.Throttle.Enabled {
		tcfg := cfg.Throttle
		if tcfg.MinDelay == 0 {
			tcfg.MinDelay = cfg.Delay
		}
		throttle = NewThrottle(tcfg)
		transport = &throttledTransport{next: transport, throttle: throttle}
		delay = 0
	}
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("set collector limits: %w", err)
	}

	f := &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		retry:         NewRetryPolicy(cfg.Retry),
		throttle:      throttle,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch retrieves url, retrying transient failures with jittered backoff.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crawler.Document, error) {
	for attempt := 0; ; attempt++ {
		start := time.Now()
		doc, status, err := f.fetchOnce(ctx, url)
		if f.observer != nil {
			f.observer.ObserveFetch(status, err, time.Since(start))
		}
		if err == nil {
			return doc, nil
		}
		if !f.retry.ShouldRetry(status, err, attempt) {
			return crawler.Document{}, err
		}
		wait := f.retry.Backoff(attempt)
		f.logger.Debug("retrying fetch",
			zap.String("url", url),
			zap.Int("status_code", status),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if f.observer != nil {
			f.observer.ObserveRetry()
		}
		if err := sleepWithContext(ctx, wait); err != nil {
			return crawler.Document{}, err
		}
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (crawler.Document, int, error) {
	var (
		result   crawler.Document
		status   int
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, &result, &status, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return crawler.Document{}, 0, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr == nil && err != nil {
			fetchErr = err
		}
	}
	if fetchErr != nil {
		if status != 0 {
			return crawler.Document{}, status, &StatusError{URL: url, StatusCode: status, Err: fetchErr}
		}
		return crawler.Document{}, 0, fmt.Errorf("colly fetch %s: %w", url, fetchErr)
	}
	if result.StatusCode == 0 {
		return crawler.Document{}, 0, fmt.Errorf("colly fetch %s: no response", url)
	}
	return result, result.StatusCode, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	result *crawler.Document,
	status *int,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		if f.cfg.Referer != "" && r.Headers.Get("Referer") == "" {
			r.Headers.Set("Referer", f.cfg.Referer)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.Document{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		if r != nil {
			*status = r.StatusCode
		}
		*fetchErr = err
	})
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch backoff sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport(parallelism int) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   max(2, parallelism*2),
		IdleConnTimeout:       90 * time.Second,
	}
}
