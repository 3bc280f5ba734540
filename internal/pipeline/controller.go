package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/metrics-snapshot-crawler/internal/buffer"
	"github.com/JakeFAU/metrics-snapshot-crawler/internal/crawler"
	"github.com/JakeFAU/metrics-snapshot-crawler/internal/extract"
)

const (
	defaultConcurrency   = 2
	defaultProgressEvery = 50
	defaultDrainTimeout  = 30 * time.Second
)

// ErrAlreadyRun is returned when Run is called on a used controller.
var ErrAlreadyRun = errors.New("pipeline controller already ran")

// Config holds per-run parameters.
type Config struct {
	EntryURL      string
	TargetDate    string
	BatchSize     int
	Concurrency   int
	ProgressEvery int
	DrainTimeout  time.Duration
	Listing       extract.ListingLocators
	Fields        extract.FieldLocators
}

// Observer receives run-level counters.
type Observer interface {
	ObserveQueued(n int)
	ObserveParsed()
	ObservePage()
	ObserveDetailFailure()
}

type nopObserver struct{}

func (nopObserver) ObserveQueued(int)     {}
func (nopObserver) ObserveParsed()        {}
func (nopObserver) ObservePage()          {}
func (nopObserver) ObserveDetailFailure() {}

// Option customizes a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver reports run counters to o.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithFlushObserver reports committed batches to o.
func WithFlushObserver(o buffer.FlushObserver) Option {
	return func(c *Controller) { c.flushObserver = o }
}

// WithClock overrides the time source used for Summary timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// Controller runs a single snapshot crawl. It is not reusable.
type Controller struct {
	cfg           Config
	fetcher       crawler.Fetcher
	store         crawler.SnapshotStore
	listing       *extract.ListingParser
	builder       *extract.Builder
	logger        *zap.Logger
	observer      Observer
	flushObserver buffer.FlushObserver
	now           func() time.Time
	state         State
}

type detailResult struct {
	stub crawler.EntityStub
	doc  crawler.Document
	err  error
}

// New validates the locators in cfg and returns an idle controller. The
// controller takes ownership of store once the target date validates. If Run
// aborts with ReasonInvalidDate the store is never touched and the caller
// must still close it.
func New(cfg Config, fetcher crawler.Fetcher, store crawler.SnapshotStore, opts ...Option) (*Controller, error) {
	if fetcher == nil {
		return nil, errors.New("pipeline: fetcher is required")
	}
	if store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if cfg.EntryURL == "" {
		return nil, errors.New("pipeline: entry url is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = defaultProgressEvery
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	cfg.BatchSize = buffer.ResolveThreshold(cfg.BatchSize)

	c := &Controller{
		cfg:      cfg,
		fetcher:  fetcher,
		store:    store,
		listing:  extract.NewListingParser(cfg.Listing),
		builder:  extract.NewBuilder(cfg.Fields),
		logger:   zap.NewNop(),
		observer: nopObserver{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	if errs := append(c.listing.Errs(), c.builder.Errs()...); len(errs) > 0 {
		return nil, fmt.Errorf("pipeline: invalid locators: %w", errors.Join(errs...))
	}
	return c, nil
}

// State reports the controller's current phase.
func (c *Controller) State() State { return c.state }

// Run executes the crawl. Once the target date validates, every exit path
// flushes the buffer and closes the store exactly once. A canceled ctx
// stops traversal but not the final flush. On ReasonInvalidDate Run returns
// before the store is opened, so closing it stays with the caller.
func (c *Controller) Run(ctx context.Context) (sum Summary, err error) {
	if c.state != StateIdle {
		return Summary{}, ErrAlreadyRun
	}
	sum = Summary{TargetDate: c.cfg.TargetDate, StartedAt: c.now()}
	id, idErr := uuid.NewV7()
	if idErr == nil {
		sum.RunID = id.String()
	}
	logger := c.logger.With(zap.String("run_id", sum.RunID))

	c.state = StateValidating
	date, err := crawler.ParseTargetDate(c.cfg.TargetDate)
	if err != nil {
		return c.abort(logger, sum, ReasonInvalidDate, err)
	}
	sum.TargetDate = date

	if err := c.store.EnsureSchema(ctx); err != nil {
		closeErr := c.store.Close()
		return c.abort(logger, sum, ReasonSchemaError, errors.Join(fmt.Errorf("ensure schema: %w", err), closeErr))
	}

	buf := buffer.New(c.store, c.cfg.BatchSize,
		buffer.WithLogger(logger),
		buffer.WithObserver(c.flushObserver),
	)
	logger.Info("snapshot run started",
		zap.String("target_date", date),
		zap.String("entry_url", c.cfg.EntryURL),
		zap.Int("batch_size", buf.Threshold()),
	)

	defer func() {
		if drainErr := c.drain(ctx, logger, buf); drainErr != nil {
			err = errors.Join(err, drainErr)
			sum.Reason = ReasonFlushError
		}
		sum.Parsed = buf.Parsed()
		sum.Flushed = buf.Flushed()
		sum.FinishedAt = c.now()
		if err != nil {
			logger.Warn("snapshot run closed", append(sum.Fields(), zap.Error(err))...)
			return
		}
		logger.Info("snapshot run closed", sum.Fields()...)
	}()

	c.state = StateTraversing
	sum.Reason, err = c.traverse(ctx, logger, date, buf, &sum)
	return sum, err
}

func (c *Controller) abort(logger *zap.Logger, sum Summary, reason Reason, err error) (Summary, error) {
	c.state = StateAborted
	sum.Reason = reason
	sum.FinishedAt = c.now()
	logger.Error("snapshot run aborted", append(sum.Fields(), zap.Error(err))...)
	return sum, err
}

// traverse walks listing pages until no next link remains. Its error is
// the run's error; detail failures are local and only counted.
func (c *Controller) traverse(
	ctx context.Context,
	logger *zap.Logger,
	date string,
	buf *buffer.Buffer,
	sum *Summary,
) (Reason, error) {
	visited := make(map[string]struct{})
	next := c.cfg.EntryURL
	for next != "" {
		if err := ctx.Err(); err != nil {
			return ReasonCanceled, err
		}
		if _, seen := visited[next]; seen {
			logger.Warn("listing links back to a visited page", zap.String("url", next))
			return ReasonFinished, nil
		}
		visited[next] = struct{}{}

		page, err := c.fetcher.Fetch(ctx, next)
		if err != nil {
			if ctx.Err() != nil {
				return ReasonCanceled, ctx.Err()
			}
			logger.Error("listing fetch failed", zap.String("url", next), zap.Error(err))
			return ReasonListingError, fmt.Errorf("fetch listing %s: %w", next, err)
		}
		doc, err := extract.ParseDocument(page.Body)
		if err != nil {
			logger.Error("listing parse failed", zap.String("url", page.URL), zap.Error(err))
			return ReasonListingError, fmt.Errorf("parse listing %s: %w", page.URL, err)
		}

		stubs, following := c.listing.CollectStubs(doc, page.URL)
		sum.Pages++
		sum.Queued += len(stubs)
		c.observer.ObservePage()
		c.observer.ObserveQueued(len(stubs))
		logger.Debug("listing page collected",
			zap.String("url", page.URL),
			zap.Int("stubs", len(stubs)),
			zap.Bool("has_next", following != ""),
			zap.Bool("from_cache", page.FromCache),
		)

		if reason, err := c.processPage(ctx, logger, date, stubs, buf, sum); err != nil {
			return reason, err
		}
		next = following
	}
	return ReasonFinished, nil
}

// processPage fetches every detail page of one listing page and folds the
// results into buf on the calling goroutine.
func (c *Controller) processPage(
	ctx context.Context,
	logger *zap.Logger,
	date string,
	stubs []crawler.EntityStub,
	buf *buffer.Buffer,
	sum *Summary,
) (Reason, error) {
	if len(stubs) == 0 {
		return ReasonFinished, nil
	}
	pageCtx, cancel := context.WithCancel(ctx)
	results := c.fetchDetails(pageCtx, stubs)
	defer func() {
		cancel()
		for range results { //nolint:revive // release blocked senders
		}
	}()

	for res := range results {
		if res.err != nil {
			if ctx.Err() != nil {
				return ReasonCanceled, ctx.Err()
			}
			sum.FetchFailures++
			c.observer.ObserveDetailFailure()
			logger.Warn("detail fetch failed, skipping entity",
				zap.String("code", res.stub.Code),
				zap.String("url", res.stub.DetailURL),
				zap.Error(res.err),
			)
			continue
		}
		doc, err := extract.ParseDocument(res.doc.Body)
		if err != nil {
			sum.FetchFailures++
			c.observer.ObserveDetailFailure()
			logger.Warn("detail parse failed, skipping entity",
				zap.String("code", res.stub.Code),
				zap.Error(err),
			)
			continue
		}

		rec := c.builder.Build(date, res.stub, doc)
		if err := buf.Append(ctx, rec); err != nil {
			if ctx.Err() != nil {
				return ReasonCanceled, ctx.Err()
			}
			logger.Error("flush failed, stopping traversal", zap.Error(err))
			return ReasonFlushError, err
		}
		c.observer.ObserveParsed()
		if buf.Parsed()%c.cfg.ProgressEvery == 0 {
			logger.Info("snapshot progress",
				zap.Int("parsed", buf.Parsed()),
				zap.Int("queued", sum.Queued),
			)
		}
	}
	if err := ctx.Err(); err != nil {
		return ReasonCanceled, err
	}
	return ReasonFinished, nil
}

// fetchDetails starts bounded concurrent fetches and streams their results.
// The channel closes after every fetch has reported or ctx is done.
func (c *Controller) fetchDetails(ctx context.Context, stubs []crawler.EntityStub) <-chan detailResult {
	results := make(chan detailResult)
	go func() {
		defer close(results)
		var g errgroup.Group
		g.SetLimit(c.cfg.Concurrency)
		for _, stub := range stubs {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				doc, err := c.fetcher.Fetch(ctx, stub.DetailURL)
				select {
				case results <- detailResult{stub: stub, doc: doc, err: err}:
				case <-ctx.Done():
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
	return results
}

// drain flushes what is left with a context that survives cancellation of
// the run, then releases the store.
func (c *Controller) drain(ctx context.Context, logger *zap.Logger, buf *buffer.Buffer) error {
	c.state = StateDraining
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.DrainTimeout)
	defer cancel()

	pending := buf.Pending()
	flushErr := buf.Flush(drainCtx)
	if flushErr != nil {
		logger.Error("final flush failed", zap.Int("pending", pending), zap.Error(flushErr))
		flushErr = fmt.Errorf("drain: %w", flushErr)
	}
	var closeErr error
	if err := c.store.Close(); err != nil {
		logger.Error("store close failed", zap.Error(err))
		closeErr = fmt.Errorf("close store: %w", err)
	}
	c.state = StateClosed
	return errors.Join(flushErr, closeErr)
}
