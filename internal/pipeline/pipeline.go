// Package pipeline runs the request loop: extract collection requests in
// batches, run a collection for each, publish status, and commit offsets.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fernwatch/satveg-collector/internal/collector"
	"github.com/fernwatch/satveg-collector/internal/domain"
	"github.com/fernwatch/satveg-collector/internal/observability"
)

// BatchExtractor reads up to batchSize raw requests from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawRequest, error)
}

// RegionCollector brings one region's monthly observations up to date.
type RegionCollector interface {
	Collect(ctx context.Context, displayName string, lat, lon float64) (collector.Outcome, error)
}

// StatusPublisher reports collection outcomes to interested consumers.
type StatusPublisher interface {
	PublishOutcome(ctx context.Context, outcome collector.Outcome) error
}

// Pipeline orchestrates the request processing loop.
type Pipeline struct {
	extractor BatchExtractor
	collector RegionCollector
	publisher StatusPublisher // nil when status events are disabled
	geocoder  domain.Geocoder // nil when reverse geocoding is disabled
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	batchSize int
}

// New creates a Pipeline with the given stages and observability. publisher
// and geocoder may be nil.
func New(e BatchExtractor, c RegionCollector, p StatusPublisher, g domain.Geocoder, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor: e,
		collector: c,
		publisher: p,
		geocoder:  g,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// CheckReadiness returns nil if the pipeline has processed at least one
// request, or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any requests yet")
	}
	return nil
}

// Run executes the request loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one extract-collect-commit cycle. Returns false if the
// pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	batch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(batch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.RequestsConsumed.Add(float64(len(batch)))
	p.metrics.BatchSize.Observe(float64(len(batch)))
	*backoff = 200 * time.Millisecond

	for _, raw := range batch {
		ok, retriable := p.processRequest(ctx, raw)
		if !ok && retriable {
			return p.backoffOrStop(ctx, backoff, maxBackoff)
		}
		if ctx.Err() != nil {
			return false
		}
	}
	return true
}

// processRequest handles one raw request end to end. The first return value
// reports success; the second marks failures that should be retried rather
// than skipped, in which case the offset stays uncommitted.
func (p *Pipeline) processRequest(ctx context.Context, raw domain.RawRequest) (ok, retriable bool) {
	req, err := domain.ParseCollectionRequest(raw)
	if err != nil {
		p.logger.Warn("malformed request skipped",
			"error", err,
			"topic", raw.Topic,
			"partition", raw.Partition,
			"offset", raw.Offset,
		)
		p.metrics.RequestErrors.Inc()
		p.commitOffset(ctx, raw)
		return false, false
	}

	displayName := req.LocationName
	if displayName == "" {
		displayName = domain.ResolveDisplayName(ctx, p.geocoder, req.Lat, req.Lon, p.logger)
	}

	start := time.Now()
	outcome, err := p.collector.Collect(ctx, displayName, req.Lat, req.Lon)
	p.metrics.CollectionDuration.Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, collector.ErrNoData):
		p.logger.Warn("collection yielded no data",
			"region_id", outcome.RegionID, "user_id", req.UserID)
	case err != nil:
		if ctx.Err() != nil {
			return false, false
		}
		p.logger.Error("collection failed",
			"error", err, "region_id", outcome.RegionID, "user_id", req.UserID)
		return false, true
	}

	p.publishStatus(ctx, outcome)
	p.commitOffset(ctx, raw)
	p.ready.Store(true)
	return err == nil, false
}

// publishStatus emits the outcome on a best-effort basis; failures never
// block the request.
func (p *Pipeline) publishStatus(ctx context.Context, outcome collector.Outcome) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishOutcome(ctx, outcome); err != nil {
		p.logger.Warn("status publish failed", "error", err, "region_id", outcome.RegionID)
	}
}

// commitOffset commits the request offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawRequest) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
