package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/tidal-current-service/internal/domain"
	"github.com/couchcryptid/tidal-current-service/internal/observability"
)

// BatchExtractor reads up to batchSize build requests from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Transformer turns a build request into its result event.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, error)
}

// BatchLoader writes multiple result events to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, events []domain.OutputEvent) error
}

// Pipeline consumes build requests, runs them and publishes the results.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
	batchSize   int
	lanes       int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConcurrency lets up to n requests with different keys build at once.
// Requests sharing a key always run in arrival order. Default 1.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) { p.lanes = max(n, 1) }
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		batchSize:   max(batchSize, 1),
		lanes:       1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil once the pipeline has published at least one
// build result.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any build requests yet")
	}
	return nil
}

// Ready reports whether a result has been published.
func (p *Pipeline) Ready() bool { return p.ready.Load() }

// Run consumes build requests until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("build pipeline started", "batch_size", p.batchSize, "concurrency", p.lanes)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("build pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff) {
			return nil
		}
	}
}

// Transport failures back off from 200ms, doubling up to 5s.
const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// processBatch runs one extract-build-publish cycle. Returns false if the
// pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration) bool {
	start := time.Now()

	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff)
	}
	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.RequestsConsumed.Add(float64(len(rawBatch)))
	p.metrics.BatchSize.Observe(float64(len(rawBatch)))
	*backoff = initialBackoff

	loaded, ok := p.transformAndLoad(ctx, rawBatch, backoff)
	if !ok {
		return false
	}
	if loaded > 0 {
		p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
		p.ready.Store(true)
	}
	return true
}

// transformAndLoad builds each request, publishes the results and commits
// offsets. Requests that cannot be parsed are logged and committed. Returns
// the number of published results and false if the pipeline should stop.
func (p *Pipeline) transformAndLoad(ctx context.Context, rawBatch []domain.RawEvent, backoff *time.Duration) (int, bool) {
	results := p.transformAll(ctx, rawBatch)
	outBatch := make([]domain.OutputEvent, 0, len(rawBatch))
	built := make([]domain.RawEvent, 0, len(rawBatch))

	for i, raw := range rawBatch {
		out, err := results[i].out, results[i].err
		if err != nil {
			if ctx.Err() != nil {
				return 0, false
			}
			p.logger.Warn("invalid build request, skipping",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.RequestErrors.Inc()
			p.commitOffset(ctx, raw)
			continue
		}
		outBatch = append(outBatch, out)
		built = append(built, raw)
	}

	if len(outBatch) == 0 {
		return 0, true
	}

	if err := p.loader.LoadBatch(ctx, outBatch); err != nil {
		p.logger.Error("publish build results failed", "error", err, "batch_size", len(outBatch))
		return 0, p.backoffOrStop(ctx, backoff)
	}
	p.metrics.ResultsProduced.Add(float64(len(outBatch)))

	for _, raw := range built {
		p.commitOffset(ctx, raw)
	}
	return len(outBatch), true
}

type transformed struct {
	out domain.OutputEvent
	err error
}

// transformAll runs the transformer over the batch. Events are split into
// lanes by key; lanes run concurrently up to the configured limit and each
// lane runs its events in order. Results keep batch order.
func (p *Pipeline) transformAll(ctx context.Context, rawBatch []domain.RawEvent) []transformed {
	results := make([]transformed, len(rawBatch))
	if p.lanes == 1 {
		for i, raw := range rawBatch {
			results[i].out, results[i].err = p.transformer.Transform(ctx, raw)
		}
		return results
	}

	var order []string
	lanes := make(map[string][]int)
	for i, raw := range rawBatch {
		k := string(raw.Key)
		if _, seen := lanes[k]; !seen {
			order = append(order, k)
		}
		lanes[k] = append(lanes[k], i)
	}

	var g errgroup.Group
	g.SetLimit(p.lanes)
	for _, k := range order {
		idx := lanes[k]
		g.Go(func() error {
			for _, i := range idx {
				results[i].out, results[i].err = p.transformer.Transform(ctx, rawBatch[i])
			}
			return nil
		})
	}
	_ = g.Wait() // lanes report through results
	return results
}

// backoffOrStop sleeps for the current backoff and advances it. Returns false
// if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, limit time.Duration) time.Duration {
	return min(current*2, limit)
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
