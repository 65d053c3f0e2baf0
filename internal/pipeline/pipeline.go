package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rassi0429/eew4reso/internal/domain"
	"github.com/rassi0429/eew4reso/internal/observability"
	"github.com/rassi0429/eew4reso/internal/policy"
)

// Submitter is the delivery side of the pipeline.
type Submitter interface {
	Submit(ctx context.Context, a domain.Alert) (bool, error)
	LastDelivered() *domain.Alert
}

// BatchExtractor reads up to batchSize raw frames from a source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawInbound, error)
}

// Result is the outcome for a single raw payload. Exactly one of
// Delivered, Queued, a non-empty DropReason, or a non-nil Err holds.
type Result struct {
	Alert      *domain.Alert
	Delivered  bool
	Queued     bool
	DropReason string
	Err        error
}

// BatchReport aggregates per-item results for a multi-payload request.
// Accepted counts items that were delivered, queued, or dropped by
// policy; Failed counts normalization and delivery errors.
type BatchReport struct {
	Results   []Result
	Accepted  int
	Delivered int
	Queued    int
	Dropped   int
	Failed    int
}

// Pipeline runs raw alert payloads through normalization, the posting
// policy, and the delivery queue.
type Pipeline struct {
	policy  policy.Policy
	queue   Submitter
	logger  *slog.Logger
	metrics *observability.Metrics
	ready   atomic.Bool
}

// New creates a Pipeline with the given policy and delivery queue.
func New(pol policy.Policy, queue Submitter, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		policy:  pol,
		queue:   queue,
		logger:  logger,
		metrics: metrics,
	}
}

// CheckReadiness returns nil once the pipeline has normalized at least
// one inbound alert, or an error describing why the service is not yet
// ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any alerts yet")
	}
	return nil
}

// Process runs one raw payload through the full pipeline. Errors are
// classified and counted, never propagated as panics; a sink failure is
// reported in the Result but leaves the pipeline healthy.
func (p *Pipeline) Process(ctx context.Context, raw []byte) Result {
	p.metrics.AlertsReceived.WithLabelValues(domain.DetectEncoding(raw)).Inc()

	a, err := domain.Normalize(raw)
	if err != nil {
		kind := domain.ErrorKind(err)
		p.metrics.NormalizeErrors.WithLabelValues(kind).Inc()
		p.logger.Warn("normalize failed", "error", err, "kind", kind)
		return Result{Err: err}
	}
	p.ready.Store(true)

	deliver, reason := p.policy.ShouldDeliver(a, p.queue.LastDelivered())
	if !deliver {
		p.metrics.AlertsDropped.WithLabelValues(reason).Inc()
		p.logger.Info("alert dropped", "reason", reason, "score", domain.Score(a))
		return Result{Alert: &a, DropReason: reason}
	}

	delivered, err := p.queue.Submit(ctx, a)
	if err != nil {
		return Result{Alert: &a, Err: err}
	}
	return Result{Alert: &a, Delivered: delivered, Queued: !delivered}
}

// ProcessBatch splits a payload into individual alerts and processes
// each in isolation: one malformed item never aborts its siblings. The
// payload may be a single JSON value, a JSON array of values, or
// newline-separated JSON values.
func (p *Pipeline) ProcessBatch(ctx context.Context, payload []byte) BatchReport {
	items := splitPayload(payload)

	start := time.Now()
	report := BatchReport{Results: make([]Result, 0, len(items))}
	for _, item := range items {
		res := p.Process(ctx, item)
		report.Results = append(report.Results, res)
		switch {
		case res.Err != nil:
			report.Failed++
		case res.DropReason != "":
			report.Accepted++
			report.Dropped++
		case res.Delivered:
			report.Accepted++
			report.Delivered++
		default:
			report.Accepted++
			report.Queued++
		}
	}

	if len(items) > 0 {
		p.metrics.BatchSize.Observe(float64(len(items)))
		p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
	}
	return report
}

// RunSource consumes raw frames from a batch source until the context
// is cancelled. Every frame is committed after processing, poison
// frames included, so a bad payload is skipped rather than redelivered
// forever.
func (p *Pipeline) RunSource(ctx context.Context, extractor BatchExtractor, batchSize int) error {
	p.logger.Info("source loop started", "batch_size", batchSize)
	p.metrics.SourceRunning.Set(1)
	defer p.metrics.SourceRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("source loop stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.consumeBatch(ctx, extractor, batchSize, &backoff, maxBackoff) {
			return nil
		}
	}
}

// consumeBatch runs one extract-process-commit cycle. Returns false if
// the source loop should stop.
func (p *Pipeline) consumeBatch(ctx context.Context, extractor BatchExtractor, batchSize int, backoff *time.Duration, maxBackoff time.Duration) bool {
	start := time.Now()

	frames, err := extractor.ExtractBatch(ctx, batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(frames) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.BatchSize.Observe(float64(len(frames)))
	*backoff = 200 * time.Millisecond

	for _, frame := range frames {
		res := p.Process(ctx, frame.Value)
		if res.Err != nil {
			p.logger.Warn("frame processing failed, skipping",
				"error", res.Err,
				"topic", frame.Topic,
				"partition", frame.Partition,
				"offset", frame.Offset,
			)
		}
		p.commitFrame(ctx, frame)
	}

	p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
	return true
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the source loop should stop.
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

// commitFrame commits the frame offset if a commit function is available.
func (p *Pipeline) commitFrame(ctx context.Context, frame domain.RawInbound) {
	if frame.Commit == nil {
		return
	}
	if err := frame.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", frame.Topic, "partition", frame.Partition, "offset", frame.Offset)
	}
}

// splitPayload breaks a request body into individual JSON payloads. A
// top-level array yields its elements; any other valid JSON value is a
// single payload even when pretty-printed across lines; otherwise each
// non-blank line stands alone so one mangled line cannot hide its
// neighbors.
func splitPayload(payload []byte) [][]byte {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil
	}

	if trimmed[0] == '[' {
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err == nil {
			items := make([][]byte, len(elems))
			for i, e := range elems {
				items[i] = []byte(e)
			}
			return items
		}
	}

	if json.Valid(trimmed) {
		return [][]byte{trimmed}
	}

	var items [][]byte
	for _, line := range bytes.Split(trimmed, []byte("\n")) {
		if line = bytes.TrimSpace(line); len(line) > 0 {
			items = append(items, line)
		}
	}
	return items
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
