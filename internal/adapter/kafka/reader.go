package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/rassi0429/eew4reso/internal/config"
	"github.com/rassi0429/eew4reso/internal/domain"
)

// How long one ExtractBatch call waits for the first frame before
// returning an empty batch, and how long it keeps draining once frames
// are flowing.
const (
	pollWait  = time.Second
	drainWait = 100 * time.Millisecond
)

// Reader consumes raw alert frames from a Kafka topic as part of a
// consumer group. It implements pipeline.BatchExtractor.
type Reader struct {
	reader *kafkago.Reader
	logger *slog.Logger
}

// NewReader creates a consumer-group reader for the configured source topic.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaTopic,
		GroupID:     cfg.KafkaGroupID,
		StartOffset: kafkago.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     pollWait,
	})
	return &Reader{reader: r, logger: logger}
}

// ExtractBatch fetches up to batchSize frames. It blocks for at most
// pollWait waiting for the first frame; an empty batch with a nil error
// means the topic is currently quiet. Each frame carries a Commit
// callback bound to its offset.
func (r *Reader) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawInbound, error) {
	if batchSize < 1 {
		batchSize = 1
	}

	frames := make([]domain.RawInbound, 0, batchSize)
	wait := pollWait
	for len(frames) < batchSize {
		fetchCtx, cancel := context.WithTimeout(ctx, wait)
		msg, err := r.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return frames, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return frames, fmt.Errorf("fetch message: %w", err)
		}

		raw := mapMessageToRawInbound(msg)
		raw.Commit = func(ctx context.Context) error {
			return r.reader.CommitMessages(ctx, msg)
		}
		frames = append(frames, raw)
		wait = drainWait
	}

	if len(frames) > 0 {
		r.logger.Debug("fetched batch", "frames", len(frames))
	}
	return frames, nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

// mapMessageToRawInbound converts a Kafka message into the pipeline's
// raw frame shape. The Commit callback is attached by the caller.
func mapMessageToRawInbound(msg kafkago.Message) domain.RawInbound {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return domain.RawInbound{
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}
}
