//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/rassi0429/eew4reso/internal/adapter/kafka"
	"github.com/rassi0429/eew4reso/internal/config"
	"github.com/rassi0429/eew4reso/internal/delivery"
	"github.com/rassi0429/eew4reso/internal/domain"
	"github.com/rassi0429/eew4reso/internal/observability"
	"github.com/rassi0429/eew4reso/internal/pipeline"
	"github.com/rassi0429/eew4reso/internal/policy"
	"github.com/rassi0429/eew4reso/internal/render"
)

const testTopic = "test-eew-raw-alerts"

// --- helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node Kafka in a container and returns its
// broker address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer controllerConn.Close()

	require.NoError(t, controllerConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// loadFixturePayloads returns the checked-in alert fixture, one raw
// payload per line: eight valid alerts across all three encodings plus
// a truncated and an unrecognized entry.
func loadFixturePayloads(t *testing.T) [][]byte {
	t.Helper()

	data, err := os.ReadFile(filepath.Join("..", "..", "data", "fixtures", "eew_alerts.ndjson"))
	require.NoError(t, err)

	var payloads [][]byte
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			payloads = append(payloads, []byte(line))
		}
	}
	require.Len(t, payloads, 10)
	return payloads
}

type sinkPost struct {
	text string
	opts delivery.PostOptions
}

// memorySink records posted notes in place of a real Misskey instance.
type memorySink struct {
	mu    sync.Mutex
	posts []sinkPost
}

func (s *memorySink) Post(_ context.Context, content string, opts delivery.PostOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = append(s.posts, sinkPost{text: content, opts: opts})
	return fmt.Sprintf("note-%d", len(s.posts)), nil
}

func (s *memorySink) TestConnectivity(context.Context) bool { return true }

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

func (s *memorySink) snapshot() []sinkPost {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sinkPost, len(s.posts))
	copy(out, s.posts)
	return out
}

// --- tests ---

// TestKafkaReader verifies the adapter layer: a produced frame comes
// back through ExtractBatch with its coordinates and a working commit
// callback.
func TestKafkaReader(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	cfg := &config.Config{
		KafkaBrokers: []string{broker},
		KafkaTopic:   testTopic,
		KafkaGroupID: fmt.Sprintf("test-reader-%d", time.Now().UnixNano()),
	}

	payload := loadFixturePayloads(t)[0]

	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testTopic}
	t.Cleanup(func() { _ = producer.Close() })

	require.NoError(t, producer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte("alert-0"),
		Value: payload,
	}))

	// Retry because the consumer group may need time to rebalance before
	// partitions are assigned and messages become available.
	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	var batch []domain.RawInbound
	for {
		var err error
		batch, err = reader.ExtractBatch(ctx, 1)
		require.NoError(t, err)
		if len(batch) > 0 {
			break
		}
		if ctx.Err() != nil {
			t.Fatal("timed out waiting for message from source topic")
		}
	}
	require.Len(t, batch, 1)
	raw := batch[0]
	assert.Equal(t, []byte("alert-0"), raw.Key)
	assert.Equal(t, payload, raw.Value)
	assert.Equal(t, testTopic, raw.Topic)
	require.NotNil(t, raw.Commit, "commit callback should be set")
	require.NoError(t, raw.Commit(ctx))

	// The frame as read still normalizes.
	a, err := domain.Normalize(raw.Value)
	require.NoError(t, err)
	assert.True(t, a.Warning)
}

// TestPipelineEndToEnd wires the full chain (Reader → normalize →
// policy → queue → sink) against real Kafka and verifies the mixed
// fixture: eight alerts post, the truncated and unrecognized frames are
// skipped and committed without stalling the loop.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	cfg := &config.Config{
		KafkaBrokers:   []string{broker},
		KafkaTopic:     testTopic,
		KafkaGroupID:   fmt.Sprintf("test-pipeline-%d", time.Now().UnixNano()),
		KafkaBatchSize: 16,
	}

	payloads := loadFixturePayloads(t)

	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testTopic}
	t.Cleanup(func() { _ = producer.Close() })

	msgs := make([]kafkago.Message, 0, len(payloads))
	for i, payload := range payloads {
		msgs = append(msgs, kafkago.Message{
			Key:   []byte(fmt.Sprintf("alert-%d", i)),
			Value: payload,
		})
	}
	require.NoError(t, producer.WriteMessages(ctx, msgs...))

	// Wire up the pipeline with no delivery spacing so every accepted
	// alert posts immediately.
	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	sink := &memorySink{}
	metrics := observability.NewMetricsForTesting()
	queue := delivery.New(sink, render.Note, delivery.Options{Visibility: "home"}, discardLogger(), metrics)
	p := pipeline.New(policy.Policy{IncludeCancellations: true}, queue, discardLogger(), metrics)

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.RunSource(pipelineCtx, reader, cfg.KafkaBatchSize) }()

	require.Eventually(t, func() bool { return sink.count() == 8 },
		90*time.Second, 200*time.Millisecond, "eight fixture alerts should post")

	pipelineCancel()
	require.NoError(t, <-errCh)

	posts := sink.snapshot()
	require.Len(t, posts, 8)

	var withCW, cancellations int
	for _, post := range posts {
		assert.NotEmpty(t, post.text)
		assert.Equal(t, "home", post.opts.Visibility)
		if post.opts.ContentWarning != "" {
			withCW++
		}
		if strings.Contains(post.text, "取消") {
			cancellations++
		}
	}
	assert.Equal(t, 3, withCW, "warning posts carry a content warning")
	assert.Equal(t, 1, cancellations)

	// Single partition, so delivery preserves feed order: the 三陸沖
	// warning posts first.
	assert.Contains(t, posts[0].text, "三陸沖")
	assert.Contains(t, posts[0].text, "M7.1")

	assert.Equal(t, 8, queue.DeliveredCount())
	assert.NoError(t, p.CheckReadiness(context.Background()))
}
