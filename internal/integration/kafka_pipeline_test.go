//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/tidal-current-service/internal/adapter/kafka"
	"github.com/couchcryptid/tidal-current-service/internal/builder"
	"github.com/couchcryptid/tidal-current-service/internal/cachefile"
	"github.com/couchcryptid/tidal-current-service/internal/config"
	"github.com/couchcryptid/tidal-current-service/internal/domain"
	"github.com/couchcryptid/tidal-current-service/internal/observability"
	"github.com/couchcryptid/tidal-current-service/internal/pipeline"
	"github.com/couchcryptid/tidal-current-service/internal/source/sourcetest"
)

const (
	testRequestTopic = "test-requests"
	testResultTopic  = "test-results"
)

type resultMessage struct {
	Result  domain.BuildResult
	Key     string
	Headers map[string]string
}

func readResult(ctx context.Context, t *testing.T, consumer *kafkago.Reader) resultMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from result topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var res domain.BuildResult
	require.NoError(t, json.Unmarshal(msg.Value, &res), "unmarshal build result")
	return resultMessage{Result: res, Key: string(msg.Key), Headers: headers}
}

func testConfig(broker, group string) *config.Config {
	return &config.Config{
		KafkaBrokers:       []string{broker},
		KafkaRequestTopic:  testRequestTopic,
		KafkaResultTopic:   testResultTopic,
		KafkaGroupID:       fmt.Sprintf("%s-%d", group, time.Now().UnixNano()),
		BatchFlushInterval: 2 * time.Second,
	}
}

func resultConsumer(broker string) *kafkago.Reader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testResultTopic,
		GroupID:     fmt.Sprintf("test-results-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
}

func runPipeline(ctx context.Context, t *testing.T, cfg *config.Config, cacheDir string) (cancel func()) {
	t.Helper()
	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	metrics := observability.NewMetricsForTesting()
	b := builder.New(cachefile.WriterOptions{Compression: cachefile.CompressionZSTD, Workers: 2}, discardLogger(), metrics)
	svc := pipeline.NewBuildService(b, cacheDir, nil, discardLogger(), metrics)
	p := pipeline.New(reader, pipeline.NewBuildTransformer(svc), writer, discardLogger(), metrics, 10,
		pipeline.WithConcurrency(2))

	pctx, pcancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pctx) }()
	return func() {
		pcancel()
		require.NoError(t, <-errCh)
	}
}

// TestKafkaReaderWriter round-trips one request and one result through the
// adapters without running the pipeline.
func TestKafkaReaderWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testRequestTopic)
	createTopic(t, broker, testResultTopic)
	cfg := testConfig(broker, "test-reader")

	payload := []byte(`{"dataset":"bay","source":"/data/bay.nc"}`)
	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testRequestTopic}
	t.Cleanup(func() { _ = producer.Close() })
	require.NoError(t, producer.WriteMessages(ctx, kafkago.Message{Key: []byte("bay"), Value: payload}))

	// The consumer group may need a rebalance before partitions are assigned.
	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	var batch []domain.RawEvent
	for len(batch) == 0 {
		var err error
		batch, err = reader.ExtractBatch(ctx, 1)
		require.NoError(t, err)
	}
	require.Len(t, batch, 1)
	raw := batch[0]
	assert.Equal(t, []byte("bay"), raw.Key)
	assert.Equal(t, payload, raw.Value)
	assert.Equal(t, testRequestTopic, raw.Topic)
	require.NotNil(t, raw.Commit)
	require.NoError(t, raw.Commit(ctx))

	out, err := domain.SerializeBuildResult(domain.BuildResult{
		ID:         "b-1",
		Dataset:    "bay",
		Status:     domain.StatusSkipped,
		FinishedAt: time.Date(2024, 4, 26, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })
	require.NoError(t, writer.LoadBatch(ctx, []domain.OutputEvent{out}))

	consumer := resultConsumer(broker)
	t.Cleanup(func() { _ = consumer.Close() })

	rm := readResult(ctx, t, consumer)
	assert.Equal(t, "bay", rm.Key)
	assert.Equal(t, "skipped", rm.Headers["status"])
	assert.Equal(t, "2024-04-26T00:00:00Z", rm.Headers["finished_at"])
	assert.Equal(t, "b-1", rm.Result.ID)
}

// TestPipelineBuildsCaches wires Reader, BuildTransformer and Writer against
// real Kafka and checks that every request yields a result and a cache.
func TestPipelineBuildsCaches(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testRequestTopic)
	createTopic(t, broker, testResultTopic)
	cfg := testConfig(broker, "test-pipeline")

	srcDir, cacheDir := t.TempDir(), t.TempDir()
	datasets := map[string]sourcetest.Options{
		"gulf":    {NTides: 4, NLocs: 30},
		"sound":   {NTides: 6, NLocs: 12, Transposed: true},
		"estuary": {NTides: 3, NLocs: 9, Location: domain.LocationFace, FaceCoordinates: true},
	}

	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testRequestTopic}
	t.Cleanup(func() { _ = producer.Close() })
	var msgs []kafkago.Message
	for name, opts := range datasets {
		path := filepath.Join(srcDir, name+".nc")
		_, err := sourcetest.Write(path, opts)
		require.NoError(t, err)
		payload, err := json.Marshal(domain.BuildRequest{Dataset: name, Source: path})
		require.NoError(t, err)
		msgs = append(msgs, kafkago.Message{Key: []byte(name), Value: payload})
	}
	require.NoError(t, producer.WriteMessages(ctx, msgs...))

	stop := runPipeline(ctx, t, cfg, cacheDir)

	consumer := resultConsumer(broker)
	t.Cleanup(func() { _ = consumer.Close() })

	received := map[string]domain.BuildResult{}
	for len(received) < len(datasets) {
		rm := readResult(ctx, t, consumer)
		assert.Equal(t, rm.Result.Dataset, rm.Key)
		received[rm.Key] = rm.Result
	}
	stop()

	for name, opts := range datasets {
		res := received[name]
		assert.Equal(t, domain.StatusBuilt, res.Status, name)
		assert.Equal(t, opts.NTides, res.NTides, name)
		assert.Equal(t, opts.NLocs, res.NLocs, name)
		assert.Equal(t, opts.Transposed, res.Transposed, name)
		_, err := os.Stat(pipeline.CachePath(cacheDir, name))
		assert.NoError(t, err, name)
	}
	assert.Equal(t, domain.LocationFace, received["estuary"].Location)
}

// TestPipelinePoisonPill verifies that an unparseable request is skipped and a
// bad source yields a failed result, while a valid request still builds.
func TestPipelinePoisonPill(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testRequestTopic)
	createTopic(t, broker, testResultTopic)
	cfg := testConfig(broker, "test-poison")

	srcDir, cacheDir := t.TempDir(), t.TempDir()
	good := filepath.Join(srcDir, "good.nc")
	_, err := sourcetest.Write(good, sourcetest.Options{})
	require.NoError(t, err)

	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testRequestTopic}
	t.Cleanup(func() { _ = producer.Close() })
	require.NoError(t, producer.WriteMessages(ctx,
		kafkago.Message{Key: []byte("junk"), Value: []byte("not-json{{{")},
		kafkago.Message{Key: []byte("missing"), Value: []byte(`{"dataset":"missing","source":"` + filepath.Join(srcDir, "nope.nc") + `"}`)},
		kafkago.Message{Key: []byte("good"), Value: []byte(`{"dataset":"good","source":"` + good + `"}`)},
	))

	stop := runPipeline(ctx, t, cfg, cacheDir)

	consumer := resultConsumer(broker)
	t.Cleanup(func() { _ = consumer.Close() })

	first := readResult(ctx, t, consumer)
	second := readResult(ctx, t, consumer)
	assert.Equal(t, "missing", first.Key)
	assert.Equal(t, domain.StatusFailed, first.Result.Status)
	assert.Equal(t, "good", second.Key)
	assert.Equal(t, domain.StatusBuilt, second.Result.Status)

	// The junk request produced nothing.
	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	_, err = consumer.ReadMessage(readCtx)
	readCancel()
	assert.Error(t, err, "expected no third result")

	stop()
}
