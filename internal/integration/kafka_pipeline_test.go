//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwatch/satveg-collector/internal/adapter/kafka"
	"github.com/fernwatch/satveg-collector/internal/collector"
	"github.com/fernwatch/satveg-collector/internal/config"
	"github.com/fernwatch/satveg-collector/internal/domain"
	"github.com/fernwatch/satveg-collector/internal/observability"
	"github.com/fernwatch/satveg-collector/internal/pipeline"
)

const (
	testRequestTopic = "test-requests"
	testStatusTopic  = "test-status"
)

// statusMessage holds a deserialized message read from the status topic.
type statusMessage struct {
	Outcome collector.Outcome
	Key     string
	Headers map[string]string
}

// readStatus reads a single message from the status consumer and deserializes it.
func readStatus(ctx context.Context, t *testing.T, consumer *kafkago.Reader) statusMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from status topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var outcome collector.Outcome
	require.NoError(t, json.Unmarshal(msg.Value, &outcome), "unmarshal status message")

	return statusMessage{
		Outcome: outcome,
		Key:     string(msg.Key),
		Headers: headers,
	}
}

// stubCollector stands in for the real collector so the integration tests
// exercise only the Kafka adapters and the pipeline loop.
type stubCollector struct{}

func (stubCollector) Collect(_ context.Context, displayName string, lat, lon float64) (collector.Outcome, error) {
	return collector.Outcome{
		RegionID:      domain.DeriveRegionID(lat, lon),
		RegionName:    displayName,
		Mode:          collector.PlanGapFill,
		MonthsPlanned: 2,
		MonthsFilled:  2,
		Summary:       fmt.Sprintf("Collected 2 months for %s", displayName),
		ProcessedAt:   domain.Now(),
	}, nil
}

// TestKafkaReaderWriter verifies the adapter layer: kafka.Reader and
// kafka.Writer correctly round-trip messages through Kafka.
func TestKafkaReaderWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)

	createTopic(t, broker, testRequestTopic)
	createTopic(t, broker, testStatusTopic)

	cfg := &config.Config{
		KafkaBrokers:       []string{broker},
		KafkaRequestTopic:  testRequestTopic,
		KafkaStatusTopic:   testStatusTopic,
		KafkaGroupID:       fmt.Sprintf("test-reader-%d", time.Now().UnixNano()),
		BatchFlushInterval: 5 * time.Second,
	}

	// Publish a collection request to the request topic.
	request := domain.CollectionRequest{UserID: 42, LocationName: "Home", Lat: 52.52, Lon: 13.405}
	payload, err := json.Marshal(request)
	require.NoError(t, err)

	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testRequestTopic,
	}
	t.Cleanup(func() { _ = producer.Close() })

	require.NoError(t, producer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte("42"),
		Value: payload,
	}))

	// Extract via kafka.Reader.
	// Retry because the consumer group may need time to rebalance before
	// partitions are assigned and messages become available.
	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	var batch []domain.RawRequest
	for {
		var err error
		batch, err = reader.ExtractBatch(ctx, 1)
		require.NoError(t, err)
		if len(batch) > 0 {
			break
		}
		if ctx.Err() != nil {
			t.Fatal("timed out waiting for message from request topic")
		}
	}
	require.Len(t, batch, 1)
	raw := batch[0]
	assert.Equal(t, []byte("42"), raw.Key)
	assert.Equal(t, payload, raw.Value)
	assert.Equal(t, testRequestTopic, raw.Topic)
	require.NotNil(t, raw.Commit, "commit callback should be set")

	// Commit the offset.
	require.NoError(t, raw.Commit(ctx))

	// Parse the request and publish an outcome via kafka.Writer.
	parsed, err := domain.ParseCollectionRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, "Home", parsed.LocationName)

	outcome, err := stubCollector{}.Collect(ctx, parsed.LocationName, parsed.Lat, parsed.Lon)
	require.NoError(t, err)

	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	require.NoError(t, writer.PublishOutcome(ctx, outcome))

	// Read from the status topic and verify headers + value.
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testStatusTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	sm := readStatus(ctx, t, consumer)
	assert.Equal(t, "52.520_13.405", sm.Key)
	assert.Equal(t, "gap_fill", sm.Headers["mode"])
	assert.Contains(t, sm.Headers, "processed_at")
	_, err = time.Parse(time.RFC3339, sm.Headers["processed_at"])
	assert.NoError(t, err, "processed_at should be valid RFC3339")

	assert.Equal(t, "52.520_13.405", sm.Outcome.RegionID)
	assert.Equal(t, "Home", sm.Outcome.RegionName)
	assert.Equal(t, 2, sm.Outcome.MonthsFilled)
}

// TestPipelineEndToEnd wires the full request loop (Reader → Collector →
// Writer) with real Kafka and a stub collector, and verifies that every
// request produces a status event.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)

	createTopic(t, broker, testRequestTopic)
	createTopic(t, broker, testStatusTopic)

	cfg := &config.Config{
		KafkaBrokers:       []string{broker},
		KafkaRequestTopic:  testRequestTopic,
		KafkaStatusTopic:   testStatusTopic,
		KafkaGroupID:       fmt.Sprintf("test-pipeline-%d", time.Now().UnixNano()),
		BatchFlushInterval: 5 * time.Second,
	}

	requests := []domain.CollectionRequest{
		{UserID: 1, LocationName: "Home", Lat: 52.52, Lon: 13.405},
		{UserID: 2, LocationName: "Vineyard", Lat: 44.8012, Lon: 0.1538},
		{UserID: 3, LocationName: "Paddy fields", Lat: 10.7769, Lon: 106.7009},
	}

	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testRequestTopic,
	}
	t.Cleanup(func() { _ = producer.Close() })

	msgs := make([]kafkago.Message, 0, len(requests))
	for _, req := range requests {
		payload, err := json.Marshal(req)
		require.NoError(t, err)
		msgs = append(msgs, kafkago.Message{
			Key:   []byte(fmt.Sprintf("%d", req.UserID)),
			Value: payload,
		})
	}
	require.NoError(t, producer.WriteMessages(ctx, msgs...))

	// Wire up the pipeline with a stub collector.
	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(reader, stubCollector{}, writer, nil, discardLogger(), metrics, 50)

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pipelineCtx) }()

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testStatusTopic,
		GroupID:     fmt.Sprintf("test-status-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	received := make(map[string]statusMessage, len(requests))
	for len(received) < len(requests) {
		sm := readStatus(ctx, t, consumer)
		received[sm.Outcome.RegionName] = sm
	}

	pipelineCancel()
	require.NoError(t, <-errCh)

	require.Len(t, received, len(requests))
	for _, req := range requests {
		sm, ok := received[req.LocationName]
		require.True(t, ok, "missing status event for %s", req.LocationName)
		assert.Equal(t, domain.DeriveRegionID(req.Lat, req.Lon), sm.Outcome.RegionID)
		assert.Equal(t, "gap_fill", sm.Headers["mode"])
	}
}

// TestPipelinePoisonPill verifies that a malformed request is skipped and the
// pipeline continues processing valid requests.
func TestPipelinePoisonPill(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)

	createTopic(t, broker, testRequestTopic)
	createTopic(t, broker, testStatusTopic)

	cfg := &config.Config{
		KafkaBrokers:       []string{broker},
		KafkaRequestTopic:  testRequestTopic,
		KafkaStatusTopic:   testStatusTopic,
		KafkaGroupID:       fmt.Sprintf("test-poison-%d", time.Now().UnixNano()),
		BatchFlushInterval: 5 * time.Second,
	}

	validPayload, err := json.Marshal(domain.CollectionRequest{UserID: 42, LocationName: "Home", Lat: 52.52, Lon: 13.405})
	require.NoError(t, err)

	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testRequestTopic,
	}
	t.Cleanup(func() { _ = producer.Close() })

	require.NoError(t, producer.WriteMessages(ctx,
		kafkago.Message{Key: []byte("bad"), Value: []byte("not-json{{{")},
		kafkago.Message{Key: []byte("good"), Value: validPayload},
	))

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(reader, stubCollector{}, writer, nil, discardLogger(), metrics, 50)

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pipelineCtx) }()

	// Only the valid request should produce a status event.
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testStatusTopic,
		GroupID:     fmt.Sprintf("test-status-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	sm := readStatus(ctx, t, consumer)
	assert.Equal(t, "Home", sm.Outcome.RegionName)

	// Verify no second message arrives (the poison pill was skipped).
	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	_, err = consumer.ReadMessage(readCtx)
	readCancel()
	assert.Error(t, err, "expected no second message on status topic")

	pipelineCancel()
	require.NoError(t, <-errCh)
}
