//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/couchcryptid/accident-risk-service/internal/adapter/kafka"
	"github.com/couchcryptid/accident-risk-service/internal/domain"
	"github.com/couchcryptid/accident-risk-service/internal/model"
	"github.com/couchcryptid/accident-risk-service/internal/observability"
	"github.com/couchcryptid/accident-risk-service/internal/risk"
	"github.com/couchcryptid/accident-risk-service/internal/store"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

const kafkaImage = "confluentinc/confluent-local:7.5.0"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, kafkaImage, tckafka.WithClusterID("accident-risk-test"))
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "start kafka container")

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
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

type feedMessage struct {
	Record  domain.AccidentRecord
	Key     string
	Headers map[string]string
}

func readFeed(ctx context.Context, t *testing.T, consumer *kafkago.Reader) feedMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from report topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var rec domain.AccidentRecord
	require.NoError(t, json.Unmarshal(msg.Value, &rec), "unmarshal report")
	return feedMessage{Record: rec, Key: string(msg.Key), Headers: headers}
}

func newConsumer(broker, topic string) *kafkago.Reader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       topic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
}

// TestReportFeed verifies that an accepted report is persisted and then
// appears on the report topic with its key and headers.
func TestReportFeed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	const topic = "accident-reports-test"
	createTopic(t, broker, topic)

	seed := []domain.AccidentRecord{
		{PlaceName: "Esplanade", Lat: 22.5646, Lon: 88.3508, Severity: domain.SeverityMedium,
			TimeFrame: domain.SlotEvening, Date: "2024-01-10", Time: "18:30", Source: domain.SourceDataset},
		{PlaceName: "Park Street", Lat: 22.5535, Lon: 88.3516, Severity: domain.SeverityHigh,
			TimeFrame: domain.SlotMorning, Date: "2024-01-11", Time: "09:15", Source: domain.SourceDataset},
		{PlaceName: "Salt Lake", Lat: 22.5867, Lon: 88.4171, Severity: domain.SeverityLow,
			TimeFrame: domain.SlotAfternoon, Date: "2024-01-12", Time: "14:00", Source: domain.SourceDataset},
	}
	path := filepath.Join(t.TempDir(), "accidents.csv")
	s := store.New(path, seed, discardLogger())
	require.NoError(t, s.Save())

	artifact, err := model.TrainSeverity(model.SeveritySamples(seed), model.TrainOptions{Version: "it", Seed: 1})
	require.NoError(t, err)
	m, err := model.New(artifact)
	require.NoError(t, err)

	publisher := kafka.NewPublisher([]string{broker}, topic, discardLogger())
	t.Cleanup(func() { _ = publisher.Close() })

	ist := time.FixedZone("IST", 5*3600+1800)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 4, 26, 12, 40, 0, 0, time.UTC))
	svc := risk.NewService(s, m, store.NewGazetteer(s), discardLogger(), observability.NewMetricsForTesting(),
		risk.WithPublisher(publisher), risk.WithClock(clock), risk.WithLocation(ist))

	rec, err := svc.Submit(ctx, "Esplanade", "5-8 PM", "Low")
	require.NoError(t, err)

	consumer := newConsumer(broker, topic)
	t.Cleanup(func() { _ = consumer.Close() })

	fm := readFeed(ctx, t, consumer)
	assert.Equal(t, "esplanade", fm.Key)
	assert.Equal(t, "user", fm.Headers["source"])
	reportedAt, err := time.Parse(time.RFC3339, fm.Headers["reported_at"])
	require.NoError(t, err, "reported_at should be valid RFC3339")
	assert.True(t, reportedAt.Equal(rec.ReportedAt))

	assert.Equal(t, "2024-04-26", fm.Record.Date)
	assert.Equal(t, "18:10", fm.Record.Time)
	if diff := cmp.Diff(rec, fm.Record); diff != "" {
		t.Fatalf("feed record mismatch (-submitted +published):\n%s", diff)
	}

	// The report was persisted before it was published.
	reopened, err := store.Open(path, discardLogger())
	require.NoError(t, err)
	assert.Len(t, reopened.Records(), len(seed)+1)
}

// TestReportFeed_SamePlaceSamePartitionOrder publishes several reports for one
// place and checks they are read back in submission order.
func TestReportFeed_SamePlaceSamePartitionOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	const topic = "accident-reports-order"
	createTopic(t, broker, topic)

	publisher := kafka.NewPublisher([]string{broker}, topic, discardLogger())
	t.Cleanup(func() { _ = publisher.Close() })

	base := time.Date(2024, 4, 26, 8, 0, 0, 0, time.UTC)
	severities := []domain.Severity{domain.SeverityLow, domain.SeverityHigh, domain.SeverityMedium}
	for i, sev := range severities {
		require.NoError(t, publisher.PublishReport(ctx, domain.AccidentRecord{
			PlaceName:  "Howrah Bridge",
			Lat:        22.5851,
			Lon:        88.3468,
			Severity:   sev,
			TimeFrame:  domain.SlotMorning,
			Date:       "2024-04-26",
			Time:       base.Add(time.Duration(i) * time.Minute).Format("15:04"),
			Source:     domain.SourceUser,
			ReportedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	consumer := newConsumer(broker, topic)
	t.Cleanup(func() { _ = consumer.Close() })

	for _, want := range severities {
		fm := readFeed(ctx, t, consumer)
		assert.Equal(t, "howrah bridge", fm.Key)
		assert.Equal(t, want, fm.Record.Severity)
	}
}
