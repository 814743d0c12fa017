package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"

	"ms-commerce-sync/internal/logger"
	"ms-commerce-sync/internal/models"
)

// JobPublisher is what the reconciliation engine depends on; the mock
// implementation backs tests and KAFKA_MOCK_MODE deployments.
type JobPublisher interface {
	PublishResyncJob(ctx context.Context, job models.ResyncJob) error
	Close() error
}

type Producer struct {
	Writer *kafka.Writer
	log    *logger.Logger
}

func NewProducer(brokers []string, topic string, log *logger.Logger) *Producer {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: brokers,
		Topic:   topic,
	})
	return &Producer{Writer: writer, log: log}
}

// PublishResyncJob dispatches one re-ingestion command, keyed by source so a
// partitioned topic keeps per-source ordering.
func (p *Producer) PublishResyncJob(ctx context.Context, job models.ResyncJob) error {
	msgBytes, err := json.Marshal(job)
	if err != nil {
		return err
	}

	p.log.LogKafka("PUBLISH", p.Writer.Topic, fmt.Sprintf("resync job %s: %s %s", job.ID, job.Source, job.Date))

	return p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(job.Source),
		Value: msgBytes,
	})
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}

// MockProducer records published jobs in memory. Used by tests and when
// KAFKA_MOCK_MODE is enabled in environments without a broker.
type MockProducer struct {
	mu   sync.Mutex
	Jobs []models.ResyncJob
	log  *logger.Logger
}

func NewMockProducer(log *logger.Logger) *MockProducer {
	return &MockProducer{log: log}
}

func (m *MockProducer) PublishResyncJob(_ context.Context, job models.ResyncJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Jobs = append(m.Jobs, job)
	if m.log != nil {
		m.log.LogKafka("MOCK", "resync-jobs", fmt.Sprintf("recorded job %s: %s %s", job.ID, job.Source, job.Date))
	}
	return nil
}

func (m *MockProducer) Close() error { return nil }

// Published returns a copy of the recorded jobs.
func (m *MockProducer) Published() []models.ResyncJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ResyncJob, len(m.Jobs))
	copy(out, m.Jobs)
	return out
}
