package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"ms-commerce-sync/internal/logger"
	"ms-commerce-sync/internal/models"
)

type Consumer struct {
	reader *kafka.Reader
	log    *logger.Logger
}

// NewConsumer creates a consumer for the resync-jobs topic in the given group.
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, log: log}
}

// Start consumes resync jobs until the context is cancelled. A handler error
// is logged and the loop continues; the job is not re-queued (the next
// reconciliation run re-dispatches if the window still mismatches).
func (c *Consumer) Start(ctx context.Context, handler func(ctx context.Context, job models.ResyncJob) error) error {
	c.log.LogKafka("START", c.reader.Config().Topic, "resync consumer started")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			c.log.Error("KAFKA", fmt.Sprintf("read message: %v", err))
			continue
		}

		var job models.ResyncJob
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			c.log.Error("KAFKA", fmt.Sprintf("unmarshal resync job: %v", err))
			continue
		}

		c.log.LogKafka("RECEIVE", c.reader.Config().Topic, fmt.Sprintf("resync job %s: %s %s", job.ID, job.Source, job.Date))
		if err := handler(ctx, job); err != nil {
			c.log.Error("KAFKA", fmt.Sprintf("resync job %s failed: %v", job.ID, err))
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
