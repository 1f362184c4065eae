package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/acme/followup-call-service/internal/domain"
)

// ResultPublisher emits finalized call results to the persistence
// collaborator's topic. It implements dialog.ResultSink.
type ResultPublisher struct {
	writer *kafka.Writer
}

// NewResultPublisher constructs a publisher for the given topic.
func NewResultPublisher(k *Kafka, topic string) *ResultPublisher {
	return &ResultPublisher{writer: k.NewWriter(topic)}
}

// EmitResult writes the result message keyed by call id.
func (p *ResultPublisher) EmitResult(ctx context.Context, result domain.CallResult) error {
	value, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("result publisher: marshal: %w", err)
	}

	record := kafka.Message{
		Key:   result.CallID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}

	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("result publisher: write: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *ResultPublisher) Close() error {
	return p.writer.Close()
}
