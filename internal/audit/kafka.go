package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type KafkaRecorder struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaRecorder(brokers []string, topic string, logger *zap.Logger) *KafkaRecorder {
	return &KafkaRecorder{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
		logger: logger,
	}
}

func (r *KafkaRecorder) Record(ctx context.Context, evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		r.logger.Error("audit event marshal failed", zap.Error(err))
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(evt.RecordID),
		Value: payload,
	}); err != nil {
		r.logger.Error("audit event publish failed",
			zap.String("kind", evt.Kind),
			zap.String("record_id", evt.RecordID),
			zap.Error(err))
	}
}

func (r *KafkaRecorder) Close() error {
	return r.writer.Close()
}
