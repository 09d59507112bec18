package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"curator/internal/logging"
)

const defaultWriteTimeout = 10 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaService struct {
	writer  messageWriter
	timeout time.Duration
	logger  *slog.Logger
}

// NewKafka builds a notifier that writes JSON messages to topic. Messages are
// keyed by dataset id and hash-balanced so one dataset always lands on the
// same partition. Writes are asynchronous; delivery failures are logged.
func NewKafka(brokers []string, topic string, timeout time.Duration, logger *slog.Logger) Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           timeout,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err == nil {
				return
			}
			logging.WarnWithContext(logger, "event delivery failed", "event_delivery_failed",
				logging.Int("messages", len(messages)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check events.kafka_brokers and broker availability"),
			)
		},
	}
	return newKafkaService(w, timeout, logger)
}

func newKafkaService(w messageWriter, timeout time.Duration, logger *slog.Logger) *kafkaService {
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &kafkaService{
		writer:  w,
		timeout: timeout,
		logger:  logger.With(logging.String(logging.FieldComponent, "notifications")),
	}
}

func (k *kafkaService) Publish(ctx context.Context, msg Message) error {
	if k == nil || k.writer == nil {
		return nil
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	record := kafka.Message{
		Key:   []byte(msg.DatasetID),
		Value: body,
		Time:  msg.At,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(msg.Event)},
		},
	}

	writeCtx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	for {
		err = k.writer.WriteMessages(writeCtx, record)
		if err == nil || !retriable(err) || !sleep(writeCtx, 100*time.Millisecond) {
			break
		}
	}
	if err == nil {
		return nil
	}
	logging.WarnWithContext(k.logger, "event publish failed", string(msg.Event),
		logging.String(logging.FieldDatasetID, msg.DatasetID),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check events.kafka_brokers and broker availability"),
		logging.String(logging.FieldImpact, "lifecycle event dropped"),
	)
	return fmt.Errorf("publish %s: %w", msg.Event, err)
}

func (k *kafkaService) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

func retriable(err error) bool {
	if errors.Is(err, kafka.LeaderNotAvailable) || errors.Is(err, kafka.NotLeaderForPartition) {
		return true
	}
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return kerr.Temporary()
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
