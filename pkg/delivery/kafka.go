package delivery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"crconsync/pkg/logger"
	"crconsync/pkg/metrics"
	"crconsync/pkg/model"
	"crconsync/pkg/retry"
)

// DefaultKafkaBatchBytes bounds one payload message. Brokers must accept messages this large.
const DefaultKafkaBatchBytes = 64 << 20

// MessageWriter is the part of *kafka.Writer the sender needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures a KafkaSender.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
}

// KafkaSender publishes each payload as a single message keyed by server id. Writes are
// synchronous and wait for all in-sync replicas, so a nil error means the payload is durable.
type KafkaSender struct {
	writer MessageWriter
	cfg    KafkaConfig
	logger *logger.Logger
}

// NewKafkaSender returns a sender writing to cfg.Topic.
func NewKafkaSender(cfg KafkaConfig, l *logger.Logger) *KafkaSender {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchBytes:             DefaultKafkaBatchBytes,
		WriteTimeout:           cfg.WriteTimeout,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}
	return NewKafkaSenderWithWriter(w, cfg, l)
}

// NewKafkaSenderWithWriter returns a sender using w.
func NewKafkaSenderWithWriter(w MessageWriter, cfg KafkaConfig, l *logger.Logger) *KafkaSender {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &KafkaSender{writer: w, cfg: cfg, logger: l.Named("delivery")}
}

func (k *KafkaSender) Target() string {
	return "kafka://" + strings.Join(k.cfg.Brokers, ",") + "/" + k.cfg.Topic
}

// Deliver implements Sender.
func (k *KafkaSender) Deliver(ctx context.Context, payload model.Payload) error {
	counts := payload.Counts()
	if counts.Total() == 0 {
		k.logger.Info("no new data to export")
		return nil
	}

	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(payload.ServerID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "records", Value: []byte(strconv.Itoa(counts.Total()))},
		},
	}

	attempts := 0
	err = retry.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		start := time.Now()
		err := k.writer.WriteMessages(ctx, msg)
		metrics.DeliveryLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.DeliveryAttemptsTotal.WithLabelValues("kafka_error").Inc()
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			return err
		}
		metrics.DeliveryAttemptsTotal.WithLabelValues("success").Inc()
		return nil
	}, retry.RetryOptions{
		MaxAttempts: k.cfg.MaxRetries,
		Backoff: func(int, error) time.Duration {
			return k.cfg.RetryDelay
		},
		OnRetry: func(attempt int, err error, wait time.Duration) {
			k.logger.Warn("kafka write failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		},
	})
	if err == nil {
		k.logger.Info("payload published",
			zap.String("topic", k.cfg.Topic),
			zap.Int("records", counts.Total()),
			zap.Int("bytes", len(value)))
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("delivery interrupted: %w", err)
	}

	f := &Failure{Attempts: attempts, Reason: err}
	k.logger.Error("export failed", f, zap.Int("attempts", attempts))
	return f
}

func (k *KafkaSender) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
