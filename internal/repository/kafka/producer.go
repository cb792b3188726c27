package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ProducerConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type Producer struct {
	w     messageWriter
	topic string
	log   *zap.Logger
}

func NewProducer(cfg ProducerConfig) *Producer {
	wt := cfg.WriteTimeout
	if wt <= 0 {
		wt = 10 * time.Second
	}
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			WriteTimeout:           wt,
			AllowAutoTopicCreation: true,
		},
		topic: cfg.Topic,
		log:   zap.L().With(zap.String("component", "kafka.producer"), zap.String("topic", cfg.Topic)),
	}
}

func (p *Producer) WithLogger(l *zap.Logger) *Producer {
	if l == nil {
		return p
	}
	cp := *p
	cp.log = l.With(zap.String("component", "kafka.producer"), zap.String("topic", p.topic))
	return &cp
}

// Publish writes one message; messages with the same key land on the same
// partition. The current trace context travels in the headers.
func (p *Producer) Publish(ctx context.Context, key, value []byte) error {
	tr := otel.Tracer("kafka.producer")
	ctx, span := tr.Start(ctx, "kafka.produce "+p.topic, trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(p.topic),
			semconv.MessagingOperationPublish,
		),
	)
	defer span.End()

	hdrs := mapCarrierHeaders{}
	otel.GetTextMapPropagator().Inject(ctx, hdrs)

	msg := kafka.Message{Key: key, Value: value, Headers: hdrs.ToKafka()}

	if err := p.w.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		p.log.Error("kafka write failed", zap.Error(err))
		return err
	}
	p.log.Debug("message published",
		zap.Int("key_len", len(key)),
		zap.Int("value_len", len(value)),
	)
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }
