package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BootstrapConsumer makes sure the topic exists before subscribing. Failure
// to create it is logged, not fatal: the broker may auto-create it.
func BootstrapConsumer(ctx context.Context, cfg *ConsumerConfig, spec TopicSpec, logger *zap.Logger) *Consumer {
	if spec.Name == "" {
		spec.Name = cfg.Topic
	}
	if spec.MaxWait <= 0 {
		spec.MaxWait = 5 * time.Second
	}
	_ = EnsureTopic(ctx, cfg.Brokers, spec, logger)

	return NewConsumer(cfg)
}
