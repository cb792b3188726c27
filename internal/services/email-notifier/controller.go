// Package notifier turns security notification events into email.
package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/NordCoder/Gatekeeper/internal/domain/notification"
	kafkax "github.com/NordCoder/Gatekeeper/internal/repository/kafka"
)

type subscriber interface {
	Consume(ctx context.Context, h kafkax.Handler) error
}

type Controller struct {
	Log *zap.Logger
	Sub subscriber
	UC  *Handler
}

func (c *Controller) Run(ctx context.Context) error {
	return c.Sub.Consume(ctx, kafkax.JSONHandler(func(ctx context.Context, _ []byte, ev notification.Event) error {
		return c.UC.HandleEvent(ctx, ev)
	}))
}
