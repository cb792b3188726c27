package outbox

import (
	"context"
	"time"
)

type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
)

type Kind int

const (
	KindPasswordChanged Kind = 1
	KindSessionReuse    Kind = 2
	KindAccountLocked   Kind = 3
)

type Message struct {
	IdempotencyKey string
	Kind           Kind
	Data           []byte
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Tracestate     string
	Traceparent    string
	Baggage        string
}

type Repository interface {
	Enqueue(ctx context.Context, key string, kind Kind, data []byte) error

	PickBatch(ctx context.Context, batch int, inProgressTTL time.Duration) ([]Message, error)

	MarkSuccess(ctx context.Context, keys []string) error
}

type KindHandler func(ctx context.Context, data []byte) error

type GlobalHandler func(kind Kind) (KindHandler, error)
