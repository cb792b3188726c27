// Package memory holds in-process implementations of the storage ports. They
// back unit tests and single-node development runs; nothing here survives a
// restart.
package memory

import (
	"context"
	"sync"
)

type txMarker struct{}

// Transactor serializes transactions. It is reentrant: a nested WithTx on a
// context already inside a transaction runs inline. There is no rollback,
// so callers must do their conditional writes before unconditional ones.
type Transactor struct {
	mu sync.Mutex
}

func NewTransactor() *Transactor { return &Transactor{} }

func (t *Transactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txMarker{}) != nil {
		return fn(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(context.WithValue(ctx, txMarker{}, true))
}
