package kafka

import (
	"context"
	"encoding/json"
	"fmt"
)

// JSONHandler decodes each message value into a fresh T before calling handle.
func JSONHandler[T any](handle func(ctx context.Context, key []byte, v T) error) Handler {
	return func(ctx context.Context, key, value []byte) error {
		var v T
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("decode %T: %w", v, err)
		}
		return handle(ctx, key, v)
	}
}
