// Package redis keeps token keys in redis under a common prefix.
// Lets several client processes share one persistent area.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/authsession/internal/apperrors"
)

type Area struct {
	client redis.UniversalClient
	prefix string
}

// New builds area on the client. Prefix is prepended to every key as is.
func New(client redis.UniversalClient, prefix string) *Area {
	return &Area{client: client, prefix: prefix}
}

// Write sets all keys inside MULTI/EXEC
func (a *Area) Write(ctx context.Context, values map[string]string) error {
	pairs := make([]any, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, a.prefix+k, v)
	}

	_, err := a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.MSet(ctx, pairs...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: redis write: %w", apperrors.ErrStorage, err)
	}
	return nil
}

func (a *Area) Read(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	values, err := a.client.MGet(ctx, a.keys(keys)...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis read: %w", apperrors.ErrStorage, err)
	}

	for i, v := range values {
		if s, ok := v.(string); ok {
			out[keys[i]] = s
		}
	}
	return out, nil
}

func (a *Area) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if err := a.client.Del(ctx, a.keys(keys)...).Err(); err != nil {
		return fmt.Errorf("%w: redis delete: %w", apperrors.ErrStorage, err)
	}
	return nil
}

func (a *Area) keys(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = a.prefix + k
	}
	return out
}
