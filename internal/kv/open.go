package kv

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/gabrielee5/grafo-sub000/internal/infra"
)

// Backend is an opened store plus whatever must be closed with it.
type Backend struct {
	Store Store
	// Redis is set for the redis backend so callers can share the client.
	Redis redis.UniversalClient
	close func()
}

func (b *Backend) Close() {
	if b != nil && b.close != nil {
		b.close()
	}
}

// Open connects the backend selected by KV_BACKEND.
func Open(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Backend, error) {
	switch cfg.KVBackend {
	case "memory":
		logger.Warn().Msg("kv: using in-memory store, data is lost on restart")
		return &Backend{Store: NewMemoryStore()}, nil
	case "redis":
		client, err := infra.NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Store: NewRedisStore(client, cfg.KVPrefix),
			Redis: client,
			close: func() { _ = client.Close() },
		}, nil
	case "postgres":
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		runner := infra.NewSQLRunner(pool, logger.With().Str("component", "kv").Logger())
		return &Backend{Store: NewPostgresStore(runner, cfg.KVPrefix), close: pool.Close}, nil
	}
	return nil, fmt.Errorf("kv: unsupported backend %q", cfg.KVBackend)
}
