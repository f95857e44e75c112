package ratelimit

import (
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// Backend names accepted by NewBackend
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// NewBackend picks the counter store named by backend
func NewBackend(backend string, postgres *sqlx.DB, client redis.Scripter) (Store, error) {
	switch backend {
	case BackendPostgres:
		if postgres == nil {
			return nil, errors.New("postgres rate-limit backend needs a database")
		}
		return NewPostgresStore(postgres), nil
	case BackendRedis:
		if client == nil {
			return nil, errors.New("redis rate-limit backend needs REDIS_URL")
		}
		return NewRedisStore(client), nil
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown rate-limit backend %q", backend)
	}
}
