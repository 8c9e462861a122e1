package questauth

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lifequest/questauth/credential"
)

// storeDeps are externally owned backend connections handed to the Builder.
type storeDeps struct {
	redis    redis.UniversalClient
	postgres *pgxpool.Pool
}

// openStore builds the configured credential backend. The returned closer
// releases connections the store opened itself; it is nil otherwise.
func openStore(ctx context.Context, cfg Config, deps storeDeps) (credential.Store, func(), error) {
	sc := cfg.Store
	switch sc.Backend {
	case BackendMemory:
		return credential.NewMemoryStore(), nil, nil

	case BackendFile:
		dir, err := cfg.storeDir()
		if err != nil {
			return nil, nil, err
		}
		s, err := credential.NewFileStore(dir, sc.Profile)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil

	case BackendRedis:
		client := deps.redis
		var closer func()
		if client == nil {
			owned := redis.NewClient(&redis.Options{Addr: sc.RedisAddr})
			client = owned
			closer = func() { _ = owned.Close() }
		}
		s := credential.NewRedisStore(client, sc.RedisPrefix, sc.Profile, sc.RedisTTL)
		if _, err := s.Ping(ctx); err != nil {
			if closer != nil {
				closer()
			}
			return nil, nil, err
		}
		return s, closer, nil

	case BackendPostgres:
		pool := deps.postgres
		var closer func()
		if pool == nil {
			owned, err := pgxpool.New(ctx, sc.PostgresDSN)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %v", credential.ErrBackendUnavailable, err)
			}
			pool = owned
			closer = owned.Close
		}
		s := credential.NewPostgresStore(pool, sc.Profile)
		if err := s.Migrate(ctx); err != nil {
			if closer != nil {
				closer()
			}
			return nil, nil, err
		}
		return s, closer, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", sc.Backend)
}
