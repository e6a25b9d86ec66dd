package sdk

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gaborage/vkflow/config"
	"github.com/gaborage/vkflow/token"
)

// NewStorage opens the token backend selected by cfg.Type. The returned closer
// is nil when there is nothing to release. SQL drivers must be registered by
// the caller.
func NewStorage(ctx context.Context, cfg config.TokenStoreConfig) (token.Storage, func(context.Context) error, error) {
	switch cfg.Type {
	case config.StoreMemory, "":
		return token.NewMemoryStorage(), nil, nil

	case config.StoreFile:
		st, err := token.NewFileStorage(cfg.Path)
		if err != nil {
			return nil, nil, wrapStoreErr(cfg.Type, err)
		}
		return st, nil, nil

	case config.StoreRedis:
		st, err := token.NewRedisStorage(ctx, token.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, nil, wrapStoreErr(cfg.Type, err)
		}
		return st, func(context.Context) error { return st.Close() }, nil

	case config.StoreSQL:
		db, err := sql.Open(cfg.SQL.Driver, cfg.SQL.DSN)
		if err != nil {
			return nil, nil, wrapStoreErr(cfg.Type, err)
		}
		st := token.NewSQLStorage(db, cfg.SQL.Driver, cfg.SQL.Table)
		if err := st.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, wrapStoreErr(cfg.Type, err)
		}
		return st, func(context.Context) error { return db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown token store type %q", cfg.Type)
	}
}
