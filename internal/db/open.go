package db

import (
	"context"
	"fmt"

	"github.com/HanTheDev/eval-ingest-gateway/internal/config"
	"github.com/HanTheDev/eval-ingest-gateway/internal/store"
)

// Open returns the Store selected by cfg.StoreDriver. Postgres is migrated
// before it is returned.
func Open(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "postgres":
		database, err := NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, err
		}
		return database, nil
	case "sqlite":
		return NewSQLite(cfg.SQLitePath)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
