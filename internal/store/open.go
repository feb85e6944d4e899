package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/distill-cli/internal/config"
)

// Open builds the configured Store and runs its migrations.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case "", "memory":
		st = NewMemory()
	case "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "distill.db"
		}
		st, err = NewSQLite(dsn)
	case "postgres":
		st, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}
