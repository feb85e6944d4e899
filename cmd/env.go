package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/distill-cli/internal/pipeline"
	"github.com/sells-group/distill-cli/internal/provider"
	"github.com/sells-group/distill-cli/internal/store"
)

// distillEnv holds the store and manager used by generate, optimize,
// status and serve.
type distillEnv struct {
	Store   store.Store
	Manager *pipeline.Manager
}

// Close releases resources held by the environment.
func (e *distillEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initDistill validates the config for mode, opens the store and builds
// every configured provider pair. Callers should defer env.Close().
func initDistill(ctx context.Context, mode string) (*distillEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	mgr, err := pipeline.New(cfg, st, provider.DefaultRegistry())
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init distill manager")
	}

	zap.L().Info("distill manager ready",
		zap.Int("teachers", len(cfg.Teachers)),
		zap.Int("students", len(cfg.Students)),
		zap.Int("pairs", len(mgr.Pairs())),
		zap.String("store", storeDriver()),
	)
	return &distillEnv{Store: st, Manager: mgr}, nil
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

func storeDriver() string {
	if cfg.Store.Driver == "" {
		return "memory"
	}
	return cfg.Store.Driver
}
