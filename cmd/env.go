package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/harborlight-collective/grantscout/internal/budget"
	"github.com/harborlight-collective/grantscout/internal/db"
	"github.com/harborlight-collective/grantscout/internal/discovery"
	"github.com/harborlight-collective/grantscout/pkg/anthropic"
	"github.com/harborlight-collective/grantscout/pkg/grantsgov"
)

// appEnv bundles the wired collaborators a command needs.
type appEnv struct {
	Store    discovery.Store
	Budget   discovery.BudgetLedger
	Registry grantsgov.Client
	Syncer   *discovery.Syncer
}

func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store backend. The SQLite backend doubles
// as the budget ledger; Postgres shares the pool between store and ledger.
func initStore(ctx context.Context) (discovery.Store, discovery.BudgetLedger, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		s, err := discovery.NewSQLite(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	case "postgres", "":
		pool, err := db.NewPool(ctx, cfg.Store.DatabaseURL, db.PoolOptions{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		s := discovery.NewPostgresStore(pool)
		return storeWithPool{PostgresStore: s, close: pool.Close}, budget.NewLedger(pool), nil

	default:
		return nil, nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// storeWithPool gives the command layer ownership of the pool it opened.
type storeWithPool struct {
	*discovery.PostgresStore
	close func()
}

func (s storeWithPool) Close() error {
	s.close()
	return nil
}

// initEnv wires the full pipeline: store, registry client, model clients
// and the syncer.
func initEnv(ctx context.Context) (*appEnv, error) {
	store, ledger, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.Anthropic.Key == "" {
		_ = store.Close()
		return nil, eris.New("anthropic.key is required")
	}

	registry := grantsgov.NewClient(
		grantsgov.WithBaseURL(cfg.Registry.BaseURL),
		grantsgov.WithRateLimit(cfg.Registry.RequestsPerSec),
	)

	ai := anthropic.NewClient(cfg.Anthropic.Key)
	extractor := discovery.NewExtractor(ai, cfg.Anthropic.CheapModel, cfg.Sync.ExtractMaxTokens, cfg.Sync.DetailMaxChars)
	scorer := discovery.NewScorer(ai, cfg.Anthropic.CapableModel, cfg.Sync.ScoringMaxTokens)

	syncer := discovery.NewSyncer(store, registry, extractor, scorer, ledger, discovery.SyncOptions{
		Source:              cfg.Registry.Source,
		MaxPerRun:           cfg.Sync.MaxPerRun,
		WallClock:           time.Duration(cfg.Sync.WallClockSecs) * time.Second,
		MinAwardCeiling:     cfg.Sync.MinAwardCeiling,
		MinWeightedScore:    cfg.Sync.MinWeightedScore,
		MonthlyTokenCeiling: cfg.Budget.MonthlyTokenCeiling,
	})

	return &appEnv{
		Store:    store,
		Budget:   ledger,
		Registry: registry,
		Syncer:   syncer,
	}, nil
}
