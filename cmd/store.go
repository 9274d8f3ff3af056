package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/hartproperty/propsync/internal/benchmark"
	"github.com/hartproperty/propsync/internal/fetcher"
	"github.com/hartproperty/propsync/internal/reconcile"
	"github.com/hartproperty/propsync/internal/resilience"
	"github.com/hartproperty/propsync/internal/store"
)

// openStore opens the configured backend and applies migrations.
func openStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "propsync.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
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

// newDriver builds a reconciliation driver from the reconcile section.
func newDriver(st reconcile.Store) *reconcile.Driver {
	rc := cfg.Reconcile
	return reconcile.New(st, reconcile.Config{
		QueryChunk:       rc.QueryChunk,
		WriteChunk:       rc.WriteChunk,
		FetchTimeout:     rc.FetchTimeout(),
		RunTimeout:       rc.RunTimeout(),
		Retry:            resilience.FromRetryConfig(rc.MaxAttempts, rc.InitialBackoffMs, rc.MaxBackoffMs),
		BreakerThreshold: rc.BreakerThreshold,
	})
}

// newBenchmark builds the cached SORA snapshot source.
func newBenchmark() *benchmark.Cache {
	bc := cfg.Benchmark
	timeout := time.Duration(bc.TimeoutSecs) * time.Second
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: timeout})
	return benchmark.NewCache(benchmark.NewPageFetcher(f, bc.URL, timeout), time.Duration(bc.TTLHours)*time.Hour)
}
