package main

import (
	"context"
	"fmt"
	"log"

	"digit-trader/internal/config"
	"digit-trader/internal/engine"
	"digit-trader/internal/storage"
	chstore "digit-trader/internal/storage/clickhouse"
	"digit-trader/internal/storage/memory"
	"digit-trader/internal/storage/migrations"
	pgstore "digit-trader/internal/storage/postgres"
	"digit-trader/internal/storage/sqlite"
)

// allStores holds the engine's persistence targets plus the read side used
// by reports.
type allStores struct {
	engine  engine.Stores
	closers []func()
}

func (s *allStores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// createStores picks the trade ledger (Postgres, then SQLite, then memory)
// and the optional ClickHouse archive.
func createStores(ctx context.Context, f *config.File, logger *log.Logger) (*allStores, error) {
	s := &allStores{}
	cfg := f.Storage

	if cfg.UseMemory {
		logger.Println("Using in-memory storage")
		s.engine = engine.Stores{
			Trades:      memory.NewTradeStore(),
			Switches:    memory.NewSwitchEventStore(),
			Ticks:       memory.NewTickStore(),
			Performance: memory.NewPerformanceStore(),
		}
		return s, nil
	}

	switch {
	case cfg.PostgresDSN != "":
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			s.close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		s.engine.Trades = pgstore.NewTradeStore(pool)
		s.engine.Switches = pgstore.NewSwitchEventStore(pool)
		logger.Println("Trade ledger: postgres")

	case cfg.SQLitePath != "":
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		s.closers = append(s.closers, func() { db.Close() })
		s.engine.Trades = sqlite.NewTradeStore(db)
		s.engine.Switches = sqlite.NewSwitchEventStore(db)
		logger.Printf("Trade ledger: sqlite %s", cfg.SQLitePath)

	default:
		s.engine.Trades = memory.NewTradeStore()
		s.engine.Switches = memory.NewSwitchEventStore()
		logger.Println("Trade ledger: memory (no postgres or sqlite configured)")
	}

	if cfg.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		s.closers = append(s.closers, func() { conn.Close() })
		s.engine.Ticks = chstore.NewTickStore(conn)
		s.engine.Performance = chstore.NewPerformanceStore(conn)
		logger.Println("Tick archive: clickhouse")
	} else {
		s.engine.Performance = memory.NewPerformanceStore()
	}

	return s, nil
}

// pendingFromPreviousRuns reports trades a crashed run left pending.
func pendingFromPreviousRuns(ctx context.Context, trades storage.TradeStore) (int, error) {
	pending, err := trades.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}
