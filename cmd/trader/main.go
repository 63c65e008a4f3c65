// Package main runs the digit trading engine against a live account:
// - Session: authorized WebSocket connection with reconnect and replay
// - Engine: tick-driven trading, reconciliation, switching and risk limits
// - Reporting (scheduled): session report and performance snapshot
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"digit-trader/internal/config"
	"digit-trader/internal/deriv"
	"digit-trader/internal/engine"
	"digit-trader/internal/reconcile"
	"digit-trader/internal/session"
)

// drainTimeout bounds how long shutdown waits for open contracts to settle.
const drainTimeout = 2 * time.Minute

func main() {
	// Variables already in the environment win over .env.
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("[trader] %v", err)
	}

	configPath := flag.String("config", envOr("TRADER_CONFIG", "trader.yaml"), "YAML session file")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (tick archive, performance snapshots)")
	sqlitePath := flag.String("sqlite-path", os.Getenv("SQLITE_PATH"), "SQLite database file (local trade ledger)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage only")
	httpAddr := flag.String("http-addr", "", "HTTP address for /health, /status and /metrics")
	reportInterval := flag.Duration("report-interval", 0, "Scheduled report interval (0 keeps the config value)")
	reportDir := flag.String("report-dir", "", "Output directory for scheduled reports")
	flag.Parse()

	logger := log.New(os.Stdout, "[trader] ", log.LstdFlags|log.Lshortfile)

	file, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(file, flagOverrides{
		postgresDSN:    *postgresDSN,
		clickhouseDSN:  *clickhouseDSN,
		sqlitePath:     *sqlitePath,
		useMemory:      *useMemory,
		httpAddr:       *httpAddr,
		reportInterval: *reportInterval,
		reportDir:      *reportDir,
	})
	if err := file.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}

	creds, err := file.ResolveCredentials(nil)
	if err != nil {
		logger.Fatalf("Credentials: %v (set one of %v)", err, config.TokenKeys)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := createStores(ctx, file, logger)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer stores.close()
	if n, err := pendingFromPreviousRuns(ctx, stores.engine.Trades); err != nil {
		logger.Printf("List pending trades: %v", err)
	} else if n > 0 {
		logger.Printf("%d trades from earlier runs are still pending in the ledger", n)
	}

	sessCfg := session.DefaultConfig()
	sessCfg.Endpoint = deriv.Endpoint(creds.Server, creds.AppID)
	sessCfg.Token = creds.Token
	sess := session.New(sessCfg, deriv.NewWSDialer(nil), log.New(os.Stdout, "[session] ", log.LstdFlags|log.Lshortfile))

	eng := engine.New(sess, engine.Options{
		Reconcile: reconcile.DefaultConfig(),
		Stores:    stores.engine,
		Logger:    log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lshortfile),
	})

	halted := make(chan string, 1)
	eng.Subscribe(func(ev engine.Event) {
		switch ev.Type {
		case engine.EventTrade:
			if ev.Trade.Status.Terminal() {
				logger.Printf("trade %s %s %s stake=%.2f profit=%s",
					ev.Trade.ID, ev.Trade.Strategy, ev.Trade.Status, ev.Trade.Stake, profitText(ev.Trade.Profit))
			}
		case engine.EventStatus:
			if !ev.Status.Running && ev.Status.StopReason != "" {
				select {
				case halted <- ev.Status.StopReason:
				default:
				}
			}
		case engine.EventError:
			logger.Printf("session error: %v", ev.Err)
		}
	})

	if err := eng.Initialize(file.TradeConfig()); err != nil {
		logger.Fatalf("Initialize: %v", err)
	}

	logger.Printf("Connecting to %s", creds.Server)
	if err := sess.Connect(ctx); err != nil {
		logger.Fatalf("Connect: %v", err)
	}
	if err := eng.Start(ctx); err != nil {
		logger.Fatalf("Start: %v", err)
	}

	srv := newServer(eng, stores, file, logger)
	if err := srv.startReports(); err != nil {
		logger.Fatalf("Report scheduler: %v", err)
	}
	go srv.startHTTPServer(file.HTTPAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Printf("Received signal %v, stopping...", sig)
	case reason := <-halted:
		logger.Printf("Engine halted: %s", reason)
	}

	// Stop trading; a second signal skips waiting for open contracts.
	eng.Stop()
	drainCtx, drainCancel := context.WithTimeout(ctx, drainTimeout)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, skipping drain", sig)
			drainCancel()
		case <-drainCtx.Done():
		}
	}()
	if err := waitSettled(drainCtx, eng); err != nil {
		logger.Printf("Drain incomplete: %v", err)
	}
	drainCancel()

	srv.shutdown()
	if err := eng.Close(); err != nil {
		logger.Printf("Engine close: %v", err)
	}
	if err := sess.Close(); err != nil {
		logger.Printf("Session close: %v", err)
	}
	srv.writeReport(context.Background())

	summary := eng.Summary()
	logger.Printf("Session %s: %d trades, %d won, %d lost, profit %.2f",
		summary.SessionID, summary.TotalTrades, summary.Wins, summary.Losses, summary.TotalProfit)
	logger.Println("Shutdown complete")
}

// waitSettled polls until no contract is in flight.
func waitSettled(ctx context.Context, eng *engine.Engine) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		if eng.Status().InFlight == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type flagOverrides struct {
	postgresDSN    string
	clickhouseDSN  string
	sqlitePath     string
	useMemory      bool
	httpAddr       string
	reportInterval time.Duration
	reportDir      string
}

// applyFlags lets non-empty flags (and their env defaults) win over the file.
func applyFlags(f *config.File, o flagOverrides) {
	if o.postgresDSN != "" {
		f.Storage.PostgresDSN = o.postgresDSN
	}
	if o.clickhouseDSN != "" {
		f.Storage.ClickhouseDSN = o.clickhouseDSN
	}
	if o.sqlitePath != "" {
		f.Storage.SQLitePath = o.sqlitePath
	}
	if o.useMemory {
		f.Storage.UseMemory = true
	}
	if o.httpAddr != "" {
		f.HTTPAddr = o.httpAddr
	}
	if o.reportInterval > 0 {
		f.Report.Interval = o.reportInterval
	}
	if o.reportDir != "" {
		f.Report.Dir = o.reportDir
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func profitText(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *p)
}
