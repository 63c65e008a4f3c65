package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"digit-trader/internal/config"
	"digit-trader/internal/engine"
	"digit-trader/internal/metrics"
	"digit-trader/internal/observability"
	"digit-trader/internal/reporting"
)

// Server exposes the engine over HTTP and runs the scheduled reports.
type Server struct {
	eng    *engine.Engine
	stores *allStores
	file   *config.File
	logger *log.Logger

	cron    *cron.Cron
	httpSrv *http.Server
	started time.Time

	mu            sync.Mutex
	reportRunning bool
	lastReportRun time.Time
	reportRuns    int
}

func newServer(eng *engine.Engine, stores *allStores, file *config.File, logger *log.Logger) *Server {
	return &Server{
		eng:     eng,
		stores:  stores,
		file:    file,
		logger:  logger,
		started: time.Now(),
	}
}

// startReports registers the report job at the configured interval.
func (s *Server) startReports() error {
	if s.file.Report.Interval <= 0 {
		return nil
	}
	s.cron = cron.New()
	schedule := fmt.Sprintf("@every %s", s.file.Report.Interval)
	if _, err := s.cron.AddFunc(schedule, func() { s.writeReport(context.Background()) }); err != nil {
		return fmt.Errorf("register report job %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.Printf("Report scheduler started (%s)", schedule)
	return nil
}

// writeReport snapshots performance and writes the session report as
// Markdown and CSV.
func (s *Server) writeReport(ctx context.Context) {
	s.mu.Lock()
	if s.reportRunning {
		s.mu.Unlock()
		s.logger.Println("Report generation already running, skipping...")
		return
	}
	s.reportRunning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reportRunning = false
		s.lastReportRun = time.Now()
		s.reportRuns++
		s.mu.Unlock()
	}()

	n := s.eng.SnapshotPerformance()
	sessionID := s.eng.SessionID()

	gen := reporting.NewGenerator(s.stores.engine.Trades, s.stores.engine.Switches, s.stores.engine.Performance)
	rep, err := gen.Generate(ctx, sessionID)
	if err != nil {
		if errors.Is(err, metrics.ErrNoTrades) {
			s.logger.Printf("No trades yet for session %s, report skipped", sessionID)
			return
		}
		s.logger.Printf("Report generation error: %v", err)
		return
	}

	dir := s.file.Report.Dir
	if err := os.MkdirAll(dir, 0755); err != nil {
		s.logger.Printf("Failed to create output directory: %v", err)
		return
	}
	files := map[string]string{
		filepath.Join(dir, "session_"+sessionID+".md"):  reporting.RenderMarkdown(rep),
		filepath.Join(dir, "session_"+sessionID+".csv"): reporting.RenderCSV(rep.Trades),
	}
	for path, body := range files {
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			s.logger.Printf("Failed to write %s: %v", path, err)
			return
		}
	}

	observability.RecordReport(time.Now().Unix())
	s.logger.Printf("Report written to %s/ (%d trades, %d snapshots)", dir, len(rep.Trades), n)
}

// startHTTPServer starts the HTTP server for health/metrics/status.
func (s *Server) startHTTPServer(addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", s.handleStatus)

	s.mu.Lock()
	s.httpSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	srv := s.httpSrv
	s.mu.Unlock()

	s.logger.Printf("Starting HTTP server on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("HTTP server error: %v", err)
	}
}

// shutdown stops the scheduler (waiting for a running job) and the HTTP server.
func (s *Server) shutdown() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status        string    `json:"status"`
	Uptime        string    `json:"uptime"`
	SessionID     string    `json:"session_id"`
	Running       bool      `json:"running"`
	Connection    string    `json:"connection"`
	Strategy      string    `json:"strategy"`
	StopReason    string    `json:"stop_reason,omitempty"`
	Balance       float64   `json:"balance"`
	InFlight      int       `json:"in_flight"`
	Stake         float64   `json:"next_stake"`
	Losses        int       `json:"consecutive_losses"`
	TotalTrades   int       `json:"total_trades"`
	WinRate       float64   `json:"win_rate"`
	TotalProfit   float64   `json:"total_profit"`
	LastReportRun time.Time `json:"last_report_run,omitempty"`
	ReportRuns    int       `json:"report_runs"`
}

// handleStatus returns engine status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.eng.Status()
	sum := s.eng.Summary()

	s.mu.Lock()
	resp := StatusResponse{
		Status:        "running",
		Uptime:        time.Since(s.started).Round(time.Second).String(),
		SessionID:     st.SessionID,
		Running:       st.Running,
		Connection:    string(st.Connection),
		Strategy:      string(st.Strategy),
		StopReason:    st.StopReason,
		Balance:       st.Balance,
		InFlight:      st.InFlight,
		Stake:         st.Risk.NextStake,
		Losses:        st.Risk.ConsecutiveLosses,
		TotalTrades:   sum.TotalTrades,
		WinRate:       sum.WinRate,
		TotalProfit:   sum.TotalProfit,
		LastReportRun: s.lastReportRun,
		ReportRuns:    s.reportRuns,
	}
	s.mu.Unlock()
	if !st.Running {
		resp.Status = "stopped"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
