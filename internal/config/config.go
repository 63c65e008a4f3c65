// Package config loads the trader's session file and environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"digit-trader/internal/domain"
)

// File is the YAML session file.
type File struct {
	Deriv struct {
		Token  string `yaml:"token"`
		AppID  string `yaml:"app_id"`
		Server string `yaml:"server"`
	} `yaml:"deriv"`

	Trading   Trading    `yaml:"trading"`
	Switching *Switching `yaml:"switching"`

	Storage struct {
		UseMemory     bool   `yaml:"use_memory"`
		PostgresDSN   string `yaml:"postgres_dsn"`
		ClickhouseDSN string `yaml:"clickhouse_dsn"`
		SQLitePath    string `yaml:"sqlite_path"`
	} `yaml:"storage"`

	Report struct {
		Interval time.Duration `yaml:"interval"` // cron @every interval; 0 disables
		Dir      string        `yaml:"dir"`
	} `yaml:"report"`

	HTTPAddr string `yaml:"http_addr"`
}

// Trading mirrors domain.TradeConfig.
type Trading struct {
	Strategy            string   `yaml:"strategy"`
	Market              string   `yaml:"market"`
	Currency            string   `yaml:"currency"`
	BaseStake           float64  `yaml:"base_stake"`
	Multiplier          float64  `yaml:"multiplier"`
	MaxSteps            int      `yaml:"max_steps"`
	MaxPosition         float64  `yaml:"max_position"`
	TickCount           int      `yaml:"tick_count"`
	Barrier             int      `yaml:"barrier"`
	SwitchOnLoss        bool     `yaml:"switch_on_loss"`
	LossThreshold       int      `yaml:"loss_threshold"`
	MaxRounds           int      `yaml:"max_rounds"`
	MaxLossStreak       int      `yaml:"max_loss_streak"`
	TakeProfit          *float64 `yaml:"take_profit"`
	StopLoss            *float64 `yaml:"stop_loss"`
	PreserveLossesOnWin bool     `yaml:"preserve_losses_on_win"`
	MaxConcurrentTrades int      `yaml:"max_concurrent_trades"`
	Mode                string   `yaml:"mode"`
	StraddleBarrier     *int     `yaml:"straddle_barrier"`
}

// Switching mirrors domain.SwitchingPolicy.
type Switching struct {
	Mode              string   `yaml:"mode"`
	CustomSequence    []string `yaml:"custom_sequence"`
	Pool              []string `yaml:"pool"`
	ResetOnWin        bool     `yaml:"reset_on_win"`
	MaxSwitches       int      `yaml:"max_switches"`
	CooldownMinutes   float64  `yaml:"cooldown_minutes"`
	PerformanceWindow int      `yaml:"performance_window"`
	Excluded          []string `yaml:"excluded"`
}

// Defaults
const (
	DefaultMarket   = "R_100"
	DefaultStrategy = "Even"
	DefaultStake    = 1.0
	DefaultHTTPAddr = ":8080"
)

// Load reads the YAML file at path and applies defaults. An empty path or
// a missing file yields the defaults alone.
func Load(path string) (*File, error) {
	f := &File{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, f); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	f.applyDefaults()
	return f, nil
}

func (f *File) applyDefaults() {
	if f.Trading.Market == "" {
		f.Trading.Market = DefaultMarket
	}
	if f.Trading.Strategy == "" {
		f.Trading.Strategy = DefaultStrategy
	}
	if f.Trading.BaseStake == 0 {
		f.Trading.BaseStake = DefaultStake
	}
	if f.HTTPAddr == "" {
		f.HTTPAddr = DefaultHTTPAddr
	}
	if f.Report.Dir == "" {
		f.Report.Dir = "reports"
	}
}

// TradeConfig converts the trading section into the engine's configuration,
// defaults applied.
func (f *File) TradeConfig() domain.TradeConfig {
	t := f.Trading
	cfg := domain.TradeConfig{
		Strategy:            domain.Strategy(t.Strategy),
		Market:              t.Market,
		Currency:            t.Currency,
		BaseStake:           t.BaseStake,
		Multiplier:          t.Multiplier,
		MaxSteps:            t.MaxSteps,
		MaxPosition:         t.MaxPosition,
		TickCount:           t.TickCount,
		Barrier:             t.Barrier,
		SwitchOnLoss:        t.SwitchOnLoss,
		LossThreshold:       t.LossThreshold,
		MaxRounds:           t.MaxRounds,
		MaxLossStreak:       t.MaxLossStreak,
		TakeProfit:          t.TakeProfit,
		StopLoss:            t.StopLoss,
		PreserveLossesOnWin: t.PreserveLossesOnWin,
		MaxConcurrentTrades: t.MaxConcurrentTrades,
		Mode:                domain.ExecutionMode(t.Mode),
		StraddleBarrier:     t.StraddleBarrier,
	}
	if s := f.Switching; s != nil {
		cfg.Switching = &domain.SwitchingPolicy{
			Mode:              domain.SwitchMode(s.Mode),
			CustomSequence:    strategies(s.CustomSequence),
			Pool:              strategies(s.Pool),
			ResetOnWin:        s.ResetOnWin,
			MaxSwitches:       s.MaxSwitches,
			CooldownMinutes:   s.CooldownMinutes,
			PerformanceWindow: s.PerformanceWindow,
			Excluded:          strategies(s.Excluded),
		}
	}
	return cfg.WithDefaults()
}

// Validate checks the file. Trading rules are delegated to
// domain.TradeConfig.Validate.
func (f *File) Validate() error {
	if err := f.TradeConfig().Validate(); err != nil {
		return fmt.Errorf("trading: %w", err)
	}
	if f.Report.Interval < 0 {
		return fmt.Errorf("report.interval must not be negative")
	}
	if f.Switching != nil && f.Switching.CooldownMinutes < 0 {
		return fmt.Errorf("switching.cooldown_minutes must not be negative")
	}
	return nil
}

func strategies(names []string) []domain.Strategy {
	if len(names) == 0 {
		return nil
	}
	out := make([]domain.Strategy, len(names))
	for i, n := range names {
		out[i] = domain.Strategy(n)
	}
	return out
}
