package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SkewMode selects how inventory skew scales with position.
type SkewMode string

const (
	SkewLinear      SkewMode = "linear"
	SkewExponential SkewMode = "exponential"
)

// RiskLimits are hard gates applied before every order placement.
type RiskLimits struct {
	MaxPositionPerMarket int     `yaml:"max_position_per_market"`
	MaxTotalPosition     int     `yaml:"max_total_position"`
	MaxDailyLossCents    int     `yaml:"max_daily_loss_cents"`
	MaxOrderSize         int     `yaml:"max_order_size"`
	DefaultOrderSize     int     `yaml:"default_order_size"`

	InventorySkewFactor float64  `yaml:"inventory_skew_factor"`
	MaxInventorySkew    int      `yaml:"max_inventory_skew"`
	SkewMode            SkewMode `yaml:"skew_mode"`

	OneSideThreshold int     `yaml:"one_side_threshold"`
	StopLossCents    int     `yaml:"stop_loss_cents"`
	HoursBeforeExit  float64 `yaml:"hours_before_settlement_exit"`
}

// StrategyLimits shape the quoting engine's behavior.
type StrategyLimits struct {
	TargetSeries    []string `yaml:"target_series"`
	MinSpread       int      `yaml:"min_spread"`
	DefaultSpread   int      `yaml:"default_spread"`
	RefreshSeconds  float64  `yaml:"quote_refresh_seconds"`
	RequoteOnFill   bool     `yaml:"requote_on_fill"`
}

// SimLimits configure the paper-trading simulator.
type SimLimits struct {
	Ticker          string `yaml:"ticker"`
	OrderSize       int    `yaml:"order_size"`
	MinSpread       int    `yaml:"min_spread"`
	MinProfit       int    `yaml:"min_profit"`
	DurationSeconds int    `yaml:"duration_seconds"`
}

type Limits struct {
	Risk     RiskLimits     `yaml:"risk"`
	Strategy StrategyLimits `yaml:"strategy"`
	Sim      SimLimits      `yaml:"sim"`
}

// DefaultLimits mirrors the shipped limits.yaml so tests and the paper
// process can run without a config file.
func DefaultLimits() Limits {
	return Limits{
		Risk: RiskLimits{
			MaxPositionPerMarket: 100,
			MaxTotalPosition:     500,
			MaxDailyLossCents:    5000,
			MaxOrderSize:         50,
			DefaultOrderSize:     10,
			InventorySkewFactor:  0.5,
			MaxInventorySkew:     10,
			SkewMode:             SkewLinear,
			OneSideThreshold:     50,
			StopLossCents:        15,
			HoursBeforeExit:      4.0,
		},
		Strategy: StrategyLimits{
			TargetSeries:   []string{"KXHIGHNY"},
			MinSpread:      5,
			DefaultSpread:  6,
			RefreshSeconds: 5.0,
			RequoteOnFill:  true,
		},
		Sim: SimLimits{
			OrderSize:       10,
			MinSpread:       5,
			MinProfit:       1,
			DurationSeconds: 1800,
		},
	}
}

// LoadLimits reads the YAML limits file and fills gaps with defaults.
func LoadLimits(path string) (Limits, error) {
	limits := DefaultLimits()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return limits, nil
	}
	if err != nil {
		return limits, fmt.Errorf("read limits: %w", err)
	}
	if err := yaml.Unmarshal(data, &limits); err != nil {
		return limits, fmt.Errorf("parse limits: %w", err)
	}

	if limits.Risk.SkewMode != SkewLinear && limits.Risk.SkewMode != SkewExponential {
		limits.Risk.SkewMode = SkewLinear
	}
	return limits, nil
}

// RefreshInterval returns the quote refresh interval as a duration.
func (s StrategyLimits) RefreshInterval() time.Duration {
	if s.RefreshSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.RefreshSeconds * float64(time.Second))
}

// Duration returns the simulator run bound, zero means unbounded.
func (s SimLimits) Duration() time.Duration {
	return time.Duration(s.DurationSeconds) * time.Second
}
