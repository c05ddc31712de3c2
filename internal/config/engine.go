package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig holds the tunable constants of the mastery and scheduling engine.
// The defaults are empirical and meant to be overridden per deployment.
type EngineConfig struct {
	EWMAAlpha            float64 `yaml:"ewma_alpha" json:"ewmaAlpha"`
	InitialEWMA          float64 `yaml:"initial_ewma" json:"initialEwma"`
	Aggressiveness       float64 `yaml:"aggressiveness" json:"aggressiveness"`
	WeightMin            float64 `yaml:"weight_min" json:"weightMin"`
	WeightMax            float64 `yaml:"weight_max" json:"weightMax"`
	FailureStreakPenalty float64 `yaml:"failure_streak_penalty" json:"failureStreakPenalty"`

	MinAttemptsForDifficulty int     `yaml:"min_attempts_for_difficulty" json:"minAttemptsForDifficulty"`
	HardThreshold            float64 `yaml:"hard_threshold" json:"hardThreshold"`
	MediumThreshold          float64 `yaml:"medium_threshold" json:"mediumThreshold"`

	ExplorationRate float64 `yaml:"exploration_rate" json:"explorationRate"`
	ReviewFactor    float64 `yaml:"review_factor" json:"reviewFactor"`

	SpacedBaseSeconds       float64       `yaml:"spaced_base_seconds" json:"spacedBaseSeconds"`
	SpacedExponent          float64       `yaml:"spaced_exponent" json:"spacedExponent"`
	IncorrectDelayHard      time.Duration `yaml:"incorrect_delay_hard" json:"incorrectDelayHard"`
	IncorrectDelayMedium    time.Duration `yaml:"incorrect_delay_medium" json:"incorrectDelayMedium"`
	IncorrectDelayEasy      time.Duration `yaml:"incorrect_delay_easy" json:"incorrectDelayEasy"`
	UrgentPriority          float64       `yaml:"urgent_priority" json:"urgentPriority"`
	SpacedPriority          float64       `yaml:"spaced_priority" json:"spacedPriority"`
	UpStreakThreshold       int           `yaml:"up_streak_threshold" json:"upStreakThreshold"`
	DownStreakThreshold     int           `yaml:"down_streak_threshold" json:"downStreakThreshold"`
	SimilarityThreshold     float64       `yaml:"similarity_threshold" json:"similarityThreshold"`
	GateMaxAttempts         int           `yaml:"gate_max_attempts" json:"gateMaxAttempts"`
	GateRecentWindow        int           `yaml:"gate_recent_window" json:"gateRecentWindow"`
	LedgerCap               int           `yaml:"ledger_cap" json:"ledgerCap"`
	GenerationTimeout       time.Duration `yaml:"generation_timeout" json:"generationTimeout"`
	LedgerTimezone          string        `yaml:"ledger_timezone" json:"ledgerTimezone"`
	GenerationRatePerSecond float64       `yaml:"generation_rate_per_second" json:"generationRatePerSecond"`
}

// DefaultEngineConfig returns the default engine tunables
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		EWMAAlpha:                0.18,
		InitialEWMA:              0.5,
		Aggressiveness:           2.2,
		WeightMin:                0.5,
		WeightMax:                3.0,
		FailureStreakPenalty:     0.25,
		MinAttemptsForDifficulty: 5,
		HardThreshold:            0.86,
		MediumThreshold:          0.65,
		ExplorationRate:          0.08,
		ReviewFactor:             0.5,
		SpacedBaseSeconds:        86400,
		SpacedExponent:           3,
		IncorrectDelayHard:       5 * time.Minute,
		IncorrectDelayMedium:     15 * time.Minute,
		IncorrectDelayEasy:       60 * time.Minute,
		UrgentPriority:           2,
		SpacedPriority:           0.5,
		UpStreakThreshold:        3,
		DownStreakThreshold:      -2,
		SimilarityThreshold:      0.8,
		GateMaxAttempts:          6,
		GateRecentWindow:         50,
		LedgerCap:                10000,
		GenerationTimeout:        8 * time.Second,
		LedgerTimezone:           "UTC",
		GenerationRatePerSecond:  1,
	}
}

// LoadEngineConfig reads YAML overrides on top of the defaults.
// An empty path returns the defaults.
func LoadEngineConfig(path string) (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read engine config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal engine config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects tunables outside their meaningful ranges
func (c EngineConfig) Validate() error {
	if c.EWMAAlpha <= 0 || c.EWMAAlpha > 1 {
		return fmt.Errorf("ewma_alpha must be in (0,1], got %v", c.EWMAAlpha)
	}
	if c.InitialEWMA < 0 || c.InitialEWMA > 1 {
		return fmt.Errorf("initial_ewma must be in [0,1], got %v", c.InitialEWMA)
	}
	if c.ExplorationRate < 0 || c.ExplorationRate > 1 {
		return fmt.Errorf("exploration_rate must be in [0,1], got %v", c.ExplorationRate)
	}
	if c.WeightMin <= 0 || c.WeightMin > c.WeightMax {
		return fmt.Errorf("weight bounds invalid: min %v max %v", c.WeightMin, c.WeightMax)
	}
	if c.UpStreakThreshold < 1 || c.DownStreakThreshold > -1 {
		return fmt.Errorf("streak thresholds invalid: up %d down %d", c.UpStreakThreshold, c.DownStreakThreshold)
	}
	if c.GateMaxAttempts < 1 {
		return fmt.Errorf("gate_max_attempts must be positive")
	}
	if c.LedgerCap < 1 {
		return fmt.Errorf("ledger_cap must be positive")
	}
	if _, err := time.LoadLocation(c.LedgerTimezone); err != nil {
		return fmt.Errorf("invalid ledger_timezone: %w", err)
	}
	return nil
}

// Location returns the ledger calendar location, falling back to UTC
func (c EngineConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.LedgerTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
