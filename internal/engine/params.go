package engine

import (
	"time"

	"github.com/example/masterybot/internal/config"
	"github.com/example/masterybot/internal/dedup"
	"github.com/example/masterybot/internal/difficulty"
	"github.com/example/masterybot/internal/mastery"
	"github.com/example/masterybot/internal/selector"
	"github.com/example/masterybot/internal/spaced_repetition"
	"github.com/example/masterybot/pkg/models"
)

func masteryParams(c config.EngineConfig) mastery.Params {
	return mastery.Params{
		Alpha:           c.EWMAAlpha,
		InitialEWMA:     c.InitialEWMA,
		Aggressiveness:  c.Aggressiveness,
		WeightMin:       c.WeightMin,
		WeightMax:       c.WeightMax,
		StreakPenalty:   c.FailureStreakPenalty,
		MinAttempts:     c.MinAttemptsForDifficulty,
		HardThreshold:   c.HardThreshold,
		MediumThreshold: c.MediumThreshold,
	}
}

func selectorParams(c config.EngineConfig) selector.Params {
	return selector.Params{
		ReviewFactor: c.ReviewFactor,
		WeightMin:    c.WeightMin,
		WeightMax:    c.WeightMax,
	}
}

func reviewPolicy(c config.EngineConfig) *spaced_repetition.Policy {
	return &spaced_repetition.Policy{
		BaseInterval: time.Duration(c.SpacedBaseSeconds * float64(time.Second)),
		Exponent:     c.SpacedExponent,
		IncorrectDelay: map[models.Tier]time.Duration{
			models.TierHard:   c.IncorrectDelayHard,
			models.TierMedium: c.IncorrectDelayMedium,
			models.TierEasy:   c.IncorrectDelayEasy,
		},
		UrgentPriority: c.UrgentPriority,
		SpacedPriority: c.SpacedPriority,
	}
}

func adjuster(c config.EngineConfig) *difficulty.Adjuster {
	return &difficulty.Adjuster{UpStreak: c.UpStreakThreshold, DownStreak: c.DownStreakThreshold}
}

func gateConfig(c config.EngineConfig) dedup.GateConfig {
	g := dedup.DefaultGateConfig()
	g.Threshold = c.SimilarityThreshold
	g.MaxAttempts = c.GateMaxAttempts
	g.RecentWindow = c.GateRecentWindow
	g.EmbedTimeout = c.GenerationTimeout
	return g
}
