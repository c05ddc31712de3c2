// Package difficulty moves items between difficulty tiers based on answer streaks.
package difficulty

import "github.com/example/masterybot/pkg/models"

// Adjuster promotes or demotes an item one tier at a time.
//
// Promotion from the n-th tier needs a streak of UpStreak + 2*n, so easy->medium
// needs UpStreak and medium->hard needs UpStreak+2. Demotion from the n-th tier
// (counted from the top) needs a streak of DownStreak - n.
type Adjuster struct {
	UpStreak   int
	DownStreak int
}

// NewAdjuster returns an adjuster with the default thresholds (3, -2)
func NewAdjuster() *Adjuster {
	return &Adjuster{UpStreak: 3, DownStreak: -2}
}

// Next returns the tier that follows current given the formula streak.
// Unknown tiers are returned unchanged.
func (a *Adjuster) Next(current models.Tier, streak int) models.Tier {
	rank := current.Rank()
	if rank < 0 {
		return current
	}
	top := len(models.Tiers) - 1

	if streak > 0 && rank < top && streak >= a.UpStreak+2*rank {
		return models.Tiers[rank+1]
	}
	if streak < 0 && rank > 0 && streak <= a.DownStreak-(top-rank) {
		return models.Tiers[rank-1]
	}
	return current
}
