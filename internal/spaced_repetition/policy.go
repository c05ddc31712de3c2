package spaced_repetition

import (
	"math"
	"time"

	"github.com/example/masterybot/pkg/models"
)

// Policy decides when an item should be reviewed again after an attempt
type Policy struct {
	// Base interval after a correct answer, stretched by mastery
	BaseInterval time.Duration
	// Exponent applied to the formula EWMA: delay = base * max(1, 2^(Exponent*ewma))
	Exponent float64
	// Delay after a miss, by the item's current tier
	IncorrectDelay map[models.Tier]time.Duration
	UrgentPriority float64
	SpacedPriority float64
}

// NewPolicy returns the default interval policy
func NewPolicy() *Policy {
	return &Policy{
		BaseInterval: 24 * time.Hour,
		Exponent:     3,
		IncorrectDelay: map[models.Tier]time.Duration{
			models.TierHard:   5 * time.Minute,
			models.TierMedium: 15 * time.Minute,
			models.TierEasy:   60 * time.Minute,
		},
		UrgentPriority: 2,
		SpacedPriority: 0.5,
	}
}

// Next returns the delay, priority and reason of the review that follows an attempt.
// ewma is the formula estimate after the attempt has been recorded.
func (p *Policy) Next(correct bool, tier models.Tier, ewma float64) (time.Duration, float64, string) {
	if !correct {
		delay, ok := p.IncorrectDelay[tier]
		if !ok {
			delay = p.IncorrectDelay[models.TierEasy]
		}
		return delay, p.UrgentPriority, models.ReasonIncorrect
	}
	factor := math.Max(1, math.Pow(2, p.Exponent*ewma))
	delay := time.Duration(float64(p.BaseInterval) * factor)
	return delay, p.SpacedPriority, models.ReasonSpaced
}
