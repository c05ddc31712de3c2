// Package selector picks the next practice item.
//
// Due reviews take strict precedence. Otherwise candidates from the pool are
// weighted by formula weakness, spaced score and recency, and a seedable
// explore/exploit policy samples one of them.
package selector

import (
	"math"
	"math/rand"
	"time"

	"github.com/example/masterybot/internal/pool"
	"github.com/example/masterybot/pkg/models"
)

// Reviews is the view of the review scheduler used for selection
type Reviews interface {
	DueItems(now time.Time) []models.ReviewItem
	Remove(itemID int64) bool
}

// Candidates is the view of the content pool used for selection
type Candidates interface {
	Entry(id int64) (*models.QuestionPoolEntry, bool)
	PickCandidates(subjectFilter string, excludeIDs []int64) []models.QuestionPoolEntry
}

// Weights supplies per-formula selection weights
type Weights interface {
	Weight(formulaID string) float64
}

// Params shape candidate weights
type Params struct {
	ReviewFactor float64
	WeightMin    float64
	WeightMax    float64
}

// DefaultParams returns the default weighting parameters
func DefaultParams() Params {
	return Params{ReviewFactor: 0.5, WeightMin: 0.5, WeightMax: 3.0}
}

// Choice is the outcome of a selection
type Choice struct {
	ItemID     int64
	FromReview bool
	Explored   bool
}

// Selector composes reviews, pool and mastery weights
type Selector struct {
	reviews Reviews
	pool    Candidates
	weights Weights
	policy  *Policy
	params  Params
}

// New creates a selector
func New(reviews Reviews, candidates Candidates, weights Weights, policy *Policy, params Params) *Selector {
	if policy == nil {
		policy = NewPolicy(0.08, time.Now().UnixNano())
	}
	return &Selector{
		reviews: reviews,
		pool:    candidates,
		weights: weights,
		policy:  policy,
		params:  params,
	}
}

// PickNext returns the next item for subjectFilter, or false when nothing is
// available and the caller has to request new content.
func (s *Selector) PickNext(subjectFilter string, excludeIDs []int64, now time.Time) (Choice, bool) {
	for _, r := range s.reviews.DueItems(now) {
		e, ok := s.pool.Entry(r.ItemID)
		if !ok {
			// review of an item that is no longer registered
			s.reviews.Remove(r.ItemID)
			continue
		}
		if !pool.Matches(e, subjectFilter) {
			continue
		}
		s.reviews.Remove(r.ItemID)
		return Choice{ItemID: r.ItemID, FromReview: true}, true
	}

	candidates := s.pool.PickCandidates(subjectFilter, excludeIDs)
	if len(candidates) == 0 {
		return Choice{}, false
	}
	weights := make([]float64, len(candidates))
	for i := range candidates {
		weights[i] = s.ItemWeight(candidates[i], now)
	}
	idx, explored := s.policy.Choose(weights)
	return Choice{ItemID: candidates[idx].ItemID, Explored: explored}, true
}

// ItemWeight is formulaWeight * (1 + spacedScore*reviewFactor) * recency,
// clamped to [WeightMin*0.2, WeightMax*2].
func (s *Selector) ItemWeight(e models.QuestionPoolEntry, now time.Time) float64 {
	w := s.weights.Weight(e.FormulaID) * (1 + e.SpacedScore*s.params.ReviewFactor) * RecencyFactor(e.LastSeenAt, now)
	return math.Max(s.params.WeightMin*0.2, math.Min(s.params.WeightMax*2, w))
}

// RecencyFactor is min(2, 1+log10(hoursSinceLastSeen+1)); never-seen items get 2
func RecencyFactor(lastSeen *time.Time, now time.Time) float64 {
	if lastSeen == nil {
		return 2
	}
	hours := math.Max(0, now.Sub(*lastSeen).Hours())
	return math.Min(2, 1+math.Log10(hours+1))
}

// Policy is a seedable explore/exploit sampler over weighted candidates
type Policy struct {
	Exploration float64
	Rand        *rand.Rand
}

// NewPolicy creates a policy with the given exploration rate and seed
func NewPolicy(exploration float64, seed int64) *Policy {
	return &Policy{Exploration: exploration, Rand: rand.New(rand.NewSource(seed))}
}

// Choose returns an index into weights. With probability Exploration it picks
// uniformly, otherwise proportionally to weight.
func (p *Policy) Choose(weights []float64) (int, bool) {
	n := len(weights)
	if n == 0 {
		return -1, false
	}
	if p.Rand.Float64() < p.Exploration {
		return p.Rand.Intn(n), true
	}
	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return p.Rand.Intn(n), false
	}
	r := p.Rand.Float64() * total
	for i, w := range weights {
		r -= w
		if r <= 0 {
			return i, false
		}
	}
	return n - 1, false
}
