// Package mastery tracks per-formula and per-category proficiency.
package mastery

import (
	"math"
	"sort"
	"time"

	"github.com/example/masterybot/pkg/models"
)

// Params are the tunables of the mastery model
type Params struct {
	// Alpha is the EWMA smoothing factor
	Alpha float64
	// InitialEWMA is the estimate before any attempt
	InitialEWMA float64
	// Aggressiveness scales how strongly low mastery raises selection weight
	Aggressiveness float64
	WeightMin      float64
	WeightMax      float64
	// StreakPenalty is added per failed answer in a failure run
	StreakPenalty float64

	MinAttempts     int
	HardThreshold   float64
	MediumThreshold float64
}

// DefaultParams returns the default tunables
func DefaultParams() Params {
	return Params{
		Alpha:           0.18,
		InitialEWMA:     0.5,
		Aggressiveness:  2.2,
		WeightMin:       0.5,
		WeightMax:       3.0,
		StreakPenalty:   0.25,
		MinAttempts:     5,
		HardThreshold:   0.86,
		MediumThreshold: 0.65,
	}
}

// Model holds formula and category statistics
type Model struct {
	Params     Params
	Formulas   map[string]*models.FormulaStat
	Categories map[string]*models.CategoryStat
}

// New creates an empty model
func New(p Params) *Model {
	return &Model{
		Params:     p,
		Formulas:   make(map[string]*models.FormulaStat),
		Categories: make(map[string]*models.CategoryStat),
	}
}

// RecordOutcome applies one answered attempt to the formula and its category
func (m *Model) RecordOutcome(formulaID, category string, correct bool, latencyMs int64, at time.Time) {
	m.apply(m.formula(formulaID), correct, latencyMs, at)
	if category != "" {
		m.apply(m.category(category), correct, latencyMs, at)
	}
}

func (m *Model) formula(id string) *models.FormulaStat {
	s, ok := m.Formulas[id]
	if !ok {
		s = &models.FormulaStat{EWMA: m.Params.InitialEWMA}
		m.Formulas[id] = s
	}
	return s
}

func (m *Model) category(id string) *models.CategoryStat {
	s, ok := m.Categories[id]
	if !ok {
		s = &models.CategoryStat{EWMA: m.Params.InitialEWMA}
		m.Categories[id] = s
	}
	return s
}

func (m *Model) apply(s *models.FormulaStat, correct bool, latencyMs int64, at time.Time) {
	s.Attempts++
	outcome := 0.0
	if correct {
		s.Correct++
		outcome = 1
		s.Streak = max(1, s.Streak+1)
	} else {
		s.Streak = min(-1, s.Streak-1)
	}
	n := float64(s.Attempts)
	s.AvgLatencyMs = (s.AvgLatencyMs*(n-1) + float64(latencyMs)) / n

	a := m.Params.Alpha
	s.EWMA = clamp(a*outcome+(1-a)*s.EWMA, 0, 1)

	if !at.IsZero() {
		t := at
		s.LastAttemptAt = &t
	}
}

// Stat returns a copy of the formula stat, and whether it exists
func (m *Model) Stat(formulaID string) (models.FormulaStat, bool) {
	s, ok := m.Formulas[formulaID]
	if !ok {
		return models.FormulaStat{}, false
	}
	return *s, true
}

// CategoryStat returns a copy of the category stat, and whether it exists
func (m *Model) CategoryStat(category string) (models.CategoryStat, bool) {
	s, ok := m.Categories[category]
	if !ok {
		return models.CategoryStat{}, false
	}
	return *s, true
}

// EWMA returns the formula estimate, or the initial estimate if unseen
func (m *Model) EWMA(formulaID string) float64 {
	if s, ok := m.Formulas[formulaID]; ok {
		return s.EWMA
	}
	return m.Params.InitialEWMA
}

// Streak returns the signed run length for the formula, 0 if unseen
func (m *Model) Streak(formulaID string) int {
	if s, ok := m.Formulas[formulaID]; ok {
		return s.Streak
	}
	return 0
}

// Weight is the selection weight of a formula. Lower mastery or a longer
// failure streak never decreases it.
func (m *Model) Weight(formulaID string) float64 {
	p := m.Params
	ewma := m.EWMA(formulaID)
	streak := m.Streak(formulaID)

	penalty := 1.0
	if streak < 0 {
		penalty = 1 + float64(-streak)*p.StreakPenalty
	}
	w := 1 + (1-ewma)*p.Aggressiveness*penalty
	return clamp(w, p.WeightMin, p.WeightMax)
}

// RecommendedDifficulty maps category mastery to a tier.
// Categories with too few attempts start at easy.
func (m *Model) RecommendedDifficulty(category string) models.Tier {
	s, ok := m.Categories[category]
	if !ok || s.Attempts < m.Params.MinAttempts {
		return models.TierEasy
	}
	switch {
	case s.EWMA >= m.Params.HardThreshold:
		return models.TierHard
	case s.EWMA >= m.Params.MediumThreshold:
		return models.TierMedium
	default:
		return models.TierEasy
	}
}

// FormulaIDs returns the known formula ids, sorted
func (m *Model) FormulaIDs() []string {
	ids := make([]string, 0, len(m.Formulas))
	for id := range m.Formulas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CategoryIDs returns the known categories, sorted
func (m *Model) CategoryIDs() []string {
	ids := make([]string, 0, len(m.Categories))
	for id := range m.Categories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
