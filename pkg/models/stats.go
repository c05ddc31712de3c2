package models

import "time"

// FormulaStat tracks mastery of a single skill (formula).
// Streak is positive on a success run and negative on a failure run, never zero once attempted.
type FormulaStat struct {
	Attempts      int        `json:"attempts"`
	Correct       int        `json:"correct"`
	AvgLatencyMs  float64    `json:"avgLatencyMs"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
	Streak        int        `json:"streak"`
	EWMA          float64    `json:"ewma"`
}

// CategoryStat has the same shape as FormulaStat, aggregated per subject
type CategoryStat = FormulaStat

// Accuracy returns correct/attempts, or 0 without attempts
func (s FormulaStat) Accuracy() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Attempts)
}
