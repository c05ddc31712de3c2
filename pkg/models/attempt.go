package models

import "time"

// AttemptLogEntry is a single answered attempt as stored in the ledger.
// ItemID is nil for synthetic entries imported from session summaries.
// AttemptID identifies one presentation of the item; when set it is the
// idempotency key, so the same item can be answered again on a later showing.
type AttemptLogEntry struct {
	Timestamp      int64  `json:"ts" db:"ts"` // epoch milliseconds
	ItemID         *int64 `json:"itemId,omitempty" db:"item_id"`
	AttemptID      int64  `json:"attemptId,omitempty" db:"attempt_id"`
	FormulaID      string `json:"formulaId" db:"formula_id"`
	Category       string `json:"category" db:"category"`
	Correct        bool   `json:"correct" db:"correct"`
	LatencyMs      int64  `json:"latencyMs" db:"latency_ms"`
	DifficultyTier Tier   `json:"difficultyTier" db:"difficulty_tier"`
	Source         Source `json:"source" db:"source"`
}

// Time returns the entry timestamp as a time.Time
func (e AttemptLogEntry) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Synthetic reports whether the entry carries no concrete item id
func (e AttemptLogEntry) Synthetic() bool {
	return e.ItemID == nil
}

// Day returns the calendar day key (YYYY-MM-DD) of the entry in loc
func (e AttemptLogEntry) Day(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return e.Time().In(loc).Format("2006-01-02")
}

// MonthlySummary aggregates ledger entries of one calendar month
type MonthlySummary struct {
	MonthKey string  `json:"monthKey"` // YYYY-MM
	Attempts int     `json:"attempts"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
}

// ItemID is a helper for building entries with an item id
func ItemID(id int64) *int64 {
	return &id
}
