package models

import "time"

// Item is a practice item as registered into the content pool
type Item struct {
	ID             int64  `json:"id" db:"id"`
	FormulaID      string `json:"formulaId" db:"formula_id"`
	Category       string `json:"category" db:"category"`
	DifficultyTier Tier   `json:"difficultyTier" db:"difficulty_tier"`
	Text           string `json:"text,omitempty" db:"text"`
	Answer         string `json:"answer,omitempty" db:"answer"`
	Explanation    string `json:"explanation,omitempty" db:"explanation"`
}

// QuestionPoolEntry is the selection state of a registered item
type QuestionPoolEntry struct {
	ItemID         int64      `json:"itemId"`
	FormulaID      string     `json:"formulaId"`
	Category       string     `json:"category"`
	DifficultyTier Tier       `json:"difficultyTier"`
	TimesSeen      int        `json:"timesSeen"`
	LastSeenAt     *time.Time `json:"lastSeenAt,omitempty"`
	SpacedScore    float64    `json:"spacedScore"`
}

// ReviewItem is a pending spaced review of an item
type ReviewItem struct {
	ItemID      int64     `json:"itemId"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Priority    float64   `json:"priority"`
	Reason      string    `json:"reason"`
}

// Review reasons
const (
	ReasonIncorrect = "incorrect"
	ReasonSpaced    = "spaced"
)

// Candidate is raw content supplied by a generator before it passes the duplicate gate
type Candidate struct {
	Text        string `json:"text"`
	Answer      string `json:"answer"`
	Explanation string `json:"explanation"`
}
