package models

import (
	"fmt"
	"strings"
)

// Tier is the difficulty tier of a practice item
type Tier string

const (
	TierEasy   Tier = "easy"
	TierMedium Tier = "medium"
	TierHard   Tier = "hard"
)

// Tiers lists the tiers from easiest to hardest
var Tiers = []Tier{TierEasy, TierMedium, TierHard}

// Rank returns the position of the tier in Tiers, or -1 if unknown
func (t Tier) Rank() int {
	for i, tier := range Tiers {
		if tier == t {
			return i
		}
	}
	return -1
}

// Valid reports whether the tier is one of the known tiers
func (t Tier) Valid() bool {
	return t.Rank() >= 0
}

// ParseTier parses a tier name, case-insensitively
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown difficulty tier %q", s)
	}
	return t, nil
}

// Source identifies where an attempt event came from
type Source string

const (
	SourceLive      Source = "live"
	SourceSynthetic Source = "synthetic"
	SourceBackfill  Source = "backfill"
	SourceStudy     Source = "study"
	SourceQuiz      Source = "quiz"
	SourceFullTest  Source = "full_test"
)

// ParseSource parses an attempt source; empty input means synthetic
func ParseSource(s string) (Source, error) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	switch src {
	case "":
		return SourceSynthetic, nil
	case SourceLive, SourceSynthetic, SourceBackfill, SourceStudy, SourceQuiz, SourceFullTest:
		return src, nil
	}
	return "", fmt.Errorf("unknown attempt source %q", s)
}
