// Package ledger is the append-only, idempotent log of answered attempts.
//
// Attempts arrive from live answers, imported session summaries and
// backfills. The merge rules guarantee that the same real-world attempt is
// never counted twice:
//
//  1. an entry whose attempt is already recorded is skipped; the attempt is
//     keyed by its presentation id, or by its item id when it has none;
//  2. an item-bearing entry replaces a synthetic entry with the same
//     (formula, calendar day, correct) tuple;
//  3. a synthetic entry is skipped if any entry already has its tuple;
//  4. anything else is appended, dropping the oldest entries beyond the cap.
package ledger

import (
	"fmt"
	"strconv"
	"time"

	"github.com/example/masterybot/internal/mastery"
	"github.com/example/masterybot/pkg/models"
)

// DefaultCap is the default retention cap
const DefaultCap = 10000

// Outcome is the result of an Append
type Outcome int

const (
	OutcomeAppended Outcome = iota
	OutcomeReplaced
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAppended:
		return "appended"
	case OutcomeReplaced:
		return "replaced"
	case OutcomeSkipped:
		return "skipped"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Ledger holds attempt entries in arrival order
type Ledger struct {
	Entries []models.AttemptLogEntry

	cap     int
	loc     *time.Location
	clock   func() time.Time
	byKey   map[string]int
	monthly []models.MonthlySummary
}

// New creates an empty ledger. loc defines calendar days and months;
// clock defines the current month of the rollup.
func New(capacity int, loc *time.Location, clock func() time.Time) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	if loc == nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = time.Now
	}
	l := &Ledger{cap: capacity, loc: loc, clock: clock, byKey: make(map[string]int)}
	l.monthly = l.rollup()
	return l
}

// Restore replaces the ledger contents with previously persisted entries
func (l *Ledger) Restore(entries []models.AttemptLogEntry) {
	l.Entries = append([]models.AttemptLogEntry(nil), entries...)
	if over := len(l.Entries) - l.cap; over > 0 {
		l.Entries = l.Entries[over:]
	}
	l.reindex()
	l.monthly = l.rollup()
}

// Len returns the number of entries
func (l *Ledger) Len() int {
	return len(l.Entries)
}

// Append merges entry into the ledger following the package rules.
// Only malformed entries produce an error; a skip is reported as OutcomeSkipped.
func (l *Ledger) Append(entry models.AttemptLogEntry) (Outcome, error) {
	if entry.FormulaID == "" {
		return OutcomeSkipped, fmt.Errorf("attempt has no formula id")
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = l.clock().UnixMilli()
	}
	if entry.DifficultyTier == "" {
		entry.DifficultyTier = models.TierEasy
	}
	if entry.Source == "" {
		entry.Source = models.SourceLive
		if entry.Synthetic() {
			entry.Source = models.SourceSynthetic
		}
	}

	day := entry.Day(l.loc)
	if key, ok := canonicalKey(entry); ok {
		if _, ok := l.byKey[key]; ok {
			return OutcomeSkipped, nil
		}
		if i := l.findTuple(entry.FormulaID, day, entry.Correct, true); i >= 0 {
			l.Entries[i] = entry
			l.byKey[key] = i
			l.monthly = l.rollup()
			return OutcomeReplaced, nil
		}
	} else if l.findTuple(entry.FormulaID, day, entry.Correct, false) >= 0 {
		return OutcomeSkipped, nil
	}

	l.Entries = append(l.Entries, entry)
	if over := len(l.Entries) - l.cap; over > 0 {
		l.Entries = append(l.Entries[:0:0], l.Entries[over:]...)
		l.reindex()
	} else if key, ok := canonicalKey(entry); ok {
		l.byKey[key] = len(l.Entries) - 1
	}
	l.monthly = l.rollup()
	return OutcomeAppended, nil
}

// findTuple returns the index of the most recent entry matching the tuple,
// restricted to synthetic entries if syntheticOnly, or -1.
func (l *Ledger) findTuple(formulaID, day string, correct, syntheticOnly bool) int {
	for i := len(l.Entries) - 1; i >= 0; i-- {
		e := l.Entries[i]
		if e.FormulaID != formulaID || e.Correct != correct {
			continue
		}
		if syntheticOnly && !e.Synthetic() {
			continue
		}
		if e.Day(l.loc) == day {
			return i
		}
	}
	return -1
}

// canonicalKey identifies an item-bearing entry: by its attempt id when
// set, by its item id otherwise. Synthetic entries have no key.
func canonicalKey(e models.AttemptLogEntry) (string, bool) {
	switch {
	case e.ItemID == nil:
		return "", false
	case e.AttemptID != 0:
		return "attempt:" + strconv.FormatInt(e.AttemptID, 10), true
	default:
		return "item:" + strconv.FormatInt(*e.ItemID, 10), true
	}
}

func (l *Ledger) reindex() {
	l.byKey = make(map[string]int, len(l.Entries))
	for i, e := range l.Entries {
		if key, ok := canonicalKey(e); ok {
			l.byKey[key] = i
		}
	}
}

// HasItem reports whether any attempt for itemID is recorded
func (l *Ledger) HasItem(itemID int64) bool {
	for _, e := range l.Entries {
		if e.ItemID != nil && *e.ItemID == itemID {
			return true
		}
	}
	return false
}

// HasAttempt reports whether the presentation attemptID was answered
func (l *Ledger) HasAttempt(attemptID int64) bool {
	_, ok := l.byKey["attempt:"+strconv.FormatInt(attemptID, 10)]
	return ok
}

// Monthly returns the trailing 12-month summary computed after the last change
func (l *Ledger) Monthly() []models.MonthlySummary {
	return append([]models.MonthlySummary(nil), l.monthly...)
}

// MonthlyRollup recomputes the trailing 12-month summary at the current clock
func (l *Ledger) MonthlyRollup() []models.MonthlySummary {
	l.monthly = l.rollup()
	return l.Monthly()
}

func (l *Ledger) rollup() []models.MonthlySummary {
	now := l.clock().In(l.loc)
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, l.loc)

	out := make([]models.MonthlySummary, 12)
	index := make(map[string]int, 12)
	for i := 0; i < 12; i++ {
		key := first.AddDate(0, i-11, 0).Format("2006-01")
		out[i] = models.MonthlySummary{MonthKey: key}
		index[key] = i
	}
	for _, e := range l.Entries {
		i, ok := index[e.Time().In(l.loc).Format("2006-01")]
		if !ok {
			continue
		}
		out[i].Attempts++
		if e.Correct {
			out[i].Correct++
		}
	}
	for i := range out {
		if out[i].Attempts > 0 {
			out[i].Accuracy = float64(out[i].Correct) / float64(out[i].Attempts)
		}
	}
	return out
}

// RebuildAggregates replays the ledger into a fresh mastery model
func (l *Ledger) RebuildAggregates(p mastery.Params) *mastery.Model {
	m := mastery.New(p)
	for _, e := range l.Entries {
		m.RecordOutcome(e.FormulaID, e.Category, e.Correct, e.LatencyMs, e.Time())
	}
	return m
}
