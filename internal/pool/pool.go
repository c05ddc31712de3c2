// Package pool keeps the registry of practice items available for selection.
package pool

import (
	"sort"
	"strings"
	"time"

	"github.com/example/masterybot/pkg/models"
)

// Pool is the registry of candidate items keyed by item id
type Pool struct {
	Entries map[int64]*models.QuestionPoolEntry
	Items   map[int64]models.Item
}

// New creates an empty pool
func New() *Pool {
	return &Pool{
		Entries: make(map[int64]*models.QuestionPoolEntry),
		Items:   make(map[int64]models.Item),
	}
}

// Register adds the item if its id is not known yet and reports whether it was added
func (p *Pool) Register(item models.Item) bool {
	if _, ok := p.Entries[item.ID]; ok {
		return false
	}
	tier := item.DifficultyTier
	if !tier.Valid() {
		tier = models.TierEasy
	}
	item.DifficultyTier = tier
	p.Entries[item.ID] = &models.QuestionPoolEntry{
		ItemID:         item.ID,
		FormulaID:      item.FormulaID,
		Category:       item.Category,
		DifficultyTier: tier,
	}
	p.Items[item.ID] = item
	return true
}

// Entry returns the pool entry for id
func (p *Pool) Entry(id int64) (*models.QuestionPoolEntry, bool) {
	e, ok := p.Entries[id]
	return e, ok
}

// Item returns the registered item with its current tier
func (p *Pool) Item(id int64) (models.Item, bool) {
	item, ok := p.Items[id]
	if !ok {
		return models.Item{}, false
	}
	if e, ok := p.Entries[id]; ok {
		item.DifficultyTier = e.DifficultyTier
	}
	return item, true
}

// Touch records that the item was attempted at the given time.
// A miss raises the spaced score, a hit decays it.
func (p *Pool) Touch(id int64, correct bool, at time.Time) {
	e, ok := p.Entries[id]
	if !ok {
		return
	}
	e.TimesSeen++
	t := at
	e.LastSeenAt = &t
	if correct {
		e.SpacedScore *= 0.5
	} else {
		e.SpacedScore += 1
	}
}

// SetTier updates the item's difficulty tier
func (p *Pool) SetTier(id int64, tier models.Tier) {
	if e, ok := p.Entries[id]; ok {
		e.DifficultyTier = tier
	}
}

// Matches reports whether the entry belongs to subjectFilter.
// An empty filter matches everything; the filter is compared case-insensitively
// against the category.
func Matches(e *models.QuestionPoolEntry, subjectFilter string) bool {
	if subjectFilter == "" {
		return true
	}
	return strings.EqualFold(e.Category, subjectFilter)
}

// PickCandidates returns copies of the entries matching subjectFilter that are
// not in excludeIDs, ordered by item id. It has no side effects.
func (p *Pool) PickCandidates(subjectFilter string, excludeIDs []int64) []models.QuestionPoolEntry {
	excluded := make(map[int64]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}
	out := make([]models.QuestionPoolEntry, 0, len(p.Entries))
	for id, e := range p.Entries {
		if _, skip := excluded[id]; skip {
			continue
		}
		if !Matches(e, subjectFilter) {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

// Len returns the number of registered items
func (p *Pool) Len() int {
	return len(p.Entries)
}

// Texts returns the texts of all registered items
func (p *Pool) Texts() []string {
	out := make([]string, 0, len(p.Items))
	for _, item := range p.Items {
		if item.Text != "" {
			out = append(out, item.Text)
		}
	}
	return out
}
