// Package spaced_repetition schedules spaced reviews of practice items.
package spaced_repetition

import (
	"sort"
	"time"

	"github.com/example/masterybot/pkg/models"
)

// Scheduler is a queue of pending reviews ordered by scheduled time.
// There is at most one pending review per item.
type Scheduler struct {
	Queue []models.ReviewItem
}

// NewScheduler creates an empty scheduler
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// ScheduleReview queues a review of itemID at now+delay, replacing any pending
// review of the same item.
func (s *Scheduler) ScheduleReview(itemID int64, delay time.Duration, priority float64, reason string, now time.Time) models.ReviewItem {
	s.Remove(itemID)
	r := models.ReviewItem{
		ItemID:      itemID,
		ScheduledAt: now.Add(delay),
		Priority:    priority,
		Reason:      reason,
	}
	// insert after any review with the same time to keep arrival order
	i := sort.Search(len(s.Queue), func(i int) bool {
		return s.Queue[i].ScheduledAt.After(r.ScheduledAt)
	})
	s.Queue = append(s.Queue, models.ReviewItem{})
	copy(s.Queue[i+1:], s.Queue[i:])
	s.Queue[i] = r
	return r
}

// DueItems returns reviews scheduled at or before now, highest priority first,
// ties broken by the earliest scheduled time.
func (s *Scheduler) DueItems(now time.Time) []models.ReviewItem {
	var due []models.ReviewItem
	for _, r := range s.Queue {
		if r.ScheduledAt.After(now) {
			break
		}
		due = append(due, r)
	}
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	return due
}

// Remove drops the pending review of itemID and reports whether one existed
func (s *Scheduler) Remove(itemID int64) bool {
	for i, r := range s.Queue {
		if r.ItemID == itemID {
			s.Queue = append(s.Queue[:i], s.Queue[i+1:]...)
			return true
		}
	}
	return false
}

// Pending returns the pending review of itemID
func (s *Scheduler) Pending(itemID int64) (models.ReviewItem, bool) {
	for _, r := range s.Queue {
		if r.ItemID == itemID {
			return r, true
		}
	}
	return models.ReviewItem{}, false
}

// Len returns the number of pending reviews
func (s *Scheduler) Len() int {
	return len(s.Queue)
}

// Restore rebuilds the queue order after loading persisted reviews
func (s *Scheduler) Restore(items []models.ReviewItem) {
	seen := make(map[int64]int, len(items))
	queue := make([]models.ReviewItem, 0, len(items))
	for _, r := range items {
		if i, ok := seen[r.ItemID]; ok {
			// keep the latest scheduled review per item
			if r.ScheduledAt.After(queue[i].ScheduledAt) {
				queue[i] = r
			}
			continue
		}
		seen[r.ItemID] = len(queue)
		queue = append(queue, r)
	}
	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].ScheduledAt.Before(queue[j].ScheduledAt)
	})
	s.Queue = queue
}
