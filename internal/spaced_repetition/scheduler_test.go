package spaced_repetition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/masterybot/pkg/models"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func ids(items []models.ReviewItem) []int64 {
	out := make([]int64, len(items))
	for i, r := range items {
		out[i] = r.ItemID
	}
	return out
}

func TestScheduleKeepsQueueOrdered(t *testing.T) {
	s := NewScheduler()
	s.ScheduleReview(1, 30*time.Minute, 0.5, models.ReasonSpaced, t0)
	s.ScheduleReview(2, 5*time.Minute, 2, models.ReasonIncorrect, t0)
	s.ScheduleReview(3, 10*time.Minute, 2, models.ReasonIncorrect, t0)

	assert.Equal(t, []int64{2, 3, 1}, ids(s.Queue))
}

func TestScheduleSupersedesPendingReview(t *testing.T) {
	s := NewScheduler()
	s.ScheduleReview(7, time.Hour, 2, models.ReasonIncorrect, t0)
	s.ScheduleReview(7, 48*time.Hour, 0.5, models.ReasonSpaced, t0)

	require.Equal(t, 1, s.Len())
	r, ok := s.Pending(7)
	require.True(t, ok)
	assert.Equal(t, models.ReasonSpaced, r.Reason)
	assert.Equal(t, t0.Add(48*time.Hour), r.ScheduledAt)
}

func TestDueItemsOrderedByPriorityThenTime(t *testing.T) {
	s := NewScheduler()
	s.ScheduleReview(1, 1*time.Minute, 0.5, models.ReasonSpaced, t0)
	s.ScheduleReview(2, 3*time.Minute, 2, models.ReasonIncorrect, t0)
	s.ScheduleReview(3, 2*time.Minute, 2, models.ReasonIncorrect, t0)
	s.ScheduleReview(4, time.Hour, 2, models.ReasonIncorrect, t0)

	due := s.DueItems(t0.Add(3 * time.Minute))
	assert.Equal(t, []int64{3, 2, 1}, ids(due))

	assert.Empty(t, s.DueItems(t0))
}

func TestRemove(t *testing.T) {
	s := NewScheduler()
	s.ScheduleReview(1, time.Minute, 1, models.ReasonSpaced, t0)
	assert.True(t, s.Remove(1))
	assert.False(t, s.Remove(1))
	assert.Equal(t, 0, s.Len())
}

func TestRestoreDeduplicatesAndSorts(t *testing.T) {
	s := NewScheduler()
	s.Restore([]models.ReviewItem{
		{ItemID: 1, ScheduledAt: t0.Add(time.Hour)},
		{ItemID: 2, ScheduledAt: t0},
		{ItemID: 1, ScheduledAt: t0.Add(2 * time.Hour), Reason: "latest"},
	})
	assert.Equal(t, []int64{2, 1}, ids(s.Queue))
	r, _ := s.Pending(1)
	assert.Equal(t, "latest", r.Reason)
}

func TestPolicyIncorrectDelayByTier(t *testing.T) {
	p := NewPolicy()
	tests := []struct {
		tier models.Tier
		want time.Duration
	}{
		{models.TierHard, 5 * time.Minute},
		{models.TierMedium, 15 * time.Minute},
		{models.TierEasy, 60 * time.Minute},
		{models.Tier("unknown"), 60 * time.Minute},
	}
	for _, tt := range tests {
		delay, prio, reason := p.Next(false, tt.tier, 0.9)
		assert.Equal(t, tt.want, delay, "tier %s", tt.tier)
		assert.Equal(t, 2.0, prio)
		assert.Equal(t, models.ReasonIncorrect, reason)
	}
}

func TestPolicyCorrectDelayStretchesWithMastery(t *testing.T) {
	p := NewPolicy()

	delay, prio, reason := p.Next(true, models.TierEasy, 0)
	assert.Equal(t, 24*time.Hour, delay)
	assert.Equal(t, 0.5, prio)
	assert.Equal(t, models.ReasonSpaced, reason)

	delay, _, _ = p.Next(true, models.TierEasy, 1)
	assert.Equal(t, 8*24*time.Hour, delay)

	prev := time.Duration(0)
	for e := 0.0; e <= 1.0; e += 0.05 {
		d, _, _ := p.Next(true, models.TierMedium, e)
		assert.GreaterOrEqual(t, d, prev)
		assert.GreaterOrEqual(t, d, 24*time.Hour)
		prev = d
	}
}
