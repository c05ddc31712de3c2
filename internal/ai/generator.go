// Package ai supplies candidate practice content: a chat-completions backend
// and a deterministic local generator used when the backend is slow or absent.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/example/masterybot/pkg/models"
)

// ErrGenerationTimeout is returned when the backend call exceeded its deadline or was cancelled
var ErrGenerationTimeout = errors.New("ai: generation timed out")

// Generator supplies raw candidate content for a topic and tier.
// hints are texts the generator should avoid repeating.
type Generator interface {
	RequestCandidate(ctx context.Context, topic string, tier models.Tier, hints []string) (models.Candidate, error)
}

type template struct {
	text   string
	answer func(a, b int) int
}

var templates = []template{
	{"[%s] Compute %d × %d.", func(a, b int) int { return a * b }},
	{"[%s] What is %d plus %d?", func(a, b int) int { return a + b }},
	{"[%s] Subtract %[3]d from %[2]d.", func(a, b int) int { return a - b }},
	{"[%s] A box holds %d rows of %d tiles. How many tiles are there?", func(a, b int) int { return a * b }},
	{"[%s] Find the remainder when %d is divided by %d.", func(a, b int) int { return a % b }},
	{"[%s] Double %d, then add %d. What do you get?", func(a, b int) int { return 2*a + b }},
}

// LocalGenerator builds items from fixed templates. The same (topic, tier, n)
// always yields the same candidate.
type LocalGenerator struct {
	counter atomic.Int64
}

func NewLocalGenerator() *LocalGenerator {
	return &LocalGenerator{}
}

// Candidate returns the n-th local candidate for topic at tier
func (g *LocalGenerator) Candidate(topic string, tier models.Tier, n int) models.Candidate {
	if n < 0 {
		n = -n
	}
	lo, span := operandRange(tier)
	a := lo + (n*7+3)%span
	b := lo + (n*13+5)%span
	t := templates[n%len(templates)]

	return models.Candidate{
		Text:        fmt.Sprintf(t.text, topic, a, b),
		Answer:      strconv.Itoa(t.answer(a, b)),
		Explanation: fmt.Sprintf("Apply the operation to %d and %d.", a, b),
	}
}

// RequestCandidate lets the local generator stand in for a backend
func (g *LocalGenerator) RequestCandidate(ctx context.Context, topic string, tier models.Tier, _ []string) (models.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return models.Candidate{}, fmt.Errorf("%w: %v", ErrGenerationTimeout, err)
	}
	n := int(g.counter.Add(1) - 1)
	return g.Candidate(topic, tier, n), nil
}

func operandRange(tier models.Tier) (int, int) {
	switch tier {
	case models.TierHard:
		return 100, 900
	case models.TierMedium:
		return 10, 90
	default:
		return 1, 20
	}
}
