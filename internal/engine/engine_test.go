package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/masterybot/internal/ai"
	"github.com/example/masterybot/internal/config"
	"github.com/example/masterybot/internal/dedup"
	"github.com/example/masterybot/internal/ledger"
	"github.com/example/masterybot/internal/signatures"
	"github.com/example/masterybot/pkg/models"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestEngine(t *testing.T, opts Options) (*Engine, *testClock) {
	t.Helper()
	clk := &testClock{t: time.Date(2026, 10, 17, 15, 0, 0, 0, time.UTC)}
	if opts.Config.EWMAAlpha == 0 {
		opts.Config = config.DefaultEngineConfig()
	}
	opts.Clock = clk.Now
	if opts.Seed == 0 {
		opts.Seed = 7
	}
	return New(NewState("device-1"), opts), clk
}

func register(t *testing.T, e *Engine, id int64, formula, category string, tier models.Tier) {
	t.Helper()
	_, added := e.RegisterItem(models.Item{ID: id, FormulaID: formula, Category: category, DifficultyTier: tier, Text: formula})
	require.True(t, added)
}

func live(id int64, correct bool) models.AttemptLogEntry {
	return models.AttemptLogEntry{ItemID: models.ItemID(id), Correct: correct, LatencyMs: 2000}
}

func TestCanonicalAttemptSupersedesImportedSummary(t *testing.T) {
	e, clk := newTestEngine(t, Options{})
	register(t, e, 42, "f1", "motion", models.TierEasy)

	morning := clk.Now().Add(-6 * time.Hour)
	out, err := e.RecordAttempt(context.Background(), models.AttemptLogEntry{
		Timestamp: morning.UnixMilli(), FormulaID: "f1", Category: "motion", Correct: true,
	})
	require.NoError(t, err)
	require.Equal(t, ledger.OutcomeAppended, out)

	out, err = e.RecordAttempt(context.Background(), live(42, true))
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeReplaced, out)
	assert.Equal(t, 1, e.LedgerLen())

	st, ok := e.Stat("f1")
	require.True(t, ok)
	assert.Equal(t, 1, st.Attempts, "counted once overall")

	item, _ := e.Item(42)
	pe := e.Snapshot().Pool[0]
	assert.Equal(t, item.ID, pe.ItemID)
	assert.Equal(t, 1, pe.TimesSeen, "item state follows the canonical attempt")
	assert.False(t, e.Reconcile(false).Drifted())
}

func TestRecordAttemptIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	register(t, e, 1, "f1", "motion", models.TierEasy)

	out, err := e.RecordAttempt(context.Background(), live(1, false))
	require.NoError(t, err)
	require.Equal(t, ledger.OutcomeAppended, out)
	before := e.Snapshot()

	out, err = e.RecordAttempt(context.Background(), live(1, true))
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeSkipped, out)

	after := e.Snapshot()
	assert.Equal(t, before.Ledger, after.Ledger)
	assert.Equal(t, before.Formulas, after.Formulas)
	assert.Equal(t, before.Pool, after.Pool)
	assert.Equal(t, before.Reviews, after.Reviews)
}

func TestRecordAttemptRejectsMissingFormula(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	_, err := e.RecordAttempt(context.Background(), live(99, true))
	assert.Error(t, err, "unregistered item carries no formula")
}

func TestMissedItemComesBackAsReview(t *testing.T) {
	e, clk := newTestEngine(t, Options{})
	register(t, e, 1, "f1", "motion", models.TierEasy)
	register(t, e, 2, "f2", "motion", models.TierEasy)

	_, err := e.RecordAttempt(context.Background(), live(1, false))
	require.NoError(t, err)
	assert.Equal(t, 0, e.DueCount())

	clk.Advance(61 * time.Minute)
	assert.Equal(t, 1, e.DueCount())

	item, served := e.NextItem(context.Background(), "motion", []int64{1})
	assert.Equal(t, int64(1), item.ID, "reviews ignore the exclusion list")
	assert.True(t, served.FromReview)
	assert.Equal(t, 0, e.DueCount(), "review consumed")
}

func TestItemTierFollowsFormulaStreak(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	for id := int64(1); id <= 6; id++ {
		register(t, e, id, "f1", "motion", models.TierEasy)
	}
	for id := int64(1); id <= 6; id++ {
		_, err := e.RecordAttempt(context.Background(), live(id, true))
		require.NoError(t, err)
	}

	tiers := make([]models.Tier, 0, 6)
	for id := int64(1); id <= 6; id++ {
		item, _ := e.Item(id)
		tiers = append(tiers, item.DifficultyTier)
	}
	assert.Equal(t, []models.Tier{
		models.TierEasy, models.TierEasy, models.TierMedium,
		models.TierMedium, models.TierMedium, models.TierMedium,
	}, tiers)

	register(t, e, 7, "f1", "motion", models.TierMedium)
	_, err := e.RecordAttempt(context.Background(), live(7, true))
	require.NoError(t, err)
	item, _ := e.Item(7)
	assert.Equal(t, models.TierHard, item.DifficultyTier, "streak 7 clears the medium threshold")
}

func TestRepeatedAnswersOnOneItemPromoteIt(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	register(t, e, 1, "f1", "motion", models.TierEasy)

	var tiers []models.Tier
	for attempt := int64(1); attempt <= 8; attempt++ {
		entry := live(1, true)
		entry.AttemptID = attempt
		out, err := e.RecordAttempt(context.Background(), entry)
		require.NoError(t, err)
		require.Equal(t, ledger.OutcomeAppended, out)
		item, _ := e.Item(1)
		tiers = append(tiers, item.DifficultyTier)
	}

	assert.Equal(t, []models.Tier{
		models.TierEasy, models.TierEasy, models.TierMedium, models.TierMedium,
		models.TierHard, models.TierHard, models.TierHard, models.TierHard,
	}, tiers)
	st, ok := e.Stat("f1")
	require.True(t, ok)
	assert.Equal(t, 8, st.Attempts)
	assert.Equal(t, 8, st.Streak)
	assert.Equal(t, 8, e.LedgerLen())
}

func TestAnsweredReviewSchedulesTheNextOne(t *testing.T) {
	e, clk := newTestEngine(t, Options{})
	ctx := context.Background()
	register(t, e, 1, "f1", "motion", models.TierEasy)
	register(t, e, 2, "f2", "motion", models.TierEasy)

	miss := live(1, false)
	miss.AttemptID = 100
	_, err := e.RecordAttempt(ctx, miss)
	require.NoError(t, err)

	clk.Advance(61 * time.Minute)
	item, served := e.NextItem(ctx, "motion", nil)
	require.True(t, served.FromReview)
	require.Equal(t, int64(1), item.ID)
	assert.NotZero(t, served.AttemptID)
	_, pending := e.reviews.Pending(1)
	require.False(t, pending, "serving the review consumes it")

	answer := live(1, true)
	answer.AttemptID = served.AttemptID
	out, err := e.RecordAttempt(ctx, answer)
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeAppended, out)

	next, pending := e.reviews.Pending(1)
	require.True(t, pending)
	assert.Equal(t, models.ReasonSpaced, next.Reason)
	assert.True(t, next.ScheduledAt.After(clk.Now()))

	st, _ := e.Stat("f1")
	assert.Equal(t, 2, st.Attempts)

	out, err = e.RecordAttempt(ctx, answer)
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeSkipped, out, "the same presentation is answered once")
}

func TestEveryPresentationGetsANewAttemptID(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()
	seen := make(map[int64]bool)
	for i := 0; i < 5; i++ {
		_, served := e.NextItem(ctx, "algebra", nil)
		assert.False(t, seen[served.AttemptID])
		seen[served.AttemptID] = true
	}
}

type blockingGenerator struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingGenerator) RequestCandidate(ctx context.Context, _ string, _ models.Tier, _ []string) (models.Candidate, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return models.Candidate{Text: "Why does ice float on water?", Answer: "it is less dense"}, nil
	case <-ctx.Done():
		return models.Candidate{}, ai.ErrGenerationTimeout
	}
}

func TestAttemptsAreNotBlockedByGeneration(t *testing.T) {
	gen := &blockingGenerator{started: make(chan struct{}), release: make(chan struct{})}
	cfg := config.DefaultEngineConfig()
	cfg.GenerationTimeout = time.Minute
	e, _ := newTestEngine(t, Options{Config: cfg, Generator: gen})
	register(t, e, 1, "f1", "motion", models.TierEasy)
	ctx := context.Background()

	generated := make(chan models.Item)
	go func() {
		item, _ := e.NextItem(ctx, "physics", nil)
		generated <- item
	}()
	<-gen.started

	recorded := make(chan error)
	go func() {
		_, err := e.RecordAttempt(ctx, live(1, true))
		recorded <- err
	}()
	select {
	case err := <-recorded:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RecordAttempt waited for the generation backend")
	}

	close(gen.release)
	item := <-generated
	assert.Equal(t, "it is less dense", item.Answer)
	got, ok := e.Item(item.ID)
	require.True(t, ok)
	assert.Equal(t, "physics", got.Category)
}

func TestNextItemWithoutBackendServesLocalItems(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	first, served := e.NextItem(context.Background(), "algebra", nil)
	assert.True(t, served.Fallback)
	assert.Equal(t, "no_backend", served.Reason)
	assert.Equal(t, "algebra", first.Category)
	assert.NotEmpty(t, first.Text)
	assert.Equal(t, models.TierEasy, first.DifficultyTier)

	again, served := e.NextItem(context.Background(), "algebra", nil)
	assert.Equal(t, first.ID, again.ID, "registered items are selected before generating")
	assert.False(t, served.Fallback)

	second, _ := e.NextItem(context.Background(), "algebra", []int64{first.ID})
	assert.NotEqual(t, first.ID, second.ID)
	assert.False(t, dedup.IsDuplicate(first.Text, second.Text, 0.8))
}

type stubGenerator struct {
	mu    sync.Mutex
	calls int
	reply func(ctx context.Context, n int) (models.Candidate, error)
}

func (s *stubGenerator) RequestCandidate(ctx context.Context, _ string, _ models.Tier, _ []string) (models.Candidate, error) {
	s.mu.Lock()
	n := s.calls
	s.calls++
	s.mu.Unlock()
	return s.reply(ctx, n)
}

func TestNextItemUsesGenerator(t *testing.T) {
	gen := &stubGenerator{reply: func(context.Context, int) (models.Candidate, error) {
		return models.Candidate{Text: "A train leaves at 9 and arrives at 11. How long is the trip?", Answer: "2h"}, nil
	}}
	e, _ := newTestEngine(t, Options{Generator: gen})

	item, served := e.NextItem(context.Background(), "motion", nil)
	assert.True(t, served.Generated)
	assert.Equal(t, "2h", item.Answer)
	assert.Equal(t, 1, gen.calls)
}

func TestNextItemFallsBackOnTimeout(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	cfg.GenerationTimeout = 20 * time.Millisecond
	cfg.GateMaxAttempts = 2
	gen := &stubGenerator{reply: func(ctx context.Context, _ int) (models.Candidate, error) {
		<-ctx.Done()
		return models.Candidate{}, ai.ErrGenerationTimeout
	}}
	e, _ := newTestEngine(t, Options{Config: cfg, Generator: gen})

	start := time.Now()
	item, served := e.NextItem(context.Background(), "motion", nil)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, served.Fallback)
	assert.Equal(t, "timeout", served.Reason)
	assert.NotEmpty(t, item.Text)
}

func TestNextItemFallsBackOnDuplicates(t *testing.T) {
	gen := &stubGenerator{reply: func(context.Context, int) (models.Candidate, error) {
		return models.Candidate{Text: "A car travels at 50 mph for 2 hours. How far does it go?"}, nil
	}}
	store := signatures.NewMemoryStore()
	e, _ := newTestEngine(t, Options{Generator: gen, Signatures: store})

	first, served := e.NextItem(context.Background(), "motion", nil)
	require.True(t, served.Generated)

	second, served := e.NextItem(context.Background(), "motion", []int64{first.ID})
	assert.True(t, served.Fallback)
	assert.Equal(t, "duplicate", served.Reason)
	assert.NotEqual(t, first.Text, second.Text)
	assert.Equal(t, 1+dedup.DefaultGateConfig().MaxAttempts, gen.calls)
}

func TestReconcileReportsAndRepairsDrift(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	register(t, e, 1, "f1", "motion", models.TierEasy)
	_, err := e.RecordAttempt(context.Background(), live(1, true))
	require.NoError(t, err)
	require.False(t, e.Reconcile(true).Drifted())

	// a caller bypassing the ledger
	e.mastery.RecordOutcome("f1", "motion", false, 100, time.Time{})

	report := e.Reconcile(false)
	require.True(t, report.Drifted())
	assert.False(t, report.Applied)
	require.Len(t, report.Formulas, 1)
	assert.Equal(t, StatDrift{Key: "f1", LiveAttempts: 2, LedgerAttempts: 1, LiveCorrect: 1, LedgerCorrect: 1}, report.Formulas[0])

	report = e.Reconcile(true)
	assert.True(t, report.Applied)
	st, _ := e.Stat("f1")
	assert.Equal(t, 1, st.Attempts)
	assert.False(t, e.Reconcile(false).Drifted())
}

func TestMonthlyIncludesCurrentMonth(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	register(t, e, 1, "f1", "motion", models.TierEasy)
	_, err := e.RecordAttempt(context.Background(), live(1, true))
	require.NoError(t, err)

	m := e.Monthly()
	require.Len(t, m, 12)
	assert.Equal(t, "2026-10", m[11].MonthKey)
	assert.Equal(t, 1, m[11].Attempts)
}

func TestRegistryPersistsAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore()
	clk := &testClock{t: time.Date(2026, 10, 17, 15, 0, 0, 0, time.UTC)}
	opts := Options{Clock: clk.Now, Seed: 3}

	reg := NewRegistry(store, opts)
	e, err := reg.Get(ctx, "alice")
	require.NoError(t, err)
	item, firstServed := e.NextItem(ctx, "motion", nil)
	_, err = e.RecordAttempt(ctx, live(item.ID, false))
	require.NoError(t, err)

	other, err := reg.Get(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, other.DeviceID())
	require.NoError(t, reg.SaveAll(ctx))

	restarted := NewRegistry(store, opts)
	e2, err := restarted.Get(ctx, "alice")
	require.NoError(t, err)
	st, ok := e2.Stat(item.FormulaID)
	require.True(t, ok)
	assert.Equal(t, 1, st.Attempts)
	assert.Equal(t, 1, e2.LedgerLen())

	out, err := e2.RecordAttempt(ctx, live(item.ID, true))
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeSkipped, out, "idempotence survives a restart")

	next, nextServed := e2.NextItem(ctx, "motion", []int64{item.ID})
	assert.Greater(t, next.ID, item.ID, "item ids keep increasing")
	assert.Greater(t, nextServed.AttemptID, firstServed.AttemptID, "attempt ids keep increasing")

	clk.Advance(2 * time.Hour)
	due, served := e2.NextItem(ctx, "motion", nil)
	assert.True(t, served.FromReview)
	assert.Equal(t, item.ID, due.ID)
}

type failingStore struct{ err error }

func (f failingStore) Load(context.Context, string) (*EngineState, error) { return nil, f.err }
func (f failingStore) Save(context.Context, *EngineState) error           { return f.err }

func TestRegistryErrors(t *testing.T) {
	ctx := context.Background()
	broken := errors.New("disk on fire")
	reg := NewRegistry(failingStore{err: broken}, Options{})
	_, err := reg.Get(ctx, "bob")
	assert.True(t, errors.Is(err, broken))

	missing := NewRegistry(failingStore{err: ErrStateMissing}, Options{})
	e, err := missing.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", e.DeviceID())
	assert.Error(t, missing.SaveAll(ctx))
	assert.NoError(t, missing.Save(ctx, "nobody"))
}
