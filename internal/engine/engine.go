// Package engine wires mastery tracking, review scheduling, difficulty
// adjustment, item selection and the attempt ledger into a per-device engine.
//
// An attempt flows ledger -> mastery -> review scheduling -> difficulty.
// Item retrieval flows due reviews -> pool -> weighted sampling, and falls
// back to generating new content through the duplicate gate.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/masterybot/internal/ai"
	"github.com/example/masterybot/internal/config"
	"github.com/example/masterybot/internal/dedup"
	"github.com/example/masterybot/internal/difficulty"
	"github.com/example/masterybot/internal/ledger"
	"github.com/example/masterybot/internal/logger"
	"github.com/example/masterybot/internal/mastery"
	"github.com/example/masterybot/internal/metrics"
	"github.com/example/masterybot/internal/pool"
	"github.com/example/masterybot/internal/selector"
	"github.com/example/masterybot/internal/spaced_repetition"
	"github.com/example/masterybot/pkg/models"
)

const (
	defaultCategory = "general"
	maxHints        = 10
)

// Options configure an Engine. Zero values select defaults.
type Options struct {
	Config config.EngineConfig
	// Generator supplies new content; nil serves local items only
	Generator ai.Generator
	// Signatures is the cross-run signature store; nil disables it
	Signatures dedup.Store
	Embedder   dedup.Embedder
	Logger     *logger.Logger
	Clock      func() time.Time
	// Seed of the selection policy; 0 seeds from the clock
	Seed int64
}

// Served describes how NextItem produced its item
type Served struct {
	// AttemptID identifies this presentation; answers to it are recorded once
	AttemptID  int64
	FromReview bool
	Generated  bool
	Fallback   bool
	// Reason is set when Fallback is true: duplicate, timeout, error or no_backend
	Reason string
}

// Engine is the adaptive engine of one device. It is safe for concurrent
// use; operations are serialized so attempts apply in arrival order.
// Content generation runs outside mu, one request at a time under genMu,
// so a slow backend does not hold up attempts.
type Engine struct {
	mu    sync.Mutex
	genMu sync.Mutex

	cfg      config.EngineConfig
	deviceID string
	log      *logger.Logger
	clock    func() time.Time

	mastery  *mastery.Model
	pool     *pool.Pool
	reviews  *spaced_repetition.Scheduler
	policy   *spaced_repetition.Policy
	adjuster *difficulty.Adjuster
	selector *selector.Selector
	ledger   *ledger.Ledger
	gate     *dedup.Gate

	generator     ai.Generator
	local         *ai.LocalGenerator
	nextItemID    int64
	nextAttemptID int64
}

// New builds an engine from a migrated state
func New(state *EngineState, opts Options) *Engine {
	cfg := opts.Config
	if cfg.EWMAAlpha == 0 {
		cfg = config.DefaultEngineConfig()
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	seed := opts.Seed
	if seed == 0 {
		seed = clock().UnixNano()
	}
	if state == nil {
		state = NewState("")
	}

	e := &Engine{
		cfg:        cfg,
		deviceID:   state.DeviceID,
		log:        log.With("device_id", state.DeviceID),
		clock:      clock,
		mastery:    mastery.New(masteryParams(cfg)),
		pool:       pool.New(),
		reviews:    spaced_repetition.NewScheduler(),
		policy:     reviewPolicy(cfg),
		adjuster:   adjuster(cfg),
		ledger:     ledger.New(cfg.LedgerCap, cfg.Location(), clock),
		generator:  opts.Generator,
		local:      ai.NewLocalGenerator(),
		nextItemID: state.NextItemID,

		nextAttemptID: state.NextAttemptID,
	}
	e.selector = selector.New(e.reviews, e.pool, e.mastery, selector.NewPolicy(cfg.ExplorationRate, seed), selectorParams(cfg))
	e.gate = dedup.NewGate(gateConfig(cfg), opts.Signatures, opts.Embedder, e.log)
	e.restore(state)
	return e
}

func (e *Engine) restore(s *EngineState) {
	for id, st := range s.Formulas {
		c := *st
		e.mastery.Formulas[id] = &c
	}
	for id, st := range s.Categories {
		c := *st
		e.mastery.Categories[id] = &c
	}
	for _, item := range s.Items {
		e.pool.Register(item)
	}
	for _, entry := range s.Pool {
		if cur, ok := e.pool.Entry(entry.ItemID); ok {
			*cur = entry
		}
	}
	e.reviews.Restore(s.Reviews)
	e.ledger.Restore(s.Ledger)
	e.gate.Seed(e.pool.Texts()...)
	if e.nextItemID < 1 {
		e.nextItemID = 1
	}
	if e.nextAttemptID < 1 {
		e.nextAttemptID = 1
	}
}

// mintAttempt must be called with e.mu held
func (e *Engine) mintAttempt() int64 {
	id := e.nextAttemptID
	e.nextAttemptID++
	return id
}

// DeviceID returns the id of the device this engine belongs to
func (e *Engine) DeviceID() string {
	return e.deviceID
}

// RecordAttempt merges an attempt into the ledger and, unless it was a
// duplicate, updates the derived state. A replaced synthetic entry was already
// counted by the mastery model, so only item state is updated for it.
func (e *Engine) RecordAttempt(ctx context.Context, entry models.AttemptLogEntry) (ledger.Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	if entry.ItemID != nil {
		if item, ok := e.pool.Item(*entry.ItemID); ok {
			if entry.FormulaID == "" {
				entry.FormulaID = item.FormulaID
			}
			if entry.Category == "" {
				entry.Category = item.Category
			}
			if entry.DifficultyTier == "" {
				entry.DifficultyTier = item.DifficultyTier
			}
		}
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = now.UnixMilli()
	}
	if entry.AttemptID >= e.nextAttemptID {
		e.nextAttemptID = entry.AttemptID + 1
	}

	outcome, err := e.ledger.Append(entry)
	if err != nil {
		return outcome, fmt.Errorf("failed to append attempt: %w", err)
	}
	metrics.LedgerAppends.WithLabelValues(outcome.String()).Inc()

	switch outcome {
	case ledger.OutcomeSkipped:
		e.log.Debug("Attempt already recorded", "formula_id", entry.FormulaID, "item_id", entry.ItemID, "source", entry.Source)
		return outcome, nil
	case ledger.OutcomeAppended:
		e.mastery.RecordOutcome(entry.FormulaID, entry.Category, entry.Correct, entry.LatencyMs, entry.Time())
	}

	if entry.ItemID != nil {
		e.afterItemAttempt(*entry.ItemID, entry, now)
	}
	return outcome, nil
}

func (e *Engine) afterItemAttempt(itemID int64, entry models.AttemptLogEntry, now time.Time) {
	poolEntry, ok := e.pool.Entry(itemID)
	if !ok {
		e.log.Debug("Attempt for unregistered item", "item_id", itemID)
		return
	}
	e.pool.Touch(itemID, entry.Correct, entry.Time())

	tier := poolEntry.DifficultyTier
	delay, priority, reason := e.policy.Next(entry.Correct, tier, e.mastery.EWMA(entry.FormulaID))
	e.reviews.ScheduleReview(itemID, delay, priority, reason, now)

	if next := e.adjuster.Next(tier, e.mastery.Streak(entry.FormulaID)); next != tier {
		e.pool.SetTier(itemID, next)
		e.log.Debug("Item tier changed", "item_id", itemID, "from", tier, "to", next)
	}
}

// PickNext returns the next item id for subjectFilter, or false when the
// caller has to request new content
func (e *Engine) PickNext(subjectFilter string, excludeIDs []int64) (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	choice, ok := e.selector.PickNext(subjectFilter, excludeIDs, e.clock())
	return choice.ItemID, ok
}

// NextItem always returns an item: a selected one when available, otherwise
// a newly generated one admitted by the duplicate gate, otherwise a local one.
// Every call is a new presentation with its own Served.AttemptID.
func (e *Engine) NextItem(ctx context.Context, subjectFilter string, excludeIDs []int64) (models.Item, Served) {
	e.mu.Lock()
	if choice, ok := e.selector.PickNext(subjectFilter, excludeIDs, e.clock()); ok {
		defer e.mu.Unlock()
		item, _ := e.pool.Item(choice.ItemID)
		return item, Served{AttemptID: e.mintAttempt(), FromReview: choice.FromReview}
	}
	req := e.generationRequest(subjectFilter)
	e.mu.Unlock()

	e.genMu.Lock()
	c, served := e.generate(ctx, req)
	e.genMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	item := models.Item{
		ID:             e.nextItemID,
		FormulaID:      req.formulaID,
		Category:       req.category,
		DifficultyTier: req.tier,
		Text:           c.Text,
		Answer:         c.Answer,
		Explanation:    c.Explanation,
	}
	e.nextItemID++
	e.pool.Register(item)
	served.AttemptID = e.mintAttempt()
	return item, served
}

// generationRequest is what generate needs from the engine state
type generationRequest struct {
	category  string
	formulaID string
	tier      models.Tier
	hints     []string
	poolSize  int
}

// generationRequest must be called with e.mu held
func (e *Engine) generationRequest(subjectFilter string) generationRequest {
	category := strings.TrimSpace(subjectFilter)
	if category == "" {
		category = defaultCategory
	}
	return generationRequest{
		category:  category,
		formulaID: e.weakestFormula(category),
		tier:      e.mastery.RecommendedDifficulty(category),
		hints:     e.hints(),
		poolSize:  e.pool.Len(),
	}
}

// generate runs the gate without touching engine state, so it is called
// without e.mu
func (e *Engine) generate(ctx context.Context, req generationRequest) (models.Candidate, Served) {
	var lastErr error
	generate := func(ctx context.Context, _ int) (models.Candidate, error) {
		if e.generator == nil {
			return models.Candidate{}, errNoBackend
		}
		genCtx, cancel := context.WithTimeout(ctx, e.cfg.GenerationTimeout)
		defer cancel()
		c, err := e.generator.RequestCandidate(genCtx, req.formulaID, req.tier, req.hints)
		if err != nil {
			lastErr = err
		}
		return c, err
	}
	fallback := func(n int) models.Candidate {
		return e.local.Candidate(req.formulaID, req.tier, req.poolSize+n)
	}

	c, adm := e.gate.Admit(ctx, generate, fallback)

	for _, reason := range adm.Rejections {
		metrics.GateDecisions.WithLabelValues(reason).Inc()
	}
	metrics.GateDecisions.WithLabelValues("accepted").Inc()

	served := Served{Generated: !adm.Fallback, Fallback: adm.Fallback}
	if adm.Fallback {
		switch {
		case errors.Is(adm.Err, dedup.ErrRejectedDuplicate):
			served.Reason = "duplicate"
		case e.generator == nil:
			served.Reason = "no_backend"
		case errors.Is(lastErr, ai.ErrGenerationTimeout):
			served.Reason = "timeout"
		default:
			served.Reason = "error"
		}
		metrics.GenerationFallbacks.WithLabelValues(served.Reason).Inc()
		if e.generator != nil {
			e.log.Warn("Serving local fallback item", "reason", served.Reason, "attempts", adm.Attempts, "failures", adm.Failures, "error", lastErr)
		}
	}
	return c, served
}

var errNoBackend = errors.New("no generation backend configured")

// weakestFormula picks the known formula of category with the highest
// selection weight, or the category itself when none is known
func (e *Engine) weakestFormula(category string) string {
	best, bestWeight := "", -1.0
	seen := make(map[string]struct{})
	for _, entry := range e.pool.PickCandidates(category, nil) {
		if _, ok := seen[entry.FormulaID]; ok {
			continue
		}
		seen[entry.FormulaID] = struct{}{}
		if w := e.mastery.Weight(entry.FormulaID); w > bestWeight {
			best, bestWeight = entry.FormulaID, w
		}
	}
	if best == "" {
		return category
	}
	return best
}

// hints returns the texts of the most recently registered items
func (e *Engine) hints() []string {
	ids := make([]int64, 0, len(e.pool.Items))
	for id := range e.pool.Items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	if len(ids) > maxHints {
		ids = ids[:maxHints]
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if t := e.pool.Items[id].Text; t != "" {
			out = append(out, t)
		}
	}
	return out
}

// RegisterItem adds an externally supplied item to the pool. Items with
// id 0 get the next free id.
func (e *Engine) RegisterItem(item models.Item) (models.Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if item.ID == 0 {
		item.ID = e.nextItemID
	}
	if item.ID >= e.nextItemID {
		e.nextItemID = item.ID + 1
	}
	added := e.pool.Register(item)
	if added && item.Text != "" {
		e.gate.Seed(item.Text)
	}
	stored, _ := e.pool.Item(item.ID)
	return stored, added
}

// Item returns a registered item with its current tier
func (e *Engine) Item(id int64) (models.Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool.Item(id)
}

// Stat returns the statistics of a formula
func (e *Engine) Stat(formulaID string) (models.FormulaStat, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mastery.Stat(formulaID)
}

// CategoryStats returns a copy of all category statistics
func (e *Engine) CategoryStats() map[string]models.CategoryStat {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]models.CategoryStat, len(e.mastery.Categories))
	for id, st := range e.mastery.Categories {
		out[id] = *st
	}
	return out
}

// DueCount returns the number of reviews due now
func (e *Engine) DueCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.reviews.DueItems(e.clock()))
}

// Monthly returns the trailing 12-month summary at the current time
func (e *Engine) Monthly() []models.MonthlySummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.MonthlyRollup()
}

// LedgerLen returns the number of ledger entries
func (e *Engine) LedgerLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Len()
}

// Snapshot returns a deep copy of the engine state for persistence
func (e *Engine) Snapshot() *EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := &EngineState{
		Version:    StateVersion,
		DeviceID:   e.deviceID,
		Formulas:   make(map[string]*models.FormulaStat, len(e.mastery.Formulas)),
		Categories: make(map[string]*models.CategoryStat, len(e.mastery.Categories)),
		Reviews:    append([]models.ReviewItem(nil), e.reviews.Queue...),
		Ledger:     append([]models.AttemptLogEntry(nil), e.ledger.Entries...),
		NextItemID: e.nextItemID,
		UpdatedAt:  e.clock(),
	}
	s.NextAttemptID = e.nextAttemptID
	for id, st := range e.mastery.Formulas {
		c := *st
		s.Formulas[id] = &c
	}
	for id, st := range e.mastery.Categories {
		c := *st
		s.Categories[id] = &c
	}

	ids := make([]int64, 0, len(e.pool.Items))
	for id := range e.pool.Items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		s.Items = append(s.Items, e.pool.Items[id])
		s.Pool = append(s.Pool, *e.pool.Entries[id])
	}
	return s
}
