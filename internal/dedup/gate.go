package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/masterybot/internal/logger"
	"github.com/example/masterybot/pkg/models"
)

// ErrRejectedDuplicate marks an admission that ran out of attempts and fell back
var ErrRejectedDuplicate = errors.New("dedup: candidate rejected as duplicate after max attempts")

// Rejection reasons reported by Check
const (
	ReasonEmpty       = "empty"
	ReasonText        = "text"
	ReasonStructural  = "structural"
	ReasonFingerprint = "fingerprint"
	ReasonSimilar     = "similar"
	ReasonEmbedding   = "embedding"
)

// Store is the cross-run registry of accepted content signatures.
// Implementations must treat re-adding a known signature as a no-op.
type Store interface {
	HasSignature(ctx context.Context, sig string, kind models.SignatureKind) (bool, error)
	AddSignatures(ctx context.Context, sigs []string, kind models.SignatureKind) error
	HasSimilarEmbedding(ctx context.Context, vec []float64, threshold float64) (bool, error)
	AddEmbeddings(ctx context.Context, vecs [][]float64) error
}

// GateConfig tunes the acceptance gate
type GateConfig struct {
	Threshold          float64
	MaxAttempts        int
	RecentWindow       int
	EmbeddingThreshold float64
	// EmbedTimeout bounds each embedding call; 0 leaves it to the caller's ctx
	EmbedTimeout time.Duration
}

// DefaultGateConfig returns the default gate settings
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Threshold:          0.8,
		MaxAttempts:        6,
		RecentWindow:       50,
		EmbeddingThreshold: 0.97,
	}
}

// Admission describes how a candidate got through the gate
type Admission struct {
	Attempts   int
	Rejections []string
	Failures   int
	Fallback   bool
	// Err is ErrRejectedDuplicate when the fallback was used because every
	// generated candidate was a duplicate; nil otherwise.
	Err error
}

// Generate produces the candidate for the given attempt number
type Generate func(ctx context.Context, attempt int) (models.Candidate, error)

// Fallback deterministically produces a candidate without any external call
type Fallback func(attempt int) models.Candidate

// Gate admits candidates that are not duplicates of the current batch,
// the canonical store or recently accepted items. It is safe for concurrent
// use; store and embedder calls run outside the lock.
type Gate struct {
	cfg      GateConfig
	store    Store
	embedder Embedder
	log      *logger.Logger

	mu         sync.Mutex
	texts      map[string]struct{}
	structures map[string]struct{}
	prints     map[string]struct{}
	recent     []string
}

// NewGate creates a gate. store and embedder may be nil.
func NewGate(cfg GateConfig, store Store, embedder Embedder, log *logger.Logger) *Gate {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Gate{
		cfg:        cfg,
		store:      store,
		embedder:   embedder,
		log:        log,
		texts:      make(map[string]struct{}),
		structures: make(map[string]struct{}),
		prints:     make(map[string]struct{}),
	}
}

// Seed registers already accepted texts in the batch without touching the store
func (g *Gate) Seed(texts ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range texts {
		if Normalize(t) == "" {
			continue
		}
		g.remember(t)
	}
}

// Check reports whether text is a duplicate and why
func (g *Gate) Check(ctx context.Context, text string) (string, bool) {
	reason, dup, _ := g.check(ctx, text)
	return reason, dup
}

// check also returns the embedding it computed, nil when none, so that
// accepting the text does not embed it a second time
func (g *Gate) check(ctx context.Context, text string) (string, bool, []float64) {
	norm := Normalize(text)
	if norm == "" {
		return ReasonEmpty, true, nil
	}
	sig := StructuralSignature(text)
	fp := TokenFingerprint(text)

	g.mu.Lock()
	_, knownText := g.texts[norm]
	_, knownStructure := g.structures[sig]
	_, knownPrint := g.prints[fp]
	recent := append([]string(nil), g.recent...)
	g.mu.Unlock()

	switch {
	case knownText:
		return ReasonText, true, nil
	case knownStructure:
		return ReasonStructural, true, nil
	case knownPrint:
		return ReasonFingerprint, true, nil
	}

	if g.store != nil {
		for _, lookup := range []struct {
			sig    string
			kind   models.SignatureKind
			reason string
		}{
			{norm, models.SignatureText, ReasonText},
			{sig, models.SignatureStructural, ReasonStructural},
			{fp, models.SignatureFingerprint, ReasonFingerprint},
		} {
			known, err := g.store.HasSignature(ctx, lookup.sig, lookup.kind)
			if err != nil {
				g.log.Warn("Signature lookup failed, treating as unknown", "kind", lookup.kind, "error", err)
				continue
			}
			if known {
				return lookup.reason, true, nil
			}
		}
	}

	for _, prev := range recent {
		if IsDuplicate(prev, text, g.cfg.Threshold) {
			return ReasonSimilar, true, nil
		}
	}

	if g.store == nil || g.embedder == nil {
		return "", false, nil
	}
	vec, err := g.embed(ctx, text)
	if err != nil {
		g.log.Warn("Embedding failed, skipping semantic check", "error", err)
		return "", false, nil
	}
	similar, err := g.store.HasSimilarEmbedding(ctx, vec, g.cfg.EmbeddingThreshold)
	if err != nil {
		g.log.Warn("Embedding lookup failed, treating as unknown", "error", err)
	} else if similar {
		return ReasonEmbedding, true, nil
	}
	return "", false, vec
}

func (g *Gate) embed(ctx context.Context, text string) ([]float64, error) {
	if g.cfg.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.EmbedTimeout)
		defer cancel()
	}
	return g.embedder.Embed(ctx, text)
}

// Accept records text as accepted in the batch, the recent window and the store
func (g *Gate) Accept(ctx context.Context, text string) {
	g.accept(ctx, text, nil)
}

// accept publishes vec as the embedding of text, embedding it first when vec is nil
func (g *Gate) accept(ctx context.Context, text string, vec []float64) {
	g.mu.Lock()
	g.remember(text)
	g.mu.Unlock()
	if g.store == nil {
		return
	}
	writes := map[models.SignatureKind]string{
		models.SignatureText:        Normalize(text),
		models.SignatureStructural:  StructuralSignature(text),
		models.SignatureFingerprint: TokenFingerprint(text),
	}
	for kind, sig := range writes {
		if err := g.store.AddSignatures(ctx, []string{sig}, kind); err != nil {
			g.log.Warn("Failed to publish signature", "kind", kind, "error", err)
		}
	}
	if g.embedder == nil {
		return
	}
	var err error
	if vec == nil {
		vec, err = g.embed(ctx, text)
	}
	if err == nil {
		err = g.store.AddEmbeddings(ctx, [][]float64{vec})
	}
	if err != nil {
		g.log.Warn("Failed to publish embedding", "error", err)
	}
}

// remember must be called with g.mu held
func (g *Gate) remember(text string) {
	g.texts[Normalize(text)] = struct{}{}
	g.structures[StructuralSignature(text)] = struct{}{}
	g.prints[TokenFingerprint(text)] = struct{}{}
	g.recent = append(g.recent, text)
	if w := g.cfg.RecentWindow; w > 0 && len(g.recent) > w {
		g.recent = g.recent[len(g.recent)-w:]
	}
}

// Admit runs a bounded generate-and-check loop. When every attempt is
// rejected or fails, deterministic fallback candidates are tried with the same
// budget and the last one is mutated and accepted regardless, so Admit always
// returns a usable candidate.
func (g *Gate) Admit(ctx context.Context, generate Generate, fallback Fallback) (models.Candidate, Admission) {
	var adm Admission
	for attempt := 0; attempt < g.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			break
		}
		adm.Attempts++
		c, err := generate(ctx, attempt)
		if err != nil {
			adm.Failures++
			g.log.Debug("Candidate generation failed", "attempt", attempt, "error", err)
			continue
		}
		reason, dup, vec := g.check(ctx, c.Text)
		if dup {
			adm.Rejections = append(adm.Rejections, reason)
			continue
		}
		g.accept(ctx, c.Text, vec)
		return c, adm
	}

	adm.Fallback = true
	if len(adm.Rejections) > 0 {
		adm.Err = ErrRejectedDuplicate
	}
	var c models.Candidate
	for i := 0; i < g.cfg.MaxAttempts; i++ {
		c = fallback(adm.Attempts + i)
		if _, dup, vec := g.check(ctx, c.Text); !dup {
			g.accept(ctx, c.Text, vec)
			return c, adm
		}
	}
	c = Mutate(c, adm.Attempts)
	g.log.Warn("Fallback candidates exhausted, accepting mutated variant", "attempts", adm.Attempts)
	g.Accept(ctx, c.Text)
	return c, adm
}

// Mutate deterministically rewrites a candidate into a distinct variant
func Mutate(c models.Candidate, n int) models.Candidate {
	c.Text = fmt.Sprintf("%s (variant %s)", c.Text, variantTag(n))
	return c
}

// variantTag spells n with letters so the mutation does not add numeric literals
func variantTag(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	if n <= 0 {
		return "a"
	}
	var out []byte
	for n > 0 {
		n--
		out = append([]byte{letters[n%26]}, out...)
		n /= 26
	}
	return string(out)
}
