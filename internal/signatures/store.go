// Package signatures persists canonical content signatures across runs so
// the duplicate gate can reject items that were accepted in an earlier batch.
package signatures

import (
	"context"
	"errors"
	"sync"

	"github.com/example/masterybot/internal/dedup"
	"github.com/example/masterybot/internal/logger"
	"github.com/example/masterybot/pkg/models"
)

// ErrUnavailable is returned when the backing store cannot be reached
var ErrUnavailable = errors.New("signatures: store unavailable")

// Store is the canonical signature registry
type Store = dedup.Store

// MemoryStore keeps signatures in process memory
type MemoryStore struct {
	mu         sync.RWMutex
	sigs       map[models.SignatureKind]map[string]struct{}
	embeddings map[string][]float64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sigs:       make(map[models.SignatureKind]map[string]struct{}),
		embeddings: make(map[string][]float64),
	}
}

func (s *MemoryStore) HasSignature(_ context.Context, sig string, kind models.SignatureKind) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sigs[kind][sig]
	return ok, nil
}

func (s *MemoryStore) AddSignatures(_ context.Context, sigs []string, kind models.SignatureKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sigs[kind]
	if !ok {
		set = make(map[string]struct{})
		s.sigs[kind] = set
	}
	for _, sig := range sigs {
		if sig != "" {
			set[sig] = struct{}{}
		}
	}
	return nil
}

func (s *MemoryStore) HasSimilarEmbedding(_ context.Context, vec []float64, threshold float64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return anySimilar(s.embeddings, vec, threshold), nil
}

func (s *MemoryStore) AddEmbeddings(_ context.Context, vecs [][]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vecs {
		key := dedup.EmbeddingKey(v)
		if _, ok := s.embeddings[key]; !ok {
			s.embeddings[key] = append([]float64(nil), v...)
		}
	}
	return nil
}

// EmbeddingCount returns the number of distinct embeddings
func (s *MemoryStore) EmbeddingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.embeddings)
}

// Count returns the number of signatures of kind
func (s *MemoryStore) Count(kind models.SignatureKind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sigs[kind])
}

func anySimilar(known map[string][]float64, vec []float64, threshold float64) bool {
	for _, k := range known {
		if dedup.Cosine(k, vec) >= threshold {
			return true
		}
	}
	return false
}

// FailOpen wraps a store so that lookup errors read as "unknown" and write
// errors are logged and dropped. Generation never blocks on the registry.
type FailOpen struct {
	inner Store
	log   *logger.Logger
}

func NewFailOpen(inner Store, log *logger.Logger) *FailOpen {
	if log == nil {
		log = logger.NewNop()
	}
	return &FailOpen{inner: inner, log: log.With("component", "signatures")}
}

func (f *FailOpen) HasSignature(ctx context.Context, sig string, kind models.SignatureKind) (bool, error) {
	ok, err := f.inner.HasSignature(ctx, sig, kind)
	if err != nil {
		f.log.Warn("Signature lookup failed", "kind", kind, "error", err)
		return false, nil
	}
	return ok, nil
}

func (f *FailOpen) AddSignatures(ctx context.Context, sigs []string, kind models.SignatureKind) error {
	if err := f.inner.AddSignatures(ctx, sigs, kind); err != nil {
		f.log.Warn("Signature write failed", "kind", kind, "count", len(sigs), "error", err)
	}
	return nil
}

func (f *FailOpen) HasSimilarEmbedding(ctx context.Context, vec []float64, threshold float64) (bool, error) {
	ok, err := f.inner.HasSimilarEmbedding(ctx, vec, threshold)
	if err != nil {
		f.log.Warn("Embedding lookup failed", "error", err)
		return false, nil
	}
	return ok, nil
}

func (f *FailOpen) AddEmbeddings(ctx context.Context, vecs [][]float64) error {
	if err := f.inner.AddEmbeddings(ctx, vecs); err != nil {
		f.log.Warn("Embedding write failed", "count", len(vecs), "error", err)
	}
	return nil
}
