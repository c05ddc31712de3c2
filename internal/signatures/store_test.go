package signatures

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/masterybot/internal/dedup"
	"github.com/example/masterybot/pkg/models"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	ok, err := s.HasSignature(ctx, "# @ drives # mph", models.SignatureStructural)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.AddSignatures(ctx, []string{"# @ drives # mph", ""}, models.SignatureStructural))
	require.NoError(t, s.AddSignatures(ctx, []string{"# @ drives # mph"}, models.SignatureStructural))

	ok, err = s.HasSignature(ctx, "# @ drives # mph", models.SignatureStructural)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasSignature(ctx, "# @ drives # mph", models.SignatureText)
	require.NoError(t, err)
	assert.False(t, ok, "kinds are separate namespaces")

	ok, err = s.HasSimilarEmbedding(ctx, []float64{1, 0}, 0.9)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.AddEmbeddings(ctx, [][]float64{{1, 0}}))
	ok, err = s.HasSimilarEmbedding(ctx, []float64{0.99, 0.05}, 0.9)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.HasSimilarEmbedding(ctx, []float64{0, 1}, 0.9)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)
	assert.Equal(t, 1, s.Count(models.SignatureStructural))
}

func TestMemoryStoreKeepsEachEmbeddingOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	vec := []float64{0.6, 0.8}
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AddEmbeddings(ctx, [][]float64{vec}))
	}
	require.NoError(t, s.AddEmbeddings(ctx, [][]float64{vec, {0.8, 0.6}}))
	assert.Equal(t, 2, s.EmbeddingCount())
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	s, err := NewRedisStore(context.Background(), addr, "masterybot-test:"+uuid.NewString(), nil)
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)

	ctx := context.Background()
	require.NoError(t, s.AddEmbeddings(ctx, [][]float64{{1, 0}}))
	n, err := s.rdb.HLen(ctx, s.embeddingsKey()).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisStoreUnreachable(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "127.0.0.1:1", "", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

type brokenStore struct{}

func (brokenStore) HasSignature(context.Context, string, models.SignatureKind) (bool, error) {
	return true, ErrUnavailable
}
func (brokenStore) AddSignatures(context.Context, []string, models.SignatureKind) error {
	return ErrUnavailable
}
func (brokenStore) HasSimilarEmbedding(context.Context, []float64, float64) (bool, error) {
	return true, ErrUnavailable
}
func (brokenStore) AddEmbeddings(context.Context, [][]float64) error { return ErrUnavailable }

func TestFailOpen(t *testing.T) {
	ctx := context.Background()
	s := NewFailOpen(brokenStore{}, nil)

	ok, err := s.HasSignature(ctx, "x", models.SignatureText)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, s.AddSignatures(ctx, []string{"x"}, models.SignatureText))

	ok, err = s.HasSimilarEmbedding(ctx, []float64{1}, 0.5)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, s.AddEmbeddings(ctx, [][]float64{{1}}))
}

func TestGateRejectsAcrossRuns(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := dedup.NewGate(dedup.DefaultGateConfig(), store, nil, nil)
	first.Accept(ctx, "A car travels 50 miles at 25 mph. How long does it take?")

	second := dedup.NewGate(dedup.DefaultGateConfig(), store, nil, nil)
	reason, dup := second.Check(ctx, "A car travels 90 miles at 45 mph. How long does it take?")
	assert.True(t, dup)
	assert.Equal(t, dedup.ReasonStructural, reason)
}
