package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/masterybot/internal/dedup"
	"github.com/example/masterybot/internal/engine"
	"github.com/example/masterybot/pkg/models"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Connect("sqlite", filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestConnectRejectsUnknownDriver(t *testing.T) {
	_, err := Connect("oracle", "")
	assert.Error(t, err)
}

func TestConnectIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Connect("sqlite", path)
	require.NoError(t, err)
	db.Close()

	db, err = Connect("sqlite", path)
	require.NoError(t, err)
	db.Close()
}

func TestStateRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewStateRepository(openTestDB(t))

	_, err := repo.Load(ctx, "dev")
	assert.True(t, errors.Is(err, engine.ErrStateMissing))

	s := engine.NewState("dev")
	s.Formulas["f1"] = &models.FormulaStat{Attempts: 2, Correct: 1, Streak: -1, EWMA: 0.4}
	s.Ledger = []models.AttemptLogEntry{{Timestamp: 1000, ItemID: models.ItemID(3), FormulaID: "f1", Source: models.SourceLive, DifficultyTier: models.TierEasy}}
	s.UpdatedAt = time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Save(ctx, s))

	s.NextItemID = 10
	require.NoError(t, repo.Save(ctx, s), "second save updates in place")

	loaded, err := repo.Load(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, int64(10), loaded.NextItemID)
	assert.Equal(t, s.Formulas, loaded.Formulas)
	assert.Equal(t, s.Ledger, loaded.Ledger)

	ids, err := repo.DeviceIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dev"}, ids)
}

func TestStateRepositoryBacksRegistry(t *testing.T) {
	ctx := context.Background()
	repo := NewStateRepository(openTestDB(t))

	reg := engine.NewRegistry(repo, engine.Options{Seed: 1})
	e, err := reg.Get(ctx, "dev")
	require.NoError(t, err)
	item, _ := e.NextItem(ctx, "", nil)
	_, err = e.RecordAttempt(ctx, models.AttemptLogEntry{ItemID: models.ItemID(item.ID), Correct: true})
	require.NoError(t, err)
	require.NoError(t, reg.SaveAll(ctx))

	e2, err := engine.NewRegistry(repo, engine.Options{Seed: 1}).Get(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, 1, e2.LedgerLen())
}

func TestSignatureRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewSignatureRepository(openTestDB(t))

	ok, err := repo.HasSignature(ctx, "abc", models.SignatureFingerprint)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.AddSignatures(ctx, []string{"abc", "abc", ""}, models.SignatureFingerprint))
	require.NoError(t, repo.AddSignatures(ctx, []string{"abc"}, models.SignatureFingerprint))

	ok, err = repo.HasSignature(ctx, "abc", models.SignatureFingerprint)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.HasSignature(ctx, "abc", models.SignatureText)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.AddEmbeddings(ctx, [][]float64{{1, 0, 0}}))
	ok, err = repo.HasSimilarEmbedding(ctx, []float64{1, 0.01, 0}, 0.97)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.HasSimilarEmbedding(ctx, []float64{0, 0, 1}, 0.97)
	require.NoError(t, err)
	assert.False(t, ok)

	// republishing a known vector is a no-op
	require.NoError(t, repo.AddEmbeddings(ctx, [][]float64{{1, 0, 0}, {1, 0, 0}}))
	var n int
	require.NoError(t, repo.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM content_embeddings`))
	assert.Equal(t, 1, n)
}

func TestSignatureRepositoryBacksGate(t *testing.T) {
	ctx := context.Background()
	repo := NewSignatureRepository(openTestDB(t))

	first := dedup.NewGate(dedup.DefaultGateConfig(), repo, dedup.NewHashEmbedder(), nil)
	first.Accept(ctx, "Maria buys 3 apples and 4 pears. How many fruits does she have?")

	second := dedup.NewGate(dedup.DefaultGateConfig(), repo, dedup.NewHashEmbedder(), nil)
	reason, dup := second.Check(ctx, "Maria buys 3 apples and 4 pears. How many fruits does she have?")
	assert.True(t, dup)
	assert.Equal(t, dedup.ReasonText, reason)
}
