package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/example/masterybot/internal/dedup"
	"github.com/example/masterybot/pkg/models"
)

// SignatureRepository is the SQL-backed canonical signature store
type SignatureRepository struct {
	db *sqlx.DB
}

// NewSignatureRepository creates a new repository instance. A nil db uses DB.
func NewSignatureRepository(db *sqlx.DB) *SignatureRepository {
	if db == nil {
		db = DB
	}
	return &SignatureRepository{db: db}
}

func (r *SignatureRepository) HasSignature(ctx context.Context, sig string, kind models.SignatureKind) (bool, error) {
	var n int
	query := r.db.Rebind(`SELECT COUNT(1) FROM content_signatures WHERE kind = ? AND signature = ?`)
	if err := r.db.GetContext(ctx, &n, query, string(kind), sig); err != nil {
		return false, fmt.Errorf("failed to look up signature: %w", err)
	}
	return n > 0, nil
}

// AddSignatures inserts sigs; already known signatures are ignored
func (r *SignatureRepository) AddSignatures(ctx context.Context, sigs []string, kind models.SignatureKind) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := tx.Rebind(`INSERT INTO content_signatures (kind, signature) VALUES (?, ?) ON CONFLICT DO NOTHING`)
	for _, sig := range sigs {
		if sig == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, query, string(kind), sig); err != nil {
			return fmt.Errorf("failed to insert signature: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit signatures: %w", err)
	}
	return nil
}

func (r *SignatureRepository) HasSimilarEmbedding(ctx context.Context, vec []float64, threshold float64) (bool, error) {
	var rows []string
	if err := r.db.SelectContext(ctx, &rows, `SELECT vector FROM content_embeddings`); err != nil {
		return false, fmt.Errorf("failed to load embeddings: %w", err)
	}
	for _, raw := range rows {
		var known []float64
		if err := json.Unmarshal([]byte(raw), &known); err != nil {
			continue
		}
		if dedup.Cosine(known, vec) >= threshold {
			return true, nil
		}
	}
	return false, nil
}

// AddEmbeddings inserts vecs keyed by content hash; known vectors are ignored
func (r *SignatureRepository) AddEmbeddings(ctx context.Context, vecs [][]float64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := tx.Rebind(`INSERT INTO content_embeddings (hash, vector) VALUES (?, ?) ON CONFLICT DO NOTHING`)
	for _, v := range vecs {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, dedup.EmbeddingKey(v), string(raw)); err != nil {
			return fmt.Errorf("failed to insert embedding: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit embeddings: %w", err)
	}
	return nil
}
