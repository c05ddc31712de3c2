package signatures

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/example/masterybot/internal/dedup"
	"github.com/example/masterybot/internal/logger"
	"github.com/example/masterybot/pkg/models"
)

const defaultPrefix = "masterybot:signatures"

// RedisStore keeps one set per signature kind and a hash of JSON embeddings
// keyed by their content hash
type RedisStore struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
}

// NewRedisStore connects to addr and verifies the connection
func NewRedisStore(ctx context.Context, addr, prefix string, log *logger.Logger) (*RedisStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	if log == nil {
		log = logger.NewNop()
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: redis ping: %v", ErrUnavailable, err)
	}

	return &RedisStore{
		log:    log.With("service", "RedisSignatureStore"),
		rdb:    rdb,
		prefix: prefix,
	}, nil
}

func (s *RedisStore) key(kind models.SignatureKind) string {
	return s.prefix + ":" + string(kind)
}

func (s *RedisStore) embeddingsKey() string {
	return s.prefix + ":embeddings"
}

func (s *RedisStore) HasSignature(ctx context.Context, sig string, kind models.SignatureKind) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, s.key(kind), sig).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}

func (s *RedisStore) AddSignatures(ctx context.Context, sigs []string, kind models.SignatureKind) error {
	members := make([]interface{}, 0, len(sigs))
	for _, sig := range sigs {
		if sig != "" {
			members = append(members, sig)
		}
	}
	if len(members) == 0 {
		return nil
	}
	if err := s.rdb.SAdd(ctx, s.key(kind), members...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) HasSimilarEmbedding(ctx context.Context, vec []float64, threshold float64) (bool, error) {
	raw, err := s.rdb.HGetAll(ctx, s.embeddingsKey()).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	known := make(map[string][]float64, len(raw))
	for key, r := range raw {
		var v []float64
		if err := json.Unmarshal([]byte(r), &v); err != nil {
			s.log.Warn("bad embedding payload", "key", key, "error", err)
			continue
		}
		known[key] = v
	}
	return anySimilar(known, vec, threshold), nil
}

func (s *RedisStore) AddEmbeddings(ctx context.Context, vecs [][]float64) error {
	if len(vecs) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(vecs))
	for _, v := range vecs {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode embedding: %v", err)
		}
		fields[dedup.EmbeddingKey(v)] = string(raw)
	}
	if err := s.rdb.HSet(ctx, s.embeddingsKey(), fields).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}
