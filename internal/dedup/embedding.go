package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash/fnv"
	"math"
	"strings"
)

// Embedder turns text into a vector for semantic near-duplicate checks
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// HashEmbedder is a deterministic bag-of-words embedder using feature hashing.
// It needs no network and is good enough to catch light paraphrases.
type HashEmbedder struct {
	Dims int
}

// NewHashEmbedder returns a HashEmbedder with 128 dimensions
func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{Dims: 128}
}

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	dims := h.Dims
	if dims <= 0 {
		dims = 128
	}
	vec := make([]float64, dims)
	for _, tok := range strings.Fields(StructuralSignature(text)) {
		f := fnv.New32a()
		_, _ = f.Write([]byte(tok))
		sum := f.Sum32()
		sign := 1.0
		if sum&1 == 1 {
			sign = -1
		}
		vec[int(sum>>1)%dims] += sign
	}
	normalizeVector(vec)
	return vec, nil
}

func normalizeVector(v []float64) {
	var n float64
	for _, x := range v {
		n += x * x
	}
	if n == 0 {
		return
	}
	n = math.Sqrt(n)
	for i := range v {
		v[i] /= n
	}
}

// Cosine returns the cosine similarity of two vectors, 0 when undefined
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// EmbeddingKey is the content hash stores use to keep each vector once
func EmbeddingKey(vec []float64) string {
	h := sha256.New()
	var buf [8]byte
	for _, x := range vec {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(x))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
