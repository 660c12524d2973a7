package vectorstore

import (
	"context"
	"math"
	"sort"

	"agrirag/internal/domain"
)

// Record is a unit together with its embedding.
type Record struct {
	Unit   domain.Unit
	Vector []float32
}

// Storage persists vectors and supports similarity search.
//
// Add is atomic: either every record of the batch becomes visible to Search
// or none does. Search returns at most topK hits ordered by descending
// cosine similarity, ties broken by insertion order.
type Storage interface {
	Init(ctx context.Context, dimension int) error
	Add(ctx context.Context, records []Record) error
	Search(ctx context.Context, vector []float32, topK int) ([]domain.Hit, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Scored pairs a candidate's insertion sequence with its score. Pos is the
// candidate's index in the caller's result set; seq is only a tie-break and
// is not guaranteed unique by every backend.
type Scored struct {
	Seq   int64
	Score float64
	Pos   int
}

// TopK sorts candidates by score descending then sequence ascending and
// truncates to k.
func TopK(cands []Scored, k int) []Scored {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].Seq < cands[j].Seq
	})
	if k < len(cands) {
		cands = cands[:k]
	}
	return cands
}
