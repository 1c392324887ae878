// Package flat is an exact inner-product index over L2-normalized vectors,
// persisted to a data directory after every successful append.
package flat

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"sync"

	"medrag/internal/domain"
	"medrag/internal/vectorstore"
)

// Index keeps vectors and their metadata in two aligned slices. Position i
// of vectors always belongs to position i of metadata.
type Index struct {
	mu        sync.RWMutex
	dir       string
	dimension int
	vectors   [][]float32
	metadata  []domain.Metadata
	dirty     bool
	logger    *slog.Logger
}

var _ vectorstore.Index = (*Index)(nil)

// New creates the data directory if needed and loads any persisted state.
// Persisted state that cannot be read is discarded and the index starts empty.
func New(dir string, dimension int, logger *slog.Logger) (*Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension: %d", dimension)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	idx := &Index{
		dir:       dir,
		dimension: dimension,
		logger:    logger.With("component", "flat_index"),
	}
	idx.load()
	return idx, nil
}

// Add normalizes and appends vectors with their metadata, then persists both
// artifacts. Validation failures leave the index untouched. If persisting
// fails the in-memory append is kept, the index is marked dirty and an error
// wrapping vectorstore.ErrPersist is returned.
func (s *Index) Add(_ context.Context, vectors [][]float32, entries []domain.Metadata) error {
	if len(vectors) != len(entries) {
		return fmt.Errorf("%w: %d vectors, %d entries", vectorstore.ErrLengthMismatch, len(vectors), len(entries))
	}
	if len(vectors) == 0 {
		return nil
	}
	normalized := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != s.dimension {
			return fmt.Errorf("%w: vector %d has %d, want %d", vectorstore.ErrDimensionMismatch, i, len(v), s.dimension)
		}
		normalized[i] = normalize(v)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors = append(s.vectors, normalized...)
	s.metadata = append(s.metadata, entries...)
	s.dirty = true
	if err := s.saveLocked(); err != nil {
		s.logger.Error("persisting index failed, memory is ahead of disk",
			"error", err, "vectors", len(s.vectors))
		return err
	}
	s.logger.Debug("appended vectors", "added", len(vectors), "total", len(s.vectors))
	return nil
}

// Search returns up to topK unique results in descending score order.
func (s *Index) Search(_ context.Context, query []float32, topK int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.vectors)
	if total == 0 || topK <= 0 {
		return nil, nil
	}
	if len(query) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, want %d", vectorstore.ErrDimensionMismatch, len(query), s.dimension)
	}
	q := normalize(query)

	scores := make([]float32, total)
	for i, v := range s.vectors {
		scores[i] = dot(v, q)
	}
	k := vectorstore.CandidateLimit(topK, total)
	idxs := argsortDesc(scores)[:k]

	candidates := make([]domain.SearchResult, 0, k)
	for _, j := range idxs {
		if j < 0 || j >= len(s.metadata) {
			continue
		}
		candidates = append(candidates, domain.SearchResult{Metadata: s.metadata[j], Score: scores[j]})
	}
	return vectorstore.SelectUnique(candidates, topK), nil
}

// FindByFilename returns the first entry recorded for filename.
func (s *Index) FindByFilename(_ context.Context, filename string) (domain.Metadata, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.metadata {
		if m.Filename == filename {
			return m, true, nil
		}
	}
	return domain.Metadata{}, false, nil
}

func (s *Index) Stats(_ context.Context) (domain.IndexStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.IndexStats{
		TotalDocuments: len(s.vectors),
		Dimension:      s.dimension,
		MetadataCount:  len(s.metadata),
		Dirty:          s.dirty,
	}, nil
}

// Entries returns a copy of the metadata sequence in position order.
func (s *Index) Entries(_ context.Context) ([]domain.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Metadata, len(s.metadata))
	copy(out, s.metadata)
	return out, nil
}

// Save writes both artifacts. It is only needed to retry after a failed Add.
func (s *Index) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Index) Dimension() int { return s.dimension }

func (s *Index) Close() error { return nil }

func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		copy(out, v)
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

func dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}

// argsortDesc orders positions by score, lower positions first on ties.
func argsortDesc(scores []float32) []int {
	idxs := make([]int, len(scores))
	for i := range idxs {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(a, b int) bool {
		return scores[idxs[a]] > scores[idxs[b]]
	})
	return idxs
}
