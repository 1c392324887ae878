package vectorstore

import (
	"context"
	"errors"
	"strings"

	"medrag/internal/domain"
)

const (
	// OverFetchFactor multiplies top-k when asking the index for candidates,
	// leaving room for entries dropped by deduplication.
	OverFetchFactor = 3
	// MinContentLength is the trimmed content length a result must exceed.
	MinContentLength = 50
	// DedupKeyLength is the number of leading characters forming the dedup key.
	DedupKeyLength = 100
)

var (
	ErrLengthMismatch    = errors.New("vectors and metadata length mismatch")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrPersist           = errors.New("index persistence failed")
)

// Index stores chunk embeddings with positionally aligned metadata and
// supports deduplicated similarity search.
type Index interface {
	Add(ctx context.Context, vectors [][]float32, entries []domain.Metadata) error
	Search(ctx context.Context, query []float32, topK int) ([]domain.SearchResult, error)
	FindByFilename(ctx context.Context, filename string) (domain.Metadata, bool, error)
	Stats(ctx context.Context) (domain.IndexStats, error)
	// Entries returns the stored metadata in insertion order where the
	// backend keeps one.
	Entries(ctx context.Context) ([]domain.Metadata, error)
	Close() error
}

// SelectUnique walks candidates in the given (descending score) order and
// keeps at most topK of them, skipping short content and any candidate whose
// dedup key was already accepted.
func SelectUnique(candidates []domain.SearchResult, topK int) []domain.SearchResult {
	if topK <= 0 {
		return nil
	}
	limit := min(topK, len(candidates))
	results := make([]domain.SearchResult, 0, limit)
	seen := make(map[string]struct{}, limit)
	for _, c := range candidates {
		if len([]rune(strings.TrimSpace(c.Metadata.Content))) <= MinContentLength {
			continue
		}
		key := DedupKey(c.Metadata.Content)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		results = append(results, c)
		if len(results) >= topK {
			break
		}
	}
	return results
}

// CandidateLimit is the over-fetch size for topK, capped at total without
// overflowing.
func CandidateLimit(topK, total int) int {
	if topK <= 0 || total <= 0 {
		return 0
	}
	if topK > total/OverFetchFactor {
		return total
	}
	return topK * OverFetchFactor
}

// DedupKey is the first DedupKeyLength characters of content, trimmed.
func DedupKey(content string) string {
	runes := []rune(content)
	if len(runes) > DedupKeyLength {
		runes = runes[:DedupKeyLength]
	}
	return strings.TrimSpace(string(runes))
}
