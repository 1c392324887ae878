package service

import (
	"context"
	"fmt"
	"log/slog"

	"medrag/internal/domain"
	"medrag/internal/vectorstore"
)

// DefaultTopK is the number of passages returned per query.
const DefaultTopK = 3

type RetrievalService struct {
	detector domain.LanguageDetector
	embedder domain.Embedder
	index    vectorstore.Index
	logger   *slog.Logger
	topK     int
}

func NewRetrievalService(detector domain.LanguageDetector, embedder domain.Embedder, index vectorstore.Index, logger *slog.Logger) *RetrievalService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrievalService{
		detector: detector,
		embedder: embedder,
		index:    index,
		logger:   logger.With("component", "retrieval"),
		topK:     DefaultTopK,
	}
}

// Retrieve returns the best unique passages for query, best first.
func (s *RetrievalService) Retrieve(ctx context.Context, query string) ([]domain.DocumentResult, error) {
	lang := s.detector.Detect(query)
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.index.Search(ctx, vec, s.topK)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	s.logger.Debug("retrieved documents", "query_language", lang, "results", len(hits))

	docs := make([]domain.DocumentResult, 0, len(hits))
	for _, h := range hits {
		docs = append(docs, domain.DocumentResult{
			Content:         h.Metadata.Content,
			Filename:        h.Metadata.Filename,
			SimilarityScore: float64(h.Score),
			Language:        h.Metadata.Language,
			DocumentID:      h.Metadata.DocumentID,
		})
	}
	return docs, nil
}
