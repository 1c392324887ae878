// Package qdrant backs vectorstore.Index with a Qdrant collection.
package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"medrag/internal/domain"
	"medrag/internal/vectorstore"
)

const (
	fieldDocumentID = "document_id"
	fieldFilename   = "filename"
	fieldChunkIndex = "chunk_index"
	fieldContent    = "content"
	fieldLanguage   = "language"

	scrollPage = 256
)

type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// Store is a remote index. The server owns durability, so Stats never
// reports dirty state.
type Store struct {
	client     *qdrant.Client
	collection string
	dimension  int
	logger     *slog.Logger
}

var _ vectorstore.Index = (*Store)(nil)

// New connects to Qdrant and creates the collection when it is missing.
func New(ctx context.Context, cfg Config, dimension int, logger *slog.Logger) (*Store, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension: %d", dimension)
	}
	if logger == nil {
		logger = slog.Default()
	}
	host, port := cfg.Host, cfg.Port
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}
	s := &Store{
		client:     client,
		collection: cfg.Collection,
		dimension:  dimension,
		logger:     logger.With("component", "qdrant_index", "collection", cfg.Collection),
	}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	// filename lookups back the ingestion duplicate guard
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      fieldFilename,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		s.logger.Warn("creating filename index failed", "error", err)
	}
	s.logger.Info("created collection", "dimension", s.dimension)
	return nil
}

func (s *Store) Add(ctx context.Context, vectors [][]float32, entries []domain.Metadata) error {
	if len(vectors) != len(entries) {
		return fmt.Errorf("%w: %d vectors, %d entries", vectorstore.ErrLengthMismatch, len(vectors), len(entries))
	}
	if len(vectors) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, len(vectors))
	for i, v := range vectors {
		if len(v) != s.dimension {
			return fmt.Errorf("%w: vector %d has %d, want %d", vectorstore.ErrDimensionMismatch, i, len(v), s.dimension)
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(entries[i]).String()),
			Vectors: qdrant.NewVectors(v...),
			Payload: toPayload(entries[i]),
		}
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("%w: upsert: %w", vectorstore.ErrPersist, err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, query []float32, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	if len(query) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, want %d", vectorstore.ErrDimensionMismatch, len(query), s.dimension)
	}
	resp, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          qdrant.PtrOf(uint64(vectorstore.CandidateLimit(topK, math.MaxInt32))),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}
	candidates := make([]domain.SearchResult, 0, len(resp))
	for _, p := range resp {
		candidates = append(candidates, domain.SearchResult{
			Metadata: fromPayload(p.GetPayload()),
			Score:    p.GetScore(),
		})
	}
	return vectorstore.SelectUnique(candidates, topK), nil
}

func (s *Store) FindByFilename(ctx context.Context, filename string) (domain.Metadata, bool, error) {
	resp, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(fieldFilename, filename)},
		},
		Limit:       qdrant.PtrOf(uint32(1)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return domain.Metadata{}, false, fmt.Errorf("scroll by filename: %w", err)
	}
	if len(resp) == 0 {
		return domain.Metadata{}, false, nil
	}
	return fromPayload(resp[0].GetPayload()), true, nil
}

func (s *Store) Stats(ctx context.Context) (domain.IndexStats, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return domain.IndexStats{}, fmt.Errorf("count points: %w", err)
	}
	return domain.IndexStats{
		TotalDocuments: int(n),
		Dimension:      s.dimension,
		MetadataCount:  int(n),
	}, nil
}

// Entries scrolls the whole collection. Qdrant has no insertion order, so
// entries come back in point id order.
func (s *Store) Entries(ctx context.Context) ([]domain.Metadata, error) {
	var out []domain.Metadata
	var offset *qdrant.PointId
	for {
		resp, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Limit:          qdrant.PtrOf(uint32(scrollPage)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("scroll points: %w", err)
		}
		for _, p := range resp {
			out = append(out, fromPayload(p.GetPayload()))
			offset = p.GetId()
		}
		if len(resp) < scrollPage {
			return out, nil
		}
		// Scroll offsets are inclusive; skip the repeated point on the next page.
		out = out[:len(out)-1]
	}
}

func (s *Store) Close() error {
	return s.client.Close()
}

// pointID is stable per (document, chunk) so re-upserting a chunk overwrites it.
func pointID(m domain.Metadata) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(m.DocumentID+":"+strconv.Itoa(m.ChunkIndex)))
}

func toPayload(m domain.Metadata) map[string]*qdrant.Value {
	return qdrant.NewValueMap(map[string]any{
		fieldDocumentID: m.DocumentID,
		fieldFilename:   m.Filename,
		fieldChunkIndex: int64(m.ChunkIndex),
		fieldContent:    m.Content,
		fieldLanguage:   m.Language,
	})
}

func fromPayload(p map[string]*qdrant.Value) domain.Metadata {
	return domain.Metadata{
		DocumentID: p[fieldDocumentID].GetStringValue(),
		Filename:   p[fieldFilename].GetStringValue(),
		ChunkIndex: int(p[fieldChunkIndex].GetIntegerValue()),
		Content:    p[fieldContent].GetStringValue(),
		Language:   p[fieldLanguage].GetStringValue(),
	}
}
