package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"medrag/internal/domain"
	"medrag/internal/history"
	"medrag/internal/vectorstore"
)

const (
	msgIngested = "Document ingested successfully"
	msgNoChunks = "No valid chunks created from document"
)

// Recorder stores ingestion outcomes. *history.Ledger satisfies it.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}

type IngestionService struct {
	// mu serializes the duplicate check through the index add so a
	// filename is indexed at most once.
	mu       sync.Mutex
	detector domain.LanguageDetector
	chunker  domain.Chunker
	embedder domain.Embedder
	index    vectorstore.Index
	ledger   Recorder
	logger   *slog.Logger
	newID    func() string
}

// NewIngestionService wires the pipeline. ledger may be nil.
func NewIngestionService(
	detector domain.LanguageDetector,
	chunker domain.Chunker,
	embedder domain.Embedder,
	index vectorstore.Index,
	ledger Recorder,
	logger *slog.Logger,
) *IngestionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestionService{
		detector: detector,
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		ledger:   ledger,
		logger:   logger.With("component", "ingestion"),
		newID:    func() string { return uuid.NewString() },
	}
}

// Ingest chunks, embeds and indexes one document. A filename that is already
// indexed is skipped and reported with its original document id. A failure to
// persist the index is not an error: the chunks are searchable and the
// result reports Persisted=false.
func (s *IngestionService) Ingest(ctx context.Context, filename, content string) (domain.IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docID := s.newID()
	language := s.detector.Detect(content)

	existing, found, err := s.index.FindByFilename(ctx, filename)
	if err != nil {
		return domain.IngestResult{}, fmt.Errorf("duplicate check for %s: %w", filename, err)
	}
	if found {
		s.logger.Warn("document already exists, skipping", "filename", filename, "document_id", existing.DocumentID)
		res := domain.IngestResult{
			Message:    fmt.Sprintf("Document %s already exists", filename),
			DocumentID: existing.DocumentID,
			Language:   language,
			Persisted:  true,
		}
		s.record(ctx, filename, res)
		return res, nil
	}

	chunks := s.chunker.Chunk(content, language)
	if len(chunks) == 0 {
		res := domain.IngestResult{
			Message:    msgNoChunks,
			DocumentID: docID,
			Language:   language,
			Persisted:  true,
		}
		s.record(ctx, filename, res)
		return res, nil
	}

	vectors := make([][]float32, len(chunks))
	entries := make([]domain.Metadata, len(chunks))
	for i, ch := range chunks {
		v, err := s.embedder.Embed(ctx, ch)
		if err != nil {
			return domain.IngestResult{}, fmt.Errorf("embed chunk %d of %s: %w", i, filename, err)
		}
		vectors[i] = v
		entries[i] = domain.Metadata{
			DocumentID: docID,
			Filename:   filename,
			ChunkIndex: i,
			Content:    ch,
			Language:   language,
		}
	}

	res := domain.IngestResult{
		Message:         msgIngested,
		DocumentID:      docID,
		Language:        language,
		ChunksProcessed: len(chunks),
		Persisted:       true,
	}
	if err := s.index.Add(ctx, vectors, entries); err != nil {
		if !errors.Is(err, vectorstore.ErrPersist) {
			return domain.IngestResult{}, fmt.Errorf("index %s: %w", filename, err)
		}
		s.logger.Error("document indexed in memory only", "filename", filename, "error", err)
		res.Persisted = false
	}
	s.logger.Info("document ingested", "filename", filename, "document_id", docID,
		"language", language, "chunks", len(chunks))
	s.record(ctx, filename, res)
	return res, nil
}

func (s *IngestionService) record(ctx context.Context, filename string, res domain.IngestResult) {
	if s.ledger == nil {
		return
	}
	err := s.ledger.Record(ctx, history.Entry{
		DocumentID:      res.DocumentID,
		Filename:        filename,
		Language:        res.Language,
		ChunksProcessed: res.ChunksProcessed,
		Message:         res.Message,
		Persisted:       res.Persisted,
	})
	if err != nil {
		s.logger.Warn("recording ingestion history failed", "filename", filename, "error", err)
	}
}

// FileOutcome is the result of ingesting one file from disk.
type FileOutcome struct {
	Path   string
	Result domain.IngestResult
	Err    error
}

// IngestFiles expands glob patterns and ingests every matching file under
// its base name. Per-file failures are reported in the outcomes; the error
// is non-nil only when nothing matched.
func (s *IngestionService) IngestFiles(ctx context.Context, patterns []string) ([]FileOutcome, error) {
	var paths []string
	for _, p := range patterns {
		matches, _ := filepath.Glob(p)
		if matches == nil {
			matches = []string{p}
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return nil, errors.New("no documents given")
	}

	outcomes := make([]FileOutcome, 0, len(paths))
	for _, p := range paths {
		out := FileOutcome{Path: p}
		data, err := os.ReadFile(p)
		if err != nil {
			out.Err = err
			outcomes = append(outcomes, out)
			continue
		}
		name := filepath.Base(p)
		text, err := ValidateUpload(name, data)
		if err != nil {
			out.Err = err
			outcomes = append(outcomes, out)
			continue
		}
		out.Result, out.Err = s.Ingest(ctx, name, text)
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}
