package domain

import "context"

// Supported language codes.
const (
	LangEnglish  = "en"
	LangJapanese = "ja"
	LangAuto     = "auto"
)

// Metadata describes one indexed chunk. Position i in the metadata sequence
// belongs to vector i in the index.
type Metadata struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
	Language   string `json:"language"`
}

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Metadata Metadata
	Score    float32
}

// IndexStats reports the sizes of the two aligned stores.
type IndexStats struct {
	TotalDocuments int  `json:"total_documents"`
	Dimension      int  `json:"dimension"`
	MetadataCount  int  `json:"metadata_count"`
	Dirty          bool `json:"dirty"`
}

// IngestResult is the outcome of ingesting one document.
type IngestResult struct {
	Message         string `json:"message"`
	DocumentID      string `json:"document_id"`
	Language        string `json:"language"`
	ChunksProcessed int    `json:"chunks_processed"`
	Persisted       bool   `json:"-"`
}

// DocumentResult is a retrieved passage in its external shape.
type DocumentResult struct {
	Content         string  `json:"content"`
	Filename        string  `json:"filename"`
	SimilarityScore float64 `json:"similarity_score"`
	Language        string  `json:"language"`
	DocumentID      string  `json:"document_id"`
}

// GenerationResult holds the bilingual answer for a query.
type GenerationResult struct {
	Query      string `json:"query"`
	ResponseEN string `json:"response_en"`
	ResponseJA string `json:"response_ja"`
}

// Embedder converts free text into a fixed-dimension vector.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Chunker splits document text into retrieval units.
type Chunker interface {
	Chunk(text, language string) []string
}

// LanguageDetector maps text onto one of the supported language codes.
type LanguageDetector interface {
	Detect(text string) string
}

// Translator converts text between language codes ("en", "ja", or "auto" as source).
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
