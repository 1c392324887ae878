// Package api exposes the pipelines over HTTP. Every response body is an
// Envelope.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"medrag/internal/domain"
	"medrag/internal/history"
	"medrag/internal/service"
)

const (
	apiKeyHeader   = "X-API-Key"
	maxUploadBytes = 32 << 20

	msgSuccess     = "success"
	msgFail        = "fail"
	msgUnsupported = "Only .txt files are supported"
	msgBadEncoding = "File must be valid UTF-8 encoded text"
)

type Ingester interface {
	Ingest(ctx context.Context, filename, content string) (domain.IngestResult, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]domain.DocumentResult, error)
}

type Generator interface {
	Generate(ctx context.Context, query string, documents []domain.DocumentResult) (domain.GenerationResult, error)
}

type StatsProvider interface {
	Stats(ctx context.Context) (domain.IndexStats, error)
}

type HistoryLister interface {
	List(ctx context.Context, limit int) ([]history.Entry, error)
}

// Deps are the components the server calls into. History may be nil.
type Deps struct {
	Ingester  Ingester
	Retriever Retriever
	Generator Generator
	Stats     StatsProvider
	History   HistoryLister
}

// Envelope is the body of every response.
type Envelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type RetrieveRequest struct {
	Query string `json:"query" validate:"required"`
}

type ProvidedDocument struct {
	Content         string  `json:"content"`
	SimilarityScore float64 `json:"similarity_score"`
}

type GenerateRequest struct {
	Query     string             `json:"query" validate:"required"`
	Documents []ProvidedDocument `json:"documents"`
}

type retrievedDocument struct {
	Content         string  `json:"content"`
	SimilarityScore float64 `json:"similarity_score"`
}

type Server struct {
	deps     Deps
	apiKey   string
	logger   *slog.Logger
	validate *validator.Validate
}

func NewServer(deps Deps, apiKey string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		deps:     deps,
		apiKey:   apiKey,
		logger:   logger.With("component", "api"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Router returns the handler with auth, panic recovery and request logging applied.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.HandleHealth)
	mux.Handle("POST /ingest", s.requireKey(http.HandlerFunc(s.HandleIngest)))
	mux.Handle("POST /retrieve", s.requireKey(http.HandlerFunc(s.HandleRetrieve)))
	mux.Handle("POST /generate", s.requireKey(http.HandlerFunc(s.HandleGenerate)))
	mux.Handle("GET /stats", s.requireKey(http.HandlerFunc(s.HandleStats)))
	mux.Handle("GET /documents", s.requireKey(http.HandlerFunc(s.HandleDocuments)))
	return s.logRequests(s.recoverPanics(mux))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Envelope{Status: true, Message: msgSuccess, Data: data})
}

func writeFail(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, Envelope{Status: false, Message: msgFail, Data: map[string]string{"error": err.Error()}})
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Envelope{
		Status:  true,
		Message: "ok",
		Data:    map[string]any{"time_utc": time.Now().UTC().Format(time.RFC3339)},
	})
}

func (s *Server) HandleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeFail(w, http.StatusBadRequest, fmt.Errorf("missing upload field \"file\": %w", err))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeFail(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
		return
	}

	text, err := service.ValidateUpload(header.Filename, data)
	switch {
	case errors.Is(err, service.ErrUnsupportedFileType):
		writeJSON(w, http.StatusBadRequest, Envelope{Message: msgUnsupported})
		return
	case errors.Is(err, service.ErrInvalidEncoding):
		writeJSON(w, http.StatusBadRequest, Envelope{Message: msgBadEncoding})
		return
	case err != nil:
		writeFail(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.deps.Ingester.Ingest(r.Context(), header.Filename, text)
	if err != nil {
		s.logger.Error("ingest failed", "filename", header.Filename, "error", err)
		writeFail(w, http.StatusInternalServerError, err)
		return
	}
	writeOK(w, res)
}

func (s *Server) HandleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req RetrieveRequest
	if !s.decode(w, r, &req) {
		return
	}
	docs, err := s.deps.Retriever.Retrieve(r.Context(), req.Query)
	if err != nil {
		s.logger.Error("retrieve failed", "error", err)
		writeFail(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]retrievedDocument, 0, len(docs))
	for _, d := range docs {
		out = append(out, retrievedDocument{Content: d.Content, SimilarityScore: d.SimilarityScore})
	}
	writeOK(w, map[string]any{"documents": out})
}

func (s *Server) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !s.decode(w, r, &req) {
		return
	}
	docs := make([]domain.DocumentResult, 0, len(req.Documents))
	for _, d := range req.Documents {
		docs = append(docs, domain.DocumentResult{
			Content:         d.Content,
			Filename:        "provided_document",
			SimilarityScore: d.SimilarityScore,
			Language:        domain.LangEnglish,
			DocumentID:      "provided",
		})
	}
	res, err := s.deps.Generator.Generate(r.Context(), req.Query, docs)
	if err != nil {
		s.logger.Error("generate failed", "error", err)
		writeFail(w, http.StatusInternalServerError, err)
		return
	}
	writeOK(w, res)
}

func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Stats.Stats(r.Context())
	if err != nil {
		writeFail(w, http.StatusInternalServerError, err)
		return
	}
	writeOK(w, st)
}

func (s *Server) HandleDocuments(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeFail(w, http.StatusNotFound, errors.New("ingestion history is disabled"))
		return
	}
	limit := history.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeFail(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	entries, err := s.deps.History.List(r.Context(), limit)
	if err != nil {
		writeFail(w, http.StatusInternalServerError, err)
		return
	}
	writeOK(w, map[string]any{"documents": entries})
}

// decode reads a JSON body into dst and validates it, writing the failure
// response itself when it returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeFail(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeFail(w, http.StatusUnprocessableEntity, err)
		return false
	}
	return true
}

func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(apiKeyHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.apiKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, Envelope{Message: "Invalid API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic", "path", r.URL.Path, "panic", rec)
				writeFail(w, http.StatusInternalServerError, errors.New("internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(start))
	})
}
