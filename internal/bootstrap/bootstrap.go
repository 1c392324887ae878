// Package bootstrap assembles the pipelines from configuration. Both
// commands build their components here.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"medrag/internal/chunker"
	"medrag/internal/config"
	"medrag/internal/domain"
	"medrag/internal/embedding/hashing"
	embopenai "medrag/internal/embedding/openai"
	"medrag/internal/history"
	"medrag/internal/langdetect"
	"medrag/internal/service"
	"medrag/internal/summarizer"
	"medrag/internal/translate"
	"medrag/internal/translate/google"
	tropenai "medrag/internal/translate/openai"
	"medrag/internal/vectorstore"
	"medrag/internal/vectorstore/flat"
	"medrag/internal/vectorstore/qdrant"
)

type App struct {
	Config     *config.AppConfig
	Logger     *slog.Logger
	Index      vectorstore.Index
	Ledger     *history.Ledger
	Summarizer domain.Summarizer
	Ingestion  *service.IngestionService
	Retrieval  *service.RetrievalService
	Generation *service.GenerationService
}

func New(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	embedder, err := NewEmbedder(cfg.Embedder)
	if err != nil {
		return nil, err
	}
	translator, err := NewTranslator(cfg.Translator)
	if err != nil {
		return nil, err
	}
	index, err := NewIndex(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:     cfg,
		Logger:     logger,
		Index:      index,
		Summarizer: summarizer.NewFrequencySummarizer(),
	}
	var recorder service.Recorder
	if cfg.History.Enabled {
		ledger, err := history.Open(cfg.History.Path)
		if err != nil {
			_ = index.Close()
			return nil, err
		}
		app.Ledger = ledger
		recorder = ledger
	}

	detector := langdetect.NewDetector(logger)
	app.Ingestion = service.NewIngestionService(detector,
		chunker.NewSentenceChunker(cfg.Chunker.TargetSize, cfg.Chunker.MinChunkSize),
		embedder, index, recorder, logger)
	app.Retrieval = service.NewRetrievalService(detector, embedder, index, logger)
	app.Generation = service.NewGenerationService(translator, logger)

	logger.Info("components ready",
		"embedder", embedder.Name(), "dimension", embedder.Dimension(),
		"vector_store", cfg.VectorStore.Type, "translator", cfg.Translator.Type,
		"history", cfg.History.Enabled)
	return app, nil
}

func (a *App) Close() error {
	var errs []error
	if a.Ledger != nil {
		errs = append(errs, a.Ledger.Close())
	}
	errs = append(errs, a.Index.Close())
	return errors.Join(errs...)
}

func NewEmbedder(cfg config.EmbedderConfig) (domain.Embedder, error) {
	switch cfg.Type {
	case "hashing", "":
		return hashing.NewEmbedder(cfg.Dimension), nil
	case "openai":
		oc := cfg.OpenAI
		if oc == nil {
			oc = &config.OpenAIEmbedderConfig{}
		}
		return embopenai.NewClient(embopenai.Config{
			BaseURL:   oc.BaseURL,
			APIKeyEnv: oc.APIKeyEnv,
			Model:     oc.Model,
			Dimension: cfg.Dimension,
			Timeout:   config.Seconds(oc.TimeoutSecs),
		})
	}
	return nil, fmt.Errorf("unknown embedder type %q", cfg.Type)
}

func NewTranslator(cfg config.TranslatorConfig) (domain.Translator, error) {
	switch cfg.Type {
	case "none":
		return translate.Echo{}, nil
	case "google", "":
		gc := cfg.Google
		if gc == nil {
			gc = &config.GoogleTranslatorConfig{}
		}
		return google.NewClient(google.Config{BaseURL: gc.BaseURL, Timeout: config.Seconds(gc.TimeoutSecs)}), nil
	case "openai":
		oc := cfg.OpenAI
		if oc == nil {
			oc = &config.OpenAITranslatorConfig{}
		}
		return tropenai.NewClient(tropenai.Config{
			BaseURL:   oc.BaseURL,
			APIKeyEnv: oc.APIKeyEnv,
			Model:     oc.Model,
			Timeout:   config.Seconds(oc.TimeoutSecs),
		})
	}
	return nil, fmt.Errorf("unknown translator type %q", cfg.Type)
}

func NewIndex(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (vectorstore.Index, error) {
	switch cfg.VectorStore.Type {
	case "flat", "":
		return flat.New(cfg.DataDir, cfg.Embedder.Dimension, logger)
	case "qdrant":
		qc := cfg.VectorStore.Qdrant
		if qc == nil {
			qc = &config.QdrantConfig{}
		}
		return qdrant.New(ctx, qdrant.Config{
			Host:       qc.Host,
			Port:       qc.Port,
			APIKey:     qc.APIKey,
			UseTLS:     qc.UseTLS,
			Collection: qc.Collection,
		}, cfg.Embedder.Dimension, logger)
	}
	return nil, fmt.Errorf("unknown vector store type %q", cfg.VectorStore.Type)
}
