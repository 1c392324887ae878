package service

import (
	"context"
	"fmt"
	"log/slog"

	"medrag/internal/domain"
	"medrag/internal/synthesis"
	"medrag/internal/translate"
)

type GenerationService struct {
	translator domain.Translator
	logger     *slog.Logger
}

// NewGenerationService wraps translator so that a failed translation echoes
// the base answer instead of failing generation.
func NewGenerationService(translator domain.Translator, logger *slog.Logger) *GenerationService {
	if logger == nil {
		logger = slog.Default()
	}
	if translator == nil {
		translator = translate.Echo{}
	}
	return &GenerationService{
		translator: translate.WithFallback(translator, logger),
		logger:     logger.With("component", "generation"),
	}
}

// Generate builds the answer in the language of the best document and
// translates it into the other one. With no documents the base answer is the
// English apology.
func (s *GenerationService) Generate(ctx context.Context, query string, documents []domain.DocumentResult) (domain.GenerationResult, error) {
	res := domain.GenerationResult{Query: query}

	if len(documents) == 0 {
		res.ResponseEN = synthesis.Apology
		res.ResponseJA, _ = s.translator.Translate(ctx, synthesis.Apology, domain.LangEnglish, domain.LangJapanese)
		return res, nil
	}

	content := documents[0].Content
	if synthesis.IsNonASCII(content) {
		base, err := synthesis.Render(domain.LangJapanese, content)
		if err != nil {
			return domain.GenerationResult{}, fmt.Errorf("render answer: %w", err)
		}
		res.ResponseJA = base
		res.ResponseEN, _ = s.translator.Translate(ctx, base, domain.LangJapanese, domain.LangEnglish)
		return res, nil
	}

	base, err := synthesis.Render(domain.LangEnglish, content)
	if err != nil {
		return domain.GenerationResult{}, fmt.Errorf("render answer: %w", err)
	}
	res.ResponseEN = base
	res.ResponseJA, _ = s.translator.Translate(ctx, base, domain.LangEnglish, domain.LangJapanese)
	return res, nil
}
