// Package translate holds the translator decorators shared by every provider.
package translate

import (
	"context"
	"log/slog"
	"strings"

	"medrag/internal/domain"
)

// Echo returns its input unchanged. It backs the "none" provider.
type Echo struct{}

func (Echo) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}

type fallback struct {
	next   domain.Translator
	logger *slog.Logger
}

// WithFallback never fails: when next returns an error or an empty result
// for non-empty input, the untranslated text is returned and a warning is
// logged.
func WithFallback(next domain.Translator, logger *slog.Logger) domain.Translator {
	if logger == nil {
		logger = slog.Default()
	}
	return &fallback{next: next, logger: logger.With("component", "translator")}
}

func (f *fallback) Translate(ctx context.Context, text, source, target string) (string, error) {
	if strings.TrimSpace(text) == "" || source == target {
		return text, nil
	}
	out, err := f.next.Translate(ctx, text, source, target)
	if err != nil {
		f.logger.Warn("translation failed, echoing source text",
			"source", source, "target", target, "error", err)
		return text, nil
	}
	if strings.TrimSpace(out) == "" {
		f.logger.Warn("translation returned empty text, echoing source text",
			"source", source, "target", target)
		return text, nil
	}
	return out, nil
}

// LanguageName maps a language code onto the English name used in prompts.
func LanguageName(code string) string {
	switch code {
	case domain.LangJapanese:
		return "Japanese"
	case domain.LangEnglish:
		return "English"
	default:
		return "the detected language"
	}
}
