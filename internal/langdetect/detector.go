// Package langdetect maps free text onto the two languages the assistant
// answers in. Anything that is not detected as Japanese is treated as English.
package langdetect

import (
	"log/slog"
	"strings"

	"github.com/abadojack/whatlanggo"

	"medrag/internal/domain"
)

// Detector wraps whatlanggo with the en/ja fallback policy.
type Detector struct {
	logger *slog.Logger
}

func NewDetector(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{logger: logger}
}

// Detect returns "ja" for Japanese text and "en" for everything else,
// including text the detector cannot classify.
func (d *Detector) Detect(text string) (lang string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("language detection failed", "error", r)
			lang = domain.LangEnglish
		}
	}()
	if strings.TrimSpace(text) == "" {
		d.logger.Debug("language detection skipped for empty text")
		return domain.LangEnglish
	}
	info := whatlanggo.Detect(text)
	return Normalize(info.Lang.Iso6391())
}

// Normalize folds a detected ISO code into the supported pair.
func Normalize(code string) string {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "ja", "jp":
		return domain.LangJapanese
	default:
		return domain.LangEnglish
	}
}
