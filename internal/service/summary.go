package service

import (
	"context"
	"fmt"
	"strings"

	"medrag/internal/domain"
	"medrag/internal/vectorstore"
)

// SummarizeCorpus summarizes the indexed chunk contents in index order.
func SummarizeCorpus(ctx context.Context, index vectorstore.Index, summarizer domain.Summarizer, maxSentences int) (string, error) {
	entries, err := index.Entries(ctx)
	if err != nil {
		return "", fmt.Errorf("list entries: %w", err)
	}
	if len(entries) == 0 {
		return "", nil
	}
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Content)
		b.WriteString("\n")
	}
	return summarizer.Summarize(b.String(), maxSentences)
}
