// Package summarizer builds short extractive summaries of the ingested corpus.
package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

const defaultMaxSentences = 5

var (
	sentenceRe = regexp.MustCompile(`[^.!?。！？]+(?:[.!?。！？]+|$)`)
	tokenRe    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)
)

// FrequencySummarizer ranks sentences by the normalized frequency of their
// content words. Japanese runs are scored by rune bigrams.
type FrequencySummarizer struct {
	stopwords map[string]struct{}
}

func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{stopwords: defaultStopwords()}
}

// Summarize returns up to maxSentences of the highest scoring sentences in
// their original order.
func (s *FrequencySummarizer) Summarize(text string, maxSentences int) (string, error) {
	if maxSentences <= 0 {
		maxSentences = defaultMaxSentences
	}
	var sentences []string
	for _, m := range sentenceRe.FindAllString(text, -1) {
		if m = strings.TrimSpace(m); m != "" {
			sentences = append(sentences, m)
		}
	}
	if len(sentences) == 0 {
		return strings.TrimSpace(text), nil
	}

	tokens := make([][]string, len(sentences))
	freq := map[string]float64{}
	for i, sent := range sentences {
		tokens[i] = s.tokens(sent)
		for _, tok := range tokens[i] {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}

	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, len(sentences))
	for i, toks := range tokens {
		score := 0.0
		for _, tok := range toks {
			score += freq[tok] / maxF
		}
		// long sentences should not win on length alone
		if len(toks) > 0 {
			score /= math.Sqrt(float64(len(toks)))
		}
		scores[i] = pair{i, score}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	n := min(maxSentences, len(scores))
	selected := make([]int, n)
	for i := range selected {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)

	var b strings.Builder
	for i, idx := range selected {
		if i > 0 && !endsWithCJKMark(b.String()) {
			b.WriteByte(' ')
		}
		b.WriteString(sentences[idx])
	}
	return b.String(), nil
}

func (s *FrequencySummarizer) tokens(text string) []string {
	var out []string
	for _, tok := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		if _, stop := s.stopwords[tok]; stop {
			continue
		}
		if isCJK(tok) {
			out = append(out, bigrams(tok)...)
			continue
		}
		out = append(out, tok)
	}
	return out
}

func endsWithCJKMark(s string) bool {
	return strings.HasSuffix(s, "。") || strings.HasSuffix(s, "！") || strings.HasSuffix(s, "？")
}

func isCJK(s string) bool {
	for _, r := range s {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana) {
			return true
		}
	}
	return false
}

func bigrams(s string) []string {
	runes := []rune(s)
	if len(runes) < 2 {
		return []string{s}
	}
	out := make([]string, 0, len(runes)-1)
	for i := 0; i+1 < len(runes); i++ {
		out = append(out, string(runes[i:i+2]))
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
