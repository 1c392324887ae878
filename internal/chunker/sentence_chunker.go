package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"medrag/internal/domain"
)

const (
	defaultTargetSize = 300
	defaultMinSize    = 50
)

var (
	paragraphBreakRe = regexp.MustCompile(`\n[ \t\r\f\p{Z}]*\n`)
	whitespaceRe     = regexp.MustCompile(`[\s\p{Z}]+`)
	disallowedRe     = regexp.MustCompile(`[^\p{L}\p{N}\p{M}_\s\p{Z}.!?,;:\-()\[\]{}"'。！？、；：（）［］｛｝「」『』]`)
	listMarkerRe     = regexp.MustCompile(`\d+\.\s`)
	latinSentenceRe  = regexp.MustCompile(`[.!?]+\s+`)
	cjkSentenceRe    = regexp.MustCompile(`[。！？]`)
)

// SentenceChunker splits text into paragraph and list-item sections and
// packs oversized sections sentence by sentence up to a target size.
type SentenceChunker struct {
	targetSize int
	minSize    int
}

func NewSentenceChunker(targetSize, minSize int) *SentenceChunker {
	if targetSize <= 0 {
		targetSize = defaultTargetSize
	}
	if minSize < 0 {
		minSize = defaultMinSize
	}
	return &SentenceChunker{targetSize: targetSize, minSize: minSize}
}

// Chunk returns the unique chunks of text longer than the minimum size, in
// order of first appearance. It never fails; unusable input yields nil.
func (c *SentenceChunker) Chunk(text, language string) []string {
	var raw []string
	for _, section := range sections(text) {
		if runeLen(section) <= c.targetSize {
			raw = append(raw, section)
			continue
		}
		raw = append(raw, c.pack(splitSentences(section, language))...)
	}

	var out []string
	seen := make(map[string]struct{}, len(raw))
	for _, ch := range raw {
		ch = strings.TrimSpace(ch)
		if runeLen(ch) <= c.minSize {
			continue
		}
		if _, dup := seen[ch]; dup {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	return out
}

// pack greedily joins sentences, flushing before the buffer would overflow.
func (c *SentenceChunker) pack(sentences []string) []string {
	var chunks []string
	var current string
	for _, s := range sentences {
		if current != "" && runeLen(current)+runeLen(s) > c.targetSize {
			chunks = append(chunks, strings.TrimSpace(current))
			current = s
			continue
		}
		if current == "" {
			current = s
		} else {
			current += " " + s
		}
	}
	if strings.TrimSpace(current) != "" {
		chunks = append(chunks, strings.TrimSpace(current))
	}
	return chunks
}

// sections cleans the text and splits it on paragraph breaks and before
// enumerated list markers such as "3. ".
func sections(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, para := range paragraphBreakRe.Split(text, -1) {
		para = whitespaceRe.ReplaceAllString(para, " ")
		para = disallowedRe.ReplaceAllString(para, "")
		for _, s := range splitListItems(para) {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// splitListItems cuts before every "<digits>. " marker. Leftmost matching
// guarantees each match starts at the beginning of its digit run.
func splitListItems(para string) []string {
	var out []string
	start := 0
	for _, loc := range listMarkerRe.FindAllStringIndex(para, -1) {
		if loc[0] > start {
			out = append(out, para[start:loc[0]])
			start = loc[0]
		}
	}
	return append(out, para[start:])
}

func splitSentences(section, language string) []string {
	re := latinSentenceRe
	if language == domain.LangJapanese {
		re = cjkSentenceRe
	}
	var out []string
	for _, s := range re.Split(section, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
