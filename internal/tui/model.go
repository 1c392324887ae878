package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"medrag/internal/domain"
)

const queryTimeout = 60 * time.Second

type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]domain.DocumentResult, error)
}

type Generator interface {
	Generate(ctx context.Context, query string, documents []domain.DocumentResult) (domain.GenerationResult, error)
}

// answerMsg carries the outcome of one query back into Update.
type answerMsg struct {
	query   string
	results []domain.DocumentResult
	answer  domain.GenerationResult
	err     error
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	retriever Retriever
	generator Generator
	input     textinput.Model
	viewport  viewport.Model
	results   []domain.DocumentResult
	answer    domain.GenerationResult
	summary   string
	status    string
	cursor    int
	japanese  bool
	busy      bool
	ready     bool
	lastQuery string
}

func New(retriever Retriever, generator Generator, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		retriever: retriever,
		generator: generator,
		input:     ti,
		viewport:  vp,
		summary:   summary,
		status:    "Loaded. Type to search. Tab switches EN/JA.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) ask(q string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		defer cancel()
		res, err := m.retriever.Retrieve(ctx, q)
		if err != nil {
			return answerMsg{query: q, err: err}
		}
		ans, err := m.generator.Generate(ctx, q, res)
		return answerMsg{query: q, results: res, answer: ans, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header+summary, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.viewport.SetContent(m.renderCurrent())
		return m, nil
	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.results = nil
			m.answer = domain.GenerationResult{}
		} else {
			m.status = fmt.Sprintf("%d result(s) for %q", len(msg.results), msg.query)
			m.results = msg.results
			m.answer = msg.answer
			m.cursor = 0
			m.lastQuery = msg.query
		}
		m.viewport.SetContent(m.renderCurrent())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.busy {
				m.busy = true
				m.status = fmt.Sprintf("Searching for %q...", q)
				return m, m.ask(q)
			}
		case "tab":
			m.japanese = !m.japanese
			m.viewport.SetContent(m.renderCurrent())
			return m, nil
		case "down":
			if len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.viewport.SetContent(m.renderCurrent())
				return m, nil
			}
		case "up":
			if len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.viewport.SetContent(m.renderCurrent())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Medical Knowledge Assistant")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderCurrent() string {
	if m.lastQuery == "" {
		return "No results yet."
	}
	var b strings.Builder
	lang, answer := "EN", m.answer.ResponseEN
	if m.japanese {
		lang, answer = "JA", m.answer.ResponseJA
	}
	b.WriteString(labelStyle.Render("Answer (" + lang + ")"))
	b.WriteString("\n")
	b.WriteString(answer)
	b.WriteString("\n\n")
	if len(m.results) == 0 {
		b.WriteString("No matching passages.")
		return b.String()
	}
	r := m.results[m.cursor]
	b.WriteString(labelStyle.Render(fmt.Sprintf("Passage %d/%d  %s  score=%.3f",
		m.cursor+1, len(m.results), r.Filename, r.SimilarityScore)))
	b.WriteString("\n")
	b.WriteString(highlightBestSentence(r.Content, m.lastQuery))
	return b.String()
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)
	sentenceRe     = regexp.MustCompile(`[^.!?。！？]+(?:[.!?。！？]+|$)`)
)

func highlightBestSentence(text, query string) string {
	sentences, best := bestSentence(text, query)
	if best < 0 {
		return strings.Join(sentences, " ")
	}
	sentences[best] = highlightStyle.Render(sentences[best])
	return strings.Join(sentences, " ")
}

// bestSentence splits text and returns the index of the sentence sharing
// the most tokens with query, or -1 when the query has no tokens.
func bestSentence(text, query string) ([]string, int) {
	var sentences []string
	for _, s := range sentenceRe.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return []string{strings.TrimSpace(text)}, -1
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return sentences, -1
	}
	bestIdx, bestScore := 0, -1
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestScore, bestIdx = score, i
		}
	}
	return sentences, bestIdx
}

func tokens(s string) []string {
	var out []string
	for _, t := range unicodeWordRe.FindAllString(strings.ToLower(s), -1) {
		runes := []rune(t)
		if len(runes) > 1 && unicode.In(runes[0], unicode.Han, unicode.Hiragana, unicode.Katakana) {
			for i := 0; i+1 < len(runes); i++ {
				out = append(out, string(runes[i:i+2]))
			}
			continue
		}
		out = append(out, t)
	}
	return out
}

func toTokenSet(s string) map[string]struct{} {
	toks := tokens(s)
	m := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	seen := map[string]struct{}{}
	for _, t := range tokens(sentence) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
