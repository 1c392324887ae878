// Package synthesis renders the fixed answer templates wrapped around the
// best retrieved passage.
package synthesis

import (
	"strings"
	"text/template"

	"medrag/internal/domain"
)

// Apology is the base answer when nothing relevant was retrieved.
const Apology = "I apologize, but I couldn't find any relevant documents for your query."

var templates = map[string]*template.Template{
	domain.LangEnglish: template.Must(template.New("en").Parse(
		"Based on the documents I found, here is the most relevant information:\n\n" +
			"{{.Content}}\n\n" +
			"This answer is drawn from your documents and is not a substitute for professional medical advice.")),
	domain.LangJapanese: template.Must(template.New("ja").Parse(
		"検索したドキュメントから、最も関連性の高い情報をお伝えします。\n\n" +
			"{{.Content}}\n\n" +
			"この回答はドキュメントに基づくものであり、専門家による医学的助言に代わるものではありません。")),
}

// IsNonASCII reports whether text contains any rune outside 7-bit ASCII.
// Such content is treated as Japanese-authored.
func IsNonASCII(text string) bool {
	for _, r := range text {
		if r > 127 {
			return true
		}
	}
	return false
}

// Render wraps content in the template for language, English when unknown.
func Render(language, content string) (string, error) {
	tmpl, ok := templates[language]
	if !ok {
		tmpl = templates[domain.LangEnglish]
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, struct{ Content string }{strings.TrimSpace(content)}); err != nil {
		return "", err
	}
	return b.String(), nil
}
