package answer

import (
	"strings"

	"agrirag/internal/domain"
)

const (
	// DefaultSystem instructs the model to stay inside the supplied context.
	DefaultSystem = "You answer questions about agricultural commodity prices. " +
		"Use only the context provided. If the context does not contain the answer, " +
		"say that the information is not available. Do not make up an answer."

	// DefaultTemplate is the stuffed prompt; {{context}} and {{question}} are replaced.
	DefaultTemplate = "Use the following pieces of context to answer the question at the end. " +
		"If you don't know the answer, just say that you don't know, don't try to make up an answer.\n\n" +
		"{{context}}\n\nQuestion: {{question}}\nHelpful Answer:"

	contextSeparator = "\n\n"
)

// Prompt renders a stuffed prompt template.
type Prompt struct {
	System   string
	Template string
}

func DefaultPrompt() Prompt {
	return Prompt{System: DefaultSystem, Template: DefaultTemplate}
}

// BuildContext joins unit texts verbatim in rank order.
func BuildContext(hits []domain.Hit) string {
	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Unit.Text
	}
	return strings.Join(texts, contextSeparator)
}

// Render substitutes context and question in one pass so placeholder text
// inside either value is left alone.
func (p Prompt) Render(contextText, question string) string {
	tmpl := p.Template
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	return strings.NewReplacer("{{context}}", contextText, "{{question}}", question).Replace(tmpl)
}
