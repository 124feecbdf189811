// Package prompt builds the text handed to the generation service: the
// LawGPT section and search templates, and the conversation context block
// bounded by a character budget.
package prompt

import (
	"fmt"
	"strings"

	"github.com/54b3r/lawrag/internal/budget"
	"github.com/54b3r/lawrag/internal/history"
)

// DefaultBudget is the default character budget for the context block.
const DefaultBudget = 2000

// contextHeader opens every context block.
const contextHeader = "Based on our previous conversation:\n"

// defaultSectionQuery is used when a section is requested without a question.
const defaultSectionQuery = "Explain this section in detail."

// SectionPrompt builds the prompt for a directly referenced section.
func SectionPrompt(sectionText, query string) string {
	if strings.TrimSpace(query) == "" {
		query = defaultSectionQuery
	}
	return fmt.Sprintf(`You are LawGPT, a legal assistant for Bharatiya Nyaya Sanhita (BNS).
Here is the law section:

%s

Query:
%s

Answer clearly, factually, and reference the correct section.`, sectionText, query)
}

// SearchPrompt builds the prompt for vector-search results joined into
// context.
func SearchPrompt(context, query string) string {
	return fmt.Sprintf(`You are LawGPT, a legal assistant for Bharatiya Nyaya Sanhita (BNS).
Use the following law sections to answer the query accurately and cite section numbers:

Laws:
%s

Query:
%s

Answer clearly, factually, and reference the correct sections.`, context, query)
}

// Assembly is the outcome of building a context-augmented message.
type Assembly struct {
	// Prompt is the augmented message, or the current message unchanged
	// when no context was applied.
	Prompt string
	// Applied reports whether any history made it into Prompt.
	Applied bool
	// Included are the ranked messages that fit the budget, in order.
	Included []history.Ranked
	// ContextChars is the rune length of the context block.
	ContextChars int
}

// Build renders ranked messages into a context block of at most limit
// characters followed by the current question. Messages are taken in
// ranking order; the first one that would overflow is dropped whole and
// stops iteration. limit <= 0 selects DefaultBudget. When nothing fits, or
// ranked is empty, current is returned unchanged.
func Build(current string, ranked []history.Ranked, limit int) Assembly {
	if len(ranked) == 0 {
		return Assembly{Prompt: current}
	}
	if limit <= 0 {
		limit = DefaultBudget
	}

	b := budget.New(limit)
	if !b.Spend(contextHeader) {
		return Assembly{Prompt: current}
	}

	var sb strings.Builder
	sb.WriteString(contextHeader)

	var included []history.Ranked
	for _, r := range ranked {
		line := label(r.Role) + ": " + r.Text + "\n"
		if !b.Spend(line) {
			break
		}
		sb.WriteString(line)
		included = append(included, r)
	}
	if len(included) == 0 {
		return Assembly{Prompt: current}
	}

	sb.WriteString("\nCurrent question: ")
	sb.WriteString(current)
	return Assembly{
		Prompt:       sb.String(),
		Applied:      true,
		Included:     included,
		ContextChars: b.Used(),
	}
}

// Assemble is Build reduced to the prompt text.
func Assemble(current string, ranked []history.Ranked, limit int) string {
	return Build(current, ranked, limit).Prompt
}

// label renders a role for the context block.
func label(r history.Role) string {
	if r == history.RoleUser {
		return "User"
	}
	return "Assistant"
}
