package models

import (
	"fmt"
	"strings"
)

// InlineMistakeWindow caps how many recent mistakes a rendered context
// surfaces verbatim. Anything beyond it appears only as an overflow count.
const InlineMistakeWindow = 3

// LoopContext is a read-only snapshot of what a project has learned,
// assembled immediately before a loop attempt. It is never persisted.
type LoopContext struct {
	// ClaudeMDSummary is the condensed project-memory text, empty when
	// the project has no memory file.
	ClaudeMDSummary string `json:"claude_md_summary,omitempty"`

	// RecentMistakes is the retained window of past failures, most
	// recent first.
	RecentMistakes []Mistake `json:"recent_mistakes,omitempty"`

	// OverflowCount is how many stored mistakes exist beyond the inline
	// window.
	OverflowCount int `json:"overflow_count"`

	// ProjectPatterns lists recurring failure patterns for the project.
	ProjectPatterns []string `json:"project_patterns,omitempty"`
}

// Render combines the base prompt with the learned context into the text
// sent to the agent. At most InlineMistakeWindow mistakes appear inline.
func (c LoopContext) Render(prompt string) string {
	var b strings.Builder
	b.WriteString(prompt)

	if c.ClaudeMDSummary != "" {
		b.WriteString("\n\nProject memory:\n")
		b.WriteString(c.ClaudeMDSummary)
	}

	if len(c.RecentMistakes) > 0 {
		b.WriteString("\n\nRecent mistakes to avoid:\n")
		inline := c.RecentMistakes
		if len(inline) > InlineMistakeWindow {
			inline = inline[:InlineMistakeWindow]
		}
		for _, m := range inline {
			b.WriteString(fmt.Sprintf("- [%s] %s\n", m.Type, m.Description))
		}
		if c.OverflowCount > 0 {
			b.WriteString(fmt.Sprintf("(+%d earlier)\n", c.OverflowCount))
		}
	}

	if len(c.ProjectPatterns) > 0 {
		b.WriteString("\nRecurring patterns: ")
		b.WriteString(strings.Join(c.ProjectPatterns, ", "))
		b.WriteString("\n")
	}

	return b.String()
}
