// Package analyzer scores prompt quality before a loop starts.
package analyzer

import (
	"strings"
)

// Analysis is the result of scoring a prompt.
type Analysis struct {
	// QualityScore is 0-100; higher means a more actionable prompt.
	QualityScore int `json:"quality_score"`

	// Suggestions lists concrete ways to improve the prompt.
	Suggestions []string `json:"suggestions,omitempty"`

	// EnhancedPrompt is a cleaned-up variant, empty when the prompt is
	// already in shape.
	EnhancedPrompt string `json:"enhanced_prompt,omitempty"`
}

// Analyzer scores a prompt. Implementations are consumed opaquely; only
// the score range is contractual.
type Analyzer interface {
	Analyze(text string) Analysis
}

// Heuristic is a deterministic word-level scorer: prompts earn points for
// length, a leading action verb, and concrete technology markers, and
// lose points for vague phrasing.
type Heuristic struct{}

// NewHeuristic creates the default analyzer.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

const (
	baseScore       = 30
	perWordScore    = 4
	maxScoredWords  = 10
	actionVerbBonus = 10
	perMarkerScore  = 8
	maxMarkers      = 3
	vaguePenalty    = 15
)

// actionVerbs are the leading words that signal a concrete task.
var actionVerbs = map[string]bool{
	"add":       true,
	"build":     true,
	"create":    true,
	"fix":       true,
	"implement": true,
	"migrate":   true,
	"refactor":  true,
	"remove":    true,
	"support":   true,
	"update":    true,
	"write":     true,
}

// techMarkers are words that anchor a prompt to a concrete technology.
var techMarkers = map[string]bool{
	"api":        true,
	"cache":      true,
	"cli":        true,
	"database":   true,
	"dns":        true,
	"docker":     true,
	"endpoint":   true,
	"graphql":    true,
	"grpc":       true,
	"http":       true,
	"https":      true,
	"json":       true,
	"jwt":        true,
	"kubernetes": true,
	"middleware": true,
	"oauth":      true,
	"postgres":   true,
	"proxy":      true,
	"redis":      true,
	"regex":      true,
	"rpc":        true,
	"schema":     true,
	"sql":        true,
	"sqlite":     true,
	"tls":        true,
	"websocket":  true,
	"yaml":       true,
}

// vaguePhrases drag a prompt down; each occurrence costs vaguePenalty.
// Single words are matched against whole words only, so "etc" does not
// fire inside "fetch".
var vaguePhrases = []string{
	"make it better",
	"make it work",
	"fix it",
	"do something",
	"clean up stuff",
	"various things",
}

var vagueWords = map[string]bool{
	"etc":     true,
	"somehow": true,
	"stuff":   true,
}

// Analyze scores the prompt.
func (h *Heuristic) Analyze(text string) Analysis {
	trimmed := strings.Join(strings.Fields(text), " ")
	lowered := strings.ToLower(trimmed)
	words := splitWords(lowered)

	score := baseScore

	wordCount := len(words)
	if wordCount > maxScoredWords {
		score += perWordScore * maxScoredWords
	} else {
		score += perWordScore * wordCount
	}

	hasActionVerb := wordCount > 0 && actionVerbs[words[0]]
	if hasActionVerb {
		score += actionVerbBonus
	}

	markers := 0
	seen := make(map[string]bool)
	for _, w := range words {
		if techMarkers[w] && !seen[w] {
			seen[w] = true
			markers++
		}
	}
	if markers > maxMarkers {
		markers = maxMarkers
	}
	score += perMarkerScore * markers

	vague := 0
	for _, phrase := range vaguePhrases {
		if strings.Contains(lowered, phrase) {
			vague++
		}
	}
	for _, w := range words {
		if vagueWords[w] {
			vague++
		}
	}
	score -= vaguePenalty * vague

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	analysis := Analysis{QualityScore: score}

	if wordCount < 5 {
		analysis.Suggestions = append(analysis.Suggestions, "describe the task in more detail")
	}
	if !hasActionVerb {
		analysis.Suggestions = append(analysis.Suggestions, "start with an action verb such as add, fix, or implement")
	}
	if markers == 0 {
		analysis.Suggestions = append(analysis.Suggestions, "name the technologies, files, or endpoints involved")
	}
	if vague > 0 {
		analysis.Suggestions = append(analysis.Suggestions, "replace vague wording with concrete outcomes")
	}

	if trimmed != text {
		analysis.EnhancedPrompt = trimmed
	}

	return analysis
}

// splitWords lowercases and splits on anything that is not a letter or
// digit, so "JWT-based" yields "jwt" and "based".
func splitWords(lowered string) []string {
	return strings.FieldsFunc(lowered, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= '0' && r <= '9':
			return false
		}
		return true
	})
}
