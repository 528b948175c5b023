package models

import (
	"strings"
	"testing"
	"time"
)

func TestLoopContext_Render(t *testing.T) {
	ctx := LoopContext{
		ClaudeMDSummary: "Go service, tests with make test.",
		RecentMistakes: []Mistake{
			{Type: MistakeTypeTypeError, Description: "mismatched handler signature"},
			{Type: MistakeTypeTimeout, Description: "migration hung"},
		},
		ProjectPatterns: []string{"type_error", "timeout"},
	}

	got := ctx.Render("add request tracing")

	if !strings.HasPrefix(got, "add request tracing") {
		t.Errorf("Render() should start with the prompt, got:\n%s", got)
	}
	for _, want := range []string{
		"Project memory:",
		"Go service, tests with make test.",
		"[type_error] mismatched handler signature",
		"[timeout] migration hung",
		"Recurring patterns: type_error, timeout",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Render() missing %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, "earlier") {
		t.Errorf("Render() should not mention overflow when none exists:\n%s", got)
	}
}

func TestLoopContext_Render_InlineWindow(t *testing.T) {
	mistakes := make([]Mistake, 4)
	for i := range mistakes {
		mistakes[i] = Mistake{
			Type:        MistakeTypeImplementation,
			Description: "mistake " + string(rune('a'+i)),
			CreatedAt:   time.Now(),
		}
	}

	ctx := LoopContext{
		RecentMistakes: mistakes,
		OverflowCount:  1,
	}

	got := ctx.Render("prompt")
	for _, want := range []string{"mistake a", "mistake b", "mistake c"} {
		if !strings.Contains(got, want) {
			t.Errorf("Render() missing inline %q", want)
		}
	}
	if strings.Contains(got, "mistake d") {
		t.Errorf("Render() surfaced a mistake past the inline window:\n%s", got)
	}
	if !strings.Contains(got, "(+1 earlier)") {
		t.Errorf("Render() missing overflow marker in:\n%s", got)
	}
}

func TestLoopContext_Render_Empty(t *testing.T) {
	ctx := LoopContext{}
	if got := ctx.Render("just the prompt"); got != "just the prompt" {
		t.Errorf("Render() = %q, want prompt unchanged", got)
	}
}
