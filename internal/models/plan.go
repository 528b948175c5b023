package models

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultMaxIterationsPerStory is applied when a plan omits the budget.
const DefaultMaxIterationsPerStory = 3

// Story is a single unit of work inside a plan document.
type Story struct {
	// ID must be unique within the plan.
	ID string `json:"id" yaml:"id" validate:"required"`

	// Title is the short story name.
	Title string `json:"title" yaml:"title" validate:"required"`

	// Description is the full task text handed to the agent.
	Description string `json:"description" yaml:"description"`

	// AcceptanceCriteria lists conditions the work must meet.
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty" yaml:"acceptance_criteria,omitempty"`

	// Priority orders execution when set; lower runs first. Zero means
	// unordered and falls back to document order.
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty" validate:"gte=0"`

	// Completed flips to true when the sequencer finishes the story.
	Completed bool `json:"completed" yaml:"completed"`
}

// Prompt renders the story as an agent instruction.
func (s Story) Prompt() string {
	var b strings.Builder
	b.WriteString(s.Title)
	if s.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(s.Description)
	}
	if len(s.AcceptanceCriteria) > 0 {
		b.WriteString("\n\nAcceptance criteria:\n")
		for _, c := range s.AcceptanceCriteria {
			b.WriteString("- ")
			b.WriteString(c)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// PlanDocument is an ordered batch of stories submitted as one PRD-mode
// loop. It is immutable once execution starts; only the story completion
// flags flip as the sequencer advances.
type PlanDocument struct {
	// Name identifies the plan.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Description summarizes the plan's goal.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Branch is the checkpoint branch commits land on. Empty means the
	// current branch.
	Branch string `json:"branch,omitempty" yaml:"branch,omitempty"`

	// TestCommand runs after each attempt when set.
	TestCommand string `json:"test_command,omitempty" yaml:"test_command,omitempty"`

	// TypecheckCommand runs after each attempt when set.
	TypecheckCommand string `json:"typecheck_command,omitempty" yaml:"typecheck_command,omitempty"`

	// MaxIterationsPerStory bounds attempts per story. Zero selects
	// DefaultMaxIterationsPerStory.
	MaxIterationsPerStory int `json:"max_iterations_per_story,omitempty" yaml:"max_iterations_per_story,omitempty" validate:"gte=0,lte=5"`

	// Stories is the ordered work list.
	Stories []Story `json:"stories" yaml:"stories" validate:"required,dive"`
}

var validate = validator.New()

// Validate checks the plan structurally before any loop is created.
func (p *PlanDocument) Validate() error {
	validation := &ValidationErrors{}

	if strings.TrimSpace(p.Name) == "" {
		validation.Add("name", ErrPlanMissingName)
	}
	if len(p.Stories) == 0 {
		validation.Add("stories", ErrPlanNoStories)
	}
	if p.MaxIterationsPerStory < 0 || p.MaxIterationsPerStory > 5 {
		validation.Add("max_iterations_per_story", ErrInvalidStoryBudget)
	}

	seen := make(map[string]bool, len(p.Stories))
	for i, story := range p.Stories {
		field := fmt.Sprintf("stories[%d]", i)
		if strings.TrimSpace(story.ID) == "" {
			validation.Add(field+".id", ErrStoryMissingID)
		} else if seen[story.ID] {
			validation.Add(field+".id", ErrDuplicateStoryID)
		} else {
			seen[story.ID] = true
		}
		if strings.TrimSpace(story.Title) == "" {
			validation.Add(field+".title", ErrStoryMissingTitle)
		}
	}

	if err := validation.Err(); err != nil {
		return err
	}
	return validate.Struct(p)
}

// IterationBudget returns the effective per-story attempt budget.
func (p *PlanDocument) IterationBudget() int {
	if p.MaxIterationsPerStory == 0 {
		return DefaultMaxIterationsPerStory
	}
	return p.MaxIterationsPerStory
}

// OrderedStories returns the stories in execution order: ascending
// priority when any story sets one, otherwise document order. The sort is
// stable so equal priorities keep their document order.
func (p *PlanDocument) OrderedStories() []Story {
	ordered := make([]Story, len(p.Stories))
	copy(ordered, p.Stories)

	prioritized := false
	for _, s := range ordered {
		if s.Priority > 0 {
			prioritized = true
			break
		}
	}
	if !prioritized {
		return ordered
	}

	// Unset priorities sort after explicit ones.
	rank := func(s Story) int {
		if s.Priority == 0 {
			return int(^uint(0) >> 1)
		}
		return s.Priority
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return rank(ordered[i]) < rank(ordered[j])
	})
	return ordered
}
