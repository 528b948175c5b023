package models

import (
	"strings"
	"time"
)

// LoopMode selects how a loop consumes work.
type LoopMode string

const (
	// LoopModeIterative repeats a single prompt until quality converges.
	LoopModeIterative LoopMode = "iterative"
	// LoopModePRD walks the stories of a plan document in order.
	LoopModePRD LoopMode = "prd"
)

// LoopStatus represents the lifecycle state of a loop.
type LoopStatus string

const (
	LoopStatusRunning   LoopStatus = "running"
	LoopStatusPaused    LoopStatus = "paused"
	LoopStatusCompleted LoopStatus = "completed"
	LoopStatusFailed    LoopStatus = "failed"
)

// Loop is a persistent orchestration session that feeds prompts to an agent
// until its goal is reached or it is stopped.
type Loop struct {
	// ID is the unique identifier (UUID).
	ID string `json:"id"`

	// ProjectID scopes the loop to a project. A project has at most one
	// loop in a non-terminal status at a time.
	ProjectID string `json:"project_id"`

	// Mode is iterative or prd.
	Mode LoopMode `json:"mode"`

	// Status is the current lifecycle state.
	Status LoopStatus `json:"status"`

	// Prompt is the base instruction. Required for iterative loops; for
	// prd loops it holds the plan description and may be empty.
	Prompt string `json:"prompt"`

	// WorkDir is the directory the agent runs in.
	WorkDir string `json:"work_dir"`

	// PlanName names the plan document driving a prd loop.
	PlanName *string `json:"plan_name,omitempty"`

	// Outcome is a free-text summary set when the loop reaches a
	// terminal status.
	Outcome string `json:"outcome,omitempty"`

	// Iteration counts completed agent attempts across the whole loop.
	Iteration int `json:"iteration"`

	// CurrentStory is the zero-based index of the story being worked.
	// Meaningful only in prd mode.
	CurrentStory int `json:"current_story"`

	// TotalStories is the number of stories in the plan. Zero for
	// iterative loops.
	TotalStories int `json:"total_stories"`

	// QualityScore is the prompt analyzer's 0-100 score, set at creation
	// for iterative loops and nil for prd loops.
	QualityScore *int `json:"quality_score,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// FinishedAt is set when the loop reaches a terminal status.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// IsTerminal reports whether the loop can no longer change state.
func (l *Loop) IsTerminal() bool {
	return l.Status == LoopStatusCompleted || l.Status == LoopStatusFailed
}

// IsActive reports whether the loop still occupies its project.
func (l *Loop) IsActive() bool {
	return l.Status == LoopStatusRunning || l.Status == LoopStatusPaused
}

// Validate checks the loop before persistence.
func (l *Loop) Validate() error {
	validation := &ValidationErrors{}

	if strings.TrimSpace(l.ProjectID) == "" {
		validation.Add("project_id", ErrEmptyProjectID)
	}
	if strings.TrimSpace(l.WorkDir) == "" {
		validation.Add("work_dir", ErrEmptyWorkDir)
	}

	switch l.Mode {
	case LoopModeIterative:
		if strings.TrimSpace(l.Prompt) == "" {
			validation.Add("prompt", ErrEmptyPrompt)
		}
	case LoopModePRD:
		if l.TotalStories < 1 {
			validation.AddMessage("total_stories", "prd loop requires at least one story")
		}
	default:
		validation.Add("mode", ErrInvalidLoopMode)
	}

	switch l.Status {
	case LoopStatusRunning, LoopStatusPaused, LoopStatusCompleted, LoopStatusFailed:
	default:
		validation.Add("status", ErrInvalidLoopStatus)
	}

	if l.QualityScore != nil && (*l.QualityScore < 0 || *l.QualityScore > 100) {
		validation.AddMessage("quality_score", "quality_score must be between 0 and 100")
	}
	if l.CurrentStory < 0 {
		validation.AddMessage("current_story", "current_story cannot be negative")
	}
	if l.TotalStories > 0 && l.IsActive() && l.CurrentStory >= l.TotalStories {
		validation.AddMessage("current_story", "current_story must be below total_stories while active")
	}

	return validation.Err()
}

