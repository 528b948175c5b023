package models

import (
	"strings"
	"time"
)

// MistakeType classifies how a loop attempt went wrong.
type MistakeType string

const (
	MistakeTypeFileNotFound    MistakeType = "file_not_found"
	MistakeTypeSyntaxError     MistakeType = "syntax_error"
	MistakeTypeTypeError       MistakeType = "type_error"
	MistakeTypePermissionError MistakeType = "permission_error"
	MistakeTypeTimeout         MistakeType = "timeout"
	MistakeTypeNetworkError    MistakeType = "network_error"
	MistakeTypeResourceError   MistakeType = "resource_error"
	MistakeTypeUserCancelled   MistakeType = "user_cancelled"
	// MistakeTypeImplementation is the catch-all for failures that do not
	// match a more specific type.
	MistakeTypeImplementation MistakeType = "implementation"
)

// IsValid reports whether t is one of the known mistake types.
func (t MistakeType) IsValid() bool {
	switch t {
	case MistakeTypeFileNotFound, MistakeTypeSyntaxError, MistakeTypeTypeError,
		MistakeTypePermissionError, MistakeTypeTimeout, MistakeTypeNetworkError,
		MistakeTypeResourceError, MistakeTypeUserCancelled, MistakeTypeImplementation:
		return true
	}
	return false
}

// Mistake is one classified failure captured during (or outside) a loop.
type Mistake struct {
	// ID is the unique identifier (UUID).
	ID string `json:"id"`

	// ProjectID scopes the mistake to a project.
	ProjectID string `json:"project_id"`

	// LoopID links the mistake to the loop it occurred in. Nil when the
	// mistake was recorded outside any loop, such as manual review.
	LoopID *string `json:"loop_id,omitempty"`

	// Type classifies the failure.
	Type MistakeType `json:"mistake_type"`

	// Description is the human-readable failure summary.
	Description string `json:"description"`

	// Context holds the original prompt or task text, when available.
	Context *string `json:"context,omitempty"`

	// Resolution describes how the issue was eventually fixed. Once set
	// it may be replaced but never cleared.
	Resolution *string `json:"resolution,omitempty"`

	// LearnedPattern is a short rule extracted for reuse when building
	// context for future loops.
	LearnedPattern *string `json:"learned_pattern,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the mistake before persistence.
func (m *Mistake) Validate() error {
	validation := &ValidationErrors{}

	if strings.TrimSpace(m.ProjectID) == "" {
		validation.Add("project_id", ErrEmptyProjectID)
	}
	if strings.TrimSpace(m.Description) == "" {
		validation.Add("description", ErrEmptyMistakeDescription)
	}
	if !m.Type.IsValid() {
		validation.Add("mistake_type", ErrInvalidMistakeType)
	}

	return validation.Err()
}
