package models

import (
	"strings"
	"time"
)

// DismissalTTL is how long a non-permanent dismissal stays in effect.
const DismissalTTL = 24 * time.Hour

// Dismissal records that a user dismissed a recommendation for a project.
// Non-permanent dismissals expire after DismissalTTL; permanent ones never
// do.
type Dismissal struct {
	// ID is the unique identifier (UUID).
	ID string `json:"id"`

	// ProjectID scopes the dismissal to a project.
	ProjectID string `json:"project_id"`

	// RecommendationID names the dismissed recommendation. Opaque to the
	// store; the caller defines its meaning.
	RecommendationID string `json:"recommendation_id"`

	// DismissedAt is when the dismissal was recorded.
	DismissedAt time.Time `json:"dismissed_at"`

	// Permanent dismissals never expire.
	Permanent bool `json:"permanent"`
}

// Active reports whether the dismissal is still in effect at now.
func (d *Dismissal) Active(now time.Time) bool {
	if d.Permanent {
		return true
	}
	return now.Sub(d.DismissedAt) < DismissalTTL
}

// Validate checks the dismissal before persistence.
func (d *Dismissal) Validate() error {
	validation := &ValidationErrors{}

	if strings.TrimSpace(d.ProjectID) == "" {
		validation.Add("project_id", ErrEmptyProjectID)
	}
	if strings.TrimSpace(d.RecommendationID) == "" {
		validation.Add("recommendation_id", ErrEmptyRecommendationID)
	}

	return validation.Err()
}
