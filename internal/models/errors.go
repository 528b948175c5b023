package models

import "errors"

// Loop errors.
var (
	ErrEmptyPrompt       = errors.New("prompt cannot be empty")
	ErrEmptyProjectID    = errors.New("project_id cannot be empty")
	ErrEmptyWorkDir      = errors.New("work_dir cannot be empty")
	ErrInvalidLoopMode   = errors.New("invalid loop mode")
	ErrInvalidLoopStatus = errors.New("invalid loop status")
	ErrLoopNotKillable   = errors.New("loop is not killable")
	ErrProjectBusy       = errors.New("project already has an active loop")
)

// Mistake errors.
var (
	ErrEmptyMistakeDescription = errors.New("mistake description cannot be empty")
	ErrInvalidMistakeType      = errors.New("invalid mistake type")
	ErrEmptyResolution         = errors.New("resolution cannot be empty")
)

// Plan errors.
var (
	ErrPlanMissingName    = errors.New("plan must have a name")
	ErrPlanNoStories      = errors.New("plan requires at least one story")
	ErrStoryMissingID     = errors.New("story must have an id")
	ErrStoryMissingTitle  = errors.New("story must have a title")
	ErrDuplicateStoryID   = errors.New("duplicate story id")
	ErrInvalidStoryBudget = errors.New("max_iterations_per_story must be between 1 and 5")
)

// Recommendation errors.
var (
	ErrEmptyRecommendationID = errors.New("recommendation_id cannot be empty")
)
