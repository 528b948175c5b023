// Package state provides loop status management with validated transitions.
package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ralphctl/ralph/internal/db"
	"github.com/ralphctl/ralph/internal/models"
)

// TransitionError is returned when an invalid status transition is attempted.
type TransitionError struct {
	LoopID     string
	FromStatus models.LoopStatus
	ToStatus   models.LoopStatus
	Reason     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition for loop %s: %s -> %s: %s",
		e.LoopID, e.FromStatus, e.ToStatus, e.Reason)
}

// TransitionEvent represents a status transition that occurred.
type TransitionEvent struct {
	LoopID     string
	FromStatus models.LoopStatus
	ToStatus   models.LoopStatus
	Reason     string
	Timestamp  time.Time
}

// TransitionCallback is called when a status transition occurs.
type TransitionCallback func(event TransitionEvent)

// validTransitions defines which status transitions are allowed.
// Map key is the current status, value is a set of valid target statuses.
var validTransitions = map[models.LoopStatus]map[models.LoopStatus]bool{
	models.LoopStatusRunning: {
		models.LoopStatusPaused:    true, // User paused
		models.LoopStatusCompleted: true, // Quality converged or all stories done
		models.LoopStatusFailed:    true, // Unrecoverable error, exhausted budget, or kill
	},
	models.LoopStatusPaused: {
		models.LoopStatusRunning: true, // Resumed
		models.LoopStatusFailed:  true, // Killed while paused
	},
	// completed and failed are terminal; no outgoing edges.
	models.LoopStatusCompleted: {},
	models.LoopStatusFailed:    {},
}

// IsValidTransition checks if a status transition is allowed.
func IsValidTransition(from, to models.LoopStatus) bool {
	if from == to {
		return true // Same status is always valid (no-op)
	}
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// ValidTargetStatuses returns the statuses reachable from the given status.
func ValidTargetStatuses(from models.LoopStatus) []models.LoopStatus {
	targets, ok := validTransitions[from]
	if !ok {
		return nil
	}
	result := make([]models.LoopStatus, 0, len(targets))
	for status := range targets {
		result = append(result, status)
	}
	return result
}

// Guard validates and persists loop status transitions. All transitions
// for all loops funnel through it, so a load-validate-write cycle is
// never interleaved with another.
type Guard struct {
	mu        sync.Mutex
	loops     *db.LoopRepository
	callbacks []TransitionCallback
}

// NewGuard creates a new Guard backed by the loop repository.
func NewGuard(loops *db.LoopRepository) *Guard {
	return &Guard{
		loops:     loops,
		callbacks: make([]TransitionCallback, 0),
	}
}

// OnTransition registers a callback to be called on status transitions.
func (g *Guard) OnTransition(cb TransitionCallback) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callbacks = append(g.callbacks, cb)
}

// Transition moves a loop to a new status and persists it. Same-status
// transitions are no-ops. Terminal targets get finished_at stamped.
func (g *Guard) Transition(ctx context.Context, loopID string, toStatus models.LoopStatus, reason string) (*models.Loop, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	loop, err := g.loops.Get(ctx, loopID)
	if err != nil {
		return nil, err
	}

	// Same status is a no-op
	if loop.Status == toStatus {
		return loop, nil
	}

	if !IsValidTransition(loop.Status, toStatus) {
		return nil, &TransitionError{
			LoopID:     loopID,
			FromStatus: loop.Status,
			ToStatus:   toStatus,
			Reason:     "transition not allowed",
		}
	}

	fromStatus := loop.Status
	loop.Status = toStatus
	if loop.IsTerminal() {
		now := time.Now().UTC()
		loop.FinishedAt = &now
	}

	if err := g.loops.Update(ctx, loop); err != nil {
		return nil, err
	}

	g.emit(TransitionEvent{
		LoopID:     loopID,
		FromStatus: fromStatus,
		ToStatus:   toStatus,
		Reason:     reason,
	})

	return loop, nil
}

// Complete moves a loop to completed and records its outcome summary.
func (g *Guard) Complete(ctx context.Context, loopID, outcome string) (*models.Loop, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	loop, err := g.loops.Get(ctx, loopID)
	if err != nil {
		return nil, err
	}

	if !IsValidTransition(loop.Status, models.LoopStatusCompleted) || loop.IsTerminal() {
		return nil, &TransitionError{
			LoopID:     loopID,
			FromStatus: loop.Status,
			ToStatus:   models.LoopStatusCompleted,
			Reason:     "transition not allowed",
		}
	}

	fromStatus := loop.Status
	loop.Status = models.LoopStatusCompleted
	loop.Outcome = outcome
	now := time.Now().UTC()
	loop.FinishedAt = &now

	if err := g.loops.Update(ctx, loop); err != nil {
		return nil, err
	}

	g.emit(TransitionEvent{
		LoopID:     loopID,
		FromStatus: fromStatus,
		ToStatus:   models.LoopStatusCompleted,
		Reason:     outcome,
	})

	return loop, nil
}

// Fail moves a loop to failed and records the mistake in the same
// transaction, so a reader observing the failed status always finds the
// mistake. The reason doubles as the loop's outcome summary.
func (g *Guard) Fail(ctx context.Context, loopID string, mistake *models.Mistake, reason string) (*models.Loop, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	loop, err := g.loops.Get(ctx, loopID)
	if err != nil {
		return nil, err
	}

	if !IsValidTransition(loop.Status, models.LoopStatusFailed) {
		return nil, &TransitionError{
			LoopID:     loopID,
			FromStatus: loop.Status,
			ToStatus:   models.LoopStatusFailed,
			Reason:     "transition not allowed",
		}
	}

	fromStatus := loop.Status
	loop.Outcome = reason
	mistake.LoopID = &loop.ID
	if err := g.loops.FailWithMistake(ctx, loop, mistake); err != nil {
		return nil, err
	}

	g.emit(TransitionEvent{
		LoopID:     loopID,
		FromStatus: fromStatus,
		ToStatus:   models.LoopStatusFailed,
		Reason:     reason,
	})

	return loop, nil
}

func (g *Guard) emit(event TransitionEvent) {
	event.Timestamp = time.Now()
	for _, cb := range g.callbacks {
		cb(event)
	}
}

// StatusInfo provides detailed information about a status.
type StatusInfo struct {
	Status      models.LoopStatus
	DisplayName string
	Description string
	IsActive    bool // True if the loop still occupies its project
	IsTerminal  bool // True if the loop can no longer change status
}

// GetStatusInfo returns detailed information about a status.
func GetStatusInfo(status models.LoopStatus) StatusInfo {
	switch status {
	case models.LoopStatusRunning:
		return StatusInfo{
			Status:      status,
			DisplayName: "Running",
			Description: "Loop is executing attempts",
			IsActive:    true,
			IsTerminal:  false,
		}
	case models.LoopStatusPaused:
		return StatusInfo{
			Status:      status,
			DisplayName: "Paused",
			Description: "Loop is paused by user",
			IsActive:    true,
			IsTerminal:  false,
		}
	case models.LoopStatusCompleted:
		return StatusInfo{
			Status:      status,
			DisplayName: "Completed",
			Description: "Loop reached its goal",
			IsActive:    false,
			IsTerminal:  true,
		}
	case models.LoopStatusFailed:
		return StatusInfo{
			Status:      status,
			DisplayName: "Failed",
			Description: "Loop failed or was killed",
			IsActive:    false,
			IsTerminal:  true,
		}
	default:
		return StatusInfo{
			Status:      status,
			DisplayName: string(status),
			Description: "Unknown status",
			IsActive:    false,
			IsTerminal:  false,
		}
	}
}
