// Package loop drives the lifecycle of AI coding loops: iterative
// single-prompt runs and PRD-mode story batches.
package loop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ralphctl/ralph/internal/agent"
	"github.com/ralphctl/ralph/internal/checkpoint"
	"github.com/ralphctl/ralph/internal/db"
	"github.com/ralphctl/ralph/internal/learn"
	"github.com/ralphctl/ralph/internal/models"
	"github.com/ralphctl/ralph/internal/state"
)

const defaultPollInterval = 1 * time.Second

// errLoopFinished signals the run goroutine that the loop reached a
// terminal status through a control call while it was parked.
var errLoopFinished = errors.New("loop reached terminal status")

// Manager owns the run goroutine of one active loop and serves its
// control operations. Status transitions always go through the Guard,
// so pause/resume/kill validity is enforced in one place.
type Manager struct {
	loopID    string
	projectID string
	workDir   string
	mode      models.LoopMode
	prompt    string
	plan      *models.PlanDocument

	guard     *state.Guard
	loops     *db.LoopRepository
	builder   *learn.Builder
	executor  agent.Executor
	committer checkpoint.Committer

	pollInterval   time.Duration
	attemptTimeout time.Duration

	runCtx    context.Context
	cancelRun context.CancelFunc
	done      chan struct{}

	logger zerolog.Logger
}

// Pause requests a halt at the next safe checkpoint. Only a running
// loop can be paused; the in-flight attempt, if any, runs to its next
// checkpoint rather than being pre-empted.
func (m *Manager) Pause(ctx context.Context) error {
	loop, err := m.loops.Get(ctx, m.loopID)
	if err != nil {
		return err
	}
	if loop.Status != models.LoopStatusRunning {
		return &state.TransitionError{
			LoopID:     m.loopID,
			FromStatus: loop.Status,
			ToStatus:   models.LoopStatusPaused,
			Reason:     "pause is allowed only from running",
		}
	}

	_, err = m.guard.Transition(ctx, m.loopID, models.LoopStatusPaused, "paused by user")
	return err
}

// Resume restarts a paused loop. Resuming anything else is an error so
// callers can tell "already done" from "resumed".
func (m *Manager) Resume(ctx context.Context) error {
	loop, err := m.loops.Get(ctx, m.loopID)
	if err != nil {
		return err
	}
	if loop.Status != models.LoopStatusPaused {
		return &state.TransitionError{
			LoopID:     m.loopID,
			FromStatus: loop.Status,
			ToStatus:   models.LoopStatusRunning,
			Reason:     "resume is allowed only from paused",
		}
	}

	_, err = m.guard.Transition(ctx, m.loopID, models.LoopStatusRunning, "resumed by user")
	return err
}

// Kill terminates the loop from running or paused. The user_cancelled
// mistake is written in the same transaction as the failed status, then
// the in-flight attempt is cancelled.
func (m *Manager) Kill(ctx context.Context) error {
	loop, err := m.loops.Get(ctx, m.loopID)
	if err != nil {
		return err
	}
	if loop.IsTerminal() {
		return models.ErrLoopNotKillable
	}

	mistake := &models.Mistake{
		ProjectID:   m.projectID,
		Type:        models.MistakeTypeUserCancelled,
		Description: "loop killed by user",
	}
	if _, err := m.guard.Fail(ctx, m.loopID, mistake, "killed by user"); err != nil {
		var transitionErr *state.TransitionError
		if errors.As(err, &transitionErr) {
			return models.ErrLoopNotKillable
		}
		return err
	}

	m.cancelRun()
	return nil
}

// Done is closed when the run goroutine exits.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) run() {
	defer close(m.done)

	switch m.mode {
	case models.LoopModePRD:
		seq := &Sequencer{manager: m, plan: m.plan}
		seq.Run(m.runCtx)
	default:
		m.runIterative(m.runCtx)
	}
}

// runIterative performs the single attempt of an iterative loop. There
// is no automatic retry beyond what the executor does internally.
func (m *Manager) runIterative(ctx context.Context) {
	if err := m.waitIfPaused(ctx); err != nil {
		return
	}

	res := m.attempt(ctx, m.projectID, m.prompt)
	if ctx.Err() != nil {
		// Killed or shut down mid-attempt; the kill path already
		// recorded the terminal state.
		return
	}
	m.incrementIteration(ctx)

	// Applying the result is a safe checkpoint: park here while paused.
	if err := m.waitIfPaused(ctx); err != nil {
		return
	}

	if res.Success {
		if _, err := m.guard.Complete(ctx, m.loopID, res.Outcome); err != nil {
			m.logger.Warn().Err(err).Msg("failed to complete loop")
		}
		return
	}

	m.failWith(ctx, &models.Mistake{
		ProjectID:   m.projectID,
		Type:        agent.Classify(res.Err, res.Output),
		Description: res.Outcome,
		Context:     &m.prompt,
	}, res.Outcome)
}

// attempt builds fresh learned context and executes one agent attempt.
func (m *Manager) attempt(ctx context.Context, projectID, prompt string) agent.Result {
	rendered := prompt
	if loopCtx, err := m.builder.Build(ctx, projectID); err != nil {
		m.logger.Warn().Err(err).Msg("context build failed, proceeding without learned context")
	} else {
		rendered = loopCtx.Render(prompt)
	}

	return m.executor.Execute(ctx, agent.Request{
		Prompt:  rendered,
		WorkDir: m.workDir,
		Timeout: m.attemptTimeout,
	})
}

// waitIfPaused parks the run goroutine while the loop is paused. It
// returns nil when the loop is running, and an error when the context
// is cancelled or the loop reached a terminal status.
func (m *Manager) waitIfPaused(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		loop, err := m.loops.Get(ctx, m.loopID)
		if err != nil {
			return err
		}

		switch loop.Status {
		case models.LoopStatusRunning:
			return nil
		case models.LoopStatusPaused:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.pollInterval):
			}
		default:
			return errLoopFinished
		}
	}
}

func (m *Manager) incrementIteration(ctx context.Context) {
	loop, err := m.loops.Get(ctx, m.loopID)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to load loop for iteration bump")
		return
	}
	loop.Iteration++
	if err := m.loops.Update(ctx, loop); err != nil {
		m.logger.Warn().Err(err).Msg("failed to persist iteration count")
	}
}

// setCurrentStory advances the story cursor. It never moves backwards.
func (m *Manager) setCurrentStory(ctx context.Context, index int) {
	loop, err := m.loops.Get(ctx, m.loopID)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to load loop for story cursor")
		return
	}
	if index > loop.CurrentStory {
		loop.CurrentStory = index
		if err := m.loops.Update(ctx, loop); err != nil {
			m.logger.Warn().Err(err).Msg("failed to persist story cursor")
		}
	}
}

func (m *Manager) failWith(ctx context.Context, mistake *models.Mistake, outcome string) {
	if _, err := m.guard.Fail(ctx, m.loopID, mistake, outcome); err != nil {
		m.logger.Warn().Err(err).Msg("failed to record loop failure")
	}
}

func storyLabel(index, total int) string {
	return fmt.Sprintf("story %d/%d", index+1, total)
}
