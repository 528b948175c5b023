package loop

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ralphctl/ralph/internal/agent"
	"github.com/ralphctl/ralph/internal/analyzer"
	"github.com/ralphctl/ralph/internal/checkpoint"
	"github.com/ralphctl/ralph/internal/db"
	"github.com/ralphctl/ralph/internal/learn"
	"github.com/ralphctl/ralph/internal/logging"
	"github.com/ralphctl/ralph/internal/models"
	"github.com/ralphctl/ralph/internal/state"
)

// Options wires the registry's collaborators.
type Options struct {
	Loops    *db.LoopRepository
	Mistakes *db.MistakeRepository
	Guard    *state.Guard
	Analyzer analyzer.Analyzer
	Builder  *learn.Builder

	// Executor runs agent attempts; Committer records story checkpoints.
	Executor  agent.Executor
	Committer checkpoint.Committer

	// ProjectRoot resolves a project's work dir when the caller does
	// not supply one: <root>/<projectID>.
	ProjectRoot string

	// PollInterval is how often a parked loop re-checks its status.
	// Zero selects one second.
	PollInterval time.Duration

	// AttemptTimeout bounds one agent attempt. Zero lets the executor
	// apply its default.
	AttemptTimeout time.Duration
}

// Registry tracks all loops, enforces the single-active-loop-per-project
// invariant, and routes control operations to the owning manager.
type Registry struct {
	opts   Options
	logger zerolog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	managers map[string]*Manager
	wg       sync.WaitGroup
}

// NewRegistry creates a Registry. Call Shutdown to stop all run
// goroutines.
func NewRegistry(opts Options) *Registry {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		opts:     opts,
		logger:   logging.Component("registry"),
		baseCtx:  ctx,
		cancel:   cancel,
		managers: make(map[string]*Manager),
	}
}

// StartIterative validates the prompt, scores it, and starts a new
// iterative loop. The loop record is returned immediately in running
// status; execution proceeds in the background.
func (r *Registry) StartIterative(ctx context.Context, projectID, workDir, prompt string) (*models.Loop, error) {
	validation := &models.ValidationErrors{}
	if strings.TrimSpace(projectID) == "" {
		validation.Add("project_id", models.ErrEmptyProjectID)
	}
	if strings.TrimSpace(prompt) == "" {
		validation.Add("prompt", models.ErrEmptyPrompt)
	}
	if err := validation.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureProjectIdle(ctx, projectID); err != nil {
		return nil, err
	}

	analysis := r.opts.Analyzer.Analyze(prompt)
	score := analysis.QualityScore

	loop := &models.Loop{
		ProjectID:    projectID,
		Mode:         models.LoopModeIterative,
		Status:       models.LoopStatusRunning,
		Prompt:       prompt,
		WorkDir:      r.resolveWorkDir(projectID, workDir),
		QualityScore: &score,
	}
	if err := r.opts.Loops.Create(ctx, loop); err != nil {
		return nil, err
	}

	r.spawn(loop, nil)

	r.logger.Info().
		Str("loop_id", loop.ID).
		Str("project_id", projectID).
		Int("quality_score", score).
		Msg("iterative loop started")

	return loop, nil
}

// StartPlan validates the plan document structurally and starts a new
// PRD-mode loop. Malformed plans are rejected before any loop or
// mistake row is created.
func (r *Registry) StartPlan(ctx context.Context, projectID, workDir string, plan *models.PlanDocument) (*models.Loop, error) {
	if strings.TrimSpace(projectID) == "" {
		validation := &models.ValidationErrors{}
		validation.Add("project_id", models.ErrEmptyProjectID)
		return nil, validation.Err()
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureProjectIdle(ctx, projectID); err != nil {
		return nil, err
	}

	planName := plan.Name
	loop := &models.Loop{
		ProjectID:    projectID,
		Mode:         models.LoopModePRD,
		Status:       models.LoopStatusRunning,
		Prompt:       plan.Description,
		WorkDir:      r.resolveWorkDir(projectID, workDir),
		PlanName:     &planName,
		TotalStories: len(plan.Stories),
	}
	if err := r.opts.Loops.Create(ctx, loop); err != nil {
		return nil, err
	}

	r.spawn(loop, plan)

	r.logger.Info().
		Str("loop_id", loop.ID).
		Str("project_id", projectID).
		Str("plan", plan.Name).
		Int("stories", len(plan.Stories)).
		Msg("prd loop started")

	return loop, nil
}

// Pause routes a pause request to the owning manager.
func (r *Registry) Pause(ctx context.Context, loopID string) error {
	if m := r.manager(loopID); m != nil {
		return m.Pause(ctx)
	}
	return r.pauseDetached(ctx, loopID)
}

// Resume routes a resume request to the owning manager.
func (r *Registry) Resume(ctx context.Context, loopID string) error {
	if m := r.manager(loopID); m != nil {
		return m.Resume(ctx)
	}
	return r.resumeDetached(ctx, loopID)
}

// Kill terminates a loop. Killing an already-terminal loop reports
// "not killable" rather than silently succeeding.
func (r *Registry) Kill(ctx context.Context, loopID string) error {
	if m := r.manager(loopID); m != nil {
		return m.Kill(ctx)
	}
	return r.killDetached(ctx, loopID)
}

// Get returns a loop by id.
func (r *Registry) Get(ctx context.Context, loopID string) (*models.Loop, error) {
	return r.opts.Loops.Get(ctx, loopID)
}

// List returns a project's loops, newest first.
func (r *Registry) List(ctx context.Context, projectID string) ([]*models.Loop, error) {
	return r.opts.Loops.ListByProject(ctx, projectID)
}

// Shutdown cancels all run goroutines and waits for them to exit.
// Loops are left in their persisted status; no terminal transition is
// forced on daemon shutdown.
func (r *Registry) Shutdown() {
	r.cancel()
	r.wg.Wait()
}

// ensureProjectIdle enforces the single-active-loop-per-project
// invariant. Caller holds r.mu.
func (r *Registry) ensureProjectIdle(ctx context.Context, projectID string) error {
	active, err := r.opts.Loops.GetActiveByProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, db.ErrLoopNotFound) {
			return nil
		}
		return err
	}
	return fmt.Errorf("%w: loop %s is %s", models.ErrProjectBusy, active.ID, active.Status)
}

func (r *Registry) resolveWorkDir(projectID, workDir string) string {
	if strings.TrimSpace(workDir) != "" {
		return workDir
	}
	if r.opts.ProjectRoot != "" {
		return filepath.Join(r.opts.ProjectRoot, projectID)
	}
	return ""
}

// spawn creates the manager for a freshly created loop and starts its
// run goroutine. Caller holds r.mu.
func (r *Registry) spawn(loop *models.Loop, plan *models.PlanDocument) {
	runCtx, cancelRun := context.WithCancel(r.baseCtx)
	m := &Manager{
		loopID:         loop.ID,
		projectID:      loop.ProjectID,
		workDir:        loop.WorkDir,
		mode:           loop.Mode,
		prompt:         loop.Prompt,
		plan:           plan,
		guard:          r.opts.Guard,
		loops:          r.opts.Loops,
		builder:        r.opts.Builder,
		executor:       r.opts.Executor,
		committer:      r.opts.Committer,
		pollInterval:   r.opts.PollInterval,
		attemptTimeout: r.opts.AttemptTimeout,
		runCtx:         runCtx,
		cancelRun:      cancelRun,
		done:           make(chan struct{}),
		logger:         r.logger.With().Str("loop_id", loop.ID).Logger(),
	}
	r.managers[loop.ID] = m

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancelRun()
		m.run()

		r.mu.Lock()
		delete(r.managers, loop.ID)
		r.mu.Unlock()
	}()
}

func (r *Registry) manager(loopID string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.managers[loopID]
}

// Detached control paths cover loops without a live manager: terminal
// loops whose manager was reaped, and active rows from a previous
// daemon run. Unknown ids surface db.ErrLoopNotFound.

func (r *Registry) pauseDetached(ctx context.Context, loopID string) error {
	loop, err := r.opts.Loops.Get(ctx, loopID)
	if err != nil {
		return err
	}
	if loop.Status != models.LoopStatusRunning {
		return &state.TransitionError{
			LoopID:     loopID,
			FromStatus: loop.Status,
			ToStatus:   models.LoopStatusPaused,
			Reason:     "pause is allowed only from running",
		}
	}
	_, err = r.opts.Guard.Transition(ctx, loopID, models.LoopStatusPaused, "paused by user")
	return err
}

func (r *Registry) resumeDetached(ctx context.Context, loopID string) error {
	loop, err := r.opts.Loops.Get(ctx, loopID)
	if err != nil {
		return err
	}
	if loop.Status != models.LoopStatusPaused {
		return &state.TransitionError{
			LoopID:     loopID,
			FromStatus: loop.Status,
			ToStatus:   models.LoopStatusRunning,
			Reason:     "resume is allowed only from paused",
		}
	}
	_, err = r.opts.Guard.Transition(ctx, loopID, models.LoopStatusRunning, "resumed by user")
	return err
}

func (r *Registry) killDetached(ctx context.Context, loopID string) error {
	loop, err := r.opts.Loops.Get(ctx, loopID)
	if err != nil {
		return err
	}
	if loop.IsTerminal() {
		return models.ErrLoopNotKillable
	}

	mistake := &models.Mistake{
		ProjectID:   loop.ProjectID,
		Type:        models.MistakeTypeUserCancelled,
		Description: "loop killed by user",
	}
	_, err = r.opts.Guard.Fail(ctx, loopID, mistake, "killed by user")
	return err
}
