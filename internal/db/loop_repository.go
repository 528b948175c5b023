package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ralphctl/ralph/internal/models"
)

// Loop repository errors.
var (
	ErrLoopNotFound      = errors.New("loop not found")
	ErrLoopAlreadyExists = errors.New("loop already exists")
)

// LoopRepository handles loop persistence.
type LoopRepository struct {
	db *DB
}

// NewLoopRepository creates a new LoopRepository.
func NewLoopRepository(db *DB) *LoopRepository {
	return &LoopRepository{db: db}
}

// Create adds a new loop to the database.
func (r *LoopRepository) Create(ctx context.Context, loop *models.Loop) error {
	if loop.ID == "" {
		loop.ID = uuid.New().String()
	}
	if err := loop.Validate(); err != nil {
		return fmt.Errorf("invalid loop: %w", err)
	}

	now := time.Now().UTC()
	loop.CreatedAt = now
	loop.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO loops (
			id, project_id, mode, status, prompt, outcome, work_dir, plan_name,
			iteration, current_story, total_stories, quality_score,
			created_at, updated_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		loop.ID,
		loop.ProjectID,
		string(loop.Mode),
		string(loop.Status),
		loop.Prompt,
		loop.Outcome,
		loop.WorkDir,
		loop.PlanName,
		loop.Iteration,
		loop.CurrentStory,
		loop.TotalStories,
		loop.QualityScore,
		loop.CreatedAt.Format(time.RFC3339),
		loop.UpdatedAt.Format(time.RFC3339),
		stringTimePtr(loop.FinishedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrLoopAlreadyExists
		}
		return fmt.Errorf("failed to insert loop: %w", err)
	}

	return nil
}

// Get retrieves a loop by ID.
func (r *LoopRepository) Get(ctx context.Context, id string) (*models.Loop, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT
			id, project_id, mode, status, prompt, outcome, work_dir, plan_name,
			iteration, current_story, total_stories, quality_score,
			created_at, updated_at, finished_at
		FROM loops WHERE id = ?
	`, id)

	return r.scanLoop(row)
}

// List retrieves all loops, newest first.
func (r *LoopRepository) List(ctx context.Context) ([]*models.Loop, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id, project_id, mode, status, prompt, outcome, work_dir, plan_name,
			iteration, current_story, total_stories, quality_score,
			created_at, updated_at, finished_at
		FROM loops
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query loops: %w", err)
	}
	defer rows.Close()

	return r.collectLoops(rows)
}

// ListByProject retrieves all loops for a project, newest first.
func (r *LoopRepository) ListByProject(ctx context.Context, projectID string) ([]*models.Loop, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id, project_id, mode, status, prompt, outcome, work_dir, plan_name,
			iteration, current_story, total_stories, quality_score,
			created_at, updated_at, finished_at
		FROM loops
		WHERE project_id = ?
		ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query loops: %w", err)
	}
	defer rows.Close()

	return r.collectLoops(rows)
}

// GetActiveByProject returns the project's loop in running or paused
// status, or ErrLoopNotFound when the project is idle.
func (r *LoopRepository) GetActiveByProject(ctx context.Context, projectID string) (*models.Loop, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT
			id, project_id, mode, status, prompt, outcome, work_dir, plan_name,
			iteration, current_story, total_stories, quality_score,
			created_at, updated_at, finished_at
		FROM loops
		WHERE project_id = ? AND status IN ('running', 'paused')
		ORDER BY created_at DESC
		LIMIT 1
	`, projectID)

	return r.scanLoop(row)
}

// Update updates a loop. Loops are never deleted; terminal rows stay for
// history.
func (r *LoopRepository) Update(ctx context.Context, loop *models.Loop) error {
	if err := loop.Validate(); err != nil {
		return fmt.Errorf("invalid loop: %w", err)
	}

	loop.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE loops
		SET project_id = ?, mode = ?, status = ?, prompt = ?, outcome = ?,
			work_dir = ?, plan_name = ?, iteration = ?, current_story = ?,
			total_stories = ?, quality_score = ?, updated_at = ?, finished_at = ?
		WHERE id = ?
	`,
		loop.ProjectID,
		string(loop.Mode),
		string(loop.Status),
		loop.Prompt,
		loop.Outcome,
		loop.WorkDir,
		loop.PlanName,
		loop.Iteration,
		loop.CurrentStory,
		loop.TotalStories,
		loop.QualityScore,
		loop.UpdatedAt.Format(time.RFC3339),
		stringTimePtr(loop.FinishedAt),
		loop.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update loop: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrLoopNotFound
	}
	return nil
}

// FailWithMistake records a mistake and moves the loop to failed in one
// transaction, so any reader observing the failed status can find the
// mistake.
func (r *LoopRepository) FailWithMistake(ctx context.Context, loop *models.Loop, mistake *models.Mistake) error {
	if mistake.ID == "" {
		mistake.ID = uuid.New().String()
	}
	if mistake.Type == "" {
		mistake.Type = models.MistakeTypeImplementation
	}
	if err := mistake.Validate(); err != nil {
		return fmt.Errorf("invalid mistake: %w", err)
	}

	now := time.Now().UTC()
	mistake.CreatedAt = now

	loop.Status = models.LoopStatusFailed
	loop.UpdatedAt = now
	loop.FinishedAt = &now
	if err := loop.Validate(); err != nil {
		return fmt.Errorf("invalid loop: %w", err)
	}

	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO mistakes (
				id, project_id, loop_id, mistake_type, description,
				context, resolution, learned_pattern, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			mistake.ID,
			mistake.ProjectID,
			mistake.LoopID,
			string(mistake.Type),
			mistake.Description,
			mistake.Context,
			mistake.Resolution,
			mistake.LearnedPattern,
			mistake.CreatedAt.Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to insert mistake: %w", err)
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE loops
			SET status = ?, outcome = ?, iteration = ?, current_story = ?,
				quality_score = ?, updated_at = ?, finished_at = ?
			WHERE id = ?
		`,
			string(loop.Status),
			loop.Outcome,
			loop.Iteration,
			loop.CurrentStory,
			loop.QualityScore,
			loop.UpdatedAt.Format(time.RFC3339),
			stringTimePtr(loop.FinishedAt),
			loop.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update loop: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return ErrLoopNotFound
		}
		return nil
	})
}

func (r *LoopRepository) collectLoops(rows *sql.Rows) ([]*models.Loop, error) {
	loops := make([]*models.Loop, 0)
	for rows.Next() {
		loop, err := r.scanLoop(rows)
		if err != nil {
			return nil, err
		}
		loops = append(loops, loop)
	}
	return loops, rows.Err()
}

func (r *LoopRepository) scanLoop(scanner interface{ Scan(...any) error }) (*models.Loop, error) {
	var (
		id           string
		projectID    string
		mode         string
		status       string
		prompt       string
		outcome      string
		workDir      string
		planName     sql.NullString
		iteration    int
		currentStory int
		totalStories int
		qualityScore sql.NullInt64
		createdAt    string
		updatedAt    string
		finishedAt   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&projectID,
		&mode,
		&status,
		&prompt,
		&outcome,
		&workDir,
		&planName,
		&iteration,
		&currentStory,
		&totalStories,
		&qualityScore,
		&createdAt,
		&updatedAt,
		&finishedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLoopNotFound
		}
		return nil, fmt.Errorf("failed to scan loop: %w", err)
	}

	loop := &models.Loop{
		ID:           id,
		ProjectID:    projectID,
		Mode:         models.LoopMode(mode),
		Status:       models.LoopStatus(status),
		Prompt:       prompt,
		Outcome:      outcome,
		WorkDir:      workDir,
		Iteration:    iteration,
		CurrentStory: currentStory,
		TotalStories: totalStories,
	}

	if planName.Valid && planName.String != "" {
		loop.PlanName = &planName.String
	}
	if qualityScore.Valid {
		score := int(qualityScore.Int64)
		loop.QualityScore = &score
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		loop.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		loop.UpdatedAt = t
	}
	if finishedAt.Valid && finishedAt.String != "" {
		if t, err := time.Parse(time.RFC3339, finishedAt.String); err == nil {
			loop.FinishedAt = &t
		}
	}

	return loop, nil
}

func stringTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.UTC().Format(time.RFC3339)
	return &formatted
}

func isUniqueConstraintError(err error) bool {
	// SQLite returns "UNIQUE constraint failed" errors
	// Be specific to avoid matching CHECK constraint errors
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
