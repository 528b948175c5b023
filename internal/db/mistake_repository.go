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

// Mistake repository errors.
var (
	ErrMistakeNotFound = errors.New("mistake not found")
)

// MistakeRepository handles mistake persistence. Mistakes are append-only:
// rows are created and resolved, never deleted.
type MistakeRepository struct {
	db *DB
}

// NewMistakeRepository creates a new MistakeRepository.
func NewMistakeRepository(db *DB) *MistakeRepository {
	return &MistakeRepository{db: db}
}

// Create adds a new mistake to the database.
func (r *MistakeRepository) Create(ctx context.Context, mistake *models.Mistake) error {
	if mistake.ID == "" {
		mistake.ID = uuid.New().String()
	}
	if mistake.Type == "" {
		mistake.Type = models.MistakeTypeImplementation
	}
	if err := mistake.Validate(); err != nil {
		return fmt.Errorf("invalid mistake: %w", err)
	}

	mistake.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
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

	return nil
}

// Get retrieves a mistake by ID.
func (r *MistakeRepository) Get(ctx context.Context, id string) (*models.Mistake, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT
			id, project_id, loop_id, mistake_type, description,
			context, resolution, learned_pattern, created_at
		FROM mistakes WHERE id = ?
	`, id)

	return r.scanMistake(row)
}

// ListByProject retrieves a project's mistakes, most recent first. A
// limit of zero returns all of them.
func (r *MistakeRepository) ListByProject(ctx context.Context, projectID string, limit int) ([]*models.Mistake, error) {
	// rowid breaks ties between rows created within the same second.
	query := `
		SELECT
			id, project_id, loop_id, mistake_type, description,
			context, resolution, learned_pattern, created_at
		FROM mistakes
		WHERE project_id = ?
		ORDER BY created_at DESC, rowid DESC
	`
	args := []any{projectID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mistakes: %w", err)
	}
	defer rows.Close()

	return r.collectMistakes(rows)
}

// ListByLoop retrieves the mistakes recorded for a loop, most recent
// first.
func (r *MistakeRepository) ListByLoop(ctx context.Context, loopID string) ([]*models.Mistake, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id, project_id, loop_id, mistake_type, description,
			context, resolution, learned_pattern, created_at
		FROM mistakes
		WHERE loop_id = ?
		ORDER BY created_at DESC, rowid DESC
	`, loopID)
	if err != nil {
		return nil, fmt.Errorf("failed to query mistakes: %w", err)
	}
	defer rows.Close()

	return r.collectMistakes(rows)
}

// CountByProject returns how many mistakes a project has accumulated.
func (r *MistakeRepository) CountByProject(ctx context.Context, projectID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM mistakes WHERE project_id = ?`, projectID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count mistakes: %w", err)
	}
	return count, nil
}

// Resolve sets the mistake's resolution text, and optionally a learned
// pattern for future context building. A resolution may be replaced by a
// later call but never cleared.
func (r *MistakeRepository) Resolve(ctx context.Context, id, resolution, learnedPattern string) error {
	if strings.TrimSpace(resolution) == "" {
		return models.ErrEmptyResolution
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE mistakes
		SET resolution = ?, learned_pattern = COALESCE(?, learned_pattern)
		WHERE id = ?
	`, resolution, nullableString(learnedPattern), id)
	if err != nil {
		return fmt.Errorf("failed to resolve mistake: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrMistakeNotFound
	}
	return nil
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func (r *MistakeRepository) collectMistakes(rows *sql.Rows) ([]*models.Mistake, error) {
	mistakes := make([]*models.Mistake, 0)
	for rows.Next() {
		mistake, err := r.scanMistake(rows)
		if err != nil {
			return nil, err
		}
		mistakes = append(mistakes, mistake)
	}
	return mistakes, rows.Err()
}

func (r *MistakeRepository) scanMistake(scanner interface{ Scan(...any) error }) (*models.Mistake, error) {
	var (
		id             string
		projectID      string
		loopID         sql.NullString
		mistakeType    string
		description    string
		contextText    sql.NullString
		resolution     sql.NullString
		learnedPattern sql.NullString
		createdAt      string
	)

	if err := scanner.Scan(
		&id,
		&projectID,
		&loopID,
		&mistakeType,
		&description,
		&contextText,
		&resolution,
		&learnedPattern,
		&createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMistakeNotFound
		}
		return nil, fmt.Errorf("failed to scan mistake: %w", err)
	}

	mistake := &models.Mistake{
		ID:          id,
		ProjectID:   projectID,
		Type:        models.MistakeType(mistakeType),
		Description: description,
	}

	if loopID.Valid && loopID.String != "" {
		mistake.LoopID = &loopID.String
	}
	if contextText.Valid && contextText.String != "" {
		mistake.Context = &contextText.String
	}
	if resolution.Valid && resolution.String != "" {
		mistake.Resolution = &resolution.String
	}
	if learnedPattern.Valid && learnedPattern.String != "" {
		mistake.LearnedPattern = &learnedPattern.String
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		mistake.CreatedAt = t
	}

	return mistake, nil
}
