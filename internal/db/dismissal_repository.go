package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ralphctl/ralph/internal/models"
)

// Dismissal repository errors.
var (
	ErrDismissalNotFound = errors.New("dismissal not found")
)

// DismissalRepository handles recommendation dismissal persistence.
type DismissalRepository struct {
	db *DB
}

// NewDismissalRepository creates a new DismissalRepository.
func NewDismissalRepository(db *DB) *DismissalRepository {
	return &DismissalRepository{db: db}
}

// Upsert records a dismissal, replacing any earlier one for the same
// (project, recommendation) pair. The latest dismissal wins.
func (r *DismissalRepository) Upsert(ctx context.Context, dismissal *models.Dismissal) error {
	if dismissal.ID == "" {
		dismissal.ID = uuid.New().String()
	}
	if err := dismissal.Validate(); err != nil {
		return fmt.Errorf("invalid dismissal: %w", err)
	}

	dismissal.DismissedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO dismissals (id, project_id, recommendation_id, dismissed_at, permanent)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (project_id, recommendation_id) DO UPDATE SET
			dismissed_at = excluded.dismissed_at,
			permanent = excluded.permanent
	`,
		dismissal.ID,
		dismissal.ProjectID,
		dismissal.RecommendationID,
		dismissal.DismissedAt.Format(time.RFC3339),
		boolToInt(dismissal.Permanent),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert dismissal: %w", err)
	}

	return nil
}

// Get retrieves the dismissal for a (project, recommendation) pair.
func (r *DismissalRepository) Get(ctx context.Context, projectID, recommendationID string) (*models.Dismissal, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, project_id, recommendation_id, dismissed_at, permanent
		FROM dismissals
		WHERE project_id = ? AND recommendation_id = ?
	`, projectID, recommendationID)

	return r.scanDismissal(row)
}

// ListActiveByProject returns the project's dismissals still in effect at
// now. Expired rows are skipped, not deleted; the sweeper removes them.
func (r *DismissalRepository) ListActiveByProject(ctx context.Context, projectID string, now time.Time) ([]*models.Dismissal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_id, recommendation_id, dismissed_at, permanent
		FROM dismissals
		WHERE project_id = ?
		ORDER BY dismissed_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dismissals: %w", err)
	}
	defer rows.Close()

	dismissals := make([]*models.Dismissal, 0)
	for rows.Next() {
		dismissal, err := r.scanDismissal(rows)
		if err != nil {
			return nil, err
		}
		if dismissal.Active(now) {
			dismissals = append(dismissals, dismissal)
		}
	}
	return dismissals, rows.Err()
}

// Delete clears a dismissal ahead of its expiry.
func (r *DismissalRepository) Delete(ctx context.Context, projectID, recommendationID string) error {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM dismissals
		WHERE project_id = ? AND recommendation_id = ?
	`, projectID, recommendationID)
	if err != nil {
		return fmt.Errorf("failed to delete dismissal: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrDismissalNotFound
	}
	return nil
}

// DeleteExpired removes non-permanent dismissals older than the TTL and
// returns how many were swept.
func (r *DismissalRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-models.DismissalTTL)

	result, err := r.db.ExecContext(ctx, `
		DELETE FROM dismissals
		WHERE permanent = 0 AND dismissed_at < ?
	`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired dismissals: %w", err)
	}

	rows, _ := result.RowsAffected()
	return int(rows), nil
}

func (r *DismissalRepository) scanDismissal(scanner interface{ Scan(...any) error }) (*models.Dismissal, error) {
	var (
		id               string
		projectID        string
		recommendationID string
		dismissedAt      string
		permanent        int
	)

	if err := scanner.Scan(
		&id,
		&projectID,
		&recommendationID,
		&dismissedAt,
		&permanent,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDismissalNotFound
		}
		return nil, fmt.Errorf("failed to scan dismissal: %w", err)
	}

	dismissal := &models.Dismissal{
		ID:               id,
		ProjectID:        projectID,
		RecommendationID: recommendationID,
		Permanent:        permanent != 0,
	}

	if t, err := time.Parse(time.RFC3339, dismissedAt); err == nil {
		dismissal.DismissedAt = t
	}

	return dismissal, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
