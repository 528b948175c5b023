package db

import (
	"context"
	"errors"
	"testing"

	"github.com/ralphctl/ralph/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}

	return db
}

func TestLoopRepository_CreateGetUpdate(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewLoopRepository(db)
	ctx := context.Background()

	loop := &models.Loop{
		ProjectID: "proj-1",
		Mode:      models.LoopModeIterative,
		Status:    models.LoopStatusRunning,
		Prompt:    "add request tracing",
		WorkDir:   "/repo",
	}

	if err := repo.Create(ctx, loop); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if loop.ID == "" {
		t.Fatal("expected loop ID to be set on create")
	}

	fetched, err := repo.Get(ctx, loop.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.Prompt != loop.Prompt {
		t.Fatalf("expected prompt %q, got %q", loop.Prompt, fetched.Prompt)
	}
	if fetched.QualityScore != nil {
		t.Fatal("expected quality score to be nil before any attempt")
	}

	score := 85
	fetched.Status = models.LoopStatusPaused
	fetched.Iteration = 2
	fetched.QualityScore = &score
	if err := repo.Update(ctx, fetched); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	updated, err := repo.Get(ctx, fetched.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if updated.Status != models.LoopStatusPaused {
		t.Fatalf("expected status paused, got %s", updated.Status)
	}
	if updated.Iteration != 2 {
		t.Fatalf("expected iteration 2, got %d", updated.Iteration)
	}
	if updated.QualityScore == nil || *updated.QualityScore != 85 {
		t.Fatalf("expected quality score 85, got %v", updated.QualityScore)
	}
}

func TestLoopRepository_CreateRejectsInvalid(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewLoopRepository(db)
	ctx := context.Background()

	loop := &models.Loop{
		ProjectID: "proj-1",
		Mode:      models.LoopModeIterative,
		Status:    models.LoopStatusRunning,
		Prompt:    "",
		WorkDir:   "/repo",
	}

	if err := repo.Create(ctx, loop); !errors.Is(err, models.ErrEmptyPrompt) {
		t.Fatalf("Create = %v, want ErrEmptyPrompt", err)
	}

	// No row may exist for a rejected submission.
	loops, err := repo.ListByProject(ctx, "proj-1")
	if err != nil {
		t.Fatalf("ListByProject failed: %v", err)
	}
	if len(loops) != 0 {
		t.Fatalf("expected no loops after rejected create, got %d", len(loops))
	}
}

func TestLoopRepository_GetNotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewLoopRepository(db)

	_, err := repo.Get(context.Background(), "missing")
	if !errors.Is(err, ErrLoopNotFound) {
		t.Fatalf("Get = %v, want ErrLoopNotFound", err)
	}
}

func TestLoopRepository_GetActiveByProject(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewLoopRepository(db)
	ctx := context.Background()

	_, err := repo.GetActiveByProject(ctx, "proj-1")
	if !errors.Is(err, ErrLoopNotFound) {
		t.Fatalf("GetActiveByProject on idle project = %v, want ErrLoopNotFound", err)
	}

	done := &models.Loop{
		ProjectID: "proj-1",
		Mode:      models.LoopModeIterative,
		Status:    models.LoopStatusCompleted,
		Prompt:    "finished work",
		WorkDir:   "/repo",
	}
	if err := repo.Create(ctx, done); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// A terminal loop does not occupy the project.
	_, err = repo.GetActiveByProject(ctx, "proj-1")
	if !errors.Is(err, ErrLoopNotFound) {
		t.Fatalf("GetActiveByProject with only terminal loops = %v, want ErrLoopNotFound", err)
	}

	paused := &models.Loop{
		ProjectID: "proj-1",
		Mode:      models.LoopModeIterative,
		Status:    models.LoopStatusPaused,
		Prompt:    "paused work",
		WorkDir:   "/repo",
	}
	if err := repo.Create(ctx, paused); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	active, err := repo.GetActiveByProject(ctx, "proj-1")
	if err != nil {
		t.Fatalf("GetActiveByProject failed: %v", err)
	}
	if active.ID != paused.ID {
		t.Fatalf("expected active loop %s, got %s", paused.ID, active.ID)
	}
}

func TestLoopRepository_ListByProject(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewLoopRepository(db)
	ctx := context.Background()

	for _, projectID := range []string{"proj-1", "proj-2", "proj-1"} {
		loop := &models.Loop{
			ProjectID: projectID,
			Mode:      models.LoopModeIterative,
			Status:    models.LoopStatusCompleted,
			Prompt:    "work",
			WorkDir:   "/repo",
		}
		if err := repo.Create(ctx, loop); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	loops, err := repo.ListByProject(ctx, "proj-1")
	if err != nil {
		t.Fatalf("ListByProject failed: %v", err)
	}
	if len(loops) != 2 {
		t.Fatalf("expected 2 loops for proj-1, got %d", len(loops))
	}
	for _, l := range loops {
		if l.ProjectID != "proj-1" {
			t.Fatalf("unexpected project %s in listing", l.ProjectID)
		}
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 loops total, got %d", len(all))
	}
}

func TestLoopRepository_FailWithMistake(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	loops := NewLoopRepository(db)
	mistakes := NewMistakeRepository(db)
	ctx := context.Background()

	loop := &models.Loop{
		ProjectID: "proj-1",
		Mode:      models.LoopModeIterative,
		Status:    models.LoopStatusRunning,
		Prompt:    "add request tracing",
		WorkDir:   "/repo",
	}
	if err := loops.Create(ctx, loop); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	mistake := &models.Mistake{
		ProjectID:   "proj-1",
		LoopID:      &loop.ID,
		Type:        models.MistakeTypeTimeout,
		Description: "agent never returned",
	}
	if err := loops.FailWithMistake(ctx, loop, mistake); err != nil {
		t.Fatalf("FailWithMistake failed: %v", err)
	}

	failed, err := loops.Get(ctx, loop.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if failed.Status != models.LoopStatusFailed {
		t.Fatalf("expected status failed, got %s", failed.Status)
	}
	if failed.FinishedAt == nil {
		t.Fatal("expected finished_at to be set")
	}

	recorded, err := mistakes.ListByLoop(ctx, loop.ID)
	if err != nil {
		t.Fatalf("ListByLoop failed: %v", err)
	}
	if len(recorded) != 1 {
		t.Fatalf("expected exactly 1 mistake for the failed loop, got %d", len(recorded))
	}
	if recorded[0].Type != models.MistakeTypeTimeout {
		t.Fatalf("expected mistake type timeout, got %s", recorded[0].Type)
	}
}

func TestLoopRepository_FailWithMistakeRejectsInvalidMistake(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	loops := NewLoopRepository(db)
	ctx := context.Background()

	loop := &models.Loop{
		ProjectID: "proj-1",
		Mode:      models.LoopModeIterative,
		Status:    models.LoopStatusRunning,
		Prompt:    "add request tracing",
		WorkDir:   "/repo",
	}
	if err := loops.Create(ctx, loop); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	mistake := &models.Mistake{ProjectID: "proj-1", LoopID: &loop.ID}
	if err := loops.FailWithMistake(ctx, loop, mistake); err == nil {
		t.Fatal("expected error for mistake without description")
	}
}
