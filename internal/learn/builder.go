// Package learn assembles the learned context fed into new loop attempts.
package learn

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ralphctl/ralph/internal/db"
	"github.com/ralphctl/ralph/internal/logging"
	"github.com/ralphctl/ralph/internal/memory"
	"github.com/ralphctl/ralph/internal/models"
)

// RetainedMistakeWindow is how many recent mistakes the builder reads.
// Only the first models.InlineMistakeWindow are surfaced verbatim; the
// retained remainder still contributes learned patterns.
const RetainedMistakeWindow = models.InlineMistakeWindow + 1

// Builder derives a fresh LoopContext for a project. It is side-effect
// free and never persists what it builds.
type Builder struct {
	mistakes *db.MistakeRepository
	memory   *memory.Loader
	logger   zerolog.Logger
}

// NewBuilder creates a Builder over the mistake store and memory loader.
func NewBuilder(mistakes *db.MistakeRepository, loader *memory.Loader) *Builder {
	return &Builder{
		mistakes: mistakes,
		memory:   loader,
		logger:   logging.Component("learn"),
	}
}

// Build assembles the learned context for a project: the project memory
// summary, the most recent mistakes (inline window plus overflow count),
// and deduplicated learned patterns. Missing memory yields an empty
// summary rather than an error.
func (b *Builder) Build(ctx context.Context, projectID string) (*models.LoopContext, error) {
	retained, err := b.mistakes.ListByProject(ctx, projectID, RetainedMistakeWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent mistakes: %w", err)
	}

	total, err := b.mistakes.CountByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to count mistakes: %w", err)
	}

	loopCtx := &models.LoopContext{
		ClaudeMDSummary: b.memory.Summary(projectID),
	}

	inline := retained
	if len(inline) > models.InlineMistakeWindow {
		inline = inline[:models.InlineMistakeWindow]
	}
	for _, m := range inline {
		loopCtx.RecentMistakes = append(loopCtx.RecentMistakes, *m)
	}

	if overflow := total - models.InlineMistakeWindow; overflow > 0 {
		loopCtx.OverflowCount = overflow
	}

	loopCtx.ProjectPatterns = collectPatterns(retained)

	b.logger.Debug().
		Str("project_id", projectID).
		Int("inline_mistakes", len(loopCtx.RecentMistakes)).
		Int("overflow", loopCtx.OverflowCount).
		Int("patterns", len(loopCtx.ProjectPatterns)).
		Msg("built loop context")

	return loopCtx, nil
}

// collectPatterns gathers learned patterns from the retained window,
// deduplicated with order preserved (most recent first).
func collectPatterns(retained []*models.Mistake) []string {
	var patterns []string
	seen := make(map[string]bool)
	for _, m := range retained {
		if m.LearnedPattern == nil || *m.LearnedPattern == "" {
			continue
		}
		if seen[*m.LearnedPattern] {
			continue
		}
		seen[*m.LearnedPattern] = true
		patterns = append(patterns, *m.LearnedPattern)
	}
	return patterns
}
