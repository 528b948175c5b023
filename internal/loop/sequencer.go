package loop

import (
	"context"
	"fmt"
	"strings"

	"github.com/ralphctl/ralph/internal/models"
)

// Sequencer walks a plan document's stories strictly in order, one at a
// time. Each story gets fresh learned context: nothing accumulated from
// earlier stories in the same run carries over except mistakes written
// to the durable store.
type Sequencer struct {
	manager *Manager
	plan    *models.PlanDocument
}

// Run executes the plan until all stories complete or one exhausts its
// attempt budget. A story that fails its budget fails the whole loop;
// later stories are never attempted, since checkpoint commits assume
// every earlier story landed.
func (s *Sequencer) Run(ctx context.Context) {
	m := s.manager
	stories := s.plan.OrderedStories()
	budget := s.plan.IterationBudget()
	total := len(stories)

	for i := range stories {
		story := &stories[i]

		if err := m.waitIfPaused(ctx); err != nil {
			return
		}
		m.setCurrentStory(ctx, i)

		m.logger.Info().
			Str("story_id", story.ID).
			Str("story", storyLabel(i, total)).
			Int("budget", budget).
			Msg("starting story")

		completed := false
		for attemptNum := 1; attemptNum <= budget; attemptNum++ {
			if err := m.waitIfPaused(ctx); err != nil {
				return
			}

			res := m.attempt(ctx, m.projectID, s.storyPrompt(story))
			if ctx.Err() != nil {
				return
			}
			m.incrementIteration(ctx)

			if res.Success {
				completed = true
				break
			}

			m.logger.Debug().
				Str("story_id", story.ID).
				Int("attempt", attemptNum).
				Err(res.Err).
				Msg("story attempt failed")
		}

		if err := m.waitIfPaused(ctx); err != nil {
			return
		}

		if !completed {
			description := fmt.Sprintf("%s %q failed after %d attempts",
				storyLabel(i, total), story.Title, budget)
			storyContext := story.Description
			if storyContext == "" {
				storyContext = story.Title
			}
			m.failWith(ctx, &models.Mistake{
				ProjectID:   m.projectID,
				Type:        models.MistakeTypeImplementation,
				Description: description,
				Context:     &storyContext,
			}, description)
			return
		}

		if !s.checkpoint(ctx, i, total, story) {
			return
		}
		story.Completed = true
	}

	outcome := fmt.Sprintf("%d/%d stories completed", total, total)
	if _, err := m.guard.Complete(ctx, m.loopID, outcome); err != nil {
		m.logger.Warn().Err(err).Msg("failed to complete prd loop")
	}
}

// storyPrompt renders the story instruction, appending the plan's
// verification commands so the agent runs them before declaring done.
func (s *Sequencer) storyPrompt(story *models.Story) string {
	prompt := story.Prompt()

	var checks []string
	if s.plan.TestCommand != "" {
		checks = append(checks, s.plan.TestCommand)
	}
	if s.plan.TypecheckCommand != "" {
		checks = append(checks, s.plan.TypecheckCommand)
	}
	if len(checks) == 0 {
		return prompt
	}

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nBefore finishing, make sure these commands pass:\n")
	for _, check := range checks {
		b.WriteString("- ")
		b.WriteString(check)
		b.WriteString("\n")
	}
	return b.String()
}

// checkpoint commits the finished story. A failed commit means the
// story is NOT durably recorded, so it is not marked complete and the
// loop fails with a resource_error mistake.
func (s *Sequencer) checkpoint(ctx context.Context, index, total int, story *models.Story) bool {
	m := s.manager
	message := fmt.Sprintf("%s: %s", storyLabel(index, total), story.Title)

	res, err := m.committer.Commit(ctx, m.workDir, s.plan.Branch, message)
	if err != nil {
		description := fmt.Sprintf("checkpoint commit for %s failed: %v", storyLabel(index, total), err)
		storyContext := story.Description
		if storyContext == "" {
			storyContext = story.Title
		}
		m.failWith(ctx, &models.Mistake{
			ProjectID:   m.projectID,
			Type:        models.MistakeTypeResourceError,
			Description: description,
			Context:     &storyContext,
		}, description)
		return false
	}

	event := m.logger.Info().Str("story", storyLabel(index, total))
	if res.Committed {
		event = event.Str("commit", res.Hash)
	}
	event.Msg("story checkpointed")
	return true
}
