// Package checkpoint records story completion as git commits.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNoChanges is returned when the worktree has nothing to commit. A
// story that produced no diff still counts as checkpointed.
var ErrNoChanges = errors.New("no changes to commit")

// Result is the outcome of a checkpoint commit.
type Result struct {
	// Committed is false when the worktree was already clean.
	Committed bool

	// Hash is the commit hash when Committed is true.
	Hash string

	// Message is the commit message when Committed is true.
	Message string
}

// Committer durably records a completed story. Implementations other
// than git exist only in tests.
type Committer interface {
	Commit(ctx context.Context, workDir, branch, message string) (*Result, error)
}

// GitCommitter commits checkpoints with go-git. When a branch is named
// it is checked out first, created from HEAD if it does not exist yet.
type GitCommitter struct {
	// AuthorName and AuthorEmail stamp checkpoint commits.
	AuthorName  string
	AuthorEmail string
}

// NewGitCommitter creates a GitCommitter with the default author.
func NewGitCommitter() *GitCommitter {
	return &GitCommitter{
		AuthorName:  "ralph",
		AuthorEmail: "ralph@localhost",
	}
}

// Commit stages all changes in workDir and commits them with message.
// It returns a Result with Committed=false when the worktree is clean.
func (c *GitCommitter) Commit(ctx context.Context, workDir, branch, message string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	repo, err := git.PlainOpen(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}

	if branch != "" {
		if err := checkoutBranch(repo, worktree, branch); err != nil {
			return nil, err
		}
	}

	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return nil, fmt.Errorf("failed to stage changes: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	if status.IsClean() {
		return &Result{Committed: false}, nil
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  c.AuthorName,
			Email: c.AuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return &Result{
		Committed: true,
		Hash:      hash.String(),
		Message:   message,
	}, nil
}

func checkoutBranch(repo *git.Repository, worktree *git.Worktree, branch string) error {
	ref := plumbing.NewBranchReferenceName(branch)

	// Already on the target branch.
	if head, err := repo.Head(); err == nil && head.Name() == ref {
		return nil
	}

	err := worktree.Checkout(&git.CheckoutOptions{Branch: ref, Keep: true})
	if err == nil {
		return nil
	}

	// Create the branch from HEAD on first use.
	err = worktree.Checkout(&git.CheckoutOptions{Branch: ref, Create: true, Keep: true})
	if err != nil {
		return fmt.Errorf("failed to checkout branch %s: %w", branch, err)
	}
	return nil
}
