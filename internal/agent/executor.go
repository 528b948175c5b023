// Package agent invokes the external AI coding agent and classifies its
// failures.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ralphctl/ralph/internal/logging"
)

const (
	// DefaultOutputTailLines is how many trailing output lines are kept
	// per attempt.
	DefaultOutputTailLines = 60

	// DefaultAttemptTimeout bounds one agent attempt.
	DefaultAttemptTimeout = 30 * time.Minute
)

// PromptMode selects how the prompt reaches the agent command.
type PromptMode string

const (
	// PromptModeEnv passes the prompt via the RALPH_PROMPT env var.
	PromptModeEnv PromptMode = "env"
	// PromptModeStdin pipes the prompt to the command's stdin.
	PromptModeStdin PromptMode = "stdin"
	// PromptModeArg substitutes the prompt for {prompt} in the template.
	PromptModeArg PromptMode = "arg"
)

// Request is one attempt handed to the agent.
type Request struct {
	// Prompt is the fully rendered instruction, learned context included.
	Prompt string

	// WorkDir is the directory the agent runs in.
	WorkDir string

	// Timeout bounds the attempt. Zero selects DefaultAttemptTimeout.
	Timeout time.Duration
}

// Result is the outcome of one attempt.
type Result struct {
	// Success is true when the agent finished the task.
	Success bool

	// Outcome is a short human-readable summary of what happened.
	Outcome string

	// Output is the trailing agent output, kept for mistake records.
	Output string

	// Err is the failure cause when Success is false. Nil on success.
	Err error
}

// Executor runs one agent attempt. The real coding agent lives behind
// this boundary; tests substitute scripted implementations.
type Executor interface {
	Execute(ctx context.Context, req Request) Result
}

// CommandExecutor shells out to a configured agent command through
// bash -lc, the same way agent CLIs are usually launched by hand.
type CommandExecutor struct {
	// CommandTemplate is the agent invocation, e.g. `claude -p "{prompt}"`.
	CommandTemplate string

	// Mode selects prompt delivery. Defaults to env.
	Mode PromptMode

	// TailLines bounds captured output. Defaults to DefaultOutputTailLines.
	TailLines int

	// Env holds extra environment entries as KEY=VALUE.
	Env []string

	logger zerolog.Logger
}

// NewCommandExecutor creates a CommandExecutor for the given template.
func NewCommandExecutor(template string, mode PromptMode) *CommandExecutor {
	return &CommandExecutor{
		CommandTemplate: template,
		Mode:            mode,
		logger:          logging.Component("agent"),
	}
}

// Execute runs the configured command for one attempt.
func (e *CommandExecutor) Execute(ctx context.Context, req Request) Result {
	command := strings.TrimSpace(e.CommandTemplate)
	if command == "" {
		err := errors.New("agent command template is required")
		return Result{Outcome: err.Error(), Err: err}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	mode := e.Mode
	if mode == "" {
		mode = PromptModeEnv
	}
	if mode == PromptModeArg {
		command = strings.ReplaceAll(command, "{prompt}", shellQuote(req.Prompt))
	}

	cmd := exec.CommandContext(runCtx, "bash", "-lc", command)
	cmd.Dir = req.WorkDir

	env := append([]string{}, os.Environ()...)
	if mode == PromptModeEnv {
		env = append(env, "RALPH_PROMPT="+req.Prompt)
	}
	env = append(env, e.Env...)
	cmd.Env = env

	if mode == PromptModeStdin {
		cmd.Stdin = strings.NewReader(req.Prompt)
	}

	tailLines := e.TailLines
	if tailLines <= 0 {
		tailLines = DefaultOutputTailLines
	}
	tail := newTailWriter(tailLines)
	cmd.Stdout = tail
	cmd.Stderr = tail

	start := time.Now()
	err := cmd.Run()
	output := tail.String()

	e.logger.Debug().
		Str("work_dir", req.WorkDir).
		Dur("duration", time.Since(start)).
		Bool("success", err == nil).
		Msg("agent attempt finished")

	if err != nil {
		// Surface the context error so timeouts and kills classify
		// correctly even when bash reports a bare exit status.
		if ctxErr := runCtx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return Result{
			Outcome: fmt.Sprintf("agent attempt failed: %v", err),
			Output:  output,
			Err:     err,
		}
	}

	return Result{
		Success: true,
		Outcome: "agent attempt succeeded",
		Output:  output,
	}
}

// shellQuote single-quotes a value for safe interpolation into bash -lc.
func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
