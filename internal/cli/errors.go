// Package cli provides structured error output helpers.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ralphctl/ralph/internal/client"
)

// ErrorEnvelope is the JSON/JSONL error response shape.
type ErrorEnvelope struct {
	Error ErrorPayload `json:"error"`
}

// ErrorPayload carries structured error details.
type ErrorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// ExitError carries an exit code and whether output was already printed.
type ExitError struct {
	Code    int
	Err     error
	Printed bool
}

func (e *ExitError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func handleCLIError(err error) error {
	if err == nil {
		return nil
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Printed {
			return exitErr
		}
		if exitErr.Err != nil {
			err = exitErr.Err
		}
	}

	exitCode := exitCodeFromError(err)
	if exitErr != nil && exitErr.Code != 0 {
		exitCode = exitErr.Code
	}

	if IsJSONOutput() || IsJSONLOutput() {
		envelope := buildErrorEnvelope(err)
		_ = WriteOutput(os.Stdout, envelope)
	} else {
		fmt.Fprintln(os.Stderr, err.Error())
	}

	return &ExitError{
		Code:    exitCode,
		Err:     err,
		Printed: true,
	}
}

func buildErrorEnvelope(err error) ErrorEnvelope {
	code, message, hint, details, _ := classifyError(err)
	return ErrorEnvelope{
		Error: ErrorPayload{
			Code:    code,
			Message: message,
			Hint:    hint,
			Details: details,
		},
	}
}

func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code != 0 {
		return exitErr.Code
	}
	_, _, _, _, code := classifyError(err)
	return code
}

func classifyError(err error) (code, message, hint string, details map[string]any, exitCode int) {
	exitCode = 1
	if err == nil {
		return "ERR_UNKNOWN", "", "", nil, exitCode
	}

	message = err.Error()

	// Daemon errors already carry a code and details.
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		code = "ERR_" + strings.ToUpper(apiErr.Code)
		message = apiErr.Message
		details = apiErr.Details
		hint = hintForAPICode(apiErr.Code)
		if apiErr.StatusCode >= 500 {
			exitCode = 2
		}
		return code, message, hint, details, exitCode
	}

	lower := strings.ToLower(message)

	switch {
	case strings.Contains(lower, "not found"):
		code = "ERR_NOT_FOUND"
		hint = "Run `ralph loop ps <project>` to see valid loop IDs."
	case strings.Contains(lower, "connection refused"):
		code = "ERR_DAEMON_UNREACHABLE"
		hint = "Start the daemon with `ralph serve`, or point --server at it."
		exitCode = 2
	case strings.Contains(lower, "unknown flag"):
		code = "ERR_INVALID_FLAG"
	case strings.Contains(lower, "invalid") || strings.Contains(lower, "required") || strings.Contains(lower, "usage") || strings.Contains(lower, "must"):
		code = "ERR_INVALID"
	case strings.Contains(lower, "permission denied") || strings.Contains(lower, "timeout"):
		code = "ERR_OPERATION_FAILED"
		exitCode = 2
	case strings.Contains(lower, "failed to") || strings.Contains(lower, "unable to"):
		code = "ERR_OPERATION_FAILED"
		exitCode = 2
	default:
		code = "ERR_UNKNOWN"
	}

	return code, message, hint, details, exitCode
}

func hintForAPICode(code string) string {
	switch code {
	case "project_busy":
		return "Wait for the active loop to finish or kill it first."
	case "invalid_transition":
		return "Check the loop status with `ralph loop ps <project>`."
	case "not_killable":
		return "The loop already reached a terminal status."
	case "invalid_plan":
		return "Fix the plan document and retry."
	case "not_found":
		return "Run `ralph loop ps <project>` to see valid loop IDs."
	default:
		return ""
	}
}
