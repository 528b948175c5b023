package cli

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/ralphctl/ralph/internal/client"
)

func TestClassifyAPIError(t *testing.T) {
	apiErr := &client.APIError{
		StatusCode: http.StatusConflict,
		Code:       "project_busy",
		Message:    "project already has an active loop",
	}

	code, message, hint, _, exitCode := classifyError(apiErr)
	if code != "ERR_PROJECT_BUSY" {
		t.Errorf("code = %q, want ERR_PROJECT_BUSY", code)
	}
	if message != "project already has an active loop" {
		t.Errorf("unexpected message %q", message)
	}
	if hint == "" {
		t.Error("expected a hint for project_busy")
	}
	if exitCode != 1 {
		t.Errorf("exitCode = %d, want 1", exitCode)
	}
}

func TestClassifyAPIErrorServerFailure(t *testing.T) {
	apiErr := &client.APIError{
		StatusCode: http.StatusInternalServerError,
		Code:       "internal_error",
		Message:    "internal error",
	}

	_, _, _, _, exitCode := classifyError(apiErr)
	if exitCode != 2 {
		t.Errorf("exitCode = %d, want 2 for 5xx", exitCode)
	}
}

func TestClassifyConnectionRefused(t *testing.T) {
	err := fmt.Errorf("Post \"http://127.0.0.1:7171\": dial tcp: connection refused")

	code, _, hint, _, exitCode := classifyError(err)
	if code != "ERR_DAEMON_UNREACHABLE" {
		t.Errorf("code = %q, want ERR_DAEMON_UNREACHABLE", code)
	}
	if !strings.Contains(hint, "ralph serve") {
		t.Errorf("hint %q should mention ralph serve", hint)
	}
	if exitCode != 2 {
		t.Errorf("exitCode = %d, want 2", exitCode)
	}
}

func TestExitErrorPassthrough(t *testing.T) {
	inner := errors.New("boom")
	wrapped := &ExitError{Code: 3, Err: inner, Printed: true}

	result := handleCLIError(wrapped)
	var exitErr *ExitError
	if !errors.As(result, &exitErr) {
		t.Fatalf("expected ExitError, got %T", result)
	}
	if exitErr.Code != 3 {
		t.Errorf("Code = %d, want 3", exitErr.Code)
	}
}
