package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/ralphctl/ralph/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		output string
		want   models.MistakeType
	}{
		{
			name: "context canceled is user cancelled",
			err:  context.Canceled,
			want: models.MistakeTypeUserCancelled,
		},
		{
			name: "wrapped cancellation is user cancelled",
			err:  fmt.Errorf("attempt aborted: %w", context.Canceled),
			want: models.MistakeTypeUserCancelled,
		},
		{
			name: "deadline exceeded is timeout",
			err:  context.DeadlineExceeded,
			want: models.MistakeTypeTimeout,
		},
		{
			name: "os not-exist error",
			err:  fmt.Errorf("open config: %w", os.ErrNotExist),
			want: models.MistakeTypeFileNotFound,
		},
		{
			name: "os permission error",
			err:  fmt.Errorf("write log: %w", os.ErrPermission),
			want: models.MistakeTypePermissionError,
		},
		{
			name:   "missing file in output",
			err:    errors.New("exit status 1"),
			output: "bash: ./run.sh: No such file or directory",
			want:   models.MistakeTypeFileNotFound,
		},
		{
			name:   "syntax error in output",
			err:    errors.New("exit status 2"),
			output: "main.go:14: syntax error: unexpected token",
			want:   models.MistakeTypeSyntaxError,
		},
		{
			name:   "type mismatch in output",
			err:    errors.New("exit status 2"),
			output: `cannot use x (variable of type string) as int value`,
			want:   models.MistakeTypeTypeError,
		},
		{
			name: "permission denied in error text",
			err:  errors.New("mkdir /etc/app: permission denied"),
			want: models.MistakeTypePermissionError,
		},
		{
			name:   "network failure in output",
			err:    errors.New("exit status 1"),
			output: "dial tcp 10.0.0.1:443: connection refused",
			want:   models.MistakeTypeNetworkError,
		},
		{
			name:   "resource exhaustion in output",
			err:    errors.New("exit status 1"),
			output: "write /tmp/build: no space left on device",
			want:   models.MistakeTypeResourceError,
		},
		{
			name:   "timeout marker in output",
			err:    errors.New("exit status 1"),
			output: "test suite timed out after 10m",
			want:   models.MistakeTypeTimeout,
		},
		{
			name: "unrecognized failure is implementation",
			err:  errors.New("exit status 1"),
			want: models.MistakeTypeImplementation,
		},
		{
			name: "nil error with clean output is implementation",
			want: models.MistakeTypeImplementation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err, tt.output); got != tt.want {
				t.Fatalf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}
