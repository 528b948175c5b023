package agent

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestCommandExecutor_EnvMode(t *testing.T) {
	exec := NewCommandExecutor(`echo "prompt: $RALPH_PROMPT"`, PromptModeEnv)

	res := exec.Execute(context.Background(), Request{
		Prompt:  "add request tracing",
		WorkDir: t.TempDir(),
	})

	if !res.Success {
		t.Fatalf("expected success, got error: %v (output: %q)", res.Err, res.Output)
	}
	if !strings.Contains(res.Output, "prompt: add request tracing") {
		t.Fatalf("expected prompt in output, got %q", res.Output)
	}
}

func TestCommandExecutor_StdinMode(t *testing.T) {
	exec := NewCommandExecutor("cat", PromptModeStdin)

	res := exec.Execute(context.Background(), Request{
		Prompt:  "story text over stdin",
		WorkDir: t.TempDir(),
	})

	if !res.Success {
		t.Fatalf("expected success, got error: %v", res.Err)
	}
	if !strings.Contains(res.Output, "story text over stdin") {
		t.Fatalf("expected prompt echoed from stdin, got %q", res.Output)
	}
}

func TestCommandExecutor_ArgMode(t *testing.T) {
	exec := NewCommandExecutor("echo {prompt}", PromptModeArg)

	res := exec.Execute(context.Background(), Request{
		Prompt:  "quote's safe",
		WorkDir: t.TempDir(),
	})

	if !res.Success {
		t.Fatalf("expected success, got error: %v", res.Err)
	}
	if !strings.Contains(res.Output, "quote's safe") {
		t.Fatalf("expected quoted prompt in output, got %q", res.Output)
	}
}

func TestCommandExecutor_Failure(t *testing.T) {
	exec := NewCommandExecutor("exit 3", PromptModeEnv)

	res := exec.Execute(context.Background(), Request{WorkDir: t.TempDir()})

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Err == nil {
		t.Fatal("expected error on non-zero exit")
	}
}

func TestCommandExecutor_Timeout(t *testing.T) {
	exec := NewCommandExecutor("sleep 5", PromptModeEnv)

	start := time.Now()
	res := exec.Execute(context.Background(), Request{
		WorkDir: t.TempDir(),
		Timeout: 100 * time.Millisecond,
	})

	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("attempt was not cancelled by timeout")
	}
	if Classify(res.Err, res.Output) != "timeout" {
		t.Fatalf("expected timeout classification, got %s", Classify(res.Err, res.Output))
	}
}

func TestCommandExecutor_EmptyTemplate(t *testing.T) {
	exec := NewCommandExecutor("   ", PromptModeEnv)

	res := exec.Execute(context.Background(), Request{WorkDir: t.TempDir()})
	if res.Err == nil {
		t.Fatal("expected error for empty template")
	}
}

func TestTailWriter(t *testing.T) {
	w := newTailWriter(3)
	for _, line := range []string{"one", "two", "three", "four"} {
		if _, err := w.Write([]byte(line + "\n")); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	if _, err := w.Write([]byte("partial")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	got := w.String()
	want := "two\nthree\nfour\npartial"
	if got != want {
		t.Fatalf("tail = %q, want %q", got, want)
	}
}
