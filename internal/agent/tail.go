package agent

import (
	"strings"
	"sync"
)

// tailWriter keeps the last maxLines lines written to it.
type tailWriter struct {
	mu       sync.Mutex
	maxLines int
	lines    []string
	partial  strings.Builder
}

func newTailWriter(maxLines int) *tailWriter {
	return &tailWriter{maxLines: maxLines}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, b := range p {
		if b == '\n' {
			w.appendLine(w.partial.String())
			w.partial.Reset()
			continue
		}
		w.partial.WriteByte(b)
	}
	return len(p), nil
}

func (w *tailWriter) appendLine(line string) {
	if len(w.lines) >= w.maxLines {
		w.lines = w.lines[1:]
	}
	w.lines = append(w.lines, line)
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := strings.Join(w.lines, "\n")
	if w.partial.Len() > 0 {
		if out != "" {
			out += "\n"
		}
		out += w.partial.String()
	}
	return out
}
