// Package memory loads per-project memory files for context building.
package memory

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultFileName is the memory file looked up inside a project's
	// memory directory.
	DefaultFileName = "CLAUDE.md"

	// maxSummaryLines bounds how much of the memory file is surfaced.
	maxSummaryLines = 40

	// maxSummaryBytes bounds the rendered summary size.
	maxSummaryBytes = 4096
)

// Loader reads project memory files from a base directory. Each project
// keeps its memory at <dir>/<projectID>/CLAUDE.md.
type Loader struct {
	dir string
}

// NewLoader creates a Loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Path returns the memory file path for a project.
func (l *Loader) Path(projectID string) string {
	return filepath.Join(l.dir, projectID, DefaultFileName)
}

// Summary returns a condensed view of the project's memory file. A
// missing or unreadable file yields an empty summary, never an error:
// context building must not fail on absent memory.
func (l *Loader) Summary(projectID string) string {
	if l == nil || l.dir == "" || strings.TrimSpace(projectID) == "" {
		return ""
	}

	file, err := os.Open(l.Path(projectID))
	if err != nil {
		return ""
	}
	defer file.Close()

	return condense(file)
}

func condense(file *os.File) string {
	var b strings.Builder
	lines := 0
	blank := false

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t")

		// Collapse runs of blank lines.
		if strings.TrimSpace(line) == "" {
			blank = true
			continue
		}
		if blank && b.Len() > 0 {
			b.WriteByte('\n')
		}
		blank = false

		if b.Len()+len(line)+1 > maxSummaryBytes {
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')

		lines++
		if lines >= maxSummaryLines {
			break
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
