// Package memlog persists the supervisor's memory as a section-tagged
// markdown file. The file is the source of truth: it is re-parsed on
// every read so manual operator edits survive without restart.
package memlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"botguard/internal/domain"
)

// timestampLayout is the bracket prefix of machine-written entries.
// Entries without it (manual edits) parse with a zero timestamp.
const timestampLayout = "2006-01-02 15:04:05"

const fileHeader = "# Supervisor Memory"

// Log is an append-ordered memory log backed by one markdown file.
type Log struct {
	mu   sync.Mutex
	path string
}

// New creates a Log at path. The file is created lazily on first append.
func New(path string) *Log {
	return &Log{path: path}
}

// Path returns the backing file path.
func (l *Log) Path() string {
	return l.path
}

// Append adds one entry under its section and rewrites the file
// atomically. The existing file is re-parsed first, so entries added by
// hand since the last write are preserved.
func (l *Log) Append(section domain.MemorySection, at time.Time, text string) error {
	if section == "" || strings.TrimSpace(text) == "" {
		return fmt.Errorf("memlog: empty section or text")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readLocked()
	if err != nil {
		return err
	}

	entries = append(entries, domain.MemoryEntry{
		Section: section,
		At:      at,
		Text:    strings.TrimSpace(text),
	})

	return l.writeLocked(entries)
}

// Entries re-parses the file and returns every entry in append order
// within each section.
func (l *Log) Entries() ([]domain.MemoryEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readLocked()
}

// BySection re-parses the file and returns the entries of one section.
func (l *Log) BySection(section domain.MemorySection) ([]domain.MemoryEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, err := l.readLocked()
	if err != nil {
		return nil, err
	}

	var out []domain.MemoryEntry
	for _, e := range all {
		if e.Section == section {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *Log) readLocked() ([]domain.MemoryEntry, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read memory log: %w", err)
	}
	return parse(string(data)), nil
}

// writeLocked rewrites the whole file via tmp+rename so readers never
// see a half-written log.
func (l *Log) writeLocked(entries []domain.MemoryEntry) error {
	content := render(entries)

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create memory log dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".memlog-*")
	if err != nil {
		return fmt.Errorf("create temp memory log: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp memory log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp memory log: %w", err)
	}

	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace memory log: %w", err)
	}
	return nil
}

// parse extracts entries from markdown. Section headings are "## Name"
// lines; entries are "- ..." list items, optionally prefixed with a
// bracketed timestamp. Unknown sections and free-form lines are
// tolerated: unknown headings become sections, anything else is skipped.
func parse(content string) []domain.MemoryEntry {
	var entries []domain.MemoryEntry
	var section domain.MemorySection

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "## ") {
			section = domain.MemorySection(strings.TrimSpace(strings.TrimPrefix(trimmed, "## ")))
			continue
		}
		if section == "" || !strings.HasPrefix(trimmed, "- ") {
			continue
		}

		body := strings.TrimSpace(strings.TrimPrefix(trimmed, "- "))
		if body == "" {
			continue
		}

		var at time.Time
		if strings.HasPrefix(body, "[") {
			if end := strings.Index(body, "]"); end > 0 {
				if ts, err := time.Parse(timestampLayout, body[1:end]); err == nil {
					at = ts.UTC()
					body = strings.TrimSpace(body[end+1:])
				}
			}
		}
		if body == "" {
			continue
		}

		entries = append(entries, domain.MemoryEntry{Section: section, At: at, Text: body})
	}

	return entries
}

// render writes sections in canonical order first, then any extra
// sections in first-seen order.
func render(entries []domain.MemoryEntry) string {
	bySection := make(map[domain.MemorySection][]domain.MemoryEntry)
	var order []domain.MemorySection

	seen := make(map[domain.MemorySection]bool)
	for _, s := range domain.MemorySections {
		order = append(order, s)
		seen[s] = true
	}
	for _, e := range entries {
		if !seen[e.Section] {
			order = append(order, e.Section)
			seen[e.Section] = true
		}
		bySection[e.Section] = append(bySection[e.Section], e)
	}

	var b strings.Builder
	b.WriteString(fileHeader + "\n")

	for _, s := range order {
		items := bySection[s]
		if len(items) == 0 {
			continue
		}
		b.WriteString("\n## " + string(s) + "\n\n")
		for _, e := range items {
			if e.At.IsZero() {
				fmt.Fprintf(&b, "- %s\n", e.Text)
			} else {
				fmt.Fprintf(&b, "- [%s] %s\n", e.At.UTC().Format(timestampLayout), e.Text)
			}
		}
	}

	return b.String()
}
