// Package labels loads the class id to label mapping of a detection model.
package labels

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// Table maps class ids to human readable labels. It is built once and never mutated.
type Table struct {
	labels map[int]string
}

// New builds a table from a map. The map is copied.
func New(m map[int]string) *Table {
	t := &Table{labels: make(map[int]string, len(m))}
	for k, v := range m {
		t.labels[k] = v
	}
	return t
}

// Load reads a label file from disk.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open label file: %w", err)
	}
	defer f.Close()

	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse reads "<id> <label>" entries, one per line. Blank lines and lines starting
// with '#' are skipped. If no entry carries an id, the file is treated as a plain
// class list and ids are assigned in order.
func Parse(r io.Reader) (*Table, error) {
	type entry struct {
		lineNo int
		text   string
	}
	var entries []entry

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, entry{lineNo: lineNo, text: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}

	hasIDs := false
	for _, e := range entries {
		if _, _, ok := splitEntry(e.text); ok {
			hasIDs = true
			break
		}
	}

	labels := make(map[int]string, len(entries))
	if !hasIDs {
		for i, e := range entries {
			labels[i] = e.text
		}
		return &Table{labels: labels}, nil
	}

	for _, e := range entries {
		id, label, ok := splitEntry(e.text)
		if !ok {
			return nil, fmt.Errorf("line %d: expected '<id> <label>', got %q", e.lineNo, e.text)
		}
		if _, dup := labels[id]; dup {
			return nil, fmt.Errorf("line %d: duplicate id %d", e.lineNo, id)
		}
		labels[id] = label
	}
	return &Table{labels: labels}, nil
}

// splitEntry splits "12  traffic light" into (12, "traffic light").
func splitEntry(line string) (int, string, bool) {
	idx := strings.IndexFunc(line, unicode.IsSpace)
	if idx < 0 {
		return 0, "", false
	}
	id, err := strconv.Atoi(line[:idx])
	if err != nil {
		return 0, "", false
	}
	label := strings.TrimSpace(line[idx:])
	if label == "" {
		return 0, "", false
	}
	return id, label, true
}

// Lookup returns the label for id, and whether it exists.
func (t *Table) Lookup(id int) (string, bool) {
	label, ok := t.labels[id]
	return label, ok
}

// Label returns the label for id, or "Unknown ID: <id>".
func (t *Table) Label(id int) string {
	if label, ok := t.labels[id]; ok {
		return label
	}
	return FallbackLabel(id)
}

// FallbackLabel is used for ids missing from the table.
func FallbackLabel(id int) string {
	return fmt.Sprintf("Unknown ID: %d", id)
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.labels)
}
