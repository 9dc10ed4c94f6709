// Package vault is the personal document store the assistant's tools operate
// on: a directory tree of Markdown notes.
package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Vault struct {
	Root string
}

// Open validates that root exists and is a directory.
func Open(root string) (*Vault, error) {
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open vault: %s is not a directory", root)
	}
	return &Vault{Root: root}, nil
}

// resolve maps a vault-relative path to an absolute one, rejecting anything
// that escapes the vault root.
func (v *Vault) resolve(rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if strings.Contains(rel, "..") {
		return "", fmt.Errorf("path traversal detected: %s", rel)
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path must be vault-relative: %s", rel)
	}
	abs := filepath.Join(v.Root, filepath.Clean(rel))
	if abs != v.Root && !strings.HasPrefix(abs, v.Root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the vault: %s", rel)
	}
	return abs, nil
}

// ReadNote returns the content of one note.
func (v *Vault) ReadNote(rel string) (string, error) {
	abs, err := v.resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteNote creates or overwrites a note, creating parent folders as needed.
func (v *Vault) WriteNote(rel, content string) error {
	abs, err := v.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("failed to create folder: %w", err)
	}
	return os.WriteFile(abs, []byte(content), 0o644)
}

// List returns the entries directly under a vault-relative folder.
func (v *Vault) List(rel string) ([]string, error) {
	if rel == "" {
		rel = "."
	}
	abs, err := v.resolve(rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			lines = append(lines, entry.Name()+"/")
		} else {
			lines = append(lines, entry.Name())
		}
	}
	return lines, nil
}

// SearchMatch is one matching line of a note.
type SearchMatch struct {
	Path string
	Line int
	Text string
}

// Search walks every Markdown note and returns lines containing the query,
// case-insensitively, up to limit matches.
func (v *Vault) Search(query string, limit int) ([]SearchMatch, error) {
	if limit <= 0 {
		limit = 20
	}
	needle := strings.ToLower(query)
	matches := make([]SearchMatch, 0, limit)

	err := filepath.WalkDir(v.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if len(matches) >= limit {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != v.Root {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(v.Root, path)
		if err != nil {
			return err
		}
		for i, line := range strings.Split(string(data), "\n") {
			if strings.Contains(strings.ToLower(line), needle) {
				matches = append(matches, SearchMatch{Path: rel, Line: i + 1, Text: strings.TrimSpace(line)})
				if len(matches) >= limit {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}
