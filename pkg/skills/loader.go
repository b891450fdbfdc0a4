// Package skills implements a filesystem-backed sandbox.SkillLoader: each
// file directly under a skills directory is one named skill, its content
// the markdown playbook text handed back to the Minion on use_skill.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FSLoader resolves skills from files directly under root, one skill per
// file, named after the file with its extension stripped.
type FSLoader struct {
	root  string
	names []string
}

// NewFSLoader scans root once at construction and caches the set of
// available skill names. A missing or unreadable root yields an empty,
// still-usable loader rather than an error, since skills are optional.
func NewFSLoader(root string) *FSLoader {
	l := &FSLoader{root: root}

	entries, err := os.ReadDir(root)
	if err != nil {
		return l
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if name == "" {
			continue
		}
		l.names = append(l.names, name)
	}
	sort.Strings(l.names)
	return l
}

// ListSkills returns the cached skill names in sorted order.
func (l *FSLoader) ListSkills() []string {
	return l.names
}

// UseSkill reads the named skill's file content. The name is resolved
// against the cached list rather than joined onto root directly, so a
// crafted skill name can't escape the skills directory.
func (l *FSLoader) UseSkill(name string) (string, error) {
	idx := sort.SearchStrings(l.names, name)
	if idx >= len(l.names) || l.names[idx] != name {
		return "", fmt.Errorf("unknown skill: %s", name)
	}

	entries, err := os.ReadDir(l.root)
	if err != nil {
		return "", fmt.Errorf("reading skills directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())) != name {
			continue
		}
		content, err := os.ReadFile(filepath.Join(l.root, entry.Name()))
		if err != nil {
			return "", fmt.Errorf("reading skill %s: %w", name, err)
		}
		return string(content), nil
	}
	return "", fmt.Errorf("unknown skill: %s", name)
}
