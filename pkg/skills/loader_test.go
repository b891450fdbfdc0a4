package skills

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewFSLoaderListsFilesSorted(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "triage.md", "triage content")
	writeSkill(t, root, "deploy.md", "deploy content")
	if err := os.Mkdir(filepath.Join(root, "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}

	loader := NewFSLoader(root)
	names := loader.ListSkills()
	if len(names) != 2 || names[0] != "deploy" || names[1] != "triage" {
		t.Fatalf("unexpected skill names: %v", names)
	}
}

func TestUseSkillReturnsContent(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "deploy.md", "deploy content")

	loader := NewFSLoader(root)
	content, err := loader.UseSkill("deploy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "deploy content" {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestUseSkillUnknownNameErrors(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "deploy.md", "deploy content")

	loader := NewFSLoader(root)
	if _, err := loader.UseSkill("../../etc/passwd"); err == nil {
		t.Fatalf("expected error for path-like skill name")
	}
	if _, err := loader.UseSkill("missing"); err == nil {
		t.Fatalf("expected error for unknown skill")
	}
}

func TestNewFSLoaderMissingRootIsEmptyNotError(t *testing.T) {
	loader := NewFSLoader(filepath.Join(t.TempDir(), "does-not-exist"))
	if len(loader.ListSkills()) != 0 {
		t.Fatalf("expected no skills for missing root")
	}
	if _, err := loader.UseSkill("anything"); err == nil {
		t.Fatalf("expected error using skill from empty loader")
	}
}

func writeSkill(t *testing.T, root, filename, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, filename), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
