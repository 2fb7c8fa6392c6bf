package skills

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseFrontmatter(t *testing.T) {
	fm, body := parseFrontmatter("+++\nname = \"Backend\"\n+++\n\nAsk about APIs.")
	if fm != `name = "Backend"` {
		t.Fatalf("unexpected frontmatter: %q", fm)
	}
	if body != "\n\nAsk about APIs." {
		t.Fatalf("unexpected body: %q", body)
	}

	fm, body = parseFrontmatter("no frontmatter here")
	if fm != "" || body != "no frontmatter here" {
		t.Fatalf("expected passthrough, got %q / %q", fm, body)
	}
}

func TestRegistryLoadsDirectoriesAndFlatFiles(t *testing.T) {
	dir := t.TempDir()

	if err := os.MkdirAll(filepath.Join(dir, "backend-interview"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "backend-interview", "SKILL.md"), "+++\nname = \"Backend Interview\"\ndescription = \"APIs\"\n+++\nAsk about APIs.")
	writeFile(t, filepath.Join(dir, "devops-interview.md"), "Ask about SLOs.")
	writeFile(t, filepath.Join(dir, "broken.md"), "+++\nname = = bad\n+++\nbody")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	reg := NewRegistry(dir)
	if err := reg.Load(); err != nil {
		t.Fatalf("Load err: %v", err)
	}

	backend, ok := reg.Get("backend-interview")
	if !ok {
		t.Fatal("expected backend-interview skill")
	}
	if backend.Title != "Backend Interview" || backend.Body != "Ask about APIs." {
		t.Fatalf("unexpected skill: %+v", backend)
	}

	devops, ok := reg.Get("devops-interview")
	if !ok || devops.Title != "devops-interview" {
		t.Fatalf("expected flat devops skill, got %+v", devops)
	}

	if _, ok := reg.Get("broken"); ok {
		t.Fatal("broken frontmatter should be skipped")
	}

	list := reg.List()
	if len(list) != 2 || list[0].ID != "backend-interview" || list[1].ID != "devops-interview" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestRegistryMissingDirIsEmpty(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "nope"))
	if err := reg.Load(); err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if len(reg.List()) != 0 {
		t.Fatal("expected empty registry")
	}
}

func TestEnsureDefaultsInstallsBundledGuides(t *testing.T) {
	dir := t.TempDir()
	if err := EnsureDefaults(dir); err != nil {
		t.Fatalf("EnsureDefaults err: %v", err)
	}

	reg := NewRegistry(dir)
	if err := reg.Load(); err != nil {
		t.Fatalf("Load err: %v", err)
	}

	for _, id := range []string{"ai-infra-interview", "ml-ai-interview", "product-interview", "fullstack-interview", "frontend-interview", "backend-interview", "devops-interview"} {
		skill, ok := reg.Get(id)
		if !ok {
			t.Fatalf("missing bundled skill %s", id)
		}
		if skill.Body == "" {
			t.Fatalf("bundled skill %s has empty body", id)
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
