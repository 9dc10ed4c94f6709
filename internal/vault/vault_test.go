package vault

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testVault(t *testing.T) *Vault {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"daily/2026-08-24.md": "# Monday\nReviewed the garden plan.\n",
		"daily/2026-08-25.md": "# Tuesday\nWatered the tomatoes.\nGarden looks healthy.\n",
		"projects/house.md":   "# House\nFix the gutter.\n",
		"scratch.txt":         "not a note, garden mentioned here too\n",
	}
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	v, err := Open(root)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestOpenRejectsMissingRoot(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	v := testVault(t)
	cases := []string{"../outside.md", "daily/../../etc/passwd", "/etc/passwd"}
	for _, rel := range cases {
		if _, err := v.resolve(rel); err == nil {
			t.Errorf("resolve(%q) should fail", rel)
		}
	}
}

func TestReadNote(t *testing.T) {
	v := testVault(t)
	content, err := v.ReadNote("projects/house.md")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(content, "Fix the gutter.") {
		t.Fatalf("unexpected content: %q", content)
	}
	if _, err := v.ReadNote("missing.md"); err == nil {
		t.Fatal("expected error for missing note")
	}
}

func TestSearchMarkdownOnly(t *testing.T) {
	v := testVault(t)
	matches, err := v.Search("GARDEN", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2 (case-insensitive, .md only): %+v", len(matches), matches)
	}
	for _, m := range matches {
		if !strings.HasSuffix(m.Path, ".md") {
			t.Fatalf("non-markdown file matched: %s", m.Path)
		}
		if m.Line <= 0 {
			t.Fatalf("match without a line number: %+v", m)
		}
	}
}

func TestSearchHonorsLimit(t *testing.T) {
	v := testVault(t)
	matches, err := v.Search("e", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want limit of 2", len(matches))
	}
}

func TestWriteNoteCreatesFolders(t *testing.T) {
	v := testVault(t)
	if err := v.WriteNote("new/deep/note.md", "hello"); err != nil {
		t.Fatal(err)
	}
	content, err := v.ReadNote("new/deep/note.md")
	if err != nil {
		t.Fatal(err)
	}
	if content != "hello" {
		t.Fatalf("content = %q", content)
	}
}

func TestListTool(t *testing.T) {
	v := testVault(t)
	tool := &ListTool{vault: v}
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"path":"daily"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "2026-08-24.md") || !strings.Contains(out, "2026-08-25.md") {
		t.Fatalf("unexpected listing: %q", out)
	}
	// Empty arguments default to the root.
	out, err = tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "daily/") {
		t.Fatalf("root listing should include folders: %q", out)
	}
}

func TestSearchToolFormatsMatches(t *testing.T) {
	v := testVault(t)
	tool := &SearchTool{vault: v}
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"tomatoes"}`))
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join("daily", "2026-08-25.md") + ":2: Watered the tomatoes."
	if out != want {
		t.Fatalf("search output = %q, want %q", out, want)
	}

	out, err = tool.Execute(context.Background(), json.RawMessage(`{"query":"zebra"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "No matches found") {
		t.Fatalf("empty search output = %q", out)
	}
}

func TestReadToolRequiresPath(t *testing.T) {
	v := testVault(t)
	tool := &ReadTool{vault: v}
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestWriteToolRoundTrip(t *testing.T) {
	v := testVault(t)
	write := &WriteTool{vault: v}
	out, err := write.Execute(context.Background(), json.RawMessage(`{"path":"inbox.md","content":"todo"}`))
	if err != nil {
		t.Fatal(err)
	}
	if out != "Note written: inbox.md" {
		t.Fatalf("write output = %q", out)
	}
	read := &ReadTool{vault: v}
	content, err := read.Execute(context.Background(), json.RawMessage(`{"path":"inbox.md"}`))
	if err != nil {
		t.Fatal(err)
	}
	if content != "todo" {
		t.Fatalf("read-back content = %q", content)
	}
}
