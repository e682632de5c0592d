package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	mcp "github.com/contextwire/go-mcp"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	root := t.TempDir()
	srv, err := NewServer(root)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv, root
}

func callTool(t *testing.T, srv *Server, name string, args any) mcp.CallToolResult {
	t.Helper()

	argsBs, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("failed to marshal args: %v", err)
	}

	for _, spec := range srv.ToolSpecs() {
		if spec.Tool.Name != name {
			continue
		}
		result, err := spec.Call(context.Background(), nil, mcp.CallToolParams{
			Name:      name,
			Arguments: argsBs,
		})
		if err != nil {
			t.Fatalf("tool %s failed: %v", name, err)
		}
		return result
	}

	t.Fatalf("tool %s not found", name)
	return mcp.CallToolResult{}
}

func TestNewServerRejectsMissingRoot(t *testing.T) {
	if _, err := NewServer(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing root")
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	result := callTool(t, srv, "write_file", writeFileArgs{Path: "note.txt", Content: "hello"})
	if result.IsError {
		t.Fatalf("write failed: %+v", result.Content)
	}

	result = callTool(t, srv, "read_file", readFileArgs{Path: "note.txt"})
	if result.IsError {
		t.Fatalf("read failed: %+v", result.Content)
	}
	if result.Content[0].Text != "hello" {
		t.Errorf("got %q, want %q", result.Content[0].Text, "hello")
	}
}

func TestPathEscapeDenied(t *testing.T) {
	srv, _ := newTestServer(t)

	result := callTool(t, srv, "read_file", readFileArgs{Path: "../../../etc/passwd"})
	if !result.IsError {
		t.Fatal("path escape was not denied")
	}
	if !strings.Contains(result.Content[0].Text, "access denied") {
		t.Errorf("unexpected error text: %q", result.Content[0].Text)
	}
}

func TestEditFileDryRun(t *testing.T) {
	srv, root := newTestServer(t)

	path := filepath.Join(root, "code.go")
	if err := os.WriteFile(path, []byte("func a() {}\nfunc b() {}\n"), 0o600); err != nil {
		t.Fatalf("failed to seed file: %v", err)
	}

	result := callTool(t, srv, "edit_file", editFileArgs{
		Path:   "code.go",
		Edits:  []editOperation{{OldText: "func a() {}", NewText: "func a() { return }"}},
		DryRun: true,
	})
	if result.IsError {
		t.Fatalf("edit failed: %+v", result.Content)
	}
	if !strings.Contains(result.Content[0].Text, "code.go") {
		t.Errorf("diff does not name the file: %q", result.Content[0].Text)
	}

	// Dry run must leave the file untouched.
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	if string(content) != "func a() {}\nfunc b() {}\n" {
		t.Errorf("dry run modified the file: %q", content)
	}

	result = callTool(t, srv, "edit_file", editFileArgs{
		Path:  "code.go",
		Edits: []editOperation{{OldText: "func a() {}", NewText: "func a() { return }"}},
	})
	if result.IsError {
		t.Fatalf("edit failed: %+v", result.Content)
	}
	content, _ = os.ReadFile(path)
	if !strings.Contains(string(content), "func a() { return }") {
		t.Errorf("edit not applied: %q", content)
	}
}

func TestApplyEditsUnmatched(t *testing.T) {
	if _, err := applyEdits("alpha\n", []editOperation{{OldText: "beta", NewText: "gamma"}}); err == nil {
		t.Error("expected error for unmatched edit")
	}
}

func TestApplyEditsTrimmedMatch(t *testing.T) {
	content := "\tif ok {\n\t\treturn\n\t}\n"
	modified, err := applyEdits(content, []editOperation{{
		OldText: "if ok {\n\treturn\n}",
		NewText: "if !ok {\n\treturn\n}",
	}})
	if err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	if !strings.Contains(modified, "if !ok {") {
		t.Errorf("trimmed match not applied: %q", modified)
	}
}

func TestSearchFilesExcludes(t *testing.T) {
	srv, root := newTestServer(t)

	mustWrite := func(rel string) {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			t.Fatalf("failed to mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
			t.Fatalf("failed to write: %v", err)
		}
	}
	mustWrite("src/main_test.go")
	mustWrite("vendor/lib/main_test.go")

	result := callTool(t, srv, "search_files", searchFilesArgs{
		Path:    ".",
		Pattern: "main_test",
		Exclude: []string{"vendor"},
	})
	if result.IsError {
		t.Fatalf("search failed: %+v", result.Content)
	}
	text := result.Content[0].Text
	if !strings.Contains(text, filepath.Join("src", "main_test.go")) {
		t.Errorf("expected match missing: %q", text)
	}
	if strings.Contains(text, "vendor") {
		t.Errorf("excluded path matched: %q", text)
	}
}

func TestListDirectoryAndFileInfo(t *testing.T) {
	srv, root := newTestServer(t)

	if err := os.Mkdir(filepath.Join(root, "sub"), 0o750); err != nil {
		t.Fatalf("failed to mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("abc"), 0o600); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	result := callTool(t, srv, "list_directory", listDirectoryArgs{Path: "."})
	text := result.Content[0].Text
	if !strings.Contains(text, "[DIR]  sub") || !strings.Contains(text, "[FILE] a.txt") {
		t.Errorf("unexpected listing: %q", text)
	}

	result = callTool(t, srv, "get_file_info", fileInfoArgs{Path: "a.txt"})
	text = result.Content[0].Text
	if !strings.Contains(text, "size: 3") || !strings.Contains(text, "type: file") {
		t.Errorf("unexpected file info: %q", text)
	}
}

func TestMoveFile(t *testing.T) {
	srv, root := newTestServer(t)

	if err := os.WriteFile(filepath.Join(root, "old.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	result := callTool(t, srv, "move_file", moveFileArgs{Source: "old.txt", Destination: "new.txt"})
	if result.IsError {
		t.Fatalf("move failed: %+v", result.Content)
	}
	if _, err := os.Stat(filepath.Join(root, "new.txt")); err != nil {
		t.Errorf("destination missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "old.txt")); !os.IsNotExist(err) {
		t.Errorf("source still present: %v", err)
	}
}

func TestResourceSpecs(t *testing.T) {
	srv, root := newTestServer(t)

	if err := os.WriteFile(filepath.Join(root, "doc.md"), []byte("# doc"), 0o600); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	specs := srv.ResourceSpecs()
	if len(specs) != 1 {
		t.Fatalf("got %d resources, want 1", len(specs))
	}
	spec := specs[0]
	if spec.Resource.Name != "doc.md" {
		t.Errorf("got name %q, want %q", spec.Resource.Name, "doc.md")
	}

	result, err := spec.Read(context.Background(), nil, mcp.ReadResourceParams{URI: spec.Resource.URI})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(result.Contents) != 1 || result.Contents[0].Text != "# doc" {
		t.Errorf("unexpected contents: %+v", result.Contents)
	}
	if result.Contents[0].Blob != "" {
		t.Error("text resource carries a blob")
	}
}

func TestSecurePathNewFile(t *testing.T) {
	srv, root := newTestServer(t)

	path, err := srv.securePath("fresh.txt")
	if err != nil {
		t.Fatalf("new file path rejected: %v", err)
	}
	if path != filepath.Join(root, "fresh.txt") {
		t.Errorf("got %q, want under %q", path, root)
	}

	if _, err := srv.securePath(fmt.Sprintf("..%cescape.txt", filepath.Separator)); err == nil {
		t.Error("escaping new file path accepted")
	}
}
