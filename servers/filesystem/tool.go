package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	mcp "github.com/contextwire/go-mcp"
)

type readFileArgs struct {
	Path string `json:"path"`
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type editFileArgs struct {
	Path   string          `json:"path"`
	Edits  []editOperation `json:"edits"`
	DryRun bool            `json:"dryRun"`
}

type editOperation struct {
	OldText string `json:"oldText"`
	NewText string `json:"newText"`
}

type listDirectoryArgs struct {
	Path string `json:"path"`
}

type moveFileArgs struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

type searchFilesArgs struct {
	Path    string   `json:"path"`
	Pattern string   `json:"pattern"`
	Exclude []string `json:"excludePatterns"`
}

type fileInfoArgs struct {
	Path string `json:"path"`
}

// ToolSpecs returns the filesystem tool set: reading, writing, patching,
// listing, searching, moving, and inspecting files under the root.
func (s *Server) ToolSpecs() []mcp.ToolSpec {
	return []mcp.ToolSpec{
		{
			Tool: mcp.Tool{
				Name:        "read_file",
				Description: "Read the complete contents of a file from the file system.",
				InputSchema: objectSchema(map[string]string{"path": "string"}, "path"),
			},
			Call: s.readFile,
		},
		{
			Tool: mcp.Tool{
				Name:        "write_file",
				Description: "Create a new file or completely overwrite an existing file with new content.",
				InputSchema: objectSchema(map[string]string{"path": "string", "content": "string"}, "path", "content"),
			},
			Call: s.writeFile,
		},
		{
			Tool: mcp.Tool{
				Name: "edit_file",
				Description: "Make selective edits to a text file by replacing exact text sequences. " +
					"Returns a unified diff; set dryRun to preview without writing.",
				InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "path": {"type": "string"},
    "edits": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "oldText": {"type": "string"},
          "newText": {"type": "string"}
        },
        "required": ["oldText", "newText"]
      }
    },
    "dryRun": {"type": "boolean"}
  },
  "required": ["path", "edits"]
}`),
			},
			Call: s.editFile,
		},
		{
			Tool: mcp.Tool{
				Name:        "list_directory",
				Description: "List the entries of a directory, marking each as file or directory.",
				InputSchema: objectSchema(map[string]string{"path": "string"}, "path"),
			},
			Call: s.listDirectory,
		},
		{
			Tool: mcp.Tool{
				Name:        "move_file",
				Description: "Move or rename a file or directory.",
				InputSchema: objectSchema(map[string]string{"source": "string", "destination": "string"}, "source", "destination"),
			},
			Call: s.moveFile,
		},
		{
			Tool: mcp.Tool{
				Name: "search_files",
				Description: "Recursively search for files whose name contains the pattern, " +
					"skipping paths matched by the glob exclude patterns.",
				InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "path": {"type": "string"},
    "pattern": {"type": "string"},
    "excludePatterns": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["path", "pattern"]
}`),
			},
			Call: s.searchFiles,
		},
		{
			Tool: mcp.Tool{
				Name:        "get_file_info",
				Description: "Retrieve size, timestamps, permissions, and type of a file or directory.",
				InputSchema: objectSchema(map[string]string{"path": "string"}, "path"),
			},
			Call: s.fileInfo,
		},
	}
}

func (s *Server) readFile(_ context.Context, _ *mcp.ServerExchange, params mcp.CallToolParams) (mcp.CallToolResult, error) {
	args, err := decodeArgs[readFileArgs](params.Arguments)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	path, err := s.securePath(args.Path)
	if err != nil {
		return errorResult("%v", err), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return errorResult("failed to read file: %v", err), nil
	}
	return textResult(string(content)), nil
}

func (s *Server) writeFile(_ context.Context, _ *mcp.ServerExchange, params mcp.CallToolParams) (mcp.CallToolResult, error) {
	args, err := decodeArgs[writeFileArgs](params.Arguments)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	path, err := s.securePath(args.Path)
	if err != nil {
		return errorResult("%v", err), nil
	}
	if err := os.WriteFile(path, []byte(args.Content), 0o600); err != nil {
		return errorResult("failed to write file: %v", err), nil
	}
	return textResult(fmt.Sprintf("Successfully wrote to %s", args.Path)), nil
}

func (s *Server) editFile(_ context.Context, _ *mcp.ServerExchange, params mcp.CallToolParams) (mcp.CallToolResult, error) {
	args, err := decodeArgs[editFileArgs](params.Arguments)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	path, err := s.securePath(args.Path)
	if err != nil {
		return errorResult("%v", err), nil
	}

	diff, err := applyFileEdits(path, args.Edits, args.DryRun)
	if err != nil {
		return errorResult("%v", err), nil
	}
	return textResult(diff), nil
}

func (s *Server) listDirectory(_ context.Context, _ *mcp.ServerExchange, params mcp.CallToolParams) (mcp.CallToolResult, error) {
	args, err := decodeArgs[listDirectoryArgs](params.Arguments)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	path, err := s.securePath(args.Path)
	if err != nil {
		return errorResult("%v", err), nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return errorResult("failed to read directory: %v", err), nil
	}

	var sb strings.Builder
	for _, entry := range entries {
		kind := "[FILE]"
		if entry.IsDir() {
			kind = "[DIR] "
		}
		fmt.Fprintf(&sb, "%s %s\n", kind, entry.Name())
	}
	return textResult(sb.String()), nil
}

func (s *Server) moveFile(_ context.Context, _ *mcp.ServerExchange, params mcp.CallToolParams) (mcp.CallToolResult, error) {
	args, err := decodeArgs[moveFileArgs](params.Arguments)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	source, err := s.securePath(args.Source)
	if err != nil {
		return errorResult("%v", err), nil
	}
	destination, err := s.securePath(args.Destination)
	if err != nil {
		return errorResult("%v", err), nil
	}
	if err := os.Rename(source, destination); err != nil {
		return errorResult("failed to move file: %v", err), nil
	}
	return textResult(fmt.Sprintf("Successfully moved %s to %s", args.Source, args.Destination)), nil
}

func (s *Server) searchFiles(_ context.Context, _ *mcp.ServerExchange, params mcp.CallToolParams) (mcp.CallToolResult, error) {
	args, err := decodeArgs[searchFilesArgs](params.Arguments)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	start, err := s.securePath(args.Path)
	if err != nil {
		return errorResult("%v", err), nil
	}

	excludes := make([]glob.Glob, 0, len(args.Exclude))
	for _, pattern := range args.Exclude {
		patterns := []string{pattern}
		// Bare names exclude the whole subtree they name, at any depth: the
		// matching directory itself is skipped.
		if !strings.Contains(pattern, "*") {
			patterns = append(patterns, "**/"+pattern)
		}
		for _, p := range patterns {
			compiled, err := glob.Compile(p, '/')
			if err != nil {
				return errorResult("invalid exclude pattern %q: %v", p, err), nil
			}
			excludes = append(excludes, compiled)
		}
	}

	needle := strings.ToLower(args.Pattern)
	var matches []string

	err = filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(start, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		for _, exclude := range excludes {
			if exclude.Match(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if rel != "." && strings.Contains(strings.ToLower(d.Name()), needle) {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return errorResult("search failed: %v", err), nil
	}

	if len(matches) == 0 {
		return textResult("No matches found"), nil
	}
	return textResult(strings.Join(matches, "\n")), nil
}

func (s *Server) fileInfo(_ context.Context, _ *mcp.ServerExchange, params mcp.CallToolParams) (mcp.CallToolResult, error) {
	args, err := decodeArgs[fileInfoArgs](params.Arguments)
	if err != nil {
		return mcp.CallToolResult{}, err
	}
	path, err := s.securePath(args.Path)
	if err != nil {
		return errorResult("%v", err), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return errorResult("failed to stat: %v", err), nil
	}

	kind := "file"
	if info.IsDir() {
		kind = "directory"
	}
	text := fmt.Sprintf("name: %s\ntype: %s\nsize: %d\nmodified: %s\npermissions: %s",
		info.Name(), kind, info.Size(), info.ModTime().Format("2006-01-02 15:04:05"), info.Mode())
	return textResult(text), nil
}

// objectSchema builds a flat JSON schema for tools whose arguments are all
// scalar properties.
func objectSchema(properties map[string]string, required ...string) json.RawMessage {
	props := make(map[string]any, len(properties))
	for name, typ := range properties {
		props[name] = map[string]string{"type": typ}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
	bs, _ := json.Marshal(schema)
	return bs
}
