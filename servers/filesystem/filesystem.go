// Package filesystem exposes a root-restricted directory over the Model
// Context Protocol: file manipulation as tools, the files themselves as
// readable resources, and filesystem events as resource update notifications.
//
// Every operation is confined to the configured root directory; paths that
// escape it, including through symlinks, are rejected.
package filesystem

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"

	mcp "github.com/contextwire/go-mcp"
)

// Server serves one directory tree. Create it with NewServer, wire its
// ToolSpecs and ResourceSpecs into an mcp.Server, and run Watch to keep the
// resource registry and subscribers in sync with the filesystem.
type Server struct {
	root   string
	logger *slog.Logger
}

// Option is a function that configures a filesystem server.
type Option func(*Server)

// WithLogger sets the logger for the filesystem server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger.With(slog.String("component", "filesystem"))
	}
}

// NewServer creates a filesystem server rooted at root. The root must exist and
// be a directory; all operations are restricted to it.
func NewServer(root string, options ...Option) (*Server, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	// Resolve the root itself so in-root checks compare real paths.
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", root)
	}

	s := &Server{
		root:   abs,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Root returns the absolute root directory this server is confined to.
func (s *Server) Root() string {
	return s.root
}

// ResourceSpecs walks the tree and returns one resource per regular file,
// addressed by file:// URI.
func (s *Server) ResourceSpecs() []mcp.ResourceSpec {
	var specs []mcp.ResourceSpec
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		specs = append(specs, s.resourceSpec(path))
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to walk root", "err", err)
	}
	return specs
}

// Watch follows filesystem events under the root and keeps srv in sync: new
// files appear in the resource registry, removed files leave it, and writes
// notify subscribed clients. Watch blocks until the context ends.
func (s *Server) Watch(ctx context.Context, srv *mcp.Server) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to watch root: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handleEvent(watcher, srv, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watcher error", "err", err)
		}
	}
}

func (s *Server) handleEvent(watcher *fsnotify.Watcher, srv *mcp.Server, event fsnotify.Event) {
	uri := fileURI(event.Name)

	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if err := watcher.Add(event.Name); err != nil {
				s.logger.Warn("failed to watch new directory", "path", event.Name, "err", err)
			}
			return
		}
		srv.AddResource(s.resourceSpec(event.Name))
	case event.Has(fsnotify.Write):
		srv.ResourceUpdated(uri)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		srv.RemoveResource(uri)
	}
}

func (s *Server) resourceSpec(path string) mcp.ResourceSpec {
	uri := fileURI(path)
	return mcp.ResourceSpec{
		Resource: mcp.Resource{
			URI:      uri,
			Name:     filepath.Base(path),
			MimeType: mime.TypeByExtension(filepath.Ext(path)),
		},
		Read: func(_ context.Context, _ *mcp.ServerExchange, params mcp.ReadResourceParams) (mcp.ReadResourceResult, error) {
			valid, err := s.securePath(strings.TrimPrefix(params.URI, "file://"))
			if err != nil {
				return mcp.ReadResourceResult{}, err
			}
			content, err := os.ReadFile(valid)
			if err != nil {
				return mcp.ReadResourceResult{}, fmt.Errorf("failed to read file: %w", err)
			}

			contents := mcp.ResourceContents{
				URI:      params.URI,
				MimeType: mime.TypeByExtension(filepath.Ext(valid)),
			}
			// Text and binary payloads are told apart structurally on the
			// wire, so only one of the two fields may be populated.
			if utf8.Valid(content) {
				contents.Text = string(content)
			} else {
				contents.Blob = base64.StdEncoding.EncodeToString(content)
			}
			return mcp.ReadResourceResult{Contents: []mcp.ResourceContents{contents}}, nil
		},
	}
}

// securePath resolves a requested path and verifies it stays under the root,
// following symlinks. New files are allowed as long as their parent directory
// resolves inside the root.
func (s *Server) securePath(requested string) (string, error) {
	abs := requested
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.root, requested)
	}
	abs = filepath.Clean(abs)

	if !s.inRoot(abs) {
		return "", fmt.Errorf("access denied - path %s outside root %s", requested, s.root)
	}

	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		// The target does not exist yet; its parent must resolve in-root.
		realParent, err := filepath.EvalSymlinks(filepath.Dir(abs))
		if err != nil {
			return "", fmt.Errorf("access denied - parent directory of %s: %w", requested, err)
		}
		if !s.inRoot(realParent) {
			return "", fmt.Errorf("access denied - parent of %s outside root %s", requested, s.root)
		}
		return abs, nil
	}

	if !s.inRoot(real) {
		return "", fmt.Errorf("access denied - %s resolves outside root %s", requested, s.root)
	}
	return real, nil
}

func (s *Server) inRoot(path string) bool {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}

func fileURI(path string) string {
	return "file://" + filepath.ToSlash(path)
}

func textResult(text string) mcp.CallToolResult {
	return mcp.CallToolResult{
		Content: []mcp.Content{{Type: mcp.ContentTypeText, Text: text}},
	}
}

func errorResult(format string, args ...any) mcp.CallToolResult {
	return mcp.CallToolResult{
		Content: []mcp.Content{{Type: mcp.ContentTypeText, Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

func decodeArgs[T any](raw json.RawMessage) (T, error) {
	var args T
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, &mcp.JSONRPCError{
			Code:    -32602,
			Message: "Invalid params",
			Data:    map[string]any{"error": err.Error()},
		}
	}
	return args, nil
}
