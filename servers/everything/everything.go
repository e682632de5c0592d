// Package everything implements a server that exercises every feature of the
// protocol: tools, resources, resource templates, prompts, completions,
// logging, progress reporting, and client-delegated sampling. It exists to
// test client implementations and to serve as a reference for wiring the
// server role; it is not meant for production use.
package everything

import (
	"context"
	"fmt"
	"log/slog"

	mcp "github.com/contextwire/go-mcp"
)

// Server assembles the specs. Create one with NewServer and pass Options to
// mcp.NewServer.
type Server struct {
	logger *slog.Logger
}

// Option is a function that configures the everything server.
type Option func(*Server)

// WithLogger sets the logger for the everything server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger.With(slog.String("component", "everything"))
	}
}

// NewServer creates the everything server.
func NewServer(options ...Option) *Server {
	s := &Server{
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Options returns the full option set for mcp.NewServer: every capability this
// server exercises, with the matching specs.
func (s *Server) Options() []mcp.ServerOption {
	return []mcp.ServerOption{
		mcp.WithToolSpecs(s.toolSpecs()...),
		mcp.WithToolListChanged(),
		mcp.WithResourceSpecs(s.resourceSpecs()...),
		mcp.WithResourceTemplates(s.resourceTemplates()...),
		mcp.WithResourceListChanged(),
		mcp.WithResourceSubscriptions(),
		mcp.WithPromptSpecs(s.promptSpecs()...),
		mcp.WithPromptListChanged(),
		mcp.WithCompletionSpecs(s.completionSpecs()...),
		mcp.WithServerLogging(),
		mcp.WithInstructions("A test server exposing every protocol feature."),
	}
}

func (s *Server) promptSpecs() []mcp.PromptSpec {
	return []mcp.PromptSpec{
		{
			Prompt: mcp.Prompt{
				Name:        "simple_prompt",
				Description: "A prompt without arguments",
			},
			Get: func(context.Context, *mcp.ServerExchange, mcp.GetPromptParams) (mcp.GetPromptResult, error) {
				return mcp.GetPromptResult{
					Messages: []mcp.PromptMessage{{
						Role:    mcp.RoleUser,
						Content: mcp.Content{Type: mcp.ContentTypeText, Text: "This is a simple prompt without arguments."},
					}},
				}, nil
			},
		},
		{
			Prompt: mcp.Prompt{
				Name:        "complex_prompt",
				Description: "A prompt with arguments",
				Arguments: []mcp.PromptArgument{
					{Name: "temperature", Description: "Temperature setting", Required: true},
					{Name: "style", Description: "Output style"},
				},
			},
			Get: func(_ context.Context, _ *mcp.ServerExchange, params mcp.GetPromptParams) (mcp.GetPromptResult, error) {
				text := fmt.Sprintf("This is a complex prompt with arguments: temperature=%s, style=%s",
					params.Arguments["temperature"], params.Arguments["style"])
				return mcp.GetPromptResult{
					Messages: []mcp.PromptMessage{{
						Role:    mcp.RoleUser,
						Content: mcp.Content{Type: mcp.ContentTypeText, Text: text},
					}},
				}, nil
			},
		},
	}
}
