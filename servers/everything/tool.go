package everything

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"

	mcp "github.com/contextwire/go-mcp"
)

type echoArgs struct {
	Message string `json:"message" jsonschema:"description=Message to echo"`
}

type addArgs struct {
	A float64 `json:"a" jsonschema:"description=First number"`
	B float64 `json:"b" jsonschema:"description=Second number"`
}

type longRunningArgs struct {
	Duration float64 `json:"duration,omitempty" jsonschema:"description=Duration of the operation in seconds"`
	Steps    int     `json:"steps,omitempty" jsonschema:"description=Number of steps in the operation"`
}

type sampleLLMArgs struct {
	Prompt    string `json:"prompt" jsonschema:"description=The prompt to send to the LLM"`
	MaxTokens int    `json:"maxTokens,omitempty" jsonschema:"description=Maximum number of tokens to generate"`
}

func (s *Server) toolSpecs() []mcp.ToolSpec {
	return []mcp.ToolSpec{
		{
			Tool: mcp.Tool{
				Name:        "echo",
				Description: "Echoes back the input",
				InputSchema: reflectSchema(echoArgs{}),
			},
			Call: s.echo,
		},
		{
			Tool: mcp.Tool{
				Name:        "add",
				Description: "Adds two numbers",
				InputSchema: reflectSchema(addArgs{}),
			},
			Call: s.add,
		},
		{
			Tool: mcp.Tool{
				Name:        "longRunningOperation",
				Description: "Demonstrates a long running operation with progress updates",
				InputSchema: reflectSchema(longRunningArgs{}),
			},
			Call: s.longRunningOperation,
		},
		{
			Tool: mcp.Tool{
				Name:        "sampleLLM",
				Description: "Samples from an LLM using the client's sampling capability",
				InputSchema: reflectSchema(sampleLLMArgs{}),
			},
			Call: s.sampleLLM,
		},
	}
}

func (s *Server) echo(_ context.Context, _ *mcp.ServerExchange, params mcp.CallToolParams) (mcp.CallToolResult, error) {
	var args echoArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, err
	}
	return textResult(fmt.Sprintf("Echo: %s", args.Message)), nil
}

func (s *Server) add(_ context.Context, _ *mcp.ServerExchange, params mcp.CallToolParams) (mcp.CallToolResult, error) {
	var args addArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, err
	}
	return textResult(fmt.Sprintf("The sum of %g and %g is %g.", args.A, args.B, args.A+args.B)), nil
}

func (s *Server) longRunningOperation(
	ctx context.Context,
	exc *mcp.ServerExchange,
	params mcp.CallToolParams,
) (mcp.CallToolResult, error) {
	var args longRunningArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, err
	}
	if args.Duration == 0 {
		args.Duration = 10
	}
	if args.Steps == 0 {
		args.Steps = 5
	}

	stepDuration := time.Duration(args.Duration / float64(args.Steps) * float64(time.Second))
	for i := 1; i <= args.Steps; i++ {
		select {
		case <-ctx.Done():
			return mcp.CallToolResult{}, ctx.Err()
		case <-time.After(stepDuration):
		}

		if params.Meta.ProgressToken != "" {
			err := exc.ReportProgress(ctx, mcp.ProgressParams{
				ProgressToken: params.Meta.ProgressToken,
				Progress:      float64(i),
				Total:         float64(args.Steps),
			})
			if err != nil {
				s.logger.Warn("failed to report progress", "err", err)
			}
		}
	}

	return textResult(fmt.Sprintf(
		"Long running operation completed. Duration: %g seconds, Steps: %d.",
		args.Duration, args.Steps)), nil
}

func (s *Server) sampleLLM(ctx context.Context, exc *mcp.ServerExchange, params mcp.CallToolParams) (mcp.CallToolResult, error) {
	var args sampleLLMArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcp.CallToolResult{}, err
	}
	if args.MaxTokens == 0 {
		args.MaxTokens = 100
	}

	result, err := exc.CreateSampleMessage(ctx, mcp.SamplingParams{
		Messages: []mcp.SamplingMessage{{
			Role:    mcp.RoleUser,
			Content: mcp.SamplingContent{Type: mcp.ContentTypeText, Text: args.Prompt},
		}},
		SystemPrompts: "You are a helpful test server.",
		MaxTokens:     args.MaxTokens,
	})
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	return textResult(fmt.Sprintf("LLM sampling result: %s", result.Content.Text)), nil
}

// reflectSchema derives a tool input schema from the args struct's tags.
func reflectSchema(args any) json.RawMessage {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(args)
	bs, err := json.Marshal(schema)
	if err != nil {
		// Schemas come from static types; a marshal failure is a programming error.
		panic(fmt.Sprintf("failed to marshal schema: %v", err))
	}
	return bs
}

func textResult(text string) mcp.CallToolResult {
	return mcp.CallToolResult{
		Content: []mcp.Content{{Type: mcp.ContentTypeText, Text: text}},
	}
}
