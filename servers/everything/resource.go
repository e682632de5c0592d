package everything

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/yosida95/uritemplate/v3"

	mcp "github.com/contextwire/go-mcp"
)

const resourceCount = 10

var staticResourceTemplate = uritemplate.MustNew("test://static/resource/{id}")

func (s *Server) resourceSpecs() []mcp.ResourceSpec {
	specs := make([]mcp.ResourceSpec, 0, resourceCount)
	for i := 1; i <= resourceCount; i++ {
		uri, err := staticResourceTemplate.Expand(uritemplate.Values{
			"id": uritemplate.String(strconv.Itoa(i)),
		})
		if err != nil {
			panic(fmt.Sprintf("failed to expand resource template: %v", err))
		}

		// Odd-numbered resources are plaintext, even-numbered ones carry a
		// base64 payload, so clients see both content shapes.
		spec := mcp.ResourceSpec{
			Resource: mcp.Resource{
				URI:  uri,
				Name: fmt.Sprintf("Resource %d", i),
			},
			Read: s.readStaticResource,
		}
		if i%2 == 1 {
			spec.Resource.MimeType = "text/plain"
		} else {
			spec.Resource.MimeType = "application/octet-stream"
		}
		specs = append(specs, spec)
	}
	return specs
}

func (s *Server) resourceTemplates() []mcp.ResourceTemplate {
	return []mcp.ResourceTemplate{
		{
			URITemplate: staticResourceTemplate.Raw(),
			Name:        "Static Resource",
			Description: "A static resource with a numeric ID",
		},
	}
}

func (s *Server) readStaticResource(
	_ context.Context,
	_ *mcp.ServerExchange,
	params mcp.ReadResourceParams,
) (mcp.ReadResourceResult, error) {
	values := staticResourceTemplate.Match(params.URI)
	if values == nil {
		return mcp.ReadResourceResult{}, fmt.Errorf("uri does not match resource template: %s", params.URI)
	}
	id, err := strconv.Atoi(values.Get("id").String())
	if err != nil || id < 1 || id > resourceCount {
		return mcp.ReadResourceResult{}, fmt.Errorf("unknown resource id: %s", values.Get("id").String())
	}

	contents := mcp.ResourceContents{URI: params.URI}
	if id%2 == 1 {
		contents.MimeType = "text/plain"
		contents.Text = fmt.Sprintf("Resource %d: This is a plaintext resource.", id)
	} else {
		contents.MimeType = "application/octet-stream"
		contents.Blob = base64.StdEncoding.EncodeToString(
			[]byte(fmt.Sprintf("Resource %d: This is a base64 blob.", id)))
	}
	return mcp.ReadResourceResult{Contents: []mcp.ResourceContents{contents}}, nil
}

func (s *Server) completionSpecs() []mcp.CompletionSpec {
	return []mcp.CompletionSpec{
		{
			Ref: mcp.CompletionRef{Type: mcp.CompletionRefResource, URI: staticResourceTemplate.Raw()},
			Complete: func(_ context.Context, _ *mcp.ServerExchange, params mcp.CompletesCompletionParams) (mcp.CompletionResult, error) {
				var values []string
				for i := 1; i <= resourceCount; i++ {
					id := strconv.Itoa(i)
					if strings.HasPrefix(id, params.Argument.Value) {
						values = append(values, id)
					}
				}
				return mcp.CompletionResult{
					Completion: mcp.Completion{Values: values, Total: len(values)},
				}, nil
			},
		},
		{
			Ref: mcp.CompletionRef{Type: mcp.CompletionRefPrompt, Name: "complex_prompt"},
			Complete: func(_ context.Context, _ *mcp.ServerExchange, params mcp.CompletesCompletionParams) (mcp.CompletionResult, error) {
				options := map[string][]string{
					"temperature": {"0", "0.5", "0.7", "1.0"},
					"style":       {"casual", "formal", "technical", "friendly"},
				}

				var values []string
				for _, option := range options[params.Argument.Name] {
					if strings.HasPrefix(option, params.Argument.Value) {
						values = append(values, option)
					}
				}
				return mcp.CompletionResult{
					Completion: mcp.Completion{Values: values, Total: len(values)},
				}, nil
			},
		},
	}
}
