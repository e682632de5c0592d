package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	mcp "github.com/contextwire/go-mcp"
)

type testFixture struct {
	client *mcp.Client
	server *mcp.Server

	serverTransport *mcp.StdIO
}

// newTestFixture wires a client and a server together over an in-process stdio
// pipe pair and completes the handshake.
func newTestFixture(
	t *testing.T,
	serverOptions []mcp.ServerOption,
	clientOptions []mcp.ClientOption,
) *testFixture {
	t.Helper()

	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	serverTransport := mcp.NewStdIO(serverReader, serverWriter)
	clientTransport := mcp.NewStdIO(clientReader, clientWriter)

	server := mcp.NewServer(mcp.Info{Name: "s", Version: "1.0"}, serverOptions...)
	go server.Serve(context.Background(), serverTransport)

	client := mcp.NewClient(mcp.Info{Name: "t", Version: "0"}, clientTransport, clientOptions...)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect client: %v", err)
	}

	t.Cleanup(func() {
		_ = client.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx, serverTransport)
	})

	return &testFixture{
		client:          client,
		server:          server,
		serverTransport: serverTransport,
	}
}

func echoToolSpec() mcp.ToolSpec {
	return mcp.ToolSpec{
		Tool: mcp.Tool{
			Name:        "echo",
			Description: "Echoes back the given text",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`),
		},
		Call: func(_ context.Context, _ *mcp.ServerExchange, params mcp.CallToolParams) (mcp.CallToolResult, error) {
			var args struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(params.Arguments, &args); err != nil {
				return mcp.CallToolResult{}, err
			}
			return mcp.CallToolResult{
				Content: []mcp.Content{{Type: mcp.ContentTypeText, Text: args.Text}},
			}, nil
		},
	}
}

type chanToolListWatcher chan struct{}

func (w chanToolListWatcher) OnToolListChanged() { w <- struct{}{} }

type chanResourceSubscribedWatcher chan string

func (w chanResourceSubscribedWatcher) OnResourceSubscribedChanged(uri string) { w <- uri }

type chanLogReceiver chan mcp.LogParams

func (r chanLogReceiver) OnLog(params mcp.LogParams) { r <- params }

type staticRootsListHandler struct{}

func (staticRootsListHandler) RootsList(context.Context) (mcp.RootList, error) {
	return mcp.RootList{Roots: []mcp.Root{{URI: "file:///workspace", Name: "workspace"}}}, nil
}

type staticSamplingHandler struct{}

func (staticSamplingHandler) CreateSampleMessage(_ context.Context, params mcp.SamplingParams) (mcp.SamplingResult, error) {
	return mcp.SamplingResult{
		Role: mcp.RoleAssistant,
		Content: mcp.SamplingContent{
			Type: mcp.ContentTypeText,
			Text: fmt.Sprintf("sampled %d messages", len(params.Messages)),
		},
		Model: "test-model",
	}, nil
}

func TestHandshake(t *testing.T) {
	connected := make(chan mcp.Info, 1)
	fix := newTestFixture(t,
		[]mcp.ServerOption{
			mcp.WithToolSpecs(echoToolSpec()),
			mcp.WithServerOnClientConnected(func(_ string, info mcp.Info) {
				connected <- info
			}),
		},
		nil,
	)

	if got := fix.client.ServerInfo().Name; got != "s" {
		t.Errorf("got server name %q, want %q", got, "s")
	}
	if fix.client.ServerCapabilities().Tools == nil {
		t.Error("server did not declare tools capability")
	}

	select {
	case info := <-connected:
		if info.Name != "t" {
			t.Errorf("got client name %q, want %q", info.Name, "t")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never observed the initialized notification")
	}
}

func TestToolCall(t *testing.T) {
	fix := newTestFixture(t, []mcp.ServerOption{mcp.WithToolSpecs(echoToolSpec())}, nil)

	result, err := fix.client.CallTool(context.Background(), mcp.CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{"text":"hi"}`),
	})
	if err != nil {
		t.Fatalf("failed to call tool: %v", err)
	}
	if result.IsError {
		t.Fatal("unexpected tool error")
	}
	if len(result.Content) != 1 || result.Content[0].Text != "hi" {
		t.Errorf("unexpected content: %+v", result.Content)
	}
}

func TestToolCallUnknownTool(t *testing.T) {
	fix := newTestFixture(t, []mcp.ServerOption{mcp.WithToolSpecs(echoToolSpec())}, nil)

	_, err := fix.client.CallTool(context.Background(), mcp.CallToolParams{Name: "nope"})
	var rpcErr *mcp.JSONRPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *JSONRPCError, got %v", err)
	}
	if rpcErr.Code != -32602 {
		t.Errorf("got code %d, want %d", rpcErr.Code, -32602)
	}
}

func TestCapabilityGatedBeforeSend(t *testing.T) {
	fix := newTestFixture(t, []mcp.ServerOption{mcp.WithToolSpecs(echoToolSpec())}, nil)

	// The server declared no prompts capability; the client must refuse
	// locally without putting anything on the wire.
	_, err := fix.client.ListPrompts(context.Background(), mcp.ListPromptsParams{})
	if err == nil {
		t.Fatal("expected local capability error")
	}
	var rpcErr *mcp.JSONRPCError
	if errors.As(err, &rpcErr) {
		t.Fatalf("capability error crossed the wire: %v", err)
	}
}

func TestRequestTimeout(t *testing.T) {
	slowTool := mcp.ToolSpec{
		Tool: mcp.Tool{Name: "slow"},
		Call: func(ctx context.Context, _ *mcp.ServerExchange, _ mcp.CallToolParams) (mcp.CallToolResult, error) {
			select {
			case <-ctx.Done():
				return mcp.CallToolResult{}, ctx.Err()
			case <-time.After(30 * time.Second):
				return mcp.CallToolResult{}, nil
			}
		},
	}
	fix := newTestFixture(t, []mcp.ServerOption{mcp.WithToolSpecs(slowTool)}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := fix.client.CallTool(ctx, mcp.CallToolParams{Name: "slow"})
	if !errors.Is(err, mcp.ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
}

func TestToolListChangedFanOut(t *testing.T) {
	watcher := make(chanToolListWatcher, 1)
	fix := newTestFixture(t,
		[]mcp.ServerOption{
			mcp.WithToolSpecs(echoToolSpec()),
			mcp.WithToolListChanged(),
		},
		[]mcp.ClientOption{mcp.WithToolListWatcher(watcher)},
	)

	fix.server.AddTool(mcp.ToolSpec{
		Tool: mcp.Tool{Name: "extra"},
		Call: func(context.Context, *mcp.ServerExchange, mcp.CallToolParams) (mcp.CallToolResult, error) {
			return mcp.CallToolResult{}, nil
		},
	})

	select {
	case <-watcher:
	case <-time.After(5 * time.Second):
		t.Fatal("tool list change never reached the client")
	}

	select {
	case <-watcher:
		t.Fatal("tool list change delivered more than once")
	case <-time.After(100 * time.Millisecond):
	}

	result, err := fix.client.ListTools(context.Background(), mcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("failed to list tools: %v", err)
	}
	if len(result.Tools) != 2 {
		t.Errorf("got %d tools, want 2", len(result.Tools))
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	resource := mcp.ResourceSpec{
		Resource: mcp.Resource{URI: "test://res", Name: "res"},
		Read: func(context.Context, *mcp.ServerExchange, mcp.ReadResourceParams) (mcp.ReadResourceResult, error) {
			return mcp.ReadResourceResult{
				Contents: []mcp.ResourceContents{{URI: "test://res", Text: "data"}},
			}, nil
		},
	}
	watcher := make(chanResourceSubscribedWatcher, 1)
	fix := newTestFixture(t,
		[]mcp.ServerOption{
			mcp.WithResourceSpecs(resource),
			mcp.WithResourceSubscriptions(),
		},
		[]mcp.ClientOption{mcp.WithResourceSubscribedWatcher(watcher)},
	)

	ctx := context.Background()
	if err := fix.client.SubscribeResource(ctx, mcp.SubscribeResourceParams{URI: "test://res"}); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	fix.server.ResourceUpdated("test://res")
	select {
	case uri := <-watcher:
		if uri != "test://res" {
			t.Errorf("got uri %q, want %q", uri, "test://res")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("resource update never reached the client")
	}

	// Subscribe then unsubscribe leaves the subscription set unchanged.
	if err := fix.client.UnsubscribeResource(ctx, mcp.UnsubscribeResourceParams{URI: "test://res"}); err != nil {
		t.Fatalf("failed to unsubscribe: %v", err)
	}
	fix.server.ResourceUpdated("test://res")
	select {
	case uri := <-watcher:
		t.Fatalf("update delivered after unsubscribe: %q", uri)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestServerOriginatedRequests(t *testing.T) {
	inspectTool := mcp.ToolSpec{
		Tool: mcp.Tool{Name: "inspect"},
		Call: func(ctx context.Context, exc *mcp.ServerExchange, _ mcp.CallToolParams) (mcp.CallToolResult, error) {
			roots, err := exc.ListRoots(ctx)
			if err != nil {
				return mcp.CallToolResult{}, err
			}
			sampled, err := exc.CreateSampleMessage(ctx, mcp.SamplingParams{
				Messages: []mcp.SamplingMessage{{
					Role:    mcp.RoleUser,
					Content: mcp.SamplingContent{Type: mcp.ContentTypeText, Text: "hello"},
				}},
				MaxTokens: 16,
			})
			if err != nil {
				return mcp.CallToolResult{}, err
			}
			text := fmt.Sprintf("%d roots, %s", len(roots.Roots), sampled.Content.Text)
			return mcp.CallToolResult{
				Content: []mcp.Content{{Type: mcp.ContentTypeText, Text: text}},
			}, nil
		},
	}
	fix := newTestFixture(t,
		[]mcp.ServerOption{mcp.WithToolSpecs(inspectTool)},
		[]mcp.ClientOption{
			mcp.WithRootsListHandler(staticRootsListHandler{}),
			mcp.WithSamplingHandler(staticSamplingHandler{}),
		},
	)

	result, err := fix.client.CallTool(context.Background(), mcp.CallToolParams{Name: "inspect"})
	if err != nil {
		t.Fatalf("failed to call tool: %v", err)
	}
	want := "1 roots, sampled 1 messages"
	if len(result.Content) != 1 || result.Content[0].Text != want {
		t.Errorf("got %+v, want text %q", result.Content, want)
	}
}

func TestLoggingLevelFilter(t *testing.T) {
	logTool := mcp.ToolSpec{
		Tool: mcp.Tool{Name: "log"},
		Call: func(ctx context.Context, exc *mcp.ServerExchange, params mcp.CallToolParams) (mcp.CallToolResult, error) {
			var args struct {
				Level int `json:"level"`
			}
			if err := json.Unmarshal(params.Arguments, &args); err != nil {
				return mcp.CallToolResult{}, err
			}
			if err := exc.Logf(ctx, mcp.LogLevel(args.Level), "message at %d", args.Level); err != nil {
				return mcp.CallToolResult{}, err
			}
			return mcp.CallToolResult{}, nil
		},
	}
	receiver := make(chanLogReceiver, 4)
	fix := newTestFixture(t,
		[]mcp.ServerOption{
			mcp.WithToolSpecs(logTool),
			mcp.WithServerLogging(),
		},
		[]mcp.ClientOption{mcp.WithLogReceiver(receiver)},
	)

	ctx := context.Background()
	if err := fix.client.SetLogLevel(ctx, mcp.LogLevelError); err != nil {
		t.Fatalf("failed to set log level: %v", err)
	}

	// Below the threshold: filtered out.
	if _, err := fix.client.CallTool(ctx, mcp.CallToolParams{
		Name:      "log",
		Arguments: json.RawMessage(fmt.Sprintf(`{"level":%d}`, mcp.LogLevelDebug)),
	}); err != nil {
		t.Fatalf("failed to call tool: %v", err)
	}
	select {
	case params := <-receiver:
		t.Fatalf("message below threshold delivered: %+v", params)
	case <-time.After(100 * time.Millisecond):
	}

	// At the threshold: delivered.
	if _, err := fix.client.CallTool(ctx, mcp.CallToolParams{
		Name:      "log",
		Arguments: json.RawMessage(fmt.Sprintf(`{"level":%d}`, mcp.LogLevelError)),
	}); err != nil {
		t.Fatalf("failed to call tool: %v", err)
	}
	select {
	case params := <-receiver:
		if params.Level != mcp.LogLevelError {
			t.Errorf("got level %v, want %v", params.Level, mcp.LogLevelError)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message at threshold never delivered")
	}
}

func TestListToolsPagination(t *testing.T) {
	specs := make([]mcp.ToolSpec, 0, 5)
	for i := range 5 {
		specs = append(specs, mcp.ToolSpec{
			Tool: mcp.Tool{Name: fmt.Sprintf("tool-%d", i)},
			Call: func(context.Context, *mcp.ServerExchange, mcp.CallToolParams) (mcp.CallToolResult, error) {
				return mcp.CallToolResult{}, nil
			},
		})
	}
	fix := newTestFixture(t,
		[]mcp.ServerOption{
			mcp.WithToolSpecs(specs...),
			mcp.WithServerPageSize(2),
		},
		nil,
	)

	ctx := context.Background()
	var names []string
	cursor := ""
	pages := 0
	for {
		result, err := fix.client.ListTools(ctx, mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			t.Fatalf("failed to list tools: %v", err)
		}
		for _, tool := range result.Tools {
			names = append(names, tool.Name)
		}
		pages++
		if result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}

	if pages != 3 {
		t.Errorf("got %d pages, want 3", pages)
	}
	if len(names) != 5 {
		t.Errorf("got %d tools, want 5", len(names))
	}
	for i, name := range names {
		if want := fmt.Sprintf("tool-%d", i); name != want {
			t.Errorf("tool %d: got %q, want %q", i, name, want)
		}
	}
}

func TestPromptsAndCompletion(t *testing.T) {
	promptSpec := mcp.PromptSpec{
		Prompt: mcp.Prompt{
			Name:      "greet",
			Arguments: []mcp.PromptArgument{{Name: "name", Required: true}},
		},
		Get: func(_ context.Context, _ *mcp.ServerExchange, params mcp.GetPromptParams) (mcp.GetPromptResult, error) {
			return mcp.GetPromptResult{
				Messages: []mcp.PromptMessage{{
					Role:    mcp.RoleUser,
					Content: mcp.Content{Type: mcp.ContentTypeText, Text: "Hello, " + params.Arguments["name"]},
				}},
			}, nil
		},
	}
	completionSpec := mcp.CompletionSpec{
		Ref: mcp.CompletionRef{Type: mcp.CompletionRefPrompt, Name: "greet"},
		Complete: func(_ context.Context, _ *mcp.ServerExchange, params mcp.CompletesCompletionParams) (mcp.CompletionResult, error) {
			return mcp.CompletionResult{
				Completion: mcp.Completion{Values: []string{params.Argument.Value + "lice"}},
			}, nil
		},
	}
	fix := newTestFixture(t,
		[]mcp.ServerOption{
			mcp.WithPromptSpecs(promptSpec),
			mcp.WithCompletionSpecs(completionSpec),
		},
		nil,
	)

	ctx := context.Background()

	prompts, err := fix.client.ListPrompts(ctx, mcp.ListPromptsParams{})
	if err != nil {
		t.Fatalf("failed to list prompts: %v", err)
	}
	if len(prompts.Prompts) != 1 || prompts.Prompts[0].Name != "greet" {
		t.Errorf("unexpected prompts: %+v", prompts.Prompts)
	}

	prompt, err := fix.client.GetPrompt(ctx, mcp.GetPromptParams{
		Name:      "greet",
		Arguments: map[string]string{"name": "Alice"},
	})
	if err != nil {
		t.Fatalf("failed to get prompt: %v", err)
	}
	if len(prompt.Messages) != 1 || prompt.Messages[0].Content.Text != "Hello, Alice" {
		t.Errorf("unexpected prompt result: %+v", prompt)
	}

	completion, err := fix.client.CompletesPrompt(ctx, mcp.CompletesCompletionParams{
		Ref:      mcp.CompletionRef{Type: mcp.CompletionRefPrompt, Name: "greet"},
		Argument: mcp.CompletionArgument{Name: "name", Value: "A"},
	})
	if err != nil {
		t.Fatalf("failed to complete: %v", err)
	}
	if len(completion.Completion.Values) != 1 || completion.Completion.Values[0] != "Alice" {
		t.Errorf("unexpected completion: %+v", completion.Completion)
	}
}

// TestRawSessionAgainstServer drives a bare session against a served transport
// to observe wire-level behaviour the client façade hides.
func TestRawSessionAgainstServer(t *testing.T) {
	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	serverTransport := mcp.NewStdIO(serverReader, serverWriter)
	clientTransport := mcp.NewStdIO(clientReader, clientWriter)

	server := mcp.NewServer(mcp.Info{Name: "s", Version: "1.0"}, mcp.WithToolSpecs(echoToolSpec()))
	go server.Serve(context.Background(), serverTransport)

	sess := mcp.NewSession(clientTransport)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	t.Cleanup(func() {
		_ = sess.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx, serverTransport)
	})

	ctx := context.Background()

	// A request ahead of the handshake is refused as invalid.
	_, err := sess.Request(ctx, mcp.MethodToolsList, mcp.ListToolsParams{})
	var rpcErr *mcp.JSONRPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32600 {
		t.Fatalf("pre-handshake request: got %v, want code -32600", err)
	}

	raw, err := sess.Request(ctx, mcp.MethodInitialize, map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "t", "version": "0"},
	})
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	var initRes struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if err := json.Unmarshal(raw, &initRes); err != nil {
		t.Fatalf("failed to decode initialize result: %v", err)
	}
	if initRes.ProtocolVersion != "2024-11-05" {
		t.Errorf("got protocol version %q, want %q", initRes.ProtocolVersion, "2024-11-05")
	}

	if err := sess.Notify(ctx, "notifications/initialized", nil); err != nil {
		t.Fatalf("failed to send initialized: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	// Repeated initialize after the first is invalid.
	_, err = sess.Request(ctx, mcp.MethodInitialize, map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "t", "version": "0"},
	})
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32600 {
		t.Fatalf("repeated initialize: got %v, want code -32600", err)
	}

	// An unknown method is answered with method-not-found.
	_, err = sess.Request(ctx, "bogus", nil)
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32601 {
		t.Fatalf("bogus method: got %v, want code -32601", err)
	}

	// An undeclared capability's method looks exactly like an unknown one.
	_, err = sess.Request(ctx, mcp.MethodResourcesSubscribe, mcp.SubscribeResourceParams{URI: "test://x"})
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32601 {
		t.Fatalf("undeclared subscribe: got %v, want code -32601", err)
	}
}
