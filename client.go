package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

// Client is the client role of the protocol: a thin façade exposing typed
// operations over a Session. It drives the initialization handshake, performs
// capability gating before sending, and fans inbound server notifications out
// to the configured watchers.
//
// A Client must be created using NewClient and requires Connect to be called
// before any operations can be performed. The client should be properly closed
// using Close when it's no longer needed.
type Client struct {
	info         Info
	capabilities ClientCapabilities
	transport    Transport

	sess   *Session
	codec  Codec
	logger *slog.Logger

	serverInfo         Info
	serverCapabilities ServerCapabilities
	instructions       string
	connected          atomic.Bool

	rootsListHandler RootsListHandler
	rootsListUpdater RootsListUpdater

	samplingHandler SamplingHandler

	promptListWatcher PromptListWatcher

	resourceListWatcher       ResourceListWatcher
	resourceSubscribedWatcher ResourceSubscribedWatcher

	toolListWatcher ToolListWatcher

	progressListener ProgressListener
	logReceiver      LogReceiver

	experimental map[string]any

	requestTimeout       time.Duration
	pingInterval         time.Duration
	pingTimeoutThreshold int

	done chan struct{}
}

var (
	defaultClientRequestTimeout = 30 * time.Second
	defaultClientPingInterval   = 30 * time.Second

	defaultClientPingTimeoutThreshold = 3
)

// WithRootsListHandler sets the roots list handler for the client. Supplying a
// handler declares the roots capability.
func WithRootsListHandler(handler RootsListHandler) ClientOption {
	return func(c *Client) {
		c.rootsListHandler = handler
	}
}

// WithRootsListUpdater sets the roots list updater for the client. The client
// declares roots.listChanged only when a roots list handler is also supplied;
// an updater on its own declares no roots capability.
func WithRootsListUpdater(updater RootsListUpdater) ClientOption {
	return func(c *Client) {
		c.rootsListUpdater = updater
	}
}

// WithSamplingHandler sets the sampling handler for the client. Supplying a
// handler declares the sampling capability.
func WithSamplingHandler(handler SamplingHandler) ClientOption {
	return func(c *Client) {
		c.samplingHandler = handler
	}
}

// WithPromptListWatcher sets the prompt list watcher for the client.
func WithPromptListWatcher(watcher PromptListWatcher) ClientOption {
	return func(c *Client) {
		c.promptListWatcher = watcher
	}
}

// WithResourceListWatcher sets the resource list watcher for the client.
func WithResourceListWatcher(watcher ResourceListWatcher) ClientOption {
	return func(c *Client) {
		c.resourceListWatcher = watcher
	}
}

// WithResourceSubscribedWatcher sets the resource subscribe watcher for the client.
func WithResourceSubscribedWatcher(watcher ResourceSubscribedWatcher) ClientOption {
	return func(c *Client) {
		c.resourceSubscribedWatcher = watcher
	}
}

// WithToolListWatcher sets the tool list watcher for the client.
func WithToolListWatcher(watcher ToolListWatcher) ClientOption {
	return func(c *Client) {
		c.toolListWatcher = watcher
	}
}

// WithProgressListener sets the progress listener for the client.
func WithProgressListener(listener ProgressListener) ClientOption {
	return func(c *Client) {
		c.progressListener = listener
	}
}

// WithLogReceiver sets the log receiver for the client.
func WithLogReceiver(receiver LogReceiver) ClientOption {
	return func(c *Client) {
		c.logReceiver = receiver
	}
}

// WithClientExperimental declares free-form experimental capabilities.
func WithClientExperimental(experimental map[string]any) ClientOption {
	return func(c *Client) {
		c.experimental = experimental
	}
}

// WithClientRequestTimeout sets the default deadline for client requests.
func WithClientRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.requestTimeout = timeout
	}
}

// WithClientPingInterval sets the interval of the connection health checks.
func WithClientPingInterval(interval time.Duration) ClientOption {
	return func(c *Client) {
		c.pingInterval = interval
	}
}

// WithClientPingTimeoutThreshold sets the ping timeout threshold for the client.
// If the number of consecutive ping failures exceeds the threshold, the client
// closes the session.
func WithClientPingTimeoutThreshold(threshold int) ClientOption {
	return func(c *Client) {
		c.pingTimeoutThreshold = threshold
	}
}

// WithClientCodec sets the codec instance used for payload encoding.
func WithClientCodec(codec Codec) ClientOption {
	return func(c *Client) {
		c.codec = codec
	}
}

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.With(
			slog.String("package", "go-mcp"),
			slog.String("component", "client"),
		)
	}
}

// NewClient creates a new Model Context Protocol (MCP) client over the given
// transport. The info parameter provides client identification and version
// information.
//
// Optional client behaviors are configured through ClientOption functions:
// handlers for roots and sampling (which also declare the matching
// capabilities), watchers for server-side list changes, progress tracking, and
// logging, plus timeouts and intervals.
//
// The client is inert until Connect is called.
func NewClient(info Info, transport Transport, options ...ClientOption) *Client {
	c := &Client{
		info:      info,
		transport: transport,
		logger:    slog.Default(),
		done:      make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}

	if c.requestTimeout == 0 {
		c.requestTimeout = defaultClientRequestTimeout
	}
	if c.pingInterval == 0 {
		c.pingInterval = defaultClientPingInterval
	}
	if c.pingTimeoutThreshold == 0 {
		c.pingTimeoutThreshold = defaultClientPingTimeoutThreshold
	}

	c.capabilities = ClientCapabilities{
		Experimental: c.experimental,
	}
	if c.rootsListHandler != nil {
		c.capabilities.Roots = &RootsCapability{}
		if c.rootsListUpdater != nil {
			c.capabilities.Roots.ListChanged = true
		}
	}
	if c.samplingHandler != nil {
		c.capabilities.Sampling = &SamplingCapability{}
	}

	return c
}

// Connect establishes the session with the server and drives the initialization
// handshake: it sends initialize with the client's capabilities and protocol
// version, records the server's capabilities and info, sends
// notifications/initialized, and moves the session to Ready. A handshake failure
// fails Connect and closes the transport.
//
// Connect also starts the connection health checks and, when a roots list
// updater was configured, the roots change publisher.
func (c *Client) Connect(ctx context.Context) error {
	sess := NewSession(c.transport,
		WithSessionLogger(c.logger),
		WithSessionCodec(c.codec),
		WithSessionRequestTimeout(c.requestTimeout),
	)
	c.registerHandlers(sess)
	c.sess = sess

	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	res, err := sess.Request(ctx, MethodInitialize, initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    c.capabilities,
		ClientInfo:      c.info,
	})
	if err != nil {
		_ = sess.Close()
		return fmt.Errorf("failed to initialize: %w", err)
	}

	var initRes initializeResult
	if err := c.codec.DecodeResult(res, &initRes); err != nil {
		_ = sess.Close()
		return fmt.Errorf("failed to decode initialize result: %w", err)
	}

	if initRes.ProtocolVersion != protocolVersion {
		_ = sess.Close()
		return fmt.Errorf("protocol version mismatch: %s != %s", initRes.ProtocolVersion, protocolVersion)
	}

	c.serverInfo = initRes.ServerInfo
	c.serverCapabilities = initRes.Capabilities
	c.instructions = initRes.Instructions

	if err := sess.Notify(ctx, methodNotificationsInitialized, nil); err != nil {
		_ = sess.Close()
		return fmt.Errorf("failed to send initialized notification: %w", err)
	}
	sess.setReady()
	c.connected.Store(true)

	go c.pingLoop()
	if c.rootsListUpdater != nil {
		go c.listenRootsListUpdates()
	}

	return nil
}

// Close shuts down the client and its session. Pending requests fail with
// ErrSessionClosed.
func (c *Client) Close() error {
	if !c.connected.CompareAndSwap(true, false) {
		return nil
	}
	close(c.done)
	return c.sess.Close()
}

// Ping checks connection health; servers answer pings in every lifecycle phase.
func (c *Client) Ping(ctx context.Context) error {
	if c.sess == nil {
		return errors.New("client not connected")
	}
	_, err := c.sess.Request(ctx, MethodPing, nil)
	return err
}

// ListPrompts retrieves a paginated list of available prompts from the server.
//
// The request can be cancelled via the context; the server is then told to stop
// through a cancellation notification.
func (c *Client) ListPrompts(ctx context.Context, params ListPromptsParams) (ListPromptResult, error) {
	if err := c.checkCapability(c.serverCapabilities.Prompts != nil, "prompts"); err != nil {
		return ListPromptResult{}, err
	}
	return clientRequest[ListPromptResult](ctx, c, MethodPromptsList, params)
}

// GetPrompt retrieves a specific prompt by name with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, params GetPromptParams) (GetPromptResult, error) {
	if err := c.checkCapability(c.serverCapabilities.Prompts != nil, "prompts"); err != nil {
		return GetPromptResult{}, err
	}
	return clientRequest[GetPromptResult](ctx, c, MethodPromptsGet, params)
}

// ListResources retrieves a paginated list of available resources from the server.
func (c *Client) ListResources(ctx context.Context, params ListResourcesParams) (ListResourcesResult, error) {
	if err := c.checkCapability(c.serverCapabilities.Resources != nil, "resources"); err != nil {
		return ListResourcesResult{}, err
	}
	return clientRequest[ListResourcesResult](ctx, c, MethodResourcesList, params)
}

// ReadResource retrieves the contents of a specific resource.
func (c *Client) ReadResource(ctx context.Context, params ReadResourceParams) (ReadResourceResult, error) {
	if err := c.checkCapability(c.serverCapabilities.Resources != nil, "resources"); err != nil {
		return ReadResourceResult{}, err
	}
	return clientRequest[ReadResourceResult](ctx, c, MethodResourcesRead, params)
}

// ListResourceTemplates retrieves the list of available resource templates.
func (c *Client) ListResourceTemplates(
	ctx context.Context,
	params ListResourceTemplatesParams,
) (ListResourceTemplatesResult, error) {
	if err := c.checkCapability(c.serverCapabilities.Resources != nil, "resources"); err != nil {
		return ListResourceTemplatesResult{}, err
	}
	return clientRequest[ListResourceTemplatesResult](ctx, c, MethodResourcesTemplatesList, params)
}

// SubscribeResource registers the client for change notifications on a specific
// resource. Updates arrive through the ResourceSubscribedWatcher configured with
// WithResourceSubscribedWatcher.
func (c *Client) SubscribeResource(ctx context.Context, params SubscribeResourceParams) error {
	subscribe := c.serverCapabilities.Resources != nil && c.serverCapabilities.Resources.Subscribe
	if err := c.checkCapability(subscribe, "resources.subscribe"); err != nil {
		return err
	}
	_, err := clientRequest[struct{}](ctx, c, MethodResourcesSubscribe, params)
	return err
}

// UnsubscribeResource removes a resource subscription.
func (c *Client) UnsubscribeResource(ctx context.Context, params UnsubscribeResourceParams) error {
	subscribe := c.serverCapabilities.Resources != nil && c.serverCapabilities.Resources.Subscribe
	if err := c.checkCapability(subscribe, "resources.subscribe"); err != nil {
		return err
	}
	_, err := clientRequest[struct{}](ctx, c, MethodResourcesUnsubscribe, params)
	return err
}

// ListTools retrieves a paginated list of available tools from the server.
func (c *Client) ListTools(ctx context.Context, params ListToolsParams) (ListToolsResult, error) {
	if err := c.checkCapability(c.serverCapabilities.Tools != nil, "tools"); err != nil {
		return ListToolsResult{}, err
	}
	return clientRequest[ListToolsResult](ctx, c, MethodToolsList, params)
}

// CallTool executes a specific tool and returns its result.
func (c *Client) CallTool(ctx context.Context, params CallToolParams) (CallToolResult, error) {
	if err := c.checkCapability(c.serverCapabilities.Tools != nil, "tools"); err != nil {
		return CallToolResult{}, err
	}
	return clientRequest[CallToolResult](ctx, c, MethodToolsCall, params)
}

// CompletesPrompt requests completion suggestions for a prompt argument.
func (c *Client) CompletesPrompt(ctx context.Context, params CompletesCompletionParams) (CompletionResult, error) {
	if err := c.checkCapability(c.completionsSupported(), "completions"); err != nil {
		return CompletionResult{}, err
	}
	return clientRequest[CompletionResult](ctx, c, MethodCompletionComplete, params)
}

// CompletesResourceTemplate requests completion suggestions for a resource
// template argument.
func (c *Client) CompletesResourceTemplate(
	ctx context.Context,
	params CompletesCompletionParams,
) (CompletionResult, error) {
	if err := c.checkCapability(c.completionsSupported(), "completions"); err != nil {
		return CompletionResult{}, err
	}
	return clientRequest[CompletionResult](ctx, c, MethodCompletionComplete, params)
}

// SetLogLevel sets the minimum severity level for log messages emitted by the
// server through notifications/message.
func (c *Client) SetLogLevel(ctx context.Context, level LogLevel) error {
	if err := c.checkCapability(c.serverCapabilities.Logging != nil, "logging"); err != nil {
		return err
	}
	_, err := clientRequest[struct{}](ctx, c, MethodLoggingSetLevel, LogParams{Level: level})
	return err
}

// ServerInfo returns the server's info, available after Connect.
func (c *Client) ServerInfo() Info {
	return c.serverInfo
}

// ServerCapabilities returns the capabilities the server declared during the
// handshake.
func (c *Client) ServerCapabilities() ServerCapabilities {
	return c.serverCapabilities
}

// Instructions returns the usage instructions the server supplied during the
// handshake, if any.
func (c *Client) Instructions() string {
	return c.instructions
}

func (c *Client) completionsSupported() bool {
	return c.serverCapabilities.Completions != nil
}

func (c *Client) checkCapability(supported bool, name string) error {
	if !c.connected.Load() {
		return errors.New("client not connected")
	}
	if !supported {
		return fmt.Errorf("%s not supported by server", name)
	}
	return nil
}

// clientRequest sends one typed request over the client's session and decodes
// the correlated result.
func clientRequest[T any](ctx context.Context, c *Client, method string, params any) (T, error) {
	var result T

	raw, err := c.sess.Request(ctx, method, params)
	if err != nil {
		return result, err
	}
	if err := c.codec.DecodeResult(raw, &result); err != nil {
		return result, err
	}
	return result, nil
}

func (c *Client) registerHandlers(sess *Session) {
	sess.HandleRequest(MethodPing, func(context.Context, json.RawMessage) (any, error) {
		return nil, nil
	})

	// Handling sampling and roots requests without the matching declared
	// capability must look like an unknown method to the peer, so the handlers
	// are only registered when the capability exists.
	if c.rootsListHandler != nil {
		sess.HandleRequest(MethodRootsList, func(ctx context.Context, _ json.RawMessage) (any, error) {
			return c.rootsListHandler.RootsList(ctx)
		})
	}
	if c.samplingHandler != nil {
		sess.HandleRequest(MethodSamplingCreateMessage, func(ctx context.Context, params json.RawMessage) (any, error) {
			var sp SamplingParams
			if err := json.Unmarshal(params, &sp); err != nil {
				return nil, &JSONRPCError{
					Code:    jsonRPCInvalidParamsCode,
					Message: errMsgInvalidParams,
					Data:    map[string]any{"error": err.Error()},
				}
			}
			return c.samplingHandler.CreateSampleMessage(ctx, sp)
		})
	}

	sess.HandleNotification(methodNotificationsPromptsListChanged, func(context.Context, json.RawMessage) {
		if c.promptListWatcher != nil {
			c.promptListWatcher.OnPromptListChanged()
		}
	})
	sess.HandleNotification(methodNotificationsResourcesListChanged, func(context.Context, json.RawMessage) {
		if c.resourceListWatcher != nil {
			c.resourceListWatcher.OnResourceListChanged()
		}
	})
	sess.HandleNotification(methodNotificationsResourcesUpdated, func(_ context.Context, params json.RawMessage) {
		if c.resourceSubscribedWatcher == nil {
			return
		}
		var p notificationsResourcesUpdatedParams
		if err := json.Unmarshal(params, &p); err != nil {
			c.logger.Error("failed to unmarshal resources updated params", "err", err)
			return
		}
		c.resourceSubscribedWatcher.OnResourceSubscribedChanged(p.URI)
	})
	sess.HandleNotification(methodNotificationsToolsListChanged, func(context.Context, json.RawMessage) {
		if c.toolListWatcher != nil {
			c.toolListWatcher.OnToolListChanged()
		}
	})
	sess.HandleNotification(methodNotificationsProgress, func(_ context.Context, params json.RawMessage) {
		if c.progressListener == nil {
			return
		}
		var p ProgressParams
		if err := json.Unmarshal(params, &p); err != nil {
			c.logger.Error("failed to unmarshal progress params", "err", err)
			return
		}
		c.progressListener.OnProgress(p)
	})
	sess.HandleNotification(methodNotificationsMessage, func(_ context.Context, params json.RawMessage) {
		if c.logReceiver == nil {
			return
		}
		var p LogParams
		if err := json.Unmarshal(params, &p); err != nil {
			c.logger.Error("failed to unmarshal log params", "err", err)
			return
		}
		c.logReceiver.OnLog(p)
	})
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	failedPings := 0
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
			err := c.Ping(ctx)
			cancel()
			if err == nil {
				failedPings = 0
				continue
			}
			c.logger.Error("failed to send ping", "err", err)
			failedPings++
			if failedPings > c.pingTimeoutThreshold {
				c.logger.Error("too many ping failures, closing session", "count", failedPings)
				if cErr := c.Close(); cErr != nil {
					c.logger.Warn("failed to close client", "err", cErr)
				}
				return
			}
		}
	}
}

func (c *Client) listenRootsListUpdates() {
	for range c.rootsListUpdater.RootsListUpdates() {
		select {
		case <-c.done:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
		err := c.sess.Notify(ctx, methodNotificationsRootsListChanged, nil)
		cancel()
		if err != nil {
			c.logger.Error("failed to send notification on roots list change", "err", err)
		}
	}
}
