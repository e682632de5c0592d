package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ServerOption is a function that configures a server.
type ServerOption func(*Server)

// ToolSpec pairs a tool descriptor with the function that executes it. The
// exchange gives the function access to the calling client.
type ToolSpec struct {
	Tool Tool
	Call func(ctx context.Context, exc *ServerExchange, params CallToolParams) (CallToolResult, error)
}

// ResourceSpec pairs a resource descriptor with the function that reads it.
type ResourceSpec struct {
	Resource Resource
	Read     func(ctx context.Context, exc *ServerExchange, params ReadResourceParams) (ReadResourceResult, error)
}

// PromptSpec pairs a prompt descriptor with the function that renders it.
type PromptSpec struct {
	Prompt Prompt
	Get    func(ctx context.Context, exc *ServerExchange, params GetPromptParams) (GetPromptResult, error)
}

// CompletionSpec pairs a completion reference with the function that produces
// argument completions for it.
type CompletionSpec struct {
	Ref      CompletionRef
	Complete func(ctx context.Context, exc *ServerExchange, params CompletesCompletionParams) (CompletionResult, error)
}

// Server is the server role of the protocol. It holds the tool, resource,
// prompt, and completion specifications, accepts client connections from a
// ServerTransport, and runs one Session per client. Mutating a registry
// broadcasts the matching list_changed notification to every connected client,
// provided the capability was declared.
type Server struct {
	info         Info
	instructions string
	capabilities ServerCapabilities
	experimental map[string]any

	toolsEnabled        bool
	toolListChanged     bool
	resourcesEnabled    bool
	resourceListChanged bool
	resourceSubscribe   bool
	promptsEnabled      bool
	promptListChanged   bool
	loggingEnabled      bool

	rootsListWatcher RootsListWatcher

	onClientConnected    func(string, Info)
	onClientDisconnected func(string)

	pageSize       int
	requestTimeout time.Duration
	logger         *slog.Logger
	codec          Codec

	specsMu           sync.RWMutex
	tools             []ToolSpec
	resources         []ResourceSpec
	resourceTemplates []ResourceTemplate
	prompts           []PromptSpec
	completions       map[CompletionRef]CompletionSpec

	sessionsMu sync.Mutex
	sessions   map[string]*serverSession

	done chan struct{}
}

// serverSession carries the per-client state a Session does not own: the peer's
// identity, the logging threshold, and the resource subscription set.
type serverSession struct {
	id   string
	sess *Session

	clientMu           sync.RWMutex
	clientInfo         Info
	clientCapabilities ClientCapabilities
	initializeReceived bool

	logMu    sync.RWMutex
	logLevel LogLevel

	subsMu        sync.Mutex
	subscriptions map[string]struct{}
}

var (
	defaultServerPageSize       = 50
	defaultServerRequestTimeout = 30 * time.Second
)

// NewServer creates a new Model Context Protocol (MCP) server with the given
// identity. Capabilities are assembled from the options: registering specs of a
// kind declares the matching capability block, and the listChanged/subscribe
// flags are declared with their dedicated options.
func NewServer(info Info, options ...ServerOption) *Server {
	s := &Server{
		info:        info,
		logger:      slog.Default(),
		completions: make(map[CompletionRef]CompletionSpec),
		sessions:    make(map[string]*serverSession),
		done:        make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.pageSize == 0 {
		s.pageSize = defaultServerPageSize
	}
	if s.requestTimeout == 0 {
		s.requestTimeout = defaultServerRequestTimeout
	}

	s.capabilities = ServerCapabilities{
		Experimental: s.experimental,
	}
	if s.toolsEnabled {
		s.capabilities.Tools = &ToolsCapability{ListChanged: s.toolListChanged}
	}
	if s.resourcesEnabled {
		s.capabilities.Resources = &ResourcesCapability{
			Subscribe:   s.resourceSubscribe,
			ListChanged: s.resourceListChanged,
		}
	}
	if s.promptsEnabled {
		s.capabilities.Prompts = &PromptsCapability{ListChanged: s.promptListChanged}
	}
	if len(s.completions) > 0 {
		s.capabilities.Completions = &CompletionsCapability{}
	}
	if s.loggingEnabled {
		s.capabilities.Logging = &LoggingCapability{}
	}

	return s
}

// WithToolSpecs registers the initial tools and declares the tools capability.
func WithToolSpecs(specs ...ToolSpec) ServerOption {
	return func(s *Server) {
		s.toolsEnabled = true
		s.tools = append(s.tools, specs...)
	}
}

// WithToolListChanged declares tools.listChanged, enabling broadcasts on
// registry mutation.
func WithToolListChanged() ServerOption {
	return func(s *Server) {
		s.toolsEnabled = true
		s.toolListChanged = true
	}
}

// WithResourceSpecs registers the initial resources and declares the resources
// capability.
func WithResourceSpecs(specs ...ResourceSpec) ServerOption {
	return func(s *Server) {
		s.resourcesEnabled = true
		s.resources = append(s.resources, specs...)
	}
}

// WithResourceTemplates registers the resource templates exposed through
// resources/templates/list.
func WithResourceTemplates(templates ...ResourceTemplate) ServerOption {
	return func(s *Server) {
		s.resourcesEnabled = true
		s.resourceTemplates = append(s.resourceTemplates, templates...)
	}
}

// WithResourceListChanged declares resources.listChanged.
func WithResourceListChanged() ServerOption {
	return func(s *Server) {
		s.resourcesEnabled = true
		s.resourceListChanged = true
	}
}

// WithResourceSubscriptions declares resources.subscribe and routes the
// resources/subscribe and resources/unsubscribe methods. Without it those
// methods are answered with a method-not-found error.
func WithResourceSubscriptions() ServerOption {
	return func(s *Server) {
		s.resourcesEnabled = true
		s.resourceSubscribe = true
	}
}

// WithPromptSpecs registers the initial prompts and declares the prompts
// capability.
func WithPromptSpecs(specs ...PromptSpec) ServerOption {
	return func(s *Server) {
		s.promptsEnabled = true
		s.prompts = append(s.prompts, specs...)
	}
}

// WithPromptListChanged declares prompts.listChanged.
func WithPromptListChanged() ServerOption {
	return func(s *Server) {
		s.promptsEnabled = true
		s.promptListChanged = true
	}
}

// WithCompletionSpecs registers completion endpoints and declares the
// completions capability.
func WithCompletionSpecs(specs ...CompletionSpec) ServerOption {
	return func(s *Server) {
		for _, spec := range specs {
			s.completions[spec.Ref] = spec
		}
	}
}

// WithServerLogging declares the logging capability, routing logging/setLevel
// and enabling ServerExchange.Log.
func WithServerLogging() ServerOption {
	return func(s *Server) {
		s.loggingEnabled = true
	}
}

// WithServerExperimental declares free-form experimental capabilities.
func WithServerExperimental(experimental map[string]any) ServerOption {
	return func(s *Server) {
		s.experimental = experimental
	}
}

// WithInstructions sets the usage instructions returned from the handshake.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithRootsListWatcher sets the watcher invoked when a client announces a root
// list change.
func WithRootsListWatcher(watcher RootsListWatcher) ServerOption {
	return func(s *Server) {
		s.rootsListWatcher = watcher
	}
}

// WithServerPageSize sets the page size used by the paginated list operations.
func WithServerPageSize(size int) ServerOption {
	return func(s *Server) {
		s.pageSize = size
	}
}

// WithServerRequestTimeout sets the default deadline for server-originated
// requests and responses.
func WithServerRequestTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.requestTimeout = timeout
	}
}

// WithServerOnClientConnected sets the callback for when a client completes the
// handshake. The parameters are the session ID and the client's Info.
func WithServerOnClientConnected(callback func(string, Info)) ServerOption {
	return func(s *Server) {
		s.onClientConnected = callback
	}
}

// WithServerOnClientDisconnected sets the callback for when a client session
// ends. The parameter is the session ID.
func WithServerOnClientDisconnected(callback func(string)) ServerOption {
	return func(s *Server) {
		s.onClientDisconnected = callback
	}
}

// WithServerCodec sets the codec instance used for payload encoding.
func WithServerCodec(codec Codec) ServerOption {
	return func(s *Server) {
		s.codec = codec
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "go-mcp"),
			slog.String("component", "server"),
		)
	}
}

// Serve accepts client connections from the transport and runs one session per
// client. It blocks until the transport's connection iterator ends, which
// happens after Shutdown.
func (s *Server) Serve(ctx context.Context, transport ServerTransport) {
	for conn := range transport.Connections() {
		select {
		case <-s.done:
			return
		default:
		}
		if err := s.serveConn(ctx, conn); err != nil {
			s.logger.Error("failed to serve connection", "err", err)
		}
	}
}

// Shutdown gracefully shuts down the server: every client session is closed,
// then the transport stops accepting connections.
func (s *Server) Shutdown(ctx context.Context, transport ServerTransport) error {
	close(s.done)

	s.sessionsMu.Lock()
	sessions := make([]*serverSession, 0, len(s.sessions))
	for _, ss := range s.sessions {
		sessions = append(sessions, ss)
	}
	s.sessionsMu.Unlock()

	for _, ss := range sessions {
		if err := ss.sess.Close(); err != nil {
			s.logger.Warn("failed to close session", "sessionID", ss.id, "err", err)
		}
	}

	if err := transport.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown transport: %w", err)
	}
	return nil
}

// AddTool registers a tool at runtime and broadcasts tools/list_changed when
// that capability was declared.
func (s *Server) AddTool(spec ToolSpec) {
	s.specsMu.Lock()
	s.tools = append(s.tools, spec)
	s.specsMu.Unlock()

	s.notifyListChanged(s.toolListChanged, methodNotificationsToolsListChanged)
}

// RemoveTool removes a tool by name and broadcasts tools/list_changed when that
// capability was declared.
func (s *Server) RemoveTool(name string) {
	s.specsMu.Lock()
	tools := s.tools[:0]
	for _, spec := range s.tools {
		if spec.Tool.Name != name {
			tools = append(tools, spec)
		}
	}
	s.tools = tools
	s.specsMu.Unlock()

	s.notifyListChanged(s.toolListChanged, methodNotificationsToolsListChanged)
}

// AddResource registers a resource at runtime and broadcasts
// resources/list_changed when that capability was declared.
func (s *Server) AddResource(spec ResourceSpec) {
	s.specsMu.Lock()
	s.resources = append(s.resources, spec)
	s.specsMu.Unlock()

	s.notifyListChanged(s.resourceListChanged, methodNotificationsResourcesListChanged)
}

// RemoveResource removes a resource by URI and broadcasts
// resources/list_changed when that capability was declared.
func (s *Server) RemoveResource(uri string) {
	s.specsMu.Lock()
	resources := s.resources[:0]
	for _, spec := range s.resources {
		if spec.Resource.URI != uri {
			resources = append(resources, spec)
		}
	}
	s.resources = resources
	s.specsMu.Unlock()

	s.notifyListChanged(s.resourceListChanged, methodNotificationsResourcesListChanged)
}

// AddPrompt registers a prompt at runtime and broadcasts prompts/list_changed
// when that capability was declared.
func (s *Server) AddPrompt(spec PromptSpec) {
	s.specsMu.Lock()
	s.prompts = append(s.prompts, spec)
	s.specsMu.Unlock()

	s.notifyListChanged(s.promptListChanged, methodNotificationsPromptsListChanged)
}

// RemovePrompt removes a prompt by name and broadcasts prompts/list_changed
// when that capability was declared.
func (s *Server) RemovePrompt(name string) {
	s.specsMu.Lock()
	prompts := s.prompts[:0]
	for _, spec := range s.prompts {
		if spec.Prompt.Name != name {
			prompts = append(prompts, spec)
		}
	}
	s.prompts = prompts
	s.specsMu.Unlock()

	s.notifyListChanged(s.promptListChanged, methodNotificationsPromptsListChanged)
}

// ResourceUpdated notifies every session subscribed to the URI that the
// resource changed.
func (s *Server) ResourceUpdated(uri string) {
	for _, ss := range s.snapshotSessions() {
		if !ss.subscribed(uri) || !ss.sess.Ready() {
			continue
		}
		s.notifySession(ss, methodNotificationsResourcesUpdated, notificationsResourcesUpdatedParams{URI: uri})
	}
}

func (s *Server) serveConn(ctx context.Context, conn Transport) error {
	ss := &serverSession{
		id:            uuid.New().String(),
		logLevel:      LogLevelDebug,
		subscriptions: make(map[string]struct{}),
	}
	sess := NewSession(conn,
		withGateUntilReady(),
		WithSessionLogger(s.logger),
		WithSessionCodec(s.codec),
		WithSessionRequestTimeout(s.requestTimeout),
	)
	ss.sess = sess

	s.registerHandlers(sess, ss)

	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session %s: %w", ss.id, err)
	}

	s.sessionsMu.Lock()
	s.sessions[ss.id] = ss
	s.sessionsMu.Unlock()

	go func() {
		<-sess.handlerCtx.Done()

		s.sessionsMu.Lock()
		delete(s.sessions, ss.id)
		s.sessionsMu.Unlock()

		if s.onClientDisconnected != nil {
			s.onClientDisconnected(ss.id)
		}
	}()

	return nil
}

func (s *Server) registerHandlers(sess *Session, ss *serverSession) {
	sess.HandleRequest(MethodInitialize, func(_ context.Context, params json.RawMessage) (any, error) {
		return s.handleInitialize(ss, params)
	})
	sess.HandleRequest(MethodPing, func(context.Context, json.RawMessage) (any, error) {
		return nil, nil
	})

	sess.HandleNotification(methodNotificationsInitialized, func(context.Context, json.RawMessage) {
		ss.sess.setReady()
		if s.onClientConnected != nil {
			s.onClientConnected(ss.id, ss.info())
		}
	})
	sess.HandleNotification(methodNotificationsRootsListChanged, func(context.Context, json.RawMessage) {
		if s.rootsListWatcher != nil {
			s.rootsListWatcher.OnRootsListChanged()
		}
	})

	if s.toolsEnabled {
		handleServerRequest(sess, MethodToolsList, ss, s.handleToolsList)
		handleServerRequest(sess, MethodToolsCall, ss, s.handleToolsCall)
	}
	if s.resourcesEnabled {
		handleServerRequest(sess, MethodResourcesList, ss, s.handleResourcesList)
		handleServerRequest(sess, MethodResourcesRead, ss, s.handleResourcesRead)
		handleServerRequest(sess, MethodResourcesTemplatesList, ss, s.handleResourcesTemplatesList)
	}
	// Subscribe methods exist only when the capability was declared, so an
	// undeclared subscribe is answered with method-not-found.
	if s.resourceSubscribe {
		handleServerRequest(sess, MethodResourcesSubscribe, ss, s.handleResourcesSubscribe)
		handleServerRequest(sess, MethodResourcesUnsubscribe, ss, s.handleResourcesUnsubscribe)
	}
	if s.promptsEnabled {
		handleServerRequest(sess, MethodPromptsList, ss, s.handlePromptsList)
		handleServerRequest(sess, MethodPromptsGet, ss, s.handlePromptsGet)
	}
	if len(s.completions) > 0 {
		handleServerRequest(sess, MethodCompletionComplete, ss, s.handleCompletionComplete)
	}
	if s.loggingEnabled {
		handleServerRequest(sess, MethodLoggingSetLevel, ss, s.handleLoggingSetLevel)
	}
}

// handleServerRequest adapts a typed method handler to the session's raw
// handler contract, mapping undecodable params to an invalid params error.
func handleServerRequest[P any, R any](
	sess *Session,
	method string,
	ss *serverSession,
	handler func(ctx context.Context, ss *serverSession, params P) (R, error),
) {
	sess.HandleRequest(method, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var params P
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, &JSONRPCError{
					Code:    jsonRPCInvalidParamsCode,
					Message: errMsgInvalidParams,
					Data:    map[string]any{"error": err.Error()},
				}
			}
		}
		return handler(ctx, ss, params)
	})
}

func (s *Server) handleInitialize(ss *serverSession, raw json.RawMessage) (any, error) {
	var params initializeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: errMsgInvalidParams,
			Data:    map[string]any{"error": err.Error()},
		}
	}

	ss.clientMu.Lock()
	if ss.initializeReceived {
		ss.clientMu.Unlock()
		return nil, &JSONRPCError{
			Code:    jsonRPCInvalidRequestCode,
			Message: errMsgInvalidRequest,
			Data:    map[string]any{"error": "initialize already received"},
		}
	}
	ss.initializeReceived = true
	ss.clientInfo = params.ClientInfo
	ss.clientCapabilities = params.Capabilities
	ss.clientMu.Unlock()

	if params.ProtocolVersion != protocolVersion {
		// Reply with the version this server supports; the client decides
		// whether it can proceed.
		s.logger.Warn("protocol version mismatch",
			slog.String("client", params.ProtocolVersion),
			slog.String("server", protocolVersion))
	}

	return initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    s.capabilities,
		ServerInfo:      s.info,
		Instructions:    s.instructions,
	}, nil
}

func (s *Server) handleToolsList(_ context.Context, _ *serverSession, params ListToolsParams) (ListToolsResult, error) {
	s.specsMu.RLock()
	defer s.specsMu.RUnlock()

	page, next, err := paginate(s.tools, params.Cursor, s.pageSize)
	if err != nil {
		return ListToolsResult{}, err
	}

	tools := make([]Tool, 0, len(page))
	for _, spec := range page {
		tools = append(tools, spec.Tool)
	}
	return ListToolsResult{Tools: tools, NextCursor: next}, nil
}

func (s *Server) handleToolsCall(ctx context.Context, ss *serverSession, params CallToolParams) (CallToolResult, error) {
	s.specsMu.RLock()
	var spec ToolSpec
	found := false
	for _, t := range s.tools {
		if t.Tool.Name == params.Name {
			spec = t
			found = true
			break
		}
	}
	s.specsMu.RUnlock()

	if !found {
		return CallToolResult{}, &JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: errMsgInvalidParams,
			Data:    map[string]any{"error": fmt.Sprintf("tool not found: %s", params.Name)},
		}
	}
	return spec.Call(ctx, s.exchange(ss), params)
}

func (s *Server) handleResourcesList(
	_ context.Context,
	_ *serverSession,
	params ListResourcesParams,
) (ListResourcesResult, error) {
	s.specsMu.RLock()
	defer s.specsMu.RUnlock()

	page, next, err := paginate(s.resources, params.Cursor, s.pageSize)
	if err != nil {
		return ListResourcesResult{}, err
	}

	resources := make([]Resource, 0, len(page))
	for _, spec := range page {
		resources = append(resources, spec.Resource)
	}
	return ListResourcesResult{Resources: resources, NextCursor: next}, nil
}

func (s *Server) handleResourcesRead(
	ctx context.Context,
	ss *serverSession,
	params ReadResourceParams,
) (ReadResourceResult, error) {
	s.specsMu.RLock()
	var spec ResourceSpec
	found := false
	for _, r := range s.resources {
		if r.Resource.URI == params.URI {
			spec = r
			found = true
			break
		}
	}
	s.specsMu.RUnlock()

	if !found {
		return ReadResourceResult{}, &JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: errMsgInvalidParams,
			Data:    map[string]any{"error": fmt.Sprintf("resource not found: %s", params.URI)},
		}
	}
	return spec.Read(ctx, s.exchange(ss), params)
}

func (s *Server) handleResourcesTemplatesList(
	_ context.Context,
	_ *serverSession,
	params ListResourceTemplatesParams,
) (ListResourceTemplatesResult, error) {
	s.specsMu.RLock()
	defer s.specsMu.RUnlock()

	page, next, err := paginate(s.resourceTemplates, params.Cursor, s.pageSize)
	if err != nil {
		return ListResourceTemplatesResult{}, err
	}
	return ListResourceTemplatesResult{Templates: page, NextCursor: next}, nil
}

func (s *Server) handleResourcesSubscribe(
	_ context.Context,
	ss *serverSession,
	params SubscribeResourceParams,
) (any, error) {
	ss.subsMu.Lock()
	ss.subscriptions[params.URI] = struct{}{}
	ss.subsMu.Unlock()
	return nil, nil
}

func (s *Server) handleResourcesUnsubscribe(
	_ context.Context,
	ss *serverSession,
	params UnsubscribeResourceParams,
) (any, error) {
	ss.subsMu.Lock()
	delete(ss.subscriptions, params.URI)
	ss.subsMu.Unlock()
	return nil, nil
}

func (s *Server) handlePromptsList(
	_ context.Context,
	_ *serverSession,
	params ListPromptsParams,
) (ListPromptResult, error) {
	s.specsMu.RLock()
	defer s.specsMu.RUnlock()

	page, next, err := paginate(s.prompts, params.Cursor, s.pageSize)
	if err != nil {
		return ListPromptResult{}, err
	}

	prompts := make([]Prompt, 0, len(page))
	for _, spec := range page {
		prompts = append(prompts, spec.Prompt)
	}
	return ListPromptResult{Prompts: prompts, NextCursor: next}, nil
}

func (s *Server) handlePromptsGet(
	ctx context.Context,
	ss *serverSession,
	params GetPromptParams,
) (GetPromptResult, error) {
	s.specsMu.RLock()
	var spec PromptSpec
	found := false
	for _, p := range s.prompts {
		if p.Prompt.Name == params.Name {
			spec = p
			found = true
			break
		}
	}
	s.specsMu.RUnlock()

	if !found {
		return GetPromptResult{}, &JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: errMsgInvalidParams,
			Data:    map[string]any{"error": fmt.Sprintf("prompt not found: %s", params.Name)},
		}
	}
	return spec.Get(ctx, s.exchange(ss), params)
}

func (s *Server) handleCompletionComplete(
	ctx context.Context,
	ss *serverSession,
	params CompletesCompletionParams,
) (CompletionResult, error) {
	s.specsMu.RLock()
	spec, found := s.completions[params.Ref]
	s.specsMu.RUnlock()

	if !found {
		return CompletionResult{}, &JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: errMsgInvalidParams,
			Data:    map[string]any{"error": fmt.Sprintf("unknown completion reference: %+v", params.Ref)},
		}
	}
	return spec.Complete(ctx, s.exchange(ss), params)
}

func (s *Server) handleLoggingSetLevel(_ context.Context, ss *serverSession, params LogParams) (any, error) {
	ss.logMu.Lock()
	ss.logLevel = params.Level
	ss.logMu.Unlock()
	return nil, nil
}

func (s *Server) exchange(ss *serverSession) *ServerExchange {
	return &ServerExchange{srv: s, ss: ss}
}

func (s *Server) notifyListChanged(declared bool, method string) {
	if !declared {
		return
	}
	for _, ss := range s.snapshotSessions() {
		if !ss.sess.Ready() {
			continue
		}
		s.notifySession(ss, method, nil)
	}
}

func (s *Server) notifySession(ss *serverSession, method string, params any) {
	ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
	defer cancel()

	if err := ss.sess.Notify(ctx, method, params); err != nil {
		s.logger.Warn("failed to send notification",
			slog.String("sessionID", ss.id),
			slog.String("method", method),
			slog.String("err", err.Error()))
	}
}

func (s *Server) snapshotSessions() []*serverSession {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	sessions := make([]*serverSession, 0, len(s.sessions))
	for _, ss := range s.sessions {
		sessions = append(sessions, ss)
	}
	return sessions
}

func (ss *serverSession) info() Info {
	ss.clientMu.RLock()
	defer ss.clientMu.RUnlock()
	return ss.clientInfo
}

func (ss *serverSession) capabilities() ClientCapabilities {
	ss.clientMu.RLock()
	defer ss.clientMu.RUnlock()
	return ss.clientCapabilities
}

func (ss *serverSession) subscribed(uri string) bool {
	ss.subsMu.Lock()
	defer ss.subsMu.Unlock()
	_, ok := ss.subscriptions[uri]
	return ok
}

func (ss *serverSession) minLogLevel() LogLevel {
	ss.logMu.RLock()
	defer ss.logMu.RUnlock()
	return ss.logLevel
}

// paginate slices one page out of items. The cursor is opaque to clients; only
// the server interprets it.
func paginate[T any](items []T, cursor string, pageSize int) ([]T, string, error) {
	offset := 0
	if cursor != "" {
		decoded, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", &JSONRPCError{
				Code:    jsonRPCInvalidParamsCode,
				Message: errMsgInvalidParams,
				Data:    map[string]any{"error": "invalid cursor"},
			}
		}
		offset = decoded
	}
	if offset >= len(items) {
		return nil, "", nil
	}

	end := offset + pageSize
	if end >= len(items) {
		return items[offset:], "", nil
	}
	return items[offset:end], encodeCursor(end), nil
}

func encodeCursor(offset int) string {
	return base64.URLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeCursor(cursor string) (int, error) {
	bs, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, err
	}
	offset, err := strconv.Atoi(string(bs))
	if err != nil {
		return 0, err
	}
	if offset < 0 {
		return 0, fmt.Errorf("negative cursor offset: %d", offset)
	}
	return offset, nil
}
