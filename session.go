package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RequestHandler services one inbound request. The returned value is marshaled
// into the response result. Returning a *JSONRPCError sends that error to the
// peer verbatim; any other error is mapped to an internal error response.
type RequestHandler func(ctx context.Context, params json.RawMessage) (any, error)

// NotificationHandler consumes one inbound notification. Notifications never
// produce a response; panics are recovered and logged.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

type sessionPhase int

const (
	phaseCreated sessionPhase = iota
	phaseInitializing
	phaseReady
	phaseClosing
	phaseClosed
)

// SessionOption is a function that configures a session.
type SessionOption func(*Session)

// Session multiplexes concurrent requests over a single Transport. It correlates
// outbound requests with inbound responses by id, routes inbound requests to
// registered handlers, fans inbound notifications out to subscribers, and
// enforces the Created, Initializing, Ready, Closing, Closed lifecycle.
//
// Both protocol roles are built on the same Session; the Client and Server types
// differ only in which methods they register as handlers and which they invoke
// as callers.
type Session struct {
	transport      Transport
	codec          Codec
	logger         *slog.Logger
	requestTimeout time.Duration

	// Handler registries are bound before Start and read-only afterwards.
	requestHandlers      map[string]RequestHandler
	notificationHandlers map[string][]NotificationHandler

	// gateUntilReady makes the session answer every request other than
	// initialize and ping with an invalid request error until it reaches
	// Ready. The server role turns this on.
	gateUntilReady bool

	mu      sync.Mutex
	phase   sessionPhase
	pending map[string]chan JSONRPCMessage

	// inflight tracks cancel functions for inbound requests currently being
	// handled, keyed by request id, so notifications/cancelled can reach them.
	inflightMu sync.Mutex
	inflight   map[string]context.CancelFunc

	// lanes serialize notification handler invocations per method, preserving
	// wire order without ever blocking the transport's read path.
	lanesMu sync.Mutex
	lanes   map[string]*notificationLane

	handlerCtx     context.Context
	cancelHandlers context.CancelFunc
}

type notificationLane struct {
	mu      sync.Mutex
	queue   []json.RawMessage
	running bool
}

var defaultSessionRequestTimeout = 30 * time.Second

// NewSession creates a session over the given transport. The session does not
// touch the transport until Start is called; handlers must be registered in
// between construction and Start.
func NewSession(transport Transport, options ...SessionOption) *Session {
	s := &Session{
		transport:            transport,
		logger:               slog.Default(),
		requestHandlers:      make(map[string]RequestHandler),
		notificationHandlers: make(map[string][]NotificationHandler),
		pending:              make(map[string]chan JSONRPCMessage),
		inflight:             make(map[string]context.CancelFunc),
		lanes:                make(map[string]*notificationLane),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.requestTimeout == 0 {
		s.requestTimeout = defaultSessionRequestTimeout
	}
	return s
}

// WithSessionLogger sets the logger for the session.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger.With(
			slog.String("package", "go-mcp"),
			slog.String("component", "session"),
		)
	}
}

// WithSessionCodec sets the codec instance used to encode and decode payloads.
func WithSessionCodec(codec Codec) SessionOption {
	return func(s *Session) {
		s.codec = codec
	}
}

// WithSessionRequestTimeout sets the default deadline applied to Request calls
// whose context carries none.
func WithSessionRequestTimeout(timeout time.Duration) SessionOption {
	return func(s *Session) {
		s.requestTimeout = timeout
	}
}

func withGateUntilReady() SessionOption {
	return func(s *Session) {
		s.gateUntilReady = true
	}
}

// HandleRequest binds a request handler for the given method. Must be called
// before Start; the registries are treated as immutable once the session runs.
func (s *Session) HandleRequest(method string, handler RequestHandler) {
	s.requestHandlers[method] = handler
}

// HandleNotification appends a notification handler for the given method.
// Handlers for the same method observe notifications in wire order.
func (s *Session) HandleNotification(method string, handler NotificationHandler) {
	s.notificationHandlers[method] = append(s.notificationHandlers[method], handler)
}

// Start connects the underlying transport using the session's own inbound
// dispatcher and moves the session from Created to Initializing. The handshake
// that reaches Ready is driven by the role on top.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != phaseCreated {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	s.phase = phaseInitializing
	s.mu.Unlock()

	// Handlers run on a context detached from the caller's: they are cancelled
	// by Close, not by the completion of Start's context.
	s.handlerCtx, s.cancelHandlers = context.WithCancel(context.WithoutCancel(ctx))

	if err := s.transport.Connect(ctx, s.dispatch, s.onTransportClosed); err != nil {
		s.cancelHandlers()
		s.mu.Lock()
		s.phase = phaseClosed
		s.mu.Unlock()
		return fmt.Errorf("failed to connect transport: %w", err)
	}
	return nil
}

// Request sends a request and blocks until the matching response arrives, the
// context expires, or the session closes. The result payload is returned raw;
// decode it with the codec. A peer error response is returned as *JSONRPCError.
//
// On deadline expiry the pending entry is removed, one notifications/cancelled
// is sent, and the caller gets ErrTimeout (ErrCancelled for a plain context
// cancellation). A late response for the abandoned id is logged and dropped.
func (s *Session) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	paramsBs, err := s.codec.EncodeValue(params)
	if err != nil {
		return nil, err
	}

	msgID := uuid.New().String()
	ch := make(chan JSONRPCMessage, 1)

	s.mu.Lock()
	if s.phase == phaseClosing || s.phase == phaseClosed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if _, ok := s.pending[msgID]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("request id %q already in flight", msgID)
	}
	s.pending[msgID] = ch
	s.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok && s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      MustString(msgID),
		Method:  method,
		Params:  paramsBs,
	}
	if err := s.transport.Send(ctx, msg); err != nil {
		s.removePending(msgID)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case res, ok := <-ch:
		if !ok {
			return nil, ErrSessionClosed
		}
		if res.Error != nil {
			return nil, res.Error
		}
		return res.Result, nil
	case <-ctx.Done():
		if s.removePending(msgID) {
			s.notifyCancelled(msgID, ctx.Err())
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ErrCancelled
	}
}

// Notify sends a fire-and-forget notification; it completes when the transport
// flush completes. A Notify issued after a Request on the same goroutine is
// guaranteed to reach the peer after that request.
func (s *Session) Notify(ctx context.Context, method string, params any) error {
	s.mu.Lock()
	closed := s.phase == phaseClosing || s.phase == phaseClosed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	paramsBs, err := s.codec.EncodeValue(params)
	if err != nil {
		return err
	}

	return s.transport.Send(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  paramsBs,
	})
}

// Close transitions the session to Closing, fails every pending request with
// ErrSessionClosed, signals in-flight handlers through their contexts, closes
// the transport, and lands in Closed. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.phase == phaseClosing || s.phase == phaseClosed {
		s.mu.Unlock()
		return nil
	}
	s.phase = phaseClosing
	pending := s.pending
	s.pending = make(map[string]chan JSONRPCMessage)
	s.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	if s.cancelHandlers != nil {
		s.cancelHandlers()
	}

	err := s.transport.Close()

	s.mu.Lock()
	s.phase = phaseClosed
	s.mu.Unlock()
	return err
}

// Ready reports whether the session finished the initialization handshake.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == phaseReady
}

func (s *Session) setReady() {
	s.mu.Lock()
	if s.phase == phaseInitializing {
		s.phase = phaseReady
	}
	s.mu.Unlock()
}

func (s *Session) removePending(msgID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[msgID]; !ok {
		return false
	}
	delete(s.pending, msgID)
	return true
}

func (s *Session) notifyCancelled(msgID string, cause error) {
	reason := userCancelledReason
	if errors.Is(cause, context.DeadlineExceeded) {
		reason = deadlineExceededReason
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
	defer cancel()

	err := s.Notify(ctx, methodNotificationsCancelled, notificationsCancelledParams{
		RequestID: MustString(msgID),
		Reason:    reason,
	})
	if err != nil {
		s.logger.Warn("failed to send cancellation notification",
			slog.String("requestID", msgID), slog.String("err", err.Error()))
	}
}

func (s *Session) onTransportClosed(err error) {
	if err != nil {
		s.logger.Error("transport failed", slog.String("err", err.Error()))
	}
	// The transport runs this callback inside its own shutdown; Close closes the
	// transport again, so it runs on its own goroutine to avoid re-entering it.
	go func() {
		if cErr := s.Close(); cErr != nil {
			s.logger.Warn("failed to close session after transport loss", slog.String("err", cErr.Error()))
		}
	}()
}

// dispatch is the single inbound entry point invoked from the transport's read
// loop. Responses resolve their pending slots synchronously; requests and
// notifications are handed to worker goroutines so the reader never blocks on
// user code.
func (s *Session) dispatch(_ context.Context, msg JSONRPCMessage) {
	kind, err := msg.Kind()
	if err != nil {
		s.logger.Warn("dropping unparseable envelope", slog.String("err", err.Error()))
		return
	}

	switch kind {
	case KindResponse:
		s.dispatchResponse(msg)
	case KindRequest:
		s.dispatchRequest(msg)
	case KindNotification:
		s.dispatchNotification(msg)
	}
}

func (s *Session) dispatchResponse(msg JSONRPCMessage) {
	s.mu.Lock()
	ch, ok := s.pending[string(msg.ID)]
	if ok {
		delete(s.pending, string(msg.ID))
	}
	s.mu.Unlock()

	if !ok {
		// A late response for a cancelled or unknown request.
		s.logger.Debug("dropping response with no pending request", slog.String("id", string(msg.ID)))
		return
	}

	// The channel is buffered, so slot completion never blocks the reader.
	ch <- msg
}

func (s *Session) dispatchRequest(msg JSONRPCMessage) {
	if s.gateUntilReady && !s.Ready() && msg.Method != MethodInitialize && msg.Method != MethodPing {
		s.replyError(msg.ID, &JSONRPCError{
			Code:    jsonRPCInvalidRequestCode,
			Message: errMsgInvalidRequest,
			Data:    map[string]any{"error": "session is not initialized"},
		})
		return
	}

	handler, ok := s.requestHandlers[msg.Method]
	if !ok {
		s.replyError(msg.ID, &JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: errMsgMethodNotFound,
		})
		return
	}

	hCtx, cancel := context.WithCancel(s.handlerCtx)

	s.inflightMu.Lock()
	s.inflight[string(msg.ID)] = cancel
	s.inflightMu.Unlock()

	go func() {
		defer func() {
			s.inflightMu.Lock()
			delete(s.inflight, string(msg.ID))
			s.inflightMu.Unlock()
			cancel()
		}()

		result, err := handler(hCtx, msg.Params)
		if err != nil {
			var rpcErr *JSONRPCError
			if !errors.As(err, &rpcErr) {
				rpcErr = &JSONRPCError{
					Code:    jsonRPCInternalErrorCode,
					Message: errMsgInternalError,
					Data:    map[string]any{"error": err.Error()},
				}
			}
			s.replyError(msg.ID, rpcErr)
			return
		}
		s.replyResult(msg.ID, result)
	}()
}

func (s *Session) dispatchNotification(msg JSONRPCMessage) {
	if msg.Method == methodNotificationsCancelled {
		var params notificationsCancelledParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.logger.Warn("failed to unmarshal cancellation params", slog.String("err", err.Error()))
			return
		}
		s.cancelInflight(string(params.RequestID), params.Reason)
		return
	}

	handlers, ok := s.notificationHandlers[msg.Method]
	if !ok {
		return
	}

	// The initialized notification flips the lifecycle gate; it runs on the
	// read path so a request arriving right behind it observes Ready.
	if msg.Method == methodNotificationsInitialized {
		for _, handler := range handlers {
			s.invokeNotificationHandler(msg.Method, handler, msg.Params)
		}
		return
	}

	s.enqueueNotification(msg.Method, handlers, msg.Params)
}

func (s *Session) cancelInflight(msgID, reason string) {
	s.inflightMu.Lock()
	cancel, ok := s.inflight[msgID]
	if ok {
		delete(s.inflight, msgID)
	}
	s.inflightMu.Unlock()

	if !ok {
		return
	}
	s.logger.Info("cancelled inbound request", slog.String("requestID", msgID), slog.String("reason", reason))
	cancel()
}

func (s *Session) enqueueNotification(method string, handlers []NotificationHandler, params json.RawMessage) {
	s.lanesMu.Lock()
	lane, ok := s.lanes[method]
	if !ok {
		lane = &notificationLane{}
		s.lanes[method] = lane
	}
	s.lanesMu.Unlock()

	lane.mu.Lock()
	lane.queue = append(lane.queue, params)
	spawn := !lane.running
	if spawn {
		lane.running = true
	}
	lane.mu.Unlock()

	if spawn {
		go s.drainLane(method, lane, handlers)
	}
}

func (s *Session) drainLane(method string, lane *notificationLane, handlers []NotificationHandler) {
	for {
		lane.mu.Lock()
		if len(lane.queue) == 0 {
			lane.running = false
			lane.mu.Unlock()
			return
		}
		params := lane.queue[0]
		lane.queue = lane.queue[1:]
		lane.mu.Unlock()

		for _, handler := range handlers {
			s.invokeNotificationHandler(method, handler, params)
		}
	}
}

func (s *Session) invokeNotificationHandler(method string, handler NotificationHandler, params json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("notification handler panicked",
				slog.String("method", method), slog.Any("panic", r))
		}
	}()
	handler(s.handlerCtx, params)
}

func (s *Session) replyResult(id MustString, result any) {
	resBs, err := s.codec.EncodeValue(result)
	if err != nil {
		s.logger.Error("failed to marshal result", slog.String("err", err.Error()))
		s.replyError(id, &JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: errMsgInternalError,
			Data:    map[string]any{"error": err.Error()},
		})
		return
	}
	// A response must carry a result to stay discriminable on the wire.
	if len(resBs) == 0 {
		resBs = json.RawMessage("{}")
	}

	s.reply(JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  resBs,
	})
}

func (s *Session) replyError(id MustString, rpcErr *JSONRPCError) {
	s.reply(JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   rpcErr,
	})
}

func (s *Session) reply(msg JSONRPCMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
	defer cancel()

	if err := s.transport.Send(ctx, msg); err != nil {
		s.logger.Warn("failed to send response",
			slog.String("id", string(msg.ID)), slog.String("err", err.Error()))
	}
}
