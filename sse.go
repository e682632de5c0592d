package mcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// SSEClient is the client side of the SSE + HTTP POST transport. Server-to-client
// traffic arrives on a long-lived text/event-stream; client-to-server traffic
// goes out as one HTTP POST per envelope, to an endpoint the server announces at
// runtime through the stream's first event.
//
// The stream carries two event types: a one-shot "endpoint" event whose data is
// the POST URL relative to the base URI, and zero or more "message" events each
// carrying one JSON-RPC envelope. Any other event type is logged and discarded.
//
// Instances should be created using NewSSEClient.
type SSEClient struct {
	httpClient *http.Client
	baseURL    string
	ssePath    string
	logger     *slog.Logger
	codec      Codec

	endpointTimeout time.Duration
	maxPayloadSize  int

	endpointMu  sync.RWMutex
	messageURL  string
	endpointSet chan struct{}

	closing      atomic.Bool
	cancelStream context.CancelFunc
	closedOnce   sync.Once
}

// SSEClientOption represents the options for the SSEClient.
type SSEClientOption func(*SSEClient)

var defaultSSEEndpointTimeout = 10 * time.Second

// NewSSEClient creates an SSE client transport for the server at baseURL. The
// optional httpClient parameter allows custom HTTP client configuration - if
// nil, the default HTTP client is used. The transport is inert until Connect.
func NewSSEClient(baseURL string, httpClient *http.Client, options ...SSEClientOption) *SSEClient {
	cli := httpClient
	if cli == nil {
		cli = http.DefaultClient
	}
	s := &SSEClient{
		httpClient:  cli,
		baseURL:     baseURL,
		ssePath:     "/sse",
		logger:      slog.Default(),
		endpointSet: make(chan struct{}),
	}

	for _, opt := range options {
		opt(s)
	}
	if s.endpointTimeout == 0 {
		s.endpointTimeout = defaultSSEEndpointTimeout
	}

	return s
}

// WithSSEClientPath sets the path of the SSE stream relative to the base URL.
func WithSSEClientPath(path string) SSEClientOption {
	return func(s *SSEClient) {
		s.ssePath = path
	}
}

// WithSSEClientEndpointTimeout sets how long Send waits for the endpoint event
// before failing with ErrEndpointUnavailable.
func WithSSEClientEndpointTimeout(timeout time.Duration) SSEClientOption {
	return func(s *SSEClient) {
		s.endpointTimeout = timeout
	}
}

// WithSSEClientMaxPayloadSize sets the maximum size of a single event payload
// received from the server. Larger events terminate the stream.
func WithSSEClientMaxPayloadSize(size int) SSEClientOption {
	return func(s *SSEClient) {
		s.maxPayloadSize = size
	}
}

// WithSSEClientCodec sets the codec instance used for envelope encoding.
func WithSSEClientCodec(codec Codec) SSEClientOption {
	return func(s *SSEClient) {
		s.codec = codec
	}
}

// WithSSEClientLogger sets the logger for the SSE client.
func WithSSEClientLogger(logger *slog.Logger) SSEClientOption {
	return func(s *SSEClient) {
		s.logger = logger.With(
			slog.String("package", "go-mcp"),
			slog.String("component", "sse-client"),
		)
	}
}

// Connect opens the event stream and begins delivering inbound envelopes to
// handler. The endpoint for outbound POSTs is discovered asynchronously; Send
// blocks on that discovery.
func (s *SSEClient) Connect(ctx context.Context, handler MessageHandler, closed func(error)) error {
	connectURL, err := url.JoinPath(s.baseURL, s.ssePath)
	if err != nil {
		return fmt.Errorf("failed to build SSE URL: %w", err)
	}

	// The stream outlives Connect's context; it is torn down by Close.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelStream = cancel

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, connectURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to connect to SSE server: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	go s.listenEvents(streamCtx, resp.Body, handler, closed)

	return nil
}

// Send delivers one envelope to the discovered endpoint via HTTP POST. It waits
// for endpoint discovery up to the configured timeout; on timeout or
// interruption it fails with ErrEndpointUnavailable.
func (s *SSEClient) Send(ctx context.Context, msg JSONRPCMessage) error {
	if s.closing.Load() {
		return ErrTransportClosed
	}

	timer := time.NewTimer(s.endpointTimeout)
	defer timer.Stop()

	select {
	case <-s.endpointSet:
	case <-timer.C:
		// Timeout and interruption surface the same error; only the logs
		// tell them apart.
		s.logger.Error("endpoint discovery timed out", slog.Duration("timeout", s.endpointTimeout))
		return ErrEndpointUnavailable
	case <-ctx.Done():
		s.logger.Error("interrupted while waiting for endpoint", slog.String("err", ctx.Err().Error()))
		return ErrEndpointUnavailable
	}

	s.endpointMu.RLock()
	messageURL := s.messageURL
	s.endpointMu.RUnlock()

	msgBs, err := s.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, messageURL, bytes.NewReader(msgBs))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// Close begins shutdown: further handler invocations are suppressed, the event
// stream subscription is cancelled, and subsequent sends are rejected.
func (s *SSEClient) Close() error {
	s.closing.Store(true)
	if s.cancelStream != nil {
		s.cancelStream()
	}
	return nil
}

func (s *SSEClient) listenEvents(ctx context.Context, body io.ReadCloser, handler MessageHandler, closed func(error)) {
	defer body.Close()

	finish := func(err error) {
		s.closedOnce.Do(func() {
			if closed != nil {
				closed(err)
			}
		})
	}

	var config *sse.ReadConfig
	if s.maxPayloadSize > 0 {
		config = &sse.ReadConfig{
			MaxEventSize: s.maxPayloadSize,
		}
	}

	for ev, err := range sse.Read(body, config) {
		if err != nil {
			if s.closing.Load() || errors.Is(err, context.Canceled) {
				finish(nil)
				return
			}
			s.logger.Error("failed to read SSE stream", "err", err)
			finish(err)
			return
		}

		switch ev.Type {
		case "endpoint":
			// The endpoint URL is resolved against the base URL so relative
			// data like "/messages?sessionID=x" lands on the right host.
			base, err := url.Parse(s.baseURL)
			if err != nil {
				finish(fmt.Errorf("parse base URL: %w", err))
				return
			}
			ref, err := url.Parse(ev.Data)
			if err != nil {
				finish(fmt.Errorf("parse endpoint URL: %w", err))
				return
			}
			resolved := base.ResolveReference(ref).String()
			if resolved == "" {
				finish(errors.New("empty endpoint URL"))
				return
			}

			s.endpointMu.Lock()
			first := s.messageURL == ""
			s.messageURL = resolved
			s.endpointMu.Unlock()
			if first {
				close(s.endpointSet)
			}
		case "message", "":
			if !s.endpointDiscovered() {
				s.logger.Error("received message before endpoint event")
				continue
			}
			if s.closing.Load() {
				continue
			}

			msg, err := s.codec.Decode([]byte(ev.Data))
			if err != nil {
				s.logger.Error("failed to decode message", "err", err)
				continue
			}
			handler(ctx, msg)
		default:
			s.logger.Warn("discarding unhandled event type", "type", ev.Type)
		}
	}

	finish(nil)
}

func (s *SSEClient) endpointDiscovered() bool {
	select {
	case <-s.endpointSet:
		return true
	default:
		return false
	}
}

// SSEServer is the server side of the SSE + HTTP POST transport. It manages one
// event stream per connected client and routes POSTed envelopes back to the
// owning connection by session ID.
//
// The HandleSSE and HandleMessage handlers are framework-agnostic and can be
// mounted on any HTTP mux. Instances should be created using NewSSEServer and
// shut down using Shutdown when no longer needed.
type SSEServer struct {
	messageURL string
	logger     *slog.Logger
	codec      Codec

	connections chan *sseServerConn
	removed     chan string
	received    chan sseConnMessage

	done   chan struct{}
	closed chan struct{}
}

// SSEServerOption represents the options for the SSEServer.
type SSEServerOption func(*SSEServer)

type sseConnMessage struct {
	connID string
	msg    JSONRPCMessage
}

type sseConnSendMsg struct {
	msg  *sse.Message
	errs chan<- error
}

// sseServerConn is the per-client Transport an SSEServer hands out through
// Connections.
type sseServerConn struct {
	id     string
	sess   *sse.Session
	logger *slog.Logger
	codec  Codec

	sendMsgs chan sseConnSendMsg
	received chan JSONRPCMessage

	handler  MessageHandler
	closedFn func(error)

	done       chan struct{}
	closeErr   error
	closeOnce  sync.Once
	sendClosed chan struct{}
}

// NewSSEServer creates an SSE server transport whose clients POST their
// messages to messageURL. The returned server is operational immediately;
// mount HandleSSE and HandleMessage and iterate Connections.
func NewSSEServer(messageURL string, options ...SSEServerOption) *SSEServer {
	s := &SSEServer{
		messageURL:  messageURL,
		logger:      slog.Default(),
		connections: make(chan *sseServerConn, 5),
		removed:     make(chan string),
		received:    make(chan sseConnMessage),
		done:        make(chan struct{}),
		closed:      make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// WithSSEServerCodec sets the codec instance used for envelope encoding.
func WithSSEServerCodec(codec Codec) SSEServerOption {
	return func(s *SSEServer) {
		s.codec = codec
	}
}

// WithSSEServerLogger sets the logger for the SSE server.
func WithSSEServerLogger(logger *slog.Logger) SSEServerOption {
	return func(s *SSEServer) {
		s.logger = logger.With(
			slog.String("package", "go-mcp"),
			slog.String("component", "sse-server"),
		)
	}
}

// Connections implements ServerTransport. The iterator yields one Transport per
// connecting client and routes POSTed messages to the owning connection.
func (s *SSEServer) Connections() iter.Seq[Transport] {
	return func(yield func(Transport) bool) {
		defer close(s.closed)

		// All live connections, for routing inbound POSTs by session ID.
		conns := make(map[string]*sseServerConn)

		for {
			select {
			case <-s.done:
				return
			case conn := <-s.connections:
				conns[conn.id] = conn
				if !yield(conn) {
					return
				}
			case connID := <-s.removed:
				delete(conns, connID)
			case received := <-s.received:
				conn, ok := conns[received.connID]
				if !ok {
					// The connection may already be gone; drop the message.
					continue
				}
				select {
				case <-s.done:
					return
				case <-conn.done:
				case conn.received <- received.msg:
				}
			}
		}
	}
}

// Shutdown gracefully shuts down the SSE server. Individual connections are
// closed by their owning sessions; Shutdown stops the accept loop and blocks
// until it exits.
func (s *SSEServer) Shutdown(ctx context.Context) error {
	close(s.done)

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to shutdown SSE server: %w", ctx.Err())
	case <-s.closed:
	}
	return nil
}

// HandleSSE returns an http.Handler for the event stream endpoint. The handler
// upgrades GET requests, assigns a session ID, announces the per-session POST
// endpoint as the first event, and keeps the connection open until either side
// closes it.
func (s *SSEServer) HandleSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			nErr := fmt.Errorf("failed to upgrade session: %w", err)
			s.logger.Error("failed to upgrade session", "err", nErr)
			http.Error(w, nErr.Error(), http.StatusInternalServerError)
			return
		}

		connID := uuid.New().String()

		// The first event tells the client where to POST its messages.
		endpoint := fmt.Sprintf("%s?sessionID=%s", s.messageURL, connID)
		msg := sse.Message{
			Type: sse.Type("endpoint"),
		}
		msg.AppendData(endpoint)
		if err := sess.Send(&msg); err != nil {
			s.logger.Error("failed to write endpoint event", "err", err)
			return
		}
		if err := sess.Flush(); err != nil {
			s.logger.Error("failed to flush endpoint event", "err", err)
			return
		}

		conn := &sseServerConn{
			id:       connID,
			sess:     sess,
			logger:   s.logger,
			codec:    s.codec,
			sendMsgs: make(chan sseConnSendMsg, 5),
			received: make(chan JSONRPCMessage, 5),
			done:     make(chan struct{}),

			sendClosed: make(chan struct{}),
		}
		go conn.processSendMessages()

		select {
		case <-s.done:
			return
		case s.connections <- conn:
		}

		// Keep the HTTP handler alive for as long as the stream lives.
		select {
		case <-conn.done:
		case <-r.Context().Done():
			conn.closeWith(r.Context().Err())
		case <-s.done:
			conn.closeWith(nil)
		}

		select {
		case s.removed <- connID:
		case <-s.done:
		}
	})
}

// HandleMessage returns an http.Handler for the POST endpoint. It expects a
// sessionID query parameter and one JSON-RPC envelope per request body; decoded
// envelopes are routed to the owning connection's handler.
func (s *SSEServer) HandleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		connID := r.URL.Query().Get("sessionID")
		if connID == "" {
			s.logger.Warn("missing sessionID query parameter")
			http.Error(w, "missing sessionID query parameter", http.StatusBadRequest)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.logger.Warn("failed to read message body", slog.String("err", err.Error()))
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		msg, err := s.codec.Decode(body)
		if err != nil {
			s.logger.Warn("failed to decode message", slog.String("err", err.Error()))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		select {
		case <-s.done:
			return
		case s.received <- sseConnMessage{connID: connID, msg: msg}:
		}

		w.WriteHeader(http.StatusAccepted)
	})
}

// Connect implements Transport. Inbound envelopes routed to this connection are
// delivered to handler in wire order on a dedicated goroutine.
func (c *sseServerConn) Connect(ctx context.Context, handler MessageHandler, closed func(error)) error {
	c.handler = handler
	c.closedFn = closed

	go func() {
		for {
			select {
			case <-c.done:
				return
			case msg := <-c.received:
				c.handler(ctx, msg)
			}
		}
	}()

	return nil
}

// Send implements Transport by writing one event to the stream. Writes are
// serialized through the connection's send queue.
func (c *sseServerConn) Send(ctx context.Context, msg JSONRPCMessage) error {
	msgBs, err := c.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	sseMsg := &sse.Message{
		Type: sse.Type("message"),
	}
	sseMsg.AppendData(string(msgBs))

	errs := make(chan error, 1)

	select {
	case c.sendMsgs <- sseConnSendMsg{msg: sseMsg, errs: errs}:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrTransportClosed
	}

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrTransportClosed
	}
}

// Close implements Transport.
func (c *sseServerConn) Close() error {
	c.closeWith(nil)
	return nil
}

func (c *sseServerConn) closeWith(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.done)
		if c.closedFn != nil {
			c.closedFn(err)
		}
	})
}

func (c *sseServerConn) processSendMessages() {
	defer close(c.sendClosed)

	for {
		select {
		case sm := <-c.sendMsgs:
			if err := c.sess.Send(sm.msg); err != nil {
				c.logger.Warn("failed to send message", slog.String("err", err.Error()))
				sm.errs <- err
				continue
			}
			if err := c.sess.Flush(); err != nil {
				c.logger.Warn("failed to flush message", slog.String("err", err.Error()))
				sm.errs <- err
				continue
			}
			sm.errs <- nil
		case <-c.done:
			return
		}
	}
}
