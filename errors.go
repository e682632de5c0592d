package mcp

import "errors"

// Session and transport failure modes surfaced to local callers. None of these
// cross the wire: peers only ever see JSONRPCError values, and the only trace a
// peer sees of a cancellation is a single notifications/cancelled.
var (
	// ErrSessionClosed fails every pending request when the session shuts down,
	// and every operation attempted after it.
	ErrSessionClosed = errors.New("session closed")

	// ErrTimeout fails a request whose deadline expired before a response arrived.
	ErrTimeout = errors.New("request timeout")

	// ErrCancelled fails a request whose context was cancelled by the caller.
	ErrCancelled = errors.New("request cancelled")

	// ErrTransportClosed rejects sends on a transport that has begun shutdown.
	ErrTransportClosed = errors.New("transport closed")

	// ErrEndpointUnavailable fails SSE sends when the endpoint event has not
	// arrived within the discovery timeout, or the wait was interrupted. Both
	// causes surface this same error; the log line records which one happened.
	ErrEndpointUnavailable = errors.New("endpoint unavailable")
)
