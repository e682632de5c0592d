package mcp

import (
	"context"
	"iter"
)

// MessageHandler consumes one inbound envelope. The transport invokes it in wire
// order from its read loop, so implementations must hand blocking work off to
// another goroutine rather than stall the reader.
type MessageHandler func(ctx context.Context, msg JSONRPCMessage)

// Transport moves opaque JSON-RPC envelopes in both directions over a single
// logical channel. A Session drives exactly one Transport.
type Transport interface {
	// Connect opens the channel. Every inbound envelope is passed to handler in
	// wire order. When the channel terminates, closed is invoked exactly once,
	// with a nil error for a graceful shutdown and a non-nil error otherwise.
	Connect(ctx context.Context, handler MessageHandler, closed func(error)) error

	// Send delivers one envelope, completing when the bytes are flushed to the
	// wire. Concurrent sends are serialized by the transport; envelopes are
	// never reordered. After Close, Send fails with ErrTransportClosed.
	Send(ctx context.Context, msg JSONRPCMessage) error

	// Close begins graceful shutdown. It is safe to call more than once.
	Close() error
}

// ServerTransport accepts client connections and hands each one over as a
// Transport of its own.
type ServerTransport interface {
	// Connections returns an iterator that yields one Transport per connecting
	// client. The iteration ends when Shutdown is called.
	Connections() iter.Seq[Transport]

	// Shutdown gracefully shuts down the transport. The caller is responsible
	// for closing the individual Transports it obtained from Connections.
	Shutdown(ctx context.Context) error
}
