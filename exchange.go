package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ServerExchange is the per-call handle a server-side handler receives. It
// exposes the calling client's identity and capabilities, lets the handler
// issue requests back to that client, and emits protocol-level log and
// progress notifications over the same session.
type ServerExchange struct {
	srv *Server
	ss  *serverSession
}

// ClientInfo returns the identity the client supplied during the handshake.
func (e *ServerExchange) ClientInfo() Info {
	return e.ss.info()
}

// ClientCapabilities returns the capabilities the client declared during the
// handshake.
func (e *ServerExchange) ClientCapabilities() ClientCapabilities {
	return e.ss.capabilities()
}

// ListRoots asks the client for its root list. It fails locally when the client
// did not declare the roots capability.
func (e *ServerExchange) ListRoots(ctx context.Context) (RootList, error) {
	if e.ss.capabilities().Roots == nil {
		return RootList{}, errors.New("roots not supported by client")
	}
	if !e.ss.sess.Ready() {
		return RootList{}, errors.New("session is not ready")
	}

	raw, err := e.ss.sess.Request(ctx, MethodRootsList, nil)
	if err != nil {
		return RootList{}, err
	}
	var roots RootList
	if err := e.srv.codec.DecodeResult(raw, &roots); err != nil {
		return RootList{}, err
	}
	return roots, nil
}

// CreateSampleMessage delegates a model completion to the client. It fails
// locally when the client did not declare the sampling capability.
func (e *ServerExchange) CreateSampleMessage(ctx context.Context, params SamplingParams) (SamplingResult, error) {
	if e.ss.capabilities().Sampling == nil {
		return SamplingResult{}, errors.New("sampling not supported by client")
	}
	if !e.ss.sess.Ready() {
		return SamplingResult{}, errors.New("session is not ready")
	}

	raw, err := e.ss.sess.Request(ctx, MethodSamplingCreateMessage, params)
	if err != nil {
		return SamplingResult{}, err
	}
	var result SamplingResult
	if err := e.srv.codec.DecodeResult(raw, &result); err != nil {
		return SamplingResult{}, err
	}
	return result, nil
}

// Log emits a notifications/message to the client, provided the server declared
// the logging capability and the level clears the session's threshold set via
// logging/setLevel.
func (e *ServerExchange) Log(ctx context.Context, params LogParams) error {
	if !e.srv.loggingEnabled {
		return errors.New("logging capability not declared")
	}
	if params.Level < e.ss.minLogLevel() {
		return nil
	}
	return e.ss.sess.Notify(ctx, methodNotificationsMessage, params)
}

// Logf is a convenience wrapper around Log for plain text messages.
func (e *ServerExchange) Logf(ctx context.Context, level LogLevel, format string, args ...any) error {
	data, err := json.Marshal(fmt.Sprintf(format, args...))
	if err != nil {
		return err
	}
	return e.Log(ctx, LogParams{
		Level:  level,
		Logger: e.srv.info.Name,
		Data:   data,
	})
}

// ReportProgress emits a notifications/progress for the operation identified by
// the params' progress token.
func (e *ServerExchange) ReportProgress(ctx context.Context, params ProgressParams) error {
	if params.ProgressToken == "" {
		return errors.New("missing progress token")
	}
	return e.ss.sess.Notify(ctx, methodNotificationsProgress, params)
}
