package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MustString is a type that enforces string representation for fields that can be either string or integer
// in the protocol specification, such as request IDs and progress tokens. It handles automatic conversion
// during JSON marshaling/unmarshaling.
type MustString string

// MessageKind identifies which of the three JSON-RPC envelope variants a message is.
type MessageKind int

// The three envelope variants. A message with a method and an ID is a request,
// a method without an ID is a notification, and a result or error is a response.
const (
	KindRequest MessageKind = iota + 1
	KindNotification
	KindResponse
)

// JSONRPCMessage represents a JSON-RPC 2.0 message used for communication in the MCP protocol.
// It is the union of the three envelope variants; Kind reports which one a given message is.
type JSONRPCMessage struct {
	// JSONRPC must always be "2.0" per the JSON-RPC specification
	JSONRPC string `json:"jsonrpc"`
	// ID uniquely identifies request-response pairs and must be a string or number
	ID MustString `json:"id,omitempty"`
	// Method contains the RPC method name for requests and notifications
	Method string `json:"method,omitempty"`
	// Params contains the parameters for the method call as a raw JSON message
	Params json.RawMessage `json:"params,omitempty"`
	// Result contains the successful response data as a raw JSON message
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains error details if the request failed
	Error *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents an error response in the JSON-RPC 2.0 protocol.
// It follows the standard error object format defined in the JSON-RPC 2.0 specification.
type JSONRPCError struct {
	// Code indicates the error type that occurred.
	// Must use standard JSON-RPC error codes or custom codes outside the reserved range.
	Code int `json:"code"`

	// Message provides a short description of the error.
	// Should be limited to a concise single sentence.
	Message string `json:"message"`

	// Data contains additional information about the error.
	// The value is unstructured and may be omitted.
	Data map[string]any `json:"data,omitempty"`
}

// Codec translates between wire bytes and JSONRPCMessage envelopes. The zero value
// is ready to use; a single instance is shared by the session and its transport
// through construction options rather than through package state.
type Codec struct{}

// Kind reports the envelope variant of the message, discriminating on field
// presence: method with an ID means request, method alone means notification,
// and a result or error means response. Anything else is unparseable.
func (m JSONRPCMessage) Kind() (MessageKind, error) {
	switch {
	case m.Method != "" && m.ID != "":
		return KindRequest, nil
	case m.Method != "":
		return KindNotification, nil
	case m.Result != nil || m.Error != nil:
		return KindResponse, nil
	default:
		return 0, errors.New("unparseable envelope")
	}
}

// Encode serializes an envelope for the wire. Unset optional fields are omitted
// from the output.
func (Codec) Encode(msg JSONRPCMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode parses a single top-level JSON object into an envelope. Malformed JSON
// yields a parse error (-32700), and an object that matches none of the three
// variants, or carries the wrong protocol version, yields an invalid request
// error (-32600). Unknown fields are ignored for forward compatibility.
func (Codec) Decode(data []byte) (JSONRPCMessage, error) {
	var msg JSONRPCMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return JSONRPCMessage{}, &JSONRPCError{
			Code:    jsonRPCParseErrorCode,
			Message: errMsgParseError,
			Data:    map[string]any{"error": err.Error()},
		}
	}

	if msg.JSONRPC != JSONRPCVersion {
		return JSONRPCMessage{}, &JSONRPCError{
			Code:    jsonRPCInvalidRequestCode,
			Message: errMsgInvalidRequest,
			Data:    map[string]any{"error": fmt.Sprintf("unsupported jsonrpc version: %q", msg.JSONRPC)},
		}
	}

	if _, err := msg.Kind(); err != nil {
		return JSONRPCMessage{}, &JSONRPCError{
			Code:    jsonRPCInvalidRequestCode,
			Message: errMsgInvalidRequest,
			Data:    map[string]any{"error": err.Error()},
		}
	}

	return msg, nil
}

// EncodeValue marshals a params or result payload into its raw wire form.
// A nil value encodes to an absent payload.
func (Codec) EncodeValue(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	bs, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return bs, nil
}

// DecodeResult converts a previously parsed raw result into a typed value. It is
// used after response correlation, once the session knows which result shape the
// caller expects. An empty result leaves v untouched.
func (Codec) DecodeResult(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler to convert JSON data into MustString,
// handling both string and numeric input formats.
func (m *MustString) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch v := v.(type) {
	case string:
		*m = MustString(v)
	case float64:
		*m = MustString(fmt.Sprintf("%d", int(v)))
	case int:
		*m = MustString(fmt.Sprintf("%d", v))
	default:
		return fmt.Errorf("invalid type: %T", v)
	}

	return nil
}

// MarshalJSON implements json.Marshaler to convert MustString into its JSON representation,
// always encoding as a string value.
func (m MustString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(m))
}

func (j JSONRPCError) Error() string {
	return fmt.Sprintf("request error, code: %d, message: %s, data %v", j.Code, j.Message, j.Data)
}
