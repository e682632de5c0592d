package mcp_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	mcp "github.com/contextwire/go-mcp"
)

func TestStdIOSendFraming(t *testing.T) {
	reader, writer := io.Pipe()
	stdin, _ := io.Pipe()

	transport := mcp.NewStdIO(stdin, writer)
	if err := transport.Connect(context.Background(),
		func(context.Context, mcp.JSONRPCMessage) {},
		func(error) {},
	); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer transport.Close()

	go func() {
		_ = transport.Send(context.Background(), mcp.JSONRPCMessage{
			JSONRPC: mcp.JSONRPCVersion,
			ID:      mcp.MustString("1"),
			Method:  "ping",
		})
	}()

	line, err := bufio.NewReader(reader).ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read line: %v", err)
	}

	var msg mcp.JSONRPCMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		t.Fatalf("line is not a JSON envelope: %v", err)
	}
	if msg.Method != "ping" || string(msg.ID) != "1" {
		t.Errorf("unexpected envelope: %+v", msg)
	}
}

func TestStdIOReceive(t *testing.T) {
	reader, writer := io.Pipe()

	transport := mcp.NewStdIO(reader, io.Discard)
	received := make(chan mcp.JSONRPCMessage, 4)
	if err := transport.Connect(context.Background(),
		func(_ context.Context, msg mcp.JSONRPCMessage) { received <- msg },
		func(error) {},
	); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer transport.Close()

	go func() {
		// Blank lines and malformed payloads must be skipped, not fatal.
		_, _ = writer.Write([]byte("\n"))
		_, _ = writer.Write([]byte("not json\n"))
		_, _ = writer.Write([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n"))
	}()

	select {
	case msg := <-received:
		if msg.Method != "notifications/initialized" {
			t.Errorf("got method %q, want %q", msg.Method, "notifications/initialized")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message never delivered")
	}
}

func TestStdIOCloseEndsConnection(t *testing.T) {
	reader, _ := io.Pipe()

	transport := mcp.NewStdIO(reader, io.Discard)
	closed := make(chan error, 1)
	if err := transport.Connect(context.Background(),
		func(context.Context, mcp.JSONRPCMessage) {},
		func(err error) { closed <- err },
	); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	if err := transport.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("graceful close reported error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("closed callback never invoked")
	}

	err := transport.Send(context.Background(), mcp.JSONRPCMessage{
		JSONRPC: mcp.JSONRPCVersion,
		Method:  "ping",
		ID:      mcp.MustString("1"),
	})
	if err == nil {
		t.Fatal("send after close succeeded")
	}
}

func TestStdIOEOFReportsGracefulClose(t *testing.T) {
	reader, writer := io.Pipe()

	transport := mcp.NewStdIO(reader, io.Discard)
	closed := make(chan error, 1)
	if err := transport.Connect(context.Background(),
		func(context.Context, mcp.JSONRPCMessage) {},
		func(err error) { closed <- err },
	); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	_ = writer.CloseWithError(io.EOF)

	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("EOF should close gracefully, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("closed callback never invoked")
	}
}
