package mcp

import (
	"bufio"
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
)

// StdIO is a transport over an io.Reader/io.Writer pair carrying one JSON-RPC
// envelope per line, as used for subprocess servers speaking over stdin/stdout.
// It serves as both Transport and ServerTransport; the server side carries a
// single persistent connection.
//
// Instances should be created using NewStdIO and released with Close.
type StdIO struct {
	reader io.Reader
	writer io.Writer
	logger *slog.Logger
	codec  Codec

	writeMsgs chan stdIOWrite

	handler  MessageHandler
	closedFn func(error)

	done        chan struct{}
	closeOnce   sync.Once
	closeErr    error
	readClosed  chan struct{}
	writeClosed chan struct{}
}

// StdIOOption represents the options for the StdIO transport.
type StdIOOption func(*StdIO)

type stdIOWrite struct {
	msg  []byte
	errs chan error
}

// NewStdIO creates a new StdIO transport over the provided reader and writer.
func NewStdIO(reader io.Reader, writer io.Writer, options ...StdIOOption) *StdIO {
	s := &StdIO{
		reader:      reader,
		writer:      writer,
		logger:      slog.Default(),
		writeMsgs:   make(chan stdIOWrite),
		done:        make(chan struct{}),
		readClosed:  make(chan struct{}),
		writeClosed: make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// WithStdIOCodec sets the codec instance used for envelope encoding.
func WithStdIOCodec(codec Codec) StdIOOption {
	return func(s *StdIO) {
		s.codec = codec
	}
}

// WithStdIOLogger sets the logger for the transport.
func WithStdIOLogger(logger *slog.Logger) StdIOOption {
	return func(s *StdIO) {
		s.logger = logger.With(
			slog.String("package", "go-mcp"),
			slog.String("component", "stdio"),
		)
	}
}

// Connect implements Transport. It starts the read and write loops; inbound
// lines are decoded and delivered to handler in wire order.
func (s *StdIO) Connect(ctx context.Context, handler MessageHandler, closed func(error)) error {
	s.handler = handler
	s.closedFn = closed

	go s.processWrites()
	go s.processReads(ctx)

	return nil
}

// Send implements Transport by writing one newline-terminated envelope.
// Concurrent sends are serialized through the write queue.
func (s *StdIO) Send(ctx context.Context, msg JSONRPCMessage) error {
	msgBs, err := s.codec.Encode(msg)
	if err != nil {
		return err
	}
	// Newline framing delimits envelopes on the stream.
	msgBs = append(msgBs, '\n')

	write := stdIOWrite{
		msg:  msgBs,
		errs: make(chan error, 1),
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrTransportClosed
	case s.writeMsgs <- write:
	}

	select {
	case err := <-write.errs:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrTransportClosed
	}
}

// Close implements Transport by closing both directions.
func (s *StdIO) Close() error {
	s.closeWith(nil)
	return nil
}

// Connections implements ServerTransport by yielding the single persistent
// connection and blocking until it ends.
func (s *StdIO) Connections() iter.Seq[Transport] {
	return func(yield func(Transport) bool) {
		if !yield(s) {
			return
		}
		<-s.done
	}
}

// Shutdown implements ServerTransport.
func (s *StdIO) Shutdown(ctx context.Context) error {
	s.closeWith(nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.writeClosed:
	}
	return nil
}

func (s *StdIO) closeWith(err error) {
	s.closeOnce.Do(func() {
		s.closeErr = err
		close(s.done)
		if s.closedFn != nil {
			s.closedFn(err)
		}
	})
}

func (s *StdIO) processReads(ctx context.Context) {
	defer close(s.readClosed)

	// bufio.Reader instead of bufio.Scanner avoids max token size errors.
	reader := bufio.NewReader(s.reader)
	for {
		type lineWithErr struct {
			line string
			err  error
		}

		lines := make(chan lineWithErr, 1)

		// The blocking read runs on its own goroutine so the loop can observe
		// the done channel while a slow reader is stalled.
		go func() {
			line, err := reader.ReadString('\n')
			if err != nil {
				lines <- lineWithErr{err: err}
				return
			}
			lines <- lineWithErr{line: strings.TrimSuffix(line, "\n")}
		}()

		var lwe lineWithErr
		select {
		case <-s.done:
			return
		case lwe = <-lines:
		}

		if lwe.err != nil {
			if errors.Is(lwe.err, io.EOF) {
				s.closeWith(nil)
				return
			}
			s.logger.Error("failed to read message", "err", lwe.err)
			s.closeWith(lwe.err)
			return
		}

		if lwe.line == "" {
			continue
		}

		msg, err := s.codec.Decode([]byte(lwe.line))
		if err != nil {
			s.logger.Error("failed to decode message", "err", err)
			continue
		}

		s.handler(ctx, msg)
	}
}

func (s *StdIO) processWrites() {
	defer close(s.writeClosed)

	for {
		var write stdIOWrite
		select {
		case <-s.done:
			return
		case write = <-s.writeMsgs:
		}

		_, err := s.writer.Write(write.msg)
		write.errs <- err
	}
}
