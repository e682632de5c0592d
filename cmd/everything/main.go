// Command everything serves the reference everything server over SSE or stdio.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/rs/cors"
	"github.com/spf13/cobra"

	mcp "github.com/contextwire/go-mcp"
	"github.com/contextwire/go-mcp/servers/everything"
)

type config struct {
	Addr        string `env:"EVERYTHING_ADDR,default=:8080"`
	SSEPath     string `env:"EVERYTHING_SSE_PATH,default=/sse"`
	MessagePath string `env:"EVERYTHING_MESSAGE_PATH,default=/messages"`
	LogLevel    string `env:"EVERYTHING_LOG_LEVEL,default=info"`
}

func main() {
	root := &cobra.Command{
		Use:   "everything",
		Short: "Serve the MCP everything test server",
	}
	root.AddCommand(sseCmd(), stdioCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config, *slog.Logger, error) {
	var cfg config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return cfg, nil, fmt.Errorf("failed to decode config: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return cfg, nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	return cfg, logger, nil
}

func sseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sse",
		Short: "Serve over SSE + HTTP POST",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			sseServer := mcp.NewSSEServer(cfg.MessagePath, mcp.WithSSEServerLogger(logger))

			mux := http.NewServeMux()
			mux.Handle(cfg.SSEPath, sseServer.HandleSSE())
			mux.Handle(cfg.MessagePath, sseServer.HandleMessage())

			httpServer := &http.Server{
				Addr:              cfg.Addr,
				Handler:           cors.AllowAll().Handler(mux),
				ReadHeaderTimeout: 10 * time.Second,
			}

			options := everything.NewServer(everything.WithLogger(logger)).Options()
			options = append(options, mcp.WithServerLogger(logger))
			server := mcp.NewServer(mcp.Info{Name: "everything", Version: "1.0.0"}, options...)

			go func() {
				logger.Info("serving", "addr", cfg.Addr, "ssePath", cfg.SSEPath)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("http server failed", "err", err)
				}
			}()
			go server.Serve(cmd.Context(), sseServer)

			waitForSignal()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx, sseServer); err != nil {
				logger.Warn("failed to shutdown MCP server", "err", err)
			}
			return httpServer.Shutdown(ctx)
		},
	}
}

func stdioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Serve over stdin/stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, logger, err := loadConfig()
			if err != nil {
				return err
			}

			transport := mcp.NewStdIO(os.Stdin, os.Stdout, mcp.WithStdIOLogger(logger))

			options := everything.NewServer(everything.WithLogger(logger)).Options()
			options = append(options, mcp.WithServerLogger(logger))
			server := mcp.NewServer(mcp.Info{Name: "everything", Version: "1.0.0"}, options...)

			go server.Serve(cmd.Context(), transport)

			waitForSignal()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(ctx, transport)
		},
	}
}

func waitForSignal() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
}
