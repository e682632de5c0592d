// Command filesystem serves a root-restricted directory over stdio, the way
// editor integrations launch tool providers as subprocesses.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	mcp "github.com/contextwire/go-mcp"
	"github.com/contextwire/go-mcp/servers/filesystem"
)

func main() {
	cmd := &cobra.Command{
		Use:   "filesystem <root>",
		Short: "Serve a directory tree as MCP tools and resources over stdio",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Stdout carries the protocol; logs must stay on stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	fs, err := filesystem.NewServer(args[0], filesystem.WithLogger(logger))
	if err != nil {
		return err
	}

	transport := mcp.NewStdIO(os.Stdin, os.Stdout, mcp.WithStdIOLogger(logger))

	server := mcp.NewServer(mcp.Info{Name: "filesystem", Version: "1.0.0"},
		mcp.WithToolSpecs(fs.ToolSpecs()...),
		mcp.WithResourceSpecs(fs.ResourceSpecs()...),
		mcp.WithResourceListChanged(),
		mcp.WithResourceSubscriptions(),
		mcp.WithServerLogger(logger),
	)

	watchCtx, cancelWatch := context.WithCancel(cmd.Context())
	defer cancelWatch()
	go func() {
		if err := fs.Watch(watchCtx, server); err != nil && watchCtx.Err() == nil {
			logger.Error("watcher stopped", "err", err)
		}
	}()

	go server.Serve(cmd.Context(), transport)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	cancelWatch()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx, transport)
}
