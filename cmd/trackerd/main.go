// Package main runs trackerd, the filesystem indexing daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	flag "github.com/spf13/pflag"

	"trackerd/internal/daemon"
)

func main() {
	os.Exit(run(os.Args, os.Environ(), os.Stderr))
}

func run(args []string, environ []string, errOut *os.File) int {
	flags := flag.NewFlagSet("trackerd", flag.ContinueOnError)
	dbPath := flags.String("db", defaultDBPath(), "path to the SQLite store")
	socketPath := flags.String("socket", defaultSocketPath(), "path to the control socket")
	extractorPath := flags.String("extractor", "/usr/libexec/trackerd-extract", "path to the metadata extractor binary")
	metricsAddr := flags.String("metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")

	if err := flags.Parse(args[1:]); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(ctx, daemon.Options{
		DBPath:        *dbPath,
		SocketPath:    *socketPath,
		Env:           environ,
		ExtractorPath: *extractorPath,
		MetricsAddr:   *metricsAddr,
	})
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	if err := d.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	return 0
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "trackerd.db"
	}

	return filepath.Join(home, ".cache", "trackerd", "meta.db")
}

func defaultSocketPath() string {
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		return filepath.Join(xdg, "trackerd.sock")
	}

	return filepath.Join(os.TempDir(), "trackerd.sock")
}
