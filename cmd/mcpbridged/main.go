// Command mcpbridged is the bridge daemon binary: one process per session,
// spawned and supervised by the Bridge Manager, never invoked directly by
// an end user. It mirrors the teacher's cmd/mcp-bridge entrypoint
// (bridge/runner.go's flags.ParseArgs-then-run shape), but reads its
// transport descriptor off disk rather than off argv, since a respawned
// bridge has to recover the exact descriptor a crash lost without the CLI
// resending it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/mcpbridge/mcpbridge/bridge"
	"github.com/mcpbridge/mcpbridge/config"
	"github.com/mcpbridge/mcpbridge/secretstore"
)

type options struct {
	Session string `long:"session" required:"true" description:"session name to serve"`
	Home    string `long:"home" required:"true" description:"bridge home directory"`
}

func main() {
	var opts options
	if _, err := flags.ParseArgs(&opts, os.Args[1:]); err != nil {
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))
	log = log.With("session", opts.Session)

	if err := run(opts, log); err != nil {
		log.Error("mcpbridged: exiting", "err", err)
		os.Exit(1)
	}
}

func run(opts options, log *slog.Logger) error {
	paths := config.Paths{Home: opts.Home}

	sess, err := config.LoadSessionDescriptor(paths, opts.Session)
	if err != nil {
		return fmt.Errorf("load descriptor: %w", err)
	}

	secrets := secretstore.New()
	if headers, ok, err := secrets.GetHeaders(sess.Name); err != nil {
		return fmt.Errorf("load headers: %w", err)
	} else if ok {
		sess.Transport.Headers = headers
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, err := bridge.New(ctx, *sess, paths, log)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return b.Run(ctx)
}
