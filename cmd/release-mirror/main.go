// Command release-mirror copies the latest release of a repository, with its assets,
// to every configured release host.
//
// Exit status is 0 when every destination succeeded, 1 when at least one destination
// failed and 2 when the run could not start (bad configuration, source unreachable).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/input-output-hk/catalyst-forge-libs/mirror"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/config"
	mirrorerrors "github.com/input-output-hk/catalyst-forge-libs/mirror/errors"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/mirrortypes"
)

// Exit codes.
const (
	exitOK          = 0
	exitDestination = 1
	exitFatal       = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("release-mirror", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to mirror.cue (default ./mirror.cue, then $XDG_CONFIG_HOME/release-mirror/mirror.cue, then environment)")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "text", "log format: text or json")
	if err := fs.Parse(args); err != nil {
		return exitFatal
	}

	logger, err := newLogger(stderr, *logLevel, *logFormat)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFatal
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		return exitFatal
	}

	client, err := mirror.NewFromConfig(ctx, cfg,
		mirror.WithLogger(logger),
		mirror.WithProgressWriter(stdout),
	)
	if err != nil {
		logger.Error("failed to set up mirror", "error", err)
		return exitFatal
	}

	result, err := client.Run(ctx)
	if err != nil {
		logger.Error("release mirror failed", "code", string(mirrorerrors.Code(err)), "error", err)
		return exitFatal
	}
	return report(logger, result)
}

func report(logger *slog.Logger, result *mirrortypes.RunResult) int {
	failed := result.Failed()
	logger.Info("release mirror finished",
		"run_id", result.RunID,
		"tag", result.Release.TagName,
		"destinations", len(result.Results),
		"failed", len(failed),
		"duration", result.Duration,
	)
	if len(failed) > 0 {
		return exitDestination
	}
	return exitOK
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid -log-level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, errors.New("invalid -log-format " + format + ": want text or json")
	}
}
