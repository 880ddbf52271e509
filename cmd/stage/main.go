// Command stage runs a single pipeline stage process: it loads a stage
// YAML config, connects back to the supervisor that spawned it (unless
// run standalone for local testing), and drives its guest module until
// a source or sink ends.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/grayareahq/wasmpipe/internal/log"
	"github.com/grayareahq/wasmpipe/pipeline"
	"github.com/grayareahq/wasmpipe/stage"
)

func main() {
	if err := run(); err != nil {
		log.Errorf("stage: %v", err)
		os.Exit(1)
	}
}

func run() error {
	var orchestratorCh string
	var debug bool
	flag.StringVar(&orchestratorCh, "orchestrator-ch", "", "rendezvous endpoint the supervisor created for this stage")
	flag.BoolVar(&debug, "debug", os.Getenv("WASMPIPE_DEBUG") == "1", "enable debug logging")
	flag.Parse()
	// The supervisor appends --orchestrator-ch after the config path, and
	// flag.Parse stops at the first positional argument, so whatever
	// follows the config path is parsed as flags too.
	args := flag.Args()
	if len(args) > 1 {
		if err := flag.CommandLine.Parse(args[1:]); err != nil {
			return err
		}
	}

	if debug {
		log.SetDefaultHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	if len(args) < 1 {
		return fmt.Errorf("usage: stage [flags] <stage-config.yaml>")
	}

	cfg, err := pipeline.LoadStageConfig(args[0])
	if err != nil {
		return err
	}
	cfg.Rendezvous = orchestratorCh

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := stage.NewRuntime(cfg, log.GetDefaultLogger())
	return rt.Run(ctx)
}
