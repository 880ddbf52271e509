// Command supervisor loads a pipeline YAML config, spawns one stage
// process per declared function, rendezvouses with each of them, wires
// their declared input/output topics into a route table, and runs the
// pipeline until a stage, a route, or a log stream ends.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/grayareahq/wasmpipe/internal/log"
	"github.com/grayareahq/wasmpipe/pipeline"
	"github.com/grayareahq/wasmpipe/supervisor"
)

func main() {
	if err := run(); err != nil {
		log.Errorf("supervisor: %v", err)
		os.Exit(1)
	}
}

func run() error {
	var debug bool
	var stageBin string
	flag.BoolVar(&debug, "debug", false, "enable debug logging and pass WASMPIPE_DEBUG=1 to stages")
	flag.StringVar(&stageBin, "stage-bin", "", "path to the stage binary (defaults to $WASMPIPE_DEV_STAGE_CMD or a sibling 'stage' binary)")
	flag.Parse()

	if debug {
		log.SetDefaultHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	if flag.NArg() < 1 {
		return fmt.Errorf("usage: supervisor [flags] <pipeline.yaml>")
	}

	pipelineDir := filepath.Dir(flag.Arg(0))
	pipelineCfg, err := pipeline.LoadPipelineConfig(flag.Arg(0))
	if err != nil {
		return err
	}

	if stageBin == "" {
		stageBin = devStageCommand()
	}

	stageConfigs := make(map[string]*pipeline.StageConfig, len(pipelineCfg.Functions))
	cfgPaths := make(map[string]string, len(pipelineCfg.Functions))
	for _, fn := range pipelineCfg.Functions {
		cfgPath := fn.Config
		if !filepath.IsAbs(cfgPath) {
			cfgPath = filepath.Join(pipelineDir, cfgPath)
		}
		stageCfg, err := pipeline.LoadStageConfig(cfgPath)
		if err != nil {
			return err
		}
		if stageCfg.Name != fn.Name {
			return &pipeline.KindError{Kind: pipeline.ConfigInvalid, Stage: fn.Name, Cause: fmt.Errorf("stage config %s names stage %q", cfgPath, stageCfg.Name)}
		}
		stageConfigs[fn.Name] = stageCfg
		cfgPaths[fn.Name] = cfgPath
	}

	// Invariant 2 (every topic's producer/consumer wiring) is checked
	// once every stage config is loaded, before any child is spawned.
	if err := pipeline.ValidateWiring(stageConfigs); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New(
		supervisor.WithLogger(log.GetDefaultLogger()),
		supervisor.WithDebug(debug),
	)

	for _, fn := range pipelineCfg.Functions {
		stageArgv0, stagePrefixArgs := splitCommand(stageBin)
		if err := sup.Start(ctx, fn.Name, stageArgv0, append(stagePrefixArgs, cfgPaths[fn.Name])); err != nil {
			return err
		}
	}

	connected, err := sup.Connect(ctx)
	if err != nil {
		return err
	}

	for name, stageCfg := range stageConfigs {
		if stageCfg.Input == nil || stageCfg.Input.Topic == "" {
			continue
		}
		if err := connected.RouteTopicToStage(stageCfg.Input.Topic, name); err != nil {
			return err
		}
	}

	return connected.Run(ctx)
}

// devStageCommand lets a developer point stages at `go run ./cmd/stage`
// through WASMPIPE_DEV_STAGE_CMD instead of a prebuilt binary, without
// the supervisor needing to know how to build anything itself. The
// override applies whether or not --debug is set; --debug does not
// change the launch command.
func devStageCommand() string {
	if cmd := os.Getenv("WASMPIPE_DEV_STAGE_CMD"); cmd != "" {
		return cmd
	}
	if path, err := exec.LookPath("stage"); err == nil {
		return path
	}
	return "./stage"
}

// splitCommand splits a WASMPIPE_DEV_STAGE_CMD-style string such as
// "go run ./cmd/stage" into its executable and leading arguments, so it
// can be spliced in front of a stage's own config-path argument.
func splitCommand(cmd string) (argv0 string, prefixArgs []string) {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return cmd, nil
	}
	return fields[0], append([]string{}, fields[1:]...)
}
