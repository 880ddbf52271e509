package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StageKind selects the startup behavior of a stage process (spec.md §4.4).
// There are only two kinds; a processor with no output is simply a
// processor whose Output field is absent, not a third kind.
type StageKind string

const (
	KindInput     StageKind = "input"     // stream in, optionally emits to topics
	KindProcessor StageKind = "processor" // bridge input, optionally emits to topics
)

// ModuleRef locates the compiled WebAssembly guest binary for a stage.
type ModuleRef struct {
	Path string `yaml:"path"`
}

// WebsocketConfig names the URL an input-kind stage's stream connects to.
type WebsocketConfig struct {
	URL string `yaml:"url"`
}

// StreamConfig configures the stream source an input-kind stage binds to.
type StreamConfig struct {
	Websocket WebsocketConfig `yaml:"websocket"`
}

// InputConfig names the single topic a stage subscribes to.
type InputConfig struct {
	Topic string `yaml:"topic"`
}

// OutputConfig lists the topics a stage may emit to, indexed by the
// guest's topic_idx argument to send_message_to_topic_idx.
type OutputConfig struct {
	Topics []string `yaml:"topics"`
}

// StageConfig is the YAML document a stage process loads from its
// positional config-path argument (spec.md §6).
type StageConfig struct {
	Name       string        `yaml:"name"`
	Kind       StageKind     `yaml:"kind"`
	Module     ModuleRef     `yaml:"module"`
	Args       []string      `yaml:"args"`
	Stream     *StreamConfig `yaml:"stream,omitempty"`
	Input      *InputConfig  `yaml:"input,omitempty"`
	Output     *OutputConfig `yaml:"output,omitempty"`
	Rendezvous string        `yaml:"-"` // set from --orchestrator-ch, not part of the YAML document
}

// FunctionRef names one stage entry of a pipeline and the config file
// describing it.
type FunctionRef struct {
	Name   string `yaml:"name"`
	Config string `yaml:"config"`
}

// PipelineConfig is the YAML document the supervisor loads (spec.md §6).
type PipelineConfig struct {
	Functions []FunctionRef `yaml:"functions"`
}

// LoadPipelineConfig reads and validates a pipeline YAML file.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &KindError{Kind: ConfigInvalid, Cause: err}
	}

	var cfg PipelineConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, &KindError{Kind: ConfigInvalid, Cause: fmt.Errorf("parsing pipeline config: %w", err)}
	}

	if err := cfg.Validate(); err != nil {
		return nil, &KindError{Kind: ConfigInvalid, Cause: err}
	}

	return &cfg, nil
}

// Validate checks the pipeline document's own shape: every function
// entry names a stage and a config file, and names are unique. It does
// not check Invariant 2 (every topic's producer/consumer wiring) since
// that requires every stage's loaded StageConfig, not just this
// document — see ValidateWiring, called once all of them are loaded.
func (c *PipelineConfig) Validate() error {
	if len(c.Functions) == 0 {
		return fmt.Errorf("pipeline config declares no functions")
	}
	seen := make(map[string]bool, len(c.Functions))
	for i, f := range c.Functions {
		if f.Name == "" {
			return fmt.Errorf("function %d: name is required", i)
		}
		if f.Config == "" {
			return fmt.Errorf("function %q: config path is required", f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("function %q: duplicate name", f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

// LoadStageConfig reads and validates a stage YAML file.
func LoadStageConfig(path string) (*StageConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &KindError{Kind: ConfigInvalid, Cause: err}
	}

	var cfg StageConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, &KindError{Kind: ConfigInvalid, Cause: fmt.Errorf("parsing stage config: %w", err)}
	}

	if err := cfg.Validate(); err != nil {
		return nil, &KindError{Kind: ConfigInvalid, Cause: err}
	}

	return &cfg, nil
}

// Validate enforces spec.md §6's per-kind validation rules: an
// input-kind stage requires a stream.websocket.url (stream implies the
// rendezvous flag is mandatory, checked separately at runtime since it
// depends on the --orchestrator-ch flag, not the YAML document); a
// processor-kind stage requires an input.topic, since it has no other
// source of inbound messages. Output is optional for both kinds: a
// processor with no output is a processor whose guest never calls
// send_message_to_topic_idx, not a separate kind.
func (c *StageConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("stage config: name is required")
	}
	if c.Module.Path == "" {
		return fmt.Errorf("stage %q: module.path is required", c.Name)
	}

	switch c.Kind {
	case KindInput:
		if c.Stream == nil || c.Stream.Websocket.URL == "" {
			return fmt.Errorf("stage %q: kind %q requires stream.websocket.url", c.Name, c.Kind)
		}
	case KindProcessor:
		if c.Input == nil || c.Input.Topic == "" {
			return fmt.Errorf("stage %q: kind %q requires an input.topic", c.Name, c.Kind)
		}
	default:
		return fmt.Errorf("stage %q: unrecognized kind %q", c.Name, c.Kind)
	}
	return nil
}

// ValidateWiring enforces Invariant 2 of spec.md §3 across an entire
// pipeline: every stage's input topic must be produced by some stage's
// output, and every topic a stage produces must be consumed by some
// stage's input. Call it once every function's StageConfig has been
// loaded, before any child process is spawned — a dangling or
// unconsumed topic must be rejected at wiring time, not discovered
// reactively the first time a message for it is routed or never
// arrives.
func ValidateWiring(stages map[string]*StageConfig) error {
	produced := make(map[string]bool)
	consumed := make(map[string]bool)
	for _, cfg := range stages {
		if cfg.Output != nil {
			for _, topic := range cfg.Output.Topics {
				produced[topic] = true
			}
		}
		if cfg.Input != nil && cfg.Input.Topic != "" {
			consumed[cfg.Input.Topic] = true
		}
	}

	for name, cfg := range stages {
		if cfg.Input == nil || cfg.Input.Topic == "" {
			continue
		}
		if !produced[cfg.Input.Topic] {
			return &KindError{Kind: ConfigInvalid, Stage: name, Cause: fmt.Errorf("input topic %q has no producer", cfg.Input.Topic)}
		}
	}
	for topic := range produced {
		if !consumed[topic] {
			return &KindError{Kind: ConfigInvalid, Cause: fmt.Errorf("output topic %q has no consumer", topic)}
		}
	}
	return nil
}
