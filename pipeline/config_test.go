package pipeline

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadPipelineConfig(t *testing.T) {
	path := writeTemp(t, "pipeline.yaml", `
functions:
  - name: ingest
    config: ingest.yaml
  - name: transform
    config: transform.yaml
`)

	cfg, err := LoadPipelineConfig(path)
	if err != nil {
		t.Fatalf("LoadPipelineConfig: %v", err)
	}
	if len(cfg.Functions) != 2 {
		t.Fatalf("Functions = %d, want 2", len(cfg.Functions))
	}
}

func TestLoadPipelineConfigDuplicateName(t *testing.T) {
	path := writeTemp(t, "pipeline.yaml", `
functions:
  - name: ingest
    config: a.yaml
  - name: ingest
    config: b.yaml
`)

	if _, err := LoadPipelineConfig(path); err == nil {
		t.Fatalf("LoadPipelineConfig: expected error for duplicate name")
	}
}

func TestStageConfigValidateRequiresStreamForInput(t *testing.T) {
	cfg := StageConfig{
		Name:   "ingest",
		Kind:   KindInput,
		Module: ModuleRef{Path: "ingest.wasm"},
		Output: &OutputConfig{Topics: []string{"frames"}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate: expected error for input stage without stream config")
	}

	cfg.Stream = &StreamConfig{Websocket: WebsocketConfig{URL: "wss://example.test/stream"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestStageConfigValidateProcessorWithoutOutputIsValid(t *testing.T) {
	cfg := StageConfig{
		Name:   "sink",
		Kind:   KindProcessor,
		Module: ModuleRef{Path: "sink.wasm"},
		Input:  &InputConfig{Topic: "frames"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: processor with no output should be valid: %v", err)
	}
}

func TestStageConfigValidateProcessorRequiresInput(t *testing.T) {
	cfg := StageConfig{
		Name:   "sink",
		Kind:   KindProcessor,
		Module: ModuleRef{Path: "sink.wasm"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate: expected error for processor stage without input.topic")
	}
}

func TestStageConfigValidateUnknownKind(t *testing.T) {
	cfg := StageConfig{
		Name:   "mystery",
		Kind:   "bogus",
		Module: ModuleRef{Path: "x.wasm"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate: expected error for unknown kind")
	}
}

func TestValidateWiringRejectsDanglingInput(t *testing.T) {
	stages := map[string]*StageConfig{
		"transform": {Name: "transform", Kind: KindProcessor, Input: &InputConfig{Topic: "frames"}},
	}
	if err := ValidateWiring(stages); err == nil {
		t.Fatalf("ValidateWiring: expected error for input topic with no producer")
	}
}

func TestValidateWiringRejectsUnconsumedOutput(t *testing.T) {
	stages := map[string]*StageConfig{
		"ingest": {Name: "ingest", Kind: KindInput, Output: &OutputConfig{Topics: []string{"frames"}}},
	}
	if err := ValidateWiring(stages); err == nil {
		t.Fatalf("ValidateWiring: expected error for output topic with no consumer")
	}
}

func TestValidateWiringAcceptsFullyWiredPipeline(t *testing.T) {
	stages := map[string]*StageConfig{
		"ingest":    {Name: "ingest", Kind: KindInput, Output: &OutputConfig{Topics: []string{"frames"}}},
		"transform": {Name: "transform", Kind: KindProcessor, Input: &InputConfig{Topic: "frames"}},
	}
	if err := ValidateWiring(stages); err != nil {
		t.Fatalf("ValidateWiring: %v", err)
	}
}
