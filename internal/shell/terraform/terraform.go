// Package terraform drives the terraform CLI against a rendered working
// directory.
package terraform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/artpar/quickops/internal/shell/process"
)

// Config holds terraform CLI configuration.
type Config struct {
	// Binary is the terraform executable. Defaults to "terraform".
	Binary string
	// Env is passed to every invocation, e.g. ARM_CLIENT_ID=...
	Env []string
}

// CLI converges infrastructure with terraform.
type CLI struct {
	config Config
	runner process.Runner
	logger *slog.Logger
}

// New creates a CLI.
func New(cfg Config, runner process.Runner, logger *slog.Logger) *CLI {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Binary == "" {
		cfg.Binary = "terraform"
	}
	return &CLI{config: cfg, runner: runner, logger: logger.With("component", "terraform")}
}

// Converge runs init, apply and output in dir using the local state file
// stateFile, and returns the declared outputs as strings. Non-string output
// values are returned as their JSON encoding.
func (t *CLI) Converge(ctx context.Context, dir, stateFile string) (map[string]string, error) {
	steps := [][]string{
		{"init", "-input=false", "-no-color"},
		{"apply", "-auto-approve", "-input=false", "-no-color", "-state=" + stateFile},
	}
	for _, args := range steps {
		t.logger.Info("running terraform", "step", args[0], "dir", dir)
		if _, err := process.Check(ctx, t.runner, t.command(dir, args...)); err != nil {
			return nil, fmt.Errorf("terraform %s: %w", args[0], err)
		}
	}

	out, err := process.Check(ctx, t.runner, t.command(dir, "output", "-json", "-state="+stateFile))
	if err != nil {
		return nil, fmt.Errorf("terraform output: %w", err)
	}
	return ParseOutputs(out)
}

func (t *CLI) command(dir string, args ...string) process.Command {
	return process.Command{Name: t.config.Binary, Args: args, Dir: dir, Env: t.config.Env}
}

// ParseOutputs decodes `terraform output -json`.
//
// Example:
//
//	ParseOutputs([]byte(`{"vm_dns":{"value":"a.example","type":"string"}}`))
//	// map[string]string{"vm_dns": "a.example"}
func ParseOutputs(data []byte) (map[string]string, error) {
	var raw map[string]struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode terraform outputs: %w", err)
	}

	outputs := make(map[string]string, len(raw))
	for name, o := range raw {
		var s string
		if err := json.Unmarshal(o.Value, &s); err == nil {
			outputs[name] = s
			continue
		}
		if string(o.Value) == "null" {
			outputs[name] = ""
			continue
		}
		outputs[name] = string(o.Value)
	}
	return outputs, nil
}
