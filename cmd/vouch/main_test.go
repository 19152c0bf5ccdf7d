package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"vouch/internal/config"
	"vouch/internal/identity"
	"vouch/internal/queue"
	"vouch/internal/testsupport"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataRoot = filepath.Join(base, "data")
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.CheckpointDir = filepath.Join(base, "checkpoints")
	cfgVal.Logging.Format = "json"

	if err := os.MkdirAll(cfgVal.Paths.DataRoot, 0o755); err != nil {
		t.Fatalf("mkdir data root: %v", err)
	}

	encoded, err := toml.Marshal(cfgVal)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(base, "config.toml")
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "vouch") {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestConfigValidateCommand(t *testing.T) {
	configPath := writeTestConfig(t)
	out, err := runCLI(t, "--config", configPath, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestConfigInitCommand(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")
	out, err := runCLI(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "Wrote sample configuration") {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}

	// Second run without --overwrite refuses to clobber.
	if _, err := runCLI(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected error for existing config")
	}
}

func TestConfigShowCommand(t *testing.T) {
	configPath := writeTestConfig(t)
	out, err := runCLI(t, "--config", configPath, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "[schedule]") || !strings.Contains(out, "train_timesteps") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestQueueCommands(t *testing.T) {
	configPath := writeTestConfig(t)
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	store, err := queue.Open(cfg.Paths.StateDir)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	ctx := context.Background()
	item, err := store.NewIdentityRun(ctx, 3, 0)
	if err != nil {
		t.Fatalf("NewIdentityRun: %v", err)
	}
	item.SetFailed("sampler produced non-finite values")
	if err := store.Update(ctx, item); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out, err := runCLI(t, "--config", configPath, "queue", "list")
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	if !strings.Contains(out, "Failed") {
		t.Fatalf("list output missing failed run: %q", out)
	}

	out, err = runCLI(t, "--config", configPath, "queue", "show", "1")
	if err != nil {
		t.Fatalf("queue show: %v", err)
	}
	if !strings.Contains(out, "non-finite") {
		t.Fatalf("show output missing failure reason: %q", out)
	}

	out, err = runCLI(t, "--config", configPath, "queue", "retry")
	if err != nil {
		t.Fatalf("queue retry: %v", err)
	}
	if !strings.Contains(out, "Reset 1 runs") {
		t.Fatalf("unexpected retry output %q", out)
	}

	out, err = runCLI(t, "--config", configPath, "queue", "health")
	if err != nil {
		t.Fatalf("queue health: %v", err)
	}
	if !strings.Contains(out, "Pending: 1") {
		t.Fatalf("unexpected health output %q", out)
	}

	out, err = runCLI(t, "--config", configPath, "queue", "clear")
	if err != nil {
		t.Fatalf("queue clear: %v", err)
	}
	if !strings.Contains(out, "Cleared 1 runs") {
		t.Fatalf("unexpected clear output %q", out)
	}

	out, err = runCLI(t, "--config", configPath, "queue", "list")
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	if !strings.Contains(out, "No runs recorded") {
		t.Fatalf("expected empty queue, got %q", out)
	}
}

func TestTrainAndScoreCommands(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithIdentities(3, 8))
	encoded, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	if err := os.WriteFile(configPath, encoded, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, err := runCLI(t, "--config", configPath, "train", "1")
	if err != nil {
		t.Fatalf("train: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Best val accuracy") {
		t.Fatalf("unexpected train output %q", out)
	}
	if _, err := os.Stat(cfg.CheckpointPath(1)); err != nil {
		t.Fatalf("checkpoint missing: %v", err)
	}

	// Score the identity's own reference images with the fresh checkpoint.
	mapping, err := identity.Discover(cfg.Paths.DataRoot)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	dir, err := mapping.Dir(1)
	if err != nil {
		t.Fatalf("dir: %v", err)
	}
	out, _ = runCLI(t, "--config", configPath, "score", "1", "--dir", dir)
	if !strings.Contains(out, "Scored 8 images") {
		t.Fatalf("unexpected score output %q", out)
	}
}

func TestQueueShowUnknownRun(t *testing.T) {
	configPath := writeTestConfig(t)
	if _, err := runCLI(t, "--config", configPath, "queue", "show", "42"); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestPreflightReportsMissingModels(t *testing.T) {
	configPath := writeTestConfig(t)
	out, err := runCLI(t, "--config", configPath, "preflight")
	if err == nil {
		t.Fatal("expected preflight failure without model artifacts")
	}
	if !strings.Contains(out, "FAILED") {
		t.Fatalf("expected failed checks in output %q", out)
	}
}
