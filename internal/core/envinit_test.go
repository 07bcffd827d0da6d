package core

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestScriptInitExportsSettings(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "env.out")
	script := writeFile(t, dir, "init_env.sh", "echo \"$NUM_SHARDS $NUM_REPLICAS $BIGCHAINDB_CONFIG_PATH\" > \""+out+"\"\n")

	cfg := DefaultConfig()
	cfg.EnvInitScript = script
	cfg.Init.Shards = 4
	cfg.Init.Replicas = 2
	cfg.Services.ChainConfigPath = "/srv/unichain"

	s := NewScriptInit(cfg)
	s.Stdout, s.Stderr = &bytes.Buffer{}, &bytes.Buffer{}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("script did not run: %v", err)
	}
	if strings.TrimSpace(string(got)) != "4 2 /srv/unichain" {
		t.Fatalf("unexpected env %q", got)
	}
}

func TestScriptInitFailureKeepsStatus(t *testing.T) {
	script := writeFile(t, t.TempDir(), "init_env.sh", "exit 3\n")
	s := &ScriptInit{Script: script, Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
	err := s.Init(context.Background())
	var coder interface{ ExitCode() int }
	if !errors.As(err, &coder) || coder.ExitCode() != 3 {
		t.Fatalf("expected exit status 3, got %v", err)
	}
}

func TestScriptInitEmptyIsNoop(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf).Level(zerolog.InfoLevel)
	t.Cleanup(func() { log.Logger = prev })

	if err := (&ScriptInit{}).Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"info"`) || !strings.Contains(out, "no env_init_script configured") {
		t.Fatalf("expected an info line for the skipped step, got %q", out)
	}
}
