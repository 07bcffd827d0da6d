package core

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// EnvInitializer prepares the local environment before remote steps run.
type EnvInitializer interface {
	Init(ctx context.Context) error
}

// ScriptInit runs the operator's environment initialization script with the
// deployment settings exported.
type ScriptInit struct {
	Script string
	Shell  string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

func NewScriptInit(cfg *Config) *ScriptInit {
	return &ScriptInit{
		Script: cfg.EnvInitScript,
		Env: []string{
			EnvChainConfigPath + "=" + cfg.Services.ChainConfigPath,
			EnvNumShards + "=" + strconv.Itoa(cfg.Init.Shards),
			EnvNumReplicas + "=" + strconv.Itoa(cfg.Init.Replicas),
			"CHAINDEPLOY_NODES_FILE=" + cfg.NodesFile,
		},
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Init runs the script. An empty Script only logs that the step was
// skipped. A script that exits non-zero returns an error carrying its exit
// status.
func (s *ScriptInit) Init(ctx context.Context) error {
	if s.Script == "" {
		log.Info().Msg("skipping environment initialization: no env_init_script configured")
		return nil
	}
	shell := s.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.CommandContext(ctx, shell, s.Script)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	log.Info().Str("script", s.Script).Msg("initializing environment")
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "env init script %s", s.Script)
	}
	return nil
}
