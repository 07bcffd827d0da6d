package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func isolateConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv(EnvChainConfigPath, "")
	t.Setenv(EnvNumShards, "")
	t.Setenv(EnvNumReplicas, "")
	t.Setenv("SSH_PASSWORD", "")
	t.Setenv("SSH_KEY_PASSPHRASE", "")
	return dir
}

func TestLoadConfigDefaultsWhenMissing(t *testing.T) {
	dir := isolateConfig(t)
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Inventory != "nodesfile" || cfg.Defaults.Concurrency != 1 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Store.Path != filepath.Join(dir, "chaindeploy", "history.db") {
		t.Fatalf("store path = %s", cfg.Store.Path)
	}
	if cfg.Probe.APIPort != 9984 || cfg.Probe.DBPort != 28015 {
		t.Fatalf("probe ports = %d/%d", cfg.Probe.APIPort, cfg.Probe.DBPort)
	}
}

func TestLoadConfigExplicitMissingFile(t *testing.T) {
	isolateConfig(t)
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestLoadConfigYAMLAndEnv(t *testing.T) {
	isolateConfig(t)
	path := writeFile(t, t.TempDir(), "config.yaml", `
nodes_file: /etc/chain/blockchain_nodes
env_init_script: ./init_env.sh
defaults:
  user: deploy
  concurrency: 4
images:
  - name: unichain:1.2
    archive: /tmp/unichain.tar
services:
  chain_image: unichain:1.2
init:
  shards: 2
`)
	t.Setenv(EnvNumReplicas, "3")
	t.Setenv(EnvChainConfigPath, "/srv/unichain")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.NodesFile != "/etc/chain/blockchain_nodes" || cfg.Defaults.User != "deploy" || cfg.Defaults.Concurrency != 4 {
		t.Fatalf("yaml not applied: %+v", cfg)
	}
	if cfg.Init.Shards != 2 || cfg.Init.Replicas != 3 {
		t.Fatalf("shards/replicas = %d/%d", cfg.Init.Shards, cfg.Init.Replicas)
	}
	if cfg.Services.ChainConfigPath != "/srv/unichain" {
		t.Fatalf("chain config path = %s", cfg.Services.ChainConfigPath)
	}
	// Unset keys keep their defaults.
	if cfg.Services.DBImage != "rethinkdb:2.3.5" {
		t.Fatalf("db image = %s", cfg.Services.DBImage)
	}
	if len(cfg.Images) != 1 || cfg.Images[0].Name != "unichain:1.2" {
		t.Fatalf("images = %+v", cfg.Images)
	}
	names := cfg.ImageNames()
	if len(names) != 2 || names[0] != "rethinkdb:2.3.5" || names[1] != "unichain:1.2" {
		t.Fatalf("image names = %v", names)
	}
}

func TestLoadConfigRejectsBadEnv(t *testing.T) {
	isolateConfig(t)
	t.Setenv(EnvNumShards, "many")
	_, err := LoadConfig("")
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero shards", func(c *Config) { c.Init.Shards = 0 }},
		{"zero replicas", func(c *Config) { c.Init.Replicas = 0 }},
		{"nodes file without path", func(c *Config) { c.NodesFile = "" }},
		{"ssh port out of range", func(c *Config) { c.Defaults.SSHPort = 70000 }},
		{"unknown host key policy", func(c *Config) { c.SSH.HostKeyPolicy = "maybe" }},
		{"image without archive", func(c *Config) { c.Images = []ImageConfig{{Name: "x"}} }},
		{"zero concurrency", func(c *Config) { c.Defaults.Concurrency = 0 }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestSecretsEnv(t *testing.T) {
	dir := isolateConfig(t)
	if err := os.MkdirAll(filepath.Join(dir, "chaindeploy"), 0700); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "chaindeploy"), "secrets.env", "SSH_PASSWORD=s3cret\nSSH_KEY_PASSPHRASE=\"open sesame\"\n")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.SSH.Password != "s3cret" || cfg.SSH.Passphrase != "open sesame" {
		t.Fatalf("secrets not merged: %q %q", cfg.SSH.Password, cfg.SSH.Passphrase)
	}

	t.Setenv("SSH_PASSWORD", "from-env")
	cfg, err = LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.SSH.Password != "from-env" {
		t.Fatalf("env should win over secrets.env, got %q", cfg.SSH.Password)
	}
}

func TestLoadSecretsEnvMissing(t *testing.T) {
	env, err := LoadSecretsEnv(filepath.Join(t.TempDir(), "secrets.env"))
	if err != nil || len(env) != 0 {
		t.Fatalf("expected empty map, got %v %v", env, err)
	}
}

func TestComposeSettingsServerBind(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Probe.APIPort = 9985
	if got := cfg.ComposeSettings().ServerBind; got != "0.0.0.0:9985" {
		t.Fatalf("derived bind = %s", got)
	}
	cfg.Services.ServerBind = "10.0.0.5:9984"
	if got := cfg.ComposeSettings().ServerBind; got != "10.0.0.5:9984" {
		t.Fatalf("explicit bind = %s", got)
	}
	if got := cfg.ComposeSettings().ChainConfigFile; got != ".unichain" {
		t.Fatalf("config file = %s", got)
	}
}
