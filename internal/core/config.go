package core

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/3cpo-dev/chaindeploy/internal/compose"
	"github.com/3cpo-dev/chaindeploy/internal/inventory/static"
	"github.com/3cpo-dev/chaindeploy/internal/tasks"
)

// Environment variables that override the YAML configuration.
const (
	EnvChainConfigPath = "BIGCHAINDB_CONFIG_PATH"
	EnvNumShards       = "NUM_SHARDS"
	EnvNumReplicas     = "NUM_REPLICAS"
)

// Host key policies for ssh.host_key_policy.
const (
	HostKeyStrict   = "strict"
	HostKeyTOFU     = "tofu"
	HostKeyInsecure = "insecure"
)

type Config struct {
	// Inventory selects where hosts come from: "nodesfile" or "static".
	Inventory     string         `yaml:"inventory"`
	NodesFile     string         `yaml:"nodes_file"`
	Hosts         []static.Entry `yaml:"hosts"`
	EnvInitScript string         `yaml:"env_init_script"`
	RemoteDir     string         `yaml:"remote_dir"`
	Images        []ImageConfig  `yaml:"images"`

	SSH struct {
		KeyDir        string `yaml:"key_dir"`
		KeyFile       string `yaml:"key_file"`
		KnownHosts    string `yaml:"known_hosts"`
		HostKeyPolicy string `yaml:"host_key_policy"`
		// Loaded from secrets.env, never from YAML.
		Password   string `yaml:"-"`
		Passphrase string `yaml:"-"`
	} `yaml:"ssh"`
	Defaults struct {
		User           string `yaml:"user"`
		SSHPort        int    `yaml:"ssh_port"`
		Retries        int    `yaml:"retries"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		Concurrency    int    `yaml:"concurrency"`
	} `yaml:"defaults"`
	Services struct {
		DBImage         string   `yaml:"db_image"`
		DBDataDir       string   `yaml:"db_data_dir"`
		DBConfDir       string   `yaml:"db_conf_dir"`
		DBConfFile      string   `yaml:"db_conf_file"`
		ChainImage      string   `yaml:"chain_image"`
		ChainConfigPath string   `yaml:"chain_config_path"`
		ChainConfigDir  string   `yaml:"chain_config_dir"`
		ChainConfigFile string   `yaml:"chain_config_file"`
		// ServerBind defaults to every interface on probe.api_port.
		ServerBind      string   `yaml:"server_bind"`
		ChainCommands   []string `yaml:"chain_commands"`
		InitCommands    []string `yaml:"init_commands"`
	} `yaml:"services"`
	Init struct {
		Shards   int `yaml:"shards"`
		Replicas int `yaml:"replicas"`
	} `yaml:"init"`
	Probe struct {
		APIPort        int    `yaml:"api_port"`
		APIPath        string `yaml:"api_path"`
		DBPort         int    `yaml:"db_port"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"probe"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Telemetry struct {
		Enabled      bool   `yaml:"enabled"`
		OTLPEndpoint string `yaml:"otlp_endpoint"`
	} `yaml:"telemetry"`
}

// ImageConfig names a docker image and the `docker save` archive holding it.
type ImageConfig struct {
	Name    string `yaml:"name"`
	Archive string `yaml:"archive"`
}

// ConfigError marks problems with operator-supplied configuration or the
// nodes file. The CLI exits 1 on these.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }
func (e *ConfigError) ExitCode() int { return 1 }

func configErrorf(format string, args ...interface{}) error {
	return &ConfigError{Err: fmt.Errorf(format, args...)}
}

// ConfigDir resolves $XDG_CONFIG_HOME/chaindeploy or ~/.config/chaindeploy.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "chaindeploy")
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	dir := ConfigDir()
	settings := compose.DefaultSettings()

	cfg := &Config{
		Inventory: "nodesfile",
		NodesFile: filepath.Join("conf", "blockchain_nodes"),
		RemoteDir: "/opt/chaindeploy/images",
		Images: []ImageConfig{
			{Name: settings.DBImage, Archive: filepath.Join("images", "rethinkdb.tar")},
			{Name: settings.ChainImage, Archive: filepath.Join("images", "unichain.tar")},
		},
	}
	cfg.SSH.KeyDir = filepath.Join(dir, "ssh")
	cfg.SSH.KeyFile = "id_ed25519"
	cfg.SSH.KnownHosts = filepath.Join(dir, "known_hosts")
	cfg.SSH.HostKeyPolicy = HostKeyTOFU
	cfg.Defaults.User = "root"
	cfg.Defaults.SSHPort = 22
	cfg.Defaults.Retries = 2
	cfg.Defaults.TimeoutSeconds = 30
	cfg.Defaults.Concurrency = 1
	cfg.Services.DBImage = settings.DBImage
	cfg.Services.DBDataDir = settings.DBDataDir
	cfg.Services.DBConfDir = settings.DBConfDir
	cfg.Services.DBConfFile = settings.DBConfFile
	cfg.Services.ChainImage = settings.ChainImage
	cfg.Services.ChainConfigPath = settings.ChainConfigPath
	cfg.Services.ChainConfigDir = settings.ChainConfigDir
	cfg.Services.ChainConfigFile = settings.ChainConfigFile
	cfg.Services.ChainCommands = settings.ChainCommands
	cfg.Services.InitCommands = settings.InitCommands
	cfg.Init.Shards = settings.Shards
	cfg.Init.Replicas = settings.Replicas
	cfg.Probe.APIPort = 9984
	cfg.Probe.APIPath = "/uniledger/v1/"
	cfg.Probe.DBPort = 28015
	cfg.Probe.TimeoutSeconds = 5
	cfg.Store.Path = filepath.Join(dir, "history.db")
	return cfg
}

// LoadConfig reads YAML configuration from a path. If path is empty, it resolves
// $XDG_CONFIG_HOME/chaindeploy/config.yaml or ~/.config/chaindeploy/config.yaml and
// falls back to defaults when that file does not exist. Secrets and environment
// overrides are applied last.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		path = filepath.Join(ConfigDir(), "config.yaml")
	}
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return nil, configErrorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, configErrorf("open config: %w", err)
	}

	secrets, err := LoadSecretsEnv("")
	if err != nil {
		return nil, configErrorf("%w", err)
	}
	if v := os.Getenv("SSH_PASSWORD"); v != "" {
		secrets["SSH_PASSWORD"] = v
	}
	if v := os.Getenv("SSH_KEY_PASSPHRASE"); v != "" {
		secrets["SSH_KEY_PASSPHRASE"] = v
	}
	cfg.SSH.Password = secrets["SSH_PASSWORD"]
	cfg.SSH.Passphrase = secrets["SSH_KEY_PASSPHRASE"]

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvChainConfigPath); ok && v != "" {
		c.Services.ChainConfigPath = v
	}
	for _, o := range []struct {
		name string
		dst  *int
	}{{EnvNumShards, &c.Init.Shards}, {EnvNumReplicas, &c.Init.Replicas}} {
		v, ok := lookup(o.name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return configErrorf("%s=%q is not a number", o.name, v)
		}
		*o.dst = n
	}
	return nil
}

// Validate checks invariants that would otherwise surface as remote failures.
func (c *Config) Validate() error {
	if c.Inventory == "nodesfile" && c.NodesFile == "" {
		return configErrorf("nodes_file is required")
	}
	switch c.SSH.HostKeyPolicy {
	case HostKeyStrict, HostKeyTOFU, HostKeyInsecure:
	default:
		return configErrorf("unknown ssh.host_key_policy %q", c.SSH.HostKeyPolicy)
	}
	if c.Init.Shards < 1 {
		return configErrorf("shard count must be at least 1, got %d", c.Init.Shards)
	}
	if c.Init.Replicas < 1 {
		return configErrorf("replica count must be at least 1, got %d", c.Init.Replicas)
	}
	if c.Defaults.SSHPort < 1 || c.Defaults.SSHPort > 65535 {
		return configErrorf("defaults.ssh_port must be in 1..65535, got %d", c.Defaults.SSHPort)
	}
	if c.Defaults.Concurrency < 1 {
		return configErrorf("defaults.concurrency must be at least 1, got %d", c.Defaults.Concurrency)
	}
	for i, img := range c.Images {
		if img.Name == "" || img.Archive == "" {
			return configErrorf("images[%d]: name and archive are required", i)
		}
	}
	return nil
}

// ComposeSettings maps the services section onto the container descriptions.
func (c *Config) ComposeSettings() compose.Settings {
	bind := c.Services.ServerBind
	if bind == "" {
		bind = net.JoinHostPort("0.0.0.0", strconv.Itoa(c.Probe.APIPort))
	}
	return compose.Settings{
		DBImage:         c.Services.DBImage,
		DBDataDir:       c.Services.DBDataDir,
		DBConfDir:       c.Services.DBConfDir,
		DBConfFile:      c.Services.DBConfFile,
		ChainImage:      c.Services.ChainImage,
		ChainConfigPath: c.Services.ChainConfigPath,
		ChainConfigDir:  c.Services.ChainConfigDir,
		ChainConfigFile: c.Services.ChainConfigFile,
		ServerBind:      bind,
		ChainCommands:   c.Services.ChainCommands,
		Shards:          c.Init.Shards,
		Replicas:        c.Init.Replicas,
		InitCommands:    c.Services.InitCommands,
	}
}

// Archives lists the image archives to push.
func (c *Config) Archives() []tasks.Archive {
	out := make([]tasks.Archive, 0, len(c.Images))
	for _, img := range c.Images {
		out = append(out, tasks.Archive{Image: img.Name, Path: img.Archive})
	}
	return out
}

// ImageNames lists every image the deployment owns.
func (c *Config) ImageNames() []string {
	seen := map[string]bool{}
	var names []string
	add := func(n string) {
		if n != "" && !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	add(c.Services.DBImage)
	add(c.Services.ChainImage)
	for _, img := range c.Images {
		add(img.Name)
	}
	return names
}

// KeyPath is the private key used for SSH.
func (c *Config) KeyPath() string {
	if filepath.IsAbs(c.SSH.KeyFile) {
		return c.SSH.KeyFile
	}
	return filepath.Join(c.SSH.KeyDir, c.SSH.KeyFile)
}
