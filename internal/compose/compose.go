// Package compose describes the containers run on every blockchain host: the
// database (rdb), the blockchain node (bdb) and the one-time bdb init job.
//
// A Service renders either to a `docker run` argument vector, used by the
// remote tasks, or to a docker-compose document for operators who prefer to
// manage the containers themselves.
package compose

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	NetworkHost   = "host"
	RestartAlways = "always"
)

// Mount is a bind mount of a host directory into the container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

func (m Mount) String() string {
	s := m.Source + ":" + m.Target
	if m.ReadOnly {
		s += ":ro"
	}
	return s
}

type Service struct {
	Name        string
	Image       string
	NetworkMode string
	Restart     string
	Volumes     []Mount
	Environment map[string]string
	// Args is an exec-form command. Commands, when set, are chained with && in
	// a single shell instead.
	Args     []string
	Commands []string
	// OneShot services run in the foreground and are removed when they exit.
	OneShot bool
}

// Command returns the container command, or nil to use the image default.
func (s Service) Command() []string {
	if len(s.Commands) > 0 {
		return []string{"/bin/sh", "-c", strings.Join(s.Commands, " && ")}
	}
	return s.Args
}

// RunArgs renders the `docker run` argument vector for the service.
func (s Service) RunArgs() []string {
	args := []string{"docker", "run"}
	if s.OneShot {
		args = append(args, "--rm")
	} else {
		args = append(args, "-d")
	}
	args = append(args, "--name", s.Name)
	if s.NetworkMode != "" {
		args = append(args, "--network", s.NetworkMode)
	}
	if s.Restart != "" && !s.OneShot {
		args = append(args, "--restart", s.Restart)
	}
	for _, v := range s.Volumes {
		args = append(args, "-v", v.String())
	}
	for _, k := range sortedKeys(s.Environment) {
		args = append(args, "-e", k+"="+s.Environment[k])
	}
	args = append(args, s.Image)
	return append(args, s.Command()...)
}

// HostDirs returns the host side of every bind mount.
func (s Service) HostDirs() []string {
	dirs := make([]string, 0, len(s.Volumes))
	for _, v := range s.Volumes {
		dirs = append(dirs, v.Source)
	}
	return dirs
}

// EnvFile renders the service environment in dotenv format.
func (s Service) EnvFile() (string, error) {
	if len(s.Environment) == 0 {
		return "", nil
	}
	out, err := godotenv.Marshal(s.Environment)
	if err != nil {
		return "", fmt.Errorf("marshal env for %s: %w", s.Name, err)
	}
	return out + "\n", nil
}

func (s Service) envFileName() string { return s.Name + ".env" }

// Settings are the knobs the three services are built from.
type Settings struct {
	DBImage    string
	DBDataDir  string
	DBConfDir  string
	DBConfFile string

	ChainImage string
	// ChainConfigPath is the host directory holding the node config. It is
	// mounted at ChainConfigDir and the config file inside it is
	// ChainConfigFile.
	ChainConfigPath string
	ChainConfigDir  string
	ChainConfigFile string
	// ServerBind is the address the node API listens on. The node binds to
	// localhost when it is unset.
	ServerBind    string
	ChainCommands []string

	Shards       int
	Replicas     int
	InitCommands []string
}

// DefaultSettings match the layout the node images expect.
func DefaultSettings() Settings {
	return Settings{
		DBImage:         "rethinkdb:2.3.5",
		DBDataDir:       "/data/rethinkdb",
		DBConfDir:       "/data/rethinkdb_conf",
		DBConfFile:      "default.conf",
		ChainImage:      "unichain:latest",
		ChainConfigPath: "/data/bigchaindb",
		ChainConfigDir:  "/data",
		ChainConfigFile: ".unichain",
		ServerBind:      "0.0.0.0:9984",
		ChainCommands:   []string{"bigchaindb -y configure", "bigchaindb start"},
		Shards:          1,
		Replicas:        1,
		InitCommands: []string{
			"bigchaindb init",
			"bigchaindb set-shards $NUM_SHARDS",
			"bigchaindb set-replicas $NUM_REPLICAS",
		},
	}
}

const (
	RethinkDBName = "rdb"
	ChainName     = "bdb"
	ChainInitName = "bdb-init"
)

// chainEnv is the environment shared by the node and its init job.
func (s Settings) chainEnv() map[string]string {
	env := map[string]string{
		"BIGCHAINDB_CONFIG_PATH": path.Join(s.ChainConfigDir, s.ChainConfigFile),
	}
	if s.ServerBind != "" {
		env["BIGCHAINDB_SERVER_BIND"] = s.ServerBind
	}
	return env
}

func RethinkDB(s Settings) Service {
	return Service{
		Name:        RethinkDBName,
		Image:       s.DBImage,
		NetworkMode: NetworkHost,
		Restart:     RestartAlways,
		Volumes: []Mount{
			{Source: s.DBDataDir, Target: "/data"},
			{Source: s.DBConfDir, Target: "/etc/rethinkdb"},
		},
		Args: []string{"rethinkdb", "--config-file", "/etc/rethinkdb/" + s.DBConfFile},
	}
}

func BigchainDB(s Settings) Service {
	return Service{
		Name:        ChainName,
		Image:       s.ChainImage,
		NetworkMode: NetworkHost,
		Restart:     RestartAlways,
		Volumes: []Mount{
			{Source: s.ChainConfigPath, Target: s.ChainConfigDir},
		},
		Environment: s.chainEnv(),
		Commands:    s.ChainCommands,
	}
}

func BigchainInit(s Settings) Service {
	env := s.chainEnv()
	env["NUM_SHARDS"] = strconv.Itoa(s.Shards)
	env["NUM_REPLICAS"] = strconv.Itoa(s.Replicas)
	return Service{
		Name:        ChainInitName,
		Image:       s.ChainImage,
		NetworkMode: NetworkHost,
		Volumes: []Mount{
			{Source: s.ChainConfigPath, Target: s.ChainConfigDir},
		},
		Environment: env,
		Commands:    s.InitCommands,
		OneShot:     true,
	}
}

// Project is the full set of services for one host.
type Project struct {
	Services []Service
}

func NewProject(s Settings) Project {
	return Project{Services: []Service{RethinkDB(s), BigchainDB(s), BigchainInit(s)}}
}

// Service looks a service up by name.
func (p Project) Service(name string) (Service, bool) {
	for _, s := range p.Services {
		if s.Name == name {
			return s, true
		}
	}
	return Service{}, false
}

type composeFile struct {
	Version  string                    `yaml:"version"`
	Services map[string]composeService `yaml:"services"`
}

type composeService struct {
	Image         string   `yaml:"image"`
	ContainerName string   `yaml:"container_name"`
	NetworkMode   string   `yaml:"network_mode,omitempty"`
	Restart       string   `yaml:"restart,omitempty"`
	Volumes       []string `yaml:"volumes,omitempty"`
	EnvFile       []string `yaml:"env_file,omitempty"`
	Command       []string `yaml:"command,omitempty"`
	Profiles      []string `yaml:"profiles,omitempty"`
	DependsOn     []string `yaml:"depends_on,omitempty"`
}

// Render produces a docker-compose document. Environments are referenced as
// <service>.env files, see WriteDir. One-shot services sit in the "init"
// profile so a plain `up` does not run them.
func Render(p Project) ([]byte, error) {
	f := composeFile{Version: "2.4", Services: map[string]composeService{}}
	for _, s := range p.Services {
		cs := composeService{
			Image:         s.Image,
			ContainerName: s.Name,
			NetworkMode:   s.NetworkMode,
			Restart:       s.Restart,
			Command:       s.Command(),
		}
		for _, v := range s.Volumes {
			cs.Volumes = append(cs.Volumes, v.String())
		}
		if len(s.Environment) > 0 {
			cs.EnvFile = []string{s.envFileName()}
		}
		if s.OneShot {
			cs.Profiles = []string{"init"}
			if _, ok := p.Service(RethinkDBName); ok {
				cs.DependsOn = []string{RethinkDBName}
			}
		}
		if s.Name == ChainName {
			if _, ok := p.Service(RethinkDBName); ok {
				cs.DependsOn = []string{RethinkDBName}
			}
		}
		f.Services[s.Name] = cs
	}
	out, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal compose file: %w", err)
	}
	return out, nil
}

// WriteDir writes docker-compose.yml and one env file per service into dir.
func WriteDir(dir string, p Project) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	doc, err := Render(p)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "docker-compose.yml")
	if err := os.WriteFile(path, doc, 0644); err != nil {
		return nil, fmt.Errorf("write compose file: %w", err)
	}
	written := []string{path}
	for _, s := range p.Services {
		env, err := s.EnvFile()
		if err != nil {
			return written, err
		}
		if env == "" {
			continue
		}
		envPath := filepath.Join(dir, s.envFileName())
		if err := os.WriteFile(envPath, []byte(env), 0600); err != nil {
			return written, fmt.Errorf("write env file: %w", err)
		}
		written = append(written, envPath)
	}
	return written, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
