// Package static serves hosts listed directly in the YAML config.
package static

import (
	"context"
	"fmt"

	"github.com/3cpo-dev/chaindeploy/internal/inventory"
)

// Entry mirrors one item of the `hosts` list in config.yaml.
type Entry struct {
	Name     string `yaml:"name"`
	IP       string `yaml:"ip"`
	User     string `yaml:"user"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
}

type Source struct {
	entries     []Entry
	defaultUser string
	defaultPort int
}

// New returns a Source over entries. A defaultPort of 0 means
// inventory.DefaultSSHPort.
func New(entries []Entry, defaultUser string, defaultPort int) *Source {
	if defaultPort == 0 {
		defaultPort = inventory.DefaultSSHPort
	}
	return &Source{entries: entries, defaultUser: defaultUser, defaultPort: defaultPort}
}

func (s *Source) Name() string { return "static" }

func (s *Source) Hosts(ctx context.Context) ([]inventory.Host, error) {
	_ = ctx
	hosts := make([]inventory.Host, 0, len(s.entries))
	for i, e := range s.entries {
		if e.IP == "" {
			return nil, fmt.Errorf("static host %d: ip is required", i+1)
		}
		user := e.User
		if user == "" {
			user = s.defaultUser
		}
		port := e.Port
		if port == 0 {
			port = s.defaultPort
		}
		name := e.Name
		if name == "" {
			name = e.IP
		}
		hosts = append(hosts, inventory.Host{
			Name:     name,
			Addr:     e.IP,
			User:     user,
			Port:     port,
			Password: e.Password,
		})
	}
	return hosts, nil
}
