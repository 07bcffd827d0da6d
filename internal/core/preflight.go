package core

import (
	"context"
	"errors"

	"github.com/3cpo-dev/chaindeploy/internal/inventory"
	"github.com/3cpo-dev/chaindeploy/internal/inventory/nodesfile"
	"github.com/3cpo-dev/chaindeploy/internal/inventory/static"
)

// ErrNoNodes is returned when the inventory lists no hosts.
var ErrNoNodes = errors.New("blockchain_nodes num is 0")

// Preflight checks the inventory before anything touches a host.
type Preflight struct {
	Source inventory.Source
	// Count counts entries without validating them. When nil the source is
	// loaded and its hosts counted.
	Count func() (int, error)
}

// Sources registers every inventory source the config can select.
func Sources(cfg *Config) *inventory.Registry {
	reg := inventory.NewRegistry()
	reg.Register(nodesfile.New(cfg.NodesFile, cfg.Defaults.SSHPort))
	reg.Register(static.New(cfg.Hosts, cfg.Defaults.User, cfg.Defaults.SSHPort))
	return reg
}

// NewPreflight checks the source named by cfg.Inventory.
func NewPreflight(cfg *Config) (Preflight, error) {
	src, err := Sources(cfg).Get(cfg.Inventory)
	if err != nil {
		return Preflight{}, &ConfigError{Err: err}
	}
	p := Preflight{Source: src}
	// The nodes file is counted before it is validated.
	if counter, ok := src.(interface{ Count() (int, error) }); ok {
		p.Count = counter.Count
	}
	return p, nil
}

// CheckCount fails with ErrNoNodes when the inventory is empty.
func (p Preflight) CheckCount(ctx context.Context) (int, error) {
	var (
		n   int
		err error
	)
	if p.Count != nil {
		n, err = p.Count()
	} else {
		var hosts []inventory.Host
		hosts, err = p.Source.Hosts(ctx)
		n = len(hosts)
	}
	if err != nil {
		return 0, &ConfigError{Err: err}
	}
	if n == 0 {
		return 0, &ConfigError{Err: ErrNoNodes}
	}
	return n, nil
}

// Hosts loads and validates the inventory.
func (p Preflight) Hosts(ctx context.Context) ([]inventory.Host, error) {
	hosts, err := p.Source.Hosts(ctx)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	if len(hosts) == 0 {
		return nil, &ConfigError{Err: ErrNoNodes}
	}
	return hosts, nil
}
