// Package inventory describes the hosts a deployment targets and where the
// list of hosts comes from.
package inventory

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// DefaultSSHPort is used when an entry does not name a port.
const DefaultSSHPort = 22

type Host struct {
	Name     string
	Addr     string
	User     string
	Port     int
	Password string
	// Line is the 1-based line in the nodes file the host came from, 0 otherwise.
	Line int
}

// Address returns host:port suitable for dialing.
func (h Host) Address() string {
	port := h.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(h.Addr, strconv.Itoa(port))
}

func (h Host) String() string {
	return fmt.Sprintf("%s@%s", h.User, h.Address())
}

type Source interface {
	Name() string
	Hosts(ctx context.Context) ([]Host, error)
}
