package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/alessio/shellescape"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	xssh "golang.org/x/crypto/ssh"

	"github.com/3cpo-dev/chaindeploy/internal/inventory"
	gssh "github.com/3cpo-dev/chaindeploy/internal/ssh"
	"github.com/3cpo-dev/chaindeploy/internal/tasks"
	"github.com/3cpo-dev/chaindeploy/internal/telemetry"
)

// SSHConnector builds Remotes for hosts from the ssh section of the config.
type SSHConnector struct {
	cfg      *Config
	signer   xssh.Signer
	hostKeys xssh.HostKeyCallback
}

// NewSSHConnector loads the private key, if one exists, and the host key
// policy. Hosts without a key must carry a password.
func NewSSHConnector(cfg *Config) (*SSHConnector, error) {
	c := &SSHConnector{cfg: cfg}
	keyPath := cfg.KeyPath()
	if _, err := os.Stat(keyPath); err == nil {
		signer, err := gssh.LoadPrivateKeySigner(keyPath, cfg.SSH.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("load SSH key: %w", err)
		}
		c.signer = signer
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat SSH key: %w", err)
	}

	var err error
	switch cfg.SSH.HostKeyPolicy {
	case HostKeyStrict:
		c.hostKeys, err = gssh.LoadKnownHostsCallback(cfg.SSH.KnownHosts)
	case HostKeyInsecure:
		log.Warn().Msg("host key verification disabled")
		c.hostKeys = xssh.InsecureIgnoreHostKey()
	default:
		c.hostKeys, err = gssh.TrustOnFirstUse(cfg.SSH.KnownHosts)
	}
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	return c, nil
}

// LazySSHConnector defers loading keys and known_hosts until the first host
// is contacted, so inventory problems are reported before SSH ones.
func LazySSHConnector(cfg *Config) Connector {
	var (
		once sync.Once
		c    *SSHConnector
		err  error
	)
	return func(ctx context.Context, host inventory.Host) (tasks.Remote, error) {
		once.Do(func() { c, err = NewSSHConnector(cfg) })
		if err != nil {
			return nil, err
		}
		return c.Connect(ctx, host)
	}
}

// Connect returns a Remote for host. Nothing is dialed until first use.
func (c *SSHConnector) Connect(ctx context.Context, host inventory.Host) (tasks.Remote, error) {
	_ = ctx
	password := host.Password
	if password == "" {
		password = c.cfg.SSH.Password
	}
	if c.signer == nil && password == "" {
		return nil, fmt.Errorf("%s: no SSH key at %s and no password", host, c.cfg.KeyPath())
	}
	user := host.User
	if user == "" {
		user = c.cfg.Defaults.User
	}
	return &sshRemote{
		host: host,
		client: &gssh.Client{
			Addr:       host.Address(),
			User:       user,
			Signer:     c.signer,
			Password:   password,
			KnownHosts: c.hostKeys,
			Timeout:    time.Duration(c.cfg.Defaults.TimeoutSeconds) * time.Second,
			Retries:    c.cfg.Defaults.Retries,
			Backoff:    500 * time.Millisecond,
		},
	}, nil
}

// sshRemote runs commands over fresh sessions and keeps one connection
// open for SFTP uploads.
type sshRemote struct {
	host   inventory.Host
	client *gssh.Client

	mu   sync.Mutex
	conn *xssh.Client
}

func (r *sshRemote) Run(ctx context.Context, command string) (string, error) {
	log.Debug().Str("host", r.host.Name).Str("cmd", command).Msg("run")
	stdout, stderr, err := r.client.RunCommand(ctx, command)
	if err != nil && stderr != "" {
		log.Debug().Str("host", r.host.Name).Str("stderr", strings.TrimSpace(stderr)).Msg("command failed")
	}
	return stdout, err
}

// Push uploads a file via SFTP and checks the remote sha256 afterwards. A
// corrupted upload is removed.
func (r *sshRemote) Push(ctx context.Context, localPath, remotePath string) error {
	sum, err := tasks.FileChecksum(localPath)
	if err != nil {
		return fmt.Errorf("calculate local checksum: %w", err)
	}
	conn, err := r.dial(ctx)
	if err != nil {
		return err
	}
	start := time.Now()
	n, err := gssh.PushFile(ctx, conn, localPath, remotePath)
	telemetry.RecordTransferMetrics(r.host.Name, n, time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("push %s to %s: %w", localPath, r.host.Name, err)
	}
	log.Info().
		Str("host", r.host.Name).
		Str("file", remotePath).
		Str("size", humanize.Bytes(uint64(n))).
		Dur("took", time.Since(start)).
		Msg("uploaded")

	got := tasks.RemoteChecksum(ctx, r, remotePath)
	if got != sum {
		_, _ = r.Run(ctx, "rm -f "+shellescape.Quote(remotePath))
		return fmt.Errorf("checksum mismatch for %s on %s: expected %s, got %q", remotePath, r.host.Name, sum, got)
	}
	return nil
}

func (r *sshRemote) dial(ctx context.Context) (*xssh.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return r.conn, nil
	}
	conn, err := gssh.Dial(ctx, r.client)
	if err != nil {
		return nil, err
	}
	r.conn = conn
	return conn, nil
}

func (r *sshRemote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}
