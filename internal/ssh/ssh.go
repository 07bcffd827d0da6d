package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	xssh "golang.org/x/crypto/ssh"
)

type Dialer interface {
	Dial(network, addr string) (net.Conn, error)
}

type NetDialer struct{ Timeout time.Duration }

func (d NetDialer) Dial(network, addr string) (net.Conn, error) {
	nd := &net.Dialer{Timeout: d.Timeout}
	return nd.Dial(network, addr)
}

type Client struct {
	Addr       string
	User       string
	Signer     xssh.Signer
	Password   string
	KnownHosts xssh.HostKeyCallback
	Timeout    time.Duration
	Retries    int
	Backoff    time.Duration
	Dialer     Dialer
}

// ExitError reports a remote command that ran but exited non-zero.
type ExitError struct {
	Command string
	Status  int
	Stderr  string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("remote command exited with status %d: %s", e.Status, e.Command)
}

// ExitCode lets callers propagate the remote status as the process status.
func (e *ExitError) ExitCode() int { return e.Status }

func (c *Client) makeConfig() (*xssh.ClientConfig, error) {
	var auth []xssh.AuthMethod
	if c.Signer != nil {
		auth = append(auth, xssh.PublicKeys(c.Signer))
	}
	if c.Password != "" {
		auth = append(auth, xssh.Password(c.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("ssh: signer or password required")
	}
	if c.KnownHosts == nil {
		return nil, errors.New("ssh: host key callback required")
	}
	return &xssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: c.KnownHosts,
		Timeout:         c.Timeout,
	}, nil
}

// dialError is a failure to reach the host at all. Only these are retried.
type dialError struct{ err error }

func (e *dialError) Error() string { return e.err.Error() }
func (e *dialError) Unwrap() error { return e.err }

func (c *Client) connect(cfg *xssh.ClientConfig) (*xssh.Client, error) {
	dialer := c.Dialer
	if dialer == nil {
		dialer = NetDialer{Timeout: c.Timeout}
	}
	conn, err := dialer.Dial("tcp", c.Addr)
	if err != nil {
		return nil, &dialError{err: err}
	}
	if c.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.Timeout))
	}
	sc, chans, reqs, err := xssh.NewClientConn(conn, c.Addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake with %s: %w", c.Addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	return xssh.NewClient(sc, chans, reqs), nil
}

// RunCommand executes a remote command. Failures to reach the host are
// retried with linear backoff. Handshake failures are returned at once, and a
// command that exits non-zero is not retried and is reported as *ExitError.
func (c *Client) RunCommand(ctx context.Context, command string) (string, string, error) {
	cfg, err := c.makeConfig()
	if err != nil {
		return "", "", err
	}
	retries := c.Retries
	if retries < 0 {
		retries = 0
	}
	backoff := c.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		default:
		}
		cli, err := c.connect(cfg)
		if err == nil {
			stdout, stderr, err := run(ctx, cli, command)
			_ = cli.Close()
			return stdout, stderr, err
		}
		var derr *dialError
		if !errors.As(err, &derr) {
			return "", "", err
		}
		lastErr = fmt.Errorf("dial %s: %w", c.Addr, err)
		if attempt < retries {
			select {
			case <-ctx.Done():
				return "", "", ctx.Err()
			case <-time.After(backoff * time.Duration(attempt+1)):
			}
		}
	}
	return "", "", lastErr
}

// run executes command on an established connection, closing the session if
// ctx is cancelled first.
func run(ctx context.Context, cli *xssh.Client, command string) (string, string, error) {
	session, err := cli.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(xssh.SIGTERM)
		_ = session.Close()
		// The buffers are written until Run returns.
		<-done
		return stdout.String(), stderr.String(), ctx.Err()
	case err := <-done:
		var exit *xssh.ExitError
		if errors.As(err, &exit) {
			return stdout.String(), stderr.String(), &ExitError{Command: command, Status: exit.ExitStatus(), Stderr: stderr.String()}
		}
		if err != nil {
			return stdout.String(), stderr.String(), fmt.Errorf("run command: %w", err)
		}
		return stdout.String(), stderr.String(), nil
	}
}

// Dial establishes an SSH connection using the provided client configuration.
// The caller is responsible for closing the returned client.
func Dial(ctx context.Context, c *Client) (*xssh.Client, error) {
	cfg, err := c.makeConfig()
	if err != nil {
		return nil, err
	}
	type res struct {
		cli *xssh.Client
		err error
	}
	ch := make(chan res, 1)
	go func() {
		cli, err := c.connect(cfg)
		ch <- res{cli: cli, err: err}
	}()
	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.cli != nil {
				_ = r.cli.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("dial %s: %w", c.Addr, r.err)
		}
		return r.cli, nil
	}
}
