// Package tasks holds the remote steps of a deployment. Each task runs
// against a single host through a Remote; fanning a task out over the cluster
// is the caller's job.
package tasks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/pkg/errors"
)

// Remote is one connected host.
type Remote interface {
	// Run executes a shell command line and returns its stdout.
	Run(ctx context.Context, command string) (string, error)
	// Push uploads a local file and verifies it arrived intact.
	Push(ctx context.Context, localPath, remotePath string) error
}

type Task interface {
	Name() string
	Run(ctx context.Context, r Remote) error
}

// Task names, in deployment order.
const (
	NameInstallPrereqs = "install-prereqs"
	NameClearImages    = "clear-images"
	NameLoadImages     = "load-images"
	NameStartRethinkDB = "start-rdb"
	NameStartChain     = "start-bdb"
	NameInitChain      = "init-bdb"
)

func run(ctx context.Context, r Remote, args ...string) (string, error) {
	cmd := shellescape.QuoteCommand(args)
	out, err := r.Run(ctx, cmd)
	if err != nil {
		return out, errors.Wrapf(err, "failed to execute: '%s'", cmd)
	}
	return out, nil
}

// runShell executes a script through sh -c, for pipelines and || fallbacks.
func runShell(ctx context.Context, r Remote, script string) (string, error) {
	return run(ctx, r, "sh", "-c", script)
}

// FileChecksum returns the hex sha256 of a local file.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.WithStack(err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// RemoteChecksum returns the hex sha256 of a remote file, or "" if it cannot
// be computed (missing file, no sha256sum).
func RemoteChecksum(ctx context.Context, r Remote, remotePath string) string {
	out, err := runShell(ctx, r, "sha256sum "+shellescape.Quote(remotePath)+" 2>/dev/null | cut -d' ' -f1")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}
