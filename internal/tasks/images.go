package tasks

import (
	"context"
	"path"
	"path/filepath"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ClearImages removes the deployment's containers and images so the next
// load starts clean. Containers or images that do not exist are ignored.
type ClearImages struct {
	Containers []string
	Images     []string
}

func (ClearImages) Name() string { return NameClearImages }

func (t ClearImages) Run(ctx context.Context, r Remote) error {
	if len(t.Containers) > 0 {
		script := "docker rm -f " + quoteAll(t.Containers) + " >/dev/null 2>&1 || true"
		if _, err := runShell(ctx, r, script); err != nil {
			return err
		}
	}
	if len(t.Images) > 0 {
		script := "docker rmi -f " + quoteAll(t.Images) + " >/dev/null 2>&1 || true"
		if _, err := runShell(ctx, r, script); err != nil {
			return err
		}
	}
	_, err := run(ctx, r, "docker", "image", "prune", "-f")
	return err
}

// Archive is a `docker save` tarball on the operator's machine.
type Archive struct {
	Image string
	Path  string
}

// LoadImages pushes image archives to RemoteDir and loads them into docker.
// An archive whose remote copy already has the same checksum is not sent
// again unless Force is set.
type LoadImages struct {
	Archives  []Archive
	RemoteDir string
	Force     bool
}

func (LoadImages) Name() string { return NameLoadImages }

func (t LoadImages) Run(ctx context.Context, r Remote) error {
	if len(t.Archives) == 0 {
		return errors.New("no image archives configured")
	}
	if _, err := run(ctx, r, "mkdir", "-p", t.RemoteDir); err != nil {
		return err
	}
	for _, a := range t.Archives {
		remotePath := path.Join(t.RemoteDir, filepath.Base(a.Path))
		sum, err := FileChecksum(a.Path)
		if err != nil {
			return errors.Wrapf(err, "checksum %s", a.Path)
		}
		if !t.Force && RemoteChecksum(ctx, r, remotePath) == sum {
			log.Debug().Str("image", a.Image).Str("remote", remotePath).Msg("archive already present, skipping upload")
		} else if err := r.Push(ctx, a.Path, remotePath); err != nil {
			return errors.Wrapf(err, "push %s", a.Path)
		}
		if _, err := run(ctx, r, "docker", "load", "-i", remotePath); err != nil {
			return err
		}
	}
	return nil
}

func quoteAll(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = shellescape.Quote(s)
	}
	return strings.Join(quoted, " ")
}
