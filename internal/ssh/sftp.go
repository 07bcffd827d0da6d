package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
	xssh "golang.org/x/crypto/ssh"
)

// PushFile uploads a local file to a remote path via SFTP and returns the
// number of bytes written.
func PushFile(ctx context.Context, client *xssh.Client, localPath, remotePath string) (int64, error) {
	sf, err := sftp.NewClient(client)
	if err != nil {
		return 0, fmt.Errorf("sftp client: %w", err)
	}
	defer sf.Close()
	if err := sf.MkdirAll(path.Dir(remotePath)); err != nil {
		return 0, fmt.Errorf("mkdir remote: %w", err)
	}
	src, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("open local: %w", err)
	}
	defer src.Close()
	dst, err := sf.Create(remotePath)
	if err != nil {
		return 0, fmt.Errorf("create remote: %w", err)
	}
	defer dst.Close()
	n, err := io.Copy(dst, &ctxReader{ctx: ctx, r: src})
	if err != nil {
		return n, fmt.Errorf("copy: %w", err)
	}
	return n, nil
}

// PullFile downloads a remote file to a local path via SFTP.
func PullFile(ctx context.Context, client *xssh.Client, remotePath, localPath string) error {
	sf, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("sftp client: %w", err)
	}
	defer sf.Close()
	if err := os.MkdirAll(filepath.Dir(localPath), 0700); err != nil {
		return fmt.Errorf("mkdir local: %w", err)
	}
	src, err := sf.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open remote: %w", err)
	}
	defer src.Close()
	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, &ctxReader{ctx: ctx, r: src}); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return nil
}

// ctxReader stops a copy once ctx is done. Image archives are large.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
