package tasks

import (
	"context"
)

// DefaultPrereqsScript installs and starts docker on apt or yum based hosts.
// It is a no-op when docker is already present.
const DefaultPrereqsScript = `set -eu
SUDO=""
if [ "$(id -u)" != "0" ]; then SUDO="sudo -n"; fi
if command -v docker >/dev/null 2>&1; then
  echo "docker already installed"
else
  if command -v apt-get >/dev/null 2>&1; then
    $SUDO apt-get update -y
    $SUDO apt-get install -y docker.io coreutils
  elif command -v yum >/dev/null 2>&1; then
    $SUDO yum install -y docker coreutils
  else
    echo "no supported package manager found" >&2
    exit 1
  fi
fi
if command -v systemctl >/dev/null 2>&1; then
  $SUDO systemctl enable --now docker
fi
docker version --format '{{.Server.Version}}'
`

type InstallPrereqs struct {
	Script string
}

func (InstallPrereqs) Name() string { return NameInstallPrereqs }

func (t InstallPrereqs) Run(ctx context.Context, r Remote) error {
	script := t.Script
	if script == "" {
		script = DefaultPrereqsScript
	}
	_, err := runShell(ctx, r, script)
	return err
}
