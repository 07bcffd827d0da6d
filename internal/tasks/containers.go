package tasks

import (
	"context"

	"github.com/alessio/shellescape"

	"github.com/3cpo-dev/chaindeploy/internal/compose"
)

// StartService replaces a running container with a fresh one built from the
// service description.
type StartService struct {
	TaskName string
	Service  compose.Service
}

func StartRethinkDB(svc compose.Service) StartService {
	return StartService{TaskName: NameStartRethinkDB, Service: svc}
}

func StartBigchainDB(svc compose.Service) StartService {
	return StartService{TaskName: NameStartChain, Service: svc}
}

// InitBigchainDB runs the one-shot init service.
func InitBigchainDB(svc compose.Service) StartService {
	return StartService{TaskName: NameInitChain, Service: svc}
}

func (t StartService) Name() string { return t.TaskName }

func (t StartService) Run(ctx context.Context, r Remote) error {
	if dirs := t.Service.HostDirs(); len(dirs) > 0 {
		if _, err := run(ctx, r, append([]string{"mkdir", "-p"}, dirs...)...); err != nil {
			return err
		}
	}
	script := "docker rm -f " + shellescape.Quote(t.Service.Name) + " >/dev/null 2>&1 || true"
	if _, err := runShell(ctx, r, script); err != nil {
		return err
	}
	_, err := run(ctx, r, t.Service.RunArgs()...)
	return err
}
