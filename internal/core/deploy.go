package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/logrusorgru/aurora"
	"github.com/pterm/pterm"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/chaindeploy/internal/compose"
	"github.com/3cpo-dev/chaindeploy/internal/inventory"
	"github.com/3cpo-dev/chaindeploy/internal/tasks"
	"github.com/3cpo-dev/chaindeploy/internal/telemetry"
	"github.com/3cpo-dev/chaindeploy/pkg/api"
)

// Options are the operator's choices for one deployment.
type Options struct {
	// Install prepends the install-prereqs step.
	Install bool
	// ForceLoad uploads image archives even when the remote copy matches.
	ForceLoad bool
	// AssumeYes skips the confirmation prompt.
	AssumeYes bool
}

// Executor runs one task on every host.
type Executor interface {
	Execute(ctx context.Context, hosts []inventory.Host, task tasks.Task) (Stats, error)
}

// Steps returns the remote steps of a deployment in execution order.
func Steps(cfg *Config, opts Options) []tasks.Task {
	settings := cfg.ComposeSettings()
	var steps []tasks.Task
	if opts.Install {
		steps = append(steps, tasks.InstallPrereqs{})
	}
	return append(steps,
		tasks.ClearImages{
			Containers: []string{compose.ChainName, compose.RethinkDBName},
			Images:     cfg.ImageNames(),
		},
		tasks.LoadImages{Archives: cfg.Archives(), RemoteDir: cfg.RemoteDir, Force: opts.ForceLoad},
		tasks.StartRethinkDB(compose.RethinkDB(settings)),
		tasks.StartBigchainDB(compose.BigchainDB(settings)),
	)
}

// Step looks up a single step by name, including init-bdb which is never
// part of a full deployment.
func Step(cfg *Config, name string, opts Options) (tasks.Task, error) {
	if name == tasks.NameInitChain {
		return tasks.InitBigchainDB(compose.BigchainInit(cfg.ComposeSettings())), nil
	}
	if name == tasks.NameInstallPrereqs {
		return tasks.InstallPrereqs{}, nil
	}
	for _, s := range Steps(cfg, opts) {
		if s.Name() == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("unknown step %q", name)
}

type Deployer struct {
	Config    *Config
	Preflight Preflight
	Confirm   Confirmer
	EnvInit   EnvInitializer
	Exec      Executor
	// Store is optional; without it runs are not recorded.
	Store *Store
	Out   io.Writer
	Color bool
}

// Deploy validates the inventory, asks for confirmation and runs every step
// on every host. The first failing step ends the run.
func (d *Deployer) Deploy(ctx context.Context, opts Options) (err error) {
	if _, err := d.Preflight.CheckCount(ctx); err != nil {
		return err
	}
	hosts, err := d.Preflight.Hosts(ctx)
	if err != nil {
		return err
	}
	if err := d.printNodes(hosts); err != nil {
		return err
	}

	runID := d.beginRun(ctx, len(hosts), opts)
	defer func() { d.finishRun(ctx, runID, err) }()

	if !opts.AssumeYes {
		ok, err := d.Confirm.Confirm(fmt.Sprintf("Deploy to %d node(s)?", len(hosts)))
		if err != nil {
			return err
		}
		if !ok {
			return ErrRejected
		}
	}

	// The file may have been edited while the prompt was open.
	if _, err := d.Preflight.CheckCount(ctx); err != nil {
		return err
	}
	if hosts, err = d.Preflight.Hosts(ctx); err != nil {
		return err
	}
	d.setRunning(ctx, runID)

	if err := d.EnvInit.Init(ctx); err != nil {
		return err
	}
	for i, step := range Steps(d.Config, opts) {
		if err := d.runStep(ctx, runID, i+1, hosts, step); err != nil {
			return err
		}
	}
	fmt.Fprintf(d.Out, "%s deployed to %d node(s)\n", d.au().Green("✓").Bold(), len(hosts))
	return nil
}

// RunStep runs a single step on every host without prompting.
func (d *Deployer) RunStep(ctx context.Context, step tasks.Task) error {
	hosts, err := d.Preflight.Hosts(ctx)
	if err != nil {
		return err
	}
	// One-time cluster setup must only run once.
	if step.Name() == tasks.NameInitChain {
		hosts = hosts[:1]
	}
	return d.runStep(ctx, "", 1, hosts, step)
}

func (d *Deployer) runStep(ctx context.Context, runID string, seq int, hosts []inventory.Host, step tasks.Task) error {
	scope := telemetry.NewTimerScope("chaindeploy_step_duration", map[string]string{"step": step.Name()})
	log.Info().Str("step", step.Name()).Int("hosts", len(hosts)).Msg("running step")
	stats, err := d.Exec.Execute(ctx, hosts, step)
	took := scope.End()

	rec := api.StepRecord{
		Seq:         seq,
		Name:        step.Name(),
		Duration:    took,
		Status:      api.RunSucceeded,
		HostsDone:   stats.Done,
		HostsFailed: stats.Failed,
	}
	if err != nil {
		rec.Status = api.RunFailed
		rec.Error = err.Error()
		fmt.Fprintf(d.Out, "%s %s: %v %s\n", d.au().Red("✗").Bold(), step.Name(), err,
			d.au().Faint(fmt.Sprintf("(%d done, %d failed, %d skipped)", stats.Done, stats.Failed, stats.Skipped())))
	} else {
		fmt.Fprintf(d.Out, "%s %s %d/%d %s\n", d.au().Green("✓"), step.Name(), stats.Done, stats.Hosts,
			d.au().Faint("("+took.Round(time.Millisecond).String()+")"))
	}
	if d.Store != nil && runID != "" {
		if serr := d.Store.RecordStep(context.WithoutCancel(ctx), runID, rec); serr != nil {
			log.Warn().Err(serr).Msg("record step")
		}
	}
	return err
}

func (d *Deployer) printNodes(hosts []inventory.Host) error {
	return PrintNodes(d.Out, hosts, d.Color)
}

// PrintNodes writes the host table shown before a deployment.
func PrintNodes(w io.Writer, hosts []inventory.Host, color bool) error {
	data := pterm.TableData{{"#", "NAME", "USER", "ADDRESS", "AUTH"}}
	for i, h := range hosts {
		auth := "key"
		if h.Password != "" {
			auth = "password"
		}
		data = append(data, []string{strconv.Itoa(i + 1), h.Name, h.User, h.Address(), auth})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return fmt.Errorf("render node table: %w", err)
	}
	fmt.Fprintf(w, "%s\n%s\n", aurora.NewAurora(color).Bold("blockchain_nodes:"), table)
	return nil
}

func (d *Deployer) au() aurora.Aurora { return aurora.NewAurora(d.Color) }

func (d *Deployer) beginRun(ctx context.Context, hosts int, opts Options) string {
	if d.Store == nil {
		return ""
	}
	rec, err := d.Store.BeginRun(ctx, hosts, opts.Install, opts.ForceLoad)
	if err != nil {
		log.Warn().Err(err).Msg("record run")
		return ""
	}
	return rec.ID
}

func (d *Deployer) setRunning(ctx context.Context, runID string) {
	if d.Store == nil || runID == "" {
		return
	}
	if err := d.Store.SetStatus(ctx, runID, api.RunRunning, nil); err != nil {
		log.Warn().Err(err).Msg("record run")
	}
}

func (d *Deployer) finishRun(ctx context.Context, runID string, runErr error) {
	if d.Store == nil || runID == "" {
		return
	}
	status := api.RunSucceeded
	switch {
	case errors.Is(runErr, ErrRejected):
		status = api.RunRejected
	case runErr != nil:
		status = api.RunFailed
	}
	if err := d.Store.SetStatus(context.WithoutCancel(ctx), runID, status, runErr); err != nil {
		log.Warn().Err(err).Msg("record run")
	}
}
