package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	core "github.com/3cpo-dev/chaindeploy/internal/core"
	"github.com/3cpo-dev/chaindeploy/internal/telemetry"
)

var (
	version   = "0.1.0"
	commit    = ""
	buildDate = ""
)

// app carries process-level wiring shared by every command.
type app struct {
	in  *os.File
	out *os.File
	// build wires a Deployer from configuration. The returned func releases
	// what it opened.
	build func(cfg *core.Config) (*core.Deployer, func(), error)
}

func newApp() *app {
	a := &app{in: os.Stdin, out: os.Stdout}
	a.build = a.buildDeployer
	return a
}

func (a *app) color() bool {
	return isatty.IsTerminal(a.out.Fd()) || isatty.IsCygwinTerminal(a.out.Fd())
}

func (a *app) buildDeployer(cfg *core.Config) (*core.Deployer, func(), error) {
	preflight, err := core.NewPreflight(cfg)
	if err != nil {
		return nil, nil, err
	}
	telemetry.InitGlobal(cfg.Telemetry.Enabled, cfg.Telemetry.OTLPEndpoint)
	d := &core.Deployer{
		Config:    cfg,
		Preflight: preflight,
		Confirm:   core.NewConfirmer(a.in, a.out),
		EnvInit:   core.NewScriptInit(cfg),
		Exec:      core.NewRunner(core.LazySSHConnector(cfg), cfg.Defaults.Concurrency),
		Out:       a.out,
		Color:     a.color(),
	}
	store, err := core.NewStore(cfg.Store.Path)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Store.Path).Msg("run history disabled")
	} else {
		d.Store = store
	}
	release := func() {
		if store != nil {
			_ = store.Close()
		}
		if err := telemetry.Shutdown(); err != nil {
			log.Debug().Err(err).Msg("telemetry flush")
		}
	}
	return d, release, nil
}

// usageError is a command line the parser rejected.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }
func (e *usageError) ExitCode() int { return 1 }

// exitCode maps an error to the process status. Failed remote commands and
// scripts keep their own status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) && coder.ExitCode() > 0 {
		return coder.ExitCode()
	}
	return 1
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chaindeploy [-i] [-l]",
		Short: "Deploy rethinkdb and unichain nodes to the hosts in blockchain_nodes",
		Long: `chaindeploy checks the cluster nodes file, asks for confirmation and then,
on every node: clears old containers and images, loads the image archives,
starts rdb and starts bdb.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			install, _ := cmd.Flags().GetBool("install")
			load, _ := cmd.Flags().GetBool("load")
			yes, _ := cmd.Flags().GetBool("yes")
			d, release, err := a.build(cfg)
			if err != nil {
				return err
			}
			defer release()
			return d.Deploy(cmd.Context(), core.Options{Install: install, ForceLoad: load, AssumeYes: yes})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().BoolP("install", "i", false, "install docker and other prerequisites on every node first")
	cmd.Flags().BoolP("load", "l", false, "upload image archives even if the node already has an identical copy")
	cmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	cmd.PersistentFlags().String("nodes", "", "cluster nodes file (overrides nodes_file)")
	cmd.PersistentFlags().String("log-level", "info", "Set log level. Available: trace, debug, info, warn, error")
	cmd.PersistentFlags().String("config", "", "config file")

	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		_ = c.Usage()
		return &usageError{err: err}
	})

	cmd.PersistentPreRun = func(c *cobra.Command, args []string) {
		levelStr, _ := c.Flags().GetString("log-level")
		level, err := zerolog.ParseLevel(levelStr)
		if err != nil || levelStr == "" {
			level = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(level)
	}

	cmd.AddCommand(newVersionCmd(a))
	cmd.AddCommand(newNodesCmd(a))
	for _, s := range stepCommands {
		cmd.AddCommand(newStepCmd(a, s.name, s.short))
	}
	cmd.AddCommand(newComposeCmd(a))
	cmd.AddCommand(newStatusCmd(a))
	cmd.AddCommand(newHistoryCmd(a))
	cmd.AddCommand(newKeygenCmd(a))
	return cmd
}

func loadConfig(cmd *cobra.Command) (*core.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := core.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	if nodes, _ := cmd.Flags().GetString("nodes"); nodes != "" {
		cfg.Inventory = "nodesfile"
		cfg.NodesFile = nodes
	}
	return cfg, nil
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chaindeploy %s (%s) %s\n", version, commit, buildDate)
		},
	}
}

func setupLogger(w io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	setupLogger(os.Stderr)
	telemetry.ServiceVersion = version
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root := newRootCmd(newApp())
	err := root.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}
