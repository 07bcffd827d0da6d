package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/logrusorgru/aurora"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/3cpo-dev/chaindeploy/internal/compose"
	core "github.com/3cpo-dev/chaindeploy/internal/core"
	"github.com/3cpo-dev/chaindeploy/internal/probe"
	gssh "github.com/3cpo-dev/chaindeploy/internal/ssh"
	"github.com/3cpo-dev/chaindeploy/internal/tasks"
)

var stepCommands = []struct{ name, short string }{
	{tasks.NameInstallPrereqs, "Install docker on every node"},
	{tasks.NameClearImages, "Remove the rdb and bdb containers and their images from every node"},
	{tasks.NameLoadImages, "Upload the image archives and docker load them on every node"},
	{tasks.NameStartRethinkDB, "Start the rethinkdb container (rdb) on every node"},
	{tasks.NameStartChain, "Start the unichain container (bdb) on every node"},
	{tasks.NameInitChain, "Initialize the database, shards and replicas from the first node"},
}

// Run one deployment step on its own, without prompting
func newStepCmd(a *app, name, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			var opts core.Options
			if cmd.Flags().Lookup("load") != nil {
				opts.ForceLoad, _ = cmd.Flags().GetBool("load")
			}
			step, err := core.Step(cfg, name, opts)
			if err != nil {
				return err
			}
			d, release, err := a.build(cfg)
			if err != nil {
				return err
			}
			defer release()
			return d.RunStep(cmd.Context(), step)
		},
	}
	if name == tasks.NameLoadImages {
		cmd.Flags().BoolP("load", "l", false, "upload even if the node already has an identical copy")
	}
	return cmd
}

// Validate the nodes file and list its hosts
func newNodesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "Validate the cluster nodes file and list its hosts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			p, err := core.NewPreflight(cfg)
			if err != nil {
				return err
			}
			if _, err := p.CheckCount(cmd.Context()); err != nil {
				return err
			}
			hosts, err := p.Hosts(cmd.Context())
			if err != nil {
				return err
			}
			return core.PrintNodes(cmd.OutOrStdout(), hosts, a.color())
		},
	}
}

// Print or write the docker-compose description of a node
func newComposeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Print the docker-compose file equivalent to the deployed containers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			project := compose.NewProject(cfg.ComposeSettings())
			if out, _ := cmd.Flags().GetString("out"); out != "" {
				written, err := compose.WriteDir(out, project)
				if err != nil {
					return err
				}
				for _, path := range written {
					fmt.Fprintln(cmd.OutOrStdout(), path)
				}
				return nil
			}
			doc, err := compose.Render(project)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(doc)
			return err
		},
	}
	cmd.Flags().String("out", "", "write docker-compose.yml and env files into this directory")
	return cmd
}

// Probe the node API and database port on every host
func newStatusCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check that every node answers on its API and database ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			pf, err := core.NewPreflight(cfg)
			if err != nil {
				return err
			}
			hosts, err := pf.Hosts(cmd.Context())
			if err != nil {
				return err
			}
			p := probe.New(cfg.Probe.APIPort, cfg.Probe.APIPath, cfg.Probe.DBPort, time.Duration(cfg.Probe.TimeoutSeconds)*time.Second)
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			results := p.ProbeAll(cmd.Context(), hosts, concurrency)

			au := aurora.NewAurora(a.color())
			data := pterm.TableData{{"NODE", "SOFTWARE", "VERSION", "API", "DB", "LATENCY"}}
			unhealthy := 0
			for _, r := range results {
				software, ver := "-", "-"
				if r.Info != nil {
					software, ver = r.Info.Software, r.Info.Version
				}
				if !r.Healthy() {
					unhealthy++
				}
				data = append(data, []string{
					r.Host.Name, software, ver,
					check(au, r.APIErr), check(au, r.DBErr),
					r.Latency.Round(time.Millisecond).String(),
				})
			}
			table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			if unhealthy > 0 {
				return fmt.Errorf("%d of %d node(s) unhealthy", unhealthy, len(results))
			}
			return nil
		},
	}
	cmd.Flags().Int("concurrency", 8, "nodes probed in parallel")
	return cmd
}

func check(au aurora.Aurora, err error) string {
	if err != nil {
		return au.Red("down").String()
	}
	return au.Green("up").String()
}

// List past deployment runs
func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List past deployments, or the steps of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := core.NewStore(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			var data pterm.TableData
			if len(args) == 1 {
				steps, err := store.Steps(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				data = pterm.TableData{{"#", "STEP", "STATUS", "DONE", "FAILED", "TOOK", "ERROR"}}
				for _, s := range steps {
					data = append(data, []string{
						strconv.Itoa(s.Seq), s.Name, string(s.Status),
						strconv.Itoa(s.HostsDone), strconv.Itoa(s.HostsFailed),
						s.Duration.String(), s.Error,
					})
				}
			} else {
				limit, _ := cmd.Flags().GetInt("limit")
				runs, err := store.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				data = pterm.TableData{{"ID", "STARTED", "STATUS", "NODES", "FLAGS", "ERROR"}}
				for _, r := range runs {
					flags := ""
					if r.Install {
						flags += "-i "
					}
					if r.ForceLoad {
						flags += "-l"
					}
					data = append(data, []string{r.ID, humanize.Time(r.StartedAt), string(r.Status), strconv.Itoa(r.Hosts), flags, r.Error})
				}
			}
			table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "number of runs to show")
	return cmd
}

// Generate the deployment SSH key
func newKeygenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the ed25519 key used to reach the nodes and print its public half",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			force, _ := cmd.Flags().GetBool("force")
			path := cfg.KeyPath()
			if _, err := os.Stat(path); err == nil && !force {
				pub, err := os.ReadFile(path + ".pub")
				if err != nil {
					return fmt.Errorf("%s exists; use --force to replace it", path)
				}
				_, err = cmd.OutOrStdout().Write(pub)
				return err
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			pub, err := gssh.GenerateEd25519Keypair(path)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), pub)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "replace an existing key")
	return cmd
}
