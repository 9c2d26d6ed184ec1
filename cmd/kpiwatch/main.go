package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
	"github.com/kination/kpiwatch/internal/api"
	"github.com/kination/kpiwatch/internal/config"
	"github.com/kination/kpiwatch/internal/graph"
	"github.com/kination/kpiwatch/internal/workflows"
)

const version = "v0.1.0"

var (
	configPath     string
	devLogging     bool
	listenAddress  string
	manifestFormat string
	stopTimeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "kpiwatch",
	Short: "kpiwatch - KPI threshold alerts and gated analytics pipeline",
	Long: `kpiwatch evaluates operational metrics of the real-estate CRM database.

It runs two workflows:
  real_estate_alerts     threshold checks every 15 minutes, alerts on breach
  real_estate_analytics  nightly dbt pipeline behind data-quality gates`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ctrl.SetLogger(zap.New(zap.UseDevMode(devLogging)))
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the workflows on their cadence and serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if listenAddress != "" {
			cfg.HTTP.Address = listenAddress
		}

		ctx := ctrl.SetupSignalHandler()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.controller.Start(ctx); err != nil {
			return err
		}
		srv := api.NewServer(cfg.HTTP.Address, a.controller, a.store, a.store)
		serveErr := srv.Run(ctx)

		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := a.controller.Stop(stopCtx); err != nil {
			log.Error(err, "Controller did not stop cleanly")
		}
		return serveErr
	},
}

var triggerCmd = &cobra.Command{
	Use:   "trigger <graph>",
	Short: "Run one ad-hoc run of a workflow and print its record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		ctx := ctrl.SetupSignalHandler()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		run, err := a.controller.Trigger(ctx, args[0])
		if err != nil {
			return err
		}
		rec, err := a.controller.Wait(ctx, run.ID)
		if err != nil {
			// Interrupted: cancel the run right away and report what it reached.
			stopCtx, cancel := context.WithCancel(context.Background())
			cancel()
			_ = a.controller.Stop(stopCtx)
			if rec, err = a.controller.Run(context.Background(), run.ID); err != nil {
				return err
			}
		} else {
			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			_ = a.controller.Stop(stopCtx)
		}

		out, err := yaml.Marshal(rec)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))

		if rec.Status == workflowv1.RunFailed {
			return fmt.Errorf("run %s failed: %v", rec.RunID, rec.FailedTasks)
		}
		return nil
	},
}

var graphCmd = &cobra.Command{
	Use:   "graph [name]",
	Short: "Print the manifest of every workflow, or of the named one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		graphs, err := workflows.Graphs(cfg, workflows.Dependencies{})
		if err != nil {
			return err
		}

		found := false
		for _, g := range graphs {
			if len(args) == 1 && g.ID != args[0] {
				continue
			}
			found = true
			manifest, err := graph.GenerateManifest(g)
			if err != nil {
				return err
			}
			out, err := manifest.Encode(manifestFormat)
			if err != nil {
				return err
			}
			if manifestFormat == "json" {
				out = append(out, '\n')
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "---")
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
		}
		if !found {
			return fmt.Errorf("unknown graph %q", args[0])
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of kpiwatch",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "kpiwatch", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file (defaults apply when empty)")
	rootCmd.PersistentFlags().BoolVar(&devLogging, "dev", false, "Use human readable development logging")
	rootCmd.PersistentFlags().DurationVar(&stopTimeout, "stop-timeout", 30*time.Second, "How long to wait for in-flight runs on shutdown")

	serveCmd.Flags().StringVarP(&listenAddress, "listen", "l", "", "HTTP listen address, overrides http.address")
	graphCmd.Flags().StringVarP(&manifestFormat, "format", "f", "yaml", "Manifest format: yaml or json")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
