package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cloudmason/snapguard/pkg/api"
	"github.com/cloudmason/snapguard/pkg/cloud"
	"github.com/cloudmason/snapguard/pkg/config"
	"github.com/cloudmason/snapguard/pkg/log"
	"github.com/cloudmason/snapguard/pkg/policy"
	"github.com/cloudmason/snapguard/pkg/restore"
	"github.com/cloudmason/snapguard/pkg/session"
	"github.com/cloudmason/snapguard/pkg/snapshot"
	"github.com/cloudmason/snapguard/pkg/store"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "snapguard",
	Short: "Snapguard - OpenStack snapshot and restore orchestrator",
	Long: `Snapguard automates volume snapshot lifecycles across OpenStack
projects and restores VMs from those snapshots: scheduled and on-demand
snapshot runs with per-policy retention, and a plan/execute restore flow
that rebuilds a VM from any of its snapshots.

All configuration is read from the environment.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Snapguard version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(rulesCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the snapshot worker and the HTTP API",
	Long: `Start the full service: the snapshot worker loop (policy assignment,
scheduled runs, on-demand triggers, retention pruning) and the HTTP API
that exposes run history and the restore surface.

On startup, runs and restore jobs left RUNNING by a previous process are
marked interrupted before the loop begins.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
			Output:     os.Stderr,
		})
		logger := log.WithComponent("main")

		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		st, err := store.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open job store: %w", err)
		}
		defer st.Close()

		if cfg.IdentityEndpoint == "" {
			return fmt.Errorf("OS_AUTH_URL is required")
		}
		client := cloud.NewOpenStack(cfg.IdentityEndpoint, cfg.Region, cfg.UserDomain)

		sessions := session.NewProvider(client, session.Config{
			Credential: cloud.Credential{
				Email:    cfg.ServiceUserEmail,
				Password: cfg.ServiceUserPassword,
				Domain:   cfg.UserDomain,
			},
			Disabled:   cfg.ServiceUserDisabled,
			CacheSize:  cfg.SessionCacheSize,
			SessionTTL: cfg.SessionTTL,
		})

		worker := snapshot.NewWorker(snapshot.Config{
			RulesFile:          cfg.RulesPath,
			PolicyInterval:     cfg.PolicyInterval,
			SnapshotInterval:   cfg.SnapshotInterval,
			TriggerPoll:        cfg.TriggerPoll,
			MaxSnapshotSizeGB:  cfg.MaxSnapshotSizeGB,
			DryRun:             cfg.SnapshotDryRun,
			VolumeWorkers:      cfg.VolumeWorkers,
			AssignmentChunk:    cfg.AssignmentChunk,
			InventoryStaleness: cfg.InventoryStaleness,
		}, st, client, sessions)

		engine := restore.NewEngine(restore.Config{
			DryRun:         cfg.RestoreDryRun,
			CleanupVolumes: cfg.RestoreCleanupVolumes,
		}, st, client, sessions)

		server := api.NewServer(api.Config{
			ListenAddr:     cfg.ListenAddr,
			RestoreEnabled: cfg.RestoreEnabled,
		}, st, engine)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		if err := worker.Start(ctx); err != nil {
			return fmt.Errorf("failed to start snapshot worker: %w", err)
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(ctx)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		var serveErr error
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("Shutting down")
			cancel()
			serveErr = <-errCh
		case serveErr = <-errCh:
		}

		worker.Stop()
		if serveErr != nil {
			return serveErr
		}
		logger.Info().Msg("Shutdown complete")
		return nil
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Work with snapshot rule files",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Parse a rule file and report its contents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := policy.LoadRules(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d rule(s)\n", args[0], len(rules))
		for _, r := range rules {
			action := "opt-out"
			if r.AutoSnapshot {
				action = strings.Join(r.Policies, ", ")
			}
			fmt.Printf("  %-30s %s\n", r.Name, action)
		}
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesValidateCmd)
}
