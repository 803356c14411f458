package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/multiscale/costeer/pkg/config"
	"github.com/multiscale/costeer/pkg/history"
	"github.com/multiscale/costeer/pkg/log"
	"github.com/multiscale/costeer/pkg/metrics"
	"github.com/multiscale/costeer/pkg/orchestrator"
	"github.com/multiscale/costeer/pkg/registry"
)

var (
	Version = "dev"
	cfgPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "orchestrator",
	Short:   "Orchestrator: steering command loop for a multiscale co-simulation run",
	Version: Version,
	RunE:    runOrchestrator,
}

func init() {
	rootCmd.Flags().StringVar(&cfgPath, "config", "", "Path to costeer config YAML")
}

func runOrchestrator(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Init(log.Config{Level: cfg.LogLevel(), JSONOutput: cfg.Log.JSON})

	fabric, err := cfg.NewFabric(cfg.Orchestrator.ID)
	if err != nil {
		return fmt.Errorf("build fabric: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registryClient, err := registry.Dial(ctx, fabric, cfg.Registry.Address)
	if err != nil {
		return fmt.Errorf("dial registry at %s: %w", cfg.Registry.Address, err)
	}
	defer registryClient.Close()

	steerLn, err := fabric.Listen(ctx, cfg.Orchestrator.SteeringAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Orchestrator.SteeringAddress, err)
	}

	ccConn, err := fabric.Dial(ctx, cfg.CC.OrchAddress)
	if err != nil {
		return fmt.Errorf("dial c&c at %s: %w", cfg.CC.OrchAddress, err)
	}

	alarms, err := fabric.Subscribe(ctx, cfg.HealthMonitor.AlarmAddress)
	if err != nil {
		return fmt.Errorf("subscribe to alarms at %s: %w", cfg.HealthMonitor.AlarmAddress, err)
	}

	historyDir := filepath.Join(cfg.DataDir, cfg.Orchestrator.ID)
	if err := os.MkdirAll(historyDir, 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	hist, err := history.Open(historyDir)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer hist.Close()

	orch := orchestrator.New(orchestrator.Config{
		ID:         cfg.Orchestrator.ID,
		Registry:   registryClient,
		SteeringLn: steerLn,
		CC:         ccConn,
		Alarms:     alarms,
		History:    hist,
	})

	metrics.SetVersion(Version)
	metrics.RegisterComponent("orchestrator", true, "serving")
	http.Handle("/metrics", metrics.Handler())
	http.Handle("/health", metrics.HealthHandler())
	http.Handle("/ready", metrics.ReadyHandler())
	http.Handle("/live", metrics.LivenessHandler())
	go func() {
		if err := http.ListenAndServe(cfg.Metrics.Address, nil); err != nil {
			log.Logger.Warn().Err(err).Msg("orchestrator: metrics server exited")
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- orch.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("orchestrator: shutting down")
		cancel()
		return nil
	case err := <-runErr:
		return err
	}
}
