package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/multiscale/costeer/pkg/cc"
	"github.com/multiscale/costeer/pkg/config"
	"github.com/multiscale/costeer/pkg/log"
	"github.com/multiscale/costeer/pkg/metrics"
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
	Use:     "cc",
	Short:   "Command & Control: stateless relay between the Orchestrator and Application Companions",
	Version: Version,
	RunE:    runCC,
}

func init() {
	rootCmd.Flags().StringVar(&cfgPath, "config", "", "Path to costeer config YAML")
}

func runCC(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Init(log.Config{Level: cfg.LogLevel(), JSONOutput: cfg.Log.JSON})

	fabric, err := cfg.NewFabric(cfg.CC.ID)
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

	orchLn, err := fabric.Listen(ctx, cfg.CC.OrchAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.CC.OrchAddress, err)
	}
	publisher, err := fabric.NewPublisher(ctx, cfg.CC.PublishAddress)
	if err != nil {
		return fmt.Errorf("bind publisher on %s: %w", cfg.CC.PublishAddress, err)
	}
	pullLn, err := fabric.Listen(ctx, cfg.CC.PullAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.CC.PullAddress, err)
	}

	server := cc.NewServer(cfg.CC.ID, registryClient, orchLn, publisher, pullLn)
	defer server.Close()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("cc", true, "serving")
	http.Handle("/metrics", metrics.Handler())
	http.Handle("/health", metrics.HealthHandler())
	http.Handle("/ready", metrics.ReadyHandler())
	http.Handle("/live", metrics.LivenessHandler())
	go func() {
		if err := http.ListenAndServe(cfg.Metrics.Address, nil); err != nil {
			log.Logger.Warn().Err(err).Msg("cc: metrics server exited")
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- server.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("cc: shutting down")
		cancel()
		return nil
	case err := <-runErr:
		return err
	}
}
