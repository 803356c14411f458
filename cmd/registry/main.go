package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/multiscale/costeer/pkg/config"
	"github.com/multiscale/costeer/pkg/healthmonitor"
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
	Use:     "registry",
	Short:   "Registry: single source of truth for descriptors and global workflow state",
	Version: Version,
	RunE:    runRegistry,
}

func init() {
	rootCmd.Flags().StringVar(&cfgPath, "config", "", "Path to costeer config YAML")
}

func runRegistry(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Init(log.Config{Level: cfg.LogLevel(), JSONOutput: cfg.Log.JSON})

	fabric, err := cfg.NewFabric(cfg.Registry.ID)
	if err != nil {
		return fmt.Errorf("build fabric: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New()

	ln, err := fabric.Listen(ctx, cfg.Registry.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Registry.Address, err)
	}
	rpcServer := registry.Serve(ctx, reg, ln)
	defer rpcServer.Close()

	alarmPublisher, err := fabric.NewPublisher(ctx, cfg.HealthMonitor.AlarmAddress)
	if err != nil {
		return fmt.Errorf("bind alarm publisher on %s: %w", cfg.HealthMonitor.AlarmAddress, err)
	}
	monitor := healthmonitor.NewMonitor(reg, alarmPublisher, healthmonitorConfig(cfg))
	go monitor.Run(ctx)
	defer monitor.FinalizeMonitoring()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("registry", true, "serving")
	http.Handle("/metrics", metrics.Handler())
	http.Handle("/health", metrics.HealthHandler())
	http.Handle("/ready", metrics.ReadyHandler())
	http.Handle("/live", metrics.LivenessHandler())
	go func() {
		if err := http.ListenAndServe(cfg.Metrics.Address, nil); err != nil {
			log.Logger.Warn().Err(err).Msg("registry: metrics server exited")
		}
	}()

	log.Logger.Info().Str("address", ln.Addr()).Msg("registry: listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("registry: shutting down")
		return reg.Stop()
	case <-reg.Done():
		log.Logger.Info().Msg("registry: stop received from orchestrator, shutting down")
		return nil
	}
}

func healthmonitorConfig(cfg *config.Config) healthmonitor.Config {
	c := healthmonitor.DefaultConfig()
	if cfg.HealthMonitor.IntervalSeconds > 0 {
		c.Interval = time.Duration(cfg.HealthMonitor.IntervalSeconds) * time.Second
	}
	if cfg.HealthMonitor.Retries > 0 {
		c.Retries = cfg.HealthMonitor.Retries
	}
	if cfg.HealthMonitor.RetryDelayMillis > 0 {
		c.RetryDelay = time.Duration(cfg.HealthMonitor.RetryDelayMillis) * time.Millisecond
	}
	return c
}
