package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/multiscale/costeer/pkg/affinity"
	"github.com/multiscale/costeer/pkg/cc"
	"github.com/multiscale/costeer/pkg/companion"
	"github.com/multiscale/costeer/pkg/config"
	"github.com/multiscale/costeer/pkg/healthmonitor"
	"github.com/multiscale/costeer/pkg/history"
	"github.com/multiscale/costeer/pkg/log"
	"github.com/multiscale/costeer/pkg/metrics"
	"github.com/multiscale/costeer/pkg/orchestrator"
	"github.com/multiscale/costeer/pkg/registry"
	"github.com/multiscale/costeer/pkg/resources"
	"github.com/multiscale/costeer/pkg/transport"
	"github.com/multiscale/costeer/pkg/types"
)

// readyPollInterval is how often the launcher re-checks the registry while
// waiting for a just-started component to reach local state READY, per
// spec.md §2 "Control flow".
const readyPollInterval = 50 * time.Millisecond

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
	Use:     "launcher",
	Short:   "Launcher: starts every role as a goroutine in one process, in dependency order",
	Version: Version,
	RunE:    runLauncher,
}

func init() {
	rootCmd.Flags().StringVar(&cfgPath, "config", "", "Path to costeer config YAML")
}

func runLauncher(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Init(log.Config{Level: cfg.LogLevel(), JSONOutput: cfg.Log.JSON})

	fabric, err := cfg.NewFabric("launcher")
	if err != nil {
		return fmt.Errorf("build fabric: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New()
	regLn, err := fabric.Listen(ctx, cfg.Registry.Address)
	if err != nil {
		return fmt.Errorf("listen registry on %s: %w", cfg.Registry.Address, err)
	}
	rpcServer := registry.Serve(ctx, reg, regLn)
	defer rpcServer.Close()
	log.Logger.Info().Str("address", regLn.Addr()).Msg("launcher: registry ready")

	alarmPublisher, err := fabric.NewPublisher(ctx, cfg.HealthMonitor.AlarmAddress)
	if err != nil {
		return fmt.Errorf("bind alarm publisher: %w", err)
	}
	monitor := healthmonitor.NewMonitor(reg, alarmPublisher, monitorConfig(cfg))
	go monitor.Run(ctx)
	defer monitor.FinalizeMonitoring()

	ccRegistryClient, err := registry.Dial(ctx, fabric, cfg.Registry.Address)
	if err != nil {
		return fmt.Errorf("dial registry: %w", err)
	}
	defer ccRegistryClient.Close()

	ccOrchLn, err := fabric.Listen(ctx, cfg.CC.OrchAddress)
	if err != nil {
		return fmt.Errorf("listen c&c orchestrator endpoint: %w", err)
	}
	ccPublisher, err := fabric.NewPublisher(ctx, cfg.CC.PublishAddress)
	if err != nil {
		return fmt.Errorf("bind c&c publisher: %w", err)
	}
	ccPullLn, err := fabric.Listen(ctx, cfg.CC.PullAddress)
	if err != nil {
		return fmt.Errorf("listen c&c pull endpoint: %w", err)
	}
	ccServer := cc.NewServer(cfg.CC.ID, ccRegistryClient, ccOrchLn, ccPublisher, ccPullLn)
	defer ccServer.Close()
	ccErr := make(chan error, 1)
	go func() { ccErr <- ccServer.Run(ctx) }()
	log.Logger.Info().Msg("launcher: command & control ready")

	var companions []*companion.Companion
	for _, ap := range cfg.Companions {
		c, err := startCompanion(ctx, fabric, cfg, ap)
		if err != nil {
			return fmt.Errorf("start companion %s: %w", ap.ID, err)
		}
		companions = append(companions, c)
		if err := waitForReady(ctx, fabric, cfg, ap.ID); err != nil {
			return fmt.Errorf("companion %s never reached READY: %w", ap.ID, err)
		}
		log.Logger.Info().Str("companion", ap.ID).Msg("launcher: companion ready")
	}

	orchRegistryClient, err := registry.Dial(ctx, fabric, cfg.Registry.Address)
	if err != nil {
		return fmt.Errorf("dial registry: %w", err)
	}
	defer orchRegistryClient.Close()

	steerLn, err := fabric.Listen(ctx, cfg.Orchestrator.SteeringAddress)
	if err != nil {
		return fmt.Errorf("listen steering endpoint: %w", err)
	}
	ccConn, err := fabric.Dial(ctx, cfg.CC.OrchAddress)
	if err != nil {
		return fmt.Errorf("dial c&c: %w", err)
	}
	alarms, err := fabric.Subscribe(ctx, cfg.HealthMonitor.AlarmAddress)
	if err != nil {
		return fmt.Errorf("subscribe to alarms: %w", err)
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
		Registry:   orchRegistryClient,
		SteeringLn: steerLn,
		CC:         ccConn,
		Alarms:     alarms,
		History:    hist,
	})
	orchErr := make(chan error, 1)
	go func() { orchErr <- orch.Run(ctx) }()
	log.Logger.Info().Str("address", steerLn.Addr()).Msg("launcher: orchestrator ready, awaiting steering commands")

	metrics.SetVersion(Version)
	metrics.RegisterComponent("launcher", true, "serving")
	http.Handle("/metrics", metrics.Handler())
	http.Handle("/health", metrics.HealthHandler())
	http.Handle("/ready", metrics.ReadyHandler())
	http.Handle("/live", metrics.LivenessHandler())
	go func() {
		if err := http.ListenAndServe(cfg.Metrics.Address, nil); err != nil {
			log.Logger.Warn().Err(err).Msg("launcher: metrics server exited")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("launcher: shutting down")
		for _, c := range companions {
			if err := c.Terminate(); err != nil {
				log.Logger.Error().Err(err).Msg("launcher: preemptive companion termination failed")
			}
		}
		cancel()
		return nil
	case <-reg.Done():
		log.Logger.Info().Msg("launcher: registry stop received, shutting down")
		for _, c := range companions {
			if err := c.Terminate(); err != nil {
				log.Logger.Error().Err(err).Msg("launcher: preemptive companion termination failed")
			}
		}
		cancel()
		return nil
	case err := <-orchErr:
		return err
	case err := <-ccErr:
		return err
	}
}

func startCompanion(ctx context.Context, fabric transport.Fabric, cfg *config.Config, ap config.CompanionConfig) (*companion.Companion, error) {
	registryClient, err := registry.Dial(ctx, fabric, cfg.Registry.Address)
	if err != nil {
		return nil, err
	}

	goal := types.GoalSimulator
	if ap.Goal == string(types.GoalHub) {
		goal = types.GoalHub
	}
	action := types.Action{ID: ap.ActionID, Goal: goal, Cmd: ap.Cmd, Ranks: ap.Ranks}

	c, err := companion.New(ctx, companion.Config{
		ID:            ap.ID,
		Action:        action,
		Registry:      registryClient,
		Pinner:        affinity.NewTasksetPinner(),
		CPU:           ap.CPU,
		ExpectedHubs:  ap.ExpectedHubs,
		ManagerFabric: transport.NewMemoryFabric(),
		CC:            fabric,
		CCPublishAddr: cfg.CC.PublishAddress,
		CCPushAddr:    cfg.CC.PullAddress,
		Sampler:       resources.NewGopsutilSampler(),
	})
	if err != nil {
		return nil, err
	}

	go func() {
		if err := c.Start(ctx); err != nil {
			log.WithComponentID(ap.ID).Error().Err(err).Msg("companion exited")
		}
	}()
	return c, nil
}

// waitForReady polls the registry until id is registered with local state
// READY, or ctx is cancelled.
func waitForReady(ctx context.Context, fabric transport.Fabric, cfg *config.Config, id string) error {
	client, err := registry.Dial(ctx, fabric, cfg.Registry.Address)
	if err != nil {
		return err
	}
	defer client.Close()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	for {
		descriptor, err := client.FindByID(ctx, id)
		if err == nil && descriptor.State == types.StateReady {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func monitorConfig(cfg *config.Config) healthmonitor.Config {
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
