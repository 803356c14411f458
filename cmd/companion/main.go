package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/multiscale/costeer/pkg/affinity"
	"github.com/multiscale/costeer/pkg/companion"
	"github.com/multiscale/costeer/pkg/config"
	"github.com/multiscale/costeer/pkg/log"
	"github.com/multiscale/costeer/pkg/registry"
	"github.com/multiscale/costeer/pkg/resources"
	"github.com/multiscale/costeer/pkg/transport"
	"github.com/multiscale/costeer/pkg/types"
)

var (
	Version     = "dev"
	cfgPath     string
	companionID string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "companion",
	Short:   "Application Companion: one per Action, relays steering commands to an embedded Application Manager",
	Version: Version,
	RunE:    runCompanion,
}

func init() {
	rootCmd.Flags().StringVar(&cfgPath, "config", "", "Path to costeer config YAML")
	rootCmd.Flags().StringVar(&companionID, "id", "", "Companion id to launch, matching config.companions[].id")
}

func runCompanion(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Init(log.Config{Level: cfg.LogLevel(), JSONOutput: cfg.Log.JSON})

	action, err := findAction(cfg, companionID)
	if err != nil {
		return err
	}

	fabric, err := cfg.NewFabric(companionID)
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

	ap, err := companionFromConfig(cfg, companionID)
	if err != nil {
		return err
	}

	c, err := companion.New(ctx, companion.Config{
		ID:            companionID,
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
		return fmt.Errorf("construct companion: %w", err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- c.Start(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("companion: shutting down")
		if err := c.Terminate(); err != nil {
			log.Logger.Error().Err(err).Msg("companion: preemptive termination failed")
		}
		cancel()
		return nil
	case err := <-runErr:
		return err
	}
}

func findAction(cfg *config.Config, id string) (types.Action, error) {
	ap, err := companionFromConfig(cfg, id)
	if err != nil {
		return types.Action{}, err
	}
	goal := types.GoalSimulator
	if ap.Goal == string(types.GoalHub) {
		goal = types.GoalHub
	}
	return types.Action{ID: ap.ActionID, Goal: goal, Cmd: ap.Cmd, Ranks: ap.Ranks}, nil
}

func companionFromConfig(cfg *config.Config, id string) (config.CompanionConfig, error) {
	for _, c := range cfg.Companions {
		if c.ID == id {
			return c, nil
		}
	}
	return config.CompanionConfig{}, fmt.Errorf("companion: no config entry with id %q", id)
}
