package companion

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/multiscale/costeer/pkg/affinity"
	"github.com/multiscale/costeer/pkg/appmanager"
	"github.com/multiscale/costeer/pkg/ctrlerrors"
	"github.com/multiscale/costeer/pkg/log"
	"github.com/multiscale/costeer/pkg/resources"
	"github.com/multiscale/costeer/pkg/transport"
	"github.com/multiscale/costeer/pkg/types"
)

// hubPollInterval is the backoff between registry polls while a simulator
// companion waits for its expected hub endpoints (spec §4.5 "polling with
// 0.1 s backoff, no deadline").
const hubPollInterval = 100 * time.Millisecond

// RegistryClient is the subset of the registry proxy the Companion needs.
type RegistryClient interface {
	Register(ctx context.Context, d *types.ServiceDescriptor) error
	UpdateLocalState(ctx context.Context, id string, command types.SteeringCommand) (*types.ServiceDescriptor, error)
	FindAllByCategory(ctx context.Context, category types.Category) ([]*types.ServiceDescriptor, error)
}

// Companion is one per action (spec §4.5). Its Application Manager is
// embedded as a goroutine connected over a private in-process fabric,
// rather than a genuine child OS process — the payload subprocess spawned
// by the Manager is the only real child process in this reimplementation
// (see DESIGN.md).
type Companion struct {
	id           string
	action       types.Action
	registry     RegistryClient
	pinner       affinity.Pinner
	cpu          int
	expectedHubs int

	mgr         *appmanager.Manager
	managerConn transport.Conn
	sub         transport.Subscriber
	push        transport.Conn

	log zerolog.Logger
}

// Config bundles everything New needs to wire a Companion to its
// Manager and to Command & Control.
type Config struct {
	ID           string
	Action       types.Action
	Registry     RegistryClient
	Pinner       affinity.Pinner
	CPU          int
	ExpectedHubs int // only meaningful when Action.Goal == types.GoalSimulator

	// ManagerFabric is the private fabric the Companion and its embedded
	// Manager communicate over; typically a fresh transport.NewMemoryFabric().
	ManagerFabric transport.Fabric

	// CC is the fabric used to reach Command & Control's publish/pull
	// endpoints.
	CC             transport.Fabric
	CCPublishAddr  string
	CCPushAddr     string

	Sampler resources.Sampler
	Writer  resources.Writer
}

// New constructs a Companion and its embedded Manager, but does not start
// either; call Start to begin the steering loop.
func New(ctx context.Context, cfg Config) (*Companion, error) {
	managerID := cfg.ID + "-manager"
	ln, err := cfg.ManagerFabric.Listen(ctx, managerID)
	if err != nil {
		return nil, fmt.Errorf("companion: listen for manager: %w", err)
	}

	mgr := appmanager.NewManager(managerID, cfg.Action, cfg.Registry, ln, cfg.Sampler, cfg.Writer)
	go func() {
		if err := mgr.Run(ctx); err != nil {
			log.WithComponentID(managerID).Error().Err(err).Msg("application manager exited")
		}
	}()

	managerConn, err := cfg.ManagerFabric.Dial(ctx, managerID)
	if err != nil {
		return nil, fmt.Errorf("companion: dial embedded manager: %w", err)
	}

	sub, err := cfg.CC.Subscribe(ctx, cfg.CCPublishAddr)
	if err != nil {
		return nil, fmt.Errorf("companion: subscribe to c&c: %w", err)
	}

	push, err := cfg.CC.Dial(ctx, cfg.CCPushAddr)
	if err != nil {
		return nil, fmt.Errorf("companion: dial c&c push endpoint: %w", err)
	}

	return &Companion{
		id:           cfg.ID,
		action:       cfg.Action,
		registry:     cfg.Registry,
		pinner:       cfg.Pinner,
		cpu:          cfg.CPU,
		expectedHubs: cfg.ExpectedHubs,
		mgr:          mgr,
		managerConn:  managerConn,
		sub:          sub,
		push:         push,
		log:          log.WithComponentID(cfg.ID),
	}, nil
}

// Terminate preemptively tears down the embedded Application Manager's
// payload (spec §4.6). Called from the process's SIGINT/SIGTERM handler,
// before the steering loop's context is cancelled.
func (c *Companion) Terminate() error {
	return c.mgr.Terminate()
}

// Start pins CPU affinity, registers with the registry, and runs the
// steering loop until END, a FATAL event, or ctx cancellation.
func (c *Companion) Start(ctx context.Context) error {
	if c.pinner != nil {
		if err := c.pinner.Pin(ctx, c.cpu); err != nil {
			c.log.Warn().Err(err).Msg("cpu affinity pin failed, continuing unpinned")
		}
	}

	descriptor := &types.ServiceDescriptor{
		ID:       c.id,
		Name:     fmt.Sprintf("companion-%s", c.action.ID),
		Category: types.CategoryApplicationCompanion,
		Status:   types.StatusUp,
		State:    types.StateReady,
	}
	if err := c.registry.Register(ctx, descriptor); err != nil {
		return fmt.Errorf("companion: register: %w", err)
	}

	return c.steeringLoop(ctx)
}

func (c *Companion) steeringLoop(ctx context.Context) error {
	for {
		var cmd types.ControlCommand
		_, err := c.sub.Receive(ctx, &cmd)
		switch {
		case err == transport.ErrTimeout:
			continue
		case err != nil:
			return fmt.Errorf("companion: receive steering command: %w", err)
		}

		if cmd.Command == types.EventFatal {
			c.log.Error().Msg("companion: fatal event received, terminating")
			return ctrlerrors.New(ctrlerrors.KindPeerUnresponsive, "fatal event from c&c", nil)
		}

		reply, terminate := c.handle(ctx, cmd)
		if err := c.push.Send(ctx, reply); err != nil {
			return fmt.Errorf("companion: push reply to c&c: %w", err)
		}
		if terminate {
			return nil
		}
	}
}

func (c *Companion) handle(ctx context.Context, cmd types.ControlCommand) (types.CompanionReply, bool) {
	switch cmd.Command {
	case types.CommandInit:
		return c.handleInit(ctx), false
	case types.CommandStart:
		return c.handleStart(ctx, cmd), false
	case types.CommandEnd:
		return c.handleEnd(ctx), true
	default:
		return c.fatalReply(fmt.Errorf("companion: unsupported steering command %s", cmd.Command)), true
	}
}

func (c *Companion) handleInit(ctx context.Context) types.CompanionReply {
	if _, err := c.registry.UpdateLocalState(ctx, c.id, types.CommandInit); err != nil {
		return c.fatalReply(err)
	}

	params := types.Parameters{}
	if c.action.Goal == types.GoalSimulator {
		endpoints, err := c.awaitHubEndpoints(ctx)
		if err != nil {
			return c.fatalReply(err)
		}
		params.HubEndpoints = endpoints
	}

	var managerReply types.CompanionReply
	if err := c.managerConn.Send(ctx, types.ControlCommand{Command: types.CommandInit, Params: params}); err != nil {
		return c.fatalReply(err)
	}
	if err := c.managerConn.Receive(ctx, &managerReply); err != nil {
		return c.fatalReply(err)
	}
	if managerReply.IsError() {
		return c.fatalReply(fmt.Errorf("companion: manager init failed: %s", managerReply.Error))
	}

	if c.action.Goal == types.GoalHub {
		for i, ep := range managerReply.HubEndpoints {
			endpoint := ep
			hubDescriptor := &types.ServiceDescriptor{
				ID:          fmt.Sprintf("%s-hub-%d", c.id, i),
				Name:        fmt.Sprintf("%s-hub-%d", c.action.ID, endpoint.PID),
				Category:    types.CategoryInterscaleHub,
				Status:      types.StatusUp,
				HubEndpoint: &endpoint,
			}
			if err := c.registry.Register(ctx, hubDescriptor); err != nil {
				return c.fatalReply(err)
			}
		}
		return types.CompanionReply{ActionID: c.action.ID, Result: types.CommandInit}
	}

	managerReply.ActionID = c.action.ID
	return managerReply
}

// awaitHubEndpoints polls the registry for the action's expected hub
// endpoint set, blocking with no deadline (spec §4.5).
func (c *Companion) awaitHubEndpoints(ctx context.Context) ([]types.HubEndpoint, error) {
	ticker := time.NewTicker(hubPollInterval)
	defer ticker.Stop()

	for {
		descriptors, err := c.registry.FindAllByCategory(ctx, types.CategoryInterscaleHub)
		if err != nil {
			return nil, err
		}
		if len(descriptors) >= c.expectedHubs {
			endpoints := make([]types.HubEndpoint, 0, len(descriptors))
			for _, d := range descriptors {
				if d.HubEndpoint != nil {
					endpoints = append(endpoints, *d.HubEndpoint)
				}
			}
			return endpoints, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Companion) handleStart(ctx context.Context, cmd types.ControlCommand) types.CompanionReply {
	if _, err := c.registry.UpdateLocalState(ctx, c.id, types.CommandStart); err != nil {
		return c.fatalReply(err)
	}

	if err := c.managerConn.Send(ctx, types.ControlCommand{Command: types.CommandStart, Params: cmd.Params}); err != nil {
		return c.fatalReply(err)
	}
	var managerReply types.CompanionReply
	if err := c.managerConn.Receive(ctx, &managerReply); err != nil {
		return c.fatalReply(err)
	}
	managerReply.ActionID = c.action.ID
	return managerReply
}

func (c *Companion) handleEnd(ctx context.Context) types.CompanionReply {
	if _, err := c.registry.UpdateLocalState(ctx, c.id, types.CommandEnd); err != nil {
		return c.fatalReply(err)
	}

	if err := c.managerConn.Send(ctx, types.ControlCommand{Command: types.CommandEnd}); err != nil {
		return c.fatalReply(err)
	}
	var managerReply types.CompanionReply
	if err := c.managerConn.Receive(ctx, &managerReply); err != nil {
		return c.fatalReply(err)
	}
	managerReply.ActionID = c.action.ID
	return managerReply
}

func (c *Companion) fatalReply(err error) types.CompanionReply {
	c.log.Error().Err(err).Msg("companion: steering step failed")
	return types.CompanionReply{ActionID: c.action.ID, Result: types.EventStateUpdateFatal, Error: err.Error()}
}
