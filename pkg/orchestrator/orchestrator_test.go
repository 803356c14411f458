package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/multiscale/costeer/pkg/cc"
	"github.com/multiscale/costeer/pkg/healthmonitor"
	"github.com/multiscale/costeer/pkg/orchestrator"
	"github.com/multiscale/costeer/pkg/transport"
	"github.com/multiscale/costeer/pkg/types"
)

// fakeRegistry is a stub RegistryClient whose global state is driven
// directly by the test, since computing it for real is registry's job
// and is exercised by pkg/registry's own tests.
type fakeRegistry struct {
	mu          sync.Mutex
	state       types.LocalState
	companions  []*types.ServiceDescriptor
	transitions []types.SteeringCommand
	stopped     bool
}

func (f *fakeRegistry) Register(ctx context.Context, d *types.ServiceDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.companions = append(f.companions, d)
	return nil
}

func (f *fakeRegistry) UpdateLocalState(ctx context.Context, id string, command types.SteeringCommand) (*types.ServiceDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, command)
	return &types.ServiceDescriptor{ID: id}, nil
}

func (f *fakeRegistry) UpdateGlobalState(ctx context.Context) (types.LocalState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeRegistry) CurrentGlobalState(ctx context.Context) (types.LocalState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeRegistry) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeRegistry) setState(s types.LocalState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

// fakeCompanion mirrors pkg/cc's test helper: subscribe to steering,
// reply on pull with whatever the test wants for the given command.
func fakeCompanion(t *testing.T, ctx context.Context, fabric transport.Fabric, reply func(cmd types.ControlCommand) types.CompanionReply) {
	t.Helper()
	sub, err := fabric.Subscribe(ctx, "steering")
	require.NoError(t, err)
	push, err := fabric.Dial(ctx, "pull")
	require.NoError(t, err)

	go func() {
		for {
			var cmd types.ControlCommand
			_, err := sub.Receive(ctx, &cmd)
			if err != nil {
				return
			}
			if err := push.Send(ctx, reply(cmd)); err != nil {
				return
			}
			if cmd.Command == types.CommandEnd {
				return
			}
		}
	}()
}

// harness wires a real cc.Server between the Orchestrator and a set of
// fake companions, all over one MemoryFabric.
type harness struct {
	fabric   *transport.MemoryFabric
	registry *fakeRegistry
	cc       *cc.Server
	ccErr    chan error
}

func newHarness(t *testing.T, ctx context.Context) *harness {
	t.Helper()
	fabric := transport.NewMemoryFabric()

	ccOrchLn, err := fabric.Listen(ctx, "cc-reply")
	require.NoError(t, err)
	publisher, err := fabric.NewPublisher(ctx, "steering")
	require.NoError(t, err)
	pullLn, err := fabric.Listen(ctx, "pull")
	require.NoError(t, err)

	registry := &fakeRegistry{}
	server := cc.NewServer("cc-1", ccRegistryAdapter{registry}, ccOrchLn, publisher, pullLn)
	ccErr := make(chan error, 1)
	go func() { ccErr <- server.Run(ctx) }()

	return &harness{fabric: fabric, registry: registry, cc: server, ccErr: ccErr}
}

// ccRegistryAdapter satisfies pkg/cc's RegistryClient (Register plus
// FindAllByCategory) on top of the shared fakeRegistry.
type ccRegistryAdapter struct{ *fakeRegistry }

func (a ccRegistryAdapter) FindAllByCategory(ctx context.Context, category types.Category) ([]*types.ServiceDescriptor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*types.ServiceDescriptor
	for _, d := range a.companions {
		if d.Category == category {
			out = append(out, d)
		}
	}
	return out, nil
}

func TestOrchestrator_InitStartEndHappyPath(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := newHarness(t, ctx)
	h.registry.setState(types.StateReady)
	require.NoError(t, h.registry.Register(ctx, &types.ServiceDescriptor{ID: "sim-1", Category: types.CategoryApplicationCompanion}))
	require.NoError(t, h.registry.Register(ctx, &types.ServiceDescriptor{ID: "sim-2", Category: types.CategoryApplicationCompanion}))

	fakeCompanion(t, ctx, h.fabric, func(cmd types.ControlCommand) types.CompanionReply {
		if cmd.Command == types.CommandInit {
			return types.CompanionReply{ActionID: "sim-1", Result: cmd.Command, SimulatorInit: &types.SimulatorInit{PID: 1, LocalMinimumStepSize: 0.5}}
		}
		return types.CompanionReply{ActionID: "sim-1", Result: cmd.Command}
	})
	fakeCompanion(t, ctx, h.fabric, func(cmd types.ControlCommand) types.CompanionReply {
		if cmd.Command == types.CommandInit {
			return types.CompanionReply{ActionID: "sim-2", Result: cmd.Command, SimulatorInit: &types.SimulatorInit{PID: 2, LocalMinimumStepSize: 0.1}}
		}
		return types.CompanionReply{ActionID: "sim-2", Result: cmd.Command}
	})

	time.Sleep(50 * time.Millisecond)

	steerLn, err := h.fabric.Listen(ctx, "steering")
	require.NoError(t, err)
	ccConn, err := h.fabric.Dial(ctx, "cc-reply")
	require.NoError(t, err)

	orch := orchestrator.New(orchestrator.Config{
		ID:         "orch-1",
		Registry:   h.registry,
		SteeringLn: steerLn,
		CC:         ccConn,
	})
	orchErr := make(chan error, 1)
	go func() { orchErr <- orch.Run(ctx) }()

	steerConn, err := h.fabric.Dial(ctx, "steering")
	require.NoError(t, err)
	defer steerConn.Close()

	require.NoError(t, steerConn.Send(ctx, types.ControlCommand{Command: types.CommandInit}))
	var reply types.SteeringReply
	require.NoError(t, steerConn.Receive(ctx, &reply))
	require.Equal(t, "OK", reply.Result)

	h.registry.setState(types.StateSynchronizing)
	require.NoError(t, steerConn.Send(ctx, types.ControlCommand{Command: types.CommandStart}))
	require.NoError(t, steerConn.Receive(ctx, &reply))
	require.Equal(t, "OK", reply.Result)

	h.registry.setState(types.StateRunning)
	require.NoError(t, steerConn.Send(ctx, types.ControlCommand{Command: types.CommandEnd}))
	require.NoError(t, steerConn.Receive(ctx, &reply))
	require.Equal(t, "OK", reply.Result)

	require.NoError(t, <-orchErr)
	require.NoError(t, <-h.ccErr)
	require.True(t, h.registry.stopped)
}

func TestOrchestrator_RejectsInitWhenGlobalStateNotReady(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := newHarness(t, ctx)
	h.registry.setState(types.StateInitializing)

	steerLn, err := h.fabric.Listen(ctx, "steering")
	require.NoError(t, err)
	ccConn, err := h.fabric.Dial(ctx, "cc-reply")
	require.NoError(t, err)

	orch := orchestrator.New(orchestrator.Config{
		ID:         "orch-1",
		Registry:   h.registry,
		SteeringLn: steerLn,
		CC:         ccConn,
	})
	go orch.Run(ctx)

	steerConn, err := h.fabric.Dial(ctx, "steering")
	require.NoError(t, err)
	defer steerConn.Close()

	require.NoError(t, steerConn.Send(ctx, types.ControlCommand{Command: types.CommandInit}))
	var reply types.SteeringReply
	require.NoError(t, steerConn.Receive(ctx, &reply))
	require.Equal(t, "ERROR", reply.Result)
	require.Empty(t, h.registry.transitions)
}

func TestOrchestrator_FatalCompanionReplyTearsDown(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := newHarness(t, ctx)
	h.registry.setState(types.StateReady)
	require.NoError(t, h.registry.Register(ctx, &types.ServiceDescriptor{ID: "sim-1", Category: types.CategoryApplicationCompanion}))

	fakeCompanion(t, ctx, h.fabric, func(cmd types.ControlCommand) types.CompanionReply {
		return types.CompanionReply{ActionID: "sim-1", Result: types.EventFatal, Error: "payload crashed"}
	})
	time.Sleep(50 * time.Millisecond)

	steerLn, err := h.fabric.Listen(ctx, "steering")
	require.NoError(t, err)
	ccConn, err := h.fabric.Dial(ctx, "cc-reply")
	require.NoError(t, err)

	orch := orchestrator.New(orchestrator.Config{
		ID:         "orch-1",
		Registry:   h.registry,
		SteeringLn: steerLn,
		CC:         ccConn,
	})
	orchErr := make(chan error, 1)
	go func() { orchErr <- orch.Run(ctx) }()

	steerConn, err := h.fabric.Dial(ctx, "steering")
	require.NoError(t, err)
	defer steerConn.Close()

	require.NoError(t, steerConn.Send(ctx, types.ControlCommand{Command: types.CommandInit}))
	require.Error(t, <-orchErr)
}

func TestOrchestrator_HealthAlarmTriggersEmergencyShutdown(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fabric := transport.NewMemoryFabric()
	registry := &fakeRegistry{}
	registry.setState(types.StateRunning)

	ccOrchLn, err := fabric.Listen(ctx, "cc-reply")
	require.NoError(t, err)
	publisher, err := fabric.NewPublisher(ctx, "steering")
	require.NoError(t, err)
	pullLn, err := fabric.Listen(ctx, "pull")
	require.NoError(t, err)
	server := cc.NewServer("cc-1", ccRegistryAdapter{registry}, ccOrchLn, publisher, pullLn)
	ccErr := make(chan error, 1)
	go func() { ccErr <- server.Run(ctx) }()

	alarmPub, err := fabric.NewPublisher(ctx, healthmonitor.AlarmTopic)
	require.NoError(t, err)
	alarmSub, err := fabric.Subscribe(ctx, healthmonitor.AlarmTopic)
	require.NoError(t, err)

	steerLn, err := fabric.Listen(ctx, "steering")
	require.NoError(t, err)
	ccConn, err := fabric.Dial(ctx, "cc-reply")
	require.NoError(t, err)

	orch := orchestrator.New(orchestrator.Config{
		ID:         "orch-1",
		Registry:   registry,
		SteeringLn: steerLn,
		CC:         ccConn,
		Alarms:     alarmSub,
	})
	orchErr := make(chan error, 1)
	go func() { orchErr <- orch.Run(ctx) }()

	// Steering connects so Run's Accept unblocks, but never sends a command.
	_, err = fabric.Dial(ctx, "steering")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, alarmPub.Publish(ctx, healthmonitor.AlarmTopic, healthmonitor.AlarmEvent{At: time.Now(), Reason: "test"}))

	err = <-orchErr
	require.Error(t, err)
	require.True(t, registry.stopped)
}
