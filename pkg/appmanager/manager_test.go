package appmanager_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/multiscale/costeer/pkg/appmanager"
	"github.com/multiscale/costeer/pkg/transport"
	"github.com/multiscale/costeer/pkg/types"
)

type fakeRegistry struct {
	registered []*types.ServiceDescriptor
}

func (f *fakeRegistry) Register(ctx context.Context, d *types.ServiceDescriptor) error {
	f.registered = append(f.registered, d)
	return nil
}

func simulatorScript(pid string) string {
	return fmt.Sprintf(`echo "booting"; echo "LOCAL_MINIMUM_STEP_SIZE response {'PID': %s, 'LOCAL_MINIMUM_STEP_SIZE': 0.1}"; read line; echo "got $line" 1>&2; exit 0`, pid)
}

func TestManager_SimulatorInitStartEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fabric := transport.NewMemoryFabric()
	ln, err := fabric.Listen(ctx, "manager-1")
	require.NoError(t, err)

	action := types.Action{ID: "action-1", Goal: types.GoalSimulator, Cmd: []string{"/bin/sh", "-c", simulatorScript("4711")}}
	reg := &fakeRegistry{}
	m := appmanager.NewManager("mgr-1", action, reg, ln, nil, nil)

	runErr := make(chan error, 1)
	go func() { runErr <- m.Run(ctx) }()

	conn, err := fabric.Dial(ctx, "manager-1")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(ctx, types.ControlCommand{Command: types.CommandInit}))
	var initReply types.CompanionReply
	require.NoError(t, conn.Receive(ctx, &initReply))
	require.Equal(t, types.CommandInit, initReply.Result)
	require.NotNil(t, initReply.SimulatorInit)
	require.Equal(t, 4711, initReply.SimulatorInit.PID)

	require.NoError(t, conn.Send(ctx, types.ControlCommand{Command: types.CommandStart}))
	var startReply types.CompanionReply
	require.NoError(t, conn.Receive(ctx, &startReply))
	require.Equal(t, types.CommandStart, startReply.Result)

	require.NoError(t, conn.Send(ctx, types.ControlCommand{Command: types.CommandEnd}))
	var endReply types.CompanionReply
	require.NoError(t, conn.Receive(ctx, &endReply))
	require.Equal(t, types.CommandEnd, endReply.Result)

	require.NoError(t, <-runErr)
	require.Len(t, reg.registered, 1)
	require.Equal(t, types.CategoryApplicationManager, reg.registered[0].Category)
}

func TestManager_SimulatorMissingLiteralErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fabric := transport.NewMemoryFabric()
	ln, err := fabric.Listen(ctx, "manager-2")
	require.NoError(t, err)

	action := types.Action{ID: "action-2", Goal: types.GoalSimulator, Cmd: []string{"/bin/sh", "-c", "echo only noise; exit 0"}}
	m := appmanager.NewManager("mgr-2", action, &fakeRegistry{}, ln, nil, nil)

	go m.Run(ctx)

	conn, err := fabric.Dial(ctx, "manager-2")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(ctx, types.ControlCommand{Command: types.CommandInit}))
	var reply types.CompanionReply
	require.NoError(t, conn.Receive(ctx, &reply))
	require.True(t, reply.IsError())
}
