package cc_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/multiscale/costeer/pkg/cc"
	"github.com/multiscale/costeer/pkg/transport"
	"github.com/multiscale/costeer/pkg/types"
)

type fakeRegistry struct {
	mu          sync.Mutex
	descriptors []*types.ServiceDescriptor
}

func (f *fakeRegistry) Register(ctx context.Context, d *types.ServiceDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.descriptors = append(f.descriptors, d)
	return nil
}

func (f *fakeRegistry) FindAllByCategory(ctx context.Context, category types.Category) ([]*types.ServiceDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.ServiceDescriptor
	for _, d := range f.descriptors {
		if d.Category == category {
			out = append(out, d)
		}
	}
	return out, nil
}

// fakeCompanion mimics the steering-loop side of an Application Companion:
// it echoes every command it receives back onto the push connection.
func fakeCompanion(t *testing.T, ctx context.Context, fabric transport.Fabric, actionID string) {
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
			reply := types.CompanionReply{ActionID: actionID, Result: cmd.Command}
			if err := push.Send(ctx, reply); err != nil {
				return
			}
			if cmd.Command == types.CommandEnd {
				return
			}
		}
	}()
}

func TestServer_AggregatesOneReplyPerCompanion(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fabric := transport.NewMemoryFabric()

	orchLn, err := fabric.Listen(ctx, "cc-reply")
	require.NoError(t, err)
	publisher, err := fabric.NewPublisher(ctx, "steering")
	require.NoError(t, err)
	pullLn, err := fabric.Listen(ctx, "pull")
	require.NoError(t, err)

	registry := &fakeRegistry{}
	require.NoError(t, registry.Register(ctx, &types.ServiceDescriptor{ID: "c1", Category: types.CategoryApplicationCompanion}))
	require.NoError(t, registry.Register(ctx, &types.ServiceDescriptor{ID: "c2", Category: types.CategoryApplicationCompanion}))

	server := cc.NewServer("cc-1", registry, orchLn, publisher, pullLn)
	runErr := make(chan error, 1)
	go func() { runErr <- server.Run(ctx) }()

	fakeCompanion(t, ctx, fabric, "action-1")
	fakeCompanion(t, ctx, fabric, "action-2")

	orchConn, err := fabric.Dial(ctx, "cc-reply")
	require.NoError(t, err)
	defer orchConn.Close()

	// Give both companions time to subscribe and dial before the first
	// broadcast, since MemoryFabric's publish is best-effort.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, orchConn.Send(ctx, types.ControlCommand{Command: types.CommandInit}))
	var replies []types.CompanionReply
	require.NoError(t, orchConn.Receive(ctx, &replies))
	require.Len(t, replies, 2)
	for _, r := range replies {
		require.Equal(t, types.CommandInit, r.Result)
	}

	require.NoError(t, orchConn.Send(ctx, types.ControlCommand{Command: types.CommandEnd}))
	var endReplies []types.CompanionReply
	require.NoError(t, orchConn.Receive(ctx, &endReplies))
	require.Len(t, endReplies, 2)

	require.NoError(t, <-runErr)
}

func TestServer_StateUpdateFatalTerminatesWithoutReply(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fabric := transport.NewMemoryFabric()
	orchLn, err := fabric.Listen(ctx, "cc-reply")
	require.NoError(t, err)
	publisher, err := fabric.NewPublisher(ctx, "steering")
	require.NoError(t, err)
	pullLn, err := fabric.Listen(ctx, "pull")
	require.NoError(t, err)

	server := cc.NewServer("cc-1", &fakeRegistry{}, orchLn, publisher, pullLn)
	runErr := make(chan error, 1)
	go func() { runErr <- server.Run(ctx) }()

	orchConn, err := fabric.Dial(ctx, "cc-reply")
	require.NoError(t, err)
	defer orchConn.Close()

	require.NoError(t, orchConn.Send(ctx, types.ControlCommand{Command: types.EventStateUpdateFatal}))
	require.NoError(t, <-runErr)
}
