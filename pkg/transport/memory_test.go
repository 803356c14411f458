package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/multiscale/costeer/pkg/transport"
	"github.com/multiscale/costeer/pkg/types"
)

func TestMemoryFabric_RequestReply(t *testing.T) {
	f := transport.NewMemoryFabric()
	ctx := context.Background()

	ln, err := f.Listen(ctx, "orchestrator")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept(ctx)
		require.NoError(t, err)
		defer conn.Close()

		var cmd types.ControlCommand
		require.NoError(t, conn.Receive(ctx, &cmd))
		require.Equal(t, types.CommandInit, cmd.Command)
		require.NoError(t, conn.Send(ctx, types.CompanionReply{Result: types.CommandInit}))
	}()

	client, err := f.Dial(ctx, "orchestrator")
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Send(ctx, types.ControlCommand{Command: types.CommandInit}))

	var reply types.CompanionReply
	require.NoError(t, client.Receive(ctx, &reply))
	require.Equal(t, types.CommandInit, reply.Result)

	<-serverDone
}

func TestMemoryFabric_DialWithoutListenerFails(t *testing.T) {
	f := transport.NewMemoryFabric()
	_, err := f.Dial(context.Background(), "nobody-home")
	require.Error(t, err)
}

func TestMemoryFabric_PubSubFanOut(t *testing.T) {
	f := transport.NewMemoryFabric()
	ctx := context.Background()

	pub, err := f.NewPublisher(ctx, "steering")
	require.NoError(t, err)
	defer pub.Close()

	sub1, err := f.Subscribe(ctx, "steering")
	require.NoError(t, err)
	defer sub1.Close()

	sub2, err := f.Subscribe(ctx, "steering")
	require.NoError(t, err)
	defer sub2.Close()

	require.NoError(t, pub.Publish(ctx, "steering", types.ControlCommand{Command: types.CommandStart}))

	for _, sub := range []transport.Subscriber{sub1, sub2} {
		var cmd types.ControlCommand
		topic, err := sub.Receive(ctx, &cmd)
		require.NoError(t, err)
		require.Equal(t, "steering", topic)
		require.Equal(t, types.CommandStart, cmd.Command)
	}
}

func TestMemoryFabric_ReceiveTimesOutWithoutMessage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping long timeout test in short mode")
	}
	f := transport.NewMemoryFabric()
	ctx := context.Background()

	ln, err := f.Listen(ctx, "slow")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		_, _ = f.Dial(ctx, "slow")
	}()

	conn, err := ln.Accept(ctx)
	require.NoError(t, err)
	defer conn.Close()

	deadline, cancel := context.WithTimeout(ctx, transport.ReceiveTimeout+2*time.Second)
	defer cancel()
	var v types.ControlCommand
	err = conn.Receive(deadline, &v)
	require.ErrorIs(t, err, transport.ErrTimeout)
}
