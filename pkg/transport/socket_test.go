package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/multiscale/costeer/pkg/security"
	"github.com/multiscale/costeer/pkg/transport"
	"github.com/multiscale/costeer/pkg/types"
)

func newSocketFabric(t *testing.T) *transport.SocketFabric {
	t.Helper()
	cert, err := security.GenerateSelfSignedCert("localhost")
	require.NoError(t, err)
	return transport.NewSocketFabric(cert, []byte("shared-secret"), 21000, 21100)
}

func TestSocketFabric_RequestReply(t *testing.T) {
	f := newSocketFabric(t)
	ctx := context.Background()

	ln, err := f.Listen(ctx, "127.0.0.1")
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

	client, err := f.Dial(ctx, ln.Addr())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Send(ctx, types.ControlCommand{Command: types.CommandInit}))

	var reply types.CompanionReply
	require.NoError(t, client.Receive(ctx, &reply))
	require.Equal(t, types.CommandInit, reply.Result)

	<-serverDone
}

func TestSocketFabric_WrongPresharedKeyRejected(t *testing.T) {
	f := newSocketFabric(t)
	ctx := context.Background()

	ln, err := f.Listen(ctx, "127.0.0.1")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		_, _ = ln.Accept(ctx)
	}()

	imposter := transport.NewSocketFabric(f.Cert, []byte("wrong-secret"), 21000, 21100)
	_, err = imposter.Dial(ctx, ln.Addr())
	require.Error(t, err)
}

func TestSocketFabric_PubSubFanOut(t *testing.T) {
	f := newSocketFabric(t)
	ctx := context.Background()

	pub, err := f.NewPublisher(ctx, "127.0.0.1")
	require.NoError(t, err)
	defer pub.Close()

	addressable, ok := pub.(interface{ Addr() string })
	require.True(t, ok, "socket publisher must expose its bound address")

	sub, err := f.Subscribe(ctx, addressable.Addr())
	require.NoError(t, err)
	defer sub.Close()

	// The publisher's accept loop registers the connection shortly after
	// Subscribe's handshake completes; keep publishing until one lands
	// rather than assume a fixed registration delay.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = pub.Publish(ctx, "steering", types.ControlCommand{Command: types.CommandStart})
			case <-stop:
				return
			}
		}
	}()

	var cmd types.ControlCommand
	topic, err := sub.Receive(ctx, &cmd)
	require.NoError(t, err)
	require.Equal(t, "steering", topic)
	require.Equal(t, types.CommandStart, cmd.Command)
}
