package wire_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/multiscale/costeer/pkg/types"
	"github.com/multiscale/costeer/pkg/wire"
)

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := types.ControlCommand{Command: types.CommandStart}

	require.NoError(t, wire.WriteMessage(&buf, in))

	var out types.ControlCommand
	require.NoError(t, wire.ReadMessage(&buf, &out))
	require.Equal(t, in, out)
}

func TestPublishRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := types.ControlCommand{Command: types.CommandInit}

	require.NoError(t, wire.WritePublish(&buf, "steering", in))

	var out types.ControlCommand
	topic, err := wire.ReadPublish(&buf, &out)
	require.NoError(t, err)
	require.Equal(t, "steering", topic)
	require.Equal(t, in, out)
}

func TestReadFrame_TruncatedPrefix(t *testing.T) {
	_, err := wire.ReadFrame(bytes.NewReader([]byte{0, 0}))
	require.Error(t, err)
}

func TestMultipleFramesSequentially(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteMessage(&buf, types.ControlCommand{Command: types.CommandInit}))
	require.NoError(t, wire.WriteMessage(&buf, types.ControlCommand{Command: types.CommandStart}))

	var first, second types.ControlCommand
	require.NoError(t, wire.ReadMessage(&buf, &first))
	require.NoError(t, wire.ReadMessage(&buf, &second))
	require.Equal(t, types.CommandInit, first.Command)
	require.Equal(t, types.CommandStart, second.Command)
}
