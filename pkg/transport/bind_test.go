package transport_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/multiscale/costeer/pkg/ctrlerrors"
	"github.com/multiscale/costeer/pkg/transport"
)

func TestBindInRange_FindsFreePort(t *testing.T) {
	ln, err := transport.BindInRange("127.0.0.1", 20000, 20050)
	require.NoError(t, err)
	defer ln.Close()
	require.NotEmpty(t, ln.Addr().String())
}

func TestBindInRange_ExhaustedRangeFails(t *testing.T) {
	first, err := transport.BindInRange("127.0.0.1", 20100, 20100)
	require.NoError(t, err)
	defer first.Close()

	_, err = transport.BindInRange("127.0.0.1", 20100, 20100)
	require.Error(t, err)
	require.True(t, ctrlerrors.Is(err, ctrlerrors.KindEndpointBind))
}

func TestBindInRange_EmptyRangeFails(t *testing.T) {
	_, err := transport.BindInRange("127.0.0.1", 20200, 20100)
	require.Error(t, err)
	require.True(t, ctrlerrors.Is(err, ctrlerrors.KindEndpointBind))
}
