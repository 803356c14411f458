package fsm_test

import (
	"testing"

	"github.com/multiscale/costeer/pkg/ctrlerrors"
	"github.com/multiscale/costeer/pkg/fsm"
	"github.com/multiscale/costeer/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition_LegalEdges(t *testing.T) {
	cases := []struct {
		from types.LocalState
		cmd  types.SteeringCommand
		to   types.LocalState
	}{
		{types.StateReady, types.CommandInit, types.StateSynchronizing},
		{types.StateSynchronizing, types.CommandStart, types.StateRunning},
		{types.StateRunning, types.CommandPause, types.StatePaused},
		{types.StateRunning, types.CommandEnd, types.StateTerminated},
		{types.StatePaused, types.CommandResume, types.StateRunning},
	}

	for _, c := range cases {
		to, err := fsm.Transition(c.from, c.cmd)
		require.NoError(t, err)
		assert.Equal(t, c.to, to)
	}
}

func TestTransition_IllegalEdge(t *testing.T) {
	to, err := fsm.Transition(types.StateReady, types.CommandStart)
	assert.Equal(t, types.StateError, to)
	require.Error(t, err)
	assert.True(t, ctrlerrors.Is(err, ctrlerrors.KindIllegalStateTransition))
}

func TestApply_AcceptedTransitionSetsToState(t *testing.T) {
	d := &types.ServiceDescriptor{State: types.StateReady}
	err := fsm.Apply(d, types.CommandInit)
	require.NoError(t, err)
	assert.Equal(t, types.StateSynchronizing, d.State)
}

func TestApply_RejectedTransitionSetsError(t *testing.T) {
	d := &types.ServiceDescriptor{State: types.StateReady}
	err := fsm.Apply(d, types.CommandEnd)
	require.Error(t, err)
	assert.Equal(t, types.StateError, d.State)
}

func descriptor(status types.Status, state types.LocalState) *types.ServiceDescriptor {
	return &types.ServiceDescriptor{Status: status, State: state}
}

func TestDeriveGlobalState_AllUpSameState(t *testing.T) {
	ds := []*types.ServiceDescriptor{
		descriptor(types.StatusUp, types.StateRunning),
		descriptor(types.StatusUp, types.StateRunning),
		descriptor(types.StatusUp, ""), // C&C-like: stateless, excluded from C2
	}
	assert.Equal(t, types.StateRunning, fsm.DeriveGlobalState(ds))
}

func TestDeriveGlobalState_OneDown(t *testing.T) {
	ds := []*types.ServiceDescriptor{
		descriptor(types.StatusUp, types.StateRunning),
		descriptor(types.StatusDown, types.StateRunning),
	}
	assert.Equal(t, types.StateError, fsm.DeriveGlobalState(ds))
}

func TestDeriveGlobalState_DivergentStates(t *testing.T) {
	ds := []*types.ServiceDescriptor{
		descriptor(types.StatusUp, types.StateRunning),
		descriptor(types.StatusUp, types.StatePaused),
	}
	assert.Equal(t, types.StateError, fsm.DeriveGlobalState(ds))
}

func TestDeriveGlobalState_Idempotent(t *testing.T) {
	ds := []*types.ServiceDescriptor{
		descriptor(types.StatusUp, types.StateReady),
	}
	first := fsm.DeriveGlobalState(ds)
	second := fsm.DeriveGlobalState(ds)
	assert.Equal(t, first, second)
}
