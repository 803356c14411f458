// Package fsm implements the dual-layer state machine: the per-component
// local transition table and the derived global-state rule. Both are pure
// functions over types.ServiceDescriptor values; pkg/registry is the only
// caller permitted to apply them to the authoritative descriptor set.
package fsm

import (
	"github.com/multiscale/costeer/pkg/ctrlerrors"
	"github.com/multiscale/costeer/pkg/types"
)

// edge is a (from, command) pair in the local transition table.
type edge struct {
	from    types.LocalState
	command types.SteeringCommand
}

// transitions is the complete graph of legal local-state moves. Any
// (from, command) pair absent from this table is illegal.
var transitions = map[edge]types.LocalState{
	{types.StateReady, types.CommandInit}:         types.StateSynchronizing,
	{types.StateSynchronizing, types.CommandStart}: types.StateRunning,
	{types.StateRunning, types.CommandPause}:        types.StatePaused,
	{types.StateRunning, types.CommandEnd}:          types.StateTerminated,
	{types.StatePaused, types.CommandResume}:        types.StateRunning,
}

// Transition applies command to a descriptor currently in state from,
// returning the resulting state. If the (from, command) pair is not a
// legal edge, it returns StateError and a *ctrlerrors.Error of kind
// KindIllegalStateTransition — the descriptor still transitions, to ERROR,
// matching spec §4.1 ("any other pair produces ERROR and drives the
// descriptor to ERROR").
func Transition(from types.LocalState, command types.SteeringCommand) (types.LocalState, error) {
	if to, ok := transitions[edge{from, command}]; ok {
		return to, nil
	}
	return types.StateError, ctrlerrors.New(
		ctrlerrors.KindIllegalStateTransition,
		"no legal edge from "+string(from)+" on "+string(command),
		nil,
	)
}

// Apply transitions descriptor.State in place per Transition's rule,
// always leaving the descriptor in a valid post-state (the target state on
// success, ERROR on failure). It returns the same error Transition would.
func Apply(d *types.ServiceDescriptor, command types.SteeringCommand) error {
	to, err := Transition(d.State, command)
	d.State = to
	return err
}

// DeriveGlobalState computes the global state from a descriptor set per
// spec §4.1: (C1) every descriptor has status UP, and (C2) all stateful
// descriptors share a single local state. If both hold, the global state
// is that shared state; otherwise it is StateError. An empty descriptor
// set has no meaningful shared state and is reported as StateError too,
// since the registry always holds at least its own descriptor once
// anything is registered.
func DeriveGlobalState(descriptors []*types.ServiceDescriptor) types.LocalState {
	shared := types.LocalState("")
	sawStateful := false

	for _, d := range descriptors {
		if d.Status != types.StatusUp {
			return types.StateError
		}
		if !d.HasState() {
			continue
		}
		sawStateful = true
		if shared == "" {
			shared = d.State
		} else if shared != d.State {
			return types.StateError
		}
	}

	if !sawStateful || shared == "" {
		return types.StateError
	}
	return shared
}
