/*
Package types defines the shared data model for the control plane: service
descriptors, the local/global state enumeration, steering commands, and the
wire-level records exchanged between the Registry, Orchestrator, C&C,
Application Companions, and Application Managers.

# Core types

  - ServiceDescriptor: one record per registered component. ID is the
    registry key; Name, Category, and Endpoint are immutable; Status and
    State are the only fields that mutate after registration.
  - LocalState: the seven-member enumeration {INITIALIZING, READY,
    SYNCHRONIZING, RUNNING, PAUSED, TERMINATED, ERROR} used both as a
    per-component local state and, derived, as the global workflow state.
  - SteeringCommand: {INIT, START, END, PAUSE, RESUME, EXIT} plus the two
    internal events FATAL and STATE_UPDATE_FATAL injected on the same
    channels to trigger emergency shutdown.
  - ControlCommand: the unit of message sent on the steering fabric — a
    SteeringCommand plus an optional Parameters payload.
  - HubEndpoint / SimulatorInit: the structured shapes parsed out of a
    payload's stdout at INIT time (see pkg/stdoutparser).

Every type here is a plain value: no behavior, no goroutines, no
synchronization. Mutation rules live in pkg/fsm; concurrency-safe access to
the authoritative descriptor set lives in pkg/registry.
*/
package types
