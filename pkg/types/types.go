package types

import (
	"fmt"
	"time"
)

// Category is the closed set of component roles that can register with the
// registry.
type Category string

const (
	CategoryApplicationCompanion Category = "application-companion"
	CategoryOrchestrator         Category = "orchestrator"
	CategoryCC                   Category = "command-and-control"
	CategorySteering             Category = "steering"
	CategoryInterscaleHub        Category = "interscale-hub"
	CategoryApplicationManager   Category = "application-manager"
	CategoryRegistry             Category = "registry"
)

// Status is the liveness flag maintained by external observation (the
// health monitor or an explicit update), independent of local/global state.
type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)

// LocalState is a member of the shared state enumeration used both as a
// per-component local state and, derived, as the global workflow state.
type LocalState string

const (
	StateInitializing  LocalState = "INITIALIZING"
	StateReady         LocalState = "READY"
	StateSynchronizing LocalState = "SYNCHRONIZING"
	StateRunning       LocalState = "RUNNING"
	StatePaused        LocalState = "PAUSED"
	StateTerminated    LocalState = "TERMINATED"
	StateError         LocalState = "ERROR"
)

// SteeringCommand is one of the user-level workflow commands, plus the two
// internal emergency events injected on the same command channels.
type SteeringCommand string

const (
	CommandInit   SteeringCommand = "INIT"
	CommandStart  SteeringCommand = "START"
	CommandEnd    SteeringCommand = "END"
	CommandPause  SteeringCommand = "PAUSE"
	CommandResume SteeringCommand = "RESUME"
	CommandExit   SteeringCommand = "EXIT"

	// EventFatal and EventStateUpdateFatal are injected into the same
	// command channels as SteeringCommand to trigger emergency shutdown.
	// They are never produced by a Steering Front-End.
	EventFatal             SteeringCommand = "FATAL"
	EventStateUpdateFatal  SteeringCommand = "STATE_UPDATE_FATAL"
)

// Endpoint is the communication endpoint carried by a ServiceDescriptor.
// Exactly one of Queues or Peers is populated, depending on deployment mode.
type Endpoint struct {
	// Queues holds single-node, in-memory queue handles. Populated only in
	// single-host mode.
	Queues *QueuePair `json:"queues,omitempty"`

	// Peers maps a peer category to the (host, port) address this
	// component listens on for that peer in distributed mode.
	Peers map[Category]Address `json:"peers,omitempty"`
}

// QueuePair names the in/out queue handles used in single-host mode. The
// handles themselves live in the process registering the descriptor; the
// registry only ever stores the names, which transport.MemoryFabric
// resolves to the live channels.
type QueuePair struct {
	In  string `json:"in"`
	Out string `json:"out"`
}

// Address is a distributed-mode (host, port) pair.
type Address struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

func (a Address) IsZero() bool {
	return a.Host == "" && a.Port == 0
}

// ServiceDescriptor is one record per registered component. ID is the
// registry key and is immutable, as is Name, Category, and Endpoint. Status
// and State are the only fields that mutate after registration.
type ServiceDescriptor struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Category Category   `json:"category"`
	Endpoint Endpoint   `json:"endpoint"`
	Status   Status     `json:"status"`

	// State is nullable: categories with no local state (CC, Registry)
	// leave this as the empty string and are excluded from global-state
	// derivation.
	State LocalState `json:"state,omitempty"`

	// HubEndpoint is populated only for CategoryInterscaleHub descriptors:
	// the hub payload's own connection record, registered by its
	// Companion during INIT (spec §4.5 "register each record with the
	// registry under category Interscale-Hub").
	HubEndpoint *HubEndpoint `json:"hub_endpoint,omitempty"`
}

// HasState reports whether this descriptor's category tracks a local
// state at all.
func (d *ServiceDescriptor) HasState() bool {
	return d.State != ""
}

// Clone returns a value-copy snapshot safe to hand to a caller outside the
// registry's mutex.
func (d *ServiceDescriptor) Clone() *ServiceDescriptor {
	if d == nil {
		return nil
	}
	cp := *d
	if d.Endpoint.Peers != nil {
		cp.Endpoint.Peers = make(map[Category]Address, len(d.Endpoint.Peers))
		for k, v := range d.Endpoint.Peers {
			cp.Endpoint.Peers[k] = v
		}
	}
	if d.HubEndpoint != nil {
		ep := *d.HubEndpoint
		cp.HubEndpoint = &ep
	}
	return &cp
}

// Direction is the data-exchange direction of an Interscale-Hub endpoint.
type Direction string

const (
	DirectionAToB Direction = "A_TO_B"
	DirectionBToA Direction = "B_TO_A"
)

// IntercommRole is the MPI intercommunicator role of one hub rank.
type IntercommRole string

const (
	IntercommSender   IntercommRole = "sender"
	IntercommReceiver IntercommRole = "receiver"
)

// HubEndpoint is a value produced by a hub payload and registered in the
// registry during INIT; simulator companions poll for the full expected
// set before forwarding INIT onward.
type HubEndpoint struct {
	PID        int           `json:"pid"`
	Direction  Direction     `json:"direction"`
	Role       IntercommRole `json:"intercomm_role"`
	ConnInfo   string        `json:"connection_info"`
}

// SimulatorInit is the parsed INIT-time response from a simulator payload.
type SimulatorInit struct {
	PID                  int     `json:"PID"`
	LocalMinimumStepSize float64 `json:"LOCAL_MINIMUM_STEP_SIZE"`
	SpikeDetectors       []int   `json:"SPIKE_DETECTORS,omitempty"`
}

// ControlCommand is the unit of message transmitted on the steering
// fabric: a steering command plus an optional parameter payload.
type ControlCommand struct {
	Command SteeringCommand `json:"command"`
	Params  Parameters      `json:"params,omitempty"`
}

// Parameters is the optional payload carried by a ControlCommand. Only the
// fields relevant to the command in question are populated.
type Parameters struct {
	GlobalMinimumStepSize *float64      `json:"global_minimum_step_size,omitempty"`
	SpikeDetectors        []int         `json:"spike_detectors,omitempty"`
	HubEndpoints          []HubEndpoint `json:"hub_endpoints,omitempty"`
}

// CompanionReply is what an Application Companion sends back to C&C for a
// given steering command. Exactly one of the optional fields is populated,
// depending on which command produced it.
type CompanionReply struct {
	ActionID      string                  `json:"action_id"`
	Result        SteeringCommand         `json:"result"` // command echoed, or FATAL/STATE_UPDATE_FATAL/ERROR
	SimulatorInit *SimulatorInit          `json:"simulator_init,omitempty"`
	HubEndpoints  []HubEndpoint           `json:"hub_endpoints,omitempty"`
	ResourceUsage []ResourceUsageSummary  `json:"resource_usage,omitempty"`
	Error         string                  `json:"error,omitempty"`
}

// IsError reports whether this reply signals an error condition that the
// Orchestrator must treat as fatal (spec §4.7 step 6).
func (r CompanionReply) IsError() bool {
	switch r.Result {
	case EventFatal, EventStateUpdateFatal, SteeringCommand("ERROR"):
		return true
	default:
		return r.Error != ""
	}
}

// SteeringReply is what the Orchestrator sends back to the Steering
// Front-End for one command (spec §4.7: "reply OK or ERROR accordingly").
type SteeringReply struct {
	Command SteeringCommand `json:"command"`
	Result  string          `json:"result"` // "OK" or "ERROR"
	Error   string          `json:"error,omitempty"`
}

// ResourceUsageSample is one ~1Hz observation of a monitored payload PID.
type ResourceUsageSample struct {
	PID        int       `json:"pid"`
	At         time.Time `json:"at"`
	CPUPercent float64   `json:"cpu_percent"`
	RSSBytes   uint64    `json:"rss_bytes"`
}

// ResourceUsageSummary aggregates the samples collected for one PID over
// the lifetime of a START command.
type ResourceUsageSummary struct {
	PID           int       `json:"pid"`
	Samples       int       `json:"samples"`
	CPUPercentAvg float64   `json:"cpu_percent_avg"`
	CPUPercentMax float64   `json:"cpu_percent_max"`
	RSSBytesAvg   uint64    `json:"rss_bytes_avg"`
	RSSBytesMax   uint64    `json:"rss_bytes_max"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
}

// HealthRecord is the registry's derived health snapshot.
type HealthRecord struct {
	Uptime         time.Time  `json:"uptime"`
	GlobalState    LocalState `json:"global_state"`
	GlobalStatus   Status     `json:"global_status"`
	LastUpdatedAt  time.Time  `json:"last_updated_at"`
}

// Action describes a single payload to launch: its command line and
// whether it is a simulator or an interscale hub. The symbolic Goal field
// is the only supported way to distinguish the two (spec.md §9 design
// note: hard-coded action-id strings like "action_004" are not used here).
type Action struct {
	ID   string   `json:"action_id"`
	Goal Goal     `json:"action_goal"`
	Cmd  []string `json:"cmd"`

	// Ranks is the number of MPI ranks a hub payload reports during INIT,
	// one MPI_CONNECTION_INFO literal per rank. Unused for simulators.
	Ranks int `json:"ranks,omitempty"`
}

// Goal is the symbolic role of an Action's payload.
type Goal string

const (
	GoalSimulator Goal = "simulator"
	GoalHub       Goal = "interscale-hub"
)
