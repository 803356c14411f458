package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/multiscale/costeer/pkg/ctrlerrors"
	"github.com/multiscale/costeer/pkg/healthmonitor"
	"github.com/multiscale/costeer/pkg/history"
	"github.com/multiscale/costeer/pkg/log"
	"github.com/multiscale/costeer/pkg/metrics"
	"github.com/multiscale/costeer/pkg/transport"
	"github.com/multiscale/costeer/pkg/types"
)

// RegistryClient is the subset of the registry proxy the Orchestrator needs.
type RegistryClient interface {
	Register(ctx context.Context, d *types.ServiceDescriptor) error
	UpdateLocalState(ctx context.Context, id string, command types.SteeringCommand) (*types.ServiceDescriptor, error)
	UpdateGlobalState(ctx context.Context) (types.LocalState, error)
	CurrentGlobalState(ctx context.Context) (types.LocalState, error)
	Stop(ctx context.Context) error
}

// expectedState is the precondition table from spec §4.7 step 2.
var expectedState = map[types.SteeringCommand]types.LocalState{
	types.CommandInit:  types.StateReady,
	types.CommandStart: types.StateSynchronizing,
	types.CommandEnd:   types.StateRunning,
}

// Config bundles everything New needs to wire an Orchestrator to the rest
// of the control plane.
type Config struct {
	ID       string
	Registry RegistryClient

	// SteeringLn is the Steering Front-End-facing reply socket.
	SteeringLn transport.Listener

	// CC is a Conn dialed to Command & Control's Orchestrator-facing reply
	// socket.
	CC transport.Conn

	// Alarms is the health-monitor consumer's subscription to the Health
	// Status Monitor's alarm topic. Nil disables emergency shutdown (only
	// acceptable in tests that don't exercise it).
	Alarms transport.Subscriber

	// History is optional; when nil, command/transition recording is
	// skipped.
	History *history.Store
}

// Orchestrator is the single-threaded steering command loop (spec §4.7).
type Orchestrator struct {
	id       string
	registry RegistryClient
	steerLn  transport.Listener
	cc       transport.Conn
	alarms   transport.Subscriber
	hist     *history.Store
	log      zerolog.Logger

	globalMinStepSize *float64
	spikeDetectors    []int

	alarmed atomic.Bool
}

// New constructs an Orchestrator. It does not start the loop; call Run.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		id:       cfg.ID,
		registry: cfg.Registry,
		steerLn:  cfg.SteeringLn,
		cc:       cfg.CC,
		alarms:   cfg.Alarms,
		hist:     cfg.History,
		log:      log.WithComponentID(cfg.ID),
	}
}

// Run registers the Orchestrator, then serves the steering loop until END,
// a fatal companion reply, a health alarm, or ctx cancellation.
func (o *Orchestrator) Run(ctx context.Context) error {
	descriptor := &types.ServiceDescriptor{
		ID:       o.id,
		Name:     "orchestrator",
		Category: types.CategoryOrchestrator,
		Status:   types.StatusUp,
		State:    types.StateReady,
	}
	if err := o.registry.Register(ctx, descriptor); err != nil {
		return fmt.Errorf("orchestrator: register: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if o.alarms != nil {
		go o.watchAlarms(runCtx, cancel)
	}

	steeringConn, err := o.steerLn.Accept(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: accept steering connection: %w", err)
	}
	defer steeringConn.Close()

	for {
		var cmd types.ControlCommand
		err := steeringConn.Receive(runCtx, &cmd)
		switch {
		case err == transport.ErrTimeout:
			continue
		case err != nil:
			return o.shutdownError(err)
		}

		reply, terminate, err := o.handleCommand(runCtx, cmd)
		if err != nil {
			return o.shutdownError(err)
		}
		if err := steeringConn.Send(ctx, reply); err != nil {
			return fmt.Errorf("orchestrator: send steering reply: %w", err)
		}
		if terminate {
			return nil
		}
	}
}

// shutdownError reports the health alarm as the cause when the loop's
// context was cancelled by watchAlarms, and the raw error otherwise.
func (o *Orchestrator) shutdownError(err error) error {
	if o.alarmed.Load() {
		return ctrlerrors.New(ctrlerrors.KindPeerUnresponsive, "emergency shutdown: health alarm observed", err)
	}
	return err
}

// watchAlarms consumes the Health Status Monitor's alarm topic (spec §5:
// "Orchestrator additionally runs a health-monitor consumer"). On the
// first alarm it runs the emergency-shutdown procedure and cancels cancel
// to unblock the main loop's pending Receive.
func (o *Orchestrator) watchAlarms(ctx context.Context, cancel context.CancelFunc) {
	for {
		var event healthmonitor.AlarmEvent
		_, err := o.alarms.Receive(ctx, &event)
		switch {
		case err == transport.ErrTimeout:
			continue
		case err != nil:
			return
		}

		o.log.Error().Str("reason", event.Reason).Msg("orchestrator: health alarm observed, emergency shutdown")
		metrics.EmergencyShutdownsTotal.Inc()
		o.alarmed.Store(true)

		if err := o.send(ctx, types.ControlCommand{Command: types.EventFatal}); err != nil {
			o.log.Error().Err(err).Msg("orchestrator: fatal broadcast to c&c failed")
		}
		if err := o.registry.Stop(ctx); err != nil {
			o.log.Error().Err(err).Msg("orchestrator: signal registry stop failed")
		}
		cancel()
		return
	}
}

// handleCommand runs steps 2-9 of spec §4.7 for one steering command.
func (o *Orchestrator) handleCommand(ctx context.Context, cmd types.ControlCommand) (types.SteeringReply, bool, error) {
	expected, ok := expectedState[cmd.Command]
	if !ok {
		metrics.CommandsTotal.WithLabelValues(string(cmd.Command), "error").Inc()
		return types.SteeringReply{Command: cmd.Command, Result: "ERROR", Error: "unsupported steering command"}, false, nil
	}

	if _, err := o.registry.UpdateGlobalState(ctx); err != nil {
		return types.SteeringReply{}, false, fmt.Errorf("orchestrator: recompute global state: %w", err)
	}
	current, err := o.registry.CurrentGlobalState(ctx)
	if err != nil {
		return types.SteeringReply{}, false, fmt.Errorf("orchestrator: read global state: %w", err)
	}
	if current != expected {
		metrics.CommandsTotal.WithLabelValues(string(cmd.Command), "error").Inc()
		return types.SteeringReply{
			Command: cmd.Command,
			Result:  "ERROR",
			Error:   fmt.Sprintf("expected global state %s, got %s", expected, current),
		}, false, nil
	}

	if _, err := o.registry.UpdateLocalState(ctx, o.id, cmd.Command); err != nil {
		o.teardown(ctx, types.EventStateUpdateFatal)
		metrics.CommandsTotal.WithLabelValues(string(cmd.Command), "error").Inc()
		return types.SteeringReply{}, true, ctrlerrors.New(ctrlerrors.KindIllegalStateTransition, "orchestrator local transition", err)
	}

	control := o.packCommand(cmd)

	timer := metrics.NewTimer()
	replies, err := o.sendToCC(ctx, control)
	timer.ObserveDurationVec(metrics.CommandDuration, string(cmd.Command))
	if err != nil {
		return types.SteeringReply{}, false, fmt.Errorf("orchestrator: send to c&c: %w", err)
	}

	if hasFatalReply(replies) {
		o.teardown(ctx, types.EventStateUpdateFatal)
		metrics.CommandsTotal.WithLabelValues(string(cmd.Command), "error").Inc()
		return types.SteeringReply{}, true, ctrlerrors.New(ctrlerrors.KindPeerUnresponsive, "fatal companion reply observed", nil)
	}

	if cmd.Command == types.CommandInit {
		if err := o.extractInitParameters(replies); err != nil {
			o.teardown(ctx, types.EventStateUpdateFatal)
			metrics.CommandsTotal.WithLabelValues(string(cmd.Command), "error").Inc()
			return types.SteeringReply{}, true, err
		}
	}

	if o.hist != nil {
		if err := o.hist.RecordCommand(cmd.Command, "OK"); err != nil {
			o.log.Warn().Err(err).Msg("orchestrator: record command history failed")
		}
	}

	if _, err := o.registry.UpdateGlobalState(ctx); err != nil {
		o.log.Warn().Err(err).Msg("orchestrator: re-validate global state failed")
	}

	metrics.CommandsTotal.WithLabelValues(string(cmd.Command), "ok").Inc()

	terminate := cmd.Command == types.CommandEnd
	if terminate {
		o.logHistory()
		if err := o.registry.Stop(ctx); err != nil {
			o.log.Warn().Err(err).Msg("orchestrator: signal registry stop failed")
		}
	}

	return types.SteeringReply{Command: cmd.Command, Result: "OK"}, terminate, nil
}

// packCommand builds the control command forwarded to C&C, attaching the
// global minimum step size and spike detectors on START (spec §4.7 step 4).
func (o *Orchestrator) packCommand(cmd types.ControlCommand) types.ControlCommand {
	if cmd.Command != types.CommandStart {
		return cmd
	}
	return types.ControlCommand{
		Command: types.CommandStart,
		Params: types.Parameters{
			GlobalMinimumStepSize: o.globalMinStepSize,
			SpikeDetectors:        o.spikeDetectors,
		},
	}
}

func (o *Orchestrator) send(ctx context.Context, cmd types.ControlCommand) error {
	return o.cc.Send(ctx, cmd)
}

// sendToCC forwards control to C&C and waits for the aggregated reply list.
func (o *Orchestrator) sendToCC(ctx context.Context, control types.ControlCommand) ([]types.CompanionReply, error) {
	if err := o.cc.Send(ctx, control); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	var replies []types.CompanionReply
	if err := o.cc.Receive(ctx, &replies); err != nil {
		return nil, fmt.Errorf("receive aggregated reply: %w", err)
	}
	return replies, nil
}

func hasFatalReply(replies []types.CompanionReply) bool {
	for _, r := range replies {
		if r.IsError() {
			return true
		}
	}
	return false
}

// extractInitParameters sets the global minimum step size to the minimum
// of every simulator's reported value, and adopts spike detectors from the
// first reply that carries them (spec §4.7 step 7).
func (o *Orchestrator) extractInitParameters(replies []types.CompanionReply) error {
	var min *float64
	for _, r := range replies {
		if r.SimulatorInit == nil {
			continue
		}
		v := r.SimulatorInit.LocalMinimumStepSize
		if min == nil || v < *min {
			min = &v
		}
		if o.spikeDetectors == nil && len(r.SimulatorInit.SpikeDetectors) > 0 {
			o.spikeDetectors = r.SimulatorInit.SpikeDetectors
		}
	}
	if min == nil {
		return ctrlerrors.New(ctrlerrors.KindResponseParse, "no simulator reported a local minimum step size", nil)
	}
	o.globalMinStepSize = min
	metrics.GlobalMinStepSize.Set(*min)
	return nil
}

// teardown emits cmd to C&C one-way; C&C does not reply to either
// STATE_UPDATE_FATAL or FATAL, so the Orchestrator does not wait.
func (o *Orchestrator) teardown(ctx context.Context, cmd types.SteeringCommand) {
	if err := o.send(ctx, types.ControlCommand{Command: cmd}); err != nil {
		o.log.Error().Err(err).Str("command", string(cmd)).Msg("orchestrator: teardown broadcast failed")
	}
}

// logHistory emits the full recorded command history at END (spec §4.7
// step 9), in addition to whatever pkg/history persisted.
func (o *Orchestrator) logHistory() {
	if o.hist == nil {
		o.log.Info().Msg("orchestrator: workflow ended, no history store configured")
		return
	}
	commands, err := o.hist.Commands()
	if err != nil {
		o.log.Warn().Err(err).Msg("orchestrator: read command history failed")
		return
	}
	for _, entry := range commands {
		o.log.Info().
			Str("command", string(entry.Command)).
			Str("result", entry.Result).
			Time("at", entry.At).
			Msg("orchestrator: history entry")
	}
}
