package appmanager

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/multiscale/costeer/pkg/ctrlerrors"
	"github.com/multiscale/costeer/pkg/log"
	"github.com/multiscale/costeer/pkg/metrics"
	"github.com/multiscale/costeer/pkg/resources"
	"github.com/multiscale/costeer/pkg/stdoutparser"
	"github.com/multiscale/costeer/pkg/transport"
	"github.com/multiscale/costeer/pkg/types"
)

// terminationGrace is how long Terminate waits after SIGTERM before
// escalating to SIGKILL (spec §4.6 "waits ≤1 s").
const terminationGrace = time.Second

// killGrace is the further bounded wait after SIGKILL before giving up
// and logging a critical failure (spec §4.6 "a further bounded wait").
const killGrace = 2 * time.Second

// RegistryClient is the subset of the registry proxy the Manager needs.
type RegistryClient interface {
	Register(ctx context.Context, d *types.ServiceDescriptor) error
}

// payloadState tracks the single spawned payload process. doneCh is
// closed exactly once, by the sole goroutine that calls cmd.Wait(), so
// both the steering loop and an async Terminate() can observe completion
// without racing on a second Wait() call.
type payloadState struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	doneCh chan struct{}

	mu      sync.Mutex
	exitErr error
}

func (p *payloadState) awaitExit() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Manager supervises one payload process for one Action (spec §4.6).
type Manager struct {
	id       string
	action   types.Action
	registry RegistryClient
	listener transport.Listener
	sampler  resources.Sampler
	writer   resources.Writer
	log      zerolog.Logger

	payload  *payloadState
	pids     []int
	monitors map[int]*resources.Monitor
}

// NewManager creates a Manager for action, listening for Companion
// commands on ln.
func NewManager(id string, action types.Action, registryClient RegistryClient, ln transport.Listener, sampler resources.Sampler, writer resources.Writer) *Manager {
	return &Manager{
		id:       id,
		action:   action,
		registry: registryClient,
		listener: ln,
		sampler:  sampler,
		writer:   writer,
		log:      log.WithAction(action.ID),
		monitors: make(map[int]*resources.Monitor),
	}
}

// Run registers the Manager and serves Companion commands until END or ctx
// is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	descriptor := &types.ServiceDescriptor{
		ID:       m.id,
		Name:     fmt.Sprintf("manager-%s", m.action.ID),
		Category: types.CategoryApplicationManager,
		Status:   types.StatusUp,
	}
	if err := m.registry.Register(ctx, descriptor); err != nil {
		return fmt.Errorf("appmanager: register: %w", err)
	}

	conn, err := m.listener.Accept(ctx)
	if err != nil {
		return fmt.Errorf("appmanager: accept companion connection: %w", err)
	}
	defer conn.Close()

	for {
		var cmd types.ControlCommand
		err := conn.Receive(ctx, &cmd)
		switch {
		case err == transport.ErrTimeout:
			continue
		case err != nil:
			return fmt.Errorf("appmanager: receive command: %w", err)
		}

		reply := m.handle(ctx, cmd)
		if err := conn.Send(ctx, reply); err != nil {
			return fmt.Errorf("appmanager: send reply: %w", err)
		}
		if cmd.Command == types.CommandEnd {
			return nil
		}
	}
}

func (m *Manager) handle(ctx context.Context, cmd types.ControlCommand) types.CompanionReply {
	switch cmd.Command {
	case types.CommandInit:
		return m.handleInit(ctx)
	case types.CommandStart:
		return m.handleStart(ctx, cmd)
	case types.CommandEnd:
		return m.handleEnd()
	default:
		return m.errorReply(fmt.Errorf("appmanager: unsupported command %s", cmd.Command))
	}
}

// sanitizeArgs trims whitespace from every argument. Per design note, an
// argument that trims down to nothing is left unstripped rather than
// collapsed to an empty string.
func sanitizeArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if trimmed := strings.TrimSpace(a); trimmed != "" {
			out[i] = trimmed
		} else {
			out[i] = a
		}
	}
	return out
}

func (m *Manager) handleInit(ctx context.Context) types.CompanionReply {
	args := sanitizeArgs(m.action.Cmd)
	if len(args) == 0 {
		return m.errorReply(ctrlerrors.New(ctrlerrors.KindPayloadLaunch, "empty action command", nil))
	}

	cmd := exec.Command(args[0], args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return m.errorReply(ctrlerrors.New(ctrlerrors.KindPayloadLaunch, "stdin pipe", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return m.errorReply(ctrlerrors.New(ctrlerrors.KindPayloadLaunch, "stdout pipe", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return m.errorReply(ctrlerrors.New(ctrlerrors.KindPayloadLaunch, "stderr pipe", err))
	}

	if err := cmd.Start(); err != nil {
		return m.errorReply(ctrlerrors.New(ctrlerrors.KindPayloadLaunch, "start payload", err))
	}
	metrics.PayloadsLaunchedTotal.WithLabelValues(string(m.action.Goal)).Inc()

	ps := &payloadState{cmd: cmd, stdin: stdin, doneCh: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		ps.mu.Lock()
		ps.exitErr = err
		ps.mu.Unlock()
		close(ps.doneCh)
	}()
	m.payload = ps
	go m.drainStderr(stderr)

	scanner := stdoutparser.NewScanner(stdout)

	switch m.action.Goal {
	case types.GoalHub:
		endpoints, err := stdoutparser.HubEndpoints(scanner, m.action.Ranks)
		if err != nil {
			m.killPayload()
			return m.errorReply(ctrlerrors.New(ctrlerrors.KindResponseParse, "hub init response", err))
		}
		m.pids = pidsOf(endpoints)
		return types.CompanionReply{ActionID: m.action.ID, Result: types.CommandInit, HubEndpoints: endpoints}

	default: // types.GoalSimulator
		init, ok, err := scanner.NextSimulatorInit()
		if err != nil || !ok {
			m.killPayload()
			if err == nil {
				err = fmt.Errorf("payload exited before reporting LOCAL_MINIMUM_STEP_SIZE")
			}
			return m.errorReply(ctrlerrors.New(ctrlerrors.KindResponseParse, "simulator init response", err))
		}
		m.pids = []int{init.PID}
		return types.CompanionReply{ActionID: m.action.ID, Result: types.CommandInit, SimulatorInit: init}
	}
}

func pidsOf(endpoints []types.HubEndpoint) []int {
	pids := make([]int, 0, len(endpoints))
	seen := make(map[int]bool)
	for _, ep := range endpoints {
		if !seen[ep.PID] {
			seen[ep.PID] = true
			pids = append(pids, ep.PID)
		}
	}
	return pids
}

func (m *Manager) handleStart(ctx context.Context, cmd types.ControlCommand) types.CompanionReply {
	if m.payload == nil {
		return m.errorReply(fmt.Errorf("appmanager: START received before a payload was spawned"))
	}

	for _, pid := range m.pids {
		mon := resources.NewMonitor(m.action.ID, pid, m.sampler, m.writer)
		mon.Start(ctx)
		m.monitors[pid] = mon
	}

	if _, err := io.WriteString(m.payload.stdin, "START\n"); err != nil {
		m.stopMonitors()
		return m.errorReply(ctrlerrors.New(ctrlerrors.KindPeerUnresponsive, "write START to payload stdin", err))
	}

	select {
	case <-m.payload.doneCh:
	case <-ctx.Done():
		m.stopMonitors()
		return m.errorReply(ctx.Err())
	}
	summaries := m.stopMonitors()

	if err := m.payload.awaitExit(); err != nil {
		metrics.PayloadsCrashedTotal.WithLabelValues(string(m.action.Goal)).Inc()
		return m.errorReply(ctrlerrors.New(ctrlerrors.KindPayloadCrash, "payload exited with error", err))
	}
	return types.CompanionReply{ActionID: m.action.ID, Result: types.CommandStart, ResourceUsage: summaries}
}

// stopMonitors halts every running monitor and snapshots its summary before
// handing it back to the Companion (spec.md §4.6 "reports resource usage").
// Persistence of the raw samples themselves already happened per-sample via
// the injected Writer, if any.
func (m *Manager) stopMonitors() []types.ResourceUsageSummary {
	summaries := make([]types.ResourceUsageSummary, 0, len(m.monitors))
	for _, mon := range m.monitors {
		mon.Stop()
		summaries = append(summaries, mon.Summary())
	}
	return summaries
}

func (m *Manager) handleEnd() types.CompanionReply {
	if m.payload == nil {
		return types.CompanionReply{ActionID: m.action.ID, Result: types.CommandEnd}
	}
	if err := m.payload.awaitExit(); err != nil {
		return m.errorReply(ctrlerrors.New(ctrlerrors.KindPayloadCrash, "non-zero exit status at END", err))
	}
	return types.CompanionReply{ActionID: m.action.ID, Result: types.CommandEnd}
}

func (m *Manager) errorReply(err error) types.CompanionReply {
	m.log.Error().Err(err).Msg("appmanager: command failed")
	return types.CompanionReply{ActionID: m.action.ID, Result: types.SteeringCommand("ERROR"), Error: err.Error()}
}

func (m *Manager) drainStderr(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			m.log.Warn().Str("stderr", string(buf[:n])).Msg("payload stderr output")
		}
		if err != nil {
			return
		}
	}
}

func (m *Manager) killPayload() {
	if m.payload == nil || m.payload.cmd.Process == nil {
		return
	}
	_ = m.payload.cmd.Process.Signal(syscall.SIGKILL)
}

// Terminate implements preemptive termination (spec §4.6): SIGTERM, wait
// ≤1s, then SIGKILL if the payload is still alive. Called via the owning
// Companion's Terminate, from the hosting process's SIGINT/SIGTERM
// handler, not from the steering loop.
func (m *Manager) Terminate() error {
	if m.payload == nil || m.payload.cmd.Process == nil {
		return nil
	}
	proc := m.payload.cmd.Process

	select {
	case <-m.payload.doneCh:
		return nil
	default:
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("appmanager: sigterm: %w", err)
	}

	select {
	case <-m.payload.doneCh:
		return nil
	case <-time.After(terminationGrace):
	}

	if err := proc.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("appmanager: sigkill: %w", err)
	}

	select {
	case <-m.payload.doneCh:
		return nil
	case <-time.After(killGrace):
		m.log.Error().Msg("appmanager: payload did not terminate after sigkill")
		return ctrlerrors.New(ctrlerrors.KindPeerUnresponsive, "payload did not terminate after sigkill", nil)
	}
}
