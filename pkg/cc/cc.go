package cc

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/multiscale/costeer/pkg/ctrlerrors"
	"github.com/multiscale/costeer/pkg/events"
	"github.com/multiscale/costeer/pkg/log"
	"github.com/multiscale/costeer/pkg/metrics"
	"github.com/multiscale/costeer/pkg/transport"
	"github.com/multiscale/costeer/pkg/types"
)

// RegistryClient is the subset of the registry proxy the relay needs.
type RegistryClient interface {
	Register(ctx context.Context, d *types.ServiceDescriptor) error
	FindAllByCategory(ctx context.Context, category types.Category) ([]*types.ServiceDescriptor, error)
}

// Server is the relay described in spec §4.4. It holds no steering state
// of its own; every round's fan-out and fan-in is self-contained.
type Server struct {
	id       string
	registry RegistryClient

	orchLn    transport.Listener // Orchestrator-facing reply socket
	publisher transport.Publisher
	pullLn    transport.Listener // companion-facing pull listener

	broker *events.Broker
	log    zerolog.Logger

	mu    sync.Mutex
	conns []transport.Conn
}

// NewServer constructs a relay. orchLn, publisher and pullLn must already
// be bound to their designated addresses.
func NewServer(id string, registryClient RegistryClient, orchLn transport.Listener, publisher transport.Publisher, pullLn transport.Listener) *Server {
	return &Server{
		id:        id,
		registry:  registryClient,
		orchLn:    orchLn,
		publisher: publisher,
		pullLn:    pullLn,
		broker:    events.NewBroker(),
		log:       log.WithComponentID(id),
	}
}

// Run registers the relay, then serves the loop from spec §4.4 until a
// STATE_UPDATE_FATAL, a FATAL broadcast, or an END round terminates it.
func (s *Server) Run(ctx context.Context) error {
	s.broker.Start()
	defer s.broker.Stop()

	descriptor := &types.ServiceDescriptor{
		ID:       s.id,
		Name:     "cc",
		Category: types.CategoryCC,
		Status:   types.StatusUp,
	}
	if err := s.registry.Register(ctx, descriptor); err != nil {
		return fmt.Errorf("cc: register: %w", err)
	}

	repliesCh := make(chan types.CompanionReply, 256)
	go s.acceptPullConns(ctx, repliesCh)

	orchConn, err := s.orchLn.Accept(ctx)
	if err != nil {
		return fmt.Errorf("cc: accept orchestrator connection: %w", err)
	}
	defer orchConn.Close()

	for {
		var cmd types.ControlCommand
		err := orchConn.Receive(ctx, &cmd)
		switch {
		case err == transport.ErrTimeout:
			continue
		case err != nil:
			return fmt.Errorf("cc: receive from orchestrator: %w", err)
		}
		metrics.WireMessagesTotal.WithLabelValues("in", "reply").Inc()

		if cmd.Command == types.EventStateUpdateFatal {
			s.log.Info().Msg("cc: state update fatal, terminating")
			return nil
		}

		if cmd.Command == types.EventFatal {
			s.log.Error().Msg("cc: fatal command, broadcasting and terminating")
			if err := s.broadcast(ctx, cmd); err != nil {
				s.log.Error().Err(err).Msg("cc: fatal broadcast failed")
			}
			return nil
		}

		n, err := s.companionCount(ctx)
		if err != nil {
			return fmt.Errorf("cc: count companions: %w", err)
		}

		if err := s.broadcast(ctx, cmd); err != nil {
			return ctrlerrors.New(ctrlerrors.KindEndpointBind, "broadcast steering command", err)
		}

		replies, err := s.collectReplies(ctx, repliesCh, n)
		if err != nil {
			return fmt.Errorf("cc: collect companion replies: %w", err)
		}

		if err := orchConn.Send(ctx, replies); err != nil {
			return fmt.Errorf("cc: send aggregated reply: %w", err)
		}
		metrics.WireMessagesTotal.WithLabelValues("out", "reply").Inc()

		if cmd.Command == types.CommandEnd {
			return nil
		}
	}
}

// broadcast fans cmd out to every companion. It is atomic per spec §4.4:
// either the publish succeeds for the whole group or it fails and the
// caller tears the relay down with ERROR. The broker receives the same
// envelope for any internal consumer (metrics, tracing) that subscribes to
// it; its own delivery is best-effort and never fails the round.
func (s *Server) broadcast(ctx context.Context, cmd types.ControlCommand) error {
	s.broker.Publish(&events.Envelope{Topic: events.SteeringTopic, Payload: cmd})
	if err := s.publisher.Publish(ctx, string(events.SteeringTopic), cmd); err != nil {
		return err
	}
	metrics.WireMessagesTotal.WithLabelValues("out", "publish").Inc()
	return nil
}

func (s *Server) companionCount(ctx context.Context) (int, error) {
	descriptors, err := s.registry.FindAllByCategory(ctx, types.CategoryApplicationCompanion)
	if err != nil {
		return 0, err
	}
	return len(descriptors), nil
}

// collectReplies reads exactly n replies off repliesCh, in arrival order
// (spec §4.4 "not companion identity order").
func (s *Server) collectReplies(ctx context.Context, repliesCh <-chan types.CompanionReply, n int) ([]types.CompanionReply, error) {
	out := make([]types.CompanionReply, 0, n)
	for len(out) < n {
		select {
		case reply := <-repliesCh:
			out = append(out, reply)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

// acceptPullConns accepts companion push connections and fans every
// incoming reply into repliesCh, regardless of which companion sent it.
func (s *Server) acceptPullConns(ctx context.Context, repliesCh chan<- types.CompanionReply) {
	for {
		conn, err := s.pullLn.Accept(ctx)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.drainReplies(ctx, conn, repliesCh)
	}
}

func (s *Server) drainReplies(ctx context.Context, conn transport.Conn, repliesCh chan<- types.CompanionReply) {
	for {
		var reply types.CompanionReply
		err := conn.Receive(ctx, &reply)
		switch {
		case err == transport.ErrTimeout:
			continue
		case err != nil:
			return
		}
		metrics.WireMessagesTotal.WithLabelValues("in", "pull").Inc()
		select {
		case repliesCh <- reply:
		case <-ctx.Done():
			return
		}
	}
}

// Close releases every companion connection the relay accepted.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
	return nil
}
