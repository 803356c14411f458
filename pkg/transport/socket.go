package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/multiscale/costeer/pkg/security"
	"github.com/multiscale/costeer/pkg/wire"
)

// SocketFabric implements Fabric over TLS-wrapped TCP connections, the
// distributed deployment mode of spec §4.3. Every connection authenticates
// with the configured preshared key via an HMAC challenge exchanged
// immediately after the TLS handshake and before the first command frame.
type SocketFabric struct {
	Cert         tls.Certificate
	PresharedKey []byte
	PortMin      int
	PortMax      int
}

// NewSocketFabric creates a distributed-mode fabric bound to the given
// port range and authenticated with presharedKey.
func NewSocketFabric(cert tls.Certificate, presharedKey []byte, portMin, portMax int) *SocketFabric {
	return &SocketFabric{Cert: cert, PresharedKey: presharedKey, PortMin: portMin, PortMax: portMax}
}

var ackOK = []byte{1}
var ackFail = []byte{0}

func (f *SocketFabric) handshakeServer(conn net.Conn) error {
	nonce, err := security.NewNonce()
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(conn, nonce); err != nil {
		return fmt.Errorf("transport: send challenge: %w", err)
	}
	response, err := wire.ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("transport: read challenge response: %w", err)
	}
	if !security.Verify(f.PresharedKey, nonce, response) {
		_ = wire.WriteFrame(conn, ackFail)
		return fmt.Errorf("transport: preshared-key authentication failed")
	}
	if err := wire.WriteFrame(conn, ackOK); err != nil {
		return fmt.Errorf("transport: send challenge ack: %w", err)
	}
	return nil
}

func (f *SocketFabric) handshakeClient(conn net.Conn) error {
	nonce, err := wire.ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("transport: read challenge: %w", err)
	}
	response := security.Respond(f.PresharedKey, nonce)
	if err := wire.WriteFrame(conn, response); err != nil {
		return fmt.Errorf("transport: send challenge response: %w", err)
	}
	ack, err := wire.ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("transport: read challenge ack: %w", err)
	}
	if len(ack) != 1 || ack[0] != 1 {
		return fmt.Errorf("transport: preshared-key authentication rejected by peer")
	}
	return nil
}

// --- request/reply & push/pull ---

type socketConn struct {
	conn net.Conn
	mu   sync.Mutex
}

func (c *socketConn) Send(_ context.Context, v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wire.WriteMessage(c.conn, v)
}

func (c *socketConn) Receive(_ context.Context, v interface{}) error {
	if err := c.conn.SetReadDeadline(time.Now().Add(ReceiveTimeout)); err != nil {
		return fmt.Errorf("transport: set read deadline: %w", err)
	}
	if err := wire.ReadMessage(c.conn, v); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return ErrTimeout
		}
		return err
	}
	return nil
}

func (c *socketConn) Close() error { return c.conn.Close() }

type socketListener struct {
	ln net.Listener
	f  *SocketFabric
}

func (l *socketListener) Accept(ctx context.Context) (Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		resultCh <- result{conn, err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			return nil, r.err
		}
		if err := l.f.handshakeServer(r.conn); err != nil {
			r.conn.Close()
			return nil, err
		}
		return &socketConn{conn: r.conn}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *socketListener) Close() error { return l.ln.Close() }
func (l *socketListener) Addr() string { return l.ln.Addr().String() }

// Listen binds the first free port in [PortMin, PortMax] on host (the
// address argument) and returns a Listener that authenticates every
// accepted connection before handing it to the caller.
func (f *SocketFabric) Listen(_ context.Context, host string) (Listener, error) {
	ln, err := BindTLSInRange(host, f.PortMin, f.PortMax, f.Cert)
	if err != nil {
		return nil, err
	}
	return &socketListener{ln: ln, f: f}, nil
}

// Dial connects to a peer already listening at address ("host:port"),
// completing the TLS handshake and the preshared-key challenge before
// returning.
func (f *SocketFabric) Dial(ctx context.Context, address string) (Conn, error) {
	dialer := &tls.Dialer{Config: security.ClientTLSConfig()}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", address, err)
	}
	if err := f.handshakeClient(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &socketConn{conn: conn}, nil
}

// --- publish/subscribe ---

// socketPublisher holds one accepted connection per subscriber and
// broadcasts to all of them, writing to each connection in turn; a slow
// subscriber delays the broadcast to the rest.
type socketPublisher struct {
	mu      sync.Mutex
	subs    map[*socketConn]struct{}
	ln      Listener
	cancel  context.CancelFunc
}

func (f *SocketFabric) NewPublisher(ctx context.Context, host string) (Publisher, error) {
	ln, err := f.Listen(ctx, host)
	if err != nil {
		return nil, err
	}
	acceptCtx, cancel := context.WithCancel(ctx)
	p := &socketPublisher{subs: make(map[*socketConn]struct{}), ln: ln, cancel: cancel}

	go func() {
		for {
			conn, err := ln.Accept(acceptCtx)
			if err != nil {
				return
			}
			sc := conn.(*socketConn)
			p.mu.Lock()
			p.subs[sc] = struct{}{}
			p.mu.Unlock()
		}
	}()
	return p, nil
}

func (p *socketPublisher) Publish(ctx context.Context, topic string, v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var failed int
	for sc := range p.subs {
		sc.mu.Lock()
		err := wire.WritePublish(sc.conn, topic, v)
		sc.mu.Unlock()
		if err != nil {
			// Drop the dead subscriber; the broadcast continues for the rest,
			// but the caller must still see the partial failure.
			delete(p.subs, sc)
			sc.conn.Close()
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("transport: publish failed for %d subscriber(s)", failed)
	}
	return nil
}

func (p *socketPublisher) Close() error {
	p.cancel()
	return p.ln.Close()
}

// Addr returns the address subscribers dial to reach this publisher.
func (p *socketPublisher) Addr() string { return p.ln.Addr() }

type socketSubscriber struct {
	conn net.Conn
}

func (f *SocketFabric) Subscribe(ctx context.Context, address string) (Subscriber, error) {
	dialer := &tls.Dialer{Config: security.ClientTLSConfig()}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("transport: subscribe dial %s: %w", address, err)
	}
	if err := f.handshakeClient(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &socketSubscriber{conn: conn}, nil
}

func (s *socketSubscriber) Receive(_ context.Context, v interface{}) (string, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(ReceiveTimeout)); err != nil {
		return "", fmt.Errorf("transport: set read deadline: %w", err)
	}
	topic, err := wire.ReadPublish(s.conn, v)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return "", ErrTimeout
		}
		return "", err
	}
	return topic, nil
}

func (s *socketSubscriber) Close() error { return s.conn.Close() }
