// Package transport implements the messaging-fabric abstraction spec §4.3
// names: two deployment modes (single-host in-memory queues, distributed
// TLS sockets) behind one Fabric interface, so every component's main loop
// is written once against Conn/Listener and never against the concrete
// transport.
package transport

import (
	"context"
	"errors"
	"time"
)

// ReceiveTimeout is the default blocking-receive timeout (spec §4.3:
// "blocking with a 10-second timeout on receive, recomputed on spurious
// wake").
const ReceiveTimeout = 10 * time.Second

// ErrClosed is returned by Receive/Accept once the underlying Conn or
// Listener has been closed.
var ErrClosed = errors.New("transport: closed")

// ErrTimeout is returned by Receive when ReceiveTimeout elapses with no
// message available. Callers inspect the shutdown flag and retry, per
// spec §5 ("a timeout results in another inspection of the flag, not in
// termination").
var ErrTimeout = errors.New("transport: receive timeout")

// Conn is one end of a request/reply, push/pull, or per-action command
// channel. Both ends exchange values that round-trip through JSON, per
// the wire format's serialization requirement.
type Conn interface {
	// Send transmits v. It blocks until accepted by the transport.
	Send(ctx context.Context, v interface{}) error

	// Receive blocks until a message arrives, ReceiveTimeout elapses
	// (ErrTimeout), or the connection closes (ErrClosed). On success it
	// unmarshals the received message into v.
	Receive(ctx context.Context, v interface{}) error

	Close() error
}

// Listener accepts incoming Conns at a bound endpoint.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Close() error
	// Addr returns the concrete address this listener bound to (useful
	// when a port was chosen from a range).
	Addr() string
}

// Publisher broadcasts values to every live Subscriber on a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, v interface{}) error
	Close() error
}

// Subscriber receives values published on a topic.
type Subscriber interface {
	// Receive blocks until a publish arrives, ReceiveTimeout elapses
	// (ErrTimeout), or the subscriber closes (ErrClosed).
	Receive(ctx context.Context, v interface{}) (topic string, err error)
	Close() error
}

// Fabric is the messaging-fabric abstraction both deployment modes
// implement (spec §4.3, §9 "Fabric").
type Fabric interface {
	// Dial opens a Conn to a peer already listening at address.
	Dial(ctx context.Context, address string) (Conn, error)

	// Listen binds a new Conn-accepting Listener. address is advisory for
	// the memory fabric (used as a queue-name namespace) and is a
	// host:port or empty string (pick-any) for the socket fabric.
	Listen(ctx context.Context, address string) (Listener, error)

	// NewPublisher creates a publisher endpoint other components can
	// subscribe to by address.
	NewPublisher(ctx context.Context, address string) (Publisher, error)

	// Subscribe opens a Subscriber to a publisher at address.
	Subscribe(ctx context.Context, address string) (Subscriber, error)
}
