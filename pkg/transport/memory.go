package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryFabric implements Fabric over bounded in-memory channels, the
// single-host deployment mode of spec §4.3. Every value still passes
// through JSON marshal/unmarshal so the serialization invariant ("every
// control command... receivers must round-trip identically") holds
// identically in both deployment modes.
type MemoryFabric struct {
	mu         sync.Mutex
	listeners  map[string]*memoryListener
	pubsubs    map[string]*memoryPubSub
}

// NewMemoryFabric creates an empty single-process fabric. One instance is
// shared by every component embedded in the same process.
func NewMemoryFabric() *MemoryFabric {
	return &MemoryFabric{
		listeners: make(map[string]*memoryListener),
		pubsubs:   make(map[string]*memoryPubSub),
	}
}

const memoryQueueDepth = 64

// --- request/reply & push/pull ---

type memoryListener struct {
	address string
	accept  chan Conn
	closed  chan struct{}
	once    sync.Once
}

func (l *memoryListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *memoryListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *memoryListener) Addr() string { return l.address }

func (f *MemoryFabric) Listen(_ context.Context, address string) (Listener, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.listeners[address]; exists {
		return nil, fmt.Errorf("transport: memory address %q already bound", address)
	}
	l := &memoryListener{
		address: address,
		accept:  make(chan Conn, memoryQueueDepth),
		closed:  make(chan struct{}),
	}
	f.listeners[address] = l
	return l, nil
}

func (f *MemoryFabric) Dial(ctx context.Context, address string) (Conn, error) {
	f.mu.Lock()
	l, ok := f.listeners[address]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("transport: no listener bound at memory address %q", address)
	}

	aToB := make(chan []byte, memoryQueueDepth)
	bToA := make(chan []byte, memoryQueueDepth)
	closed := make(chan struct{})

	client := &memoryConn{send: aToB, recv: bToA, closed: closed}
	server := &memoryConn{send: bToA, recv: aToB, closed: closed}

	select {
	case l.accept <- server:
	case <-l.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return client, nil
}

type memoryConn struct {
	send      chan []byte
	recv      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *memoryConn) Send(ctx context.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal: %w", err)
	}
	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *memoryConn) Receive(ctx context.Context, v interface{}) error {
	timer := time.NewTimer(ReceiveTimeout)
	defer timer.Stop()

	select {
	case data := <-c.recv:
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("transport: unmarshal: %w", err)
		}
		return nil
	case <-c.closed:
		return ErrClosed
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *memoryConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// --- publish/subscribe ---

type topicMsg struct {
	topic string
	data  []byte
}

type memoryPubSub struct {
	mu     sync.Mutex
	subs   map[int]chan topicMsg
	nextID int
	closed chan struct{}
	once   sync.Once
}

func (f *MemoryFabric) pubsubFor(address string) *memoryPubSub {
	f.mu.Lock()
	defer f.mu.Unlock()

	ps, ok := f.pubsubs[address]
	if !ok {
		ps = &memoryPubSub{
			subs:   make(map[int]chan topicMsg),
			closed: make(chan struct{}),
		}
		f.pubsubs[address] = ps
	}
	return ps
}

type memoryPublisher struct {
	ps *memoryPubSub
}

func (f *MemoryFabric) NewPublisher(_ context.Context, address string) (Publisher, error) {
	return &memoryPublisher{ps: f.pubsubFor(address)}, nil
}

func (p *memoryPublisher) Publish(ctx context.Context, topic string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal: %w", err)
	}
	msg := topicMsg{topic: topic, data: data}

	p.ps.mu.Lock()
	defer p.ps.mu.Unlock()
	var dropped int
	for _, ch := range p.ps.subs {
		select {
		case ch <- msg:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		return fmt.Errorf("transport: publish dropped for %d of %d subscribers", dropped, len(p.ps.subs))
	}
	return nil
}

func (p *memoryPublisher) Close() error {
	p.ps.once.Do(func() { close(p.ps.closed) })
	return nil
}

type memorySubscriber struct {
	ps *memoryPubSub
	id int
	ch chan topicMsg
}

func (f *MemoryFabric) Subscribe(_ context.Context, address string) (Subscriber, error) {
	ps := f.pubsubFor(address)

	ps.mu.Lock()
	id := ps.nextID
	ps.nextID++
	ch := make(chan topicMsg, memoryQueueDepth)
	ps.subs[id] = ch
	ps.mu.Unlock()

	return &memorySubscriber{ps: ps, id: id, ch: ch}, nil
}

func (s *memorySubscriber) Receive(ctx context.Context, v interface{}) (string, error) {
	timer := time.NewTimer(ReceiveTimeout)
	defer timer.Stop()

	select {
	case msg := <-s.ch:
		if err := json.Unmarshal(msg.data, v); err != nil {
			return "", fmt.Errorf("transport: unmarshal: %w", err)
		}
		return msg.topic, nil
	case <-s.ps.closed:
		return "", ErrClosed
	case <-timer.C:
		return "", ErrTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *memorySubscriber) Close() error {
	s.ps.mu.Lock()
	delete(s.ps.subs, s.id)
	s.ps.mu.Unlock()
	return nil
}
