package transport

import (
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/pinorobotics/rtpstalk/rtps/wire"
	"github.com/pinorobotics/rtpstalk/std/log"
)

// MemoryNetwork connects participants of one process without sockets.
// Delivery is asynchronous and lossy like UDP: a full receive queue
// drops the datagram.
type MemoryNetwork struct {
	queueSize int

	mu        sync.RWMutex
	receivers map[netip.AddrPort][]*memoryReceiver
	nextPort  uint32
	// Drop decides whether a datagram sent to a locator is lost.
	drop func(to wire.Locator, frame []byte) bool

	sent atomic.Int64
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		queueSize: 1024,
		receivers: make(map[netip.AddrPort][]*memoryReceiver),
		nextPort:  40000,
	}
}

func (n *MemoryNetwork) String() string {
	return "memory-network"
}

// SetDrop installs a loss function. nil delivers everything.
func (n *MemoryNetwork) SetDrop(drop func(to wire.Locator, frame []byte) bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drop = drop
}

// Sent is the number of datagrams handed to the network.
func (n *MemoryNetwork) Sent() int64 {
	return n.sent.Load()
}

// Factory returns a transport factory bound to the network.
func (n *MemoryNetwork) Factory() Factory {
	return memoryFactory{n}
}

type memoryFactory struct {
	net *MemoryNetwork
}

func (f memoryFactory) Connect(loc wire.Locator) (DataChannel, error) {
	if loc.Kind != wire.LocatorKindUdpv4 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, loc)
	}
	return &memoryChannel{net: f.net, loc: loc}, nil
}

func (f memoryFactory) Bind(loc wire.Locator, h Handler) (Receiver, error) {
	if loc.Kind != wire.LocatorKindUdpv4 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, loc)
	}
	n := f.net
	n.mu.Lock()
	defer n.mu.Unlock()

	if loc.Port == 0 {
		n.nextPort++
		loc.Port = n.nextPort
	}
	key := loc.AddrPort()
	if !loc.IsMulticast() && len(n.receivers[key]) > 0 {
		return nil, fmt.Errorf("unable to bind %s: address in use", loc)
	}

	r := &memoryReceiver{
		net:     n,
		loc:     loc,
		handler: h,
		queue:   make(chan []byte, n.queueSize),
		done:    make(chan struct{}),
	}
	n.receivers[key] = append(n.receivers[key], r)
	go r.run()
	return r, nil
}

func (n *MemoryNetwork) deliver(to wire.Locator, frame []byte) {
	n.sent.Add(1)
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.drop != nil && n.drop(to, frame) {
		return
	}
	for _, r := range n.receivers[to.AddrPort()] {
		f := make([]byte, len(frame))
		copy(f, frame)
		select {
		case r.queue <- f:
		default:
			log.Debug(n, "Receive queue full, datagram dropped", "to", to)
		}
	}
}

func (n *MemoryNetwork) remove(r *memoryReceiver) {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := r.loc.AddrPort()
	list := n.receivers[key]
	for i, x := range list {
		if x == r {
			n.receivers[key] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(n.receivers[key]) == 0 {
		delete(n.receivers, key)
	}
}

type memoryChannel struct {
	net    *MemoryNetwork
	loc    wire.Locator
	closed atomic.Bool
}

func (c *memoryChannel) String() string {
	return fmt.Sprintf("memory-channel (%s)", c.loc)
}

func (c *memoryChannel) Locator() wire.Locator {
	return c.loc
}

func (c *memoryChannel) Send(frame []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.net.deliver(c.loc, frame)
	return nil
}

func (c *memoryChannel) Close() error {
	c.closed.Store(true)
	return nil
}

type memoryReceiver struct {
	net     *MemoryNetwork
	loc     wire.Locator
	handler Handler
	queue   chan []byte
	done    chan struct{}
	once    sync.Once
}

func (r *memoryReceiver) String() string {
	return fmt.Sprintf("memory-receiver (%s)", r.loc)
}

func (r *memoryReceiver) Locator() wire.Locator {
	return r.loc
}

func (r *memoryReceiver) run() {
	for {
		select {
		case <-r.done:
			return
		case frame := <-r.queue:
			r.handler(frame)
		}
	}
}

func (r *memoryReceiver) Close() error {
	r.once.Do(func() {
		r.net.remove(r)
		close(r.done)
	})
	return nil
}
