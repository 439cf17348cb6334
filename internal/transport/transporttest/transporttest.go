// Package transporttest links transport connections in memory.
package transporttest

import (
	"context"
	"sync"

	"github.com/rudransh-shrivastava/peerlink/internal/transport"
)

const queueSize = 1024

type pair struct {
	local, remote string
}

// Network pairs connections by peer id. A connection from a to b opens
// once b also connects to a.
type Network struct {
	mu      sync.Mutex
	waiting map[pair]*Conn
	conns   map[pair]*Conn

	// Hold keeps linked connections from opening, as if ICE never completed.
	Hold bool
	// ConnectErr fails every Connect call.
	ConnectErr error
}

func NewNetwork() *Network {
	return &Network{
		waiting: make(map[pair]*Conn),
		conns:   make(map[pair]*Conn),
	}
}

// Dialer returns a dialer connecting through n.
func (n *Network) Dialer() transport.Dialer {
	return dialer{n: n}
}

// Conn returns the most recent connection from local to remote.
func (n *Network) Conn(local, remote string) (*Conn, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.conns[pair{local, remote}]
	return c, ok
}

type dialer struct {
	n *Network
}

func (d dialer) Connect(_ context.Context, req transport.Request, h transport.Handlers) (transport.Conn, error) {
	n := d.n
	if n.ConnectErr != nil {
		return nil, n.ConnectErr
	}

	c := &Conn{
		local:    req.LocalID,
		remote:   req.RemoteID,
		handlers: h,
		queue:    make(chan func(), queueSize),
		done:     make(chan struct{}),
	}
	go c.run()

	n.mu.Lock()
	key := pair{req.LocalID, req.RemoteID}
	n.conns[key] = c
	other, ok := n.waiting[pair{req.RemoteID, req.LocalID}]
	if ok {
		delete(n.waiting, pair{req.RemoteID, req.LocalID})
	} else {
		n.waiting[key] = c
	}
	hold := n.Hold
	n.mu.Unlock()

	if ok {
		c.link(other)
		other.link(c)
		if !hold {
			c.Open()
			other.Open()
		}
	}
	return c, nil
}

// Conn is one side of an in-memory link.
type Conn struct {
	local, remote string
	handlers      transport.Handlers

	mu     sync.Mutex
	peer   *Conn
	open   bool
	closed bool
	sent   []transport.Event

	queue     chan func()
	done      chan struct{}
	closeOnce sync.Once
}

func (c *Conn) run() {
	for {
		select {
		case fn := <-c.queue:
			fn()
		case <-c.done:
			return
		}
	}
}

func (c *Conn) post(fn func()) {
	select {
	case c.queue <- fn:
	case <-c.done:
	}
}

func (c *Conn) link(peer *Conn) {
	c.mu.Lock()
	c.peer = peer
	c.mu.Unlock()
}

// Open reports every channel open and then the connected state.
func (c *Conn) Open() {
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()

	c.post(func() {
		for _, kind := range transport.Channels {
			if c.handlers.OnOpen != nil {
				c.handlers.OnOpen(kind)
			}
		}
		if c.handlers.OnFinalState != nil {
			c.handlers.OnFinalState(transport.StateConnected)
		}
	})
}

// Inject delivers ev as if the remote side had sent it.
func (c *Conn) Inject(ev transport.Event) {
	c.post(func() {
		if c.handlers.OnData != nil {
			c.handlers.OnData(ev)
		}
	})
}

// Fail reports state to the local handlers.
func (c *Conn) Fail(state transport.State) {
	c.post(func() {
		if c.handlers.OnFinalState != nil {
			c.handlers.OnFinalState(state)
		}
	})
}

// Sent returns a copy of every event sent from this side.
func (c *Conn) Sent() []transport.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transport.Event(nil), c.sent...)
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Send(kind transport.ChannelKind, enc transport.Encoding, payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrClosed
	}
	if !c.open || c.peer == nil {
		c.mu.Unlock()
		return transport.ErrChannelNotOpen
	}
	ev := transport.Event{Channel: kind, Encoding: enc, Payload: append([]byte(nil), payload...)}
	c.sent = append(c.sent, ev)
	peer := c.peer
	c.mu.Unlock()

	peer.Inject(ev)
	return nil
}

func (c *Conn) Statistics(_ context.Context) (transport.Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return transport.Stats{}, transport.ErrChannelNotOpen
	}
	return transport.Stats{
		LocalCandidateType:  "host",
		RemoteCandidateType: "host",
		Protocol:            "udp",
	}, nil
}

// Close tears down this side. The remote side sees a disconnect.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		peer := c.peer
		c.mu.Unlock()

		close(c.done)
		if peer != nil {
			peer.Fail(transport.StateDisconnected)
		}
	})
	return nil
}
