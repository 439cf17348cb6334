package signaling

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

const inboxSize = 1024

// Compile-time interface check.
var _ Signaler = (*MemorySignaler)(nil)

// Hub is an in-process rendezvous. Signalers created from the same hub
// see each other once registered, without any network.
type Hub struct {
	mu    sync.Mutex
	peers map[string]*MemorySignaler
}

func NewHub() *Hub {
	return &Hub{peers: make(map[string]*MemorySignaler)}
}

// Signaler returns an unregistered signaler for id.
func (h *Hub) Signaler(id string) *MemorySignaler {
	s := &MemorySignaler{
		hub:    h,
		id:     id,
		router: newRouter(),
		inbox:  make(chan func(), inboxSize),
		done:   make(chan struct{}),
	}
	go s.pump()
	return s
}

func (h *Hub) lookup(id string) (*MemorySignaler, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.peers[id]
	return s, ok
}

func (h *Hub) others(id string) []*MemorySignaler {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*MemorySignaler, 0, len(h.peers))
	for pid, s := range h.peers {
		if pid != id {
			out = append(out, s)
		}
	}
	return out
}

// MemorySignaler is the Hub-backed Signaler. Each instance delivers its
// inbound events on its own goroutine.
type MemorySignaler struct {
	hub    *Hub
	id     string
	router *router

	inbox     chan func()
	done      chan struct{}
	closeOnce sync.Once
}

func (s *MemorySignaler) pump() {
	for {
		select {
		case fn := <-s.inbox:
			fn()
		case <-s.done:
			return
		}
	}
}

func (s *MemorySignaler) post(fn func()) error {
	if s.closed() {
		return ErrClosed
	}
	select {
	case s.inbox <- fn:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

func (s *MemorySignaler) RegisterPeer(_ context.Context) error {
	if s.closed() {
		return ErrClosed
	}

	s.hub.mu.Lock()
	s.hub.peers[s.id] = s
	s.hub.mu.Unlock()

	for _, other := range s.hub.others(s.id) {
		other := other
		_ = other.post(func() { other.router.join(s.id) })
	}
	return nil
}

func (s *MemorySignaler) AvailablePeers(_ context.Context) ([]string, error) {
	others := s.hub.others(s.id)
	ids := make([]string, 0, len(others))
	for _, o := range others {
		ids = append(ids, o.id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemorySignaler) OnInvite(fn func(from string)) {
	s.router.setInvite(fn)
}

func (s *MemorySignaler) SubscribeToPeers(onJoin, onLeave func(id string)) {
	s.router.setPresence(onJoin, onLeave)
}

func (s *MemorySignaler) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *MemorySignaler) SendInvite(_ context.Context, to string) error {
	if s.closed() {
		return ErrClosed
	}
	target, ok := s.hub.lookup(to)
	if !ok {
		return fmt.Errorf("invite %s: %w", to, ErrUnknownPeer)
	}
	return target.post(func() { target.router.invite(s.id) })
}

func (s *MemorySignaler) SendSignal(_ context.Context, to string, sig Signal) error {
	if s.closed() {
		return ErrClosed
	}
	target, ok := s.hub.lookup(to)
	if !ok {
		return fmt.Errorf("signal %s: %w", to, ErrUnknownPeer)
	}
	return target.post(func() { target.router.signal(s.id, sig) })
}

func (s *MemorySignaler) OnSignal(from string, fn func(Signal)) {
	s.router.register(from, fn)
}

func (s *MemorySignaler) Cleanup(peerID string) {
	s.router.cleanup(peerID)
}

func (s *MemorySignaler) Close() error {
	s.closeOnce.Do(func() {
		s.hub.mu.Lock()
		if s.hub.peers[s.id] == s {
			delete(s.hub.peers, s.id)
		}
		s.hub.mu.Unlock()

		for _, other := range s.hub.others(s.id) {
			other := other
			_ = other.post(func() { other.router.leave(s.id) })
		}
		close(s.done)
	})
	return nil
}
