package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/peerlink/internal/signaling"
)

const writeTimeout = 10 * time.Second

// peer is one registered websocket connection.
type peer struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *peer) send(f signaling.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteJSON(f)
}

// Store is the registry of peers currently reachable through the tracker.
type Store struct {
	mu    sync.Mutex
	peers map[string]*peer
}

func NewStore() *Store {
	return &Store{
		peers: make(map[string]*peer),
	}
}

// Add registers p, replacing any earlier connection for the same id. It
// returns the replaced peer, if any.
func (s *Store) Add(p *peer) *peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.peers[p.id]
	s.peers[p.id] = p
	return old
}

// Remove drops p only if it is still the registered connection for its id.
func (s *Store) Remove(p *peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.peers[p.id]; ok && cur == p {
		delete(s.peers, p.id)
		return true
	}
	return false
}

func (s *Store) Get(id string) (*peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[id]
	return p, ok
}

// IDs lists registered peer ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Others returns every registered peer except id.
func (s *Store) Others(id string) []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*peer, 0, len(s.peers))
	for pid, p := range s.peers {
		if pid != id {
			out = append(out, p)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}
