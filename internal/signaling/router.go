package signaling

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	maxPendingSignals = 128
	maxCleanedPeers   = 1024
)

// router holds the per-peer signal handlers and callbacks shared by the
// signaler implementations. Deliveries are serialized.
type router struct {
	mu       sync.Mutex
	deliver  sync.Mutex
	handlers map[string]func(Signal)
	pending  map[string][]Signal
	// cleaned holds peers whose connection finished. Their stray signals are
	// dropped until an invite or a new registration.
	cleaned *lru.Cache[string, struct{}]

	onInvite func(string)
	onJoin   func(string)
	onLeave  func(string)
}

func newRouter() *router {
	// Only fails on a non-positive size.
	cleaned, _ := lru.New[string, struct{}](maxCleanedPeers)
	return &router{
		handlers: make(map[string]func(Signal)),
		pending:  make(map[string][]Signal),
		cleaned:  cleaned,
	}
}

func (r *router) setInvite(fn func(string)) {
	r.mu.Lock()
	r.onInvite = fn
	r.mu.Unlock()
}

func (r *router) setPresence(onJoin, onLeave func(string)) {
	r.mu.Lock()
	r.onJoin = onJoin
	r.onLeave = onLeave
	r.mu.Unlock()
}

func (r *router) register(from string, fn func(Signal)) {
	r.deliver.Lock()
	defer r.deliver.Unlock()

	r.mu.Lock()
	r.cleaned.Remove(from)
	r.handlers[from] = fn
	queued := r.pending[from]
	delete(r.pending, from)
	r.mu.Unlock()

	for _, sig := range queued {
		fn(sig)
	}
}

func (r *router) signal(from string, sig Signal) {
	r.deliver.Lock()
	defer r.deliver.Unlock()

	r.mu.Lock()
	fn, ok := r.handlers[from]
	if !ok {
		if r.cleaned.Contains(from) {
			r.mu.Unlock()
			return
		}
		if len(r.pending[from]) < maxPendingSignals {
			r.pending[from] = append(r.pending[from], sig)
		}
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	fn(sig)
}

func (r *router) invite(from string) {
	r.mu.Lock()
	r.cleaned.Remove(from)
	fn := r.onInvite
	r.mu.Unlock()
	if fn != nil {
		fn(from)
	}
}

func (r *router) join(id string) {
	r.mu.Lock()
	fn := r.onJoin
	r.mu.Unlock()
	if fn != nil {
		fn(id)
	}
}

func (r *router) leave(id string) {
	r.mu.Lock()
	fn := r.onLeave
	r.mu.Unlock()
	if fn != nil {
		fn(id)
	}
}

func (r *router) cleanup(peerID string) {
	r.mu.Lock()
	delete(r.handlers, peerID)
	delete(r.pending, peerID)
	r.cleaned.Add(peerID, struct{}{})
	r.mu.Unlock()
}
