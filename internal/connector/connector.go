// Package connector maintains the set of peer sessions under capacity and
// trust constraints.
package connector

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rudransh-shrivastava/peerlink/internal/identity"
	"github.com/rudransh-shrivastava/peerlink/internal/metrics"
	"github.com/rudransh-shrivastava/peerlink/internal/middleware"
	"github.com/rudransh-shrivastava/peerlink/internal/session"
	"github.com/rudransh-shrivastava/peerlink/internal/signaling"
	"github.com/rudransh-shrivastava/peerlink/internal/transport"
	"github.com/sirupsen/logrus"
)

var (
	ErrAdmissionRejected = errors.New("admission rejected")

	ErrSelf             = fmt.Errorf("%w: own peer id", ErrAdmissionRejected)
	ErrBlacklisted      = fmt.Errorf("%w: peer is blacklisted", ErrAdmissionRejected)
	ErrAlreadyConnected = fmt.Errorf("%w: peer already connected", ErrAdmissionRejected)
	ErrAtCapacity       = fmt.Errorf("%w: peer limit reached", ErrAdmissionRejected)
	ErrOutgoingLimit    = fmt.Errorf("%w: outgoing limit reached", ErrAdmissionRejected)

	ErrClosed = errors.New("connector closed")
)

const (
	DefaultMaxPeers       = 8
	DefaultMaxOutgoing    = 4
	DefaultGossipInterval = 15 * time.Second

	DefaultMaxPotentialPeers = 1024
)

// PeerBook persists what the manager learns about peers.
type PeerBook interface {
	Remember(ctx context.Context, id string) error
	Block(ctx context.Context, id string) error
	Blocked(ctx context.Context) ([]string, error)
}

type Config struct {
	MaxPeers       int
	MaxOutgoing    int
	SessionTimeout time.Duration
	GossipInterval time.Duration
	// MaxPotentialPeers caps the ids remembered from the signaler and gossip.
	// The least recently seen are forgotten first.
	MaxPotentialPeers int
	Transfer          middleware.TransferConfig
}

func (c Config) withDefaults() Config {
	if c.MaxPeers <= 0 {
		c.MaxPeers = DefaultMaxPeers
	}
	if c.MaxOutgoing <= 0 {
		c.MaxOutgoing = min(DefaultMaxOutgoing, c.MaxPeers)
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = session.DefaultTimeout
	}
	if c.GossipInterval <= 0 {
		c.GossipInterval = DefaultGossipInterval
	}
	if c.MaxPotentialPeers <= 0 {
		c.MaxPotentialPeers = DefaultMaxPotentialPeers
	}
	return c
}

type Options struct {
	LocalID  string
	Identity middleware.Signer
	Signaler signaling.Signaler
	Dialer   transport.Dialer
	Config   Config
	// PeerBook is optional.
	PeerBook PeerBook
	Logger   logrus.FieldLogger
	Metrics  *metrics.Metrics
	Clock    clock.Clock
	// Handlers are passed to every session. OnClose and OnGossip run after
	// the manager's own bookkeeping.
	Handlers session.Handlers
	Rand     *rand.Rand
}

type Manager struct {
	opts   Options
	cfg    Config
	logger logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	randMu sync.Mutex
	rand   *rand.Rand

	mu        sync.Mutex
	sessions  map[string]*session.Session
	blacklist map[string]struct{}
	potential *lru.Cache[string, struct{}]
	closed    bool
}

func New(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(opts.Clock.Now().UnixNano()))
	}

	cfg := opts.Config.withDefaults()
	// Only fails on a non-positive size.
	potential, _ := lru.New[string, struct{}](cfg.MaxPotentialPeers)

	m := &Manager{
		opts:      opts,
		cfg:       cfg,
		logger:    opts.Logger,
		rand:      opts.Rand,
		sessions:  make(map[string]*session.Session),
		blacklist: make(map[string]struct{}),
		potential: potential,
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Init restores the blacklist, registers with the signaler and dials a
// random sample of the peers it lists.
func (m *Manager) Init(ctx context.Context) error {
	if m.opts.PeerBook != nil {
		blocked, err := m.opts.PeerBook.Blocked(ctx)
		if err != nil {
			return fmt.Errorf("loading blocked peers: %w", err)
		}
		m.mu.Lock()
		for _, id := range blocked {
			m.blacklist[id] = struct{}{}
		}
		m.mu.Unlock()
		if len(blocked) > 0 {
			m.logger.Infof("Loaded %d blocked peers", len(blocked))
		}
	}

	sig := m.opts.Signaler
	sig.OnInvite(func(from string) {
		m.logger.Infof("Received invite from %s", identity.ShortID(from))
		m.tryConnect(from, false)
	})
	sig.SubscribeToPeers(func(id string) {
		m.logger.Debugf("Peer %s joined", identity.ShortID(id))
		m.tryConnect(id, true)
	}, func(id string) {
		m.mu.Lock()
		m.potential.Remove(id)
		m.mu.Unlock()
	})

	if err := sig.RegisterPeer(ctx); err != nil {
		return fmt.Errorf("registering with signaler: %w", err)
	}
	m.logger.Infof("Registered peer %s", identity.ShortID(m.opts.LocalID))

	peers, err := sig.AvailablePeers(ctx)
	if err != nil {
		return fmt.Errorf("listing peers: %w", err)
	}

	m.mu.Lock()
	for _, id := range peers {
		if id != m.opts.LocalID {
			m.potential.Add(id, struct{}{})
		}
	}
	candidates := m.potentialLocked()
	m.mu.Unlock()

	for _, id := range m.sample(candidates, m.cfg.MaxPeers) {
		m.tryConnect(id, true)
	}
	return nil
}

func (m *Manager) tryConnect(id string, outgoing bool) {
	if err := m.CreateConnection(m.ctx, id, outgoing); err != nil {
		m.logger.Debugf("Not connecting to %s: %v", identity.ShortID(id), err)
	}
}

// CreateConnection admits id and starts a session with it. An outbound
// dial invites the peer before the session starts connecting.
func (m *Manager) CreateConnection(ctx context.Context, id string, outgoing bool) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if err := m.admitLocked(id, outgoing); err != nil {
		m.mu.Unlock()
		m.opts.Metrics.AdmissionRejected(rejectReason(err))
		return err
	}
	m.potential.Add(id, struct{}{})
	s := m.newSession(id, outgoing)
	m.sessions[id] = s
	m.mu.Unlock()

	if outgoing {
		if err := m.opts.Signaler.SendInvite(ctx, id); err != nil {
			s.Close()
			return fmt.Errorf("inviting %s: %w", identity.ShortID(id), err)
		}
		m.logger.Infof("Sent invite to %s", identity.ShortID(id))
	}
	s.Start()
	return nil
}

func (m *Manager) admitLocked(id string, outgoing bool) error {
	if id == m.opts.LocalID {
		return ErrSelf
	}
	if _, ok := m.blacklist[id]; ok {
		return ErrBlacklisted
	}
	if _, ok := m.sessions[id]; ok {
		return ErrAlreadyConnected
	}
	if len(m.sessions) >= m.cfg.MaxPeers {
		return ErrAtCapacity
	}
	if outgoing && m.outgoingLocked() >= m.cfg.MaxOutgoing {
		return ErrOutgoingLimit
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrSelf):
		return "self"
	case errors.Is(err, ErrBlacklisted):
		return "blacklisted"
	case errors.Is(err, ErrAlreadyConnected):
		return "connected"
	case errors.Is(err, ErrAtCapacity):
		return "capacity"
	case errors.Is(err, ErrOutgoingLimit):
		return "outgoing"
	default:
		return "other"
	}
}

func (m *Manager) outgoingLocked() int {
	n := 0
	for _, s := range m.sessions {
		if s.Outgoing() {
			n++
		}
	}
	return n
}

func (m *Manager) newSession(id string, outgoing bool) *session.Session {
	h := m.opts.Handlers
	user := h

	var s *session.Session
	h.OnClose = func(peerID string, reason transport.State, block bool) {
		m.onClose(s, peerID, block)
		if user.OnClose != nil {
			user.OnClose(peerID, reason, block)
		}
	}
	h.OnGossip = func(peerID string, known []string) {
		m.Discover(peerID, known)
		if user.OnGossip != nil {
			user.OnGossip(peerID, known)
		}
	}
	h.OnVerified = func(peerID string) {
		if m.opts.PeerBook != nil {
			if err := m.opts.PeerBook.Remember(m.ctx, peerID); err != nil {
				m.logger.Warnf("Failed to remember peer %s: %v", identity.ShortID(peerID), err)
			}
		}
		if user.OnVerified != nil {
			user.OnVerified(peerID)
		}
	}

	s = session.New(session.Options{
		LocalID:        m.opts.LocalID,
		RemoteID:       id,
		Outgoing:       outgoing,
		Identity:       m.opts.Identity,
		Dialer:         m.opts.Dialer,
		Signaler:       m.opts.Signaler,
		Timeout:        m.cfg.SessionTimeout,
		Clock:          m.opts.Clock,
		Logger:         m.logger,
		Metrics:        m.opts.Metrics,
		Handlers:       h,
		TransferConfig: m.cfg.Transfer,
	})
	return s
}

func (m *Manager) onClose(s *session.Session, id string, block bool) {
	m.mu.Lock()
	if m.sessions[id] == s {
		delete(m.sessions, id)
	}
	if block {
		m.blacklist[id] = struct{}{}
	}
	m.mu.Unlock()

	if !block {
		return
	}
	m.logger.Warnf("Blacklisted peer %s", identity.ShortID(id))
	if m.opts.PeerBook != nil {
		if err := m.opts.PeerBook.Block(m.ctx, id); err != nil {
			m.logger.Warnf("Failed to persist block of %s: %v", identity.ShortID(id), err)
		}
	}
}

// Discover is the gossip feed. New ids become potential peers and are
// dialed while capacity allows.
func (m *Manager) Discover(from string, known []string) {
	m.mu.Lock()
	var fresh []string
	for _, id := range known {
		if id == m.opts.LocalID {
			continue
		}
		if _, ok := m.blacklist[id]; ok {
			continue
		}
		if _, ok := m.sessions[id]; ok {
			continue
		}
		m.potential.Add(id, struct{}{})
		fresh = append(fresh, id)
	}
	m.mu.Unlock()

	if len(fresh) > 0 {
		m.logger.Debugf("Learned %d peers from %s", len(fresh), identity.ShortID(from))
	}
	for _, id := range fresh {
		err := m.CreateConnection(m.ctx, id, true)
		if errors.Is(err, ErrAtCapacity) || errors.Is(err, ErrOutgoingLimit) || errors.Is(err, ErrClosed) {
			return
		}
		if err != nil {
			m.logger.Debugf("Not connecting to %s: %v", identity.ShortID(id), err)
		}
	}
}

// Announce gossips the connected peer set to every verified session.
func (m *Manager) Announce() {
	connected := m.ConnectedPeers()
	for _, s := range m.verifiedSessions() {
		known := make([]string, 0, len(connected))
		for _, id := range connected {
			if id != s.PeerID() {
				known = append(known, id)
			}
		}
		if err := s.SendGossip(known); err != nil {
			m.logger.Debugf("Gossip to %s failed: %v", identity.ShortID(s.PeerID()), err)
		}
	}
}

// Run announces every gossip interval until ctx ends.
func (m *Manager) Run(ctx context.Context) error {
	ticker := m.opts.Clock.Ticker(m.cfg.GossipInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.ctx.Done():
			return nil
		case <-ticker.C:
			m.Announce()
		}
	}
}

// Close tears down every session and waits for them. It must not be
// called from a session handler.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	for _, s := range sessions {
		<-s.Done()
	}
	m.cancel()
}

// Peers returns the ids of every live session.
func (m *Manager) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ConnectedPeers returns the ids of sessions in the Connected state.
func (m *Manager) ConnectedPeers() []string {
	var ids []string
	for _, s := range m.Sessions() {
		if s.State() == session.Connected {
			ids = append(ids, s.PeerID())
		}
	}
	return ids
}

// PotentialPeersCount counts known peers without a live session.
func (m *Manager) PotentialPeersCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.potentialLocked())
}

func (m *Manager) potentialLocked() []string {
	var ids []string
	for _, id := range m.potential.Keys() {
		if _, ok := m.sessions[id]; ok {
			continue
		}
		if _, ok := m.blacklist[id]; ok {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) IsBlacklisted(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blacklist[id]
	return ok
}

func (m *Manager) Session(id string) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Sessions returns the live sessions ordered by peer id.
func (m *Manager) Sessions() []*session.Session {
	m.mu.Lock()
	out := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].PeerID() < out[j].PeerID() })
	return out
}

func (m *Manager) verifiedSessions() []*session.Session {
	var out []*session.Session
	for _, s := range m.Sessions() {
		if s.State() == session.Connected && s.Verified() {
			out = append(out, s)
		}
	}
	return out
}

func (m *Manager) sample(ids []string, n int) []string {
	m.randMu.Lock()
	defer m.randMu.Unlock()

	out := append([]string(nil), ids...)
	m.rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if len(out) > n {
		out = out[:n]
	}
	return out
}
