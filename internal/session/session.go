// Package session owns the lifetime of one remote peer connection. Every
// transport callback and timer is serialized through the session actor.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rudransh-shrivastava/peerlink/internal/identity"
	"github.com/rudransh-shrivastava/peerlink/internal/metrics"
	"github.com/rudransh-shrivastava/peerlink/internal/middleware"
	"github.com/rudransh-shrivastava/peerlink/internal/signaling"
	"github.com/rudransh-shrivastava/peerlink/internal/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout = 30 * time.Second

	eventQueueSize = 1024
	statsTimeout   = 5 * time.Second
)

// ReasonViolation is the close reason of a session whose peer failed
// authentication.
const ReasonViolation transport.State = "violation"

var (
	ErrPeerNotVerified = errors.New("peer not verified")
	ErrSessionClosed   = errors.New("session closed")
)

type State int

const (
	Initiating State = iota
	Connecting
	Connected
	Disconnected
	TimedOut
	Blocked
)

func (s State) String() string {
	switch s {
	case Initiating:
		return "initiating"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case TimedOut:
		return "timed-out"
	case Blocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Final reports whether s is a terminal state.
func (s State) Final() bool {
	return s >= Disconnected
}

// Handlers are fixed at construction. Everything except OnSendProgress runs
// on the session actor and must not block on the session itself.
// OnSendProgress runs on the goroutine calling SendFile.
type Handlers struct {
	OnText          func(peerID, text string)
	OnTyping        func(peerID string, typing bool)
	OnGossip        func(peerID string, known []string)
	OnVerified      func(peerID string)
	OnSendProgress  func(peerID string, p middleware.Progress)
	OnFileProgress  func(peerID string, p middleware.Progress)
	OnFileComplete  func(peerID string, f middleware.ReceivedFile)
	OnFileAbandoned func(peerID, fileID string, received, total int)
	// OnClose fires exactly once. block is set only for protocol violations.
	OnClose func(peerID string, reason transport.State, block bool)
}

type Options struct {
	LocalID  string
	RemoteID string
	Outgoing bool

	Identity middleware.Signer
	Dialer   transport.Dialer
	Signaler signaling.Signaler

	Timeout        time.Duration
	Clock          clock.Clock
	Logger         logrus.FieldLogger
	Metrics        *metrics.Metrics
	Handlers       Handlers
	TransferConfig middleware.TransferConfig
	GossipLimiter  *rate.Limiter
}

type Session struct {
	opts   Options
	logger logrus.FieldLogger

	chain     *middleware.Chain
	trust     *middleware.Trust
	transfer  *middleware.Transfer
	messaging *middleware.Messaging
	discovery *middleware.Discovery

	ctx    context.Context
	cancel context.CancelFunc
	events chan func()
	done   chan struct{}

	// Owned by the actor goroutine.
	timer     *clock.Timer
	violation string
	finished  bool

	mu    sync.RWMutex
	state State
	conn  transport.Conn
	stats *transport.Stats
}

// New builds the session and its middleware chain. The actor starts
// immediately; Start begins connecting.
func New(opts Options) *Session {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.TransferConfig.Clock == nil {
		opts.TransferConfig.Clock = opts.Clock
	}

	s := &Session{
		opts:   opts,
		logger: opts.Logger.WithField("peer", identity.ShortID(opts.RemoteID)),
		events: make(chan func(), eventQueueSize),
		done:   make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	h := opts.Handlers
	remote := opts.RemoteID

	s.trust = middleware.NewTrust(s, opts.Identity, middleware.TrustHandlers{
		OnVerified: func() {
			if h.OnVerified != nil {
				h.OnVerified(remote)
			}
		},
		// Trust runs on the actor; the teardown happens once dispatch returns.
		OnViolation: func(reason string) { s.violation = reason },
	}, s.logger, opts.Metrics)

	s.transfer = middleware.NewTransfer(s, opts.TransferConfig, middleware.TransferHandlers{
		OnSendProgress:  h.OnSendProgress,
		OnFileProgress:  h.OnFileProgress,
		OnFileComplete:  h.OnFileComplete,
		// The stall timer fires on its own goroutine.
		OnFileAbandoned: func(peerID, fileID string, received, total int) {
			if h.OnFileAbandoned != nil {
				s.post(func() { h.OnFileAbandoned(peerID, fileID, received, total) })
			}
		},
	}, s.logger, opts.Metrics)

	s.messaging = middleware.NewMessaging(s, middleware.MessagingHandlers{
		OnText: func(text string) {
			if h.OnText != nil {
				h.OnText(remote, text)
			}
		},
		OnTyping: func(typing bool) {
			if h.OnTyping != nil {
				h.OnTyping(remote, typing)
			}
		},
	})

	s.discovery = middleware.NewDiscovery(s, func(from string, known []string) {
		if h.OnGossip != nil {
			h.OnGossip(from, known)
		}
	}, opts.GossipLimiter, s.logger)

	s.chain = middleware.NewChain(s.logger, opts.Metrics)
	for _, mw := range []middleware.Middleware{s.trust, s.transfer, s.messaging, s.discovery} {
		s.chain.Add(mw.Kind().Priority(), mw)
	}

	opts.Metrics.SessionOpened()
	go s.run()
	return s
}

func (s *Session) run() {
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.done:
			return
		}
	}
}

func (s *Session) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.done:
	}
}

// Start arms the setup timer and asks the transport to connect.
func (s *Session) Start() {
	s.post(s.connect)
}

func (s *Session) connect() {
	if s.finished {
		return
	}
	s.timer = s.opts.Clock.AfterFunc(s.opts.Timeout, func() { s.post(s.onTimeout) })
	s.setState(Connecting)

	conn, err := s.opts.Dialer.Connect(s.ctx, transport.Request{
		LocalID:  s.opts.LocalID,
		RemoteID: s.opts.RemoteID,
		Outgoing: s.opts.Outgoing,
		Signaler: s.opts.Signaler,
	}, transport.Handlers{
		OnOpen:       func(k transport.ChannelKind) { s.post(func() { s.onOpen(k) }) },
		OnData:       func(ev transport.Event) { s.post(func() { s.onData(ev) }) },
		OnFinalState: func(st transport.State) { s.post(func() { s.onFinalState(st) }) },
	})
	if err != nil {
		s.logger.Errorf("Failed to connect: %v", err)
		s.teardown(transport.StateFailed, false)
		return
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Session) onOpen(kind transport.ChannelKind) {
	if s.finished {
		return
	}
	s.logger.Infof("%s data channel opened", kind)
	if err := s.chain.DispatchOpen(s.ctx, kind); err != nil {
		s.logger.Warnf("Opening %s channel: %v", kind, err)
	}
	s.checkViolation()
}

func (s *Session) onData(ev transport.Event) {
	if s.finished {
		return
	}
	s.chain.DispatchInbound(ev)
	s.checkViolation()
}

func (s *Session) checkViolation() {
	if s.violation != "" {
		s.logger.Warnf("Blocking peer: %s", s.violation)
		s.teardown(ReasonViolation, true)
	}
}

func (s *Session) onFinalState(st transport.State) {
	if s.finished {
		return
	}
	s.opts.Signaler.Cleanup(s.opts.RemoteID)

	if st != transport.StateConnected {
		s.logger.Errorf("Connection to peer ended: %s", st)
		s.teardown(st, false)
		return
	}
	if s.State() == Connected {
		return
	}

	if s.timer != nil {
		s.timer.Stop()
	}
	s.setState(Connected)
	s.logger.Info("Successfully connected to peer")

	conn := s.connection()
	if conn == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, statsTimeout)
		defer cancel()
		stats, err := conn.Statistics(ctx)
		if err != nil {
			s.logger.Debugf("Reading link statistics: %v", err)
			return
		}
		s.post(func() { s.recordStats(stats) })
	}()
}

func (s *Session) recordStats(stats transport.Stats) {
	s.mu.Lock()
	s.stats = &stats
	s.mu.Unlock()

	kind := "direct"
	if stats.Relayed {
		kind = "relayed"
	}
	s.logger.Infof("Connection is %s (%s/%s over %s, rtt %s)",
		kind, stats.LocalCandidateType, stats.RemoteCandidateType, stats.Protocol, stats.RoundTripTime)
}

func (s *Session) onTimeout() {
	if s.finished || s.State() == Connected {
		return
	}
	s.logger.Warnf("Connection not established within %s", s.opts.Timeout)
	s.teardown(transport.StateTimeout, false)
}

// teardown runs on the actor and only once.
func (s *Session) teardown(reason transport.State, block bool) {
	if s.finished {
		return
	}
	s.finished = true

	if s.timer != nil {
		s.timer.Stop()
	}

	next := Disconnected
	switch {
	case block:
		next = Blocked
	case reason == transport.StateTimeout:
		next = TimedOut
	}
	s.setState(next)

	s.chain.Close()
	s.opts.Signaler.Cleanup(s.opts.RemoteID)
	if conn := s.connection(); conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Debugf("Closing transport: %v", err)
		}
	}
	s.cancel()

	s.opts.Metrics.SessionClosed(string(reason))
	s.logger.Infof("Session closed: %s", reason)
	if s.opts.Handlers.OnClose != nil {
		s.opts.Handlers.OnClose(s.opts.RemoteID, reason, block)
	}
	close(s.done)
}

// Close disconnects locally without blocking the peer. It does not wait;
// use Done for that.
func (s *Session) Close() {
	s.post(func() { s.teardown(transport.StateClosed, false) })
}

func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) connection() transport.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// LinkStats returns the statistics captured after connecting.
func (s *Session) LinkStats() (transport.Stats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stats == nil {
		return transport.Stats{}, false
	}
	return *s.stats, true
}

func (s *Session) PeerID() string  { return s.opts.RemoteID }
func (s *Session) Outgoing() bool  { return s.opts.Outgoing }
func (s *Session) LocalID() string { return s.opts.LocalID }
func (s *Session) RemoteID() string {
	return s.opts.RemoteID
}

func (s *Session) Trust() *middleware.Trust { return s.trust }

// Verified reports whether the peer passed authentication.
func (s *Session) Verified() bool {
	return s.trust.State() == middleware.TrustVerified
}

// IsBlocked is true while any middleware refuses outbound traffic.
func (s *Session) IsBlocked() bool {
	return s.chain.IsBlocked()
}

// Send writes to the transport. Middlewares use it directly; application
// traffic goes through the gated Send* methods.
func (s *Session) Send(kind transport.ChannelKind, enc transport.Encoding, payload []byte) error {
	conn := s.connection()
	if conn == nil {
		return transport.ErrChannelNotOpen
	}
	return conn.Send(kind, enc, payload)
}

func (s *Session) ready() error {
	if s.State().Final() {
		return ErrSessionClosed
	}
	if s.IsBlocked() {
		return fmt.Errorf("%w: %s", ErrPeerNotVerified, identity.ShortID(s.opts.RemoteID))
	}
	return nil
}

func (s *Session) SendText(text string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.messaging.SendText(text)
}

func (s *Session) SendTyping(typing bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.messaging.SendTyping(typing)
}

// SendFile streams f to the peer and returns its file id.
func (s *Session) SendFile(ctx context.Context, f middleware.File) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	return s.transfer.SendFile(ctx, f)
}

func (s *Session) SendGossip(known []string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.discovery.SendGossip(known)
}
