// Package node wires identity, signaling, transport and the connector into
// one running peer and exposes broadcast actions over its sessions.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rudransh-shrivastava/peerlink/internal/config"
	"github.com/rudransh-shrivastava/peerlink/internal/connector"
	"github.com/rudransh-shrivastava/peerlink/internal/identity"
	"github.com/rudransh-shrivastava/peerlink/internal/metrics"
	"github.com/rudransh-shrivastava/peerlink/internal/middleware"
	"github.com/rudransh-shrivastava/peerlink/internal/session"
	"github.com/rudransh-shrivastava/peerlink/internal/signaling"
	"github.com/rudransh-shrivastava/peerlink/internal/transport"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

var ErrNoPeers = errors.New("no verified peers")

type Options struct {
	Config   config.Config
	Identity *identity.Keypair
	Signaler signaling.Signaler
	Dialer   transport.Dialer
	// PeerBook is optional.
	PeerBook connector.PeerBook
	Logger   logrus.FieldLogger
	Metrics  *metrics.Metrics
	Clock    clock.Clock
	Events   session.Handlers
}

// PeerInfo is a snapshot of one session.
type PeerInfo struct {
	ID       string
	State    session.State
	Outgoing bool
	Verified bool
	Link     *transport.Stats
}

type Node struct {
	id       string
	logger   logrus.FieldLogger
	signaler signaling.Signaler
	manager  *connector.Manager

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New(opts Options) (*Node, error) {
	if opts.Identity == nil {
		return nil, errors.New("node: identity is required")
	}
	if opts.Signaler == nil || opts.Dialer == nil {
		return nil, errors.New("node: signaler and dialer are required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	cfg := opts.Config
	id := opts.Identity.PeerID()
	n := &Node{
		id:       id,
		logger:   opts.Logger,
		signaler: opts.Signaler,
	}
	n.manager = connector.New(connector.Options{
		LocalID:  id,
		Identity: opts.Identity,
		Signaler: opts.Signaler,
		Dialer:   opts.Dialer,
		Config: connector.Config{
			MaxPeers:       cfg.MaxPeers,
			MaxOutgoing:    cfg.MaxOutgoing,
			SessionTimeout: cfg.SessionTimeout,
			GossipInterval: cfg.GossipInterval,
			Transfer: middleware.TransferConfig{
				ChunkSize:    cfg.ChunkSize,
				StallTimeout: cfg.TransferStallTimeout,
				MaxFileSize:  cfg.MaxFileSize,
			},
		},
		PeerBook: opts.PeerBook,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
		Clock:    opts.Clock,
		Handlers: opts.Events,
	})
	return n, nil
}

// Start joins the network and runs the gossip loop in the background.
func (n *Node) Start(ctx context.Context) error {
	if err := n.manager.Init(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.manager.Run(runCtx); err != nil {
			n.logger.Errorf("Gossip loop stopped: %v", err)
		}
	}()

	n.logger.Infof("Node %s started", identity.ShortID(n.id))
	return nil
}

func (n *Node) ID() string { return n.id }

func (n *Node) Manager() *connector.Manager { return n.manager }

func (n *Node) Peers() []PeerInfo {
	sessions := n.manager.Sessions()
	out := make([]PeerInfo, 0, len(sessions))
	for _, s := range sessions {
		info := PeerInfo{
			ID:       s.PeerID(),
			State:    s.State(),
			Outgoing: s.Outgoing(),
			Verified: s.Verified(),
		}
		if stats, ok := s.LinkStats(); ok {
			info.Link = &stats
		}
		out = append(out, info)
	}
	return out
}

// targets returns the connected sessions, skipping unverified ones.
func (n *Node) targets() []*session.Session {
	var out []*session.Session
	for _, s := range n.manager.Sessions() {
		if s.State() != session.Connected {
			continue
		}
		if s.IsBlocked() {
			n.logger.Warnf("Skipping %s: peer is not verified", identity.ShortID(s.PeerID()))
			continue
		}
		out = append(out, s)
	}
	return out
}

func (n *Node) broadcast(send func(*session.Session) error) (int, error) {
	targets := n.targets()
	if len(targets) == 0 {
		return 0, ErrNoPeers
	}

	var errs error
	sent := 0
	for _, s := range targets {
		if err := send(s); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", identity.ShortID(s.PeerID()), err))
			continue
		}
		sent++
	}
	return sent, errs
}

// SendText sends text to every verified peer and returns how many got it.
func (n *Node) SendText(text string) (int, error) {
	return n.broadcast(func(s *session.Session) error { return s.SendText(text) })
}

func (n *Node) SendTyping(typing bool) (int, error) {
	return n.broadcast(func(s *session.Session) error { return s.SendTyping(typing) })
}

// SendFile streams f to every verified peer in turn.
func (n *Node) SendFile(ctx context.Context, f middleware.File) (int, error) {
	return n.broadcast(func(s *session.Session) error {
		_, err := s.SendFile(ctx, f)
		return err
	})
}

// Close leaves the network. It waits for every session to tear down.
func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		if n.cancel != nil {
			n.cancel()
		}
		n.manager.Close()
		n.wg.Wait()
		err = multierr.Append(err, n.signaler.Close())
		n.logger.Infof("Node %s stopped", identity.ShortID(n.id))
	})
	return err
}
