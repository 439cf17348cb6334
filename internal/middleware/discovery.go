package middleware

import (
	"context"
	"time"

	"github.com/rudransh-shrivastava/peerlink/internal/identity"
	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/rudransh-shrivastava/peerlink/internal/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	gossipRate  = rate.Limit(1.0 / 5)
	gossipBurst = 3
)

// DefaultGossipLimiter allows a short burst, then one gossip every five seconds.
func DefaultGossipLimiter() *rate.Limiter {
	return rate.NewLimiter(gossipRate, gossipBurst)
}

// Discovery exchanges known peer ids on the unreliable channel.
type Discovery struct {
	sender   Sender
	onGossip func(from string, known []string)
	limiter  *rate.Limiter
	logger   logrus.FieldLogger
}

// NewDiscovery forwards accepted gossip to onGossip. A nil limiter uses
// DefaultGossipLimiter.
func NewDiscovery(s Sender, onGossip func(from string, known []string), limiter *rate.Limiter, logger logrus.FieldLogger) *Discovery {
	if limiter == nil {
		limiter = DefaultGossipLimiter()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Discovery{
		sender:   s,
		onGossip: onGossip,
		limiter:  limiter,
		logger:   logger,
	}
}

func (d *Discovery) Kind() Kind { return KindDiscovery }

func (d *Discovery) Accept(ev transport.Event) bool {
	msg, ok := decodeOn(ev, transport.Unreliable)
	if !ok {
		return true
	}
	g, ok := msg.(*protocol.Gossip)
	if !ok {
		return true
	}

	if g.From != d.sender.RemoteID() {
		d.logger.Warnf("Dropping gossip relayed for %s", identity.ShortID(g.From))
		return false
	}
	if !d.limiter.AllowN(time.Now(), 1) {
		d.logger.Debug("Dropping gossip over rate limit")
		return false
	}
	if d.onGossip != nil {
		d.onGossip(g.From, g.KnownPeers)
	}
	return false
}

// SendGossip announces known peer ids, truncated to the envelope limit.
func (d *Discovery) SendGossip(known []string) error {
	if len(known) > protocol.MaxKnownPeers {
		known = known[:protocol.MaxKnownPeers]
	}
	return sendMessage(d.sender, transport.Unreliable, protocol.Gossip{
		From:       d.sender.LocalID(),
		KnownPeers: known,
	})
}

func (d *Discovery) Open(context.Context, transport.ChannelKind) error { return nil }

func (d *Discovery) Blocked() bool { return false }

func (d *Discovery) Close() {}
