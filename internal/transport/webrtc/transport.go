// Package webrtc implements the transport contract with pion WebRTC data
// channels, negotiated through a signaling.Signaler.
package webrtc

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peerlink/internal/identity"
	"github.com/rudransh-shrivastava/peerlink/internal/transport"
	"github.com/sirupsen/logrus"
)

// Compile-time interface check.
var _ transport.Dialer = (*Dialer)(nil)

type Dialer struct {
	config webrtc.Configuration
	logger logrus.FieldLogger
}

// New creates a dialer using the given ICE servers.
func New(iceServers []string, logger logrus.FieldLogger) *Dialer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dialer{
		config: Configuration(iceServers),
		logger: logger,
	}
}

// Connect starts negotiating a link to req.RemoteID. An outgoing request
// creates the channels and sends the offer; otherwise the connection waits
// for the remote offer.
func (d *Dialer) Connect(ctx context.Context, req transport.Request, h transport.Handlers) (transport.Conn, error) {
	if req.Signaler == nil {
		return nil, fmt.Errorf("connect %s: no signaler", identity.ShortID(req.RemoteID))
	}

	c := newConnection(d.config, req, h, d.logger.WithField("peer", identity.ShortID(req.RemoteID)))
	if err := c.start(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}
