// Package middleware holds the per-session protocol handlers and the chain
// that orders them.
package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/rudransh-shrivastava/peerlink/internal/transport"
)

var ErrNotReady = errors.New("middleware not ready")

type Kind int

// The numeric value of a kind is its default priority.
const (
	KindTrust Kind = iota + 1
	KindTransfer
	KindMessaging
	KindDiscovery
)

func (k Kind) String() string {
	switch k {
	case KindTrust:
		return "trust"
	case KindTransfer:
		return "transfer"
	case KindMessaging:
		return "messaging"
	case KindDiscovery:
		return "discovery"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Priority is the default dispatch position of k. Lower runs first.
func (k Kind) Priority() int {
	return int(k)
}

// Middleware reacts to inbound events and channel lifecycle for one session.
type Middleware interface {
	Kind() Kind
	// Accept returns false when it consumed ev; later middlewares never see it.
	Accept(ev transport.Event) bool
	// Open is called once per channel becoming ready, in priority order.
	Open(ctx context.Context, ch transport.ChannelKind) error
	// Blocked reports whether outbound application traffic must be refused.
	Blocked() bool
	Close()
}

// Sender is the outbound side of a session as seen by its middlewares.
type Sender interface {
	Send(kind transport.ChannelKind, enc transport.Encoding, payload []byte) error
	LocalID() string
	RemoteID() string
}

func sendMessage(s Sender, ch transport.ChannelKind, msg protocol.Message) error {
	raw, err := protocol.EncodeEnvelope(msg)
	if err != nil {
		return err
	}
	if err := s.Send(ch, transport.Structured, raw); err != nil {
		return fmt.Errorf("sending %s: %w", msg.Type(), err)
	}
	return nil
}

// decodeOn decodes ev when it is a valid structured envelope on ch.
func decodeOn(ev transport.Event, ch transport.ChannelKind) (protocol.Message, bool) {
	if ev.Encoding != transport.Structured || ev.Channel != ch {
		return nil, false
	}
	msg, err := protocol.DecodeEnvelope(ev.Payload)
	if err != nil {
		return nil, false
	}
	return msg, true
}
