// Package transport defines the link between two peers: three logical
// channels with different delivery guarantees, lifecycle callbacks and
// link statistics.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/rudransh-shrivastava/peerlink/internal/signaling"
)

var (
	ErrChannelNotOpen = errors.New("channel not open")
	ErrClosed         = errors.New("connection closed")
)

type ChannelKind int

const (
	// Reliable delivers in order with retransmission.
	Reliable ChannelKind = iota
	// Unreliable delivers out of order without retransmission.
	Unreliable
	// Unordered retransmits but does not preserve order.
	Unordered
)

// Channels lists every channel kind a connection opens.
var Channels = []ChannelKind{Reliable, Unreliable, Unordered}

func (k ChannelKind) String() string {
	switch k {
	case Reliable:
		return "reliable"
	case Unreliable:
		return "unreliable"
	case Unordered:
		return "unordered"
	default:
		return "unknown"
	}
}

// Label is the data channel label for k.
func (k ChannelKind) Label() string {
	return k.String()
}

// ParseLabel maps a data channel label back to its kind.
func ParseLabel(label string) (ChannelKind, bool) {
	for _, k := range Channels {
		if k.Label() == label {
			return k, true
		}
	}
	return 0, false
}

type Encoding int

const (
	Structured Encoding = iota
	Binary
)

func (e Encoding) String() string {
	if e == Binary {
		return "binary"
	}
	return "structured"
}

// Event is one inbound message. It is not modified after delivery.
type Event struct {
	Channel  ChannelKind
	Encoding Encoding
	Payload  []byte
}

// State is a final connection state.
type State string

const (
	StateConnected    State = "connected"
	StateFailed       State = "failed"
	StateDisconnected State = "disconnected"
	StateClosed       State = "closed"
	StateTimeout      State = "timeout"
)

type Stats struct {
	LocalCandidateType  string
	RemoteCandidateType string
	Protocol            string
	RoundTripTime       time.Duration
	Relayed             bool
}

// Handlers receive connection callbacks. They may be invoked from
// transport goroutines and must not block.
type Handlers struct {
	OnOpen       func(ChannelKind)
	OnData       func(Event)
	OnFinalState func(State)
}

type Request struct {
	LocalID  string
	RemoteID string
	Outgoing bool
	Signaler signaling.Signaler
}

type Dialer interface {
	Connect(ctx context.Context, req Request, h Handlers) (Conn, error)
}

type Conn interface {
	Send(kind ChannelKind, enc Encoding, payload []byte) error
	Statistics(ctx context.Context) (Stats, error)
	Close() error
}
