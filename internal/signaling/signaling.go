// Package signaling carries invites, peer presence and WebRTC negotiation
// between peers that have no direct link yet.
package signaling

import (
	"context"
	"errors"
)

var (
	ErrClosed      = errors.New("signaler closed")
	ErrUnknownPeer = errors.New("unknown peer")
)

type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Signal is one negotiation step. Exactly one of the fields is set.
type Signal struct {
	Description *SessionDescription `json:"description,omitempty"`
	Candidate   *ICECandidate       `json:"candidate,omitempty"`
}

// Signaler is the rendezvous used to find peers and negotiate links.
//
// Signals from a peer with no registered handler are buffered until
// OnSignal registers one for it. After Cleanup they are dropped instead,
// until that peer invites again or a new handler is registered.
type Signaler interface {
	RegisterPeer(ctx context.Context) error
	AvailablePeers(ctx context.Context) ([]string, error)
	OnInvite(fn func(from string))
	SubscribeToPeers(onJoin, onLeave func(id string))
	SendInvite(ctx context.Context, to string) error
	SendSignal(ctx context.Context, to string, sig Signal) error
	OnSignal(from string, fn func(Signal))
	Cleanup(peerID string)
	Close() error
}
