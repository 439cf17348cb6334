package middleware

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/rudransh-shrivastava/peerlink/internal/identity"
	"github.com/rudransh-shrivastava/peerlink/internal/metrics"
	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/rudransh-shrivastava/peerlink/internal/transport"
	"github.com/sirupsen/logrus"
)

type TrustState int

const (
	TrustUnverified TrustState = iota
	TrustVerified
	TrustBlocked
)

func (s TrustState) String() string {
	switch s {
	case TrustVerified:
		return "verified"
	case TrustBlocked:
		return "blocked"
	default:
		return "unverified"
	}
}

// Signer is the local identity answering challenges.
type Signer interface {
	PublicKey() string
	Sign(msg []byte) []byte
}

type TrustHandlers struct {
	OnVerified  func()
	OnViolation func(reason string)
}

// Trust authenticates the remote peer with a nonce challenge before any
// other traffic is let through.
type Trust struct {
	sender   Sender
	signer   Signer
	handlers TrustHandlers
	logger   logrus.FieldLogger
	metrics  *metrics.Metrics
	rand     io.Reader

	mu    sync.Mutex
	state TrustState
	nonce []byte
}

func NewTrust(s Sender, signer Signer, h TrustHandlers, logger logrus.FieldLogger, m *metrics.Metrics) *Trust {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Trust{
		sender:   s,
		signer:   signer,
		handlers: h,
		logger:   logger,
		metrics:  m,
		rand:     rand.Reader,
	}
}

func (t *Trust) Kind() Kind { return KindTrust }

func (t *Trust) State() TrustState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Blocked is true until the remote peer is verified.
func (t *Trust) Blocked() bool {
	return t.State() != TrustVerified
}

// Open issues the challenge once the reliable channel is ready.
func (t *Trust) Open(_ context.Context, ch transport.ChannelKind) error {
	if ch != transport.Reliable {
		return nil
	}

	t.mu.Lock()
	if t.nonce != nil || t.state != TrustUnverified {
		t.mu.Unlock()
		return nil
	}
	nonce := make([]byte, protocol.NonceSize)
	if _, err := io.ReadFull(t.rand, nonce); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("generating auth nonce: %w", err)
	}
	t.nonce = nonce
	t.mu.Unlock()

	return sendMessage(t.sender, transport.Reliable, protocol.AuthChallenge{
		PublicKey: t.signer.PublicKey(),
		Nonce:     nonce,
	})
}

func (t *Trust) Accept(ev transport.Event) bool {
	if ev.Encoding == transport.Structured && ev.Channel == transport.Reliable {
		if typ, err := protocol.PeekType(ev.Payload); err == nil && typ.IsAuth() {
			t.handleAuth(ev.Payload)
			return false
		}
	}

	if state := t.State(); state != TrustVerified {
		t.logger.Debugf("Dropping %s event from %s peer", ev.Channel, state)
		return false
	}
	return true
}

func (t *Trust) handleAuth(raw []byte) {
	msg, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		if t.State() == TrustUnverified {
			t.fail(fmt.Sprintf("malformed auth envelope: %v", err))
		}
		return
	}

	switch m := msg.(type) {
	case *protocol.AuthChallenge:
		if t.State() == TrustBlocked {
			return
		}
		err := sendMessage(t.sender, transport.Reliable, protocol.AuthResponse{
			PublicKey: t.signer.PublicKey(),
			Signature: t.signer.Sign(m.Nonce),
		})
		if err != nil {
			t.logger.Warnf("Failed to answer auth challenge: %v", err)
		}

	case *protocol.AuthResponse:
		t.verify(m)
	}
}

func (t *Trust) verify(resp *protocol.AuthResponse) {
	t.mu.Lock()
	if state := t.state; state != TrustUnverified {
		t.mu.Unlock()
		t.logger.Debugf("Ignoring auth response in %s state", state)
		return
	}

	var reason string
	switch {
	case t.nonce == nil:
		reason = "auth response without a challenge"
	case resp.PublicKey != t.sender.RemoteID():
		reason = "claimed key does not match peer id"
	case !identity.Verify(resp.PublicKey, t.nonce, resp.Signature):
		reason = "invalid signature"
	}
	if reason != "" {
		t.mu.Unlock()
		t.fail(reason)
		return
	}

	t.state = TrustVerified
	t.mu.Unlock()

	t.metrics.Auth("verified")
	t.logger.Infof("Peer %s verified", identity.ShortID(t.sender.RemoteID()))
	if t.handlers.OnVerified != nil {
		t.handlers.OnVerified()
	}
}

func (t *Trust) fail(reason string) {
	t.mu.Lock()
	if t.state == TrustBlocked {
		t.mu.Unlock()
		return
	}
	t.state = TrustBlocked
	t.mu.Unlock()

	t.metrics.Auth("failed")
	t.logger.Warnf("Authentication of %s failed: %s", identity.ShortID(t.sender.RemoteID()), reason)
	if t.handlers.OnViolation != nil {
		t.handlers.OnViolation(reason)
	}
}

func (t *Trust) Close() {}
