package middleware

import (
	"context"
	"sync"
	"testing"

	"github.com/rudransh-shrivastava/peerlink/internal/identity"
	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/rudransh-shrivastava/peerlink/internal/transport"
	"github.com/stretchr/testify/require"
)

// fakeSender records outbound events.
type fakeSender struct {
	local, remote string

	mu   sync.Mutex
	sent []transport.Event
	err  error
}

func (s *fakeSender) Send(kind transport.ChannelKind, enc transport.Encoding, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, transport.Event{Channel: kind, Encoding: enc, Payload: append([]byte(nil), payload...)})
	return nil
}

func (s *fakeSender) LocalID() string  { return s.local }
func (s *fakeSender) RemoteID() string { return s.remote }

func (s *fakeSender) events() []transport.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.Event(nil), s.sent...)
}

func (s *fakeSender) last(t *testing.T) transport.Event {
	t.Helper()
	evs := s.events()
	require.NotEmpty(t, evs, "nothing sent")
	return evs[len(evs)-1]
}

// recorder is a middleware that records calls and returns a fixed verdict.
type recorder struct {
	kind    Kind
	pass    bool
	blocked bool
	log     *[]Kind
	mu      sync.Mutex
	calls   int
}

func (r *recorder) Kind() Kind { return r.kind }

func (r *recorder) Accept(transport.Event) bool {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.log != nil {
		*r.log = append(*r.log, r.kind)
	}
	return r.pass
}

func (r *recorder) Open(context.Context, transport.ChannelKind) error {
	if r.log != nil {
		*r.log = append(*r.log, r.kind)
	}
	return nil
}

func (r *recorder) Blocked() bool { return r.blocked }
func (r *recorder) Close()        {}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newKeypair(t *testing.T) *identity.Keypair {
	t.Helper()
	kp, err := identity.Generate()
	require.NoError(t, err)
	return kp
}

func structuredEvent(t *testing.T, ch transport.ChannelKind, msg protocol.Message) transport.Event {
	t.Helper()
	raw, err := protocol.EncodeEnvelope(msg)
	require.NoError(t, err)
	return transport.Event{Channel: ch, Encoding: transport.Structured, Payload: raw}
}

func decodeSent(t *testing.T, ev transport.Event) protocol.Message {
	t.Helper()
	msg, err := protocol.DecodeEnvelope(ev.Payload)
	require.NoError(t, err)
	return msg
}
