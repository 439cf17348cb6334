package middleware

import (
	"bytes"
	"context"
	"testing"

	"github.com/rudransh-shrivastava/peerlink/internal/logger"
	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/rudransh-shrivastava/peerlink/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trustPeer struct {
	sender     *fakeSender
	trust      *Trust
	verified   int
	violations []string
}

func setupTrustPair(t *testing.T) (*trustPeer, *trustPeer) {
	t.Helper()
	aliceKeys := newKeypair(t)
	bobKeys := newKeypair(t)

	alice := &trustPeer{sender: &fakeSender{local: aliceKeys.PeerID(), remote: bobKeys.PeerID()}}
	bob := &trustPeer{sender: &fakeSender{local: bobKeys.PeerID(), remote: aliceKeys.PeerID()}}

	for _, p := range []*trustPeer{alice, bob} {
		p := p
		signer := aliceKeys
		if p == bob {
			signer = bobKeys
		}
		p.trust = NewTrust(p.sender, signer, TrustHandlers{
			OnVerified:  func() { p.verified++ },
			OnViolation: func(reason string) { p.violations = append(p.violations, reason) },
		}, logger.NewLogger(), nil)
	}
	return alice, bob
}

func TestTrustRoundTrip(t *testing.T) {
	alice, bob := setupTrustPair(t)
	ctx := context.Background()

	require.NoError(t, alice.trust.Open(ctx, transport.Reliable))
	challenge := alice.sender.last(t)
	assert.IsType(t, &protocol.AuthChallenge{}, decodeSent(t, challenge))

	assert.False(t, bob.trust.Accept(challenge), "auth envelopes are consumed")
	response := bob.sender.last(t)
	assert.IsType(t, &protocol.AuthResponse{}, decodeSent(t, response))

	assert.True(t, alice.trust.Blocked())
	alice.trust.Accept(response)

	assert.Equal(t, TrustVerified, alice.trust.State())
	assert.False(t, alice.trust.Blocked())
	assert.Equal(t, 1, alice.verified)

	// Replaying the response changes nothing.
	alice.trust.Accept(response)
	assert.Equal(t, TrustVerified, alice.trust.State())
	assert.Equal(t, 1, alice.verified)
	assert.Empty(t, alice.violations)
}

func TestTrustChallengeIssuedOnce(t *testing.T) {
	alice, _ := setupTrustPair(t)
	ctx := context.Background()

	require.NoError(t, alice.trust.Open(ctx, transport.Unreliable))
	assert.Empty(t, alice.sender.events(), "only the reliable channel triggers a challenge")

	require.NoError(t, alice.trust.Open(ctx, transport.Reliable))
	require.NoError(t, alice.trust.Open(ctx, transport.Reliable))
	assert.Len(t, alice.sender.events(), 1)
}

func TestTrustConsumesWhileUnverified(t *testing.T) {
	alice, _ := setupTrustPair(t)

	text := structuredEvent(t, transport.Reliable, protocol.Text{Text: "hi"})
	assert.False(t, alice.trust.Accept(text))
	assert.False(t, alice.trust.Accept(transport.Event{Channel: transport.Unordered, Encoding: transport.Binary, Payload: []byte{1}}))
}

func TestTrustPassesAfterVerification(t *testing.T) {
	alice, bob := setupTrustPair(t)
	require.NoError(t, alice.trust.Open(context.Background(), transport.Reliable))
	bob.trust.Accept(alice.sender.last(t))
	alice.trust.Accept(bob.sender.last(t))
	require.Equal(t, TrustVerified, alice.trust.State())

	text := structuredEvent(t, transport.Reliable, protocol.Text{Text: "hi"})
	assert.True(t, alice.trust.Accept(text))
}

func TestTrustViolations(t *testing.T) {
	tests := []struct {
		name     string
		response func(t *testing.T, alice, bob *trustPeer, nonce []byte) transport.Event
	}{
		{
			name: "claimed key is not the peer id",
			response: func(t *testing.T, alice, bob *trustPeer, nonce []byte) transport.Event {
				impostor := newKeypair(t)
				return structuredEvent(t, transport.Reliable, protocol.AuthResponse{
					PublicKey: impostor.PublicKey(),
					Signature: impostor.Sign(nonce),
				})
			},
		},
		{
			name: "signature over another nonce",
			response: func(t *testing.T, alice, bob *trustPeer, nonce []byte) transport.Event {
				other := bytes.Repeat([]byte{1}, protocol.NonceSize)
				challenge := structuredEvent(t, transport.Reliable, protocol.AuthChallenge{
					PublicKey: alice.sender.local,
					Nonce:     other,
				})
				bob.trust.Accept(challenge)
				return bob.sender.last(t)
			},
		},
		{
			name: "malformed response",
			response: func(t *testing.T, alice, bob *trustPeer, nonce []byte) transport.Event {
				return transport.Event{
					Channel:  transport.Reliable,
					Encoding: transport.Structured,
					Payload:  []byte(`{"type":"auth-response","data":{"publicKey":"x","signature":"AAAA"}}`),
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alice, bob := setupTrustPair(t)
			require.NoError(t, alice.trust.Open(context.Background(), transport.Reliable))
			challenge := decodeSent(t, alice.sender.last(t)).(*protocol.AuthChallenge)

			alice.trust.Accept(tt.response(t, alice, bob, challenge.Nonce))

			assert.Equal(t, TrustBlocked, alice.trust.State())
			assert.True(t, alice.trust.Blocked())
			assert.Len(t, alice.violations, 1)
			assert.Zero(t, alice.verified)

			// A later valid response cannot unblock the session.
			bob.trust.Accept(alice.sender.events()[0])
			alice.trust.Accept(bob.sender.last(t))
			assert.Equal(t, TrustBlocked, alice.trust.State())
			assert.Len(t, alice.violations, 1)
		})
	}
}

func TestTrustResponseWithoutChallenge(t *testing.T) {
	alice, bob := setupTrustPair(t)

	// Bob answers a challenge alice never issued.
	bob.trust.Accept(structuredEvent(t, transport.Reliable, protocol.AuthChallenge{
		PublicKey: alice.sender.local,
		Nonce:     bytes.Repeat([]byte{2}, protocol.NonceSize),
	}))
	alice.trust.Accept(bob.sender.last(t))

	assert.Equal(t, TrustBlocked, alice.trust.State())
	assert.Len(t, alice.violations, 1)
}
