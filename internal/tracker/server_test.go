package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peerlink/internal/logger"
	"github.com/rudransh-shrivastava/peerlink/internal/signaling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

func setupServer(t *testing.T) *Server {
	t.Helper()

	srv, err := NewServer(Config{Addr: "127.0.0.1:0", Logger: logger.NewLogger()})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv
}

func dialPeer(t *testing.T, srv *Server, id string) *signaling.WSSignaler {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	s, err := signaling.Dial(ctx, srv.URL(), id, logger.NewLogger())
	if err != nil {
		t.Fatalf("Dial %s failed: %v", id, err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestServerAddr(t *testing.T) {
	srv := setupServer(t)
	if srv.Addr() == "" {
		t.Error("Expected non-empty address")
	}
}

func TestServerRegisterAndList(t *testing.T) {
	srv := setupServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	alice := dialPeer(t, srv, "alice")
	joined := make(chan string, 1)
	alice.SubscribeToPeers(func(id string) { joined <- id }, nil)
	require.NoError(t, alice.RegisterPeer(ctx))

	bob := dialPeer(t, srv, "bob")
	require.NoError(t, bob.RegisterPeer(ctx))

	select {
	case id := <-joined:
		assert.Equal(t, "bob", id)
	case <-ctx.Done():
		t.Fatal("join not delivered")
	}

	peers, err := bob.AvailablePeers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, peers)
}

func TestServerRelaysInviteAndSignal(t *testing.T) {
	srv := setupServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	alice := dialPeer(t, srv, "alice")
	bob := dialPeer(t, srv, "bob")
	require.NoError(t, alice.RegisterPeer(ctx))
	require.NoError(t, bob.RegisterPeer(ctx))

	invited := make(chan string, 1)
	bob.OnInvite(func(from string) { invited <- from })
	signals := make(chan signaling.Signal, 1)
	bob.OnSignal("alice", func(s signaling.Signal) { signals <- s })

	require.NoError(t, alice.SendInvite(ctx, "bob"))
	select {
	case from := <-invited:
		assert.Equal(t, "alice", from)
	case <-ctx.Done():
		t.Fatal("invite not relayed")
	}

	offer := signaling.Signal{Description: &signaling.SessionDescription{Type: "offer", SDP: "v=0"}}
	require.NoError(t, alice.SendSignal(ctx, "bob", offer))
	select {
	case got := <-signals:
		require.NotNil(t, got.Description)
		assert.Equal(t, "v=0", got.Description.SDP)
	case <-ctx.Done():
		t.Fatal("signal not relayed")
	}
}

func TestServerBroadcastsLeave(t *testing.T) {
	srv := setupServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	alice := dialPeer(t, srv, "alice")
	left := make(chan string, 1)
	alice.SubscribeToPeers(nil, func(id string) { left <- id })
	require.NoError(t, alice.RegisterPeer(ctx))

	bob := dialPeer(t, srv, "bob")
	require.NoError(t, bob.RegisterPeer(ctx))
	require.NoError(t, bob.Close())

	select {
	case id := <-left:
		assert.Equal(t, "bob", id)
	case <-ctx.Done():
		t.Fatal("leave not broadcast")
	}

	require.Eventually(t, func() bool {
		return srv.store.Len() == 1
	}, waitFor, 10*time.Millisecond)
}
