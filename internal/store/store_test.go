package store_test

import (
	"context"
	"testing"

	"github.com/rudransh-shrivastava/peerlink/internal/connector"
	"github.com/rudransh-shrivastava/peerlink/internal/identity"
	"github.com/rudransh-shrivastava/peerlink/internal/store"
	"gorm.io/gorm"
)

var _ connector.PeerBook = (*store.PeerStore)(nil)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(db) })
	return db
}

func TestIdentityStore_LoadEmpty(t *testing.T) {
	ids := store.NewIdentityStore(setupTestDB(t))

	_, err := ids.Load(context.Background())
	if err != store.ErrNoIdentity {
		t.Fatalf("Load on empty store = %v, want ErrNoIdentity", err)
	}
}

func TestIdentityStore_SaveLoad(t *testing.T) {
	ids := store.NewIdentityStore(setupTestDB(t))
	ctx := context.Background()

	kp, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if err := ids.Save(ctx, kp); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := ids.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.PeerID() != kp.PeerID() {
		t.Errorf("loaded peer id %q, want %q", got.PeerID(), kp.PeerID())
	}

	// Saving again replaces the row.
	other, _ := identity.Generate()
	if err := ids.Save(ctx, other); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	got, _ = ids.Load(ctx)
	if got.PeerID() != other.PeerID() {
		t.Errorf("after replace got %q, want %q", got.PeerID(), other.PeerID())
	}
}

func TestIdentityStore_LoadOrGenerate(t *testing.T) {
	ids := store.NewIdentityStore(setupTestDB(t))
	ctx := context.Background()

	first, created, err := ids.LoadOrGenerate(ctx)
	if err != nil {
		t.Fatalf("LoadOrGenerate failed: %v", err)
	}
	if !created {
		t.Error("expected a new identity on first use")
	}

	second, created, err := ids.LoadOrGenerate(ctx)
	if err != nil {
		t.Fatalf("LoadOrGenerate failed: %v", err)
	}
	if created {
		t.Error("expected the stored identity on second use")
	}
	if first.PeerID() != second.PeerID() {
		t.Errorf("identity changed between loads")
	}
}

func TestPeerStore_RememberAndBlock(t *testing.T) {
	ps := store.NewPeerStore(setupTestDB(t))
	ctx := context.Background()

	for _, id := range []string{"peer-a", "peer-b", "peer-a"} {
		if err := ps.Remember(ctx, id); err != nil {
			t.Fatalf("Remember(%q) failed: %v", id, err)
		}
	}
	known, err := ps.Known(ctx)
	if err != nil {
		t.Fatalf("Known failed: %v", err)
	}
	if len(known) != 2 {
		t.Fatalf("expected 2 known peers, got %v", known)
	}

	if err := ps.Block(ctx, "peer-b"); err != nil {
		t.Fatalf("Block failed: %v", err)
	}
	if err := ps.Block(ctx, "peer-c"); err != nil {
		t.Fatalf("Block of unseen peer failed: %v", err)
	}

	blocked, err := ps.Blocked(ctx)
	if err != nil {
		t.Fatalf("Blocked failed: %v", err)
	}
	if len(blocked) != 2 || blocked[0] != "peer-b" || blocked[1] != "peer-c" {
		t.Errorf("Blocked() = %v, want [peer-b peer-c]", blocked)
	}

	known, _ = ps.Known(ctx)
	if len(known) != 1 || known[0] != "peer-a" {
		t.Errorf("Known() = %v, want [peer-a]", known)
	}
}

func TestPeerStore_RememberKeepsBlock(t *testing.T) {
	ps := store.NewPeerStore(setupTestDB(t))
	ctx := context.Background()

	_ = ps.Block(ctx, "peer-a")
	if err := ps.Remember(ctx, "peer-a"); err != nil {
		t.Fatalf("Remember failed: %v", err)
	}

	blocked, _ := ps.Blocked(ctx)
	if len(blocked) != 1 {
		t.Errorf("a later Remember must not unblock, got %v", blocked)
	}
}
