package tracker

import (
	"testing"
)

func TestStoreAddAndIDs(t *testing.T) {
	store := NewStore()

	store.Add(&peer{id: "bob"})
	store.Add(&peer{id: "alice"})

	ids := store.IDs()
	if len(ids) != 2 {
		t.Fatalf("Expected 2 peers, got %d", len(ids))
	}
	if ids[0] != "alice" || ids[1] != "bob" {
		t.Errorf("Expected sorted ids, got %v", ids)
	}
}

func TestStoreAddReplaces(t *testing.T) {
	store := NewStore()
	first := &peer{id: "alice"}
	second := &peer{id: "alice"}

	if old := store.Add(first); old != nil {
		t.Fatalf("Expected no previous peer, got %v", old)
	}
	if old := store.Add(second); old != first {
		t.Errorf("Expected first peer to be replaced")
	}
	if store.Len() != 1 {
		t.Errorf("Expected 1 peer, got %d", store.Len())
	}
}

func TestStoreRemoveStale(t *testing.T) {
	store := NewStore()
	first := &peer{id: "alice"}
	second := &peer{id: "alice"}
	store.Add(first)
	store.Add(second)

	if store.Remove(first) {
		t.Error("Removing a replaced connection must be a no-op")
	}
	if _, ok := store.Get("alice"); !ok {
		t.Fatal("Expected alice to remain registered")
	}
	if !store.Remove(second) {
		t.Error("Expected current connection to be removed")
	}
	if _, ok := store.Get("alice"); ok {
		t.Error("Expected alice to be gone")
	}
}

func TestStoreOthers(t *testing.T) {
	store := NewStore()
	store.Add(&peer{id: "alice"})
	store.Add(&peer{id: "bob"})
	store.Add(&peer{id: "carol"})

	others := store.Others("bob")
	if len(others) != 2 {
		t.Fatalf("Expected 2 others, got %d", len(others))
	}
	for _, p := range others {
		if p.id == "bob" {
			t.Error("Others must exclude the requesting peer")
		}
	}
}
