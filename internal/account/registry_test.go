package account

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rafaelmp/conversa/internal/bus"
	"github.com/rafaelmp/conversa/internal/store"
	"go.uber.org/zap"
)

func testRegistry(t *testing.T) (*Registry, *store.DB, *bus.Bus) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	r, err := NewRegistry(db, b, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return r, db, b
}

func TestAddAndList(t *testing.T) {
	r, _, _ := testRegistry(t)

	a := &store.Account{JID: "user@example.org", Active: true}
	if err := r.Add(a); err != nil {
		t.Fatal(err)
	}
	b := &store.Account{JID: "idle@example.org", Active: false}
	if err := r.Add(b); err != nil {
		t.Fatal(err)
	}

	if got := len(r.List()); got != 2 {
		t.Errorf("List() = %d accounts, want 2", got)
	}
	active := r.Active()
	if len(active) != 1 || active[0].JID != "user@example.org" {
		t.Errorf("Active() = %+v, want only user@example.org", active)
	}
}

func TestSetActivePublishes(t *testing.T) {
	r, _, eventBus := testRegistry(t)

	a := &store.Account{JID: "user@example.org", Active: true}
	if err := r.Add(a); err != nil {
		t.Fatal(err)
	}

	ch, unsub := eventBus.Subscribe("account.", 10)
	defer unsub()

	if err := r.SetActive(a.ID, false); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(bus.AccountStateChange)
		if !ok {
			t.Fatalf("payload type = %T", evt.Payload)
		}
		if change.AccountID != a.ID || change.Active {
			t.Errorf("change = %+v, want inactive %d", change, a.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for account.state_changed")
	}

	got, _ := r.Get(a.ID)
	if got.Active {
		t.Error("cache still reports active")
	}
}

// The cache is rebuilt from rows, not carried across restarts.
func TestRegistryRebuildsFromStore(t *testing.T) {
	r, db, eventBus := testRegistry(t)

	a := &store.Account{JID: "user@example.org", Active: true}
	if err := r.Add(a); err != nil {
		t.Fatal(err)
	}

	// A second registry over the same store sees the same rows.
	r2, err := NewRegistry(db, eventBus, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	got, ok := r2.Get(a.ID)
	if !ok || got.JID != "user@example.org" {
		t.Errorf("rebuilt registry missing account: %+v ok=%v", got, ok)
	}
}

func TestRemoveCascades(t *testing.T) {
	r, db, _ := testRegistry(t)

	a := &store.Account{JID: "user@example.org", Active: true}
	if err := r.Add(a); err != nil {
		t.Fatal(err)
	}
	if _, _, err := db.AppendItem(store.AppendParams{
		AccountID: a.ID, Peer: "b@example.org", State: store.StateIncoming,
		Timestamp: 1000, Body: "bye",
	}); err != nil {
		t.Fatal(err)
	}

	if err := r.Remove(a.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Get(a.ID); ok {
		t.Error("account still in registry after Remove")
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM chat_history`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("history rows = %d, want 0", count)
	}
}
