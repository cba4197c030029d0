// Package account implements the durable account registry consumed by
// the session lifecycle manager.
package account

import (
	"fmt"
	"sync"

	"github.com/rafaelmp/conversa/internal/bus"
	"github.com/rafaelmp/conversa/internal/store"
	"go.uber.org/zap"
)

// Registry is the owned, serialized-access index of configured
// accounts. The in-memory map is a cache over the accounts table and
// is rebuilt from rows at construction.
type Registry struct {
	mu       sync.RWMutex
	db       *store.DB
	bus      *bus.Bus
	logger   *zap.Logger
	accounts map[int64]store.Account
}

// NewRegistry builds the registry and loads all account rows.
func NewRegistry(db *store.DB, b *bus.Bus, logger *zap.Logger) (*Registry, error) {
	r := &Registry{
		db:       db,
		bus:      b,
		logger:   logger,
		accounts: make(map[int64]store.Account),
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) reload() error {
	rows, err := r.db.ListAccounts()
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = make(map[int64]store.Account, len(rows))
	for _, a := range rows {
		r.accounts[a.ID] = a
	}
	return nil
}

// List returns all configured accounts.
func (r *Registry) List() []store.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]store.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a)
	}
	return out
}

// Active returns all accounts with the active flag set.
func (r *Registry) Active() []store.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []store.Account
	for _, a := range r.accounts {
		if a.Active {
			out = append(out, a)
		}
	}
	return out
}

// Get returns an account by id.
func (r *Registry) Get(id int64) (store.Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	return a, ok
}

// Add persists a new account and publishes a state-change event.
func (r *Registry) Add(a *store.Account) error {
	if err := r.db.InsertAccount(a); err != nil {
		return err
	}
	r.mu.Lock()
	r.accounts[a.ID] = *a
	r.mu.Unlock()
	r.bus.Emit(bus.KindAccountStateChanged, bus.AccountStateChange{
		AccountID: a.ID, JID: a.JID, Active: a.Active,
	})
	return nil
}

// SetActive flips the active flag, persisting first so the cache never
// claims a state the store did not record.
func (r *Registry) SetActive(id int64, active bool) error {
	if err := r.db.SetAccountActive(id, active); err != nil {
		return err
	}
	r.mu.Lock()
	a, ok := r.accounts[id]
	if ok {
		a.Active = active
		r.accounts[id] = a
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("account %d not in registry", id)
	}
	r.logger.Info("account active flag changed",
		zap.Int64("account_id", id), zap.Bool("active", active))
	r.bus.Emit(bus.KindAccountStateChanged, bus.AccountStateChange{
		AccountID: id, JID: a.JID, Active: active,
	})
	return nil
}

// SetEndpoint persists the redirect endpoint hint for the account.
func (r *Registry) SetEndpoint(id int64, endpoint string) error {
	if err := r.db.SetAccountEndpoint(id, endpoint); err != nil {
		return err
	}
	r.mu.Lock()
	if a, ok := r.accounts[id]; ok {
		a.LastEndpoint = endpoint
		r.accounts[id] = a
	}
	r.mu.Unlock()
	return nil
}

// SetRosterVersion persists the roster version cursor.
func (r *Registry) SetRosterVersion(id int64, version string) error {
	if err := r.db.SetRosterVersion(id, version); err != nil {
		return err
	}
	r.mu.Lock()
	if a, ok := r.accounts[id]; ok {
		a.RosterVersion = version
		r.accounts[id] = a
	}
	r.mu.Unlock()
	return nil
}

// Remove deletes the account and everything cascading from it.
func (r *Registry) Remove(id int64) error {
	a, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("account %d not in registry", id)
	}
	if err := r.db.DeleteAccount(id); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.accounts, id)
	r.mu.Unlock()
	r.bus.Emit(bus.KindAccountStateChanged, bus.AccountStateChange{
		AccountID: id, JID: a.JID, Active: false,
	})
	return nil
}
