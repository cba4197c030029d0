// Package chats keeps the per-account in-memory index of open
// conversations, mirroring the durable chats rows.
package chats

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rafaelmp/conversa/internal/bus"
	"github.com/rafaelmp/conversa/internal/store"
	"go.uber.org/zap"
)

// Registry mediates conversation open/close and option updates. The
// maps are caches over durable rows: populated on account activation,
// torn down on deactivation, and never trusted across a restart.
// Writes serialize on the registry lock; reads may run concurrently.
type Registry struct {
	mu        sync.RWMutex
	db        *store.DB
	bus       *bus.Bus
	logger    *zap.Logger
	byAccount map[int64]map[string]*store.Conversation
	unsub     func()
}

// NewRegistry creates an empty registry. It follows account state
// changes on the bus, so accounts activated after construction get
// their index built without an explicit Activate call.
func NewRegistry(db *store.DB, b *bus.Bus, logger *zap.Logger) *Registry {
	r := &Registry{
		db:        db,
		bus:       b,
		logger:    logger,
		byAccount: make(map[int64]map[string]*store.Conversation),
	}
	ch, unsub := b.Subscribe("account.", 16)
	r.unsub = unsub
	go r.watch(ch)
	return r
}

func (r *Registry) watch(ch <-chan bus.Event) {
	for evt := range ch {
		change, ok := evt.Payload.(bus.AccountStateChange)
		if !ok {
			continue
		}
		if change.Active {
			if err := r.Activate(change.AccountID); err != nil {
				r.logger.Error("activate conversations",
					zap.Int64("account_id", change.AccountID), zap.Error(err))
			}
			continue
		}
		r.Deactivate(change.AccountID)
	}
}

// Activate loads an account's conversations into memory. Any duplicate
// (account, peer) rows left behind by older versions are collapsed to
// the lowest id first.
func (r *Registry) Activate(accountID int64) error {
	removed, err := r.db.CollapseDuplicateConversations(accountID)
	if err != nil {
		return err
	}
	if removed > 0 {
		r.logger.Warn("collapsed duplicate conversations",
			zap.Int64("account_id", accountID), zap.Int64("removed", removed))
	}

	rows, err := r.db.ListConversations(accountID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	byPeer := make(map[string]*store.Conversation, len(rows))
	for i := range rows {
		c := rows[i]
		byPeer[c.Peer] = &c
	}
	r.byAccount[accountID] = byPeer
	return nil
}

// Deactivate drops an account's in-memory index. Durable rows stay.
func (r *Registry) Deactivate(accountID int64) {
	r.mu.Lock()
	delete(r.byAccount, accountID)
	r.mu.Unlock()
}

// Activated reports whether the account's index is loaded.
func (r *Registry) Activated(accountID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byAccount[accountID]
	return ok
}

// Shutdown detaches the registry from the bus.
func (r *Registry) Shutdown() {
	r.unsub()
}

// Get returns the open conversation for (account, peer), if any.
func (r *Registry) Get(accountID int64, peer string) (*store.Conversation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byAccount[accountID][peer]
	return c, ok
}

// List returns all open conversations for an account.
func (r *Registry) List(accountID int64) []*store.Conversation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byPeer := r.byAccount[accountID]
	out := make([]*store.Conversation, 0, len(byPeer))
	for _, c := range byPeer {
		out = append(out, c)
	}
	return out
}

// Open returns the existing conversation for (account, peer) or
// persists the provisional one, indexes it and publishes an opened
// event. Idempotent: a second open for the same peer returns the same
// conversation.
func (r *Registry) Open(provisional *store.Conversation) (*store.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byPeer, ok := r.byAccount[provisional.AccountID]
	if !ok {
		return nil, fmt.Errorf("account %d not activated", provisional.AccountID)
	}
	if existing, ok := byPeer[provisional.Peer]; ok {
		return existing, nil
	}

	// An unindexed durable row can exist if the account was activated
	// before an older daemon wrote it; reuse rather than duplicate.
	existing, err := r.db.GetConversation(provisional.AccountID, provisional.Peer)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		byPeer[existing.Peer] = existing
		return existing, nil
	}

	if err := r.db.InsertConversation(provisional); err != nil {
		return nil, err
	}
	byPeer[provisional.Peer] = provisional
	r.bus.Emit(bus.KindConversationOpened, provisional)
	return provisional, nil
}

// Close removes the conversation from the index, deletes the durable
// row and publishes a closed event.
func (r *Registry) Close(accountID int64, peer string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byPeer := r.byAccount[accountID]
	c, ok := byPeer[peer]
	if !ok {
		return fmt.Errorf("conversation %d/%s not open", accountID, peer)
	}
	if err := r.db.DeleteConversation(c.ID); err != nil {
		return err
	}
	delete(byPeer, peer)
	r.bus.Emit(bus.KindConversationClosed, c)
	return nil
}

// UpdateOptions applies a read-modify-write to the opaque options
// blob. On success the mutated in-memory conversation is re-published
// so observers never need to re-query storage.
func (r *Registry) UpdateOptions(accountID int64, peer string, mutate func(opts map[string]any)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byAccount[accountID][peer]
	if !ok {
		return fmt.Errorf("conversation %d/%s not open", accountID, peer)
	}

	opts := make(map[string]any)
	if c.Options != "" {
		if err := json.Unmarshal([]byte(c.Options), &opts); err != nil {
			return fmt.Errorf("decode options: %w", err)
		}
	}
	mutate(opts)
	raw, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}

	if err := r.db.UpdateConversationOptions(c.ID, string(raw)); err != nil {
		return err
	}
	c.Options = string(raw)
	r.bus.Emit(bus.KindConversationUpdated, c)
	return nil
}

// BumpActivity advances the cached last-activity timestamp in both the
// row and the in-memory object.
func (r *Registry) BumpActivity(accountID int64, peer string, ts int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.BumpActivity(accountID, peer, ts); err != nil {
		return err
	}
	if c, ok := r.byAccount[accountID][peer]; ok && ts > c.LastActivity {
		c.LastActivity = ts
	}
	return nil
}

// AdjustUnread shifts the unread counter by delta (clamped at zero)
// and publishes an unread.changed event.
func (r *Registry) AdjustUnread(accountID int64, peer string, delta int) error {
	if delta == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.AdjustUnread(accountID, peer, delta); err != nil {
		return err
	}
	if c, ok := r.byAccount[accountID][peer]; ok {
		c.UnreadCount += delta
		if c.UnreadCount < 0 {
			c.UnreadCount = 0
		}
	}
	r.bus.Emit(bus.KindUnreadChanged, bus.UnreadChange{
		AccountID: accountID, Peer: peer, Delta: delta,
	})
	return nil
}
