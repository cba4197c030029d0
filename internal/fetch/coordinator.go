// Package fetch coordinates the short background wake: connect every
// push-less account, wait for their streams to come up, and report
// whether anything new could have arrived before the platform budget
// runs out.
package fetch

import (
	"errors"
	"sync"

	"github.com/rafaelmp/conversa/internal/account"
	"github.com/rafaelmp/conversa/internal/bus"
	"github.com/rafaelmp/conversa/internal/lifecycle"
	"go.uber.org/zap"
)

// Result is the outcome reported to the platform scheduler.
type Result int

const (
	// NoData means nothing needed fetching.
	NoData Result = iota
	// Failed means the fetch could not run, typically no network.
	Failed
	// NewData means at least one stream came up during the window.
	NewData
)

// ErrFetchInFlight is returned when a fetch is requested while one is
// already running. At most one runs at a time.
var ErrFetchInFlight = errors.New("fetch already in flight")

// Coordinator runs at most one background fetch at a time.
type Coordinator struct {
	mu       sync.Mutex
	accounts *account.Registry
	manager  *lifecycle.Manager
	logger   *zap.Logger

	waiting map[int64]struct{}
	done    func(Result)
	unsub   func()
}

// NewCoordinator wires the coordinator to the lifecycle manager. It
// subscribes to stream-up events so waits resolve as sessions come up.
func NewCoordinator(accounts *account.Registry, manager *lifecycle.Manager, b *bus.Bus, logger *zap.Logger) *Coordinator {
	c := &Coordinator{
		accounts: accounts,
		manager:  manager,
		logger:   logger,
	}
	ch, unsub := b.Subscribe("session.", 32)
	c.unsub = unsub
	go func() {
		for evt := range ch {
			if evt.Kind != bus.KindSessionEstablished && evt.Kind != bus.KindSessionResumed {
				continue
			}
			if change, ok := evt.Payload.(bus.SessionChange); ok {
				c.streamUp(change.AccountID)
			}
		}
	}()
	return c
}

// PerformFetch starts a background fetch. done is invoked exactly once
// with the outcome, from whichever goroutine resolves the fetch. App
// visibility and network state are the lifecycle manager's, so the
// same flags gate the fetch and the per-account connects. The caller
// arms Expire against its own deadline; the coordinator itself never
// times out.
func (c *Coordinator) PerformFetch(done func(Result)) error {
	if c.manager.Foreground() {
		// Live sessions already deliver everything; nothing to fetch.
		done(NoData)
		return nil
	}
	if !c.manager.Reachable() {
		done(Failed)
		return nil
	}

	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return ErrFetchInFlight
	}
	c.done = done
	c.waiting = make(map[int64]struct{})

	for _, acct := range c.accounts.Active() {
		if c.manager.State(acct.ID).Connected() {
			// An already-open stream just needs a nudge to flush
			// anything queued server-side.
			c.manager.Keepalive(acct.ID)
			continue
		}
		if acct.PushEnabled {
			// Push wakes these accounts on its own channel.
			continue
		}
		if c.manager.Connect(acct.ID) {
			c.waiting[acct.ID] = struct{}{}
		}
	}

	if len(c.waiting) == 0 {
		c.done = nil
		c.waiting = nil
		c.mu.Unlock()
		done(NoData)
		return nil
	}
	c.logger.Info("background fetch started", zap.Int("accounts", len(c.waiting)))
	c.mu.Unlock()
	return nil
}

// streamUp removes the account from the wait set. Idempotent: a resume
// following an establish, or an account never waited on, is a no-op.
func (c *Coordinator) streamUp(accountID int64) {
	c.mu.Lock()
	if c.done == nil {
		c.mu.Unlock()
		return
	}
	if _, ok := c.waiting[accountID]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.waiting, accountID)
	if len(c.waiting) > 0 {
		c.mu.Unlock()
		return
	}
	done := c.done
	c.done = nil
	c.waiting = nil
	c.mu.Unlock()

	c.logger.Info("background fetch complete")
	done(NewData)
}

// Expire aborts an in-flight fetch when the platform budget is nearly
// spent: waited-on streams are dropped and the fetch completes with
// NewData so anything already delivered gets processed.
func (c *Coordinator) Expire() {
	c.mu.Lock()
	if c.done == nil {
		c.mu.Unlock()
		return
	}
	pending := make([]int64, 0, len(c.waiting))
	for id := range c.waiting {
		pending = append(pending, id)
	}
	done := c.done
	c.done = nil
	c.waiting = nil
	c.mu.Unlock()

	c.logger.Warn("background fetch expired", zap.Int("pending", len(pending)))
	for _, id := range pending {
		c.manager.Disconnect(id, true)
	}
	done(NewData)
}

// Close detaches the coordinator from the bus.
func (c *Coordinator) Close() {
	c.unsub()
}
