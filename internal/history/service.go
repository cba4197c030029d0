// Package history is the message-history service: it wraps the store's
// chat_history operations and owns event publication, so no event ever
// claims a write that storage did not durably record.
package history

import (
	"errors"

	"github.com/google/uuid"
	"github.com/rafaelmp/conversa/internal/bus"
	"github.com/rafaelmp/conversa/internal/chats"
	"github.com/rafaelmp/conversa/internal/store"
	"go.uber.org/zap"
)

// Service mediates history reads and writes for the runtime.
type Service struct {
	db     *store.DB
	chats  *chats.Registry
	bus    *bus.Bus
	logger *zap.Logger
}

// NewService creates the history service.
func NewService(db *store.DB, registry *chats.Registry, b *bus.Bus, logger *zap.Logger) *Service {
	return &Service{
		db:     db,
		chats:  registry,
		bus:    b,
		logger: logger,
	}
}

// Append records one inbound or outbound item. Duplicates absorbed by
// the dedup rule return (nil, nil): logged, never published, not a
// failure. Correlated delivery/error reports publish message.updated;
// fresh inserts publish message.new after the row is durable, bump the
// conversation's activity, and count unread inserts toward the unread
// counter.
func (s *Service) Append(p store.AppendParams) (*store.Message, error) {
	// Locally composed messages get an origin id up front so delivery
	// and read reports can correlate back to the row.
	if p.StanzaID == "" && (p.State == store.StateOutgoing || p.State == store.StateOutgoingUnsent) {
		p.StanzaID = uuid.NewString()
	}

	msg, outcome, err := s.db.AppendItem(p)
	if errors.Is(err, store.ErrDuplicate) {
		s.logger.Debug("duplicate message absorbed",
			zap.Int64("account_id", p.AccountID),
			zap.String("peer", p.Peer),
			zap.String("stanza_id", p.StanzaID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if outcome == store.AppendCorrelated {
		s.bus.Emit(bus.KindMessageUpdated, msg)
		return msg, nil
	}

	// Cache maintenance is best-effort; the insert already succeeded.
	if err := s.chats.BumpActivity(msg.AccountID, msg.Peer, msg.Timestamp); err != nil {
		s.logger.Warn("bump activity failed", zap.Error(err))
	}
	if msg.State.IsUnread() {
		if err := s.chats.AdjustUnread(msg.AccountID, msg.Peer, 1); err != nil {
			s.logger.Warn("unread adjust failed", zap.Error(err))
		}
	}

	s.bus.Emit(bus.KindMessageNew, msg)
	return msg, nil
}

// UpdateState transitions a message's state, publishing
// message.updated when the transition applied. A precondition mismatch
// is a lost race: no event, no error.
func (s *Service) UpdateState(id int64, from *store.MessageState, to store.MessageState, ts *int64) (bool, error) {
	ok, err := s.db.UpdateItemState(id, from, to, ts)
	if err != nil || !ok {
		return ok, err
	}
	msg, err := s.db.GetMessage(id)
	if err != nil {
		s.logger.Warn("reload updated message failed", zap.Error(err))
		return true, nil
	}
	if msg != nil {
		s.bus.Emit(bus.KindMessageUpdated, msg)
	}
	return true, nil
}

// MarkAsRead bulk-transitions a conversation's unread rows and keeps
// the cached unread counter in step. Returns the rows affected.
func (s *Service) MarkAsRead(accountID int64, peer string, before *int64) (int64, error) {
	n, err := s.db.MarkAsRead(accountID, peer, before)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if err := s.chats.AdjustUnread(accountID, peer, -int(n)); err != nil {
			s.logger.Warn("unread adjust failed", zap.Error(err))
		}
	}
	return n, nil
}

// History pages a conversation's messages, newest first.
func (s *Service) History(accountID int64, peer string, beforeID *int64, limit int) ([]store.Message, error) {
	return s.db.History(accountID, peer, beforeID, limit)
}

// UnsentCount reports how many outgoing messages never made it out.
func (s *Service) UnsentCount(accountID int64) (int64, error) {
	return s.db.UnsentCount(accountID)
}

// AttachPreview pins a preview to a message. Best-effort: failures are
// logged and swallowed, the message itself is unaffected.
func (s *Service) AttachPreview(p *store.Preview) {
	if err := s.db.AttachPreview(p); err != nil {
		s.logger.Warn("attach preview failed",
			zap.Int64("message_id", p.MessageID), zap.Error(err))
		return
	}
	if msg, err := s.db.GetMessage(p.MessageID); err == nil && msg != nil {
		s.bus.Emit(bus.KindMessageUpdated, msg)
	}
}

// DeleteMessage removes one message and its preview, then publishes
// message.removed carrying the deleted row.
func (s *Service) DeleteMessage(id int64) error {
	msg, err := s.db.GetMessage(id)
	if err != nil {
		return err
	}
	if msg == nil {
		return nil
	}
	if err := s.db.DeleteMessage(id); err != nil {
		return err
	}
	s.bus.Emit(bus.KindMessageRemoved, msg)
	return nil
}

// DeleteConversationHistory removes a conversation's messages and
// previews, then publishes message.removed for the conversation.
func (s *Service) DeleteConversationHistory(accountID int64, peer string) error {
	if err := s.db.DeleteHistory(accountID, peer); err != nil {
		return err
	}
	s.bus.Emit(bus.KindMessageRemoved, bus.ConversationRef{AccountID: accountID, Peer: peer})
	return nil
}
