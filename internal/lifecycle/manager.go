// Package lifecycle drives protocol sessions for every active account:
// connect and retry policy, reachability and foreground transitions,
// certificate and authentication failure handling.
package lifecycle

import (
	"sync"
	"time"

	"github.com/rafaelmp/conversa/internal/account"
	"github.com/rafaelmp/conversa/internal/bus"
	"github.com/rafaelmp/conversa/internal/chats"
	"github.com/rafaelmp/conversa/internal/config"
	"github.com/rafaelmp/conversa/internal/history"
	"github.com/rafaelmp/conversa/internal/state"
	"github.com/rafaelmp/conversa/internal/store"
	"github.com/rafaelmp/conversa/internal/xmpp"
	"go.uber.org/zap"
)

const (
	clientName    = "conversa"
	clientVersion = "0.1.0"
)

// BudgetFunc reports the platform's remaining background execution
// budget. A nil func means the platform imposes no cap.
type BudgetFunc func() time.Duration

// managedSession pairs one protocol session with its state machine and
// retry bookkeeping. One exists per account from first connect until
// the session's event feed closes.
type managedSession struct {
	account      store.Account
	session      xmpp.Session
	machine      *state.Machine
	retries      int
	certNotified bool
	done         chan struct{}
}

// Manager owns every account's session. All mutation happens under one
// lock; event pumps funnel back through it, so retry counters and
// state transitions are linearized per account.
type Manager struct {
	mu            sync.Mutex
	factory       xmpp.Factory
	accounts      *account.Registry
	conversations *chats.Registry
	history       *history.Service
	db            *store.DB
	bus           *bus.Bus
	cfg           *config.Config
	logger        *zap.Logger
	budget        BudgetFunc

	sessions   map[int64]*managedSession
	reachable  bool
	foreground bool
	bgTimer    *time.Timer
}

// NewManager creates the lifecycle manager. It starts unreachable and
// backgrounded; the daemon flips both once startup completes.
func NewManager(factory xmpp.Factory, accounts *account.Registry, conversations *chats.Registry, hist *history.Service, db *store.DB, b *bus.Bus, cfg *config.Config, logger *zap.Logger, budget BudgetFunc) *Manager {
	return &Manager{
		factory:       factory,
		accounts:      accounts,
		conversations: conversations,
		history:       hist,
		db:            db,
		bus:           b,
		cfg:           cfg,
		logger:        logger,
		budget:        budget,
		sessions:      make(map[int64]*managedSession),
	}
}

// Connect starts a login attempt for the account. Returns false when
// the attempt is not possible: account unknown or inactive, network
// unreachable, or a session already past Disconnected.
func (m *Manager) Connect(accountID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked(accountID)
}

func (m *Manager) connectLocked(accountID int64) bool {
	acct, ok := m.accounts.Get(accountID)
	if !ok || !acct.Active {
		return false
	}
	if !m.reachable {
		return false
	}

	ms, ok := m.sessions[accountID]
	if !ok {
		ms = &managedSession{
			account: acct,
			machine: state.NewMachine(accountID, m.bus),
			done:    make(chan struct{}),
		}
		ms.session = m.factory.NewSession(acct.JID, acct.Credential, xmpp.Options{
			Resource:      m.cfg.Resource,
			RedirectHost:  acct.LastEndpoint,
			ClientName:    clientName,
			ClientVersion: clientVersion,
		})
		m.sessions[accountID] = ms
		go m.pump(ms)
	}
	if ms.machine.Current() != state.Disconnected {
		return false
	}
	if err := ms.machine.Transition(state.Connecting); err != nil {
		m.logger.Warn("connect transition refused", zap.Int64("account_id", accountID), zap.Error(err))
		return false
	}
	m.logger.Info("connecting", zap.Int64("account_id", accountID), zap.String("jid", acct.JID))
	ms.session.Login()
	return true
}

// Keepalive pings the account's stream if one is up.
func (m *Manager) Keepalive(accountID int64) {
	m.mu.Lock()
	ms, ok := m.sessions[accountID]
	connected := ok && ms.machine.Current().Connected()
	m.mu.Unlock()
	if connected {
		ms.session.Keepalive()
	}
}

// Disconnect tears the account's stream down. force skips the graceful
// closure.
func (m *Manager) Disconnect(accountID int64, force bool) {
	m.mu.Lock()
	ms, ok := m.sessions[accountID]
	m.mu.Unlock()
	if ok {
		ms.session.Disconnect(force)
	}
}

// Deactivate marks the account inactive and tears its session down.
// The pump finishes the state machine's trip to Inactive once the
// stream reports down.
func (m *Manager) Deactivate(accountID int64) error {
	if err := m.accounts.SetActive(accountID, false); err != nil {
		return err
	}
	m.mu.Lock()
	ms, ok := m.sessions[accountID]
	m.mu.Unlock()
	if ok {
		ms.session.Disconnect(true)
	}
	return nil
}

// State reports the account's connection state. Accounts with no
// session yet report Disconnected when active, Inactive otherwise.
func (m *Manager) State(accountID int64) state.State {
	m.mu.Lock()
	ms, ok := m.sessions[accountID]
	m.mu.Unlock()
	if ok {
		return ms.machine.Current()
	}
	if acct, found := m.accounts.Get(accountID); found && acct.Active {
		return state.Disconnected
	}
	return state.Inactive
}

// RetryCount reports how many consecutive failed attempts the
// account's session has accumulated since the last established or
// resumed stream.
func (m *Manager) RetryCount(accountID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ms, ok := m.sessions[accountID]; ok {
		return ms.retries
	}
	return 0
}

// SetReachable records a network reachability change. Regaining the
// network while foregrounded reconnects everything; while backgrounded
// it only pings streams that somehow survived. Losing it force-drops
// every stream rather than waiting out TCP timeouts.
func (m *Manager) SetReachable(reachable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reachable == reachable {
		return
	}
	m.reachable = reachable
	m.logger.Info("reachability changed", zap.Bool("reachable", reachable))

	if !reachable {
		for _, ms := range m.sessions {
			ms.session.Disconnect(true)
		}
		return
	}
	if m.foreground {
		m.connectSweepLocked()
		return
	}
	for _, ms := range m.sessions {
		if ms.machine.Current().Connected() {
			ms.session.Keepalive()
		}
	}
}

// Reachable reports the last recorded network reachability.
func (m *Manager) Reachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

// Foreground reports the last recorded application visibility.
func (m *Manager) Foreground() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.foreground
}

// SetForeground records an application foreground change. Foreground
// resets retry counters, marks streams active and reconnects whatever
// is down. Background marks streams idle and arms a bounded keepalive
// window, after which all streams are dropped.
func (m *Manager) SetForeground(foreground bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.foreground == foreground {
		return
	}
	m.foreground = foreground

	if foreground {
		if m.bgTimer != nil {
			m.bgTimer.Stop()
			m.bgTimer = nil
		}
		for _, ms := range m.sessions {
			ms.retries = 0
			if ms.machine.Current().Connected() {
				ms.session.SetClientState(true)
				ms.session.SendPresence()
			}
		}
		m.connectSweepLocked()
		return
	}

	for _, ms := range m.sessions {
		if ms.machine.Current().Connected() {
			ms.session.SetClientState(false)
		}
	}
	window := m.backgroundWindowLocked()
	if window <= 0 {
		m.disconnectAllLocked(true)
		return
	}
	m.bgTimer = time.AfterFunc(window, m.backgroundExpired)
}

// backgroundWindowLocked clips the configured keepalive window to the
// platform budget minus the safety margin.
func (m *Manager) backgroundWindowLocked() time.Duration {
	window := m.cfg.BackgroundBudget()
	if m.budget == nil {
		return window
	}
	if remaining := m.budget() - m.cfg.BackgroundMargin(); remaining < window {
		window = remaining
	}
	return window
}

func (m *Manager) backgroundExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.foreground {
		return
	}
	m.bgTimer = nil
	for _, acct := range m.accounts.Active() {
		if n, err := m.db.UnsentCount(acct.ID); err == nil && n > 0 {
			m.logger.Warn("suspending with unsent messages",
				zap.Int64("account_id", acct.ID), zap.Int64("count", n))
		}
	}
	m.logger.Info("background window expired, dropping streams")
	m.disconnectAllLocked(true)
}

// Shutdown force-disconnects every session and waits for the pumps to
// drain their event feeds.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.bgTimer != nil {
		m.bgTimer.Stop()
		m.bgTimer = nil
	}
	pending := make([]*managedSession, 0, len(m.sessions))
	for _, ms := range m.sessions {
		ms.session.Disconnect(true)
		pending = append(pending, ms)
	}
	m.mu.Unlock()

	for _, ms := range pending {
		select {
		case <-ms.done:
		case <-time.After(5 * time.Second):
			m.logger.Warn("session pump did not drain",
				zap.Int64("account_id", ms.account.ID))
		}
	}
}

func (m *Manager) connectSweepLocked() {
	for _, acct := range m.accounts.Active() {
		m.connectLocked(acct.ID)
	}
}

func (m *Manager) disconnectAllLocked(force bool) {
	for _, ms := range m.sessions {
		ms.session.Disconnect(force)
	}
}

// pump consumes one session's event feed until it closes, then drops
// the session from the table.
func (m *Manager) pump(ms *managedSession) {
	for evt := range ms.session.Events() {
		switch e := evt.(type) {
		case xmpp.Connected:
			m.logger.Debug("transport up", zap.Int64("account_id", ms.account.ID))
		case xmpp.SessionEstablished:
			m.onStreamUp(ms, state.Established, bus.KindSessionEstablished)
		case xmpp.StreamResumed:
			m.onStreamUp(ms, state.Resumed, bus.KindSessionResumed)
		case xmpp.Disconnected:
			m.onDisconnected(ms, e)
		case xmpp.CertError:
			m.onCertError(ms, e)
		case xmpp.AuthFailed:
			m.onAuthFailed(ms, e)
		case xmpp.MessageReceived:
			m.onMessage(ms, e)
		case xmpp.ReceiptReceived:
			m.onReceipt(ms, e)
		case xmpp.ServerFeatures:
			m.logger.Debug("server features",
				zap.Int64("account_id", ms.account.ID),
				zap.Strings("features", e.Features))
		}
	}

	m.mu.Lock()
	if cur, ok := m.sessions[ms.account.ID]; ok && cur == ms {
		delete(m.sessions, ms.account.ID)
	}
	m.mu.Unlock()
	close(ms.done)
}

func (m *Manager) onStreamUp(ms *managedSession, to state.State, kind bus.Kind) {
	m.mu.Lock()
	if err := ms.machine.Transition(to); err != nil {
		m.logger.Warn("stream-up transition refused", zap.Error(err))
		m.mu.Unlock()
		return
	}
	ms.retries = 0
	ms.certNotified = false
	ms.session.SetClientState(m.foreground)
	m.mu.Unlock()

	m.logger.Info("stream up",
		zap.Int64("account_id", ms.account.ID),
		zap.String("state", string(to)))
	m.bus.Emit(kind, bus.SessionChange{AccountID: ms.account.ID, JID: ms.account.JID})
}

func (m *Manager) onDisconnected(ms *managedSession, e xmpp.Disconnected) {
	if e.RedirectHost != "" {
		if err := m.accounts.SetEndpoint(ms.account.ID, e.RedirectHost); err != nil {
			m.logger.Warn("persist redirect endpoint failed", zap.Error(err))
		}
	}

	m.mu.Lock()
	if cur := ms.machine.Current(); cur != state.Disconnected && cur != state.Inactive {
		if err := ms.machine.Transition(state.Disconnected); err != nil {
			m.logger.Warn("disconnect transition refused", zap.Error(err))
		}
	}

	acct, known := m.accounts.Get(ms.account.ID)
	if !known || !acct.Active {
		if ms.machine.Current() == state.Disconnected {
			if err := ms.machine.Transition(state.Inactive); err != nil {
				m.logger.Warn("inactive transition refused", zap.Error(err))
			}
		}
		// Full teardown: the engine session is told to close its event
		// feed for good, and reactivating later builds a fresh session.
		ms.session.Disconnect(true)
		if cur, ok := m.sessions[ms.account.ID]; ok && cur == ms {
			delete(m.sessions, ms.account.ID)
		}
		m.mu.Unlock()
		m.bus.Emit(bus.KindSessionDisconnected, bus.SessionChange{
			AccountID: ms.account.ID, JID: ms.account.JID,
		})
		return
	}

	retry := m.reachable && m.foreground
	if retry {
		ms.retries++
		attempt := ms.retries
		m.mu.Unlock()
		m.logger.Info("stream down, retrying",
			zap.Int64("account_id", ms.account.ID),
			zap.Bool("clean", e.Clean),
			zap.Int("attempt", attempt))
		m.bus.Emit(bus.KindSessionDisconnected, bus.SessionChange{
			AccountID: ms.account.ID, JID: ms.account.JID,
		})
		m.mu.Lock()
		m.connectLocked(ms.account.ID)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.logger.Info("stream down",
		zap.Int64("account_id", ms.account.ID), zap.Bool("clean", e.Clean))
	m.bus.Emit(bus.KindSessionDisconnected, bus.SessionChange{
		AccountID: ms.account.ID, JID: ms.account.JID,
	})
}

// onMessage records one inbound item, opening the conversation first
// so the row has a home.
func (m *Manager) onMessage(ms *managedSession, e xmpp.MessageReceived) {
	if _, err := m.conversations.Open(&store.Conversation{
		AccountID: ms.account.ID,
		Peer:      e.Peer,
	}); err != nil {
		m.logger.Warn("open conversation for inbound message",
			zap.Int64("account_id", ms.account.ID),
			zap.String("peer", e.Peer), zap.Error(err))
		return
	}
	if _, err := m.history.Append(store.AppendParams{
		AccountID:   ms.account.ID,
		Peer:        e.Peer,
		State:       store.StateIncomingUnread,
		Author:      e.Author,
		AuthorNick:  e.AuthorNick,
		Timestamp:   e.Timestamp,
		StanzaID:    e.StanzaID,
		ItemType:    e.ItemType,
		Body:        e.Body,
		Encrypted:   e.Encrypted,
		Fingerprint: e.Fingerprint,
	}); err != nil {
		m.logger.Error("record inbound message",
			zap.Int64("account_id", ms.account.ID),
			zap.String("peer", e.Peer), zap.Error(err))
	}
}

// onReceipt folds a delivery report into history, where it correlates
// with the sent row by stanza id.
func (m *Manager) onReceipt(ms *managedSession, e xmpp.ReceiptReceived) {
	var to store.MessageState
	switch e.Kind {
	case xmpp.ReceiptDelivered:
		to = store.StateOutgoingDelivered
	case xmpp.ReceiptRead:
		to = store.StateOutgoingRead
	case xmpp.ReceiptError:
		to = store.StateOutgoingError
	default:
		return
	}
	if _, err := m.history.Append(store.AppendParams{
		AccountID: ms.account.ID,
		Peer:      e.Peer,
		State:     to,
		StanzaID:  e.StanzaID,
		Timestamp: e.Timestamp,
		ErrorText: e.ErrorText,
	}); err != nil {
		m.logger.Error("record receipt",
			zap.Int64("account_id", ms.account.ID),
			zap.String("stanza_id", e.StanzaID), zap.Error(err))
	}
}

// onCertError deactivates the account and records the offending
// certificate so the user can inspect and accept it. Notified once per
// connect cycle.
func (m *Manager) onCertError(ms *managedSession, e xmpp.CertError) {
	m.mu.Lock()
	already := ms.certNotified
	ms.certNotified = true
	m.mu.Unlock()

	if err := m.db.RecordTLSFailure(&store.TLSFailure{
		AccountID:         ms.account.ID,
		Subject:           e.Identity.Subject,
		Issuer:            e.Identity.Issuer,
		FingerprintSHA1:   e.Identity.FingerprintSHA1,
		FingerprintSHA256: e.Identity.FingerprintSHA256,
		NotValidAfter:     e.Identity.NotValidAfter,
		RecordedAt:        time.Now().UnixMilli(),
	}); err != nil {
		m.logger.Error("record tls failure", zap.Error(err))
	}
	if err := m.accounts.SetActive(ms.account.ID, false); err != nil {
		m.logger.Error("deactivate after cert failure", zap.Error(err))
	}
	ms.session.Disconnect(true)

	if !already {
		m.logger.Warn("certificate rejected",
			zap.Int64("account_id", ms.account.ID),
			zap.String("subject", e.Identity.Subject),
			zap.String("fingerprint_sha256", e.Identity.FingerprintSHA256))
		m.bus.Emit(bus.KindCertFailure, bus.SessionChange{
			AccountID: ms.account.ID, JID: ms.account.JID,
		})
	}
}

// onAuthFailed distinguishes fatal rejections, which deactivate the
// account, from transient ones, which fall through to the normal
// disconnect-and-retry path.
func (m *Manager) onAuthFailed(ms *managedSession, e xmpp.AuthFailed) {
	if !e.Kind.Fatal() {
		m.logger.Warn("transient auth failure",
			zap.Int64("account_id", ms.account.ID),
			zap.String("kind", string(e.Kind)))
		return
	}
	m.logger.Error("authentication rejected",
		zap.Int64("account_id", ms.account.ID),
		zap.String("kind", string(e.Kind)))
	if err := m.accounts.SetActive(ms.account.ID, false); err != nil {
		m.logger.Error("deactivate after auth failure", zap.Error(err))
	}
	m.bus.Emit(bus.KindAuthFailure, bus.SessionChange{
		AccountID: ms.account.ID, JID: ms.account.JID,
	})
	ms.session.Disconnect(true)
}
