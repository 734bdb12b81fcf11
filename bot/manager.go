// Package bot supervises per-account connections: the live chat poll loop and
// the announcement scheduler, plus the pause/teardown path shared by both.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/streambot/backend/announce"
	"github.com/onnwee/streambot/backend/chat"
	"github.com/onnwee/streambot/backend/command"
	"github.com/onnwee/streambot/backend/telemetry"
)

// Resolver finds the active live chat for a channel. Resolution failures are
// fatal to the connect attempt; there is no retry-until-live loop here.
type Resolver interface {
	ResolveLiveChatID(ctx context.Context, channelID string) (string, error)
}

// Store is the persistence surface the manager and its schedulers share.
type Store interface {
	chat.RuntimeStore
	announce.Store
}

type account struct {
	cancel context.CancelFunc
	sched  *announce.Scheduler
}

// Manager owns the lifecycle of connected accounts. Connect and Disconnect are
// idempotent; the announcement circuit breaker funnels into the same teardown
// path and additionally persists the pause so a restart stays paused.
type Manager struct {
	Engine   *chat.Engine
	Store    Store
	Resolver Resolver

	// TransportFor binds a reply transport to the account's live chat.
	TransportFor func(chatID string) command.Transport
	// Vars supplies template variables for announcement rendering. Optional.
	Vars func(ctx context.Context, accountID string) map[string]string

	FailLimit int
	MinDelay  time.Duration

	base context.Context

	mu         sync.Mutex
	accounts   map[string]*account
	connecting map[string]bool   // accounts with a Connect in flight
	paused     map[string]string // accountID -> pause reason
}

// NewManager wires a manager. base is the process root context; poll loops and
// schedulers live on children of it, not on the context of the call that
// happened to connect the account.
func NewManager(base context.Context, engine *chat.Engine, store Store, resolver Resolver) *Manager {
	return &Manager{
		Engine:     engine,
		Store:      store,
		Resolver:   resolver,
		base:       base,
		accounts:   make(map[string]*account),
		connecting: make(map[string]bool),
		paused:     make(map[string]string),
	}
}

// Connect resolves the channel's active live chat, primes the cursor, and
// starts the poll loop and announcement scheduler. Any resolution or priming
// failure aborts with nothing started. Connecting an already connected account
// is a no-op.
func (m *Manager) Connect(ctx context.Context, accountID, channelID string) error {
	// Reserve the account, then resolve and prime without the lock so a slow
	// connect doesn't block Disconnect or the breaker on other accounts.
	m.mu.Lock()
	if _, ok := m.accounts[accountID]; ok {
		m.mu.Unlock()
		return nil
	}
	if m.connecting[accountID] {
		m.mu.Unlock()
		return nil
	}
	m.connecting[accountID] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.connecting, accountID)
		m.mu.Unlock()
	}()

	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	log := telemetry.LoggerWithCorr(ctx)

	chatID, err := m.Resolver.ResolveLiveChatID(ctx, channelID)
	if err != nil {
		return fmt.Errorf("resolve live chat for %s: %w", channelID, err)
	}

	// Fresh connection record: a reconnect never inherits a stale cursor
	// or a previous pause.
	rt := &chat.Runtime{LiveChatID: chatID}
	if err := m.Store.SaveAccountRuntime(ctx, accountID, rt); err != nil {
		return fmt.Errorf("save account runtime: %w", err)
	}
	if err := m.Engine.Prime(ctx, accountID); err != nil {
		return fmt.Errorf("prime chat: %w", err)
	}

	loopCtx, cancel := context.WithCancel(m.base)
	go m.Engine.PollLoop(loopCtx, accountID)

	var transport command.Transport
	if m.TransportFor != nil {
		transport = m.TransportFor(chatID)
	}
	sched := announce.NewScheduler(accountID, m.Store, transport, m.FailLimit, m.MinDelay)
	if m.Vars != nil {
		sched.Vars = func(ctx context.Context) map[string]string { return m.Vars(ctx, accountID) }
	}
	sched.OnConnectionDown = func(reason string) { m.handleDown(accountID, reason) }
	if err := sched.Start(loopCtx); err != nil {
		cancel()
		return fmt.Errorf("start announcements: %w", err)
	}

	m.mu.Lock()
	m.accounts[accountID] = &account{cancel: cancel, sched: sched}
	delete(m.paused, accountID)
	telemetry.SetConnected(len(m.accounts))
	telemetry.SetPaused(len(m.paused))
	m.mu.Unlock()
	log.Info("account connected",
		slog.String("account", accountID),
		slog.String("channel", channelID),
		slog.String("chat_id", chatID),
		slog.Int("announcements", sched.Pending()))
	return nil
}

// Disconnect stops the account's poll loop and scheduler. Unknown accounts are
// a no-op. The stored cursor stays put; a later Connect re-primes anyway.
func (m *Manager) Disconnect(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked(accountID)
}

// Shutdown disconnects every account. Called once on process exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.accounts {
		m.teardownLocked(id)
	}
}

// Connected reports the number of accounts with an active poll loop.
func (m *Manager) Connected() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}

// PendingAnnouncements sums scheduled announcements across connected accounts.
func (m *Manager) PendingAnnouncements() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.accounts {
		n += a.sched.Pending()
	}
	return n
}

func (m *Manager) teardownLocked(accountID string) {
	a, ok := m.accounts[accountID]
	if !ok {
		return
	}
	a.cancel()
	a.sched.Stop()
	delete(m.accounts, accountID)
	telemetry.SetConnected(len(m.accounts))
	slog.Info("account disconnected", slog.String("account", accountID))
}

// handleDown is the circuit breaker's landing spot: tear the whole account
// down and persist the pause so operators see why and restarts stay paused
// until someone reconnects deliberately.
func (m *Manager) handleDown(accountID, reason string) {
	m.mu.Lock()
	m.teardownLocked(accountID)
	m.paused[accountID] = reason
	telemetry.SetPaused(len(m.paused))
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(m.base, 5*time.Second)
	defer cancel()
	rt := &chat.Runtime{Paused: true, PauseReason: reason}
	if err := m.Store.SaveAccountRuntime(ctx, accountID, rt); err != nil {
		slog.Error("persist account pause", slog.String("account", accountID), slog.Any("err", err))
	}
	slog.Warn("account paused", slog.String("account", accountID), slog.String("reason", reason))
}
