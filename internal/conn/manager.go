// Package conn owns the realtime connection of one chat domain and keeps
// that domain's store in step with server push events.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/hub"
	"github.com/matheus3301/chatsync/internal/identity"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by remote calls made while disconnected, and
// for responses that arrive after a disconnect.
var ErrNotConnected = errors.New("conn: not connected")

const defaultErrorMessage = "Error with connection"

// Transport is the realtime connection the manager drives. *hub.Client implements it.
type Transport interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Invoke(ctx context.Context, target string, args ...any) (json.RawMessage, error)
	Send(ctx context.Context, target string, args ...any) error
	On(target string, h hub.Handler)
	OnReconnecting(fn func(error))
	OnReconnected(fn func())
	OnClose(fn func(error))
}

// MessageSink receives live messages for conversations not yet in the store.
// The history pager implements it to decide on autoscroll.
type MessageSink interface {
	HandleNewMessages(conversationID string, msgs []store.Message)
}

// ConversationRenamer is implemented by sinks that keep per-conversation
// state and must follow a direct chat to its new id.
type ConversationRenamer interface {
	RenameConversation(oldID, newID string)
}

// Options tunes a manager.
type Options struct {
	CallTimeout time.Duration
}

// Manager drives one domain's connection lifecycle. Push handlers are bound
// once, at construction, and survive reconnects.
type Manager struct {
	kind        store.Kind
	domain      string
	transport   Transport
	store       *store.Store
	identity    *identity.Propagator
	machine     *status.Machine
	bus         *bus.Bus
	logger      *zap.Logger
	callTimeout time.Duration
	now         func() time.Time

	mu      sync.RWMutex
	loading bool
	lastErr string
	sink    MessageSink
}

// NewManager creates a manager for one domain and binds its push handlers.
func NewManager(kind store.Kind, t Transport, s *store.Store, p *identity.Propagator, b *bus.Bus, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CallTimeout == 0 {
		opts.CallTimeout = 30 * time.Second
	}
	domain := string(kind)
	m := &Manager{
		kind:        kind,
		domain:      domain,
		transport:   t,
		store:       s,
		identity:    p,
		machine:     status.NewMachine(domain, b),
		bus:         b,
		logger:      logger.With(zap.String("domain", domain)),
		callTimeout: opts.CallTimeout,
		now:         time.Now,
	}
	m.bind()
	m.observeState(status.Disconnected)
	return m
}

// Domain returns the chat domain name.
func (m *Manager) Domain() string { return m.domain }

// Kind returns the chat kind this manager serves.
func (m *Manager) Kind() store.Kind { return m.kind }

// Store returns the domain's store.
func (m *Manager) Store() *store.Store { return m.store }

// Viewer returns the local user's identity.
func (m *Manager) Viewer() string { return m.identity.Viewer() }

// State returns the current connection state.
func (m *Manager) State() status.State { return m.machine.Current() }

// Connected reports whether the connection is established.
func (m *Manager) Connected() bool { return m.machine.Current() == status.Connected }

// Loading reports whether a connect, reconnect or refresh is in progress.
func (m *Manager) Loading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loading
}

// Error returns the last recoverable connection error, or "".
func (m *Manager) Error() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// SetMessageSink installs the receiver of live messages. nil removes it.
func (m *Manager) SetMessageSink(s MessageSink) {
	m.mu.Lock()
	m.sink = s
	m.mu.Unlock()
}

// Chats returns the current chat snapshot.
func (m *Manager) Chats() []store.Chat { return m.store.Chats() }

// Messages returns the conversation's messages as the viewer should see them.
func (m *Manager) Messages(conversationID string) []store.Message {
	return m.store.Visible(conversationID, m.Viewer())
}

// Connect establishes the connection and loads the initial chat list. It
// is a no-op unless disconnected. Failures are recorded in Error.
func (m *Manager) Connect(ctx context.Context) {
	if !m.transitionFrom(status.Disconnected, status.Connecting) {
		return
	}
	m.setLoading(true)

	if err := m.transport.Start(ctx); err != nil {
		m.fail(err)
		m.transitionFrom(status.Connecting, status.Disconnected)
		return
	}
	if !m.transitionFrom(status.Connecting, status.Connected) {
		m.setLoading(false)
		return
	}
	m.clearError()
	m.logger.Info("connected")
	m.RefreshChats(ctx)
}

// Disconnect tears the connection down. It is idempotent; transport
// errors are logged and swallowed.
func (m *Manager) Disconnect(ctx context.Context) {
	from := m.machine.Current()
	if from == status.Disconnected {
		return
	}
	if !m.transitionFrom(from, status.Disconnected) {
		return
	}
	if err := m.transport.Stop(ctx); err != nil {
		m.logger.Warn("transport stop failed", zap.Error(err))
	}
	m.setLoading(false)
	m.logger.Info("disconnected")
}

// RefreshChats replaces the chat list with the server's. It is a no-op
// while disconnected; on failure the store is left untouched.
func (m *Manager) RefreshChats(ctx context.Context) {
	if !m.Connected() {
		return
	}
	m.setLoading(true)
	defer m.setLoading(false)

	chats, err := m.GetChats(ctx)
	if err != nil {
		if !errors.Is(err, ErrNotConnected) {
			m.logger.Warn("chat refresh failed", zap.Error(err))
		}
		return
	}
	m.store.ReplaceChats(chats)
	metrics.StoredChats.WithLabelValues(m.domain).Set(float64(len(chats)))
}

func (m *Manager) onReconnecting(err error) {
	m.setLoading(true)
	if m.transitionFrom(status.Connected, status.Reconnecting) {
		metrics.Reconnects.WithLabelValues(m.domain).Inc()
		m.logger.Warn("connection lost, reconnecting", zap.Error(err))
	}
}

func (m *Manager) onReconnected() {
	m.clearError()
	m.setLoading(false)
	if !m.transitionFrom(status.Reconnecting, status.Connected) {
		return
	}
	m.logger.Info("reconnected")
	ctx, cancel := context.WithTimeout(context.Background(), m.callTimeout)
	defer cancel()
	m.RefreshChats(ctx)
}

func (m *Manager) onClose(err error) {
	m.setLoading(false)
	if err != nil {
		m.fail(err)
	}
	from := m.machine.Current()
	if from != status.Disconnected && m.transitionFrom(from, status.Disconnected) {
		m.logger.Info("connection closed", zap.Error(err))
	}
}

func (m *Manager) transitionFrom(from, to status.State) bool {
	if !m.machine.TransitionFrom(from, to) {
		return false
	}
	m.observeState(to)
	return true
}

func (m *Manager) observeState(cur status.State) {
	for _, s := range []status.State{status.Disconnected, status.Connecting, status.Connected, status.Reconnecting} {
		v := 0.0
		if s == cur {
			v = 1
		}
		metrics.ConnectionState.WithLabelValues(m.domain, string(s)).Set(v)
	}
}

func (m *Manager) setLoading(v bool) {
	m.mu.Lock()
	m.loading = v
	m.mu.Unlock()
}

func (m *Manager) fail(err error) {
	msg := err.Error()
	if msg == "" {
		msg = defaultErrorMessage
	}
	m.mu.Lock()
	m.lastErr = msg
	m.loading = false
	m.mu.Unlock()
	m.logger.Error("connection error", zap.String("error", msg))
}

func (m *Manager) clearError() {
	m.mu.Lock()
	m.lastErr = ""
	m.mu.Unlock()
}
