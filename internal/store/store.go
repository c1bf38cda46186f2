package store

import (
	"sync"
	"sync/atomic"

	"github.com/matheus3301/chatsync/internal/bus"
)

// Store holds the canonical in-memory chat and message collections of one
// chat domain. Writers are serialized and every mutation swaps in a freshly
// built slice, so a reader holding a snapshot never sees a partial update.
type Store struct {
	domain string
	bus    *bus.Bus

	mu       sync.Mutex
	chats    atomic.Pointer[[]Chat]
	messages atomic.Pointer[[]Message]
}

// New creates an empty store for the given domain.
func New(domain string, b *bus.Bus) *Store {
	s := &Store{domain: domain, bus: b}
	s.chats.Store(&[]Chat{})
	s.messages.Store(&[]Message{})
	return s
}

// Domain returns the chat domain this store belongs to.
func (s *Store) Domain() string {
	return s.domain
}

func (s *Store) loadChats() []Chat {
	return *s.chats.Load()
}

func (s *Store) loadMessages() []Message {
	return *s.messages.Load()
}

func (s *Store) swapChats(next []Chat, ids ...string) {
	s.chats.Store(&next)
	s.bus.Emit(bus.KindChatsChanged, s.domain, Change{IDs: ids})
}

func (s *Store) swapMessages(next []Message, convIDs []string, ids []string) {
	s.messages.Store(&next)
	s.bus.Emit(bus.KindMessagesChanged, s.domain, Change{ConversationIDs: convIDs, IDs: ids})
}

type idSet map[string]struct{}

func (s idSet) add(id string) {
	s[id] = struct{}{}
}

func (s idSet) list() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}
