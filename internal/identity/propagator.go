// Package identity rewrites local references when a user is renamed or deleted.
package identity

import (
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
)

// AvatarCache receives avatar url updates keyed by identity.
type AvatarCache interface {
	Put(key, url string)
	Invalidate(key string)
}

// Propagator applies identity events to one domain's store. Every rewrite
// compares against current values, so replaying an event is a no-op.
type Propagator struct {
	store   *store.Store
	kind    store.Kind
	avatars AvatarCache
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.RWMutex
	viewer string
}

// New creates a propagator. avatars may be nil.
func New(s *store.Store, kind store.Kind, viewer string, avatars AvatarCache, logger *zap.Logger) *Propagator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Propagator{
		store:   s,
		kind:    kind,
		avatars: avatars,
		logger:  logger,
		now:     time.Now,
		viewer:  viewer,
	}
}

// Viewer returns the local user's current identity.
func (p *Propagator) Viewer() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.viewer
}

// SetViewer replaces the local user's identity.
func (p *Propagator) SetViewer(v string) {
	p.mu.Lock()
	p.viewer = v
	p.mu.Unlock()
}

// RenameResult reports what a rename touched.
type RenameResult struct {
	Chats         int
	Messages      int
	ViewerRenamed bool
}

// ApplyRename rewrites chats and messages referencing ev.Old to ev.New and
// stamps the avatar when one is present.
func (p *Propagator) ApplyRename(ev wire.IdentityChanged) RenameResult {
	if ev.New == "" {
		return RenameResult{}
	}
	renamed := ev.Old != "" && ev.Old != ev.New
	stamp := ev.UpdatedAt
	if stamp.IsZero() {
		stamp = p.now()
	}

	var res RenameResult
	res.Chats = p.store.MutateChats(func(c *store.Chat) bool {
		changed := false
		if renamed {
			if c.Kind == store.Direct && c.ID == ev.Old {
				c.ID = ev.New
				changed = true
			}
			if c.DisplayName == ev.Old {
				c.DisplayName = ev.New
				changed = true
			}
			if c.Kind == store.Group && c.Admin == ev.Old {
				c.Admin = ev.New
				changed = true
			}
		}
		if c.Kind == store.Direct && c.ID == ev.New && ev.Avatar != "" && c.AvatarURL != ev.Avatar {
			c.AvatarURL = ev.Avatar
			changed = true
		}
		for i := range c.Members {
			m := &c.Members[i]
			if renamed && m.Nickname == ev.Old {
				m.Nickname = ev.New
				changed = true
			}
			if m.Nickname == ev.New && ev.Avatar != "" && m.AvatarURL != ev.Avatar {
				m.AvatarURL = ev.Avatar
				changed = true
			}
		}
		if changed {
			c.LastUserInfoUpdate = stamp
		}
		return changed
	})

	res.Messages = p.store.MutateMessages(func(m *store.Message) bool {
		changed := false
		if renamed && m.Sender == ev.Old {
			m.Sender = ev.New
			changed = true
		}
		if renamed && p.kind == store.Direct && m.ConversationID == ev.Old {
			m.ConversationID = ev.New
			changed = true
		}
		if m.Sender == ev.New && ev.Avatar != "" && m.SenderImage != ev.Avatar {
			m.SenderImage = ev.Avatar
			changed = true
		}
		return changed
	})

	if renamed {
		p.mu.Lock()
		if p.viewer == ev.Old {
			p.viewer = ev.New
			res.ViewerRenamed = true
		}
		p.mu.Unlock()
	}

	if p.avatars != nil {
		if renamed {
			p.avatars.Invalidate(ev.Old)
		}
		if ev.Avatar != "" {
			p.avatars.Put(ev.New, ev.Avatar)
		}
	}

	if res.Chats > 0 || res.Messages > 0 {
		p.logger.Info("identity change applied",
			zap.String("old", ev.Old),
			zap.String("new", ev.New),
			zap.Int("chats", res.Chats),
			zap.Int("messages", res.Messages),
		)
	}
	return res
}

// DeletionResult reports what a deletion touched.
type DeletionResult struct {
	ViewerDeleted   bool
	ChatsUpdated    int
	ChatsRemoved    int
	MessagesRemoved int
}

// ApplyDeletion strips a deleted identity from group chats and drops
// one-to-one chats with it. When the viewer is the deleted identity
// nothing is changed; terminating the session is up to the caller.
func (p *Propagator) ApplyDeletion(ev wire.IdentityDeleted) DeletionResult {
	if ev.Identity == "" {
		return DeletionResult{}
	}
	if ev.Identity == p.Viewer() {
		return DeletionResult{ViewerDeleted: true}
	}

	var res DeletionResult
	res.ChatsUpdated = p.store.MutateChats(func(c *store.Chat) bool {
		if c.Kind != store.Group {
			return false
		}
		changed := false
		if c.Admin == ev.Identity {
			c.Admin = ""
			changed = true
		}
		n := len(c.Members)
		c.Members = slices.DeleteFunc(c.Members, func(m store.MemberRef) bool {
			return m.Nickname == ev.Identity
		})
		if len(c.Members) != n {
			changed = true
		}
		return changed
	})
	res.ChatsRemoved = p.store.RemoveChatsWhere(func(c store.Chat) bool {
		return c.Kind == store.Direct && c.ID == ev.Identity
	})
	if p.kind == store.Direct {
		res.MessagesRemoved = p.store.RemoveMessagesWhere(func(m store.Message) bool {
			return m.ConversationID == ev.Identity
		})
	}
	if p.avatars != nil {
		p.avatars.Invalidate(ev.Identity)
	}

	p.logger.Info("identity deletion applied",
		zap.String("identity", ev.Identity),
		zap.Int("chats_updated", res.ChatsUpdated),
		zap.Int("chats_removed", res.ChatsRemoved),
		zap.Int("messages_removed", res.MessagesRemoved),
	)
	return res
}
