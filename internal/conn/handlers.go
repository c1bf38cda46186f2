package conn

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
)

func (m *Manager) bind() {
	handlers := map[string]func(args []json.RawMessage) error{
		wire.ChatCreated:     m.handleChatUpsert,
		wire.ChatEdited:      m.handleChatUpsert,
		wire.ChatDeleted:     m.handleChatDeleted,
		wire.MembersAdded:    m.handleMembersAdded,
		wire.MembersRemoved:  m.handleMembersRemoved,
		wire.MessageReceived: m.handleMessage,
		wire.ReplyToMessage:  m.handleMessage,
		wire.MessageEdited:   m.handleMessageEdited,
		wire.MessageDeleted:  m.handleMessageDeleted,
		wire.UpdateChats:     m.handleUpdateChats,
		wire.UserInfoChanged: m.handleUserInfoChanged,
		wire.UserInfoDeleted: m.handleUserInfoDeleted,
	}
	for _, event := range wire.PushEvents {
		fn := handlers[event]
		m.transport.On(event, func(args []json.RawMessage) {
			if err := fn(args); err != nil {
				metrics.PushEvents.WithLabelValues(m.domain, event, "malformed").Inc()
				m.logger.Warn("dropping malformed push event", zap.String("event", event), zap.Error(err))
				return
			}
			metrics.PushEvents.WithLabelValues(m.domain, event, "ok").Inc()
		})
	}
	m.transport.OnReconnecting(m.onReconnecting)
	m.transport.OnReconnected(m.onReconnected)
	m.transport.OnClose(m.onClose)
}

func (m *Manager) handleChatUpsert(args []json.RawMessage) error {
	c, err := wire.ParseChatEvent(args, m.kind)
	if err != nil {
		return err
	}
	m.store.UpsertChats([]store.Chat{c})
	return nil
}

func (m *Manager) handleChatDeleted(args []json.RawMessage) error {
	id, err := wire.ParseChatID(args)
	if err != nil {
		return err
	}
	m.dropConversation(id)
	return nil
}

func (m *Manager) dropConversation(id string) {
	m.store.RemoveChat(id)
	m.store.RemoveMessagesWhere(func(msg store.Message) bool { return msg.ConversationID == id })
}

func (m *Manager) handleMembersAdded(args []json.RawMessage) error {
	mc, err := wire.ParseMembersChange(args)
	if err != nil {
		return err
	}
	if _, ok := m.store.Chat(mc.ChatID); !ok {
		if slices.Contains(mc.Members, m.Viewer()) {
			// Added to a chat we have never seen; its summary comes from the server.
			go m.refreshAsync()
		}
		return nil
	}
	m.store.MutateChats(func(c *store.Chat) bool {
		if c.ID != mc.ChatID {
			return false
		}
		changed := false
		for _, name := range mc.Members {
			if !slices.ContainsFunc(c.Members, func(r store.MemberRef) bool { return r.Nickname == name }) {
				c.Members = append(c.Members, store.MemberRef{Nickname: name})
				changed = true
			}
		}
		return changed
	})
	return nil
}

func (m *Manager) handleMembersRemoved(args []json.RawMessage) error {
	mc, err := wire.ParseMembersChange(args)
	if err != nil {
		return err
	}
	if slices.Contains(mc.Members, m.Viewer()) {
		m.dropConversation(mc.ChatID)
		return nil
	}
	m.store.MutateChats(func(c *store.Chat) bool {
		if c.ID != mc.ChatID {
			return false
		}
		n := len(c.Members)
		c.Members = slices.DeleteFunc(c.Members, func(r store.MemberRef) bool {
			return slices.Contains(mc.Members, r.Nickname)
		})
		return len(c.Members) != n
	})
	return nil
}

func (m *Manager) handleMessage(args []json.RawMessage) error {
	msg, err := wire.ParseMessageEvent(args, m.Viewer())
	if err != nil {
		return err
	}
	m.mu.RLock()
	sink := m.sink
	m.mu.RUnlock()

	if _, known := m.store.Message(msg.ID); known || sink == nil {
		m.store.UpsertMessage(msg)
		return nil
	}
	sink.HandleNewMessages(msg.ConversationID, []store.Message{msg})
	return nil
}

func (m *Manager) handleMessageEdited(args []json.RawMessage) error {
	e, err := wire.ParseMessageEdit(args)
	if err != nil {
		return err
	}
	at := e.EditedAt
	if at.IsZero() {
		at = m.now()
	}
	if !m.store.ReplaceMessageContent(e.ID, e.Content, at) {
		m.logger.Debug("edit for unknown message", zap.String("msg_id", e.ID))
	}
	return nil
}

func (m *Manager) handleMessageDeleted(args []json.RawMessage) error {
	d, err := wire.ParseMessageDeletion(args)
	if err != nil {
		return err
	}
	at := d.At
	if at.IsZero() {
		at = m.now()
	}
	if !m.store.MarkMessageDeleted(d.ID, d.Hard, at) {
		m.logger.Debug("deletion for unknown message", zap.String("msg_id", d.ID), zap.Bool("hard", d.Hard))
	}
	return nil
}

func (m *Manager) handleUpdateChats(args []json.RawMessage) error {
	if len(args) == 0 {
		go m.refreshAsync()
		return nil
	}
	chats, err := wire.ParseChatList(args[0], m.kind)
	if err != nil {
		return err
	}
	m.store.ReplaceChats(chats)
	metrics.StoredChats.WithLabelValues(m.domain).Set(float64(len(chats)))
	return nil
}

func (m *Manager) handleUserInfoChanged(args []json.RawMessage) error {
	ev, err := wire.ParseIdentityChanged(args)
	if err != nil {
		return err
	}
	res := m.identity.ApplyRename(ev)
	if res.ViewerRenamed {
		m.logger.Info("viewer renamed", zap.String("viewer", ev.New))
	}
	if m.kind == store.Direct && ev.Old != "" && ev.Old != ev.New {
		m.mu.RLock()
		sink := m.sink
		m.mu.RUnlock()
		if r, ok := sink.(ConversationRenamer); ok {
			r.RenameConversation(ev.Old, ev.New)
		}
	}
	return nil
}

func (m *Manager) handleUserInfoDeleted(args []json.RawMessage) error {
	ev, err := wire.ParseIdentityDeleted(args)
	if err != nil {
		return err
	}
	if res := m.identity.ApplyDeletion(ev); res.ViewerDeleted {
		m.logger.Warn("viewer identity deleted", zap.String("identity", ev.Identity))
		m.bus.Emit(bus.KindViewerDeleted, m.domain, ev.Identity)
	}
	return nil
}

// refreshAsync runs a chat refresh off the read goroutine, which must stay
// free to deliver the invocation's completion.
func (m *Manager) refreshAsync() {
	ctx, cancel := context.WithTimeout(context.Background(), m.callTimeout)
	defer cancel()
	m.RefreshChats(ctx)
}
