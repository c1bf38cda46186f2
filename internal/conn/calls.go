package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
)

// invoke performs a remote call and drops its response if the connection
// went away while it was in flight.
func (m *Manager) invoke(ctx context.Context, target string, args ...any) (json.RawMessage, error) {
	if !m.Connected() {
		return nil, ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	start := time.Now()
	raw, err := m.transport.Invoke(ctx, target, args...)
	metrics.RemoteCallDuration.WithLabelValues(m.domain, target).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RemoteCalls.WithLabelValues(m.domain, target, "error").Inc()
		return nil, fmt.Errorf("%s: %w", target, err)
	}
	if !m.Connected() {
		metrics.RemoteCalls.WithLabelValues(m.domain, target, "stale").Inc()
		m.logger.Debug("dropping stale response", zap.String("target", target))
		return nil, ErrNotConnected
	}
	metrics.RemoteCalls.WithLabelValues(m.domain, target, "ok").Inc()
	return raw, nil
}

// GetChats fetches the server's chat collection. A null response is an empty list.
func (m *Manager) GetChats(ctx context.Context) ([]store.Chat, error) {
	raw, err := m.invoke(ctx, wire.GetChats)
	if err != nil {
		return nil, err
	}
	return wire.ParseChatList(raw, m.kind)
}

// LoadHistory fetches one page of older history. skip counts the messages
// already held for the conversation and take is the page size.
func (m *Manager) LoadHistory(ctx context.Context, conversationID string, skip, take int) ([]store.Message, error) {
	raw, err := m.invoke(ctx, wire.LoadHistory, conversationID, skip, take)
	if err != nil {
		return nil, err
	}
	msgs, err := wire.ParseMessages(raw, m.Viewer())
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].ConversationID == "" {
			msgs[i].ConversationID = conversationID
		}
	}
	return msgs, nil
}

// SendMessage posts a new message.
func (m *Manager) SendMessage(ctx context.Context, msg wire.OutgoingMessage) error {
	_, err := m.invoke(ctx, wire.SendMessage, msg)
	return err
}

// ReplyToMessage posts a reply to msg.ReplyFor.
func (m *Manager) ReplyToMessage(ctx context.Context, msg wire.OutgoingMessage) error {
	if msg.ReplyFor == "" {
		return errors.New("reply has no target message")
	}
	_, err := m.invoke(ctx, wire.ReplyToMessage, msg)
	return err
}

// EditMessage replaces the content of one of the viewer's messages.
func (m *Manager) EditMessage(ctx context.Context, id, content string) error {
	_, err := m.invoke(ctx, wire.EditMessage, id, content)
	return err
}

// DeleteMessage deletes a message; hard removes it for everyone.
func (m *Manager) DeleteMessage(ctx context.Context, id string, hard bool) error {
	_, err := m.invoke(ctx, wire.DeleteMessage, id, hard)
	return err
}

// JoinConversation subscribes the connection to a conversation's events.
func (m *Manager) JoinConversation(ctx context.Context, conversationID string) error {
	_, err := m.invoke(ctx, wire.JoinConversation, conversationID)
	return err
}

// LeaveConversation undoes JoinConversation.
func (m *Manager) LeaveConversation(ctx context.Context, conversationID string) error {
	_, err := m.invoke(ctx, wire.LeaveConversation, conversationID)
	return err
}

// GetDownloadUrls resolves download urls for a batch of file names. It
// makes the manager usable as the attachment cache's resolver.
func (m *Manager) GetDownloadUrls(ctx context.Context, fileNames []string) ([]wire.ResolvedFile, error) {
	raw, err := m.invoke(ctx, wire.GetDownloadUrls, fileNames)
	if err != nil {
		return nil, err
	}
	return wire.ParseResolvedFiles(raw)
}
