package store

import (
	"cmp"
	"slices"
	"time"
)

// Messages returns a snapshot of the messages of one conversation, ordered by send time.
func (s *Store) Messages(conversationID string) []Message {
	var out []Message
	for _, m := range s.loadMessages() {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out
}

// AllMessages returns a snapshot of every message held by the store.
func (s *Store) AllMessages() []Message {
	return slices.Clone(s.loadMessages())
}

// Message returns a single message by id.
func (s *Store) Message(id string) (Message, bool) {
	for _, m := range s.loadMessages() {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// Visible returns the messages of a conversation as rendered for viewer:
// soft-deleted messages stay visible to their author only.
func (s *Store) Visible(conversationID, viewer string) []Message {
	var out []Message
	for _, m := range s.loadMessages() {
		if m.ConversationID != conversationID {
			continue
		}
		if m.IsDeleted && m.Sender != viewer {
			continue
		}
		out = append(out, m)
	}
	return out
}

// UpsertMessage replaces the fields of the message with the same id, or appends it.
func (s *Store) UpsertMessage(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := slices.Clone(s.loadMessages())
	if i := slices.IndexFunc(next, func(m Message) bool { return m.ID == msg.ID }); i >= 0 {
		next[i] = msg
	} else {
		next = append(next, msg)
	}
	sortBySendTime(next)
	s.swapMessages(next, []string{msg.ConversationID}, []string{msg.ID})
}

// MergeMessages adds the messages whose ids are not yet known and re-sorts
// the collection by send time. Known ids are never overwritten: a history
// page must not roll back records already updated by live events.
// It returns the messages that were actually added.
func (s *Store) MergeMessages(page []Message) []Message {
	if len(page) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.loadMessages()
	known := make(idSet, len(cur)+len(page))
	for _, m := range cur {
		known.add(m.ID)
	}

	var added []Message
	for _, m := range page {
		if _, ok := known[m.ID]; ok {
			continue
		}
		known.add(m.ID)
		added = append(added, m)
	}
	if len(added) == 0 {
		return nil
	}

	next := make([]Message, 0, len(cur)+len(added))
	next = append(next, cur...)
	next = append(next, added...)
	sortBySendTime(next)

	convs := idSet{}
	ids := make([]string, len(added))
	for i, m := range added {
		convs.add(m.ConversationID)
		ids[i] = m.ID
	}
	s.swapMessages(next, convs.list(), ids)
	return added
}

// MarkMessageDeleted soft-deletes (flag plus deletion time) or hard-deletes
// (removal) a message. It reports whether the message was found.
func (s *Store) MarkMessageDeleted(id string, hard bool, at time.Time) bool {
	if hard {
		return s.RemoveMessagesWhere(func(m Message) bool { return m.ID == id }) > 0
	}
	return s.updateMessage(id, func(m *Message) {
		m.IsDeleted = true
		m.DeletedAt = at
	})
}

// ReplaceMessageContent applies an edit. It reports whether the message was found.
func (s *Store) ReplaceMessageContent(id, content string, editedAt time.Time) bool {
	return s.updateMessage(id, func(m *Message) {
		m.Content = content
		m.IsEdited = true
		m.EditedAt = editedAt
	})
}

// SwapMessageContent replaces the content of a message only if it still
// equals old. Unlike an edit it leaves IsEdited untouched; it is used to
// write refreshed attachment URLs back into the envelope.
func (s *Store) SwapMessageContent(id, old, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.loadMessages()
	i := slices.IndexFunc(cur, func(m Message) bool { return m.ID == id })
	if i < 0 || cur[i].Content != old {
		return false
	}
	next := slices.Clone(cur)
	next[i].Content = content
	s.swapMessages(next, []string{next[i].ConversationID}, []string{id})
	return true
}

func (s *Store) updateMessage(id string, fn func(m *Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.loadMessages()
	i := slices.IndexFunc(cur, func(m Message) bool { return m.ID == id })
	if i < 0 {
		return false
	}
	next := slices.Clone(cur)
	fn(&next[i])
	s.swapMessages(next, []string{next[i].ConversationID}, []string{id})
	return true
}

// MutateMessages calls fn with a copy of every message; copies for which fn
// returns true replace the originals in one atomic swap. It returns the
// number of messages changed. fn must not call back into the store.
func (s *Store) MutateMessages(fn func(m *Message) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.loadMessages()
	next := slices.Clone(cur)
	convs, ids := idSet{}, idSet{}
	for i := range next {
		if fn(&next[i]) {
			convs.add(next[i].ConversationID)
			ids.add(next[i].ID)
			continue
		}
		next[i] = cur[i]
	}
	if len(ids) == 0 {
		return 0
	}
	s.swapMessages(next, convs.list(), ids.list())
	return len(ids)
}

// RemoveMessagesWhere deletes every message matching pred and returns how many were removed.
func (s *Store) RemoveMessagesWhere(pred func(Message) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.loadMessages()
	next := make([]Message, 0, len(cur))
	convs, ids := idSet{}, idSet{}
	for _, m := range cur {
		if pred(m) {
			convs.add(m.ConversationID)
			ids.add(m.ID)
			continue
		}
		next = append(next, m)
	}
	if len(ids) == 0 {
		return 0
	}
	s.swapMessages(next, convs.list(), ids.list())
	return len(ids)
}

func sortBySendTime(msgs []Message) {
	slices.SortStableFunc(msgs, func(a, b Message) int {
		return cmp.Compare(a.SendTime.UnixNano(), b.SendTime.UnixNano())
	})
}
