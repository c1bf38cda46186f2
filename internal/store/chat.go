package store

import "slices"

// Chats returns a snapshot of the chat collection.
func (s *Store) Chats() []Chat {
	src := s.loadChats()
	out := make([]Chat, len(src))
	for i, c := range src {
		out[i] = c.clone()
	}
	return out
}

// Chat returns a single chat by id.
func (s *Store) Chat(id string) (Chat, bool) {
	for _, c := range s.loadChats() {
		if c.ID == id {
			return c.clone(), true
		}
	}
	return Chat{}, false
}

// ReplaceChats swaps the whole chat collection, as done for a full chat-list refresh.
// Duplicate ids in the input collapse to the last occurrence.
func (s *Store) ReplaceChats(list []Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Chat, 0, len(list))
	next = upsertChats(next, list)
	s.swapChats(next)
}

// UpsertChats inserts chats, replacing any existing chat with the same id in place.
func (s *Store) UpsertChats(list []Chat) {
	if len(list) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := slices.Clone(s.loadChats())
	next = upsertChats(next, list)
	ids := make([]string, len(list))
	for i, c := range list {
		ids[i] = c.ID
	}
	s.swapChats(next, ids...)
}

func upsertChats(dst []Chat, list []Chat) []Chat {
	for _, c := range list {
		c = c.clone()
		if i := slices.IndexFunc(dst, func(e Chat) bool { return e.ID == c.ID }); i >= 0 {
			dst[i] = c
			continue
		}
		dst = append(dst, c)
	}
	return dst
}

// RemoveChat deletes a chat by id. It reports whether the chat existed.
func (s *Store) RemoveChat(id string) bool {
	return s.RemoveChatsWhere(func(c Chat) bool { return c.ID == id }) > 0
}

// RemoveChatsWhere deletes every chat matching pred and returns how many were removed.
func (s *Store) RemoveChatsWhere(pred func(Chat) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.loadChats()
	next := make([]Chat, 0, len(cur))
	removed := idSet{}
	for _, c := range cur {
		if pred(c) {
			removed.add(c.ID)
			continue
		}
		next = append(next, c)
	}
	if len(removed) == 0 {
		return 0
	}
	s.swapChats(next, removed.list()...)
	return len(removed)
}

// PatchChat applies a partial update to the chat with the given id.
// It reports whether the chat was found.
func (s *Store) PatchChat(id string, p ChatPatch) bool {
	found := false
	s.MutateChats(func(c *Chat) bool {
		if c.ID != id {
			return false
		}
		found = true
		if p.DisplayName != nil {
			c.DisplayName = *p.DisplayName
		}
		if p.AvatarURL != nil {
			c.AvatarURL = *p.AvatarURL
		}
		if p.Admin != nil {
			c.Admin = *p.Admin
		}
		if p.Members != nil {
			c.Members = slices.Clone(p.Members)
		}
		return true
	})
	return found
}

// MutateChats calls fn with a private copy of every chat. Copies for which
// fn returns true replace the originals in one atomic swap. When fn moves a
// chat onto the id of another chat, the chat that already had that id is
// kept and the moved one is dropped. It returns the number of chats changed.
// fn must not call back into the store.
func (s *Store) MutateChats(fn func(c *Chat) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.loadChats()
	next := make([]Chat, len(cur))
	changed := idSet{}
	for i, c := range cur {
		cp := c.clone()
		if fn(&cp) {
			next[i] = cp
			changed.add(cp.ID)
			continue
		}
		next[i] = c
	}
	if len(changed) == 0 {
		return 0
	}
	s.swapChats(dedupChats(cur, next), changed.list()...)
	return len(changed)
}

// dedupChats collapses chats sharing an id after a mutation. next[i] is the
// mutated form of cur[i]. A chat whose id did not change wins over one that
// was moved onto it; otherwise the first occurrence wins.
func dedupChats(cur, next []Chat) []Chat {
	keep := make(map[string]int, len(next))
	for i, c := range next {
		j, seen := keep[c.ID]
		if !seen || (cur[i].ID == c.ID && cur[j].ID != c.ID) {
			keep[c.ID] = i
		}
	}
	if len(keep) == len(next) {
		return next
	}
	out := make([]Chat, 0, len(keep))
	for i, c := range next {
		if keep[c.ID] == i {
			out = append(out, c)
		}
	}
	return out
}
