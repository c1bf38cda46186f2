package identity

import (
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAvatars struct {
	put         map[string]string
	invalidated []string
}

func (f *fakeAvatars) Put(key, url string) {
	if f.put == nil {
		f.put = map[string]string{}
	}
	f.put[key] = url
}

func (f *fakeAvatars) Invalidate(key string) {
	f.invalidated = append(f.invalidated, key)
}

var stamp = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRenameScenarioA(t *testing.T) {
	s := store.New("group", nil)
	s.UpsertChats([]store.Chat{{ID: "g1", Kind: store.Group, DisplayName: "Old"}})
	p := New(s, store.Group, "me", nil, nil)

	res := p.ApplyRename(wire.IdentityChanged{Old: "Old-avatar-key", New: "Someone", UpdatedAt: stamp})
	assert.Zero(t, res.Chats)
	c, ok := s.Chat("g1")
	require.True(t, ok)
	assert.Equal(t, "Old", c.DisplayName)
	assert.True(t, c.LastUserInfoUpdate.IsZero())

	res = p.ApplyRename(wire.IdentityChanged{Old: "Old", New: "New", UpdatedAt: stamp})
	assert.Equal(t, 1, res.Chats)
	c, _ = s.Chat("g1")
	assert.Equal(t, "g1", c.ID)
	assert.Equal(t, "New", c.DisplayName)
	assert.Equal(t, stamp, c.LastUserInfoUpdate)
}

func TestRenameRewritesGroupsAndMessages(t *testing.T) {
	s := store.New("group", nil)
	s.UpsertChats([]store.Chat{{
		ID:      "g1",
		Kind:    store.Group,
		Admin:   "alice",
		Members: []store.MemberRef{{Nickname: "alice"}, {Nickname: "bob"}},
	}})
	s.UpsertMessage(store.Message{ID: "m1", ConversationID: "g1", Sender: "alice", SendTime: stamp})
	s.UpsertMessage(store.Message{ID: "m2", ConversationID: "g1", Sender: "bob", SendTime: stamp.Add(time.Second)})
	avatars := &fakeAvatars{}
	p := New(s, store.Group, "bob", avatars, nil)

	res := p.ApplyRename(wire.IdentityChanged{Old: "alice", New: "alicia", Avatar: "https://cdn/a.png", UpdatedAt: stamp})
	assert.Equal(t, 1, res.Chats)
	assert.Equal(t, 1, res.Messages)
	assert.False(t, res.ViewerRenamed)

	c, _ := s.Chat("g1")
	assert.Equal(t, "alicia", c.Admin)
	assert.Equal(t, []store.MemberRef{{Nickname: "alicia", AvatarURL: "https://cdn/a.png"}, {Nickname: "bob"}}, c.Members)

	m, _ := s.Message("m1")
	assert.Equal(t, "alicia", m.Sender)
	assert.Equal(t, "https://cdn/a.png", m.SenderImage)
	m, _ = s.Message("m2")
	assert.Equal(t, "bob", m.Sender)
	assert.Empty(t, m.SenderImage)

	assert.Equal(t, []string{"alice"}, avatars.invalidated)
	assert.Equal(t, "https://cdn/a.png", avatars.put["alicia"])
}

func TestRenameDirectMovesConversation(t *testing.T) {
	s := store.New("direct", nil)
	s.UpsertChats([]store.Chat{{ID: "alice", Kind: store.Direct, DisplayName: "alice"}})
	s.UpsertMessage(store.Message{ID: "m1", ConversationID: "alice", Sender: "alice", SendTime: stamp})
	s.UpsertMessage(store.Message{ID: "m2", ConversationID: "alice", Sender: "me", SendTime: stamp.Add(time.Second)})
	p := New(s, store.Direct, "me", nil, nil)

	p.ApplyRename(wire.IdentityChanged{Old: "alice", New: "alicia", UpdatedAt: stamp})

	_, ok := s.Chat("alice")
	assert.False(t, ok)
	c, ok := s.Chat("alicia")
	require.True(t, ok)
	assert.Equal(t, "alicia", c.DisplayName)
	assert.Len(t, s.Messages("alicia"), 2)
	assert.Empty(t, s.Messages("alice"))
}

func TestRenameDirectOntoExistingChat(t *testing.T) {
	s := store.New("direct", nil)
	s.UpsertChats([]store.Chat{
		{ID: "alice", Kind: store.Direct, DisplayName: "alice"},
		// ChatCreated for the new nickname beat the rename event.
		{ID: "alicia", Kind: store.Direct, DisplayName: "alicia"},
	})
	s.UpsertMessage(store.Message{ID: "m1", ConversationID: "alice", Sender: "alice", SendTime: stamp})
	p := New(s, store.Direct, "me", nil, nil)

	p.ApplyRename(wire.IdentityChanged{Old: "alice", New: "alicia", Avatar: "https://cdn/a.png", UpdatedAt: stamp})

	chats := s.Chats()
	require.Len(t, chats, 1)
	assert.Equal(t, "alicia", chats[0].ID)
	assert.Equal(t, "https://cdn/a.png", chats[0].AvatarURL)
	assert.Len(t, s.Messages("alicia"), 1)
}

func TestRenameIdempotent(t *testing.T) {
	s := store.New("group", nil)
	s.UpsertChats([]store.Chat{{ID: "g1", Kind: store.Group, Admin: "alice", Members: []store.MemberRef{{Nickname: "alice"}}}})
	s.UpsertMessage(store.Message{ID: "m1", ConversationID: "g1", Sender: "alice", SendTime: stamp})
	p := New(s, store.Group, "me", nil, nil)
	ev := wire.IdentityChanged{Old: "alice", New: "alicia", Avatar: "https://cdn/a.png", UpdatedAt: stamp}

	p.ApplyRename(ev)
	chatsOnce, msgsOnce := s.Chats(), s.AllMessages()

	res := p.ApplyRename(ev)
	assert.Zero(t, res.Chats)
	assert.Zero(t, res.Messages)
	assert.Equal(t, chatsOnce, s.Chats())
	assert.Equal(t, msgsOnce, s.AllMessages())
}

func TestRenameViewer(t *testing.T) {
	s := store.New("direct", nil)
	p := New(s, store.Direct, "me", nil, nil)

	res := p.ApplyRename(wire.IdentityChanged{Old: "me", New: "myself"})
	assert.True(t, res.ViewerRenamed)
	assert.Equal(t, "myself", p.Viewer())
}

func TestAvatarOnlyUpdate(t *testing.T) {
	s := store.New("direct", nil)
	s.UpsertChats([]store.Chat{{ID: "bob", Kind: store.Direct, DisplayName: "bob"}})
	p := New(s, store.Direct, "me", nil, nil)

	res := p.ApplyRename(wire.IdentityChanged{Old: "bob", New: "bob", Avatar: "https://cdn/b.png", UpdatedAt: stamp})
	assert.Equal(t, 1, res.Chats)
	c, _ := s.Chat("bob")
	assert.Equal(t, "https://cdn/b.png", c.AvatarURL)
	assert.Equal(t, "bob", c.DisplayName)
}

func TestDeletion(t *testing.T) {
	s := store.New("direct", nil)
	s.UpsertChats([]store.Chat{
		{ID: "alice", Kind: store.Direct},
		{ID: "bob", Kind: store.Direct},
	})
	s.UpsertMessage(store.Message{ID: "m1", ConversationID: "alice", Sender: "alice", SendTime: stamp})
	s.UpsertMessage(store.Message{ID: "m2", ConversationID: "bob", Sender: "bob", SendTime: stamp})
	p := New(s, store.Direct, "me", nil, nil)

	res := p.ApplyDeletion(wire.IdentityDeleted{Identity: "alice"})
	assert.False(t, res.ViewerDeleted)
	assert.Equal(t, 1, res.ChatsRemoved)
	assert.Equal(t, 1, res.MessagesRemoved)

	_, ok := s.Chat("alice")
	assert.False(t, ok)
	_, ok = s.Chat("bob")
	assert.True(t, ok)
	assert.Len(t, s.AllMessages(), 1)
}

func TestDeletionStripsGroups(t *testing.T) {
	s := store.New("group", nil)
	s.UpsertChats([]store.Chat{{
		ID:      "g1",
		Kind:    store.Group,
		Admin:   "alice",
		Members: []store.MemberRef{{Nickname: "alice"}, {Nickname: "bob"}},
	}})
	p := New(s, store.Group, "me", nil, nil)

	res := p.ApplyDeletion(wire.IdentityDeleted{Identity: "alice"})
	assert.Equal(t, 1, res.ChatsUpdated)

	c, ok := s.Chat("g1")
	require.True(t, ok, "group chat must survive its admin's deletion")
	assert.Empty(t, c.Admin)
	assert.Equal(t, []store.MemberRef{{Nickname: "bob"}}, c.Members)
}

func TestDeletionOfViewerMutatesNothing(t *testing.T) {
	s := store.New("direct", nil)
	s.UpsertChats([]store.Chat{{ID: "alice", Kind: store.Direct}})
	p := New(s, store.Direct, "me", nil, nil)

	res := p.ApplyDeletion(wire.IdentityDeleted{Identity: "me"})
	assert.True(t, res.ViewerDeleted)
	assert.Len(t, s.Chats(), 1)
}
