package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/matheus3301/chatsync/internal/store"
)

// ErrMissingArgument is returned when a push event carries no payload.
var ErrMissingArgument = errors.New("missing event argument")

var (
	chatIDKeys     = []string{"id", "groupId", "chatId", "conversationId"}
	nicknameKeys   = []string{"nickname", "nickName", "userName", "user.nickname", "userInfo.userName"}
	avatarKeys     = []string{"avatarUrl", "avatar", "image", "imageUrl", "groupImage"}
	memberNameKeys = []string{"nickname", "nickName", "userName", "name"}
	memberListKeys = []string{"members", "users", "nicknames"}
)

func first(args []json.RawMessage) (json.RawMessage, error) {
	if len(args) == 0 || string(args[0]) == "null" {
		return nil, ErrMissingArgument
	}
	return args[0], nil
}

func asString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// ParseChat normalizes one chat payload of the given kind.
func ParseChat(raw json.RawMessage, kind store.Kind) (store.Chat, error) {
	f, err := decodeFields(raw)
	if err != nil {
		return store.Chat{}, fmt.Errorf("decode chat: %w", err)
	}
	c := store.Chat{
		Kind:               kind,
		DisplayName:        f.str("displayName", "name", "groupName", "title"),
		AvatarURL:          f.str(avatarKeys...),
		LastUserInfoUpdate: f.timestamp("lastUserInfoUpdate", "lastUserInfoUpdateTimestamp", "updatedAt"),
	}
	if kind == store.Direct {
		c.ID = f.str(slices.Concat(nicknameKeys, chatIDKeys)...)
	} else {
		c.ID = f.str(chatIDKeys...)
		c.Admin = f.str("admin", "adminNickname", "adminName", "admin.nickname", "admin.userName")
		c.Members = parseMembers(f.list(memberListKeys...))
	}
	if c.ID == "" {
		return store.Chat{}, fmt.Errorf("chat payload has no id")
	}
	if c.DisplayName == "" {
		c.DisplayName = c.ID
	}
	return c, nil
}

func parseMembers(items []any) []store.MemberRef {
	var out []store.MemberRef
	for _, it := range items {
		switch v := it.(type) {
		case string:
			if v != "" {
				out = append(out, store.MemberRef{Nickname: v})
			}
		case map[string]any:
			f := foldKeys(v)
			if name := f.str(memberNameKeys...); name != "" {
				out = append(out, store.MemberRef{Nickname: name, AvatarURL: f.str(avatarKeys...)})
			}
		}
	}
	return out
}

// ParseChatList normalizes a full chat collection. A null payload is an empty list.
// Entries that cannot be decoded are skipped.
func ParseChatList(raw json.RawMessage, kind store.Kind) ([]store.Chat, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []store.Chat{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode chat list: %w", err)
	}
	chats := make([]store.Chat, 0, len(items))
	for _, it := range items {
		c, err := ParseChat(it, kind)
		if err != nil {
			continue
		}
		chats = append(chats, c)
	}
	return chats, nil
}

// ParseChatEvent normalizes the argument list of ChatCreated/ChatEdited.
func ParseChatEvent(args []json.RawMessage, kind store.Kind) (store.Chat, error) {
	raw, err := first(args)
	if err != nil {
		return store.Chat{}, err
	}
	return ParseChat(raw, kind)
}

// ParseChatID extracts the chat id of a ChatDeleted event, which arrives
// either as a bare string or as an object.
func ParseChatID(args []json.RawMessage) (string, error) {
	raw, err := first(args)
	if err != nil {
		return "", err
	}
	if s, ok := asString(raw); ok {
		return s, nil
	}
	f, err := decodeFields(raw)
	if err != nil {
		return "", fmt.Errorf("decode chat id: %w", err)
	}
	id := f.str(slices.Concat(chatIDKeys, nicknameKeys)...)
	if id == "" {
		return "", fmt.Errorf("chat id missing")
	}
	return id, nil
}

// ParseMessage normalizes one message. When the payload carries no
// conversation id (one-to-one traffic) the conversation is the counterpart:
// the receiver for the viewer's own messages, the sender otherwise.
func ParseMessage(raw json.RawMessage, viewer string) (store.Message, error) {
	f, err := decodeFields(raw)
	if err != nil {
		return store.Message{}, fmt.Errorf("decode message: %w", err)
	}
	m := store.Message{
		ID:             f.str("id", "messageId"),
		ConversationID: f.str("conversationId", "chatId", "groupId"),
		Sender:         f.str("sender", "sender.nickname", "sender.userName", "senderNickname", "senderName", "userName"),
		SenderImage:    f.str("senderImage", "sender.image", "sender.avatar"),
		Content:        f.str("content", "message", "text"),
		SendTime:       f.timestamp("sendTime", "sentAt", "timestamp", "createdAt"),
		IsEdited:       f.boolean("isEdited", "edited"),
		EditedAt:       f.timestamp("editedAt", "editTime"),
		IsDeleted:      f.boolean("isDeleted", "deleted"),
		DeletedAt:      f.timestamp("deletedAt", "deleteTime"),
		ReplyFor:       f.str("replyFor", "replyTo", "replyForId", "replyFor.id"),
	}
	if m.ID == "" {
		return store.Message{}, fmt.Errorf("message payload has no id")
	}
	if m.ConversationID == "" {
		receiver := f.str("receiver", "recipient", "receiverNickname", "receiver.nickname")
		if viewer != "" && m.Sender == viewer {
			m.ConversationID = receiver
		} else {
			m.ConversationID = m.Sender
		}
	}
	return m, nil
}

// ParseMessages normalizes a history page. Undecodable entries are skipped.
func ParseMessages(raw json.RawMessage, viewer string) ([]store.Message, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode message list: %w", err)
	}
	msgs := make([]store.Message, 0, len(items))
	for _, it := range items {
		m, err := ParseMessage(it, viewer)
		if err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// ParseMessageEvent normalizes the argument list of MessageReceived/ReplyToMessage.
func ParseMessageEvent(args []json.RawMessage, viewer string) (store.Message, error) {
	raw, err := first(args)
	if err != nil {
		return store.Message{}, err
	}
	return ParseMessage(raw, viewer)
}

// ParseMessageDeletion accepts either positional (id, hard) arguments or one object.
func ParseMessageDeletion(args []json.RawMessage) (MessageDeletion, error) {
	raw, err := first(args)
	if err != nil {
		return MessageDeletion{}, err
	}
	if id, ok := asString(raw); ok {
		d := MessageDeletion{ID: id}
		if len(args) > 1 {
			_ = json.Unmarshal(args[1], &d.Hard)
		}
		return d, nil
	}
	f, err := decodeFields(raw)
	if err != nil {
		return MessageDeletion{}, fmt.Errorf("decode deletion: %w", err)
	}
	d := MessageDeletion{
		ID:             f.str("id", "messageId"),
		ConversationID: f.str("conversationId", "chatId", "groupId"),
		Hard:           f.boolean("hard", "hardDelete", "isHardDelete"),
		At:             f.timestamp("deletedAt", "timestamp"),
	}
	if f.str("deleteType", "type") == "hard" {
		d.Hard = true
	}
	if d.ID == "" {
		return MessageDeletion{}, fmt.Errorf("deletion payload has no id")
	}
	return d, nil
}

// ParseMessageEdit normalizes a MessageEdited event. The edited message may
// be sent whole; only id, content and edit time are used.
func ParseMessageEdit(args []json.RawMessage) (MessageEdit, error) {
	raw, err := first(args)
	if err != nil {
		return MessageEdit{}, err
	}
	f, err := decodeFields(raw)
	if err != nil {
		return MessageEdit{}, fmt.Errorf("decode edit: %w", err)
	}
	e := MessageEdit{
		ID:       f.str("id", "messageId"),
		Content:  f.str("content", "newContent", "message", "text"),
		EditedAt: f.timestamp("editedAt", "editTime", "timestamp"),
	}
	if e.ID == "" {
		return MessageEdit{}, fmt.Errorf("edit payload has no id")
	}
	return e, nil
}

// ParseMembersChange accepts positional (groupId, [members]) or one object.
func ParseMembersChange(args []json.RawMessage) (MembersChange, error) {
	raw, err := first(args)
	if err != nil {
		return MembersChange{}, err
	}
	if id, ok := asString(raw); ok {
		mc := MembersChange{ChatID: id}
		if len(args) > 1 {
			var items []any
			if err := json.Unmarshal(args[1], &items); err != nil {
				return MembersChange{}, fmt.Errorf("decode members: %w", err)
			}
			mc.Members = nicknames(parseMembers(items))
		}
		return mc, nil
	}
	f, err := decodeFields(raw)
	if err != nil {
		return MembersChange{}, fmt.Errorf("decode members change: %w", err)
	}
	mc := MembersChange{
		ChatID:  f.str(chatIDKeys...),
		Members: nicknames(parseMembers(f.list(memberListKeys...))),
	}
	if mc.ChatID == "" {
		return MembersChange{}, fmt.Errorf("members change has no chat id")
	}
	return mc, nil
}

func nicknames(refs []store.MemberRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Nickname
	}
	return out
}

// ParseIdentityChanged normalizes the many shapes UserInfoChanged arrives in.
// An event naming only the current identity is an avatar-only update.
func ParseIdentityChanged(args []json.RawMessage) (IdentityChanged, error) {
	raw, err := first(args)
	if err != nil {
		return IdentityChanged{}, err
	}
	f, err := decodeFields(raw)
	if err != nil {
		return IdentityChanged{}, fmt.Errorf("decode identity change: %w", err)
	}
	evt := IdentityChanged{
		Old: f.str("oldNickname", "oldNickName", "oldUserName", "oldName", "previousNickname"),
		New: f.str("newNickname", "newNickName", "newUserName", "newName",
			"nickname", "nickName", "userName", "userInfo.nickname", "userInfo.nickName", "userInfo.userName"),
		Avatar: f.str("newAvatar", "avatar", "image", "imageUrl",
			"userInfo.image", "userInfo.avatar", "userInfo.imageUrl"),
		UpdatedAt: f.timestamp("updatedAt", "lastUserInfoUpdate", "timestamp", "userInfo.lastUserInfoUpdate"),
	}
	if evt.New == "" {
		return IdentityChanged{}, fmt.Errorf("identity change has no new identity")
	}
	if evt.Old == "" {
		evt.Old = evt.New
	}
	return evt, nil
}

// ParseIdentityDeleted accepts a bare identity string or an object.
func ParseIdentityDeleted(args []json.RawMessage) (IdentityDeleted, error) {
	raw, err := first(args)
	if err != nil {
		return IdentityDeleted{}, err
	}
	if s, ok := asString(raw); ok && s != "" {
		return IdentityDeleted{Identity: s}, nil
	}
	f, err := decodeFields(raw)
	if err != nil {
		return IdentityDeleted{}, fmt.Errorf("decode identity deletion: %w", err)
	}
	id := f.str("identity", "nickname", "nickName", "userName", "userInfo.userName", "userInfo.nickname")
	if id == "" {
		return IdentityDeleted{}, fmt.Errorf("identity deletion has no identity")
	}
	return IdentityDeleted{Identity: id}, nil
}

// ParseResolvedFiles decodes a GetDownloadUrls response.
func ParseResolvedFiles(raw json.RawMessage) ([]ResolvedFile, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode download urls: %w", err)
	}
	out := make([]ResolvedFile, 0, len(items))
	for _, it := range items {
		f := foldKeys(it)
		rf := ResolvedFile{
			OriginalName:   f.str("originalName", "fileName"),
			UniqueFileName: f.str("uniqueFileName"),
			URL:            f.str("url", "downloadUrl"),
		}
		if rf.URL == "" {
			continue
		}
		out = append(out, rf)
	}
	return out, nil
}
