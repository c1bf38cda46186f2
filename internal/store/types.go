package store

import (
	"slices"
	"time"
)

// Kind distinguishes one-to-one chats from group chats.
type Kind string

const (
	Direct Kind = "direct"
	Group  Kind = "group"
)

// MemberRef is a group member as seen in a chat summary.
type MemberRef struct {
	Nickname  string
	AvatarURL string
}

// Chat represents a conversation summary. For direct chats ID is the
// counterpart's nickname; for groups it is the group id.
type Chat struct {
	ID                 string
	Kind               Kind
	DisplayName        string
	AvatarURL          string
	LastUserInfoUpdate time.Time
	Members            []MemberRef
	Admin              string
}

func (c Chat) clone() Chat {
	c.Members = slices.Clone(c.Members)
	return c
}

// ChatPatch carries the fields of a partial chat update. Nil fields are left untouched.
type ChatPatch struct {
	DisplayName *string
	AvatarURL   *string
	Admin       *string
	Members     []MemberRef
}

// Message represents a chat message. Content is opaque; it usually holds a
// JSON envelope, see ParseContent.
type Message struct {
	ID             string
	ConversationID string
	Sender         string
	SenderImage    string
	Content        string
	SendTime       time.Time
	IsEdited       bool
	EditedAt       time.Time
	IsDeleted      bool
	DeletedAt      time.Time
	ReplyFor       string
}

// Change is the payload of store change events.
type Change struct {
	ConversationIDs []string
	IDs             []string
}
