package wire

import "time"

// Server push event names. Matching is case-insensitive on the wire.
const (
	ChatCreated     = "ChatCreated"
	ChatEdited      = "ChatEdited"
	ChatDeleted     = "ChatDeleted"
	MembersAdded    = "MembersAdded"
	MembersRemoved  = "MembersRemoved"
	MessageReceived = "MessageReceived"
	MessageEdited   = "MessageEdited"
	MessageDeleted  = "MessageDeleted"
	ReplyToMessage  = "ReplyToMessage"
	UpdateChats     = "UpdateChats"
	UserInfoChanged = "UserInfoChanged"
	UserInfoDeleted = "UserInfoDeleted"
)

// Remote call targets.
const (
	GetChats          = "GetChats"
	LoadHistory       = "LoadHistory"
	SendMessage       = "SendMessage"
	EditMessage       = "EditMessage"
	DeleteMessage     = "DeleteMessage"
	JoinConversation  = "JoinConversation"
	LeaveConversation = "LeaveConversation"
	GetDownloadUrls   = "GetDownloadUrls"
)

// PushEvents lists every server event the connection manager binds.
var PushEvents = []string{
	ChatCreated, ChatEdited, ChatDeleted,
	MembersAdded, MembersRemoved,
	MessageReceived, MessageEdited, MessageDeleted, ReplyToMessage,
	UpdateChats, UserInfoChanged, UserInfoDeleted,
}

// MessageDeletion is the canonical form of a MessageDeleted event.
type MessageDeletion struct {
	ID             string
	ConversationID string
	Hard           bool
	At             time.Time
}

// MessageEdit is the canonical form of a MessageEdited event.
type MessageEdit struct {
	ID       string
	Content  string
	EditedAt time.Time
}

// MembersChange is the canonical form of MembersAdded and MembersRemoved.
type MembersChange struct {
	ChatID  string
	Members []string
}

// IdentityChanged is the canonical form of a UserInfoChanged event.
type IdentityChanged struct {
	Old       string
	New       string
	Avatar    string
	UpdatedAt time.Time
}

// IdentityDeleted is the canonical form of a UserInfoDeleted event.
type IdentityDeleted struct {
	Identity string
}

// ResolvedFile is one entry of a GetDownloadUrls response.
type ResolvedFile struct {
	OriginalName   string `json:"originalName"`
	UniqueFileName string `json:"uniqueFileName"`
	URL            string `json:"url"`
}

// OutgoingMessage is the argument of SendMessage and ReplyToMessage.
type OutgoingMessage struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	ReplyFor       string `json:"replyFor,omitempty"`
	ClientID       string `json:"clientId,omitempty"`
}
