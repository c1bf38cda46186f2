package bus

import "time"

// Event kinds published by the sync core. Subscribers filter by prefix, so
// "conn." receives every connection event and "store." every store change.
const (
	KindConnState       = "conn.state_changed"
	KindChatsChanged    = "store.chats_changed"
	KindMessagesChanged = "store.messages_changed"
	KindViewerDeleted   = "session.viewer_deleted"
	KindSendAck         = "outbox.send_ack"
	KindSendFailed      = "outbox.send_failed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Domain    string
	Timestamp time.Time
	Payload   any
}
