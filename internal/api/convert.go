package api

import (
	"time"

	"github.com/matheus3301/chatsync/internal/attach"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func toStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

func field(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func number(req *structpb.Struct, key string) float64 {
	return req.GetFields()[key].GetNumberValue()
}

func timeValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func stringList(list []string) []any {
	out := make([]any, len(list))
	for i, s := range list {
		out[i] = s
	}
	return out
}

func domainStatus(d Domain) map[string]any {
	m := d.Manager
	out := map[string]any{
		"domain":    m.Domain(),
		"state":     string(m.State()),
		"connected": m.Connected(),
		"loading":   m.Loading(),
		"error":     m.Error(),
		"viewer":    m.Viewer(),
		"chats":     len(m.Store().Chats()),
		"messages":  len(m.Store().AllMessages()),
	}
	if d.Outbox != nil {
		out["outbox_pending"] = len(d.Outbox.Pending())
	}
	return out
}

func cacheStats(st attach.Stats) map[string]any {
	return map[string]any{
		"entries":   st.Entries,
		"hits":      st.Hits,
		"misses":    st.Misses,
		"coalesced": st.Coalesced,
		"timeouts":  st.Timeouts,
		"batches":   st.Batches,
		"evictions": st.Evictions,
	}
}

// chatValue renders a chat. A direct chat without an avatar falls back to the
// avatar last announced for the counterpart.
func chatValue(c store.Chat, avatars *attach.Avatars) map[string]any {
	avatar := c.AvatarURL
	if avatar == "" && c.Kind == store.Direct {
		avatar, _ = avatars.Lookup(c.ID)
	}
	members := make([]any, len(c.Members))
	for i, mem := range c.Members {
		members[i] = mem.Nickname
	}
	return map[string]any{
		"id":                    c.ID,
		"kind":                  string(c.Kind),
		"display_name":          c.DisplayName,
		"avatar_url":            avatar,
		"admin":                 c.Admin,
		"members":               members,
		"last_user_info_update": timeValue(c.LastUserInfoUpdate),
	}
}

func messageValue(m store.Message, avatars *attach.Avatars) map[string]any {
	image := m.SenderImage
	if image == "" {
		image, _ = avatars.Lookup(m.Sender)
	}
	return map[string]any{
		"id":              m.ID,
		"conversation_id": m.ConversationID,
		"sender":          m.Sender,
		"sender_image":    image,
		"content":         m.Content,
		"send_time":       timeValue(m.SendTime),
		"is_edited":       m.IsEdited,
		"edited_at":       timeValue(m.EditedAt),
		"is_deleted":      m.IsDeleted,
		"deleted_at":      timeValue(m.DeletedAt),
		"reply_for":       m.ReplyFor,
	}
}

func eventValue(evt bus.Event) map[string]any {
	out := map[string]any{
		"kind":   evt.Kind,
		"domain": evt.Domain,
		"ts":     timeValue(evt.Timestamp),
	}
	switch p := evt.Payload.(type) {
	case store.Change:
		out["payload"] = map[string]any{
			"conversation_ids": stringList(p.ConversationIDs),
			"ids":              stringList(p.IDs),
		}
	case status.StatusChange:
		out["payload"] = map[string]any{"from": string(p.From), "to": string(p.To)}
	case outbox.Result:
		out["payload"] = map[string]any{
			"client_id":       p.ClientID,
			"op":              string(p.Op),
			"conversation_id": p.ConversationID,
			"message_id":      p.MessageID,
			"error":           p.Error,
		}
	case string:
		out["payload"] = map[string]any{"value": p}
	}
	return out
}
