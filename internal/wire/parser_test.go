package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/store"
)

func args(raw ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(raw))
	for i, r := range raw {
		out[i] = json.RawMessage(r)
	}
	return out
}

func TestParseIdentityChangedShapes(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    IdentityChanged
	}{
		{
			"camel case",
			`{"oldNickname":"Old","newNickname":"New"}`,
			IdentityChanged{Old: "Old", New: "New"},
		},
		{
			"pascal case",
			`{"OldNickName":"Old","UserName":"New","Image":"https://cdn/a.png"}`,
			IdentityChanged{Old: "Old", New: "New", Avatar: "https://cdn/a.png"},
		},
		{
			"nested user info",
			`{"oldUserName":"Old","userInfo":{"UserName":"New","image":"img"}}`,
			IdentityChanged{Old: "Old", New: "New", Avatar: "img"},
		},
		{
			"avatar only",
			`{"userName":"Same","avatar":"img2"}`,
			IdentityChanged{Old: "Same", New: "Same", Avatar: "img2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIdentityChanged(args(tt.payload))
			if err != nil {
				t.Fatalf("ParseIdentityChanged() error = %v", err)
			}
			got.UpdatedAt = time.Time{}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseIdentityChangedTimestamp(t *testing.T) {
	got, err := ParseIdentityChanged(args(`{"oldNickname":"a","newNickname":"b","updatedAt":1700000000000}`))
	if err != nil {
		t.Fatal(err)
	}
	if got.UpdatedAt.UnixMilli() != 1700000000000 {
		t.Errorf("updatedAt = %v", got.UpdatedAt)
	}
}

func TestParseIdentityChangedRejectsMissingNew(t *testing.T) {
	if _, err := ParseIdentityChanged(args(`{"old":"Old-avatar-key"}`)); err == nil {
		t.Error("expected error for payload with no new identity")
	}
	if _, err := ParseIdentityChanged(nil); err == nil {
		t.Error("expected error for missing argument")
	}
}

func TestParseIdentityDeleted(t *testing.T) {
	for _, payload := range []string{`"bob"`, `{"userName":"bob"}`, `{"UserInfo":{"userName":"bob"}}`} {
		got, err := ParseIdentityDeleted(args(payload))
		if err != nil {
			t.Fatalf("%s: %v", payload, err)
		}
		if got.Identity != "bob" {
			t.Errorf("%s: identity = %q, want bob", payload, got.Identity)
		}
	}
}

func TestParseMessageDeletion(t *testing.T) {
	tests := []struct {
		name string
		args []json.RawMessage
		want MessageDeletion
	}{
		{"positional soft", args(`"m1"`), MessageDeletion{ID: "m1"}},
		{"positional hard", args(`"m1"`, `true`), MessageDeletion{ID: "m1", Hard: true}},
		{"object hard", args(`{"MessageId":"m2","isHardDelete":true}`), MessageDeletion{ID: "m2", Hard: true}},
		{"delete type", args(`{"id":"m3","deleteType":"hard","groupId":"g1"}`), MessageDeletion{ID: "m3", Hard: true, ConversationID: "g1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMessageDeletion(tt.args)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseMessageConversationFallback(t *testing.T) {
	// One-to-one payloads carry no conversation id.
	incoming, err := ParseMessage(json.RawMessage(`{"id":"m1","sender":"alice","receiver":"me","content":"hi","sendTime":"2024-05-01T10:00:00"}`), "me")
	if err != nil {
		t.Fatal(err)
	}
	if incoming.ConversationID != "alice" {
		t.Errorf("incoming conversation = %q, want alice", incoming.ConversationID)
	}
	if incoming.SendTime.Year() != 2024 {
		t.Errorf("sendTime = %v", incoming.SendTime)
	}

	outgoing, err := ParseMessage(json.RawMessage(`{"id":"m2","Sender":"me","Receiver":"alice"}`), "me")
	if err != nil {
		t.Fatal(err)
	}
	if outgoing.ConversationID != "alice" {
		t.Errorf("outgoing conversation = %q, want alice", outgoing.ConversationID)
	}
}

func TestParseChatKinds(t *testing.T) {
	group, err := ParseChat(json.RawMessage(`{"GroupId":"g1","name":"Team","admin":"alice","users":["alice",{"nickName":"bob","image":"b.png"}]}`), store.Group)
	if err != nil {
		t.Fatal(err)
	}
	if group.ID != "g1" || group.DisplayName != "Team" || group.Admin != "alice" {
		t.Errorf("group = %+v", group)
	}
	if len(group.Members) != 2 || group.Members[1].AvatarURL != "b.png" {
		t.Errorf("members = %+v", group.Members)
	}

	direct, err := ParseChat(json.RawMessage(`{"nickname":"alice","image":"a.png"}`), store.Direct)
	if err != nil {
		t.Fatal(err)
	}
	if direct.ID != "alice" || direct.DisplayName != "alice" || direct.AvatarURL != "a.png" {
		t.Errorf("direct = %+v", direct)
	}
}

func TestParseChatListNull(t *testing.T) {
	chats, err := ParseChatList(json.RawMessage(`null`), store.Group)
	if err != nil {
		t.Fatal(err)
	}
	if chats == nil || len(chats) != 0 {
		t.Errorf("chats = %v, want empty non-nil", chats)
	}
}

func TestParseMembersChange(t *testing.T) {
	pos, err := ParseMembersChange(args(`"g1"`, `["bob",{"userName":"carol"}]`))
	if err != nil {
		t.Fatal(err)
	}
	if pos.ChatID != "g1" || len(pos.Members) != 2 || pos.Members[1] != "carol" {
		t.Errorf("positional = %+v", pos)
	}
	obj, err := ParseMembersChange(args(`{"groupId":"g2","members":["dave"]}`))
	if err != nil {
		t.Fatal(err)
	}
	if obj.ChatID != "g2" || len(obj.Members) != 1 {
		t.Errorf("object = %+v", obj)
	}
}

func TestParseResolvedFiles(t *testing.T) {
	files, err := ParseResolvedFiles(json.RawMessage(`[{"OriginalName":"a.jpg","UniqueFileName":"u-a.jpg","Url":"https://cdn/a"},{"originalName":"b.jpg"}]`))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("got %d files, want 1 (entries without url skipped)", len(files))
	}
	if files[0].UniqueFileName != "u-a.jpg" || files[0].URL != "https://cdn/a" {
		t.Errorf("file = %+v", files[0])
	}
}
