package sync

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/attach"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/wire"
)

type staticResolver map[string]string

func (r staticResolver) GetDownloadUrls(_ context.Context, names []string) ([]wire.ResolvedFile, error) {
	var out []wire.ResolvedFile
	for _, n := range names {
		if u, ok := r[n]; ok {
			out = append(out, wire.ResolvedFile{OriginalName: n, URL: u})
		}
	}
	return out, nil
}

func withFile(name, url string) string {
	return store.Content{Text: "pic", Files: []store.AttachmentFile{{FileName: name, URL: url}}}.Encode()
}

func fileURL(t *testing.T, s *store.Store, id string) string {
	t.Helper()
	m, ok := s.Message(id)
	if !ok {
		t.Fatalf("message %s missing", id)
	}
	c, err := store.ParseContent(m.Content)
	if err != nil {
		t.Fatal(err)
	}
	return c.Files[0].URL
}

func TestRefreshConversation(t *testing.T) {
	s := store.New("direct", nil)
	s.UpsertMessage(store.Message{ID: "m1", ConversationID: "bob", Content: withFile("a.jpg", ""), SendTime: time.UnixMilli(1)})
	s.UpsertMessage(store.Message{ID: "m2", ConversationID: "bob", Content: "plain", SendTime: time.UnixMilli(2)})
	cache := attach.New(staticResolver{"a.jpg": "https://cdn/a"}, attach.Options{}, nil)
	r := NewRefresher(cache, nil, 0, nil, s)

	if n := r.RefreshConversation(context.Background(), s, "bob"); n != 1 {
		t.Fatalf("rewrote %d messages, want 1", n)
	}
	if got := fileURL(t, s, "m1"); got != "https://cdn/a" {
		t.Errorf("url = %q", got)
	}
	m, _ := s.Message("m1")
	if m.IsEdited {
		t.Error("url refresh must not mark the message edited")
	}

	if n := r.RefreshConversation(context.Background(), s, "bob"); n != 0 {
		t.Errorf("second refresh rewrote %d messages, want 0", n)
	}
}

func TestRefreshKeepsEnvelopeFields(t *testing.T) {
	s := store.New("direct", nil)
	raw := `{"text":"see <this> & that","mentions":["bob"],"files":[{"fileName":"a.jpg","thumbnail":"t.png"}]}`
	s.UpsertMessage(store.Message{ID: "m1", ConversationID: "bob", Content: raw, SendTime: time.UnixMilli(1)})
	cache := attach.New(staticResolver{"a.jpg": "https://cdn/a?x=1&y=2"}, attach.Options{}, nil)
	r := NewRefresher(cache, nil, 0, nil, s)

	if n := r.RefreshConversation(context.Background(), s, "bob"); n != 1 {
		t.Fatalf("rewrote %d messages, want 1", n)
	}
	m, _ := s.Message("m1")
	for _, want := range []string{`"mentions":["bob"]`, `"thumbnail":"t.png"`, `"text":"see <this> & that"`, `"url":"https://cdn/a?x=1&y=2"`} {
		if !strings.Contains(m.Content, want) {
			t.Errorf("content = %s, missing %s", m.Content, want)
		}
	}
}

func TestRefresherReactsToStoreChanges(t *testing.T) {
	b := bus.New()
	s := store.New("group", b)
	cache := attach.New(staticResolver{"a.jpg": "https://cdn/a"}, attach.Options{}, nil)
	r := NewRefresher(cache, b, 0, nil, s)
	r.Start(context.Background())
	defer r.Stop()

	s.UpsertMessage(store.Message{ID: "m1", ConversationID: "g1", Content: withFile("a.jpg", ""), SendTime: time.UnixMilli(1)})

	deadline := time.Now().Add(2 * time.Second)
	for fileURL(t, s, "m1") != "https://cdn/a" {
		if time.Now().After(deadline) {
			t.Fatal("refresher did not rewrite the url")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRefreshAllIgnoresUnknownDomains(t *testing.T) {
	direct := store.New("direct", nil)
	group := store.New("group", nil)
	direct.UpsertMessage(store.Message{ID: "d1", ConversationID: "bob", Content: withFile("a.jpg", ""), SendTime: time.UnixMilli(1)})
	group.UpsertMessage(store.Message{ID: "g1", ConversationID: "g", Content: withFile("a.jpg", ""), SendTime: time.UnixMilli(1)})
	cache := attach.New(staticResolver{"a.jpg": "https://cdn/a"}, attach.Options{}, nil)
	r := NewRefresher(cache, nil, 0, nil, direct, group)

	if n := r.RefreshAll(context.Background()); n != 2 {
		t.Fatalf("RefreshAll = %d, want 2", n)
	}
	r.handleEvent(context.Background(), bus.Event{Kind: bus.KindMessagesChanged, Domain: "other", Payload: store.Change{ConversationIDs: []string{"x"}}})
}

func TestStopWithoutStart(t *testing.T) {
	r := NewRefresher(attach.New(staticResolver{}, attach.Options{}, nil), nil, 0, nil)
	r.Stop()
}
