package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/conn"
	"github.com/matheus3301/chatsync/internal/wire"
)

// mockRemote records calls and returns configurable results.
type mockRemote struct {
	mu        sync.Mutex
	connected bool
	calls     []string
	errs      []error // consumed one per call; nil entries succeed
}

func (m *mockRemote) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockRemote) record(call string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	if len(m.errs) == 0 {
		return nil
	}
	err := m.errs[0]
	m.errs = m.errs[1:]
	return err
}

func (m *mockRemote) SendMessage(_ context.Context, msg wire.OutgoingMessage) error {
	return m.record("send:" + msg.ConversationID + ":" + msg.Content)
}

func (m *mockRemote) ReplyToMessage(_ context.Context, msg wire.OutgoingMessage) error {
	return m.record("reply:" + msg.ReplyFor)
}

func (m *mockRemote) EditMessage(_ context.Context, id, content string) error {
	return m.record("edit:" + id + ":" + content)
}

func (m *mockRemote) DeleteMessage(_ context.Context, id string, hard bool) error {
	if hard {
		return m.record("delete-hard:" + id)
	}
	return m.record("delete:" + id)
}

func (m *mockRemote) callList() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func TestSenderDeliversInOrder(t *testing.T) {
	b := bus.New()
	remote := &mockRemote{connected: true}
	s := NewSender("direct", remote, b, Options{}, nil)

	ch, unsub := b.Subscribe(bus.KindSendAck, 10)
	defer unsub()

	id, err := s.Enqueue(Command{Op: OpSend, ConversationID: "bob", Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected a generated client id")
	}
	if _, err := s.Enqueue(Command{Op: OpEdit, MessageID: "m1", Content: "hello"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Enqueue(Command{Op: OpDelete, MessageID: "m2", Hard: true}); err != nil {
		t.Fatal(err)
	}

	s.processPending(context.Background())

	want := []string{"send:bob:hi", "edit:m1:hello", "delete-hard:m2"}
	got := remote.callList()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
	if len(s.Pending()) != 0 {
		t.Errorf("pending = %d, want 0", len(s.Pending()))
	}

	select {
	case evt := <-ch:
		res, ok := evt.Payload.(Result)
		if !ok || res.ClientID != id || res.Op != OpSend {
			t.Errorf("first ack = %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no ack published")
	}
}

func TestSenderWaitsWhileDisconnected(t *testing.T) {
	remote := &mockRemote{}
	s := NewSender("group", remote, nil, Options{}, nil)
	if _, err := s.Enqueue(Command{Op: OpSend, ConversationID: "g1", Content: "x"}); err != nil {
		t.Fatal(err)
	}

	s.processPending(context.Background())
	if len(remote.callList()) != 0 {
		t.Fatal("nothing should be sent while disconnected")
	}

	remote.mu.Lock()
	remote.connected = true
	remote.mu.Unlock()
	s.processPending(context.Background())
	if len(remote.callList()) != 1 {
		t.Fatalf("calls = %v, want 1", remote.callList())
	}
}

func TestSenderRetriesThenAbandons(t *testing.T) {
	b := bus.New()
	boom := errors.New("server rejected")
	remote := &mockRemote{connected: true, errs: []error{boom, boom, boom}}
	s := NewSender("direct", remote, b, Options{MaxAttempts: 3}, nil)

	failed, unsub := b.Subscribe(bus.KindSendFailed, 10)
	defer unsub()

	if _, err := s.Enqueue(Command{Op: OpSend, ConversationID: "bob", Content: "first"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Enqueue(Command{Op: OpSend, ConversationID: "bob", Content: "second"}); err != nil {
		t.Fatal(err)
	}

	s.processPending(context.Background())
	s.processPending(context.Background())
	p := s.Pending()
	if len(p) != 2 || p[0].Attempts != 2 || p[0].LastError != boom.Error() {
		t.Fatalf("pending = %+v", p)
	}

	// Third failure abandons the head; the second command then goes through.
	s.processPending(context.Background())
	got := remote.callList()
	if got[len(got)-1] != "send:bob:second" {
		t.Errorf("last call = %q, want the second command", got[len(got)-1])
	}
	if len(s.Pending()) != 0 {
		t.Errorf("pending = %d, want 0", len(s.Pending()))
	}

	select {
	case evt := <-failed:
		if res := evt.Payload.(Result); res.Error != boom.Error() {
			t.Errorf("failure = %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("no send_failed published")
	}
}

func TestSenderNotConnectedErrorDoesNotCountAttempt(t *testing.T) {
	remote := &mockRemote{connected: true, errs: []error{conn.ErrNotConnected}}
	s := NewSender("direct", remote, nil, Options{MaxAttempts: 1}, nil)
	if _, err := s.Enqueue(Command{Op: OpReply, ConversationID: "bob", ReplyFor: "m1"}); err != nil {
		t.Fatal(err)
	}

	s.processPending(context.Background())
	p := s.Pending()
	if len(p) != 1 || p[0].Attempts != 0 {
		t.Fatalf("pending = %+v, want one untouched command", p)
	}
}

func TestEnqueueValidates(t *testing.T) {
	s := NewSender("direct", &mockRemote{}, nil, Options{}, nil)
	tests := []struct {
		name string
		cmd  Command
	}{
		{"send without conversation", Command{Op: OpSend}},
		{"reply without target", Command{Op: OpReply, ConversationID: "bob"}},
		{"edit without id", Command{Op: OpEdit}},
		{"delete without id", Command{Op: OpDelete}},
		{"unknown op", Command{Op: "forward", MessageID: "m1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Enqueue(tt.cmd); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestSenderLoop(t *testing.T) {
	remote := &mockRemote{connected: true}
	s := NewSender("direct", remote, nil, Options{Interval: 10 * time.Millisecond}, nil)
	if _, err := s.Enqueue(Command{Op: OpSend, ConversationID: "bob", Content: "hi"}); err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for len(remote.callList()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("loop never delivered the command")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
