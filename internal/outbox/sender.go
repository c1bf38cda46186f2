package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/conn"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
)

// Op is the kind of an outbox command.
type Op string

const (
	OpSend   Op = "send"
	OpReply  Op = "reply"
	OpEdit   Op = "edit"
	OpDelete Op = "delete"
)

// Command is one queued outgoing operation.
type Command struct {
	ClientID       string
	Op             Op
	ConversationID string
	MessageID      string
	Content        string
	ReplyFor       string
	Hard           bool
	Attempts       int
	LastError      string
	QueuedAt       time.Time
}

// Result is the payload of outbox.send_ack and outbox.send_failed events.
type Result struct {
	ClientID       string
	Op             Op
	ConversationID string
	MessageID      string
	Error          string
}

// Remote is the connection the outbox delivers through. *conn.Manager implements it.
type Remote interface {
	Connected() bool
	SendMessage(ctx context.Context, msg wire.OutgoingMessage) error
	ReplyToMessage(ctx context.Context, msg wire.OutgoingMessage) error
	EditMessage(ctx context.Context, id, content string) error
	DeleteMessage(ctx context.Context, id string, hard bool) error
}

// Options tunes a sender.
type Options struct {
	Interval    time.Duration
	MaxAttempts int
}

// Sender drains queued commands in order while the remote is connected.
// A command that keeps failing is dropped after MaxAttempts.
type Sender struct {
	domain      string
	remote      Remote
	bus         *bus.Bus
	logger      *zap.Logger
	interval    time.Duration
	maxAttempts int
	cancel      context.CancelFunc

	mu    sync.Mutex
	queue []*Command
	drain sync.Mutex
}

// NewSender creates an outbox sender for one domain.
func NewSender(domain string, remote Remote, b *bus.Bus, opts Options, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Interval == 0 {
		opts.Interval = 500 * time.Millisecond
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 5
	}
	return &Sender{
		domain:      domain,
		remote:      remote,
		bus:         b,
		logger:      logger.With(zap.String("domain", domain)),
		interval:    opts.Interval,
		maxAttempts: opts.MaxAttempts,
	}
}

// Enqueue queues a command and returns its client id.
func (s *Sender) Enqueue(cmd Command) (string, error) {
	switch cmd.Op {
	case OpSend:
		if cmd.ConversationID == "" {
			return "", errors.New("send needs a conversation")
		}
	case OpReply:
		if cmd.ConversationID == "" || cmd.ReplyFor == "" {
			return "", errors.New("reply needs a conversation and a target message")
		}
	case OpEdit, OpDelete:
		if cmd.MessageID == "" {
			return "", fmt.Errorf("%s needs a message id", cmd.Op)
		}
	default:
		return "", fmt.Errorf("unknown outbox op %q", cmd.Op)
	}
	if cmd.ClientID == "" {
		cmd.ClientID = uuid.NewString()
	}
	cmd.Attempts = 0
	cmd.QueuedAt = time.Now()

	s.mu.Lock()
	s.queue = append(s.queue, &cmd)
	n := len(s.queue)
	s.mu.Unlock()
	metrics.OutboxPending.WithLabelValues(s.domain).Set(float64(n))
	return cmd.ClientID, nil
}

// Pending returns a copy of the queued commands in delivery order.
func (s *Sender) Pending() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Command, len(s.queue))
	for i, c := range s.queue {
		out[i] = *c
	}
	return out
}

// Start begins draining the queue.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop. Queued commands are kept.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) head() *Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	return s.queue[0]
}

func (s *Sender) pop() {
	s.mu.Lock()
	s.queue = s.queue[1:]
	n := len(s.queue)
	s.mu.Unlock()
	metrics.OutboxPending.WithLabelValues(s.domain).Set(float64(n))
}

// processPending delivers commands front to back and stops at the first
// one that fails, so later commands never overtake earlier ones.
func (s *Sender) processPending(ctx context.Context) {
	s.drain.Lock()
	defer s.drain.Unlock()

	for {
		if ctx.Err() != nil || !s.remote.Connected() {
			return
		}
		cmd := s.head()
		if cmd == nil {
			return
		}

		err := s.dispatch(ctx, cmd)
		if err == nil {
			s.pop()
			metrics.OutboxSent.WithLabelValues(s.domain, "ack").Inc()
			s.logger.Info("outbox command delivered", zap.String("client_id", cmd.ClientID), zap.String("op", string(cmd.Op)))
			s.bus.Emit(bus.KindSendAck, s.domain, s.result(cmd, ""))
			continue
		}
		if errors.Is(err, conn.ErrNotConnected) {
			return
		}

		s.mu.Lock()
		cmd.Attempts++
		cmd.LastError = err.Error()
		attempts := cmd.Attempts
		s.mu.Unlock()

		if attempts < s.maxAttempts {
			s.logger.Warn("outbox command failed, will retry",
				zap.String("client_id", cmd.ClientID),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
			return
		}
		s.pop()
		metrics.OutboxSent.WithLabelValues(s.domain, "failed").Inc()
		s.logger.Error("outbox command abandoned",
			zap.String("client_id", cmd.ClientID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		s.bus.Emit(bus.KindSendFailed, s.domain, s.result(cmd, err.Error()))
	}
}

func (s *Sender) dispatch(ctx context.Context, cmd *Command) error {
	switch cmd.Op {
	case OpSend:
		return s.remote.SendMessage(ctx, wire.OutgoingMessage{
			ConversationID: cmd.ConversationID,
			Content:        cmd.Content,
			ClientID:       cmd.ClientID,
		})
	case OpReply:
		return s.remote.ReplyToMessage(ctx, wire.OutgoingMessage{
			ConversationID: cmd.ConversationID,
			Content:        cmd.Content,
			ReplyFor:       cmd.ReplyFor,
			ClientID:       cmd.ClientID,
		})
	case OpEdit:
		return s.remote.EditMessage(ctx, cmd.MessageID, cmd.Content)
	case OpDelete:
		return s.remote.DeleteMessage(ctx, cmd.MessageID, cmd.Hard)
	}
	return fmt.Errorf("unknown outbox op %q", cmd.Op)
}

func (s *Sender) result(cmd *Command, errMsg string) Result {
	return Result{
		ClientID:       cmd.ClientID,
		Op:             cmd.Op,
		ConversationID: cmd.ConversationID,
		MessageID:      cmd.MessageID,
		Error:          errMsg,
	}
}
