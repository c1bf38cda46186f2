package api

import (
	"context"
	"slices"
	"time"

	"github.com/matheus3301/chatsync/internal/attach"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/conn"
	"github.com/matheus3301/chatsync/internal/history"
	"github.com/matheus3301/chatsync/internal/outbox"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Domain groups the components serving one chat domain. Pager and Outbox may be nil.
type Domain struct {
	Manager *conn.Manager
	Pager   *history.Pager
	Outbox  *outbox.Sender
}

// Service implements InspectServer over the daemon's live components.
type Service struct {
	profile   string
	startedAt time.Time
	domains   []Domain
	cache     *attach.Cache
	avatars   *attach.Avatars
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewService creates the inspect service. cache and avatars may be nil.
func NewService(profile string, cache *attach.Cache, avatars *attach.Avatars, b *bus.Bus, logger *zap.Logger, domains ...Domain) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		profile:   profile,
		startedAt: time.Now(),
		domains:   domains,
		cache:     cache,
		avatars:   avatars,
		bus:       b,
		logger:    logger,
	}
}

func (s *Service) domain(name string) (Domain, error) {
	if name == "" {
		return Domain{}, grpcstatus.Error(codes.InvalidArgument, "domain is required")
	}
	i := slices.IndexFunc(s.domains, func(d Domain) bool { return d.Manager.Domain() == name })
	if i < 0 {
		return Domain{}, grpcstatus.Errorf(codes.NotFound, "domain %q not served", name)
	}
	return s.domains[i], nil
}

// selected returns the named domain, or every domain when name is empty.
func (s *Service) selected(name string) ([]Domain, error) {
	if name == "" {
		return s.domains, nil
	}
	d, err := s.domain(name)
	if err != nil {
		return nil, err
	}
	return []Domain{d}, nil
}

func (s *Service) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	domains := make([]any, 0, len(s.domains))
	for _, d := range s.domains {
		domains = append(domains, domainStatus(d))
	}
	out := map[string]any{
		"profile":     s.profile,
		"uptime_ms":   time.Since(s.startedAt).Milliseconds(),
		"domains":     domains,
		"bus_dropped": s.bus.Dropped(),
	}
	if s.cache != nil {
		out["cache"] = cacheStats(s.cache.Stats())
	}
	if s.avatars != nil {
		out["avatars"] = s.avatars.Len()
	}
	return toStruct(out)
}

func (s *Service) ListChats(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	domains, err := s.selected(field(req, "domain"))
	if err != nil {
		return nil, err
	}
	var chats []any
	for _, d := range domains {
		for _, c := range d.Manager.Chats() {
			chats = append(chats, chatValue(c, s.avatars))
		}
	}
	return toStruct(map[string]any{"chats": chats})
}

func (s *Service) ListMessages(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d, err := s.domain(field(req, "domain"))
	if err != nil {
		return nil, err
	}
	convID := field(req, "conversation_id")
	if convID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversation_id is required")
	}

	msgs := d.Manager.Messages(convID)
	if limit := int(number(req, "limit")); limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	values := make([]any, 0, len(msgs))
	for _, m := range msgs {
		values = append(values, messageValue(m, s.avatars))
	}
	return toStruct(map[string]any{"messages": values})
}

func (s *Service) LoadOlder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d, err := s.domain(field(req, "domain"))
	if err != nil {
		return nil, err
	}
	convID := field(req, "conversation_id")
	if convID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversation_id is required")
	}
	if d.Pager == nil {
		return nil, grpcstatus.Error(codes.Unimplemented, "history paging not enabled")
	}
	if !d.Manager.Connected() {
		return nil, grpcstatus.Error(codes.FailedPrecondition, "domain not connected")
	}

	added := d.Pager.LoadOlder(ctx, convID)
	return toStruct(map[string]any{
		"added":      len(added),
		"all_loaded": d.Pager.AllLoaded(convID),
	})
}

func (s *Service) Refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	domains, err := s.selected(field(req, "domain"))
	if err != nil {
		return nil, err
	}
	results := make([]any, 0, len(domains))
	for _, d := range domains {
		d.Manager.RefreshChats(ctx)
		results = append(results, map[string]any{
			"domain": d.Manager.Domain(),
			"chats":  len(d.Manager.Chats()),
			"error":  d.Manager.Error(),
		})
	}
	return toStruct(map[string]any{"domains": results})
}

func (s *Service) SendMessage(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d, err := s.domain(field(req, "domain"))
	if err != nil {
		return nil, err
	}
	if d.Outbox == nil {
		return nil, grpcstatus.Error(codes.Unimplemented, "outbox not enabled")
	}
	cmd := outbox.Command{
		Op:             outbox.OpSend,
		ConversationID: field(req, "conversation_id"),
		Content:        field(req, "content"),
		ReplyFor:       field(req, "reply_for"),
	}
	if cmd.ReplyFor != "" {
		cmd.Op = outbox.OpReply
	}
	id, err := d.Outbox.Enqueue(cmd)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "enqueue: %v", err)
	}
	s.logger.Info("message queued", zap.String("domain", d.Manager.Domain()), zap.String("client_id", id))
	return toStruct(map[string]any{"client_id": id})
}

func (s *Service) WatchEvents(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ch, unsub := s.bus.Subscribe(field(req, "namespace"), 256)
	defer unsub()

	domain := field(req, "domain")
	for {
		select {
		case evt := <-ch:
			if domain != "" && evt.Domain != domain {
				continue
			}
			msg, err := toStruct(eventValue(evt))
			if err != nil {
				s.logger.Warn("event not encodable", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}
