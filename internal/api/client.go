package api

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client talks to a running daemon over its unix socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon listening on socketPath.
func Dial(socketPath string) (*Client, error) {
	cc, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, err
	}
	return &Client{conn: cc}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) GetStatus(ctx context.Context) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodGetStatus, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListChats(ctx context.Context, domain string) (*structpb.Struct, error) {
	return c.call(ctx, MethodListChats, map[string]any{"domain": domain})
}

func (c *Client) ListMessages(ctx context.Context, domain, conversationID string, limit int) (*structpb.Struct, error) {
	return c.call(ctx, MethodListMessages, map[string]any{
		"domain":          domain,
		"conversation_id": conversationID,
		"limit":           limit,
	})
}

func (c *Client) LoadOlder(ctx context.Context, domain, conversationID string) (*structpb.Struct, error) {
	return c.call(ctx, MethodLoadOlder, map[string]any{"domain": domain, "conversation_id": conversationID})
}

func (c *Client) Refresh(ctx context.Context, domain string) (*structpb.Struct, error) {
	return c.call(ctx, MethodRefresh, map[string]any{"domain": domain})
}

func (c *Client) SendMessage(ctx context.Context, domain, conversationID, content, replyFor string) (*structpb.Struct, error) {
	return c.call(ctx, MethodSendMessage, map[string]any{
		"domain":          domain,
		"conversation_id": conversationID,
		"content":         content,
		"reply_for":       replyFor,
	})
}

// Watch streams bus events whose kind starts with namespace until ctx ends
// or fn returns an error. An empty domain matches every domain.
func (c *Client) Watch(ctx context.Context, namespace, domain string, fn func(*structpb.Struct) error) error {
	req, err := structpb.NewStruct(map[string]any{"namespace": namespace, "domain": domain})
	if err != nil {
		return err
	}
	stream, err := c.conn.NewStream(ctx, &InspectServiceDesc.Streams[0], MethodWatchEvents)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		evt := new(structpb.Struct)
		if err := stream.RecvMsg(evt); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}

// Health reports the serving status of service ("" for the daemon as a whole).
func (c *Client) Health(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

func (c *Client) call(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}
