// Package api exposes the daemon over gRPC on the profile's unix socket.
//
// Messages are google.protobuf.Struct documents, so the service is declared
// here by hand instead of from generated stubs.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "chatsync.v1.Inspect"

// Full method names.
const (
	MethodGetStatus    = "/" + ServiceName + "/GetStatus"
	MethodListChats    = "/" + ServiceName + "/ListChats"
	MethodListMessages = "/" + ServiceName + "/ListMessages"
	MethodLoadOlder    = "/" + ServiceName + "/LoadOlder"
	MethodRefresh      = "/" + ServiceName + "/Refresh"
	MethodSendMessage  = "/" + ServiceName + "/SendMessage"
	MethodWatchEvents  = "/" + ServiceName + "/WatchEvents"
)

// InspectServer is the server side of chatsync.v1.Inspect.
type InspectServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListChats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LoadOlder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Refresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterInspectServer registers srv on s.
func RegisterInspectServer(s grpc.ServiceRegistrar, srv InspectServer) {
	s.RegisterService(&InspectServiceDesc, srv)
}

// InspectServiceDesc describes chatsync.v1.Inspect.
var InspectServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InspectServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: getStatusHandler},
		{MethodName: "ListChats", Handler: structHandler(MethodListChats, InspectServer.ListChats)},
		{MethodName: "ListMessages", Handler: structHandler(MethodListMessages, InspectServer.ListMessages)},
		{MethodName: "LoadOlder", Handler: structHandler(MethodLoadOlder, InspectServer.LoadOlder)},
		{MethodName: "Refresh", Handler: structHandler(MethodRefresh, InspectServer.Refresh)},
		{MethodName: "SendMessage", Handler: structHandler(MethodSendMessage, InspectServer.SendMessage)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchEvents", Handler: watchEventsHandler, ServerStreams: true},
	},
	Metadata: "chatsync/v1/inspect.proto",
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InspectServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetStatus}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InspectServer).GetStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

type structMethod func(InspectServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func structHandler(fullMethod string, call structMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(InspectServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(InspectServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(InspectServer).WatchEvents(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}
