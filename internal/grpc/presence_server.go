package grpc

import (
	"context"
	"errors"

	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"inbox-service/internal/adapters"
	"inbox-service/internal/repositories"
)

type presenceService interface {
	GetPresence(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// PresenceServer exposes a presence source to other services.
type PresenceServer struct {
	source adapters.PresenceSource
}

func NewPresenceServer(source adapters.PresenceSource) *PresenceServer {
	return &PresenceServer{source: source}
}

func (s *PresenceServer) GetPresence(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID := req.GetFields()["user_id"].GetStringValue()
	if userID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}
	rec, err := s.source.GetPresence(ctx, userID)
	if errors.Is(err, repositories.ErrPresenceNotFound) {
		return nil, status.Error(codes.NotFound, "presence not found")
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return encodePresence(rec)
}

// RegisterPresenceServer adds the presence service to server.
func RegisterPresenceServer(server grpclib.ServiceRegistrar, srv *PresenceServer) {
	server.RegisterService(&presenceServiceDesc, srv)
}

var presenceServiceDesc = grpclib.ServiceDesc{
	ServiceName: presenceServiceName,
	HandlerType: (*presenceService)(nil),
	Methods: []grpclib.MethodDesc{
		{
			MethodName: "GetPresence",
			Handler:    getPresenceHandler,
		},
	},
	Streams:  []grpclib.StreamDesc{},
	Metadata: "inbox/presence/v1/presence.proto",
}

func getPresenceHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpclib.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(presenceService).GetPresence(ctx, in)
	}
	info := &grpclib.UnaryServerInfo{
		Server:     srv,
		FullMethod: presenceGetMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(presenceService).GetPresence(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
