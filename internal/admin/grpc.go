package admin

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"amplifi/internal/common"
)

const (
	ServiceName     = "amplifi.admin.v1.Admin"
	statsMethod     = "/" + ServiceName + "/Stats"
	healthCheck     = "/grpc.health.v1.Health/Check"
	healthWatch     = "/grpc.health.v1.Health/Watch"
	healthListCalls = "/grpc.health.v1.Health/List"
)

// StatsServer is the server API for the admin service.
type StatsServer interface {
	Stats(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
}

type grpcServer struct {
	service *Service
}

func (g *grpcServer) Stats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s, err := g.service.Stats(ctx)
	if err != nil {
		return nil, common.GRPCStatus(err)
	}
	out, err := structpb.NewStruct(map[string]interface{}{
		"users":       s.Users,
		"posts":       s.Posts,
		"liveStreams": s.LiveStreams,
		"orders":      s.Orders,
		"tipVolume":   s.TipVolume,
	})
	if err != nil {
		return nil, common.GRPCStatus(err)
	}
	return out, nil
}

func statsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatsServer).Stats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: statsMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StatsServer).Stats(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StatsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Stats", Handler: statsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "amplifi/admin/v1/admin.proto",
}

// NewGRPCServer builds the admin gRPC server. Health checks are public, every
// other method needs an admin token.
func NewGRPCServer(service *Service, tokens *common.TokenManager) *grpc.Server {
	public := map[string]bool{
		healthCheck:     true,
		healthWatch:     true,
		healthListCalls: true,
	}
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(
		loggingUnaryInterceptor,
		common.AuthInterceptor(tokens, public, true),
	))
	s.RegisterService(&serviceDesc, &grpcServer{service: service})

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	reflection.Register(s)
	return s
}

func loggingUnaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	log := common.Log.WithField("method", info.FullMethod).WithField("duration", time.Since(start))
	if err != nil {
		log.WithError(err).Warn("gRPC call failed")
	} else {
		log.Debug("gRPC call completed")
	}
	return resp, err
}

// Serve runs s on lis until it is stopped.
func Serve(s *grpc.Server, lis net.Listener) {
	common.Log.WithField("addr", lis.Addr().String()).Info("Admin gRPC server listening")
	if err := s.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		common.Log.WithError(err).Error("Admin gRPC server stopped")
	}
}
