// Package rpc exposes the commission ledger over gRPC so an external scheduler can
// trigger releases. Messages are google.protobuf.Struct documents carrying the same JSON
// the HTTP gateway returns.
package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"partnerhub/internal/services/commissions/handler"
)

const ServiceName = "partnerhub.commissions.v1.CommissionService"

const (
	releaseReadyMethod      = "/" + ServiceName + "/ReleaseReady"
	processReleasesMethod   = "/" + ServiceName + "/ProcessReleases"
	computeCommissionMethod = "/" + ServiceName + "/ComputeCommission"
)

// Ledger is the part of the commission handler served over gRPC.
type Ledger interface {
	ReleaseReady(ctx context.Context) (*handler.ReleaseStatus, error)
	ProcessReleases(ctx context.Context) (*handler.ReleaseResult, error)
	ComputeCommission(ctx context.Context, appointmentID string) (*handler.ComputeResult, error)
}

type CommissionServiceServer interface {
	ReleaseReady(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ProcessReleases(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ComputeCommission(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type Server struct {
	ledger Ledger
}

func NewServer(ledger Ledger) *Server {
	return &Server{ledger: ledger}
}

func Register(s grpc.ServiceRegistrar, srv CommissionServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func (s *Server) ReleaseReady(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st, err := s.ledger.ReleaseReady(ctx)
	if err != nil {
		return nil, err
	}
	return ToStruct(st)
}

func (s *Server) ProcessReleases(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.ledger.ProcessReleases(ctx)
	if err != nil {
		return nil, err
	}
	return ToStruct(res)
}

func (s *Server) ComputeCommission(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["appointment_id"].GetStringValue()
	if id == "" {
		return nil, status.Errorf(codes.InvalidArgument, "appointment_id is required")
	}
	res, err := s.ledger.ComputeCommission(ctx, id)
	if err != nil {
		return nil, err
	}
	return ToStruct(res)
}

// ToStruct converts a JSON-tagged value into a Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// FromStruct decodes a Struct into a JSON-tagged value.
func FromStruct(s *structpb.Struct, v any) error {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// UnaryLogging logs every call with its duration and status code.
func UnaryLogging(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		level := slog.LevelInfo
		if err != nil {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "grpc call",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start))
		return resp, err
	}
}

func releaseReadyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommissionServiceServer).ReleaseReady(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: releaseReadyMethod}
	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CommissionServiceServer).ReleaseReady(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, h)
}

func processReleasesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommissionServiceServer).ProcessReleases(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: processReleasesMethod}
	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CommissionServiceServer).ProcessReleases(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, h)
}

func computeCommissionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommissionServiceServer).ComputeCommission(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: computeCommissionMethod}
	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CommissionServiceServer).ComputeCommission(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, h)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CommissionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ReleaseReady", Handler: releaseReadyHandler},
		{MethodName: "ProcessReleases", Handler: processReleasesHandler},
		{MethodName: "ComputeCommission", Handler: computeCommissionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "partnerhub/commissions/v1/commission.proto",
}
