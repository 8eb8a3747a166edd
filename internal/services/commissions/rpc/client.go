package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"partnerhub/internal/services/commissions/handler"
)

type CommissionClient struct {
	cc grpc.ClientConnInterface
}

func NewCommissionClient(cc grpc.ClientConnInterface) *CommissionClient {
	return &CommissionClient{cc: cc}
}

func (c *CommissionClient) ReleaseReady(ctx context.Context, opts ...grpc.CallOption) (*handler.ReleaseStatus, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, releaseReadyMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	var st handler.ReleaseStatus
	if err := FromStruct(out, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *CommissionClient) ProcessReleases(ctx context.Context, opts ...grpc.CallOption) (*handler.ReleaseResult, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, processReleasesMethod, &structpb.Struct{}, out, opts...); err != nil {
		return nil, err
	}
	var res handler.ReleaseResult
	if err := FromStruct(out, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *CommissionClient) ComputeCommission(ctx context.Context, appointmentID string, opts ...grpc.CallOption) (*handler.ComputeResult, error) {
	in, err := structpb.NewStruct(map[string]any{"appointment_id": appointmentID})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, computeCommissionMethod, in, out, opts...); err != nil {
		return nil, err
	}
	var res handler.ComputeResult
	if err := FromStruct(out, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
