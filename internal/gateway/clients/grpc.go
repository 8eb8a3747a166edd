package clients

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	commissionrpc "partnerhub/internal/services/commissions/rpc"
)

type GRPCClients struct {
	Commissions    *commissionrpc.CommissionClient
	commissionConn *grpc.ClientConn
}

func NewGRPCClients(commissionAddr string) (*GRPCClients, error) {
	commissionConn, err := grpc.NewClient(commissionAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("commission service connection failed: %v", err)
	}

	return &GRPCClients{
		Commissions:    commissionrpc.NewCommissionClient(commissionConn),
		commissionConn: commissionConn,
	}, nil
}

func (c *GRPCClients) Close() {
	if c.commissionConn != nil {
		c.commissionConn.Close()
	}
}
