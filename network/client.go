package network

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Client holds the gRPC control connection to the node. Only the standard
// health service is used; it reports whether the node's RPC surface accepts
// calls.
type Client struct {
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	service string
}

// Dial initialises a control client against target using an insecure
// transport unless opts override it. The returned client must be closed by
// the caller.
func Dial(ctx context.Context, target, service string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts,
		grpc.WithChainUnaryInterceptor(otelgrpc.UnaryClientInterceptor()),
		grpc.WithChainStreamInterceptor(otelgrpc.StreamClientInterceptor()),
	)
	conn, err := grpc.DialContext(ctx, target, opts...)
	if err != nil {
		return nil, fmt.Errorf("network: dial %s: %w", target, err)
	}
	return NewClient(conn, service), nil
}

// NewClient wraps an existing gRPC connection.
func NewClient(conn *grpc.ClientConn, service string) *Client {
	return &Client{
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		service: service,
	}
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// ControlReady reports whether the node's control channel is serving.
func (c *Client) ControlReady(ctx context.Context) (bool, error) {
	if c == nil || c.health == nil {
		return false, fmt.Errorf("network: client not connected")
	}
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: c.service})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}
