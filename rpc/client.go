package rpc

import (
	"context"
	"fmt"

	"explorviz/core"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// jsonCall selects the JSON codec; the health service keeps protobuf.
var jsonCall = grpc.CallContentSubtype(CodecName)

// Client calls the persistence services of a running server.
type Client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// Dial creates a plaintext client for addr. The connection is established
// lazily on the first call.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn, health: healthpb.NewHealthClient(conn)}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) PersistSpan(ctx context.Context, span core.Span) error {
	return c.conn.Invoke(ctx, PersistSpanMethod, &span, &Empty{}, jsonCall)
}

func (c *Client) RequestStateData(ctx context.Context, req core.StateDataRequest) (*core.StateData, error) {
	out := new(core.StateData)
	if err := c.conn.Invoke(ctx, RequestStateDataMethod, &req, out, jsonCall); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PersistCommit(ctx context.Context, commit core.Commit) error {
	return c.conn.Invoke(ctx, PersistCommitMethod, &commit, &Empty{}, jsonCall)
}

func (c *Client) PersistFile(ctx context.Context, data core.FileData) error {
	return c.conn.Invoke(ctx, PersistFileDataMethod, &data, &Empty{}, jsonCall)
}

func (c *Client) SendCommitReport(ctx context.Context, report core.CommitReport) error {
	return c.conn.Invoke(ctx, SendCommitReportMethod, &report, &Empty{}, jsonCall)
}

// HealthStatus queries the health service for service ("" for the server).
func (c *Client) HealthStatus(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}
