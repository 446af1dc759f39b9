package admin

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client calls the admin service over an existing connection.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Dial opens an insecure connection to an admin server at target. The
// returned close function releases it.
func Dial(target string) (*Client, func() error, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	return NewClient(conn), conn.Close, nil
}

// Evict invalidates key in every process sharing the namespace.
func (c *Client) Evict(ctx context.Context, key string) (*EvictResponse, error) {
	resp := new(EvictResponse)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Evict", &EvictRequest{Key: key}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Lookup reports the server's local state for key.
func (c *Client) Lookup(ctx context.Context, key string) (*LookupResponse, error) {
	resp := new(LookupResponse)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Lookup", &LookupRequest{Key: key}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Reconcile runs one reconciliation cycle on the server.
func (c *Client) Reconcile(ctx context.Context) (*ReconcileResponse, error) {
	resp := new(ReconcileResponse)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Reconcile", &ReconcileRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Sweep runs one expiry sweep on the server.
func (c *Client) Sweep(ctx context.Context) (*SweepResponse, error) {
	resp := new(SweepResponse)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Sweep", &SweepRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
