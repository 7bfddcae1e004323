package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Brownout.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RequestShutdown arms the shutdown countdown.
func (c *Client) RequestShutdown(reason string) (*ShutdownResponse, error) {
	var resp ShutdownResponse
	if err := c.client.Call("Brownout.RequestShutdown", ShutdownRequest{Reason: reason}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelShutdown aborts an armed countdown.
func (c *Client) CancelShutdown() (*CancelResponse, error) {
	var resp CancelResponse
	if err := c.client.Call("Brownout.CancelShutdown", CancelRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register adds a dependent service and returns its ack token.
func (c *Client) Register(service string) (*RegisterResponse, error) {
	var resp RegisterResponse
	if err := c.client.Call("Brownout.Register", RegisterRequest{Service: service}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Unregister removes a dependent service.
func (c *Client) Unregister(token string) error {
	var resp UnregisterResponse
	return c.client.Call("Brownout.Unregister", UnregisterRequest{Token: token}, &resp)
}

// Ack records a shutdown acknowledgement.
func (c *Client) Ack(token string) error {
	var resp AckResponse
	return c.client.Call("Brownout.Ack", AckRequest{Token: token}, &resp)
}

// AwaitNotice long-polls for a shutdown notice.
func (c *Client) AwaitNotice(token string, wait time.Duration) (*AwaitNoticeResponse, error) {
	var resp AwaitNoticeResponse
	req := AwaitNoticeRequest{Token: token, WaitMillis: int(wait / time.Millisecond)}
	if err := c.client.Call("Brownout.AwaitNotice", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events fetches recent journal entries, newest first.
func (c *Client) Events(limit int) (*EventsResponse, error) {
	var resp EventsResponse
	if err := c.client.Call("Brownout.Events", EventsRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JournalHealth retrieves journal diagnostics.
func (c *Client) JournalHealth() (*JournalHealthResponse, error) {
	var resp JournalHealthResponse
	if err := c.client.Call("Brownout.JournalHealth", JournalHealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Brownout.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
