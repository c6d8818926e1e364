package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to a voxelpipe server.
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

func call[Resp any](c *Client, method string, req any) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(ServiceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the server status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{})
}

// Request records a new job.
func (c *Client) Request(req RequestJobRequest) (*RequestJobResponse, error) {
	return call[RequestJobResponse](c, "Request", req)
}

// List returns jobs optionally filtered by statuses.
func (c *Client) List(statuses []string) (*ListResponse, error) {
	return call[ListResponse](c, "List", ListRequest{Statuses: statuses})
}

// Show returns a job with its events.
func (c *Client) Show(uuid string) (*ShowResponse, error) {
	return call[ShowResponse](c, "Show", ShowRequest{UUID: uuid})
}

// Kill terminates a job.
func (c *Client) Kill(uuid string) (*KillResponse, error) {
	return call[KillResponse](c, "Kill", KillRequest{UUID: uuid})
}

// Release queues a held job.
func (c *Client) Release(uuid string) (*ReleaseResponse, error) {
	return call[ReleaseResponse](c, "Release", ReleaseRequest{UUID: uuid})
}

// Delete removes a held or finished job.
func (c *Client) Delete(uuid string) (*DeleteResponse, error) {
	return call[DeleteResponse](c, "Delete", DeleteRequest{UUID: uuid})
}

// Modules lists registered modules.
func (c *Client) Modules(group string) (*ModulesResponse, error) {
	return call[ModulesResponse](c, "Modules", ModulesRequest{Group: group})
}

// Objects lists the objects a job reported.
func (c *Client) Objects(req ObjectsRequest) (*ObjectsResponse, error) {
	return call[ObjectsResponse](c, "Objects", req)
}
