// Package queryclient is the thin synchronous client used by
// cmd/history to open one TCP connection per invocation, submit one
// RPC call, read the result, and disconnect (spec section 4.3/6).
package queryclient

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/basalt-labs/histd/pkg/histderr"
	"github.com/basalt-labs/histd/pkg/rpc"
	"github.com/basalt-labs/histd/pkg/types"
)

// defaultTimeout bounds each round trip, mirroring the
// context-plus-timeout shape of the teacher's pkg/client.Client calls.
const defaultTimeout = 5 * time.Second

// Client is a single TCP connection to the Query endpoint.
type Client struct {
	conn net.Conn
}

// Dial opens a connection to addr. The connection stays open for the
// lifetime of the Client; callers issue one or more calls and then
// Close.
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, defaultTimeout)
	if err != nil {
		return nil, histderr.IO(fmt.Sprintf("dial query server at %s", addr), err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Query submits a query RPC and returns the matching rows.
func (c *Client) Query(ctx context.Context, filter types.QueryFilter) ([]types.ResultRow, error) {
	req := rpc.QueryRequest{
		Host: filter.Host, HasHost: filter.HasHost,
		Command: filter.Command, HasCmd: filter.HasCmd, Exact: filter.Exact,
		InDir: filter.InDir, HasIn: filter.HasIn,
		AtDir: filter.AtDir, HasAt: filter.HasAt,
		Session: filter.Session, HasSession: filter.HasSession,
		Status: filter.Status, HasStatus: filter.HasStatus,
		Since: filter.Since, HasSince: filter.HasSince,
		Until: filter.Until, HasUntil: filter.HasUntil,
		Desc: filter.Desc, Limit: filter.Limit,
	}
	return c.roundTrip(ctx, rpc.OpQuery, req)
}

// ISearch submits an isearch RPC, one shot per keystroke. Per spec
// section 4.3, only Argv is populated on the returned rows.
func (c *Client) ISearch(ctx context.Context, filter types.ISearchFilter) ([]types.ResultRow, error) {
	req := rpc.ISearchRequest{
		Command: filter.Command, Dir: filter.Dir, Limit: filter.Limit, Offset: filter.Offset,
	}
	return c.roundTrip(ctx, rpc.OpISearch, req)
}

func (c *Client) roundTrip(ctx context.Context, op rpc.Opcode, req any) ([]types.ResultRow, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	} else {
		_ = c.conn.SetDeadline(time.Now().Add(defaultTimeout))
	}

	if err := rpc.WriteFrame(c.conn, op, req); err != nil {
		return nil, histderr.IO("write request frame", err)
	}

	_, payload, err := rpc.ReadFrame(c.conn)
	if err != nil {
		return nil, histderr.IO("read response frame", err)
	}

	var resp rpc.QueryResponse
	if err := rpc.DecodeBody(payload, &resp); err != nil {
		return nil, histderr.IO("decode response frame", err)
	}
	if resp.Error != nil {
		return nil, histderr.Other(fmt.Sprintf("%s: %s", resp.Error.Kind, resp.Error.Message), nil)
	}

	rows := make([]types.ResultRow, len(resp.Rows))
	for i, r := range resp.Rows {
		rows[i] = types.ResultRow{EndTime: r.EndTime, Session: r.Session, Argv: r.Argv, Dir: r.Dir, Host: r.Host}
	}
	return rows, nil
}
